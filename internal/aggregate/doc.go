// Package aggregate derives group-level health from the recorded histories
// of the member projects, including when and since which build a group has
// been red.
//
// Recency is always status ID order. published_at is used only for the
// times reported to users, since feeds may omit or reuse it.
package aggregate
