// Package status defines the canonical build-status record that every feed
// parser produces and every aggregator consumes. It is the in-memory shape of
// one poll, independent of the upstream wire format.
package status
