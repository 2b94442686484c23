// Package tree aggregates the health of a build and its snapshot
// dependencies.
//
// A Node fetches its own status and its dependency manifest lazily and at
// most once; Resolve prefetches a whole tree in parallel. The predicates
// combine a node with all of its descendants: a green node with a red
// dependency is red, and any building descendant makes the whole tree
// building.
package tree
