package tree

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cimonitor/cimonitor/internal/status"
)

// StatusFunc fetches the current status of one build type. It reports
// problems through Status.Error instead of returning an error.
type StatusFunc func(ctx context.Context, buildID string) status.Status

// ManifestFunc fetches the snapshot dependency ids of one build type.
type ManifestFunc func(ctx context.Context, buildID string) ([]string, error)

// Node is one build type in a dependency tree. Its own status and its
// children are each fetched at most once, on first use, even when the node
// is queried from several goroutines.
type Node struct {
	BuildID string

	fetchStatus   StatusFunc
	fetchManifest ManifestFunc

	// path holds the ids of this node and its ancestors.
	path map[string]struct{}

	statusOnce sync.Once
	status     status.Status

	childrenOnce sync.Once
	children     []*Node
	manifestErr  error
}

// New returns the root node of the tree for buildID.
func New(buildID string, statusFn StatusFunc, manifestFn ManifestFunc) *Node {
	return &Node{
		BuildID:       buildID,
		fetchStatus:   statusFn,
		fetchManifest: manifestFn,
		path:          map[string]struct{}{buildID: {}},
	}
}

func (n *Node) child(id string) *Node {
	path := make(map[string]struct{}, len(n.path)+1)
	for k := range n.path {
		path[k] = struct{}{}
	}
	path[id] = struct{}{}
	return &Node{
		BuildID:       id,
		fetchStatus:   n.fetchStatus,
		fetchManifest: n.fetchManifest,
		path:          path,
	}
}

// Self returns the node's own status, without its dependencies. A node
// whose dependency list cannot be read is reported offline.
func (n *Node) Self(ctx context.Context) status.Status {
	n.statusOnce.Do(func() {
		n.status = n.fetchStatus(ctx, n.BuildID)
	})
	st := n.status
	n.Children(ctx)
	if n.manifestErr != nil {
		st.Online = false
		if st.Error == "" {
			st.Error = n.manifestErr.Error()
		}
	}
	return st
}

// Children returns the dependency nodes in manifest order. A dependency that
// is already an ancestor is dropped.
func (n *Node) Children(ctx context.Context) []*Node {
	n.childrenOnce.Do(func() {
		ids, err := n.fetchManifest(ctx, n.BuildID)
		if err != nil {
			n.manifestErr = fmt.Errorf("dependencies of %s: %w", n.BuildID, err)
			return
		}
		for _, id := range ids {
			if _, seen := n.path[id]; seen {
				continue
			}
			n.children = append(n.children, n.child(id))
		}
	})
	return n.children
}

// Online reports whether the node and every descendant are online.
func (n *Node) Online(ctx context.Context) bool {
	if !n.Self(ctx).Online {
		return false
	}
	for _, c := range n.Children(ctx) {
		if !c.Online(ctx) {
			return false
		}
	}
	return true
}

// Success reports whether the node and every descendant are green.
func (n *Node) Success(ctx context.Context) bool {
	if !n.Self(ctx).Green() {
		return false
	}
	for _, c := range n.Children(ctx) {
		if !c.Success(ctx) {
			return false
		}
	}
	return true
}

// Red reports whether the node's own status is not green or any descendant
// is red. A green parent does not mask a broken dependency.
func (n *Node) Red(ctx context.Context) bool {
	if !n.Self(ctx).Green() {
		return true
	}
	for _, c := range n.Children(ctx) {
		if c.Red(ctx) {
			return true
		}
	}
	return false
}

// Green is the negation of Red.
func (n *Node) Green(ctx context.Context) bool { return !n.Red(ctx) }

// Building reports whether any node in the subtree is building, online or
// not.
func (n *Node) Building(ctx context.Context) bool {
	if n.Self(ctx).Building {
		return true
	}
	for _, c := range n.Children(ctx) {
		if c.Building(ctx) {
			return true
		}
	}
	return false
}

// Resolve fetches every status and manifest in the tree, level by level,
// with at most limit fetches in flight. After Resolve returns the predicates
// no longer touch the network.
func (n *Node) Resolve(ctx context.Context, limit int) {
	if limit <= 0 {
		limit = 1
	}
	level := []*Node{n}
	for len(level) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		for _, node := range level {
			node := node
			g.Go(func() error {
				node.Self(gctx)
				return nil
			})
		}
		_ = g.Wait()

		var next []*Node
		for _, node := range level {
			next = append(next, node.Children(ctx)...)
		}
		level = next
	}
}

// View is the JSON shape of a resolved tree.
type View struct {
	BuildID  string        `json:"build_id"`
	Status   status.Status `json:"status"`
	Online   bool          `json:"online"`
	Success  bool          `json:"success"`
	Red      bool          `json:"red"`
	Building bool          `json:"building"`
	Children []View        `json:"children"`
}

// View renders the subtree rooted at n.
func (n *Node) View(ctx context.Context) View {
	v := View{
		BuildID:  n.BuildID,
		Status:   n.Self(ctx),
		Online:   n.Online(ctx),
		Success:  n.Success(ctx),
		Red:      n.Red(ctx),
		Building: n.Building(ctx),
		Children: []View{},
	}
	for _, c := range n.Children(ctx) {
		v.Children = append(v.Children, c.View(ctx))
	}
	return v
}
