package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/cimonitor/cimonitor/internal/feed"
	"github.com/cimonitor/cimonitor/internal/metrics"
	"github.com/cimonitor/cimonitor/internal/retriever"
	"github.com/cimonitor/cimonitor/internal/status"
	"github.com/cimonitor/cimonitor/internal/store"
	"github.com/cimonitor/cimonitor/internal/tree"
)

// fallbackInterval is used for a project registered without a poll interval.
const fallbackInterval = time.Minute

// Result is the outcome of one project cycle.
type Result struct {
	ProjectID string
	Status    status.Status // the recorded status, or the unchanged last one
	Recorded  bool
	Err       error // store or registry failure; feed problems live in Status.Error
}

// Coordinator runs the poll cycle of individual projects: fetch, parse,
// record and reschedule. All exported methods are safe for concurrent use;
// writes to one project are serialized.
type Coordinator struct {
	history   store.History
	registry  store.Registry
	retriever retriever.Retriever
	treeLimit int
	now       func() time.Time // injectable for deterministic tests

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	treesMu sync.RWMutex
	trees   map[string]*tree.Node
}

// NewCoordinator returns a Coordinator. treeLimit bounds parallel fetches
// while resolving a dependency tree.
func NewCoordinator(h store.History, reg store.Registry, r retriever.Retriever, treeLimit int) *Coordinator {
	if treeLimit <= 0 {
		treeLimit = 1
	}
	return &Coordinator{
		history:   h,
		registry:  reg,
		retriever: r,
		treeLimit: treeLimit,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
		trees:     make(map[string]*tree.Node),
	}
}

// NeedsPoll reports whether p is due at now.
func NeedsPoll(p store.Project, now time.Time) bool {
	return !now.Before(p.NextPollAt)
}

// PollStatus fetches and parses p's feed. The last recorded status is passed
// to the parser for the no-timestamp rule. Retrieval failures come back as
// a status carrying only an error.
func (c *Coordinator) PollStatus(ctx context.Context, p store.Project) status.Status {
	prev, err := c.history.LastStatus(ctx, p.ID)
	if err != nil {
		slog.Warn("poller: read last status", "project", p.ID, "err", err)
		prev = nil
	}

	raw, err := c.retriever.Retrieve(ctx, p.FeedURL, p.Auth)
	if err != nil {
		metrics.RetrievalErrors.WithLabelValues("status").Inc()
		slog.Warn("poller: status fetch failed", "project", p.ID, "err", err)
		return status.Failed(p.ID, fmt.Sprintf("project %s: %v", p.ID, err))
	}

	if p.Format == feed.TeamCityBuild {
		st := feed.ParseUnstamped(p.Format, raw)
		if st.Error != "" {
			slog.Warn("poller: feed not parseable", "project", p.ID, "err", st.Error)
			return st.WithProject(p.ID)
		}
		return c.resolveTree(ctx, p, st, prev).WithProject(p.ID)
	}

	st := feed.Parse(p.Format, raw, prev, c.now())
	if st.Error != "" {
		slog.Warn("poller: feed not parseable", "project", p.ID, "err", st.Error)
	}
	return st.WithProject(p.ID)
}

// resolveTree replaces the root build's health with that of its whole
// dependency tree and keeps the tree for the dashboard. root comes without
// a timestamp if its feed had none; the timestamp rule is then applied to
// the composite, which is what prev recorded.
func (c *Coordinator) resolveTree(ctx context.Context, p store.Project, root status.Status, prev *status.Status) status.Status {
	timer := prometheus.NewTimer(metrics.FetchDuration.WithLabelValues("tree"))
	defer timer.ObserveDuration()

	now := c.now()
	rootID := feed.TeamCityBuildID(p.FeedURL)
	children := tree.TeamCityStatus(c.retriever, p.FeedURL, p.Auth, c.now)
	node := tree.New(rootID,
		func(ctx context.Context, id string) status.Status {
			if id == rootID {
				return feed.Stamp(root, nil, now)
			}
			return children(ctx, id)
		},
		tree.TeamCityManifest(c.retriever, p.FeedURL, p.Auth))
	node.Resolve(ctx, c.treeLimit)

	c.treesMu.Lock()
	c.trees[p.ID] = node
	c.treesMu.Unlock()

	st := root
	st.Online = node.Online(ctx)
	st.Success = node.Success(ctx)
	st.Building = node.Building(ctx)
	if self := node.Self(ctx); st.Error == "" && self.Error != "" {
		st.Error = self.Error
	}
	return feed.Stamp(st, prev, now)
}

// PollBuildingStatus fetches p's building-status document. Only Building is
// meaningful in the result; a failed fetch yields not building.
func (c *Coordinator) PollBuildingStatus(ctx context.Context, p store.Project) status.Status {
	url := p.BuildStatusURL
	if url == "" {
		url = feed.BuildStatusURL(p.Format, p.FeedURL)
	}
	if url == "" {
		return status.Status{ProjectID: p.ID}
	}
	raw, err := c.retriever.Retrieve(ctx, url, p.Auth)
	if err != nil {
		metrics.RetrievalErrors.WithLabelValues("building").Inc()
		slog.Debug("poller: building status fetch failed", "project", p.ID, "err", err)
		return status.Status{ProjectID: p.ID, Error: err.Error()}
	}
	return status.Status{ProjectID: p.ID, Building: feed.ParseBuilding(p.Format, raw, p.FeedURL)}
}

// Apply records st for p unless it repeats the last status, then moves p's
// next poll to one interval after the later of now and the current clock,
// so a slow fetch never leaves it in the past. The reschedule happens even
// when the append fails.
func (c *Coordinator) Apply(ctx context.Context, p store.Project, st status.Status, now time.Time) (status.Status, bool, error) {
	mu := c.lockFor(p.ID)
	mu.Lock()
	defer mu.Unlock()

	if done := c.now(); done.After(now) {
		now = done
	}

	rec, written, err := c.history.AppendIfChanged(ctx, p.ID, st)
	if err != nil {
		err = fmt.Errorf("record status of %s: %w", p.ID, err)
		rec = st
	}

	interval := p.PollInterval
	if interval <= 0 {
		interval = fallbackInterval
	}
	if serr := c.registry.SetNextPollAt(ctx, p.ID, now.Add(interval)); serr != nil {
		err = errors.Join(err, fmt.Errorf("reschedule %s: %w", p.ID, serr))
	}
	return rec, written, err
}

// Cycle runs one full poll of p: both fetches concurrently, then a single
// Apply of the status with the building flag merged in. Apply is not
// cancelled with ctx so that a cancelled poll is still recorded and
// rescheduled.
func (c *Coordinator) Cycle(ctx context.Context, p store.Project, now time.Time) Result {
	var st, bst status.Status
	var g errgroup.Group
	g.Go(func() error {
		timer := prometheus.NewTimer(metrics.FetchDuration.WithLabelValues("status"))
		defer timer.ObserveDuration()
		st = guard(p.ID, "status", func() status.Status { return c.PollStatus(ctx, p) })
		return nil
	})
	g.Go(func() error {
		timer := prometheus.NewTimer(metrics.FetchDuration.WithLabelValues("building"))
		defer timer.ObserveDuration()
		bst = guard(p.ID, "building", func() status.Status { return c.PollBuildingStatus(ctx, p) })
		return nil
	})
	_ = g.Wait()

	// An error status carries only the error.
	if st.Error == "" {
		st = st.WithBuilding(st.Building || bst.Building)
	}

	rec, written, err := c.Apply(context.WithoutCancel(ctx), p, st, now)
	res := Result{ProjectID: p.ID, Status: rec, Recorded: written, Err: err}

	outcome := metrics.OutcomeUnchanged
	switch {
	case err != nil || st.Error != "":
		outcome = metrics.OutcomeError
	case written:
		outcome = metrics.OutcomeRecorded
	}
	metrics.PollsTotal.WithLabelValues(string(p.Format), outcome).Inc()
	metrics.ProjectRed.WithLabelValues(p.ID).Set(metrics.BoolValue(rec.Red()))

	if err != nil {
		slog.Error("poller: apply failed", "project", p.ID, "err", err)
	} else if written {
		slog.Info("poller: status recorded",
			"project", p.ID,
			"id", rec.ID,
			"online", rec.Online,
			"success", rec.Success,
			"building", rec.Building,
		)
	}
	return res
}

// Tree returns the last resolved dependency tree of a teamcity_build project.
func (c *Coordinator) Tree(projectID string) (*tree.Node, bool) {
	c.treesMu.RLock()
	defer c.treesMu.RUnlock()
	n, ok := c.trees[projectID]
	return n, ok
}

// Forget drops per-project state of a project removed from the registry.
func (c *Coordinator) Forget(projectID string) {
	c.treesMu.Lock()
	delete(c.trees, projectID)
	c.treesMu.Unlock()
	metrics.ProjectRed.DeleteLabelValues(projectID)
}

func (c *Coordinator) lockFor(projectID string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	mu, ok := c.locks[projectID]
	if !ok {
		mu = &sync.Mutex{}
		c.locks[projectID] = mu
	}
	return mu
}

// guard turns a panic in fetch into an error status.
func guard(projectID, kind string, fetch func() status.Status) (st status.Status) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.Inc()
			slog.Error("poller: fetch panicked", "project", projectID, "kind", kind, "panic", r)
			st = status.Failed(projectID, fmt.Sprintf("project %s: %s fetch panicked: %v", projectID, kind, r))
		}
	}()
	return fetch()
}
