package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/cimonitor/cimonitor/internal/metrics"
	"github.com/cimonitor/cimonitor/internal/status"
	"github.com/cimonitor/cimonitor/internal/store"
)

// Summary counts what one scheduler pass did.
type Summary struct {
	Due      int
	Recorded int
	Errored  int
	Panicked int
}

// Scheduler polls every due project on a fixed tick with bounded
// concurrency.
type Scheduler struct {
	coord    *Coordinator
	registry store.Registry
	workers  int
	interval time.Duration
	now      func() time.Time

	// OnPass, if set, is called after every pass run by Run.
	OnPass func(Summary)
}

// NewScheduler returns a Scheduler that runs at most workers project cycles
// at once and looks for due projects every interval.
func NewScheduler(coord *Coordinator, reg store.Registry, workers int, interval time.Duration) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{
		coord:    coord,
		registry: reg,
		workers:  workers,
		interval: interval,
		now:      time.Now,
	}
}

// PollDue runs a cycle for every project due at now and waits for all of
// them. A failing or panicking project never stops the others.
func (s *Scheduler) PollDue(ctx context.Context, now time.Time) Summary {
	timer := prometheus.NewTimer(metrics.PassDuration)
	defer timer.ObserveDuration()

	due, err := s.registry.Due(ctx, now)
	if err != nil {
		slog.Error("poller: list due projects", "err", err)
		return Summary{}
	}
	metrics.ProjectsDue.Set(float64(len(due)))

	var (
		mu  sync.Mutex
		sum = Summary{Due: len(due)}
	)
	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, p := range due {
		p := p
		g.Go(func() error {
			res, panicked := s.cycle(ctx, p, now)

			mu.Lock()
			defer mu.Unlock()
			if panicked {
				sum.Panicked++
			}
			if res.Recorded {
				sum.Recorded++
			}
			if res.Err != nil || res.Status.Error != "" {
				sum.Errored++
			}
			return nil
		})
	}
	_ = g.Wait()
	return sum
}

// cycle runs one project cycle. If it panics the project is still recorded
// as failed and rescheduled.
func (s *Scheduler) cycle(ctx context.Context, p store.Project, now time.Time) (res Result, panicked bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		panicked = true
		metrics.PanicsRecovered.Inc()
		slog.Error("poller: project cycle panicked", "project", p.ID, "panic", r)

		st := status.Failed(p.ID, fmt.Sprintf("project %s: poll panicked: %v", p.ID, r))
		rec, written, err := s.coord.Apply(context.WithoutCancel(ctx), p, st, now)
		res = Result{ProjectID: p.ID, Status: rec, Recorded: written, Err: err}
	}()
	return s.coord.Cycle(ctx, p, now), false
}

// Run polls immediately and then on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.pass(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *Scheduler) pass(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	sum := s.PollDue(ctx, s.now())
	if sum.Due > 0 {
		slog.Debug("poller: pass complete",
			"due", sum.Due,
			"recorded", sum.Recorded,
			"errored", sum.Errored,
			"panicked", sum.Panicked,
		)
	}
	if s.OnPass != nil {
		s.OnPass(sum)
	}
}
