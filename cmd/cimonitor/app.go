package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cimonitor/cimonitor/internal/api"
	"github.com/cimonitor/cimonitor/internal/config"
	"github.com/cimonitor/cimonitor/internal/poller"
	"github.com/cimonitor/cimonitor/internal/retriever"
	"github.com/cimonitor/cimonitor/internal/store"
)

// app is the wired process: storage, registry, poller and dashboard source.
type app struct {
	history  store.History
	registry *store.MemoryRegistry
	coord    *poller.Coordinator
	sched    *poller.Scheduler
	source   *api.Source
}

func newApp(cfg *config.Config) (*app, error) {
	history, err := openHistory(cfg.Storage)
	if err != nil {
		return nil, err
	}

	reg := store.NewMemoryRegistry(cfg.RegistryProjects()...)
	r := retriever.NewHTTP(retriever.Options{
		Timeout:            cfg.Poller.Timeout,
		InsecureSkipVerify: cfg.Poller.InsecureSkipVerify,
		UserAgent:          "cimonitor/" + Version,
	})
	coord := poller.NewCoordinator(history, reg, r, cfg.Poller.TreeConcurrency)

	return &app{
		history:  history,
		registry: reg,
		coord:    coord,
		sched:    poller.NewScheduler(coord, reg, cfg.Poller.Workers, cfg.Poller.Interval),
		source:   api.NewSource(reg, history, coord, groupDefs(cfg)),
	}, nil
}

func openHistory(sc config.StorageConfig) (store.History, error) {
	switch sc.Backend {
	case "bolt":
		b, err := store.NewBolt(sc.Path)
		if err != nil {
			return nil, fmt.Errorf("open history %s: %w", sc.Path, err)
		}
		slog.Info("history: bolt", "path", sc.Path)
		return b, nil
	default:
		slog.Info("history: in memory")
		return store.NewMemory(), nil
	}
}

// reload applies a changed config: the project set, groups and log level.
// Poller sizing and storage only change on restart.
func (a *app) reload(cfg *config.Config) {
	added, removed := a.registry.Sync(cfg.RegistryProjects())
	for _, id := range removed {
		a.coord.Forget(id)
	}
	a.source.SetGroups(groupDefs(cfg))
	if lvl, err := config.ParseLevel(cfg.Log.Level); err == nil {
		logLevel.Set(lvl)
	}
	slog.Info("config reloaded",
		"projects", len(cfg.Projects),
		"added", added,
		"removed", removed,
		"groups", len(cfg.Groups),
	)
}

// background starts each loop in its own goroutine. The returned func
// blocks until all of them have returned; call it before Close so a pass
// still recording after cancellation can finish writing.
func (a *app) background(ctx context.Context, loops ...func(context.Context)) (wait func()) {
	var wg sync.WaitGroup
	for _, loop := range loops {
		wg.Add(1)
		go func(loop func(context.Context)) {
			defer wg.Done()
			loop(ctx)
		}(loop)
	}
	return wg.Wait
}

func (a *app) Close() error {
	return a.history.Close()
}

func groupDefs(cfg *config.Config) []api.GroupDef {
	out := make([]api.GroupDef, 0, len(cfg.Groups))
	for _, g := range cfg.Groups {
		name := g.Name
		if name == "" {
			name = g.ID
		}
		out = append(out, api.GroupDef{ID: g.ID, Name: name, Projects: g.Projects})
	}
	return out
}
