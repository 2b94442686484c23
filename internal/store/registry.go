package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRegistry is a thread-safe in-memory Registry, keyed by project ID.
type MemoryRegistry struct {
	mu       sync.RWMutex
	projects map[string]Project
}

// NewMemoryRegistry creates a registry holding projects. Projects with a zero
// NextPollAt are due immediately.
func NewMemoryRegistry(projects ...Project) *MemoryRegistry {
	r := &MemoryRegistry{projects: make(map[string]Project, len(projects))}
	for _, p := range projects {
		r.projects[p.ID] = p
	}
	return r
}

// List returns every project ordered by ID.
func (r *MemoryRegistry) List(_ context.Context) ([]Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, p)
	}
	sortProjects(out)
	return out, nil
}

func (r *MemoryRegistry) Due(_ context.Context, now time.Time) ([]Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Project
	for _, p := range r.projects {
		if !now.Before(p.NextPollAt) {
			out = append(out, p)
		}
	}
	sortProjects(out)
	return out, nil
}

func (r *MemoryRegistry) Get(_ context.Context, id string) (Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	if !ok {
		return Project{}, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return p, nil
}

func (r *MemoryRegistry) SetNextPollAt(_ context.Context, id string, t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	p.NextPollAt = t
	r.projects[id] = p
	return nil
}

// Sync replaces the project set, typically after a config reload. Projects
// that survive keep their NextPollAt; new ones are due immediately. It
// returns the ids that were added and removed.
func (r *MemoryRegistry) Sync(projects []Project) (added, removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]Project, len(projects))
	for _, p := range projects {
		if old, ok := r.projects[p.ID]; ok {
			p.NextPollAt = old.NextPollAt
		} else {
			added = append(added, p.ID)
		}
		next[p.ID] = p
	}
	for id := range r.projects {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}
	r.projects = next
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

func sortProjects(ps []Project) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
}
