package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cimonitor/cimonitor/internal/aggregate"
	"github.com/cimonitor/cimonitor/internal/store"
	"github.com/cimonitor/cimonitor/internal/tree"
)

// TreeSource hands out the last resolved dependency tree of a project.
// poller.Coordinator implements it.
type TreeSource interface {
	Tree(projectID string) (*tree.Node, bool)
}

// GroupDef names a group and its member projects.
type GroupDef struct {
	ID       string
	Name     string
	Projects []string
}

// Source is everything the dashboard reads from. Groups may be replaced at
// any time, e.g. after a config reload.
type Source struct {
	registry store.Registry
	history  store.History
	trees    TreeSource
	now      func() time.Time

	mu     sync.RWMutex
	groups []GroupDef
}

// NewSource returns a Source. trees may be nil.
func NewSource(reg store.Registry, h store.History, trees TreeSource, groups []GroupDef) *Source {
	return &Source{
		registry: reg,
		history:  h,
		trees:    trees,
		now:      time.Now,
		groups:   groups,
	}
}

// SetGroups replaces the configured groups.
func (s *Source) SetGroups(groups []GroupDef) {
	s.mu.Lock()
	s.groups = groups
	s.mu.Unlock()
}

// Groups returns the configured groups.
func (s *Source) Groups() []GroupDef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groups
}

func (s *Source) group(id string) (GroupDef, bool) {
	for _, g := range s.Groups() {
		if g.ID == id {
			return g, true
		}
	}
	return GroupDef{}, false
}

func (s *Source) tree(projectID string) (*tree.Node, bool) {
	if s.trees == nil {
		return nil, false
	}
	return s.trees.Tree(projectID)
}

// project loads p's history and renders it.
func (s *Source) project(ctx context.Context, p store.Project) (ProjectResponse, error) {
	members, err := aggregate.Load(ctx, s.history, p.ID)
	if err != nil {
		return ProjectResponse{}, err
	}
	m := members[0]
	_, hasTree := s.tree(p.ID)
	return ProjectResponse{
		ID:            p.ID,
		Name:          p.Name,
		Type:          string(p.Format),
		FeedURL:       p.FeedURL,
		Online:        m.Online(),
		Green:         m.Green(),
		Red:           m.Red(),
		Building:      m.Building(),
		LatestStatus:  m.Latest(),
		LastGreen:     m.LastGreen(),
		BreakingBuild: m.BreakingBuild(),
		RedSince:      m.RedSince(),
		RedBuildCount: m.RedBuildCount(),
		HasTree:       hasTree,
		NextPollAt:    p.NextPollAt.UTC().Format(time.RFC3339),
	}, nil
}

// groupResponse loads the members of def and renders the combined view.
func (s *Source) groupResponse(ctx context.Context, def GroupDef) (GroupResponse, error) {
	members, err := aggregate.Load(ctx, s.history, def.Projects...)
	if err != nil {
		return GroupResponse{}, fmt.Errorf("group %s: %w", def.ID, err)
	}
	g := aggregate.Group{ID: def.ID, Name: def.Name, Members: members}
	projects := def.Projects
	if projects == nil {
		projects = []string{}
	}
	return GroupResponse{
		ID:              g.ID,
		Name:            g.Name,
		Projects:        projects,
		Online:          g.Online(),
		Green:           g.Green(),
		Red:             g.Red(),
		Building:        g.Building(),
		NeverBeenGreen:  g.NeverBeenGreen(),
		LatestStatus:    g.LatestStatus(),
		LastPublishedAt: g.LastPublishedAt(),
		BreakingBuild:   g.BreakingBuild(),
		RedSince:        g.RedSince(),
		RedBuildCount:   g.RedBuildCount(),
		RecentStatuses:  g.RecentOnlineStatuses(aggregate.DefaultRecentCount),
	}, nil
}

func (s *Source) projects(ctx context.Context) ([]ProjectResponse, error) {
	ps, err := s.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	out := make([]ProjectResponse, 0, len(ps))
	for _, p := range ps {
		pr, err := s.project(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, nil
}

func (s *Source) groupResponses(ctx context.Context) ([]GroupResponse, error) {
	defs := s.Groups()
	out := make([]GroupResponse, 0, len(defs))
	for _, def := range defs {
		gr, err := s.groupResponse(ctx, def)
		if err != nil {
			return nil, err
		}
		out = append(out, gr)
	}
	return out, nil
}

// BuildDashboard renders every project and group as of now.
func BuildDashboard(ctx context.Context, s *Source) (DashboardResponse, error) {
	projects, err := s.projects(ctx)
	if err != nil {
		return DashboardResponse{}, err
	}
	groups, err := s.groupResponses(ctx)
	if err != nil {
		return DashboardResponse{}, err
	}
	return DashboardResponse{
		Health:      healthOf(projects),
		Projects:    projects,
		Groups:      groups,
		GeneratedAt: s.now().UTC().Format(time.RFC3339),
	}, nil
}

// healthOf counts project states. Any red project makes the whole board red;
// otherwise any project without an online status makes it offline.
func healthOf(projects []ProjectResponse) HealthResponse {
	h := HealthResponse{ProjectCount: len(projects)}
	for _, p := range projects {
		switch {
		case !p.Online:
			h.OfflineCount++
		case p.Red:
			h.RedCount++
		default:
			h.GreenCount++
		}
		if p.Building {
			h.BuildingCount++
		}
	}
	switch {
	case h.ProjectCount == 0:
		h.State = "unknown"
	case h.RedCount > 0:
		h.State = "red"
	case h.OfflineCount > 0:
		h.State = "offline"
	default:
		h.State = "green"
	}
	return h
}
