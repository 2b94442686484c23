package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/cimonitor/cimonitor/internal/status"
	"github.com/cimonitor/cimonitor/internal/store"
)

// Member is one project's recorded history, oldest first (ID order).
type Member struct {
	ID       string
	Statuses []status.Status
}

// Latest returns the most recent status, or nil.
func (m Member) Latest() *status.Status {
	if len(m.Statuses) == 0 {
		return nil
	}
	return &m.Statuses[len(m.Statuses)-1]
}

func (m Member) Online() bool {
	l := m.Latest()
	return l != nil && l.Online
}

func (m Member) Green() bool {
	l := m.Latest()
	return l != nil && l.Green()
}

func (m Member) Red() bool {
	l := m.Latest()
	return l != nil && l.Red()
}

func (m Member) Building() bool {
	l := m.Latest()
	return l != nil && l.Building
}

// LastGreen returns the most recent green status, or nil.
func (m Member) LastGreen() *status.Status {
	return m.lastMatching(status.Status.Green)
}

// LastOnline returns the most recent online status, or nil.
func (m Member) LastOnline() *status.Status {
	return m.lastMatching(func(s status.Status) bool { return s.Online })
}

func (m Member) lastMatching(ok func(status.Status) bool) *status.Status {
	for i := len(m.Statuses) - 1; i >= 0; i-- {
		if ok(m.Statuses[i]) {
			return &m.Statuses[i]
		}
	}
	return nil
}

// sinceGreen returns the statuses recorded after the last green one, or the
// whole history if the project has never been green.
func (m Member) sinceGreen() []status.Status {
	for i := len(m.Statuses) - 1; i >= 0; i-- {
		if m.Statuses[i].Green() {
			return m.Statuses[i+1:]
		}
	}
	return m.Statuses
}

// BreakingBuild returns the first red status after the last green one. A
// project that has never been green broke at its first recorded status.
// Offline statuses are skipped.
func (m Member) BreakingBuild() *status.Status {
	if len(m.Statuses) == 0 {
		return nil
	}
	if m.LastGreen() == nil {
		return &m.Statuses[0]
	}
	after := m.sinceGreen()
	for i := range after {
		if after[i].Red() {
			return &after[i]
		}
	}
	return nil
}

// RedSince returns the published time of the breaking build, or nil.
func (m Member) RedSince() *time.Time {
	if b := m.BreakingBuild(); b != nil {
		return b.PublishedAt
	}
	return nil
}

// RedBuildCount counts the online statuses from the breaking build on.
func (m Member) RedBuildCount() int {
	b := m.BreakingBuild()
	if b == nil {
		return 0
	}
	n := 0
	for _, s := range m.Statuses {
		if s.Online && s.ID >= b.ID {
			n++
		}
	}
	return n
}

// Load reads the full history of each project into a Member, in the order
// the ids are given.
func Load(ctx context.Context, h store.History, projectIDs ...string) ([]Member, error) {
	out := make([]Member, 0, len(projectIDs))
	for _, id := range projectIDs {
		sts, err := h.StatusesSince(ctx, id, 0)
		if err != nil {
			return nil, fmt.Errorf("load history of %s: %w", id, err)
		}
		out = append(out, Member{ID: id, Statuses: sts})
	}
	return out, nil
}
