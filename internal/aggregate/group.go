package aggregate

import (
	"sort"
	"time"

	"github.com/cimonitor/cimonitor/internal/status"
)

// DefaultRecentCount is the number of statuses shown in a group's recent
// history strip.
const DefaultRecentCount = 5

// Group is a named set of projects combined into one view. All methods are
// total: an empty group or a member without history has a defined result.
type Group struct {
	ID      string
	Name    string
	Members []Member
}

// Red reports whether any member is red.
func (g Group) Red() bool {
	for _, m := range g.Members {
		if m.Red() {
			return true
		}
	}
	return false
}

// Green reports whether the group is non-empty and every member is green.
func (g Group) Green() bool {
	if len(g.Members) == 0 {
		return false
	}
	for _, m := range g.Members {
		if !m.Green() {
			return false
		}
	}
	return true
}

// Online reports whether the group is non-empty and every member is online.
func (g Group) Online() bool {
	if len(g.Members) == 0 {
		return false
	}
	for _, m := range g.Members {
		if !m.Online() {
			return false
		}
	}
	return true
}

func (g Group) Building() bool {
	for _, m := range g.Members {
		if m.Building() {
			return true
		}
	}
	return false
}

// Statuses returns the latest status of each member that has one, in ID
// order. ID order is insertion order, unlike published_at which comes from
// the feed.
func (g Group) Statuses() []status.Status {
	out := make([]status.Status, 0, len(g.Members))
	for _, m := range g.Members {
		if l := m.Latest(); l != nil {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LatestStatus returns the most recently recorded of the members' latest
// statuses, or nil.
func (g Group) LatestStatus() *status.Status {
	sts := g.Statuses()
	if len(sts) == 0 {
		return nil
	}
	return &sts[len(sts)-1]
}

// LastPublishedAt returns the newest published_at among each member's most
// recent online status, or nil if no member was ever online.
func (g Group) LastPublishedAt() *time.Time {
	var latest *time.Time
	for _, m := range g.Members {
		o := m.LastOnline()
		if o == nil || o.PublishedAt == nil {
			continue
		}
		if latest == nil || o.PublishedAt.After(*latest) {
			latest = o.PublishedAt
		}
	}
	return latest
}

// NeverBeenGreen reports whether no member has ever recorded a green status.
func (g Group) NeverBeenGreen() bool {
	for _, m := range g.Members {
		if m.LastGreen() != nil {
			return false
		}
	}
	return true
}

// BreakingBuild returns the status that turned the group red.
//
// If no member was ever green it is the first status recorded by any member.
// Otherwise it is the earliest, by published_at, of each member's first red
// status after its last green one; statuses without published_at are not
// considered. Ties go to the lower status ID, then the lower project ID.
func (g Group) BreakingBuild() *status.Status {
	if g.NeverBeenGreen() {
		var first *status.Status
		for _, m := range g.Members {
			if len(m.Statuses) > 0 && (first == nil || m.Statuses[0].ID < first.ID) {
				first = &m.Statuses[0]
			}
		}
		return first
	}

	var (
		best      *status.Status
		bestOwner string
	)
	for _, m := range g.Members {
		c := firstDatedRed(m.sinceGreen())
		if c == nil {
			continue
		}
		if best == nil || earlier(*c, m.ID, *best, bestOwner) {
			best, bestOwner = c, m.ID
		}
	}
	return best
}

func firstDatedRed(sts []status.Status) *status.Status {
	for i := range sts {
		if sts[i].Red() && sts[i].PublishedAt != nil {
			return &sts[i]
		}
	}
	return nil
}

func earlier(a status.Status, aOwner string, b status.Status, bOwner string) bool {
	switch {
	case !a.PublishedAt.Equal(*b.PublishedAt):
		return a.PublishedAt.Before(*b.PublishedAt)
	case a.ID != b.ID:
		return a.ID < b.ID
	default:
		return aOwner < bOwner
	}
}

// RedSince returns the published time of the breaking build, or nil when
// the group has no breaking build.
func (g Group) RedSince() *time.Time {
	if b := g.BreakingBuild(); b != nil {
		return b.PublishedAt
	}
	return nil
}

// RedBuildCount is the number of online builds of the first red member since
// its own breaking build. It is 0 unless the group is online and has a
// breaking build.
func (g Group) RedBuildCount() int {
	if !g.Online() || g.BreakingBuild() == nil {
		return 0
	}
	for _, m := range g.Members {
		if m.Red() {
			return m.RedBuildCount()
		}
	}
	return 0
}

// RecentOnlineStatuses returns up to n online statuses across all members,
// newest first.
func (g Group) RecentOnlineStatuses(n int) []status.Status {
	var all []status.Status
	for _, m := range g.Members {
		for _, s := range m.Statuses {
			if s.Online {
				all = append(all, s)
			}
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	if len(all) > n {
		all = all[:n]
	}
	return all
}
