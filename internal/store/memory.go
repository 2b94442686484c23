package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cimonitor/cimonitor/internal/status"
)

// Memory is a thread-safe in-memory History.
type Memory struct {
	mu   sync.RWMutex
	seq  int64
	data map[string][]status.Status
	now  func() time.Time // injectable for deterministic tests
}

// NewMemory creates an empty Memory history.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string][]status.Status),
		now:  time.Now,
	}
}

func (m *Memory) AppendIfChanged(_ context.Context, projectID string, st status.Status) (status.Status, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.data[projectID]
	if n := len(list); n > 0 && list[n-1].SameAs(st) {
		return list[n-1], false, nil
	}
	m.seq++
	st.ID = m.seq
	st.ProjectID = projectID
	st.RecordedAt = m.now()
	m.data[projectID] = append(list, st)
	return st, true, nil
}

func (m *Memory) LastStatus(_ context.Context, projectID string) (*status.Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.data[projectID]
	if len(list) == 0 {
		return nil, nil
	}
	last := list[len(list)-1]
	return &last, nil
}

func (m *Memory) StatusesSince(_ context.Context, projectID string, sinceID int64) ([]status.Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.data[projectID]
	i := sort.Search(len(list), func(i int) bool { return list[i].ID >= sinceID })
	out := make([]status.Status, len(list)-i)
	copy(out, list[i:])
	return out, nil
}

func (m *Memory) LastGreen(_ context.Context, projectID string) (*status.Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.data[projectID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Green() {
			g := list[i]
			return &g, nil
		}
	}
	return nil, nil
}

// Count returns the number of statuses recorded for projectID.
func (m *Memory) Count(projectID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data[projectID])
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
