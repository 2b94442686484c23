package store

import (
	"context"
	"errors"
	"time"

	"github.com/cimonitor/cimonitor/internal/feed"
	"github.com/cimonitor/cimonitor/internal/retriever"
	"github.com/cimonitor/cimonitor/internal/status"
)

// ErrNotFound is returned when a project is not known to a registry.
var ErrNotFound = errors.New("not found")

// History is the append-only status log of every project.
//
// Implementations must be safe for concurrent use. Status IDs increase
// monotonically across all projects in insertion order.
type History interface {
	// AppendIfChanged records st for projectID unless it is the same
	// observation as the last recorded one. It returns the stored status
	// (or the existing last one) and whether a new entry was written.
	AppendIfChanged(ctx context.Context, projectID string, st status.Status) (status.Status, bool, error)

	// LastStatus returns the most recent status, or nil if none exists.
	LastStatus(ctx context.Context, projectID string) (*status.Status, error)

	// StatusesSince returns all statuses with ID >= sinceID in ID order.
	StatusesSince(ctx context.Context, projectID string, sinceID int64) ([]status.Status, error)

	// LastGreen returns the most recent online, successful status, or nil.
	LastGreen(ctx context.Context, projectID string) (*status.Status, error)

	Close() error
}

// Project is a registry entry: what to poll and when.
type Project struct {
	ID             string
	Name           string
	Format         feed.Format
	FeedURL        string
	BuildStatusURL string
	Auth           retriever.Auth
	PollInterval   time.Duration
	NextPollAt     time.Time
}

// Registry enumerates projects and owns their polling timestamps.
type Registry interface {
	List(ctx context.Context) ([]Project, error)

	// Due returns the projects whose NextPollAt is not after now.
	Due(ctx context.Context, now time.Time) ([]Project, error)

	// Get returns ErrNotFound for an unknown id.
	Get(ctx context.Context, id string) (Project, error)

	SetNextPollAt(ctx context.Context, id string, t time.Time) error
}
