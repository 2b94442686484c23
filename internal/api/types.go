package api

import (
	"time"

	"github.com/cimonitor/cimonitor/internal/status"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State         string `json:"state"` // green, red, offline or unknown
	ProjectCount  int    `json:"project_count"`
	GreenCount    int    `json:"green_count"`
	RedCount      int    `json:"red_count"`
	OfflineCount  int    `json:"offline_count"`
	BuildingCount int    `json:"building_count"`
}

// ProjectResponse is one project in GET /api/v1/projects or
// GET /api/v1/projects/{id}.
type ProjectResponse struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Type          string         `json:"type"`
	FeedURL       string         `json:"feed_url"`
	Online        bool           `json:"online"`
	Green         bool           `json:"green"`
	Red           bool           `json:"red"`
	Building      bool           `json:"building"`
	LatestStatus  *status.Status `json:"latest_status"`
	LastGreen     *status.Status `json:"last_green"`
	BreakingBuild *status.Status `json:"breaking_build"`
	RedSince      *time.Time     `json:"red_since"`
	RedBuildCount int            `json:"red_build_count"`
	HasTree       bool           `json:"has_tree"`
	NextPollAt    string         `json:"next_poll_at"` // RFC3339
}

// GroupResponse is one group in GET /api/v1/groups or GET /api/v1/groups/{id}.
type GroupResponse struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Projects        []string        `json:"projects"`
	Online          bool            `json:"online"`
	Green           bool            `json:"green"`
	Red             bool            `json:"red"`
	Building        bool            `json:"building"`
	NeverBeenGreen  bool            `json:"never_been_green"`
	LatestStatus    *status.Status  `json:"latest_status"`
	LastPublishedAt *time.Time      `json:"last_published_at"`
	BreakingBuild   *status.Status  `json:"breaking_build"`
	RedSince        *time.Time      `json:"red_since"`
	RedBuildCount   int             `json:"red_build_count"`
	RecentStatuses  []status.Status `json:"recent_statuses"`
}

// DashboardResponse is the payload for GET /api/v1/dashboard and the data of
// every websocket broadcast.
type DashboardResponse struct {
	Health      HealthResponse    `json:"health"`
	Projects    []ProjectResponse `json:"projects"`
	Groups      []GroupResponse   `json:"groups"`
	GeneratedAt string            `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
