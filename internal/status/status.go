package status

import "time"

// Status is one normalized observation of a project's build health.
// Values are treated as immutable once a parser returns them; use the With*
// helpers to derive a modified copy.
type Status struct {
	// ID is assigned by the history store on append. It increases
	// monotonically across all projects and is the recency order used by
	// aggregation (published_at is feed-reported and unreliable).
	ID        int64  `json:"id"`
	ProjectID string `json:"project_id"`

	// Online is true when the feed was retrieved and contained a meaningful
	// build record.
	Online bool `json:"online"`

	// Success reports whether the latest build succeeded. Only meaningful
	// when Online is true.
	Success bool `json:"success"`

	URL         string     `json:"url,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`

	// Error is set when retrieval or parsing failed; the other fields are
	// best effort in that case.
	Error string `json:"error,omitempty"`

	Building bool `json:"building"`

	// RecordedAt is the server clock at append time. Not part of change
	// detection.
	RecordedAt time.Time `json:"recorded_at"`
}

// Failed returns a Status carrying only an error message.
func Failed(projectID, msg string) Status {
	return Status{ProjectID: projectID, Error: msg}
}

// Green reports an online, successful observation.
func (s Status) Green() bool { return s.Online && s.Success }

// Red reports an online, failing observation.
func (s Status) Red() bool { return s.Online && !s.Success }

// SameAs reports whether s and o describe the same observation, i.e. whether
// recording o after s would only add noise to the history.
func (s Status) SameAs(o Status) bool {
	return s.Online == o.Online &&
		s.Success == o.Success &&
		s.URL == o.URL &&
		s.Building == o.Building &&
		s.Error == o.Error &&
		sameTime(s.PublishedAt, o.PublishedAt)
}

// SameBuild reports whether s and o point at the same build outcome, the
// (url, success) pair used by the no-timestamp fallback.
func (s Status) SameBuild(o Status) bool {
	return s.URL == o.URL && s.Success == o.Success
}

// WithBuilding returns a copy of s with the building flag replaced.
func (s Status) WithBuilding(building bool) Status {
	s.Building = building
	return s
}

// WithProject returns a copy of s owned by projectID.
func (s Status) WithProject(projectID string) Status {
	s.ProjectID = projectID
	return s
}

// TimePtr returns a pointer to a copy of t.
func TimePtr(t time.Time) *time.Time { return &t }

func sameTime(a, b *time.Time) bool {
	switch {
	case a == nil && b == nil:
		return true
	case a == nil || b == nil:
		return false
	default:
		return a.Equal(*b)
	}
}
