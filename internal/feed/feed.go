package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cimonitor/cimonitor/internal/status"
)

// Format discriminates the upstream CI system a project's feed comes from.
type Format string

const (
	// CruiseControl single-item RSS feed.
	CruiseControl Format = "cruisecontrol"
	// Hudson/Jenkins Atom feed, most recent entry first.
	Hudson Format = "hudson"
	// TeamCityREST is the REST build list of one build type.
	TeamCityREST Format = "teamcity_rest"
	// TeamCityBuild is a TeamCity build type whose health includes its
	// snapshot dependencies.
	TeamCityBuild Format = "teamcity_build"
)

// Formats lists every supported format.
var Formats = []Format{CruiseControl, Hudson, TeamCityREST, TeamCityBuild}

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	_, ok := parsers[f]
	return ok
}

// Parser turns raw feed bytes into a canonical status. Implementations must
// not panic; problems are reported through Status.Error or Online=false.
type Parser interface {
	// Parse extracts the most recent build. prev is the last recorded status
	// for the project (nil if none) and now is the parse-time clock, both
	// used only when the feed carries no timestamp.
	Parse(raw []byte, prev *status.Status, now time.Time) status.Status

	// Building extracts the in-progress indicator from a building-status
	// document. feedURL identifies the project inside multi-project
	// documents. Malformed input yields false.
	Building(raw []byte, feedURL string) bool
}

var parsers = map[Format]Parser{
	CruiseControl: rssParser{},
	Hudson:        atomParser{},
	TeamCityREST:  teamCityParser{},
	TeamCityBuild: teamCityParser{},
}

// ParseError reports a feed that is not even well-formed.
type ParseError struct {
	Format Format
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s feed: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse dispatches to the parser for format. An unknown format yields an
// error status rather than a panic.
func Parse(format Format, raw []byte, prev *status.Status, now time.Time) (st status.Status) {
	p, ok := parsers[format]
	if !ok {
		return status.Status{Error: fmt.Sprintf("unsupported feed format %q", format)}
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("feed: parser panicked", "format", format, "panic", r)
			st = status.Status{Error: (&ParseError{Format: format, Err: fmt.Errorf("%v", r)}).Error()}
		}
	}()
	return p.Parse(raw, prev, now)
}

// ParseUnstamped parses like Parse but leaves PublishedAt nil when the feed
// carries no usable timestamp. Callers that change the outcome before
// recording, such as a dependency tree overriding success, apply Stamp to
// the final status so the timestamp rule compares what is recorded.
func ParseUnstamped(format Format, raw []byte) status.Status {
	st := Parse(format, raw, nil, time.Time{})
	if st.PublishedAt != nil && st.PublishedAt.IsZero() {
		st.PublishedAt = nil
	}
	return st
}

// Stamp applies the timestamp rule to an online status without a
// PublishedAt: prev's time is reused when (url, success) is unchanged,
// otherwise now is used.
func Stamp(st status.Status, prev *status.Status, now time.Time) status.Status {
	if !st.Online || st.PublishedAt != nil {
		return st
	}
	return stamp(st, nil, prev, now)
}

// ParseBuilding dispatches the building-status check for format.
func ParseBuilding(format Format, raw []byte, feedURL string) (building bool) {
	p, ok := parsers[format]
	if !ok {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("feed: building parser panicked", "format", format, "panic", r)
			building = false
		}
	}()
	return p.Building(raw, feedURL)
}

// stamp applies the timestamp rule: an explicit feed time wins; otherwise
// the previous time is reused when (url, success) is unchanged, else now.
func stamp(st status.Status, ts *time.Time, prev *status.Status, now time.Time) status.Status {
	switch {
	case ts != nil && ts.Unix() > 0:
		st.PublishedAt = status.TimePtr(*ts)
	case prev != nil && prev.PublishedAt != nil && st.SameBuild(*prev):
		st.PublishedAt = status.TimePtr(*prev.PublishedAt)
	default:
		st.PublishedAt = status.TimePtr(now)
	}
	return st
}

// wellFormed walks every token of raw and returns the first syntax error.
func wellFormed(raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return errors.New("empty document")
	}
	dec := newDecoder(raw)
	for {
		_, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// malformed builds the status returned for a document that is not XML.
func malformed(format Format, err error) status.Status {
	return status.Status{Error: (&ParseError{Format: format, Err: err}).Error()}
}

// newDecoder returns an XML decoder tolerant of HTML entities and non-UTF-8
// charset declarations, which CI servers emit routinely.
func newDecoder(raw []byte) *xml.Decoder {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }
	return dec
}
