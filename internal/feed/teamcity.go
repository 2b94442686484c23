package feed

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/cimonitor/cimonitor/internal/status"
)

// teamCityTimeLayout is TeamCity's REST date format, e.g. 20120119T142813-0800.
const teamCityTimeLayout = "20060102T150405-0700"

// teamCityParser reads the REST build list
// (/app/rest/builds?locator=running:all,buildType:(id:btN)). The first
// <build> is the most recent one, running or finished.
type teamCityParser struct{}

// buildAttrs are the attributes of one <build> element; a missing attribute
// is absent from the map.
type buildAttrs map[string]string

func (teamCityParser) Parse(raw []byte, prev *status.Status, now time.Time) status.Status {
	attrs, err := firstBuild(raw)
	if err != nil {
		return malformed(TeamCityREST, err)
	}
	if attrs == nil {
		return status.Status{}
	}

	// Each field is defaulted on its own so a bad date never discards the
	// url or outcome that were already read.
	st := status.Status{
		Online:   true,
		Success:  attrs["status"] == "SUCCESS",
		URL:      attrs["webUrl"],
		Building: attrs["running"] == "true",
	}

	var ts *time.Time
	if sd := attrs["startDate"]; sd != "" {
		if t, err := time.Parse(teamCityTimeLayout, sd); err == nil {
			ts = &t
		}
	}
	return stamp(st, ts, prev, now)
}

func (teamCityParser) Building(raw []byte, _ string) bool {
	attrs, err := firstBuild(raw)
	if err != nil || attrs == nil {
		return false
	}
	return attrs["running"] == "true"
}

// firstBuild scans raw for the first <build> element anywhere in the
// document. It returns (nil, nil) when the document is well-formed but has
// no build, and an error only for syntax errors.
func firstBuild(raw []byte) (buildAttrs, error) {
	if err := wellFormed(raw); err != nil {
		return nil, err
	}
	dec := newDecoder(raw)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "build" {
			continue
		}
		attrs := make(buildAttrs, len(se.Attr))
		for _, a := range se.Attr {
			attrs[a.Name.Local] = a.Value
		}
		return attrs, nil
	}
}

// buildTypeManifest is /app/rest/buildTypes/id:btN.
type buildTypeManifest struct {
	XMLName xml.Name `xml:"buildType"`
	ID      string   `xml:"id,attr"`
	Deps    []struct {
		ID string `xml:"id,attr"`
	} `xml:"snapshot-dependencies>snapshot-dependency"`
}

// ParseManifest returns the ids of the snapshot dependencies declared in a
// TeamCity buildType document, in document order.
func ParseManifest(raw []byte) ([]string, error) {
	var m buildTypeManifest
	if err := newDecoder(raw).Decode(&m); err != nil {
		return nil, &ParseError{Format: TeamCityBuild, Err: fmt.Errorf("build type manifest: %w", err)}
	}
	ids := make([]string, 0, len(m.Deps))
	for _, d := range m.Deps {
		if d.ID != "" {
			ids = append(ids, d.ID)
		}
	}
	return ids, nil
}

var (
	// teamCityFeedPattern is the accepted shape of a TeamCity REST feed URL.
	teamCityFeedPattern = regexp.MustCompile(`^https?://.*/app/rest/builds\?locator=running:all,buildType:\(id:[\w.-]+\)(,user:\w+)?(,personal:(true|false|any))?$`)

	teamCityIDPattern = regexp.MustCompile(`buildType:\(id:([\w.-]+)\)`)
)

// ValidTeamCityFeed reports whether feedURL is a TeamCity REST build locator.
func ValidTeamCityFeed(feedURL string) bool {
	return teamCityFeedPattern.MatchString(feedURL)
}

// TeamCityBuildID extracts the build type id from a locator feed URL.
func TeamCityBuildID(feedURL string) string {
	m := teamCityIDPattern.FindStringSubmatch(feedURL)
	if m == nil {
		return ""
	}
	return m[1]
}

// TeamCityFeedURL rewrites feedURL to point at build type id.
func TeamCityFeedURL(feedURL, id string) string {
	return teamCityIDPattern.ReplaceAllLiteralString(feedURL, "buildType:(id:"+id+")")
}

// TeamCityBuildTypeURL returns the authenticated buildType resource for id on
// the server that serves feedURL.
func TeamCityBuildTypeURL(feedURL, id string) string {
	base := feedURL
	if i := strings.Index(base, "/app/rest/"); i >= 0 {
		base = base[:i]
	}
	base = strings.TrimSuffix(base, "/httpAuth")
	return base + "/httpAuth/app/rest/buildTypes/id:" + id
}
