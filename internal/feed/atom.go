package feed

import (
	"strings"
	"time"

	"github.com/cimonitor/cimonitor/internal/status"
)

// successMarkers are the Hudson/Jenkins entry title suffixes of a passing
// build, e.g. "example #12 (stable)" or "example #13 (back to normal)".
var successMarkers = []string{"success", "stable", "back to normal"}

// atomParser reads Hudson/Jenkins "rssAll" Atom feeds. Entries are most
// recent first; only the first one matters.
type atomParser struct{}

func (atomParser) Parse(raw []byte, prev *status.Status, now time.Time) status.Status {
	entry, st, ok := firstItem(Hudson, raw)
	if !ok {
		return st
	}

	title := strings.ToLower(entry.Title)
	success := false
	for _, m := range successMarkers {
		if strings.Contains(title, m) {
			success = true
			break
		}
	}

	link := strings.TrimSpace(entry.Link)
	if link == "" && len(entry.Links) > 0 {
		link = strings.TrimSpace(entry.Links[0])
	}

	ts := entry.PublishedParsed
	if ts == nil {
		ts = entry.UpdatedParsed
	}
	return stamp(status.Status{Online: true, Success: success, URL: link}, ts, prev, now)
}

func (atomParser) Building(raw []byte, feedURL string) bool {
	return cctrayBuilding(raw, projectNameFromFeed(Hudson, feedURL))
}
