package feed

import (
	"bytes"
	"errors"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/cimonitor/cimonitor/internal/status"
)

// rssParser reads CruiseControl's RSS feed: one <item> for the latest build,
// outcome in the title ("Socialitis build 7 success" / "... failed").
type rssParser struct{}

func (rssParser) Parse(raw []byte, prev *status.Status, now time.Time) status.Status {
	item, st, ok := firstItem(CruiseControl, raw)
	if !ok {
		return st
	}

	text := strings.ToLower(item.Title)
	if strings.TrimSpace(text) == "" {
		text = strings.ToLower(item.Description)
	}
	st = status.Status{
		Online:  true,
		Success: strings.Contains(text, "success") && !strings.Contains(text, "fail"),
		URL:     strings.TrimSpace(item.Link),
	}
	return stamp(st, item.PublishedParsed, prev, now)
}

func (rssParser) Building(raw []byte, feedURL string) bool {
	return cctrayBuilding(raw, projectNameFromFeed(CruiseControl, feedURL))
}

// firstItem parses raw with gofeed and returns its first item. When the
// document has no usable item the returned status is what the parser should
// report: an error for malformed XML, otherwise a plain offline status.
func firstItem(format Format, raw []byte) (*gofeed.Item, status.Status, bool) {
	if err := wellFormed(raw); err != nil {
		return nil, malformed(format, err), false
	}
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(raw))
	if err != nil {
		if errors.Is(err, gofeed.ErrFeedTypeNotDetected) {
			return nil, status.Status{}, false
		}
		return nil, malformed(format, err), false
	}
	if len(parsed.Items) == 0 || parsed.Items[0] == nil {
		return nil, status.Status{}, false
	}
	return parsed.Items[0], status.Status{}, true
}
