package feed

import (
	"net/url"
	"path"
	"strings"
)

// cctrayProjects is the cctray XmlStatusReport shape served by CruiseControl
// (/XmlStatusReport.aspx) and Hudson (/cc.xml).
type cctrayProjects struct {
	Projects []struct {
		Name     string `xml:"name,attr"`
		Activity string `xml:"activity,attr"`
	} `xml:"Project"`
}

// cctrayBuilding reports whether the project called name is building.
// Matching is case-insensitive; anything unexpected means not building.
func cctrayBuilding(raw []byte, name string) bool {
	if name == "" {
		return false
	}
	var doc cctrayProjects
	if err := newDecoder(raw).Decode(&doc); err != nil {
		return false
	}
	for _, p := range doc.Projects {
		if strings.EqualFold(p.Name, name) {
			return strings.EqualFold(p.Activity, "Building")
		}
	}
	return false
}

// projectNameFromFeed derives the upstream project name from a feed URL:
// .../projects/<name>.rss for CruiseControl, .../job/<name>/rssAll for Hudson.
func projectNameFromFeed(format Format, feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil {
		return ""
	}
	switch format {
	case CruiseControl:
		base := path.Base(u.Path)
		if base == "/" || base == "." {
			return ""
		}
		return strings.TrimSuffix(base, path.Ext(base))
	case Hudson:
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		for i := 0; i+1 < len(parts); i++ {
			if strings.EqualFold(parts[i], "job") {
				return parts[i+1]
			}
		}
	}
	return ""
}

// BuildStatusURL derives the building-status document URL for a feed when
// the project does not configure one.
func BuildStatusURL(format Format, feedURL string) string {
	switch format {
	case TeamCityREST, TeamCityBuild:
		return feedURL
	}
	u, err := url.Parse(feedURL)
	if err != nil || u.Host == "" {
		return ""
	}
	switch format {
	case CruiseControl:
		return u.Scheme + "://" + u.Host + "/XmlStatusReport.aspx"
	case Hudson:
		p := u.Path
		if i := strings.Index(strings.ToLower(p), "/job/"); i >= 0 {
			p = p[:i]
		}
		return u.Scheme + "://" + u.Host + strings.TrimSuffix(p, "/") + "/cc.xml"
	}
	return ""
}
