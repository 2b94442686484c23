package tree

import (
	"context"
	"fmt"
	"time"

	"github.com/cimonitor/cimonitor/internal/feed"
	"github.com/cimonitor/cimonitor/internal/retriever"
	"github.com/cimonitor/cimonitor/internal/status"
)

// TeamCityStatus returns a StatusFunc that reads the REST build list of each
// build type on the server behind feedURL.
func TeamCityStatus(r retriever.Retriever, feedURL string, auth retriever.Auth, now func() time.Time) StatusFunc {
	return func(ctx context.Context, buildID string) status.Status {
		url := feed.TeamCityFeedURL(feedURL, buildID)
		raw, err := r.Retrieve(ctx, url, auth)
		if err != nil {
			return status.Status{Error: fmt.Sprintf("build %s: %v", buildID, err)}
		}
		return feed.Parse(feed.TeamCityREST, raw, nil, now())
	}
}

// TeamCityManifest returns a ManifestFunc that reads
// /httpAuth/app/rest/buildTypes/id:<buildID> on the server behind feedURL.
func TeamCityManifest(r retriever.Retriever, feedURL string, auth retriever.Auth) ManifestFunc {
	return func(ctx context.Context, buildID string) ([]string, error) {
		raw, err := r.Retrieve(ctx, feed.TeamCityBuildTypeURL(feedURL, buildID), auth)
		if err != nil {
			return nil, err
		}
		return feed.ParseManifest(raw)
	}
}

// NewTeamCity builds the tree for the build type named in feedURL.
func NewTeamCity(r retriever.Retriever, feedURL string, auth retriever.Auth, now func() time.Time) *Node {
	return New(feed.TeamCityBuildID(feedURL),
		TeamCityStatus(r, feedURL, auth, now),
		TeamCityManifest(r, feedURL, auth))
}
