package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cimonitor/cimonitor/internal/api"
	"github.com/cimonitor/cimonitor/internal/feed"
	"github.com/cimonitor/cimonitor/internal/status"
	"github.com/cimonitor/cimonitor/internal/store"
	"github.com/cimonitor/cimonitor/internal/tree"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// --- test helpers -----------------------------------------------------------

type fixture struct {
	reg     *store.MemoryRegistry
	history *store.Memory
	trees   fakeTrees
}

type fakeTrees map[string]*tree.Node

func (f fakeTrees) Tree(id string) (*tree.Node, bool) {
	n, ok := f[id]
	return n, ok
}

func project(id string) store.Project {
	return store.Project{
		ID:           id,
		Name:         strings.ToUpper(id),
		Format:       feed.CruiseControl,
		FeedURL:      "http://cc.example.com/projects/" + id + ".rss",
		PollInterval: time.Minute,
		NextPollAt:   t0,
	}
}

func greenAt(at time.Time, url string) status.Status {
	return status.Status{Online: true, Success: true, URL: url, PublishedAt: status.TimePtr(at)}
}

func redAt(at time.Time, url string) status.Status {
	return status.Status{Online: true, URL: url, PublishedAt: status.TimePtr(at)}
}

// newFixture registers three projects: "ok" (green), "broken" (green then
// two reds) and "fresh" (no history).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		reg:     store.NewMemoryRegistry(project("ok"), project("broken"), project("fresh")),
		history: store.NewMemory(),
		trees:   fakeTrees{},
	}
	ctx := context.Background()
	appends := []struct {
		id string
		st status.Status
	}{
		{"ok", greenAt(t0, "http://cc/ok/1")},
		{"broken", greenAt(t0, "http://cc/broken/1")},
		{"broken", redAt(t0.Add(time.Hour), "http://cc/broken/2")},
		{"broken", redAt(t0.Add(2*time.Hour), "http://cc/broken/3").WithBuilding(true)},
	}
	for _, a := range appends {
		if _, _, err := f.history.AppendIfChanged(ctx, a.id, a.st); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	return f
}

func (f *fixture) handler(groups ...api.GroupDef) http.Handler {
	return api.New(api.NewSource(f.reg, f.history, f.trees, groups))
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- /api/v1/health ---------------------------------------------------------

func TestHealth_Empty(t *testing.T) {
	h := api.New(api.NewSource(store.NewMemoryRegistry(), store.NewMemory(), nil, nil))
	rr := get(t, h, "/api/v1/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.State != "unknown" || resp.ProjectCount != 0 {
		t.Errorf("got %+v, want unknown with no projects", resp)
	}
}

func TestHealth_Counts(t *testing.T) {
	rr := get(t, newFixture(t).handler(), "/api/v1/health")
	var resp api.HealthResponse
	decode(t, rr, &resp)

	want := api.HealthResponse{
		State:         "red",
		ProjectCount:  3,
		GreenCount:    1,
		RedCount:      1,
		OfflineCount:  1,
		BuildingCount: 1,
	}
	if resp != want {
		t.Errorf("got %+v, want %+v", resp, want)
	}
}

// --- /api/v1/projects -------------------------------------------------------

func TestListProjects(t *testing.T) {
	rr := get(t, newFixture(t).handler(), "/api/v1/projects")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q", ct)
	}
	var resp []api.ProjectResponse
	decode(t, rr, &resp)
	if len(resp) != 3 {
		t.Fatalf("got %d projects, want 3", len(resp))
	}
	byID := map[string]api.ProjectResponse{}
	for _, p := range resp {
		byID[p.ID] = p
	}
	if p := byID["fresh"]; p.Online || p.LatestStatus != nil {
		t.Errorf("project without history should be offline with no status: %+v", p)
	}
	if p := byID["ok"]; !p.Green || p.Red || p.Type != "cruisecontrol" {
		t.Errorf("ok: %+v", p)
	}
}

func TestGetProject_Red(t *testing.T) {
	rr := get(t, newFixture(t).handler(), "/api/v1/projects/broken")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	var p api.ProjectResponse
	decode(t, rr, &p)

	if !p.Red || !p.Building {
		t.Errorf("want red and building, got %+v", p)
	}
	if p.BreakingBuild == nil || p.BreakingBuild.URL != "http://cc/broken/2" {
		t.Errorf("breaking build: %+v", p.BreakingBuild)
	}
	if p.RedSince == nil || !p.RedSince.Equal(t0.Add(time.Hour)) {
		t.Errorf("red since: %v", p.RedSince)
	}
	if p.RedBuildCount != 2 {
		t.Errorf("red build count: got %d, want 2", p.RedBuildCount)
	}
	if p.LastGreen == nil || p.LastGreen.URL != "http://cc/broken/1" {
		t.Errorf("last green: %+v", p.LastGreen)
	}
	if p.NextPollAt != t0.Format(time.RFC3339) {
		t.Errorf("next_poll_at: %q", p.NextPollAt)
	}
}

func TestGetProject_NotFound(t *testing.T) {
	rr := get(t, newFixture(t).handler(), "/api/v1/projects/nope")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", rr.Code)
	}
	var resp map[string]string
	decode(t, rr, &resp)
	if resp["error"] == "" {
		t.Error("expected error body")
	}
}

func TestProjectStatuses_Since(t *testing.T) {
	h := newFixture(t).handler()

	var all []status.Status
	decode(t, get(t, h, "/api/v1/projects/broken/statuses"), &all)
	if len(all) != 3 {
		t.Fatalf("got %d statuses, want 3", len(all))
	}

	var tail []status.Status
	rr := get(t, h, "/api/v1/projects/broken/statuses?since="+jsonInt(all[1].ID))
	decode(t, rr, &tail)
	if len(tail) != 2 || tail[0].ID != all[1].ID {
		t.Errorf("since is inclusive: got %+v", tail)
	}

	if rr := get(t, h, "/api/v1/projects/broken/statuses?since=abc"); rr.Code != http.StatusBadRequest {
		t.Errorf("bad since: got %d, want 400", rr.Code)
	}
}

func TestProjectStatuses_EmptyIsArray(t *testing.T) {
	b, err := store.NewBolt(filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	h := api.New(api.NewSource(store.NewMemoryRegistry(project("fresh")), b, nil, nil))

	rr := get(t, h, "/api/v1/projects/fresh/statuses")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	if body := strings.TrimSpace(rr.Body.String()); body != "[]" {
		t.Errorf("body: got %s, want []", body)
	}
}

func TestProjectTree(t *testing.T) {
	f := newFixture(t)
	statuses := map[string]status.Status{
		"bt2": greenAt(t0, "http://tc/bt2"),
		"bt3": redAt(t0, "http://tc/bt3"),
	}
	f.trees["ok"] = tree.New("bt2",
		func(_ context.Context, id string) status.Status { return statuses[id] },
		func(_ context.Context, id string) ([]string, error) {
			if id == "bt2" {
				return []string{"bt3"}, nil
			}
			return nil, nil
		})
	h := f.handler()

	rr := get(t, h, "/api/v1/projects/ok/tree")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	var v tree.View
	decode(t, rr, &v)
	if v.BuildID != "bt2" || !v.Red || len(v.Children) != 1 || v.Children[0].BuildID != "bt3" {
		t.Errorf("tree view: %+v", v)
	}

	if rr := get(t, h, "/api/v1/projects/broken/tree"); rr.Code != http.StatusNotFound {
		t.Errorf("project without tree: got %d, want 404", rr.Code)
	}

	var p api.ProjectResponse
	decode(t, get(t, h, "/api/v1/projects/ok"), &p)
	if !p.HasTree {
		t.Error("has_tree should be set")
	}
}

// --- /api/v1/groups ---------------------------------------------------------

func TestGroups(t *testing.T) {
	h := newFixture(t).handler(
		api.GroupDef{ID: "all", Name: "All", Projects: []string{"ok", "broken"}},
		api.GroupDef{ID: "quiet", Name: "Quiet", Projects: []string{"ok"}},
	)

	var groups []api.GroupResponse
	decode(t, get(t, h, "/api/v1/groups"), &groups)
	if len(groups) != 2 {
		t.Fatalf("got %d groups", len(groups))
	}

	rr := get(t, h, "/api/v1/groups/all")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	var all api.GroupResponse
	decode(t, rr, &all)
	if !all.Red || all.Green || !all.Building {
		t.Errorf("group all: %+v", all)
	}
	if all.BreakingBuild == nil || all.BreakingBuild.URL != "http://cc/broken/2" {
		t.Errorf("group breaking build: %+v", all.BreakingBuild)
	}
	if all.RedBuildCount != 2 {
		t.Errorf("group red build count: got %d", all.RedBuildCount)
	}
	if len(all.RecentStatuses) != 4 || all.RecentStatuses[0].URL != "http://cc/broken/3" {
		t.Errorf("recent statuses newest first: %+v", all.RecentStatuses)
	}

	var quiet api.GroupResponse
	decode(t, get(t, h, "/api/v1/groups/quiet"), &quiet)
	if !quiet.Green || quiet.BreakingBuild != nil || quiet.RedSince != nil {
		t.Errorf("group quiet: %+v", quiet)
	}

	if rr := get(t, h, "/api/v1/groups/none"); rr.Code != http.StatusNotFound {
		t.Errorf("unknown group: got %d, want 404", rr.Code)
	}
}

func TestSetGroups(t *testing.T) {
	f := newFixture(t)
	src := api.NewSource(f.reg, f.history, nil, nil)
	h := api.New(src)

	if rr := get(t, h, "/api/v1/groups/all"); rr.Code != http.StatusNotFound {
		t.Fatalf("before SetGroups: got %d", rr.Code)
	}
	src.SetGroups([]api.GroupDef{{ID: "all", Projects: []string{"ok"}}})
	if rr := get(t, h, "/api/v1/groups/all"); rr.Code != http.StatusOK {
		t.Errorf("after SetGroups: got %d", rr.Code)
	}
}

// --- /api/v1/dashboard ------------------------------------------------------

func TestDashboard(t *testing.T) {
	h := newFixture(t).handler(api.GroupDef{ID: "all", Projects: []string{"ok", "broken"}})
	rr := get(t, h, "/api/v1/dashboard")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	var d api.DashboardResponse
	decode(t, rr, &d)
	if len(d.Projects) != 3 || len(d.Groups) != 1 || d.Health.State != "red" {
		t.Errorf("dashboard: %+v", d)
	}
	if _, err := time.Parse(time.RFC3339, d.GeneratedAt); err != nil {
		t.Errorf("generated_at: %v", err)
	}
}

func TestDashboard_HistoryError(t *testing.T) {
	f := newFixture(t)
	src := api.NewSource(f.reg, failingHistory{f.history}, nil, nil)
	rr := get(t, api.New(src), "/api/v1/dashboard")
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", rr.Code)
	}
}

// --- routing ----------------------------------------------------------------

func TestMethodNotAllowed(t *testing.T) {
	h := newFixture(t).handler()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/projects", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST: got %d, want 405", rr.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	if rr := get(t, newFixture(t).handler(), "/api/v2/anything"); rr.Code != http.StatusNotFound {
		t.Errorf("got %d, want 404", rr.Code)
	}
}

func TestMetricsExposed(t *testing.T) {
	rr := get(t, newFixture(t).handler(), "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "cimonitor_projects_due") {
		t.Error("expected cimonitor metrics in exposition")
	}
}

// failingHistory fails every read.
type failingHistory struct{ store.History }

func (failingHistory) StatusesSince(context.Context, string, int64) ([]status.Status, error) {
	return nil, errors.New("disk on fire")
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
