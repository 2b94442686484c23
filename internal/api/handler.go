package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cimonitor/cimonitor/internal/metrics"
	"github.com/cimonitor/cimonitor/internal/store"
)

// Handler serves the dashboard API.
type Handler struct {
	src    *Source
	router chi.Router
}

// New returns the dashboard router wired to src.
func New(src *Source) http.Handler {
	h := &Handler{src: src, router: chi.NewRouter()}

	r := h.router
	r.Use(middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Get("/dashboard", h.dashboard)
		r.Route("/projects", func(r chi.Router) {
			r.Get("/", h.listProjects)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getProject)
				r.Get("/statuses", h.projectStatuses)
				r.Get("/tree", h.projectTree)
			})
		})
		r.Route("/groups", func(r chi.Router) {
			r.Get("/", h.listGroups)
			r.Get("/{id}", h.getGroup)
		})
	})
	r.Handle("/metrics", metrics.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	projects, err := h.src.projects(r.Context())
	if err != nil {
		internalErr(w, "health", err)
		return
	}
	jsonResp(w, http.StatusOK, healthOf(projects))
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := BuildDashboard(r.Context(), h.src)
	if err != nil {
		internalErr(w, "dashboard", err)
		return
	}
	jsonResp(w, http.StatusOK, d)
}

func (h *Handler) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.src.projects(r.Context())
	if err != nil {
		internalErr(w, "list projects", err)
		return
	}
	jsonResp(w, http.StatusOK, projects)
}

func (h *Handler) getProject(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookupProject(w, r)
	if !ok {
		return
	}
	pr, err := h.src.project(r.Context(), p)
	if err != nil {
		internalErr(w, "get project", err)
		return
	}
	jsonResp(w, http.StatusOK, pr)
}

// projectStatuses returns the recorded history, oldest first. ?since=N
// limits it to statuses with id >= N.
func (h *Handler) projectStatuses(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookupProject(w, r)
	if !ok {
		return
	}
	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			jsonErr(w, http.StatusBadRequest, "since must be a non-negative integer")
			return
		}
		since = n
	}
	sts, err := h.src.history.StatusesSince(r.Context(), p.ID, since)
	if err != nil {
		internalErr(w, "project statuses", err)
		return
	}
	jsonResp(w, http.StatusOK, sts)
}

func (h *Handler) projectTree(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookupProject(w, r)
	if !ok {
		return
	}
	n, ok := h.src.tree(p.ID)
	if !ok {
		jsonErr(w, http.StatusNotFound, "no dependency tree for project")
		return
	}
	jsonResp(w, http.StatusOK, n.View(r.Context()))
}

func (h *Handler) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.src.groupResponses(r.Context())
	if err != nil {
		internalErr(w, "list groups", err)
		return
	}
	jsonResp(w, http.StatusOK, groups)
}

func (h *Handler) getGroup(w http.ResponseWriter, r *http.Request) {
	def, ok := h.src.group(chi.URLParam(r, "id"))
	if !ok {
		jsonErr(w, http.StatusNotFound, "group not found")
		return
	}
	gr, err := h.src.groupResponse(r.Context(), def)
	if err != nil {
		internalErr(w, "get group", err)
		return
	}
	jsonResp(w, http.StatusOK, gr)
}

// --- helpers ----------------------------------------------------------------

func (h *Handler) lookupProject(w http.ResponseWriter, r *http.Request) (store.Project, bool) {
	p, err := h.src.registry.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		jsonErr(w, http.StatusNotFound, "project not found")
		return p, false
	case err != nil:
		internalErr(w, "get project", err)
		return p, false
	}
	return p, true
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func internalErr(w http.ResponseWriter, op string, err error) {
	slog.Error("api: "+op, "err", err)
	jsonErr(w, http.StatusInternalServerError, "internal error")
}
