package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kyleqd/sitemap/internal/sitemap"
	"github.com/kyleqd/sitemap/internal/tasks"
)

type TransitionTaskRequest struct {
	Status tasks.Status `json:"status"`
	Note   string       `json:"note,omitempty"`
}

type AssignTaskRequest struct {
	AssigneeID string `json:"assigneeId"`
}

// handleListTasks filters by ?elementId=, ?status= and ?assigneeId=.
func handleListTasks() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		writeJSON(w, http.StatusOK, workspace(r).Tasks.List(tasks.Filter{
			ElementID:  q.Get("elementId"),
			Status:     tasks.Status(q.Get("status")),
			AssigneeID: q.Get("assigneeId"),
		}))
	}
}

func handleCreateTask(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := workspace(r)
		if err := authorize(ws, userID(r), sitemap.ActionEdit); err != nil {
			writeFailure(w, logger, err)
			return
		}
		var req tasks.NewTask
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		v, err := ws.Tasks.Create(r.Context(), req, userID(r))
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, v)
	}
}

func handleGetTask(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := workspace(r).Tasks.Get(chi.URLParam(r, "taskID"))
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// handleTransitionTask lets the assignee move their own task; anyone else
// needs edit rights on the map.
func handleTransitionTask(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := workspace(r)
		cur, err := ws.Tasks.Get(chi.URLParam(r, "taskID"))
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		user := userID(r)
		if user == "" || user != cur.AssigneeID {
			if err := authorize(ws, user, sitemap.ActionEdit); err != nil {
				writeFailure(w, logger, err)
				return
			}
		}
		var req TransitionTaskRequest
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		v, err := ws.Tasks.Transition(r.Context(), cur.ID, req.Status, user, req.Note)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func handleAssignTask(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := workspace(r)
		if err := authorize(ws, userID(r), sitemap.ActionEdit); err != nil {
			writeFailure(w, logger, err)
			return
		}
		var req AssignTaskRequest
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		v, err := ws.Tasks.Assign(r.Context(), chi.URLParam(r, "taskID"), req.AssigneeID)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}
