package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kyleqd/sitemap/internal/sitemap"
	"github.com/kyleqd/sitemap/internal/store"
)

type ReportIssueRequest struct {
	EntityID    string                `json:"entityId"`
	Type        sitemap.IssueType     `json:"type,omitempty"`
	Severity    sitemap.IssueSeverity `json:"severity,omitempty"`
	Title       string                `json:"title"`
	Description string                `json:"description,omitempty"`
}

// handleListIssues filters by ?entityId=, ?status= and ?type=.
func handleListIssues() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		writeJSON(w, http.StatusOK, workspace(r).Store.Issues(store.IssueFilter{
			EntityID: q.Get("entityId"),
			Status:   sitemap.IssueStatus(q.Get("status")),
			Type:     sitemap.IssueType(q.Get("type")),
		}))
	}
}

func handleReportIssue(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := workspace(r)
		if err := authorize(ws, userID(r), sitemap.ActionEdit); err != nil {
			writeFailure(w, logger, err)
			return
		}
		var req ReportIssueRequest
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		res, err := ws.Store.ReportIssue(r.Context(), sitemap.MapIssue{
			EntityID:    req.EntityID,
			Type:        req.Type,
			Severity:    req.Severity,
			Title:       req.Title,
			Description: req.Description,
		}, userID(r))
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		iss, err := ws.Store.Issue(res.EntityID)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, iss)
	}
}

func handleResolveIssue(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := workspace(r)
		if err := authorize(ws, userID(r), sitemap.ActionEdit); err != nil {
			writeFailure(w, logger, err)
			return
		}
		id := chi.URLParam(r, "issueID")
		if _, err := ws.Store.ResolveIssue(r.Context(), id, userID(r)); err != nil {
			writeFailure(w, logger, err)
			return
		}
		iss, err := ws.Store.Issue(id)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, iss)
	}
}
