package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kyleqd/sitemap/internal/sitemap"
	"github.com/kyleqd/sitemap/internal/versioning"
)

type CreateVersionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type SetCurrentVersionRequest struct {
	VersionID string `json:"versionId"`
}

func handleListVersions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, workspace(r).Versions.List())
	}
}

func handleCreateVersion(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := workspace(r)
		if err := authorize(ws, userID(r), sitemap.ActionEdit); err != nil {
			writeFailure(w, logger, err)
			return
		}
		var req CreateVersionRequest
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		v, err := ws.Versions.CreateVersion(r.Context(), strings.TrimSpace(req.Name), req.Description, userID(r))
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, v.Summary())
	}
}

// handleGetVersion returns the version with its snapshot.
func handleGetVersion(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := workspace(r).Versions.Get(chi.URLParam(r, "versionID"))
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func handleCurrentVersion() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, ok := workspace(r).Versions.Current()
		if !ok {
			writeError(w, http.StatusNotFound, "no current version")
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func handleSetCurrentVersion(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := workspace(r)
		if err := authorize(ws, userID(r), sitemap.ActionEdit); err != nil {
			writeFailure(w, logger, err)
			return
		}
		var req SetCurrentVersionRequest
		if err := readJSON(w, r, &req); err != nil || req.VersionID == "" {
			writeError(w, http.StatusBadRequest, "versionId is required")
			return
		}
		if err := ws.Versions.SetCurrent(r.Context(), req.VersionID); err != nil {
			writeFailure(w, logger, err)
			return
		}
		v, _ := ws.Versions.Current()
		writeJSON(w, http.StatusOK, v)
	}
}

func handleRestoreVersion(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := workspace(r)
		if err := authorize(ws, userID(r), sitemap.ActionEdit); err != nil {
			writeFailure(w, logger, err)
			return
		}
		res, err := ws.Versions.Restore(r.Context(), chi.URLParam(r, "versionID"), userID(r))
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// handleCompareVersions diffs ?from= against ?to=, or against the live
// state when to is absent.
func handleCompareVersions(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := workspace(r)
		from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
		if from == "" {
			writeError(w, http.StatusBadRequest, "from is required")
			return
		}
		var (
			d   versioning.Diff
			err error
		)
		if to == "" || to == "live" {
			d, err = ws.Versions.CompareLive(from)
		} else {
			d, err = ws.Versions.Compare(from, to)
		}
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}
