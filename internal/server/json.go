package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/kyleqd/sitemap/internal/collab"
	"github.com/kyleqd/sitemap/internal/editor"
	"github.com/kyleqd/sitemap/internal/rules"
	"github.com/kyleqd/sitemap/internal/sitemap"
	"github.com/kyleqd/sitemap/internal/store"
	"github.com/kyleqd/sitemap/internal/tasks"
	"github.com/kyleqd/sitemap/internal/versioning"
)

const (
	maxBody       = 1 << 20
	maxImportBody = 32 << 20
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v)
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// errorStatus maps an engine error to its HTTP status.
func errorStatus(err error) int {
	var verr *rules.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, versioning.ErrNotFound),
		errors.Is(err, tasks.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, collab.ErrForbidden),
		errors.Is(err, collab.ErrUnknownUser):
		return http.StatusForbidden
	case errors.Is(err, store.ErrExists),
		errors.Is(err, store.ErrArchived),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, tasks.ErrInvalidTransition),
		errors.Is(err, sitemap.ErrTentTransition):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalid),
		errors.Is(err, store.ErrInvalidExport),
		errors.Is(err, tasks.ErrInvalid),
		errors.Is(err, sitemap.ErrInvalidMap),
		errors.Is(err, collab.ErrBadEvent):
		return http.StatusBadRequest
	case errors.Is(err, editor.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeFailure writes err with its status. Rule rejections carry the
// violations so clients can highlight them.
func writeFailure(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := errorStatus(err)
	var verr *rules.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, status, ValidationErrorResponse{
			Error:      verr.Error(),
			Rule:       verr.RuleID,
			Violations: verr.Violations,
		})
	case status == http.StatusInternalServerError:
		logger.Error("request failed", "error", err)
		writeError(w, status, "internal error")
	default:
		writeError(w, status, err.Error())
	}
}
