package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kyleqd/sitemap/internal/collab"
	"github.com/kyleqd/sitemap/internal/editor"
	"github.com/kyleqd/sitemap/internal/sitemap"
)

// userHeader names the caller. Authentication happens in front of this
// service; the header is trusted as is.
const userHeader = "X-User-ID"

type ctxKey int

const ctxKeyWorkspace ctxKey = iota

func mapMiddleware(logger *slog.Logger, reg *editor.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "mapID")
			if id == "" {
				writeError(w, http.StatusNotFound, "map not found")
				return
			}

			ws, err := reg.Get(r.Context(), id)
			if err != nil {
				writeFailure(w, logger, err)
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyWorkspace, ws)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func workspace(r *http.Request) *editor.Workspace {
	return r.Context().Value(ctxKeyWorkspace).(*editor.Workspace)
}

func userID(r *http.Request) string {
	return r.Header.Get(userHeader)
}

// authorize checks that the caller may perform action on the map. The
// owner may do anything; everyone else needs a live collaborator grant.
func authorize(ws *editor.Workspace, user string, action sitemap.Action) error {
	if user == "" {
		return fmt.Errorf("%w: %s header required", collab.ErrForbidden, userHeader)
	}
	if ws.Store.Map().OwnerID == user {
		return nil
	}
	c, ok := ws.Store.Collaborator(user)
	if ok && sitemap.CanPerform(c, action, time.Now()) {
		return nil
	}
	return fmt.Errorf("%w: %s may not %s", collab.ErrForbidden, user, action)
}
