package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kyleqd/sitemap/internal/geometry"
	"github.com/kyleqd/sitemap/internal/sitemap"
	"github.com/kyleqd/sitemap/internal/store"
)

type CreateLayerRequest struct {
	Name   string            `json:"name"`
	Type   sitemap.LayerType `json:"type"`
	ZIndex *int              `json:"zIndex,omitempty"`
}

type UpdateLayerRequest struct {
	Visible *bool `json:"visible,omitempty"`
	Locked  *bool `json:"locked,omitempty"`
}

type ReorderLayersRequest struct {
	LayerIDs []string `json:"layerIds"`
}

type RenderOrderResponse struct {
	EntityIDs []string `json:"entityIds"`
}

type HitResponse struct {
	Hit    bool           `json:"hit"`
	Entity sitemap.Entity `json:"entity,omitempty"`
}

func handleListLayers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		layers := workspace(r).Layers.Layers()
		if layers == nil {
			layers = []*sitemap.Layer{}
		}
		writeJSON(w, http.StatusOK, layers)
	}
}

func handleCreateLayer(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := workspace(r)
		if err := authorize(ws, userID(r), sitemap.ActionEdit); err != nil {
			writeFailure(w, logger, err)
			return
		}
		var req CreateLayerRequest
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}
		res, err := ws.Layers.Create(r.Context(), req.Name, req.Type, req.ZIndex, userID(r))
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, mutationResponse(ws.Store, res))
	}
}

// handleUpdateLayer toggles visibility and locking. Both may change in
// one request; they commit as separate changes.
func handleUpdateLayer(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := workspace(r)
		if err := authorize(ws, userID(r), sitemap.ActionEdit); err != nil {
			writeFailure(w, logger, err)
			return
		}
		var req UpdateLayerRequest
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Visible == nil && req.Locked == nil {
			writeError(w, http.StatusBadRequest, "nothing to update")
			return
		}
		id, by := chi.URLParam(r, "layerID"), userID(r)
		if _, err := ws.Store.Get(id); err != nil {
			writeFailure(w, logger, err)
			return
		}

		var res store.Result
		var err error
		if req.Visible != nil {
			if res, err = ws.Layers.SetVisible(r.Context(), id, *req.Visible, by); err != nil {
				writeFailure(w, logger, err)
				return
			}
		}
		if req.Locked != nil {
			if res, err = ws.Layers.SetLocked(r.Context(), id, *req.Locked, by); err != nil {
				writeFailure(w, logger, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, mutationResponse(ws.Store, res))
	}
}

func handleReorderLayers(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := workspace(r)
		if err := authorize(ws, userID(r), sitemap.ActionEdit); err != nil {
			writeFailure(w, logger, err)
			return
		}
		var req ReorderLayersRequest
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := ws.Layers.Reorder(r.Context(), req.LayerIDs, userID(r)); err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, ws.Layers.Layers())
	}
}

func handleRenderOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids := workspace(r).Layers.RenderOrder()
		if ids == nil {
			ids = []string{}
		}
		writeJSON(w, http.StatusOK, RenderOrderResponse{EntityIDs: ids})
	}
}

// handleHitTest returns the topmost visible entity at ?x=&y=.
func handleHitTest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok, err := queryFloats(r, "x", "y")
		if err != nil || !ok {
			writeError(w, http.StatusBadRequest, "numeric x and y are required")
			return
		}
		e, hit := workspace(r).Layers.HitTest(geometry.Point{X: p[0], Y: p[1]})
		writeJSON(w, http.StatusOK, HitResponse{Hit: hit, Entity: e})
	}
}
