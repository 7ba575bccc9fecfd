package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/kyleqd/sitemap/internal/collab"
	"github.com/kyleqd/sitemap/internal/editor"
	"github.com/kyleqd/sitemap/internal/persist"
	"github.com/kyleqd/sitemap/internal/rules"
	"github.com/kyleqd/sitemap/internal/sitemap"
	"github.com/kyleqd/sitemap/internal/store"
)

type CreateMapRequest struct {
	ID              string  `json:"id,omitempty"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	EventID         string  `json:"eventId,omitempty"`
	Width           float64 `json:"width"`
	Height          float64 `json:"height"`
	Scale           float64 `json:"scale"`
	BackgroundColor string  `json:"backgroundColor,omitempty"`
	GridSize        float64 `json:"gridSize,omitempty"`
}

type MapResponse struct {
	Map sitemap.SiteMap `json:"map"`
	Seq uint64          `json:"seq"`
}

type StatusRequest struct {
	Status sitemap.MapStatus `json:"status"`
}

// MutationResponse reports a committed change. Entity is the entity as it
// is after the change, when it still exists.
type MutationResponse struct {
	EntityID  string                  `json:"entityId"`
	Seq       uint64                  `json:"seq"`
	Warnings  []rules.Violation       `json:"warnings"`
	Entity    sitemap.Entity          `json:"entity,omitempty"`
	Conflicts []collab.ConflictNotice `json:"conflicts,omitempty"`
}

func mutationResponse(st *store.Store, res store.Result) MutationResponse {
	out := MutationResponse{EntityID: res.EntityID, Seq: res.Seq, Warnings: res.Warnings}
	if out.Warnings == nil {
		out.Warnings = []rules.Violation{}
	}
	if e, err := st.Get(res.EntityID); err == nil {
		out.Entity = e
	}
	return out
}

func handleListCatalog(reg *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, reg.Catalog().List(r.URL.Query().Get("owner")))
	}
}

func handlePutCatalog(logger *slog.Logger, reg *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userID(r)
		if user == "" {
			writeError(w, http.StatusForbidden, userHeader+" header required")
			return
		}
		var entry sitemap.CatalogEntry
		if err := readJSON(w, r, &entry); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if entry.OwnerID == "" {
			entry.OwnerID = user
		}
		if err := reg.Catalog().Put(entry); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Info("catalog entry saved", "entry", entry.ID, "owner", entry.OwnerID)
		writeJSON(w, http.StatusOK, entry)
	}
}

func handleListMaps(logger *slog.Logger, reg *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		maps, err := reg.List(r.Context())
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, maps)
	}
}

func handleCreateMap(logger *slog.Logger, reg *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := userID(r)
		if owner == "" {
			writeError(w, http.StatusForbidden, userHeader+" header required")
			return
		}
		var req CreateMapRequest
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Name = strings.TrimSpace(req.Name)

		ws, err := reg.Create(r.Context(), sitemap.SiteMap{
			ID:              req.ID,
			OwnerID:         owner,
			EventID:         req.EventID,
			Name:            req.Name,
			Description:     req.Description,
			Width:           req.Width,
			Height:          req.Height,
			Scale:           req.Scale,
			BackgroundColor: req.BackgroundColor,
			GridSize:        req.GridSize,
		})
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		logger.Info("map created", "map", ws.Store.ID(), "owner", owner)
		writeJSON(w, http.StatusCreated, MapResponse{Map: ws.Store.Map(), Seq: ws.Store.Seq()})
	}
}

func handleImportMap(logger *slog.Logger, reg *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := readBody(w, r, maxImportBody)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		x, err := store.UnmarshalExport(data)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		ws, err := reg.Import(r.Context(), x)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		logger.Info("map imported", "map", ws.Store.ID(), "entities", len(x.Entities()))
		writeJSON(w, http.StatusCreated, MapResponse{Map: ws.Store.Map(), Seq: ws.Store.Seq()})
	}
}

func handleGetMap() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := workspace(r)
		writeJSON(w, http.StatusOK, MapResponse{Map: ws.Store.Map(), Seq: ws.Store.Seq()})
	}
}

func handleUpdateMap(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := workspace(r)
		if err := authorize(ws, userID(r), sitemap.ActionEdit); err != nil {
			writeFailure(w, logger, err)
			return
		}
		var req store.MapSettings
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		res, err := ws.Store.UpdateMap(r.Context(), req, userID(r))
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, MapResponse{Map: ws.Store.Map(), Seq: res.Seq})
	}
}

// Only the owner publishes or archives a map.
func handleSetMapStatus(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := workspace(r)
		if user := userID(r); user == "" || user != ws.Store.Map().OwnerID {
			writeError(w, http.StatusForbidden, "only the map owner may change its status")
			return
		}
		var req StatusRequest
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		res, err := ws.Store.SetMapStatus(r.Context(), req.Status, userID(r))
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		logger.Info("map status changed", "map", ws.Store.ID(), "status", req.Status)
		writeJSON(w, http.StatusOK, MapResponse{Map: ws.Store.Map(), Seq: res.Seq})
	}
}

func handleExportMap(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := workspace(r)
		if err := authorize(ws, userID(r), sitemap.ActionExport); err != nil {
			writeFailure(w, logger, err)
			return
		}
		data, err := store.MarshalExport(ws.Store.Export())
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+ws.Store.ID()+`.json"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

// handleChanges pages through the persisted change log with ?after= and
// ?limit=.
func handleChanges(logger *slog.Logger, reg *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var after uint64
		if s := q.Get("after"); s != "" {
			n, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "after must be a sequence number")
				return
			}
			after = n
		}
		limit := 100
		if s := q.Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 || n > 1000 {
				writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
				return
			}
			limit = n
		}

		changes, err := reg.Changes(r.Context(), workspace(r).Store.ID(), after, limit)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		if changes == nil {
			changes = []persist.ChangeRecord{}
		}
		writeJSON(w, http.StatusOK, changes)
	}
}

func handlePresence() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, workspace(r).Session.Presences())
	}
}
