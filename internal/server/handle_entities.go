package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kyleqd/sitemap/internal/collab"
	"github.com/kyleqd/sitemap/internal/editor"
	"github.com/kyleqd/sitemap/internal/geometry"
	"github.com/kyleqd/sitemap/internal/sitemap"
	"github.com/kyleqd/sitemap/internal/store"
)

type UpdateEntityRequest struct {
	Fields  map[string]any `json:"fields"`
	BaseSeq uint64         `json:"baseSeq,omitempty"`
}

type MoveRequest struct {
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Rotation *float64 `json:"rotation,omitempty"`
}

type ResizeRequest struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// OccupancyRequest sets the occupancy outright or adjusts it by Delta.
// Exactly one of the two is given.
type OccupancyRequest struct {
	Occupancy *int `json:"occupancy,omitempty"`
	Delta     *int `json:"delta,omitempty"`
}

type PowerRequest struct {
	PowerSourceID string `json:"powerSourceId"`
}

var errNoFootprint = errors.New("entity has no footprint")

// queryFloats parses the named query parameters. ok is false when none
// are present; a partial or malformed set is an error.
func queryFloats(r *http.Request, names ...string) (vals []float64, ok bool, err error) {
	q := r.URL.Query()
	present := 0
	for _, n := range names {
		if q.Has(n) {
			present++
		}
	}
	if present == 0 {
		return nil, false, nil
	}
	if present != len(names) {
		return nil, false, errors.New("incomplete coordinates")
	}
	for _, n := range names {
		v, err := strconv.ParseFloat(q.Get(n), 64)
		if err != nil {
			return nil, false, err
		}
		vals = append(vals, v)
	}
	return vals, true, nil
}

// handleListEntities lists entities, optionally of one ?kind, inside a
// region given by ?x=&y=&width=&height=.
func handleListEntities() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := workspace(r)
		q := r.URL.Query()
		kind := sitemap.Kind(q.Get("kind"))
		if kind != "" && !kind.Valid() {
			writeError(w, http.StatusBadRequest, "unknown kind "+string(kind))
			return
		}
		region, inRegion, err := queryFloats(r, "x", "y", "width", "height")
		if err != nil {
			writeError(w, http.StatusBadRequest, "region needs numeric x, y, width and height")
			return
		}

		var found []sitemap.Entity
		if inRegion {
			for _, e := range ws.Store.QueryRegion(geometry.Rect{X: region[0], Y: region[1], Width: region[2], Height: region[3]}) {
				if kind == "" || e.Kind() == kind {
					found = append(found, e)
				}
			}
		} else {
			found = ws.Store.List(kind, q.Get("includeDeleted") == "true")
		}
		if found == nil {
			found = []sitemap.Entity{}
		}
		writeJSON(w, http.StatusOK, found)
	}
}

// handlePlaceEntity decodes the entity by its "kind" member.
func handlePlaceEntity(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := workspace(r)
		data, err := readBody(w, r, maxBody)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		var head struct {
			Kind sitemap.Kind `json:"kind"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		e, err := sitemap.New(head.Kind)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := json.Unmarshal(data, e); err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+string(head.Kind)+": "+err.Error())
			return
		}
		if err := authorize(ws, userID(r), sitemap.RequiredAction(head.Kind)); err != nil {
			writeFailure(w, logger, err)
			return
		}

		res, err := ws.Store.Place(r.Context(), e, userID(r))
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, mutationResponse(ws.Store, res))
	}
}

// entityRequest loads {entityID} and checks the caller may edit it.
func entityRequest(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*editor.Workspace, sitemap.Entity, bool) {
	ws := workspace(r)
	e, err := ws.Store.Get(chi.URLParam(r, "entityID"))
	if err != nil {
		writeFailure(w, logger, err)
		return nil, nil, false
	}
	if err := authorize(ws, userID(r), sitemap.RequiredAction(e.Kind())); err != nil {
		writeFailure(w, logger, err)
		return nil, nil, false
	}
	return ws, e, true
}

func handleGetEntity(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := workspace(r).Store.Get(chi.URLParam(r, "entityID"))
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

// handleUpdateEntity goes through the collaboration session so REST edits
// take part in conflict detection like websocket edits do.
func handleUpdateEntity(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := workspace(r)
		var req UpdateEntityRequest
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		user := userID(r)
		if user == "" {
			writeError(w, http.StatusForbidden, userHeader+" header required")
			return
		}
		res, notices, err := ws.Session.ApplyEdit(r.Context(), user, collab.Edit{
			EntityID: chi.URLParam(r, "entityID"),
			Fields:   req.Fields,
			BaseSeq:  req.BaseSeq,
		})
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		out := mutationResponse(ws.Store, res)
		out.Conflicts = notices
		writeJSON(w, http.StatusOK, out)
	}
}

func handleDeleteEntity(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, e, ok := entityRequest(w, r, logger)
		if !ok {
			return
		}
		res, err := ws.Store.Delete(r.Context(), e.Header().ID, userID(r))
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, mutationResponse(ws.Store, res))
	}
}

func handleMoveEntity(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, e, ok := entityRequest(w, r, logger)
		if !ok {
			return
		}
		var req MoveRequest
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		sp, isSpatial := e.(sitemap.Spatial)
		if !isSpatial {
			writeError(w, http.StatusBadRequest, errNoFootprint.Error())
			return
		}
		rotation := sp.Footprint().Rotation
		if req.Rotation != nil {
			rotation = *req.Rotation
		}
		res, err := ws.Store.Move(r.Context(), e.Header().ID, req.X, req.Y, rotation, userID(r))
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, mutationResponse(ws.Store, res))
	}
}

func handleResizeEntity(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, e, ok := entityRequest(w, r, logger)
		if !ok {
			return
		}
		var req ResizeRequest
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		res, err := ws.Store.Resize(r.Context(), e.Header().ID, req.Width, req.Height, userID(r))
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, mutationResponse(ws.Store, res))
	}
}

func handleOccupancy(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, e, ok := entityRequest(w, r, logger)
		if !ok {
			return
		}
		var req OccupancyRequest
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if (req.Occupancy == nil) == (req.Delta == nil) {
			writeError(w, http.StatusBadRequest, "give exactly one of occupancy and delta")
			return
		}
		id, by := e.Header().ID, userID(r)
		var (
			res store.Result
			err error
		)
		if req.Occupancy != nil {
			res, err = ws.Store.SetOccupancy(r.Context(), id, *req.Occupancy, by)
		} else {
			res, err = ws.Store.AdjustOccupancy(r.Context(), id, *req.Delta, by)
		}
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, mutationResponse(ws.Store, res))
	}
}

func handleZoneTents(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tents, err := workspace(r).Store.TentsInZone(chi.URLParam(r, "entityID"))
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		if tents == nil {
			tents = []*sitemap.Tent{}
		}
		writeJSON(w, http.StatusOK, tents)
	}
}

func handlePowerLoad(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		load, err := workspace(r).Store.PowerLoad(chi.URLParam(r, "entityID"))
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, load)
	}
}

func handleConnectPower(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, e, ok := entityRequest(w, r, logger)
		if !ok {
			return
		}
		var req PowerRequest
		if err := readJSON(w, r, &req); err != nil || req.PowerSourceID == "" {
			writeError(w, http.StatusBadRequest, "powerSourceId is required")
			return
		}
		res, err := ws.Store.ConnectPower(r.Context(), e.Header().ID, req.PowerSourceID, userID(r))
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, mutationResponse(ws.Store, res))
	}
}

func handleDisconnectPower(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, e, ok := entityRequest(w, r, logger)
		if !ok {
			return
		}
		res, err := ws.Store.DisconnectPower(r.Context(), e.Header().ID, userID(r))
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, mutationResponse(ws.Store, res))
	}
}

func handleBookTent(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, e, ok := entityRequest(w, r, logger)
		if !ok {
			return
		}
		var req sitemap.Booking
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		res, err := ws.Store.BookTent(r.Context(), e.Header().ID, req, userID(r))
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, mutationResponse(ws.Store, res))
	}
}

func handleCheckIn(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, e, ok := entityRequest(w, r, logger)
		if !ok {
			return
		}
		res, err := ws.Store.CheckIn(r.Context(), e.Header().ID, userID(r))
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, mutationResponse(ws.Store, res))
	}
}

func handleCheckOut(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, e, ok := entityRequest(w, r, logger)
		if !ok {
			return
		}
		res, err := ws.Store.CheckOut(r.Context(), e.Header().ID, userID(r))
		if err != nil {
			writeFailure(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, mutationResponse(ws.Store, res))
	}
}
