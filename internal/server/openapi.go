package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"
	"github.com/swaggest/swgui/v5emb"

	"github.com/kyleqd/sitemap/internal/collab"
	"github.com/kyleqd/sitemap/internal/persist"
	"github.com/kyleqd/sitemap/internal/rules"
	"github.com/kyleqd/sitemap/internal/sitemap"
	"github.com/kyleqd/sitemap/internal/store"
	"github.com/kyleqd/sitemap/internal/tasks"
	"github.com/kyleqd/sitemap/internal/versioning"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ValidationErrorResponse is returned when a change breaks a hard rule.
type ValidationErrorResponse struct {
	Error      string            `json:"error"`
	Rule       string            `json:"rule"`
	Violations []rules.Violation `json:"violations"`
}

type HealthStatus struct {
	Status  string `json:"status"`
	Latency string `json:"latency"`
}

type HealthResponse map[string]HealthStatus

// Path and query parameters, for documentation only.
type (
	catalogQuery struct {
		Owner string `query:"owner"`
	}
	mapParams struct {
		MapID string `path:"mapID"`
	}
	entityParams struct {
		MapID    string `path:"mapID"`
		EntityID string `path:"entityID"`
	}
	layerParams struct {
		MapID   string `path:"mapID"`
		LayerID string `path:"layerID"`
	}
	issueParams struct {
		MapID   string `path:"mapID"`
		IssueID string `path:"issueID"`
	}
	versionParams struct {
		MapID     string `path:"mapID"`
		VersionID string `path:"versionID"`
	}
	taskParams struct {
		MapID  string `path:"mapID"`
		TaskID string `path:"taskID"`
	}
	entityQuery struct {
		MapID          string       `path:"mapID"`
		Kind           sitemap.Kind `query:"kind"`
		IncludeDeleted bool         `query:"includeDeleted"`
		X              *float64     `query:"x"`
		Y              *float64     `query:"y"`
		Width          *float64     `query:"width"`
		Height         *float64     `query:"height"`
	}
	hitQuery struct {
		MapID string  `path:"mapID"`
		X     float64 `query:"x" required:"true"`
		Y     float64 `query:"y" required:"true"`
	}
	issueQuery struct {
		MapID    string              `path:"mapID"`
		EntityID string              `query:"entityId"`
		Status   sitemap.IssueStatus `query:"status"`
		Type     sitemap.IssueType   `query:"type"`
	}
	taskQuery struct {
		MapID      string       `path:"mapID"`
		ElementID  string       `query:"elementId"`
		Status     tasks.Status `query:"status"`
		AssigneeID string       `query:"assigneeId"`
	}
	compareQuery struct {
		MapID string `path:"mapID"`
		From  string `query:"from" required:"true"`
		To    string `query:"to"`
	}
	changesQuery struct {
		MapID string `path:"mapID"`
		After uint64 `query:"after"`
		Limit int    `query:"limit"`
	}
	collabQuery struct {
		MapID string `path:"mapID"`
		User  string `query:"user"`
		Name  string `query:"name"`
	}
	userHeaderParam struct {
		UserID string `header:"X-User-ID"`
	}
)

type response struct {
	body   any
	status int
}

func respOK(body any) response      { return response{body, http.StatusOK} }
func respCreated(body any) response { return response{body, http.StatusCreated} }
func respFailed(status int) response {
	if status == http.StatusUnprocessableEntity {
		return response{ValidationErrorResponse{}, status}
	}
	return response{ErrorResponse{}, status}
}

func addOperation(r *openapi3.Reflector, method, path, summary, description string, req []any, resps ...response) {
	oc, err := r.NewOperationContext(method, path)
	if err != nil {
		return
	}
	oc.SetSummary(summary)
	oc.SetDescription(description)
	for _, s := range req {
		oc.AddReqStructure(s)
	}
	for _, resp := range resps {
		oc.AddRespStructure(resp.body, openapi.WithHTTPStatus(resp.status))
	}
	_ = r.AddOperation(oc)
}

func withUser(structs ...any) []any { return append(structs, userHeaderParam{}) }

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "Site Map Editor API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Collaborative editing of event site maps: zones, tents, equipment, power, layers, versions and tasks.")

	const (
		get   = http.MethodGet
		post  = http.MethodPost
		put   = http.MethodPut
		patch = http.MethodPatch
		del   = http.MethodDelete
	)
	notFound := respFailed(http.StatusNotFound)
	badRequest := respFailed(http.StatusBadRequest)
	forbidden := respFailed(http.StatusForbidden)
	conflict := respFailed(http.StatusConflict)
	rejected := respFailed(http.StatusUnprocessableEntity)

	addOperation(r, get, "/healthz", "Health check",
		"Returns the health status of backend dependencies.", nil,
		respOK(HealthResponse{}), response{HealthResponse{}, http.StatusServiceUnavailable})

	addOperation(r, get, "/api/catalog", "List equipment catalog",
		"Returns catalog entries, optionally of one owner.", []any{catalogQuery{}},
		respOK([]sitemap.CatalogEntry{}))
	addOperation(r, post, "/api/catalog", "Save catalog entry",
		"Creates or replaces an equipment catalog entry.", withUser(sitemap.CatalogEntry{}),
		respOK(sitemap.CatalogEntry{}), badRequest, forbidden)

	addOperation(r, get, "/api/maps", "List maps",
		"Returns every known map.", nil,
		respOK([]persist.MapSummary{}))
	addOperation(r, post, "/api/maps", "Create map",
		"Creates an empty draft map owned by the caller.", withUser(CreateMapRequest{}),
		respCreated(MapResponse{}), badRequest, forbidden, conflict)
	addOperation(r, post, "/api/maps/import", "Import map",
		"Creates a map from an export document. The map id must be new.", []any{sitemap.Export{}},
		respCreated(MapResponse{}), badRequest, conflict, rejected)

	addOperation(r, get, "/api/maps/{mapID}", "Get map",
		"Returns the map settings and current sequence.", []any{mapParams{}},
		respOK(MapResponse{}), notFound)
	addOperation(r, patch, "/api/maps/{mapID}", "Update map settings",
		"Changes name, canvas size, scale and display settings. Shrinking the canvas below a live entity is rejected.",
		withUser(mapParams{}, store.MapSettings{}),
		respOK(MapResponse{}), badRequest, forbidden, notFound, conflict, rejected)
	addOperation(r, put, "/api/maps/{mapID}/status", "Set map status",
		"Publishes or archives the map. Owner only.", withUser(mapParams{}, StatusRequest{}),
		respOK(MapResponse{}), badRequest, forbidden, notFound, conflict)
	addOperation(r, get, "/api/maps/{mapID}/export", "Export map",
		"Returns the full export document.", withUser(mapParams{}),
		respOK(sitemap.Export{}), forbidden, notFound)
	addOperation(r, get, "/api/maps/{mapID}/changes", "Change log",
		"Pages through persisted change records after a sequence number.", []any{changesQuery{}},
		respOK([]persist.ChangeRecord{}), badRequest, notFound)
	addOperation(r, get, "/api/maps/{mapID}/presence", "Presence",
		"Returns the users connected to the map.", []any{mapParams{}},
		respOK([]collab.Presence{}), notFound)
	addOperation(r, get, "/api/maps/{mapID}/events", "Event stream",
		"Server-sent events for every session event. Change events carry their sequence as the event id.",
		withUser(mapParams{}),
		response{nil, http.StatusOK})
	addOperation(r, get, "/api/maps/{mapID}/collab", "Collaboration socket",
		"Upgrades to a websocket exchanging collaboration events: join, leave, heartbeat, cursor, selection, edit, change and conflict.",
		withUser(collabQuery{}),
		response{nil, http.StatusSwitchingProtocols}, forbidden, notFound)

	addOperation(r, get, "/api/maps/{mapID}/entities", "List entities",
		"Lists live entities, optionally of one kind or inside a region.", []any{entityQuery{}},
		respOK([]any{}), badRequest, notFound)
	addOperation(r, post, "/api/maps/{mapID}/entities", "Place entity",
		"Places a new entity. The body is the entity with a kind member.", withUser(mapParams{}),
		respCreated(MutationResponse{}), badRequest, forbidden, notFound, conflict, rejected)
	addOperation(r, get, "/api/maps/{mapID}/entities/{entityID}", "Get entity",
		"Returns one entity, including soft-deleted ones.", []any{entityParams{}},
		respOK(map[string]any{}), notFound)
	addOperation(r, patch, "/api/maps/{mapID}/entities/{entityID}", "Update entity",
		"Applies a field-level edit. Overwriting another user's unseen write sends them a conflict notice.",
		withUser(entityParams{}, UpdateEntityRequest{}),
		respOK(MutationResponse{}), badRequest, forbidden, notFound, conflict, rejected)
	addOperation(r, del, "/api/maps/{mapID}/entities/{entityID}", "Delete entity",
		"Soft-deletes an entity and detaches what depends on it.", withUser(entityParams{}),
		respOK(MutationResponse{}), forbidden, notFound, conflict)
	addOperation(r, post, "/api/maps/{mapID}/entities/{entityID}/move", "Move entity",
		"Moves a spatial entity, keeping its size.", withUser(entityParams{}, MoveRequest{}),
		respOK(MutationResponse{}), badRequest, forbidden, notFound, conflict, rejected)
	addOperation(r, post, "/api/maps/{mapID}/entities/{entityID}/resize", "Resize entity",
		"Resizes a spatial entity from its top-left corner.", withUser(entityParams{}, ResizeRequest{}),
		respOK(MutationResponse{}), badRequest, forbidden, notFound, conflict, rejected)
	addOperation(r, post, "/api/maps/{mapID}/entities/{entityID}/occupancy", "Zone occupancy",
		"Sets or adjusts a zone's occupancy.", withUser(entityParams{}, OccupancyRequest{}),
		respOK(MutationResponse{}), badRequest, forbidden, notFound, rejected)
	addOperation(r, get, "/api/maps/{mapID}/entities/{entityID}/tents", "Tents in zone",
		"Lists the live tents assigned to a zone.", []any{entityParams{}},
		respOK([]sitemap.Tent{}), notFound)
	addOperation(r, get, "/api/maps/{mapID}/entities/{entityID}/load", "Power load",
		"Returns the load on a power distribution point and its consumers.", []any{entityParams{}},
		respOK(store.PowerLoad{}), notFound)
	addOperation(r, put, "/api/maps/{mapID}/entities/{entityID}/power", "Connect power",
		"Connects equipment to a power source.", withUser(entityParams{}, PowerRequest{}),
		respOK(MutationResponse{}), badRequest, forbidden, notFound, rejected)
	addOperation(r, del, "/api/maps/{mapID}/entities/{entityID}/power", "Disconnect power",
		"Disconnects equipment from its power source.", withUser(entityParams{}),
		respOK(MutationResponse{}), forbidden, notFound)
	addOperation(r, post, "/api/maps/{mapID}/entities/{entityID}/booking", "Book tent",
		"Reserves an available tent for a guest.", withUser(entityParams{}, sitemap.Booking{}),
		respOK(MutationResponse{}), badRequest, forbidden, notFound, conflict)
	addOperation(r, post, "/api/maps/{mapID}/entities/{entityID}/checkin", "Check in",
		"Checks the guest into a reserved tent.", withUser(entityParams{}),
		respOK(MutationResponse{}), forbidden, notFound, conflict)
	addOperation(r, post, "/api/maps/{mapID}/entities/{entityID}/checkout", "Check out",
		"Checks the guest out; the tent needs cleaning afterwards.", withUser(entityParams{}),
		respOK(MutationResponse{}), forbidden, notFound, conflict)

	addOperation(r, get, "/api/maps/{mapID}/layers", "List layers",
		"Returns live layers bottom to top.", []any{mapParams{}},
		respOK([]sitemap.Layer{}), notFound)
	addOperation(r, post, "/api/maps/{mapID}/layers", "Create layer",
		"Adds a layer, on top unless a z-index is given.", withUser(mapParams{}, CreateLayerRequest{}),
		respCreated(MutationResponse{}), badRequest, forbidden, notFound)
	addOperation(r, put, "/api/maps/{mapID}/layers/order", "Reorder layers",
		"Assigns z-indexes following the given ids, bottom first.", withUser(mapParams{}, ReorderLayersRequest{}),
		respOK([]sitemap.Layer{}), badRequest, forbidden, notFound)
	addOperation(r, patch, "/api/maps/{mapID}/layers/{layerID}", "Update layer",
		"Shows, hides, locks or unlocks a layer.", withUser(layerParams{}, UpdateLayerRequest{}),
		respOK(MutationResponse{}), badRequest, forbidden, notFound)
	addOperation(r, get, "/api/maps/{mapID}/render-order", "Render order",
		"Returns drawable entity ids bottom to top, leaving out hidden layers.", []any{mapParams{}},
		respOK(RenderOrderResponse{}), notFound)
	addOperation(r, get, "/api/maps/{mapID}/hit", "Hit test",
		"Returns the topmost visible entity under a point.", []any{hitQuery{}},
		respOK(HitResponse{}), badRequest, notFound)

	addOperation(r, get, "/api/maps/{mapID}/issues", "List issues",
		"Returns map issues, oldest first.", []any{issueQuery{}},
		respOK([]sitemap.MapIssue{}), notFound)
	addOperation(r, post, "/api/maps/{mapID}/issues", "Report issue",
		"Records a manually raised issue against an entity.", withUser(mapParams{}, ReportIssueRequest{}),
		respCreated(sitemap.MapIssue{}), badRequest, forbidden, notFound)
	addOperation(r, post, "/api/maps/{mapID}/issues/{issueID}/resolve", "Resolve issue",
		"Marks an issue resolved.", withUser(issueParams{}),
		respOK(sitemap.MapIssue{}), forbidden, notFound)

	addOperation(r, get, "/api/maps/{mapID}/versions", "List versions",
		"Returns version summaries, oldest first.", []any{mapParams{}},
		respOK([]versioning.Version{}), notFound)
	addOperation(r, post, "/api/maps/{mapID}/versions", "Create version",
		"Saves an immutable snapshot of the live map.", withUser(mapParams{}, CreateVersionRequest{}),
		respCreated(versioning.Version{}), badRequest, forbidden, notFound)
	addOperation(r, get, "/api/maps/{mapID}/versions/compare", "Compare versions",
		"Diffs two versions, or a version against the live map.", []any{compareQuery{}},
		respOK(versioning.Diff{}), badRequest, notFound)
	addOperation(r, get, "/api/maps/{mapID}/versions/current", "Current version",
		"Returns the version marked current.", []any{mapParams{}},
		respOK(versioning.Version{}), notFound)
	addOperation(r, put, "/api/maps/{mapID}/versions/current", "Mark current version",
		"Marks a version current without changing the live map.", withUser(mapParams{}, SetCurrentVersionRequest{}),
		respOK(versioning.Version{}), badRequest, forbidden, notFound)
	addOperation(r, get, "/api/maps/{mapID}/versions/{versionID}", "Get version",
		"Returns a version with its snapshot.", []any{versionParams{}},
		respOK(versioning.Version{}), notFound)
	addOperation(r, post, "/api/maps/{mapID}/versions/{versionID}/restore", "Restore version",
		"Checkpoints the live map as a new version, then replaces it with the given version.", withUser(versionParams{}),
		respOK(versioning.RestoreResult{}), forbidden, notFound, rejected)

	addOperation(r, get, "/api/maps/{mapID}/tasks", "List tasks",
		"Returns tasks, oldest first.", []any{taskQuery{}},
		respOK([]tasks.View{}), notFound)
	addOperation(r, post, "/api/maps/{mapID}/tasks", "Create task",
		"Creates a task bound to a live entity.", withUser(mapParams{}, tasks.NewTask{}),
		respCreated(tasks.View{}), badRequest, forbidden, notFound)
	addOperation(r, get, "/api/maps/{mapID}/tasks/{taskID}", "Get task",
		"Returns one task with its status history.", []any{taskParams{}},
		respOK(tasks.View{}), notFound)
	addOperation(r, post, "/api/maps/{mapID}/tasks/{taskID}/transition", "Transition task",
		"Moves a task to a new status.", withUser(taskParams{}, TransitionTaskRequest{}),
		respOK(tasks.View{}), badRequest, forbidden, notFound, conflict)
	addOperation(r, put, "/api/maps/{mapID}/tasks/{taskID}/assignee", "Assign task",
		"Sets or clears the assignee of an open task.", withUser(taskParams{}, AssignTaskRequest{}),
		respOK(tasks.View{}), badRequest, forbidden, notFound, conflict)

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

func handleSwaggerUI() http.HandlerFunc {
	return v5emb.New("Site Map Editor API", "/openapi.json", "/docs").ServeHTTP
}
