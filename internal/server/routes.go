package server

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/kyleqd/sitemap/internal/editor"
)

func addRoutes(r chi.Router, logger *slog.Logger, reg *editor.Registry) {
	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", handleSwaggerUI())

	r.Get("/api/catalog", handleListCatalog(reg))
	r.Post("/api/catalog", handlePutCatalog(logger, reg))

	r.Get("/api/maps", handleListMaps(logger, reg))
	r.Post("/api/maps", handleCreateMap(logger, reg))
	r.Post("/api/maps/import", handleImportMap(logger, reg))

	// Everything below resolves {mapID} through mapMiddleware.
	r.Route("/api/maps/{mapID}", func(r chi.Router) {
		r.Use(mapMiddleware(logger, reg))

		r.Get("/", handleGetMap())
		r.Patch("/", handleUpdateMap(logger))
		r.Put("/status", handleSetMapStatus(logger))
		r.Get("/export", handleExportMap(logger))
		r.Get("/changes", handleChanges(logger, reg))
		r.Get("/events", handleEvents(logger))
		r.Get("/collab", handleCollab(logger))
		r.Get("/presence", handlePresence())

		r.Get("/entities", handleListEntities())
		r.Post("/entities", handlePlaceEntity(logger))
		r.Route("/entities/{entityID}", func(r chi.Router) {
			r.Get("/", handleGetEntity(logger))
			r.Patch("/", handleUpdateEntity(logger))
			r.Delete("/", handleDeleteEntity(logger))
			r.Post("/move", handleMoveEntity(logger))
			r.Post("/resize", handleResizeEntity(logger))
			r.Post("/occupancy", handleOccupancy(logger))
			r.Get("/tents", handleZoneTents(logger))
			r.Get("/load", handlePowerLoad(logger))
			r.Put("/power", handleConnectPower(logger))
			r.Delete("/power", handleDisconnectPower(logger))
			r.Post("/booking", handleBookTent(logger))
			r.Post("/checkin", handleCheckIn(logger))
			r.Post("/checkout", handleCheckOut(logger))
		})

		r.Get("/layers", handleListLayers())
		r.Post("/layers", handleCreateLayer(logger))
		r.Put("/layers/order", handleReorderLayers(logger))
		r.Patch("/layers/{layerID}", handleUpdateLayer(logger))
		r.Get("/render-order", handleRenderOrder())
		r.Get("/hit", handleHitTest())

		r.Get("/issues", handleListIssues())
		r.Post("/issues", handleReportIssue(logger))
		r.Post("/issues/{issueID}/resolve", handleResolveIssue(logger))

		r.Get("/versions", handleListVersions())
		r.Post("/versions", handleCreateVersion(logger))
		r.Get("/versions/compare", handleCompareVersions(logger))
		r.Get("/versions/current", handleCurrentVersion())
		r.Put("/versions/current", handleSetCurrentVersion(logger))
		r.Get("/versions/{versionID}", handleGetVersion(logger))
		r.Post("/versions/{versionID}/restore", handleRestoreVersion(logger))

		r.Get("/tasks", handleListTasks())
		r.Post("/tasks", handleCreateTask(logger))
		r.Get("/tasks/{taskID}", handleGetTask(logger))
		r.Post("/tasks/{taskID}/transition", handleTransitionTask(logger))
		r.Put("/tasks/{taskID}/assignee", handleAssignTask(logger))
	})
}
