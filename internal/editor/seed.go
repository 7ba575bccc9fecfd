package editor

import (
	"context"
	"log/slog"

	"github.com/kyleqd/sitemap/internal/geometry"
	"github.com/kyleqd/sitemap/internal/sitemap"
)

const demoOwner = "demo-owner"

func rect(x, y, w, h float64) sitemap.Placement {
	return sitemap.Placement{Rect: geometry.Rect{X: x, Y: y, Width: w, Height: h}}
}

// SeedDemo creates a small festival map if no map exists yet.
// Idempotent: does nothing if any map is already known.
func SeedDemo(ctx context.Context, logger *slog.Logger, reg *Registry) error {
	existing, err := reg.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	if err := reg.Catalog().Put(sitemap.CatalogEntry{
		ID:             "led-par",
		OwnerID:        demoOwner,
		Name:           "LED par can",
		Category:       sitemap.CategoryLighting,
		DefaultWidth:   4,
		DefaultHeight:  4,
		PowerDrawWatts: 180,
		RequiresPower:  true,
	}); err != nil {
		return err
	}

	ws, err := reg.Create(ctx, sitemap.SiteMap{
		ID:      "demo",
		OwnerID: demoOwner,
		Name:    "Demo Festival",
		Width:   1200,
		Height:  800,
		Scale:   0.5,
	})
	if err != nil {
		return err
	}
	st := ws.Store

	infra, err := ws.Layers.Create(ctx, "Infrastructure", sitemap.LayerInfrastructure, nil, demoOwner)
	if err != nil {
		return err
	}
	guest, err := ws.Layers.Create(ctx, "Guests", sitemap.LayerGuest, nil, demoOwner)
	if err != nil {
		return err
	}

	capacity := 40
	entities := []sitemap.Entity{
		&sitemap.Zone{
			Base: sitemap.Base{ID: "zone-camp", LayerID: guest.EntityID}, Placement: rect(50, 50, 400, 300),
			Name: "Glamping Meadow", Type: sitemap.ZoneGlamping, Capacity: &capacity,
			Utilities: sitemap.Utilities{Power: true, Water: true},
		},
		&sitemap.Zone{
			Base: sitemap.Base{ID: "zone-stage", LayerID: infra.EntityID}, Placement: rect(600, 100, 300, 200),
			Name: "Main Stage", Type: sitemap.ZoneStage,
		},
		&sitemap.PowerDistribution{
			Base: sitemap.Base{ID: "gen-1", LayerID: infra.EntityID}, Placement: rect(920, 120, 30, 30),
			Name: "Generator 1", Type: sitemap.PowerGenerator, TotalWatts: 5000, MaxConnections: 8,
		},
		&sitemap.EquipmentInstance{
			Base: sitemap.Base{ID: "light-1", LayerID: infra.EntityID}, Placement: rect(620, 110, 4, 4),
			CatalogID: "led-par", Label: "Stage wash left", Quantity: 6,
			Power: &sitemap.PowerConnection{PowerSourceID: "gen-1"},
		},
		&sitemap.Tent{
			Base: sitemap.Base{ID: "tent-a1", LayerID: guest.EntityID}, Placement: rect(80, 80, 30, 30),
			Number: "A1", Type: "bell", Capacity: 4, ZoneID: "zone-camp", PricePerNight: 120, Currency: "EUR",
		},
		&sitemap.Tent{
			Base: sitemap.Base{ID: "tent-a2", LayerID: guest.EntityID}, Placement: rect(130, 80, 30, 30),
			Number: "A2", Type: "bell", Capacity: 2, ZoneID: "zone-camp", PricePerNight: 90, Currency: "EUR",
		},
		&sitemap.Measurement{
			Base: sitemap.Base{ID: "fire-lane-1", LayerID: infra.EntityID}, Type: sitemap.MeasureFireLane,
			Start: geometry.Point{X: 460, Y: 50}, End: geometry.Point{X: 590, Y: 50}, Label: "Fire lane",
		},
	}
	for _, e := range entities {
		if _, err := st.Place(ctx, e, demoOwner); err != nil {
			return err
		}
	}
	if _, err := ws.Versions.CreateVersion(ctx, "Initial layout", "seeded demo map", demoOwner); err != nil {
		return err
	}

	logger.Info("demo map created and seeded", "map", st.ID(), "entities", len(entities))
	return nil
}
