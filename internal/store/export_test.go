package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleqd/sitemap/internal/geometry"
	"github.com/kyleqd/sitemap/internal/sitemap"
)

func populated(t *testing.T) *Store {
	t.Helper()
	s := newTestStore(t)
	place(t, s, &sitemap.Layer{Base: sitemap.Base{ID: "layer"}, Name: "Guests", Visible: true})
	z := zone("camp", sitemap.ZoneGlamping, 0, 0, 100, 100)
	z.LayerID = "layer"
	place(t, s, z)
	place(t, s, tent("t1", "camp", 90, 10))
	place(t, s, power("gen", 100))
	place(t, s, equipment("eq", "gen", 250))
	place(t, s, &sitemap.Measurement{Base: sitemap.Base{ID: "m"}, Type: sitemap.MeasureADAAccess,
		Start: geometry.Point{X: 0, Y: 0}, End: geometry.Point{X: 0, Y: 10}})
	place(t, s, &sitemap.Collaborator{Base: sitemap.Base{ID: "c"}, UserID: "u1",
		Capabilities: []sitemap.Action{sitemap.ActionManageTents}})
	_, err := s.Delete(context.Background(), "eq", "owner")
	require.NoError(t, err)
	return s
}

func TestExportRoundTrip(t *testing.T) {
	s := populated(t)
	x := s.Export()
	assert.Equal(t, sitemap.FormatVersion, x.FormatVersion)
	assert.Equal(t, s.Seq(), x.Seq)
	require.Len(t, x.Equipment, 1)
	assert.NotNil(t, x.Equipment[0].DeletedAt)

	data, err := MarshalExport(x)
	require.NoError(t, err)
	decoded, err := UnmarshalExport(data)
	require.NoError(t, err)

	restored, err := Import(decoded)
	require.NoError(t, err)
	assert.Equal(t, s.Seq(), restored.Seq())
	assert.Equal(t, s.Map(), restored.Map())

	again := restored.Export()
	again.ExportedAt = x.ExportedAt
	want, _ := json.Marshal(x)
	got, _ := json.Marshal(again)
	assert.JSONEq(t, string(want), string(got))

	// The restored index answers the same queries.
	hits := restored.QueryRegion(geometry.Rect{X: 95, Y: 15, Width: 2, Height: 2})
	require.Len(t, hits, 2)
	assert.Equal(t, "camp", hits[0].Header().ID)
	assert.Equal(t, "t1", hits[1].Header().ID)
}

func TestImportContinuesSequence(t *testing.T) {
	s := populated(t)
	restored, err := Import(s.Export())
	require.NoError(t, err)
	res, err := restored.Move(context.Background(), "camp", 10, 10, 0, "owner")
	require.NoError(t, err)
	assert.Equal(t, s.Seq()+1, res.Seq)
}

func TestImportRejects(t *testing.T) {
	base := populated(t).Export()

	tests := []struct {
		name   string
		mutate func(x *sitemap.Export)
	}{
		{"future major format", func(x *sitemap.Export) { x.FormatVersion = "2.0.0" }},
		{"garbage format", func(x *sitemap.Export) { x.FormatVersion = "latest" }},
		{"duplicate id", func(x *sitemap.Export) { x.Zones = append(x.Zones, x.Zones[0]) }},
		{"nil entity", func(x *sitemap.Export) { x.Tents = append(x.Tents, nil) }},
		{"out of canvas", func(x *sitemap.Export) {
			z := x.Zones[0].Clone().(*sitemap.Zone)
			z.X = 5000
			x.Zones[0] = z
		}},
		{"dangling power source", func(x *sitemap.Export) {
			eq := equipment("eq2", "missing", 10)
			eq.Quantity, eq.Status = 1, sitemap.EquipmentAvailable
			x.Equipment = append(x.Equipment, eq)
		}},
		{"bad map", func(x *sitemap.Export) { x.Map.Scale = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := base
			x.Zones = append([]*sitemap.Zone(nil), base.Zones...)
			x.Tents = append([]*sitemap.Tent(nil), base.Tents...)
			x.Equipment = append([]*sitemap.EquipmentInstance(nil), base.Equipment...)
			tt.mutate(&x)
			_, err := Import(x)
			assert.ErrorIs(t, err, ErrInvalidExport)
		})
	}
}

func TestUnmarshalExportSchema(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing map", `{"formatVersion":"1.0.0"}`},
		{"zero width", `{"formatVersion":"1.0.0","map":{"id":"m","name":"x","width":0,"height":1,"scale":1}}`},
		{"zone without id", `{"formatVersion":"1.0.0","map":{"id":"m","name":"x","width":1,"height":1,"scale":1},
			"zones":[{"x":0,"y":0,"width":1,"height":1}]}`},
		{"null tent", `{"formatVersion":"1.0.0","map":{"id":"m","name":"x","width":1,"height":1,"scale":1},"tents":[null]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalExport([]byte(tt.body))
			assert.ErrorIs(t, err, ErrInvalidExport)
		})
	}
}

func TestReplaceKeepsIdentity(t *testing.T) {
	s := populated(t)
	ctx := context.Background()
	snapshot := s.Export()

	_, err := s.Move(ctx, "camp", 300, 300, 0, "owner")
	require.NoError(t, err)
	_, err = s.SetMapStatus(ctx, sitemap.MapStatusPublished, "owner")
	require.NoError(t, err)

	var got []ChangeEvent
	s.Subscribe(func(ev ChangeEvent) { got = append(got, ev) })
	seq := s.Seq()
	res, err := s.Replace(ctx, snapshot, "owner")
	require.NoError(t, err)
	assert.Equal(t, seq+1, res.Seq)
	require.Len(t, got, 1)
	assert.Equal(t, EventRestored, got[0].Type)

	assert.Equal(t, sitemap.MapStatusPublished, s.Map().Status)
	e, err := s.Get("camp")
	require.NoError(t, err)
	assert.Equal(t, 0.0, e.(*sitemap.Zone).X)
}
