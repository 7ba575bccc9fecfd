// Package layers orders, hides and locks groups of entities. Everything
// that changes a layer goes through the store funnel.
package layers

import (
	"context"
	"fmt"
	"sort"

	"github.com/kyleqd/sitemap/internal/geometry"
	"github.com/kyleqd/sitemap/internal/sitemap"
	"github.com/kyleqd/sitemap/internal/store"
)

// paint is the draw order of kinds within one layer.
var paint = map[sitemap.Kind]int{
	sitemap.KindZone:        0,
	sitemap.KindPower:       1,
	sitemap.KindTent:        2,
	sitemap.KindEquipment:   3,
	sitemap.KindMeasurement: 4,
}

// Ordered sorts layers bottom to top by z-index, then name, then id.
func Ordered(layers []*sitemap.Layer) []*sitemap.Layer {
	out := append([]*sitemap.Layer(nil), layers...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ZIndex != b.ZIndex {
			return a.ZIndex < b.ZIndex
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	return out
}

// Editable reports whether entities on l may be changed.
func Editable(l *sitemap.Layer) bool {
	return l == nil || !l.Locked
}

type Manager struct {
	store *store.Store
}

func NewManager(s *store.Store) *Manager {
	return &Manager{store: s}
}

// Layers returns the live layers bottom to top.
func (m *Manager) Layers() []*sitemap.Layer {
	var out []*sitemap.Layer
	for _, e := range m.store.List(sitemap.KindLayer, false) {
		out = append(out, e.(*sitemap.Layer))
	}
	return Ordered(out)
}

// RenderOrder returns drawable entity ids bottom to top. Entities without a
// layer are drawn first; entities on hidden layers are left out.
func (m *Manager) RenderOrder() []string {
	layers := m.Layers()
	rank := make(map[string]int, len(layers))
	hidden := make(map[string]bool)
	for i, l := range layers {
		rank[l.ID] = i + 1
		if !l.Visible {
			hidden[l.ID] = true
		}
	}
	var items []sitemap.Entity
	for _, e := range m.store.List("", false) {
		if _, drawable := paint[e.Kind()]; !drawable {
			continue
		}
		lid := e.Header().LayerID
		if hidden[lid] {
			continue
		}
		if _, ok := rank[lid]; lid != "" && !ok {
			continue
		}
		items = append(items, e)
	}
	sortForPaint(items, rank)
	ids := make([]string, len(items))
	for i, e := range items {
		ids[i] = e.Header().ID
	}
	return ids
}

func sortForPaint(items []sitemap.Entity, rank map[string]int) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		ra, rb := rank[a.Header().LayerID], rank[b.Header().LayerID]
		if ra != rb {
			return ra < rb
		}
		if pa, pb := paint[a.Kind()], paint[b.Kind()]; pa != pb {
			return pa < pb
		}
		return a.Header().ID < b.Header().ID
	})
}

// HitTest returns the topmost visible entity under p, or false.
func (m *Manager) HitTest(p geometry.Point) (sitemap.Entity, bool) {
	hits := m.store.At(p)
	if len(hits) == 0 {
		return nil, false
	}
	layers := m.Layers()
	rank := make(map[string]int, len(layers))
	visible := make(map[string]bool, len(layers))
	for i, l := range layers {
		rank[l.ID] = i + 1
		visible[l.ID] = l.Visible
	}
	var candidates []sitemap.Entity
	for _, e := range hits {
		lid := e.Header().LayerID
		if lid != "" && !visible[lid] {
			continue
		}
		candidates = append(candidates, e)
	}
	if len(candidates) == 0 {
		return nil, false
	}
	sortForPaint(candidates, rank)
	return candidates[len(candidates)-1], true
}

// Create adds a visible, unlocked layer on top of the existing ones unless
// a z-index is given.
func (m *Manager) Create(ctx context.Context, name string, typ sitemap.LayerType, zIndex *int, by string) (store.Result, error) {
	l := &sitemap.Layer{Name: name, Type: typ, Visible: true, Opacity: 1}
	if zIndex != nil {
		l.ZIndex = *zIndex
	} else if layers := m.Layers(); len(layers) > 0 {
		l.ZIndex = layers[len(layers)-1].ZIndex + 1
	}
	return m.store.Place(ctx, l, by)
}

func (m *Manager) SetVisible(ctx context.Context, id string, visible bool, by string) (store.Result, error) {
	return m.store.Update(ctx, id, map[string]any{"visible": visible}, by)
}

func (m *Manager) SetLocked(ctx context.Context, id string, locked bool, by string) (store.Result, error) {
	return m.store.Update(ctx, id, map[string]any{"locked": locked}, by)
}

// Reorder assigns z-indexes following ids, bottom first. Every live layer
// must be listed exactly once.
func (m *Manager) Reorder(ctx context.Context, ids []string, by string) error {
	layers := m.Layers()
	if len(ids) != len(layers) {
		return fmt.Errorf("%w: reorder lists %d of %d layers", store.ErrInvalid, len(ids), len(layers))
	}
	current := make(map[string]*sitemap.Layer, len(layers))
	for _, l := range layers {
		current[l.ID] = l
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if current[id] == nil || seen[id] {
			return fmt.Errorf("%w: layer %s listed twice or unknown", store.ErrInvalid, id)
		}
		seen[id] = true
	}
	for i, id := range ids {
		if current[id].ZIndex == i {
			continue
		}
		if _, err := m.store.Update(ctx, id, map[string]any{"zIndex": i}, by); err != nil {
			return fmt.Errorf("reorder layer %s: %w", id, err)
		}
	}
	return nil
}
