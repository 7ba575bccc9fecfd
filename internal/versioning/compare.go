package versioning

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/kyleqd/sitemap/internal/sitemap"
	"github.com/kyleqd/sitemap/internal/store"
)

// volatile fields change on every write and say nothing about content.
var volatile = map[string]bool{"updatedAt": true, "version": true}

// EntityDiff names the fields that differ for one entity.
type EntityDiff struct {
	ID     string       `json:"id"`
	Kind   sitemap.Kind `json:"kind"`
	Fields []string     `json:"fields"`
}

// Diff is the difference from version A to version B.
type Diff struct {
	From      string       `json:"from"`
	To        string       `json:"to"`
	Added     []string     `json:"added"`
	Removed   []string     `json:"removed"`
	Changed   []EntityDiff `json:"changed"`
	MapFields []string     `json:"mapFields"`
}

// Empty reports whether the two snapshots hold the same content.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0 && len(d.MapFields) == 0
}

// Compare diffs version a against version b.
func (m *Manager) Compare(a, b string) (Diff, error) {
	va, err := m.Get(a)
	if err != nil {
		return Diff{}, err
	}
	vb, err := m.Get(b)
	if err != nil {
		return Diff{}, err
	}
	d, err := diffSnapshots(va.Snapshot, vb.Snapshot)
	if err != nil {
		return Diff{}, err
	}
	d.From, d.To = a, b
	return d, nil
}

// CompareLive diffs version id against the live state.
func (m *Manager) CompareLive(id string) (Diff, error) {
	v, err := m.Get(id)
	if err != nil {
		return Diff{}, err
	}
	live, _, err := Canonical(m.store)
	if err != nil {
		return Diff{}, err
	}
	d, err := diffSnapshots(v.Snapshot, live)
	if err != nil {
		return Diff{}, err
	}
	d.From, d.To = id, "live"
	return d, nil
}

type flat struct {
	kind   sitemap.Kind
	fields map[string]any
}

func diffSnapshots(a, b []byte) (Diff, error) {
	xa, err := store.UnmarshalExport(a)
	if err != nil {
		return Diff{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	xb, err := store.UnmarshalExport(b)
	if err != nil {
		return Diff{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	ea, err := flatten(xa.Entities())
	if err != nil {
		return Diff{}, err
	}
	eb, err := flatten(xb.Entities())
	if err != nil {
		return Diff{}, err
	}

	d := Diff{Added: []string{}, Removed: []string{}, Changed: []EntityDiff{}}
	for id, fb := range eb {
		fa, ok := ea[id]
		if !ok {
			d.Added = append(d.Added, id)
			continue
		}
		if fields := changedFields(fa.fields, fb.fields); len(fields) > 0 {
			d.Changed = append(d.Changed, EntityDiff{ID: id, Kind: fb.kind, Fields: fields})
		}
	}
	for id := range ea {
		if _, ok := eb[id]; !ok {
			d.Removed = append(d.Removed, id)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Slice(d.Changed, func(i, j int) bool { return d.Changed[i].ID < d.Changed[j].ID })

	ma, err := toMap(xa.Map)
	if err != nil {
		return Diff{}, err
	}
	mb, err := toMap(xb.Map)
	if err != nil {
		return Diff{}, err
	}
	d.MapFields = changedFields(ma, mb)
	return d, nil
}

func flatten(es []sitemap.Entity) (map[string]flat, error) {
	out := make(map[string]flat, len(es))
	for _, e := range es {
		fields, err := toMap(e)
		if err != nil {
			return nil, err
		}
		out[e.Header().ID] = flat{kind: e.Kind(), fields: fields}
	}
	return out, nil
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding for compare: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding for compare: %w", err)
	}
	return out, nil
}

func changedFields(a, b map[string]any) []string {
	var out []string
	for k, vb := range b {
		if volatile[k] {
			continue
		}
		if va, ok := a[k]; !ok || !reflect.DeepEqual(va, vb) {
			out = append(out, k)
		}
	}
	for k := range a {
		if _, ok := b[k]; !ok && !volatile[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
