package store

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/kyleqd/sitemap/internal/rules"
	"github.com/kyleqd/sitemap/internal/sitemap"
)

// supportedFormats is the range of export layouts Import understands.
var supportedFormats = mustConstraint("^1")

func mustConstraint(c string) *semver.Constraints {
	cs, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return cs
}

// CheckFormat reports whether an export's format version can be imported.
func CheckFormat(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: format version %q: %v", ErrInvalidExport, version, err)
	}
	if !supportedFormats.Check(v) {
		return fmt.Errorf("%w: unsupported format version %s", ErrInvalidExport, v)
	}
	return nil
}

// Export returns a self-contained copy of the map, its entities including
// soft-deleted ones, and its issues.
func (s *Store) Export() sitemap.Export {
	s.mu.RLock()
	defer s.mu.RUnlock()
	x := sitemap.NewExport(s.st.siteMap)
	x.Seq = s.seq
	x.ExportedAt = s.now()
	for _, e := range s.st.entities {
		x.Add(e)
	}
	for _, iss := range s.st.issues {
		x.Issues = append(x.Issues, iss.Clone())
	}
	x.Sort()
	return x
}

// Import builds a store from an export document. The sequence continues
// from the exported one.
func Import(x sitemap.Export, opts ...Option) (*Store, error) {
	if err := CheckFormat(x.FormatVersion); err != nil {
		return nil, err
	}
	s, err := New(x.Map, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidExport, err)
	}
	x.Map = s.st.siteMap
	st, err := s.buildState(x)
	if err != nil {
		return nil, err
	}
	s.st = st
	s.seq = x.Seq
	return s, nil
}

// buildState indexes every entity of x into a fresh state and checks the
// result against the hard rules.
func (s *Store) buildState(x sitemap.Export) (*state, error) {
	if hasNil(x.Layers) || hasNil(x.Zones) || hasNil(x.Power) || hasNil(x.Tents) ||
		hasNil(x.Equipment) || hasNil(x.Measurements) || hasNil(x.Collaborators) {
		return nil, fmt.Errorf("%w: null entity", ErrInvalidExport)
	}
	st := newState(x.Map, s.cellSize, s.catalog)
	entities := x.Entities()
	for _, e := range entities {
		e = e.Clone()
		h := e.Header()
		if h.ID == "" {
			return nil, fmt.Errorf("%w: %s without id", ErrInvalidExport, e.Kind())
		}
		if _, dup := st.entities[h.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidExport, h.ID)
		}
		if sp, ok := e.(sitemap.Spatial); ok && sitemap.Live(e) {
			if err := sp.Footprint().Validate(); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrInvalidExport, h.ID, err)
			}
		}
		h.SiteMapID = x.Map.ID
		st.link(e)
	}

	v := view{st}
	for _, id := range sortedKeys(st.entities) {
		e := st.entities[id]
		if !sitemap.Live(e) {
			continue
		}
		if err := checkEntity(st, e); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidExport, id, err)
		}
		if err := s.engine.Evaluate(v, rules.Change{Action: rules.ActionImport, Before: e, After: e}).Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidExport, err)
		}
	}

	for _, iss := range x.Issues {
		if iss.ID == "" {
			return nil, fmt.Errorf("%w: issue without id", ErrInvalidExport)
		}
		cp := iss.Clone()
		cp.SiteMapID = x.Map.ID
		st.addIssue(&cp)
	}
	return st, nil
}

func hasNil[T any](s []*T) bool {
	for _, e := range s {
		if e == nil {
			return true
		}
	}
	return false
}
