package store

import (
	"sort"

	"github.com/kyleqd/sitemap/internal/geometry"
	"github.com/kyleqd/sitemap/internal/rules"
	"github.com/kyleqd/sitemap/internal/sitemap"
)

// Map returns the current map settings.
func (s *Store) Map() sitemap.SiteMap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.siteMap
}

// Seq returns the sequence number of the last committed event.
func (s *Store) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// Get returns a copy of the entity, including soft-deleted ones.
func (s *Store) Get(id string) (sitemap.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.st.entities[id]
	if !ok {
		return nil, notFound(id)
	}
	return e.Clone(), nil
}

// List returns copies of every entity of kind sorted by id. An empty kind
// lists all kinds.
func (s *Store) List(kind sitemap.Kind, includeDeleted bool) []sitemap.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []sitemap.Entity
	for _, id := range sortedKeys(s.st.entities) {
		e := s.st.entities[id]
		if kind != "" && e.Kind() != kind {
			continue
		}
		if !includeDeleted && !sitemap.Live(e) {
			continue
		}
		out = append(out, e.Clone())
	}
	return out
}

// QueryRegion returns the live spatial entities intersecting r.
func (s *Store) QueryRegion(r geometry.Rect) []sitemap.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cloneIDs(s.st.index.Query(r))
}

// At returns the live spatial entities under p.
func (s *Store) At(p geometry.Point) []sitemap.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cloneIDs(s.st.index.QueryPoint(p))
}

func (s *Store) cloneIDs(ids []string) []sitemap.Entity {
	out := make([]sitemap.Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.st.entities[id].Clone())
	}
	return out
}

// TentsInZone returns the live tents whose footprint lies inside the zone.
func (s *Store) TentsInZone(zoneID string) ([]*sitemap.Tent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	z, ok := s.st.entities[zoneID].(*sitemap.Zone)
	if !ok || !sitemap.Live(z) {
		return nil, notFound(zoneID)
	}
	var out []*sitemap.Tent
	for _, id := range s.st.index.Query(z.Footprint()) {
		t, ok := s.st.entities[id].(*sitemap.Tent)
		if ok && geometry.Contains(z.Footprint(), t.Footprint()) {
			out = append(out, t.Clone().(*sitemap.Tent))
		}
	}
	return out, nil
}

// PowerLoad summarises one power source.
type PowerLoad struct {
	PowerID        string              `json:"powerId"`
	TotalWatts     float64             `json:"totalCapacityWatts"`
	LoadWatts      float64             `json:"loadWatts"`
	AvailableWatts float64             `json:"availableCapacityWatts"`
	Status         sitemap.PowerStatus `json:"status"`
	Consumers      []string            `json:"consumers"`
}

func (s *Store) PowerLoad(powerID string) (PowerLoad, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.st.entities[powerID].(*sitemap.PowerDistribution)
	if !ok {
		return PowerLoad{}, notFound(powerID)
	}
	pl := PowerLoad{
		PowerID:        p.ID,
		TotalWatts:     p.TotalWatts,
		LoadWatts:      p.LoadWatts,
		AvailableWatts: p.AvailableWatts,
		Status:         p.Status,
		Consumers:      []string{},
	}
	for _, eq := range (view{s.st}).Consumers(powerID) {
		pl.Consumers = append(pl.Consumers, eq.ID)
	}
	return pl, nil
}

// IssueFilter narrows Issues. Zero fields match everything.
type IssueFilter struct {
	EntityID string
	Status   sitemap.IssueStatus
	Type     sitemap.IssueType
}

// Issues returns matching issues, oldest first.
func (s *Store) Issues(f IssueFilter) []sitemap.MapIssue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []sitemap.MapIssue{}
	for _, iss := range s.st.issues {
		if f.EntityID != "" && iss.EntityID != f.EntityID {
			continue
		}
		if f.Status != "" && iss.Status != f.Status {
			continue
		}
		if f.Type != "" && iss.Type != f.Type {
			continue
		}
		out = append(out, iss.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) Issue(id string) (sitemap.MapIssue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	iss, ok := s.st.issues[id]
	if !ok {
		return sitemap.MapIssue{}, notFound(id)
	}
	return iss.Clone(), nil
}

// Collaborator returns the live collaborator record of userID.
func (s *Store) Collaborator(userID string) (*sitemap.Collaborator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.st.entities {
		if c, ok := e.(*sitemap.Collaborator); ok && sitemap.Live(c) && c.UserID == userID {
			return c.Clone().(*sitemap.Collaborator), true
		}
	}
	return nil, false
}

// Check evaluates a proposed change without applying it.
func (s *Store) Check(c rules.Change) rules.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.Evaluate(view{s.st}, c)
}
