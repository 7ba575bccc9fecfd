package store

import (
	"slices"
	"time"

	"github.com/kyleqd/sitemap/internal/geometry"
	"github.com/kyleqd/sitemap/internal/rules"
	"github.com/kyleqd/sitemap/internal/sitemap"
)

type EventType string

const (
	EventPlaced        EventType = "placed"
	EventMoved         EventType = "moved"
	EventResized       EventType = "resized"
	EventUpdated       EventType = "updated"
	EventDeleted       EventType = "deleted"
	EventRestored      EventType = "restored"
	EventMapUpdated    EventType = "map_updated"
	EventIssueOpened   EventType = "issue_opened"
	EventIssueUpdated  EventType = "issue_updated"
	EventIssueResolved EventType = "issue_resolved"
)

// ChangeEvent describes one committed change. Seq is strictly increasing
// per map. Before and After are copies owned by the receiver.
type ChangeEvent struct {
	Seq          uint64            `json:"seq"`
	Type         EventType         `json:"type"`
	SiteMapID    string            `json:"siteMapId"`
	EntityID     string            `json:"entityId,omitempty"`
	EntityType   sitemap.Kind      `json:"entityType,omitempty"`
	Before       sitemap.Entity    `json:"before,omitempty"`
	After        sitemap.Entity    `json:"after,omitempty"`
	BeforeBounds *geometry.Rect    `json:"beforeBounds,omitempty"`
	AfterBounds  *geometry.Rect    `json:"afterBounds,omitempty"`
	Fields       []string          `json:"fields,omitempty"`
	Issue        *sitemap.MapIssue `json:"issue,omitempty"`
	Map          *sitemap.SiteMap  `json:"map,omitempty"`
	UserID       string            `json:"userId,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// Subscribe registers fn for every change event, delivered synchronously in
// sequence order. fn may read the store but must not call a funnel
// operation on it. The returned func unsubscribes.
func (s *Store) Subscribe(fn func(ChangeEvent)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) deliver(events []ChangeEvent) {
	if len(events) == 0 {
		return
	}
	s.subMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	fns := make([]func(ChangeEvent), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subMu.Unlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

// commit applies one change to the state and returns its event. The caller
// must hold s.mu.
func (s *Store) commit(typ EventType, c rules.Change, by string) ChangeEvent {
	subj := c.Subject()
	id := subj.Header().ID
	if c.Before != nil {
		s.st.unlink(c.Before)
	}
	if c.After != nil {
		s.st.link(c.After)
	}
	s.seq++
	ev := ChangeEvent{
		Seq:        s.seq,
		Type:       typ,
		SiteMapID:  s.st.siteMap.ID,
		EntityID:   id,
		EntityType: subj.Kind(),
		Fields:     c.Fields,
		UserID:     by,
		Timestamp:  s.now(),
	}
	if c.Before != nil {
		ev.Before = c.Before.Clone()
		ev.BeforeBounds = bounds(c.Before)
	}
	if c.After != nil {
		ev.After = c.After.Clone()
		ev.AfterBounds = bounds(c.After)
	}
	return ev
}

func (s *Store) issueEvent(typ EventType, iss *sitemap.MapIssue, by string) ChangeEvent {
	s.seq++
	cp := iss.Clone()
	return ChangeEvent{
		Seq:        s.seq,
		Type:       typ,
		SiteMapID:  s.st.siteMap.ID,
		EntityID:   iss.EntityID,
		EntityType: iss.EntityType,
		Issue:      &cp,
		UserID:     by,
		Timestamp:  s.now(),
	}
}

func (s *Store) mapEvent(typ EventType, fields []string, by string) ChangeEvent {
	s.seq++
	m := s.st.siteMap
	return ChangeEvent{
		Seq:       s.seq,
		Type:      typ,
		SiteMapID: m.ID,
		Map:       &m,
		Fields:    fields,
		UserID:    by,
		Timestamp: s.now(),
	}
}

// bounds is the region a renderer has to redraw for e.
func bounds(e sitemap.Entity) *geometry.Rect {
	switch v := e.(type) {
	case sitemap.Spatial:
		r := v.Footprint()
		return &r
	case *sitemap.Measurement:
		r := geometry.Segment(v.Start, v.End)
		return &r
	}
	return nil
}
