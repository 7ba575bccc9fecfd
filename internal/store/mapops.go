package store

import (
	"context"
	"fmt"

	"github.com/kyleqd/sitemap/internal/geometry"
	"github.com/kyleqd/sitemap/internal/rules"
	"github.com/kyleqd/sitemap/internal/sitemap"
)

// SetMapStatus moves the map through draft, published and archived. Maps
// are archived, never deleted; an archived map rejects every further edit.
func (s *Store) SetMapStatus(ctx context.Context, to sitemap.MapStatus, by string) (Result, error) {
	return s.transact(ctx, "set_map_status", true, func() (Result, []ChangeEvent, error) {
		m := s.st.siteMap
		if m.Status == to {
			return Result{EntityID: m.ID, Seq: s.seq}, nil, nil
		}
		if !m.Status.CanTransition(to) {
			return Result{}, nil, fmt.Errorf("%w: map %s -> %s", ErrInvalidTransition, m.Status, to)
		}
		now := s.now()
		m.Status, m.UpdatedAt = to, now
		if to == sitemap.MapStatusArchived {
			m.ArchivedAt = &now
		}
		s.st.siteMap = m
		ev := s.mapEvent(EventMapUpdated, []string{"status"}, by)
		return Result{EntityID: m.ID, Seq: ev.Seq}, []ChangeEvent{ev}, nil
	})
}

// MapSettings is a partial update of the map's own fields. Nil fields are
// left alone.
type MapSettings struct {
	Name            *string  `json:"name,omitempty"`
	Description     *string  `json:"description,omitempty"`
	EventID         *string  `json:"eventId,omitempty"`
	Width           *float64 `json:"width,omitempty"`
	Height          *float64 `json:"height,omitempty"`
	Scale           *float64 `json:"scale,omitempty"`
	BackgroundColor *string  `json:"backgroundColor,omitempty"`
	GridSize        *float64 `json:"gridSize,omitempty"`
}

// UpdateMap changes map settings. Shrinking the canvas is rejected when a
// live entity would fall outside it; a new scale re-audits measurements.
func (s *Store) UpdateMap(ctx context.Context, in MapSettings, by string) (Result, error) {
	return s.transact(ctx, "update_map", false, func() (Result, []ChangeEvent, error) {
		m := s.st.siteMap
		var fields []string
		setStr := func(dst *string, src *string, name string) {
			if src != nil && *src != *dst {
				*dst = *src
				fields = append(fields, name)
			}
		}
		setNum := func(dst *float64, src *float64, name string) {
			if src != nil && *src != *dst {
				*dst = *src
				fields = append(fields, name)
			}
		}
		setStr(&m.Name, in.Name, "name")
		setStr(&m.Description, in.Description, "description")
		setStr(&m.EventID, in.EventID, "eventId")
		setNum(&m.Width, in.Width, "width")
		setNum(&m.Height, in.Height, "height")
		setNum(&m.Scale, in.Scale, "scale")
		setStr(&m.BackgroundColor, in.BackgroundColor, "backgroundColor")
		setNum(&m.GridSize, in.GridSize, "gridSize")
		if len(fields) == 0 {
			return Result{EntityID: m.ID, Seq: s.seq}, nil, nil
		}
		if err := m.Validate(); err != nil {
			return Result{}, nil, err
		}
		if m.GridSize < 0 {
			return Result{}, nil, invalid("grid size cannot be negative")
		}
		if m.Width < s.st.siteMap.Width || m.Height < s.st.siteMap.Height {
			if err := s.checkCanvas(m.Width, m.Height); err != nil {
				return Result{}, nil, err
			}
		}
		rescaled := m.Scale != s.st.siteMap.Scale
		m.UpdatedAt = s.now()
		s.st.siteMap = m
		events := []ChangeEvent{s.mapEvent(EventMapUpdated, fields, by)}
		if rescaled {
			for _, id := range sortedKeys(s.st.entities) {
				if _, ok := s.st.entities[id].(*sitemap.Measurement); ok {
					events = append(events, s.reconcile(id, by)...)
				}
			}
		}
		return Result{EntityID: m.ID, Seq: events[0].Seq}, events, nil
	})
}

func (s *Store) checkCanvas(w, h float64) error {
	for _, id := range sortedKeys(s.st.entities) {
		e := s.st.entities[id]
		if !sitemap.Live(e) {
			continue
		}
		r := bounds(e)
		if r == nil || geometry.WithinCanvas(*r, w, h) {
			continue
		}
		msg := fmt.Sprintf("%s %s would fall outside a %gx%g canvas", e.Kind(), id, w, h)
		return &rules.ValidationError{
			RuleID:  rules.RuleCanvasBounds,
			Message: msg,
			Violations: []rules.Violation{{
				RuleID: rules.RuleCanvasBounds, Severity: rules.Hard,
				EntityID: id, EntityType: e.Kind(), Message: msg,
			}},
		}
	}
	return nil
}

// NoteVersion records the number of the latest version on the map. It is
// allowed on archived maps since versioning never changes entities.
func (s *Store) NoteVersion(ctx context.Context, n int, by string) (Result, error) {
	return s.transact(ctx, "note_version", true, func() (Result, []ChangeEvent, error) {
		if s.st.siteMap.Version == n {
			return Result{EntityID: s.id, Seq: s.seq}, nil, nil
		}
		s.st.siteMap.Version = n
		s.st.siteMap.UpdatedAt = s.now()
		ev := s.mapEvent(EventMapUpdated, []string{"version"}, by)
		return Result{EntityID: s.id, Seq: ev.Seq}, []ChangeEvent{ev}, nil
	})
}

// ResolveIssue closes an issue by hand. A rule-raised issue whose finding
// still holds is reopened as a new issue by the next change to the entity.
func (s *Store) ResolveIssue(ctx context.Context, issueID, by string) (Result, error) {
	return s.transact(ctx, "resolve_issue", false, func() (Result, []ChangeEvent, error) {
		iss, ok := s.st.issues[issueID]
		if !ok {
			return Result{}, nil, notFound(issueID)
		}
		if iss.Status == sitemap.IssueResolved {
			return Result{EntityID: iss.EntityID, Seq: s.seq}, nil, nil
		}
		now := s.now()
		s.st.dropIssueKey(iss)
		iss.Status = sitemap.IssueResolved
		iss.ResolvedAt, iss.ResolvedBy, iss.UpdatedAt = &now, by, now
		ev := s.issueEvent(EventIssueResolved, iss, by)
		return Result{EntityID: iss.EntityID, Seq: ev.Seq}, []ChangeEvent{ev}, nil
	})
}

// ReportIssue records a manually raised issue against an entity.
func (s *Store) ReportIssue(ctx context.Context, in sitemap.MapIssue, by string) (Result, error) {
	return s.transact(ctx, "report_issue", false, func() (Result, []ChangeEvent, error) {
		e, ok := s.st.entities[in.EntityID]
		if !ok {
			return Result{}, nil, notFound(in.EntityID)
		}
		if in.Title == "" {
			return Result{}, nil, invalid("issue needs a title")
		}
		now := s.now()
		iss := &sitemap.MapIssue{
			ID:          s.newID(),
			SiteMapID:   s.id,
			EntityID:    in.EntityID,
			EntityType:  e.Kind(),
			Type:        in.Type,
			Severity:    in.Severity,
			Status:      sitemap.IssueOpen,
			Title:       in.Title,
			Description: in.Description,
			ReportedBy:  by,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if iss.Type == "" {
			iss.Type = sitemap.IssueCustom
		}
		if iss.Severity == "" {
			iss.Severity = sitemap.SeverityMedium
		}
		s.st.addIssue(iss)
		ev := s.issueEvent(EventIssueOpened, iss, by)
		return Result{EntityID: iss.ID, Seq: ev.Seq}, []ChangeEvent{ev}, nil
	})
}

// Replace swaps the whole entity set for the contents of x, keeping the
// map's identity, status and sequence. It is how a version is restored.
// The new state must pass every hard rule; lock state is ignored.
func (s *Store) Replace(ctx context.Context, x sitemap.Export, by string) (Result, error) {
	return s.transact(ctx, "replace", false, func() (Result, []ChangeEvent, error) {
		cur := s.st.siteMap
		m := x.Map
		m.ID, m.OwnerID, m.Status, m.Version = cur.ID, cur.OwnerID, cur.Status, cur.Version
		m.CreatedAt, m.ArchivedAt = cur.CreatedAt, cur.ArchivedAt
		m.UpdatedAt = s.now()
		x.Map = m
		st, err := s.buildState(x)
		if err != nil {
			return Result{}, nil, err
		}
		s.st = st
		ev := s.mapEvent(EventRestored, nil, by)
		return Result{EntityID: m.ID, Seq: ev.Seq}, []ChangeEvent{ev}, nil
	})
}
