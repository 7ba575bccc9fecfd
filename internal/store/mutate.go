package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/kyleqd/sitemap/internal/rules"
	"github.com/kyleqd/sitemap/internal/sitemap"
)

// mutation is what a funnel operation proposes. The primary change is
// validated; cascade changes only clear references and are applied as-is.
type mutation struct {
	change  rules.Change
	event   EventType
	cascade []rules.Change
	noop    bool
}

// transact runs fn with the writer and state locks held and delivers the
// events it returns after the state lock is released.
func (s *Store) transact(ctx context.Context, op string, allowArchived bool, fn func() (Result, []ChangeEvent, error)) (res Result, err error) {
	ctx, span := s.startSpan(ctx, op)
	defer func() {
		record(ctx, span, op, res, err)
		span.End()
	}()

	s.writer.Lock()
	defer s.writer.Unlock()

	s.mu.Lock()
	if !allowArchived && s.st.siteMap.Status == sitemap.MapStatusArchived {
		s.mu.Unlock()
		return Result{}, ErrArchived
	}
	res, events, err := fn()
	s.mu.Unlock()
	if err != nil {
		return Result{}, err
	}
	s.deliver(events)
	return res, nil
}

// run validates and applies the mutation produced by build.
func (s *Store) run(ctx context.Context, op, by string, build func() (mutation, error)) (Result, error) {
	return s.transact(ctx, op, false, func() (Result, []ChangeEvent, error) {
		mut, err := build()
		if err != nil {
			return Result{}, nil, err
		}
		id := mut.change.Subject().Header().ID
		if mut.noop {
			return Result{EntityID: id, Seq: s.seq}, nil, nil
		}

		eval := s.engine.Evaluate(view{s.st}, mut.change)
		if err := eval.Err(); err != nil {
			s.logger.Debug("change rejected", "map", s.id, "op", op, "entity", id, "error", err)
			return Result{}, nil, err
		}
		warnings := eval.Soft()
		s.annotate(mut.change.After, warnings)

		events := []ChangeEvent{s.commit(mut.event, mut.change, by)}
		for _, c := range mut.cascade {
			typ := EventUpdated
			if c.Action == rules.ActionDelete {
				typ = EventDeleted
			}
			events = append(events, s.commit(typ, c, by))
		}
		events = append(events, s.derive(append([]rules.Change{mut.change}, mut.cascade...), by)...)
		return Result{EntityID: id, Seq: events[0].Seq, Warnings: warnings}, events, nil
	})
}

// annotate fills derived fields of a candidate from its evaluation.
func (s *Store) annotate(e sitemap.Entity, warnings []rules.Violation) {
	m, ok := e.(*sitemap.Measurement)
	if !ok {
		return
	}
	m.Requirement = s.engine.MinClearance(m.Type)
	m.IsCompliant = true
	for _, w := range warnings {
		if w.RuleID == rules.RuleClearance && w.EntityID == m.ID {
			m.IsCompliant = false
		}
	}
}

func (s *Store) live(id string) (sitemap.Entity, error) {
	e, ok := s.st.entities[id]
	if !ok || !sitemap.Live(e) {
		return nil, notFound(id)
	}
	return e, nil
}

func sameState(a, b sitemap.Entity) bool {
	x, err1 := json.Marshal(a)
	y, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && bytes.Equal(x, y)
}

// edit clones the live entity id, lets fn change or replace the clone, and
// runs the result through the funnel.
func (s *Store) edit(ctx context.Context, op, id, by string, action rules.Action, typ EventType, fields []string, fn func(sitemap.Entity) (sitemap.Entity, error)) (Result, error) {
	return s.run(ctx, op, by, func() (mutation, error) {
		cur, err := s.live(id)
		if err != nil {
			return mutation{}, err
		}
		cand, err := fn(cur.Clone())
		if err != nil {
			return mutation{}, err
		}
		if sameState(cur, cand) {
			return mutation{change: rules.Change{Before: cur, After: cur}, noop: true}, nil
		}
		if err := checkEntity(s.st, cand); err != nil {
			return mutation{}, err
		}
		cand.Header().UpdatedAt = s.now()
		return mutation{
			change: rules.Change{Action: action, Before: cur, After: cand, Fields: fields},
			event:  typ,
		}, nil
	})
}

// Place adds a new entity. An empty id is generated; the map id and
// timestamps are always set by the store.
func (s *Store) Place(ctx context.Context, e sitemap.Entity, by string) (Result, error) {
	if e == nil {
		return Result{}, invalid("nil entity")
	}
	return s.run(ctx, "place", by, func() (mutation, error) {
		cand := e.Clone()
		h := cand.Header()
		if h.ID == "" {
			h.ID = s.newID()
		} else if _, ok := s.st.entities[h.ID]; ok {
			return mutation{}, fmt.Errorf("%s: %w", h.ID, ErrExists)
		}
		now := s.now()
		h.SiteMapID = s.st.siteMap.ID
		h.CreatedAt, h.UpdatedAt, h.DeletedAt = now, now, nil
		applyDefaults(cand, now)
		if err := checkEntity(s.st, cand); err != nil {
			return mutation{}, err
		}
		return mutation{change: rules.Change{Action: rules.ActionPlace, After: cand}, event: EventPlaced}, nil
	})
}

// Move repositions a spatial entity, keeping its size. Moving to the
// current position is a no-op.
func (s *Store) Move(ctx context.Context, id string, x, y, rotation float64, by string) (Result, error) {
	return s.edit(ctx, "move", id, by, rules.ActionMove, EventMoved, []string{"x", "y", "rotation"},
		func(e sitemap.Entity) (sitemap.Entity, error) {
			sp, ok := e.(sitemap.Spatial)
			if !ok {
				return nil, invalid("%s %s has no footprint", e.Kind(), id)
			}
			r := sp.Footprint()
			r.X, r.Y, r.Rotation = x, y, rotation
			sp.SetFootprint(r)
			return sp, nil
		})
}

// Resize changes a spatial entity's size, keeping its top-left anchor.
func (s *Store) Resize(ctx context.Context, id string, width, height float64, by string) (Result, error) {
	return s.edit(ctx, "resize", id, by, rules.ActionMove, EventResized, []string{"width", "height"},
		func(e sitemap.Entity) (sitemap.Entity, error) {
			sp, ok := e.(sitemap.Spatial)
			if !ok {
				return nil, invalid("%s %s has no footprint", e.Kind(), id)
			}
			r := sp.Footprint()
			r.Width, r.Height = width, height
			sp.SetFootprint(r)
			return sp, nil
		})
}

// Update applies a field-level patch keyed by JSON field names. A nil value
// clears an optional field.
func (s *Store) Update(ctx context.Context, id string, fields map[string]any, by string) (Result, error) {
	if len(fields) == 0 {
		return Result{}, invalid("no fields to update")
	}
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return s.edit(ctx, "update", id, by, rules.ActionUpdate, EventUpdated, names, func(e sitemap.Entity) (sitemap.Entity, error) {
		return patch(e, fields)
	})
}

// SetOccupancy sets a zone's current occupancy.
func (s *Store) SetOccupancy(ctx context.Context, zoneID string, n int, by string) (Result, error) {
	return s.editZone(ctx, "set_occupancy", zoneID, by, func(z *sitemap.Zone) { z.CurrentOccupancy = n })
}

// AdjustOccupancy adds delta to a zone's occupancy, e.g. on arrival (+1)
// or departure (-1).
func (s *Store) AdjustOccupancy(ctx context.Context, zoneID string, delta int, by string) (Result, error) {
	return s.editZone(ctx, "adjust_occupancy", zoneID, by, func(z *sitemap.Zone) { z.CurrentOccupancy += delta })
}

func (s *Store) editZone(ctx context.Context, op, id, by string, fn func(*sitemap.Zone)) (Result, error) {
	return s.edit(ctx, op, id, by, rules.ActionUpdate, EventUpdated, []string{"currentOccupancy"},
		func(e sitemap.Entity) (sitemap.Entity, error) {
			z, ok := e.(*sitemap.Zone)
			if !ok {
				return nil, invalid("%s is a %s, not a zone", id, e.Kind())
			}
			fn(z)
			return z, nil
		})
}

// ConnectPower connects an equipment instance to a power distribution,
// replacing any previous connection. Over-subscription is allowed and
// reported as a warning.
func (s *Store) ConnectPower(ctx context.Context, equipmentID, powerID, by string) (Result, error) {
	return s.editEquipment(ctx, "connect_power", equipmentID, by, func(eq *sitemap.EquipmentInstance) error {
		p, ok := s.st.entities[powerID].(*sitemap.PowerDistribution)
		if !ok || !sitemap.Live(p) {
			return notFound(powerID)
		}
		if eq.PowerSource() == powerID {
			return nil
		}
		eq.Power = &sitemap.PowerConnection{PowerSourceID: powerID, ConnectedAt: s.now()}
		return nil
	})
}

func (s *Store) DisconnectPower(ctx context.Context, equipmentID, by string) (Result, error) {
	return s.editEquipment(ctx, "disconnect_power", equipmentID, by, func(eq *sitemap.EquipmentInstance) error {
		eq.Power = nil
		return nil
	})
}

func (s *Store) editEquipment(ctx context.Context, op, id, by string, fn func(*sitemap.EquipmentInstance) error) (Result, error) {
	return s.edit(ctx, op, id, by, rules.ActionUpdate, EventUpdated, []string{"power"},
		func(e sitemap.Entity) (sitemap.Entity, error) {
			eq, ok := e.(*sitemap.EquipmentInstance)
			if !ok {
				return nil, invalid("%s is a %s, not equipment", id, e.Kind())
			}
			return eq, fn(eq)
		})
}

func (s *Store) BookTent(ctx context.Context, tentID string, b sitemap.Booking, by string) (Result, error) {
	return s.editTent(ctx, "book_tent", tentID, by, func(t *sitemap.Tent) error { return t.Book(b) })
}

func (s *Store) CheckIn(ctx context.Context, tentID, by string) (Result, error) {
	return s.editTent(ctx, "check_in", tentID, by, func(t *sitemap.Tent) error { return t.CheckIn(s.now()) })
}

func (s *Store) CheckOut(ctx context.Context, tentID, by string) (Result, error) {
	return s.editTent(ctx, "check_out", tentID, by, func(t *sitemap.Tent) error { return t.CheckOut() })
}

func (s *Store) editTent(ctx context.Context, op, id, by string, fn func(*sitemap.Tent) error) (Result, error) {
	return s.edit(ctx, op, id, by, rules.ActionUpdate, EventUpdated, []string{"status"},
		func(e sitemap.Entity) (sitemap.Entity, error) {
			t, ok := e.(*sitemap.Tent)
			if !ok {
				return nil, invalid("%s is a %s, not a tent", id, e.Kind())
			}
			if err := fn(t); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidTransition, err)
			}
			return t, nil
		})
}

// Delete removes an entity. Measurements and layers are removed outright;
// everything else is soft-deleted with a terminal status so bookings and
// history stay queryable. Deleting an already deleted entity is a no-op.
func (s *Store) Delete(ctx context.Context, id, by string) (Result, error) {
	return s.run(ctx, "delete", by, func() (mutation, error) {
		cur, ok := s.st.entities[id]
		if !ok {
			return mutation{}, notFound(id)
		}
		if !sitemap.Live(cur) {
			return mutation{change: rules.Change{Before: cur, After: cur}, noop: true}, nil
		}
		now := s.now()
		mut := mutation{event: EventDeleted}

		switch cur.Kind() {
		case sitemap.KindMeasurement, sitemap.KindLayer:
			mut.change = rules.Change{Action: rules.ActionDelete, Before: cur}
			if cur.Kind() == sitemap.KindLayer {
				mut.cascade = s.clearLayer(id, now)
			}
			return mut, nil
		}

		cand := cur.Clone()
		switch v := cand.(type) {
		case *sitemap.Zone:
			v.Status = sitemap.ZoneClosed
		case *sitemap.Tent:
			v.Status = sitemap.TentMaintenance
		case *sitemap.EquipmentInstance:
			v.Status = sitemap.EquipmentPacked
			v.Power = nil
		case *sitemap.PowerDistribution:
			v.Status = sitemap.PowerInactive
			mut.cascade = s.disconnectAll(id, now)
		}
		h := cand.Header()
		h.DeletedAt, h.UpdatedAt = &now, now
		mut.change = rules.Change{Action: rules.ActionDelete, Before: cur, After: cand}
		return mut, nil
	})
}

func (s *Store) clearLayer(layerID string, now time.Time) []rules.Change {
	var out []rules.Change
	for _, id := range sortedKeys(s.st.entities) {
		e := s.st.entities[id]
		if e.Header().LayerID != layerID || id == layerID {
			continue
		}
		cand := e.Clone()
		cand.Header().LayerID = ""
		cand.Header().UpdatedAt = now
		out = append(out, rules.Change{Action: rules.ActionUpdate, Before: e, After: cand, Fields: []string{"layerId"}})
	}
	return out
}

func (s *Store) disconnectAll(powerID string, now time.Time) []rules.Change {
	var out []rules.Change
	for _, eq := range (view{s.st}).Consumers(powerID) {
		cand := eq.Clone().(*sitemap.EquipmentInstance)
		cand.Power = nil
		cand.UpdatedAt = now
		out = append(out, rules.Change{Action: rules.ActionUpdate, Before: eq, After: cand, Fields: []string{"power"}})
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
