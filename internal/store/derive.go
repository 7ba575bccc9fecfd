package store

import (
	"github.com/kyleqd/sitemap/internal/rules"
	"github.com/kyleqd/sitemap/internal/sitemap"
)

var issueTitles = map[string]string{
	rules.RuleZoneContainment:  "Tent outside its zone",
	rules.RulePowerBudget:      "Power source over capacity",
	rules.RulePowerConnections: "Too many power connections",
	rules.RuleClearance:        "Clearance below requirement",
}

func issueTitle(v rules.Violation) string {
	if t, ok := issueTitles[v.RuleID]; ok {
		return t
	}
	return v.RuleID
}

// derive recomputes state that depends on the committed changes: power
// loads of touched sources and the open issues of every affected entity.
// The caller must hold s.mu.
func (s *Store) derive(changes []rules.Change, by string) []ChangeEvent {
	var (
		events  []ChangeEvent
		sources []string
		audit   []string
	)
	add := func(list *[]string, id string) {
		for _, x := range *list {
			if x == id {
				return
			}
		}
		*list = append(*list, id)
	}
	zones := make(map[string]bool)
	for _, c := range changes {
		for _, e := range []sitemap.Entity{c.Before, c.After} {
			switch v := e.(type) {
			case *sitemap.EquipmentInstance:
				if src := v.PowerSource(); src != "" {
					add(&sources, src)
				}
			case *sitemap.PowerDistribution:
				add(&sources, v.ID)
			case *sitemap.Zone:
				zones[v.ID] = true
			}
		}
		add(&audit, c.Subject().Header().ID)
	}
	if len(zones) > 0 {
		for _, id := range sortedKeys(s.st.entities) {
			if t, ok := s.st.entities[id].(*sitemap.Tent); ok && zones[t.ZoneID] {
				add(&audit, id)
			}
		}
	}
	for _, id := range sources {
		if ev, ok := s.recomputePower(id, by); ok {
			events = append(events, ev)
		}
		add(&audit, id)
	}
	for _, id := range audit {
		events = append(events, s.reconcile(id, by)...)
	}
	return events
}

// recomputePower refreshes the load of a power source from its consumers.
func (s *Store) recomputePower(id, by string) (ChangeEvent, bool) {
	p, ok := s.st.entities[id].(*sitemap.PowerDistribution)
	if !ok || !sitemap.Live(p) {
		return ChangeEvent{}, false
	}
	v := view{s.st}
	var load float64
	for _, eq := range v.Consumers(id) {
		load += rules.Draw(v, eq)
	}
	cand := p.Clone().(*sitemap.PowerDistribution)
	cand.ApplyLoad(load)
	if cand.LoadWatts == p.LoadWatts && cand.AvailableWatts == p.AvailableWatts && cand.Status == p.Status {
		return ChangeEvent{}, false
	}
	cand.UpdatedAt = s.now()
	c := rules.Change{Action: rules.ActionUpdate, Before: p, After: cand,
		Fields: []string{"loadWatts", "availableCapacityWatts", "status"}}
	return s.commit(EventUpdated, c, by), true
}

// reconcile audits entity id and brings its rule-raised issues in line:
// new findings open an issue, changed findings update it, and findings that
// no longer hold are resolved.
func (s *Store) reconcile(id, by string) []ChangeEvent {
	var events []ChangeEvent
	e, ok := s.st.entities[id]
	found := make(map[string]rules.Violation)
	if ok && sitemap.Live(e) {
		res := s.engine.Evaluate(view{s.st}, rules.Change{Action: rules.ActionAudit, Before: e, After: e})
		for _, v := range res.Soft() {
			if v.EntityID == id {
				if _, dup := found[v.RuleID]; !dup {
					found[v.RuleID] = v
				}
			}
		}
		if m, isMeasure := e.(*sitemap.Measurement); isMeasure {
			if ev, changed := s.refreshCompliance(m, found, by); changed {
				events = append(events, ev)
			}
		}
	}

	now := s.now()
	for _, rule := range sortedKeys(s.st.byEntity[id]) {
		if _, still := found[rule]; still {
			continue
		}
		iss := s.st.issues[s.st.byEntity[id][rule]]
		s.st.dropIssueKey(iss)
		iss.Status = sitemap.IssueResolved
		iss.ResolvedAt = &now
		iss.ResolvedBy = by
		iss.UpdatedAt = now
		events = append(events, s.issueEvent(EventIssueResolved, iss, by))
	}

	for _, rule := range sortedKeys(found) {
		v := found[rule]
		if issID, open := s.st.byEntity[id][rule]; open {
			iss := s.st.issues[issID]
			if iss.Description == v.Message {
				continue
			}
			iss.Description = v.Message
			iss.Severity = v.IssueSeverity
			iss.UpdatedAt = now
			events = append(events, s.issueEvent(EventIssueUpdated, iss, by))
			continue
		}
		iss := &sitemap.MapIssue{
			ID:          s.newID(),
			SiteMapID:   s.st.siteMap.ID,
			EntityID:    id,
			EntityType:  v.EntityType,
			RuleID:      v.RuleID,
			Type:        v.IssueType,
			Severity:    v.IssueSeverity,
			Status:      sitemap.IssueOpen,
			Title:       issueTitle(v),
			Description: v.Message,
			ReportedBy:  by,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if iss.Type == "" {
			iss.Type = sitemap.IssueCustom
		}
		if iss.Severity == "" {
			iss.Severity = sitemap.SeverityLow
		}
		s.st.addIssue(iss)
		events = append(events, s.issueEvent(EventIssueOpened, iss, by))
	}
	return events
}

func (s *Store) refreshCompliance(m *sitemap.Measurement, found map[string]rules.Violation, by string) (ChangeEvent, bool) {
	_, failing := found[rules.RuleClearance]
	req := s.engine.MinClearance(m.Type)
	if m.IsCompliant == !failing && m.Requirement == req {
		return ChangeEvent{}, false
	}
	cand := m.Clone().(*sitemap.Measurement)
	cand.IsCompliant = !failing
	cand.Requirement = req
	cand.UpdatedAt = s.now()
	c := rules.Change{Action: rules.ActionUpdate, Before: m, After: cand, Fields: []string{"isCompliant", "requirement"}}
	return s.commit(EventUpdated, c, by), true
}
