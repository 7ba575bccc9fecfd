// Package rules is the constraint and validation engine. Rules are pure
// functions of a read-only View of the map and a proposed Change; they never
// mutate anything.
package rules

import (
	"fmt"

	"github.com/kyleqd/sitemap/internal/geometry"
	"github.com/kyleqd/sitemap/internal/sitemap"
)

// Severity says whether a violation blocks the change.
type Severity string

const (
	Hard Severity = "hard"
	Soft Severity = "soft"
)

// Built-in rule ids, in evaluation order.
const (
	RuleLayerLocked      = "layer-locked"
	RuleCanvasBounds     = "canvas-bounds"
	RuleZoneOverlap      = "zone-overlap"
	RuleZoneCapacity     = "zone-capacity"
	RuleZoneContainment  = "zone-containment"
	RulePowerBudget      = "power-budget"
	RulePowerConnections = "power-connections"
	RuleClearance        = "clearance"
)

type Action string

const (
	ActionPlace  Action = "place"
	ActionMove   Action = "move"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	// ActionAudit re-checks an existing entity without changing it. Only soft
	// rules report.
	ActionAudit Action = "audit"
	// ActionImport checks an entity loaded from an export. Lock state is
	// ignored.
	ActionImport Action = "import"
)

// Change is a proposed transition of one entity. Before is nil for a
// placement; After is nil for a hard delete.
type Change struct {
	Action Action
	Before sitemap.Entity
	After  sitemap.Entity
	Fields []string
}

// Subject is the entity the change is about.
func (c Change) Subject() sitemap.Entity {
	if c.After != nil {
		return c.After
	}
	return c.Before
}

func (c Change) checksShape() bool {
	switch c.Action {
	case ActionPlace, ActionMove, ActionUpdate, ActionImport:
		return c.After != nil && sitemap.Live(c.After)
	}
	return false
}

func (c Change) checksSoft() bool {
	return c.After != nil && sitemap.Live(c.After) && c.Action != ActionDelete
}

// View is the read-only state a rule may consult. It reflects the map before
// the change is applied.
type View interface {
	Map() sitemap.SiteMap
	Entity(id string) (sitemap.Entity, bool)
	// Overlapping returns live spatial entities whose footprint intersects r.
	Overlapping(r geometry.Rect) []sitemap.Spatial
	// Consumers returns live equipment connected to the power source.
	Consumers(powerID string) []*sitemap.EquipmentInstance
	CatalogEntry(id string) (sitemap.CatalogEntry, bool)
}

// Violation is one rule breach.
type Violation struct {
	RuleID        string                `json:"rule"`
	Severity      Severity              `json:"severity"`
	EntityID      string                `json:"entityId"`
	EntityType    sitemap.Kind          `json:"entityType"`
	Message       string                `json:"message"`
	IssueType     sitemap.IssueType     `json:"issueType,omitempty"`
	IssueSeverity sitemap.IssueSeverity `json:"issueSeverity,omitempty"`
}

// Rule evaluates one constraint.
type Rule interface {
	ID() string
	Evaluate(v View, c Change) []Violation
}

// ValidationError rejects a change on a hard violation. The store is left
// untouched.
type ValidationError struct {
	RuleID     string
	Message    string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.RuleID, e.Message)
}

// Result collects every violation of one evaluation in rule order.
type Result struct {
	Violations []Violation
}

func (r Result) filter(s Severity) []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == s {
			out = append(out, v)
		}
	}
	return out
}

func (r Result) Hard() []Violation { return r.filter(Hard) }
func (r Result) Soft() []Violation { return r.filter(Soft) }

// Err returns a *ValidationError for the first hard violation, or nil.
func (r Result) Err() error {
	hard := r.Hard()
	if len(hard) == 0 {
		return nil
	}
	return &ValidationError{RuleID: hard[0].RuleID, Message: hard[0].Message, Violations: hard}
}

// Engine runs the built-in rules followed by any custom rules.
type Engine struct {
	cfg   Config
	rules []Rule
}

// NewEngine builds an engine from cfg, compiling custom rules.
func NewEngine(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	e := &Engine{cfg: cfg}
	e.rules = []Rule{
		layerLocked{},
		canvasBounds{},
		zoneOverlap{incompatible: cfg.incompatible()},
		zoneCapacity{},
		zoneContainment{},
		powerBudget{},
		powerConnections{},
		clearance{minimums: cfg.MinClearance},
	}
	for _, def := range cfg.Custom {
		r, err := NewCELRule(def)
		if err != nil {
			return nil, err
		}
		e.rules = append(e.rules, r)
	}
	return e, nil
}

// Default returns an engine with default thresholds.
func Default() *Engine {
	e, err := NewEngine(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Engine) Config() Config { return e.cfg }

// RuleIDs lists the active rules in evaluation order.
func (e *Engine) RuleIDs() []string {
	ids := make([]string, len(e.rules))
	for i, r := range e.rules {
		ids[i] = r.ID()
	}
	return ids
}

// Evaluate runs every rule against c. Audits drop hard results so that only
// issue-producing findings remain.
func (e *Engine) Evaluate(v View, c Change) Result {
	var res Result
	for _, r := range e.rules {
		for _, viol := range r.Evaluate(v, c) {
			if c.Action == ActionAudit && viol.Severity == Hard {
				continue
			}
			res.Violations = append(res.Violations, viol)
		}
	}
	return res
}

// MinClearance returns the configured minimum in metres for a measurement
// type, or 0 when none applies.
func (e *Engine) MinClearance(t sitemap.MeasurementType) float64 {
	return e.cfg.MinClearance[t]
}

func violation(rule string, sev Severity, e sitemap.Entity, msg string) Violation {
	return Violation{
		RuleID:     rule,
		Severity:   sev,
		EntityID:   e.Header().ID,
		EntityType: e.Kind(),
		Message:    msg,
	}
}
