package rules

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/google/cel-go/cel"

	"github.com/kyleqd/sitemap/internal/sitemap"
)

// CustomRule is an operator-defined rule. Expression is CEL over three
// variables: entity (the candidate as a JSON object), site (the map) and
// action. The rule fires when the expression evaluates to true.
type CustomRule struct {
	ID            string                `yaml:"id"`
	Description   string                `yaml:"description"`
	Kinds         []sitemap.Kind        `yaml:"kinds"`
	Expression    string                `yaml:"expression"`
	Severity      Severity              `yaml:"severity"`
	IssueType     sitemap.IssueType     `yaml:"issue_type"`
	IssueSeverity sitemap.IssueSeverity `yaml:"issue_severity"`
}

type celRule struct {
	def CustomRule
	prg cel.Program
}

// NewCELRule compiles def.
func NewCELRule(def CustomRule) (Rule, error) {
	if def.ID == "" || def.Expression == "" {
		return nil, fmt.Errorf("custom rule: id and expression are required")
	}
	switch def.Severity {
	case "":
		def.Severity = Soft
	case Hard, Soft:
	default:
		return nil, fmt.Errorf("custom rule %s: unknown severity %q", def.ID, def.Severity)
	}
	if def.IssueType == "" {
		def.IssueType = sitemap.IssueCustom
	}
	if def.IssueSeverity == "" {
		def.IssueSeverity = sitemap.SeverityLow
	}

	env, err := cel.NewEnv(
		cel.Variable("entity", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("site", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("action", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("custom rule %s: creating CEL env: %w", def.ID, err)
	}
	ast, issues := env.Compile(def.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("custom rule %s: compiling: %w", def.ID, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("custom rule %s: building program: %w", def.ID, err)
	}
	return &celRule{def: def, prg: prg}, nil
}

func (r *celRule) ID() string { return r.def.ID }

// Evaluate treats evaluation errors, such as a missing key, as a pass.
func (r *celRule) Evaluate(v View, c Change) []Violation {
	applies := c.checksSoft()
	if r.def.Severity == Hard {
		applies = c.checksShape()
	}
	if !applies {
		return nil
	}
	if len(r.def.Kinds) > 0 && !slices.Contains(r.def.Kinds, c.After.Kind()) {
		return nil
	}
	entity, err := asObject(c.After)
	if err != nil {
		return nil
	}
	site, err := asObject(v.Map())
	if err != nil {
		return nil
	}
	out, _, err := r.prg.Eval(map[string]any{
		"entity": entity,
		"site":   site,
		"action": string(c.Action),
	})
	if err != nil {
		return nil
	}
	if fired, ok := out.Value().(bool); !ok || !fired {
		return nil
	}
	msg := r.def.Description
	if msg == "" {
		msg = "custom rule " + r.def.ID + " failed"
	}
	viol := violation(r.def.ID, r.def.Severity, c.After, msg)
	viol.IssueType, viol.IssueSeverity = r.def.IssueType, r.def.IssueSeverity
	return []Violation{viol}
}

func asObject(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
