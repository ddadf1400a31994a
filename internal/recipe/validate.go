package recipe

import (
	"fmt"
)

var validOps = map[Op]bool{
	OpGoto:        true,
	OpActCached:   true,
	OpActTemplate: true,
	OpExtract:     true,
	OpChoose:      true,
	OpCheckpoint:  true,
	OpWait:        true,
}

var validOnFail = map[OnFail]bool{
	"":               true,
	OnFailRetry:      true,
	OnFailFallback:   true,
	OnFailCheckpoint: true,
	OnFailAbort:      true,
}

var validExpectKinds = map[ExpectKind]bool{
	ExpectURLContains:     true,
	ExpectTitleContains:   true,
	ExpectSelectorVisible: true,
	ExpectTextContains:    true,
}

var validPicks = map[Pick]bool{
	PickArgmax: true,
	PickArgmin: true,
	PickFirst:  true,
}

var validCondOps = map[CondOp]bool{
	CondEq: true, CondNe: true,
	CondLt: true, CondLe: true, CondGt: true, CondGe: true,
	CondIn: true, CondNotIn: true, CondContains: true,
}

// Validate checks the structural invariants of a recipe: non-empty workflow,
// unique step ids, op-specific required fields, the act_cached cross
// reference invariant, and well-formed policies.
func Validate(r *Recipe) error {
	if r.Domain == "" {
		return fmt.Errorf("domain is required")
	}
	if r.Flow == "" {
		return fmt.Errorf("flow is required")
	}
	if r.Version == "" {
		return fmt.Errorf("version is required")
	}
	if err := validateWorkflow(r); err != nil {
		return err
	}
	for name, p := range r.Policies {
		if err := validatePolicy(name, &p); err != nil {
			return err
		}
	}
	return nil
}

func validateWorkflow(r *Recipe) error {
	w := &r.Workflow
	if w.ID == "" {
		return fmt.Errorf("workflow.id is required")
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow %q has no steps", w.ID)
	}

	seen := make(map[string]bool, len(w.Steps))
	for i := range w.Steps {
		step := &w.Steps[i]
		if step.ID == "" {
			return fmt.Errorf("step %d has no id", i)
		}
		if seen[step.ID] {
			return fmt.Errorf("duplicate step id %q", step.ID)
		}
		seen[step.ID] = true

		if err := validateStep(r, step); err != nil {
			return fmt.Errorf("step %q: %w", step.ID, err)
		}
	}
	return nil
}

func validateStep(r *Recipe, step *Step) error {
	if !validOps[step.Op] {
		return fmt.Errorf("unknown op %q", step.Op)
	}
	if !validOnFail[step.OnFail] {
		return fmt.Errorf("unknown onFail %q", step.OnFail)
	}

	switch step.Op {
	case OpActCached, OpActTemplate:
		if step.TargetKey == "" {
			return fmt.Errorf("op %s requires targetKey", step.Op)
		}
	case OpChoose:
		for _, arg := range []string{"from", "policy", "into"} {
			if _, ok := step.StringArg(arg); !ok {
				return fmt.Errorf("op choose requires args.%s", arg)
			}
		}
		if policyName, ok := step.StringArg("policy"); ok {
			if _, exists := r.Policies[policyName]; !exists {
				return fmt.Errorf("references unknown policy %q", policyName)
			}
		}
	}

	// Every act_cached target must be resolvable through either the action
	// cache or the selector table.
	if step.Op == OpActCached {
		_, hasAction := r.Actions[step.TargetKey]
		_, hasSelector := r.Selectors[step.TargetKey]
		if !hasAction && !hasSelector {
			return fmt.Errorf("targetKey %q has neither an action nor a selector entry", step.TargetKey)
		}
	}

	for _, exp := range step.Expect {
		if !validExpectKinds[exp.Kind] {
			return fmt.Errorf("unknown expectation kind %q", exp.Kind)
		}
		if exp.Value == "" {
			return fmt.Errorf("expectation %s has empty value", exp.Kind)
		}
	}
	return nil
}

func validatePolicy(name string, p *Policy) error {
	if !validPicks[p.Pick] {
		return fmt.Errorf("policy %q: unknown pick %q", name, p.Pick)
	}
	for _, c := range p.Hard {
		if err := validateCondition(&c); err != nil {
			return fmt.Errorf("policy %q hard: %w", name, err)
		}
	}
	for _, s := range p.Score {
		if err := validateCondition(&s.When); err != nil {
			return fmt.Errorf("policy %q score: %w", name, err)
		}
	}
	return nil
}

func validateCondition(c *Condition) error {
	if c.Field == "" {
		return fmt.Errorf("condition has no field")
	}
	if !validCondOps[c.Op] {
		return fmt.Errorf("unknown condition op %q", c.Op)
	}
	return nil
}
