// Package patch applies authoring patches to recipes: classification into
// minor and major changes, pure application of patch ops, and the gated
// version bump that persists a patched recipe alongside its predecessor.
package patch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kairi-dev/kairi/internal/checkpoint"
	"github.com/kairi-dev/kairi/internal/recipe"
)

// OpKind names a patch operation.
type OpKind string

const (
	OpActionsAdd       OpKind = "actions.add"
	OpActionsReplace   OpKind = "actions.replace"
	OpSelectorsAdd     OpKind = "selectors.add"
	OpSelectorsReplace OpKind = "selectors.replace"
	OpWorkflowExpect   OpKind = "workflow.update_expect"
	OpPoliciesUpdate   OpKind = "policies.update"
)

// Op is one patch operation. Key addresses actions/selectors/policies maps;
// Step addresses a workflow step for expectation updates.
type Op struct {
	Kind  OpKind `json:"op"`
	Key   string `json:"key,omitempty"`
	Step  string `json:"step,omitempty"`
	Value any    `json:"value"`
}

// Payload is a full authoring patch with its rationale.
type Payload struct {
	Patch  []Op   `json:"patch"`
	Reason string `json:"reason"`
}

// Severity classifies how much review a patch needs.
type Severity string

const (
	Minor Severity = "minor"
	Major Severity = "major"
)

// Classify returns Minor for a single actions/selectors add-or-replace op;
// everything else (multiple ops, policy updates, expectation updates) is
// Major and needs operator approval before application.
func Classify(p Payload) Severity {
	if len(p.Patch) != 1 {
		return Major
	}
	switch p.Patch[0].Kind {
	case OpActionsAdd, OpActionsReplace, OpSelectorsAdd, OpSelectorsReplace:
		return Minor
	default:
		return Major
	}
}

// Apply produces a new recipe with the patch ops applied in order. The input
// recipe is never mutated. Adding an existing key or replacing a missing one
// is an error, as is an op whose value does not decode to the section's type.
func Apply(r *recipe.Recipe, p Payload) (*recipe.Recipe, error) {
	out := r.Clone()
	for i, op := range p.Patch {
		if err := applyOp(out, op); err != nil {
			return nil, fmt.Errorf("patch op %d (%s): %w", i, op.Kind, err)
		}
	}
	return out, nil
}

func applyOp(r *recipe.Recipe, op Op) error {
	switch op.Kind {
	case OpActionsAdd, OpActionsReplace:
		if op.Key == "" {
			return fmt.Errorf("missing key")
		}
		entry, err := decodeAs[recipe.ActionEntry](op.Value)
		if err != nil {
			return err
		}
		if r.Actions == nil {
			r.Actions = make(map[string]recipe.ActionEntry)
		}
		_, exists := r.Actions[op.Key]
		if op.Kind == OpActionsAdd && exists {
			return fmt.Errorf("action %q already exists", op.Key)
		}
		if op.Kind == OpActionsReplace && !exists {
			return fmt.Errorf("action %q does not exist", op.Key)
		}
		r.Actions[op.Key] = entry
		return nil

	case OpSelectorsAdd, OpSelectorsReplace:
		if op.Key == "" {
			return fmt.Errorf("missing key")
		}
		entry, err := decodeAs[recipe.SelectorEntry](op.Value)
		if err != nil {
			return err
		}
		if r.Selectors == nil {
			r.Selectors = make(map[string]recipe.SelectorEntry)
		}
		_, exists := r.Selectors[op.Key]
		if op.Kind == OpSelectorsAdd && exists {
			return fmt.Errorf("selector %q already exists", op.Key)
		}
		if op.Kind == OpSelectorsReplace && !exists {
			return fmt.Errorf("selector %q does not exist", op.Key)
		}
		r.Selectors[op.Key] = entry
		return nil

	case OpWorkflowExpect:
		if op.Step == "" {
			return fmt.Errorf("missing step")
		}
		step := r.Workflow.StepByID(op.Step)
		if step == nil {
			return fmt.Errorf("step %q does not exist", op.Step)
		}
		expect, err := decodeAs[[]recipe.Expectation](op.Value)
		if err != nil {
			return err
		}
		step.Expect = expect
		return nil

	case OpPoliciesUpdate:
		if op.Key == "" {
			return fmt.Errorf("missing key")
		}
		pol, err := decodeAs[recipe.Policy](op.Value)
		if err != nil {
			return err
		}
		if r.Policies == nil {
			r.Policies = make(map[string]recipe.Policy)
		}
		r.Policies[op.Key] = pol
		return nil

	default:
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}
}

// ApplyAndVersionUp applies a patch, bumps the vNNN suffix, and persists the
// new version under root. Major patches are gated on an operator GO first;
// NOT_GO fails without touching the stored files. The previous version stays
// on disk untouched.
func ApplyAndVersionUp(ctx context.Context, root string, r *recipe.Recipe, p Payload, approver checkpoint.Handler) (*recipe.Recipe, error) {
	if Classify(p) == Major {
		if approver == nil {
			return nil, fmt.Errorf("major patch requires an approver")
		}
		msg := fmt.Sprintf("Major patch for %s/%s %s (%d ops): %s",
			r.Domain, r.Flow, r.Version, len(p.Patch), p.Reason)
		decision, err := approver.RequestApproval(ctx, msg, nil)
		if err != nil {
			return nil, fmt.Errorf("patch approval failed: %w", err)
		}
		if decision != checkpoint.GO {
			return nil, fmt.Errorf("major patch rejected by operator")
		}
	}

	next, err := Apply(r, p)
	if err != nil {
		return nil, err
	}

	version, err := recipe.NextVersion(r.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to bump version: %w", err)
	}
	next.Version = version
	next.Workflow.Version = version

	if root != "" {
		if err := recipe.Save(root, next); err != nil {
			return nil, fmt.Errorf("failed to persist patched recipe: %w", err)
		}
	}
	return next, nil
}

// decodeAs converts a raw patch value (decoded JSON) into the section's
// concrete type via a marshal round-trip.
func decodeAs[T any](value any) (T, error) {
	var out T
	data, err := json.Marshal(value)
	if err != nil {
		return out, fmt.Errorf("invalid patch value: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("patch value has wrong shape: %w", err)
	}
	return out, nil
}
