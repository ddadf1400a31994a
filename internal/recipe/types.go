// Package recipe defines the typed model for web-automation recipes: a
// workflow of steps plus the cached actions, selectors, fingerprints, and
// policies the runtime consults while executing them.
package recipe

import "encoding/json"

// Op identifies the kind of work a step performs.
type Op string

const (
	OpGoto        Op = "goto"
	OpActCached   Op = "act_cached"
	OpActTemplate Op = "act_template"
	OpExtract     Op = "extract"
	OpChoose      Op = "choose"
	OpCheckpoint  Op = "checkpoint"
	OpWait        Op = "wait"
)

// OnFail selects how the workflow runner reacts to a failed step.
type OnFail string

const (
	OnFailRetry      OnFail = "retry"
	OnFailFallback   OnFail = "fallback"
	OnFailCheckpoint OnFail = "checkpoint"
	OnFailAbort      OnFail = "abort"
)

// Method is a browser interaction verb.
type Method string

const (
	MethodClick Method = "click"
	MethodFill  Method = "fill"
	MethodType  Method = "type"
	MethodPress Method = "press"
)

// Strategy names how a selector was derived.
type Strategy string

const (
	StrategyTestID Strategy = "testid"
	StrategyRole   Strategy = "role"
	StrategyCSS    Strategy = "css"
	StrategyXPath  Strategy = "xpath"
)

// ExpectKind is the kind of a post-step expectation.
type ExpectKind string

const (
	ExpectURLContains     ExpectKind = "url_contains"
	ExpectTitleContains   ExpectKind = "title_contains"
	ExpectSelectorVisible ExpectKind = "selector_visible"
	ExpectTextContains    ExpectKind = "text_contains"
)

// Recipe is a validated bundle describing a site-specific automation for a
// given flow and version. It is immutable during a run; accepted patches
// produce a new version rather than mutating the loaded one.
type Recipe struct {
	Domain       string                   `json:"domain"`
	Flow         string                   `json:"flow"`
	Version      string                   `json:"version"`
	Workflow     Workflow                 `json:"workflow"`
	Actions      map[string]ActionEntry   `json:"actions"`
	Selectors    map[string]SelectorEntry `json:"selectors"`
	Fingerprints []Fingerprint            `json:"fingerprints"`
	Policies     map[string]Policy        `json:"policies"`
}

// Workflow is the ordered list of steps a run executes.
type Workflow struct {
	ID      string         `json:"id"`
	Version string         `json:"version,omitempty"`
	Vars    map[string]any `json:"vars,omitempty"`
	Steps   []Step         `json:"steps"`
}

// Step is one unit of work, identified by ID and typed by Op.
type Step struct {
	ID        string         `json:"id"`
	Op        Op             `json:"op"`
	TargetKey string         `json:"targetKey,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	Expect    []Expectation  `json:"expect,omitempty"`
	OnFail    OnFail         `json:"onFail,omitempty"`
}

// Expectation is a post-condition asserted after a step succeeds.
type Expectation struct {
	Kind  ExpectKind `json:"kind"`
	Value string     `json:"value"`
}

// ActionEntry caches the preferred way to interact with a target key.
type ActionEntry struct {
	Instruction string    `json:"instruction"`
	Preferred   ActionRef `json:"preferred"`
	ObservedAt  string    `json:"observedAt,omitempty"`
}

// ActionRef is a concrete, executable browser interaction.
type ActionRef struct {
	Selector    string   `json:"selector"`
	Description string   `json:"description,omitempty"`
	Method      Method   `json:"method"`
	Arguments   []string `json:"arguments,omitempty"`
}

// SelectorEntry holds the primary selector for a target key plus ordered
// fallbacks tried when the primary stops matching.
type SelectorEntry struct {
	Primary   string   `json:"primary"`
	Fallbacks []string `json:"fallbacks"`
	Strategy  Strategy `json:"strategy,omitempty"`
}

// Fingerprint is a soft preflight guard. Only URLContains is enforced before
// a run; MustText and MustSelectors are advisory per-page hints.
type Fingerprint struct {
	MustText      []string `json:"mustText,omitempty"`
	MustSelectors []string `json:"mustSelectors,omitempty"`
	URLContains   string   `json:"urlContains,omitempty"`
}

// Pick selects how a policy resolves ranked candidates.
type Pick string

const (
	PickArgmax Pick = "argmax"
	PickArgmin Pick = "argmin"
	PickFirst  Pick = "first"
)

// Policy is a declarative choice over candidate records: hard filters, then
// additive scoring, then tie-breaking.
type Policy struct {
	Hard     []Condition `json:"hard"`
	Score    []ScoreRule `json:"score"`
	TieBreak []string    `json:"tie_break,omitempty"`
	Pick     Pick        `json:"pick"`
}

// ScoreRule adds Add to a candidate's score when When holds.
type ScoreRule struct {
	When Condition `json:"when"`
	Add  float64   `json:"add"`
}

// CondOp is a condition comparison operator.
type CondOp string

const (
	CondEq       CondOp = "=="
	CondNe       CondOp = "!="
	CondLt       CondOp = "<"
	CondLe       CondOp = "<="
	CondGt       CondOp = ">"
	CondGe       CondOp = ">="
	CondIn       CondOp = "in"
	CondNotIn    CondOp = "not_in"
	CondContains CondOp = "contains"
)

// Condition compares a candidate field against a value.
type Condition struct {
	Field string `json:"field"`
	Op    CondOp `json:"op"`
	Value any    `json:"value"`
}

// Clone returns a deep copy of the recipe. Patch application works on a
// clone so the original stays untouched.
func (r *Recipe) Clone() *Recipe {
	data, err := json.Marshal(r)
	if err != nil {
		// The model is built from plain JSON-compatible types; marshaling
		// cannot fail for a recipe that passed validation.
		panic("recipe: clone marshal: " + err.Error())
	}
	var out Recipe
	if err := json.Unmarshal(data, &out); err != nil {
		panic("recipe: clone unmarshal: " + err.Error())
	}
	return &out
}

// StepByID returns the step with the given id, or nil.
func (w *Workflow) StepByID(id string) *Step {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i]
		}
	}
	return nil
}

// StringArg returns the named arg as a string, with ok=false when absent
// or not a string.
func (s *Step) StringArg(name string) (string, bool) {
	if s.Args == nil {
		return "", false
	}
	v, ok := s.Args[name].(string)
	return v, ok
}
