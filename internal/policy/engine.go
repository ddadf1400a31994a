// Package policy evaluates declarative choice policies over candidate
// records: hard conditions filter, score rules rank, tie-break fields break
// ties, and pick selects the winner.
package policy

import (
	"encoding/json"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/kairi-dev/kairi/internal/recipe"
)

// Candidate is one record under evaluation, typically a decoded JSON object
// extracted from a page.
type Candidate = map[string]any

// Evaluate applies a policy to candidates and returns the winner.
// Returns ok=false when no candidate survives the hard conditions
// (including the empty-input case).
func Evaluate(candidates []Candidate, p *recipe.Policy) (Candidate, bool) {
	var survivors []Candidate
	for _, c := range candidates {
		if passesHard(c, p.Hard) {
			survivors = append(survivors, c)
		}
	}
	if len(survivors) == 0 {
		return nil, false
	}

	if p.Pick == recipe.PickFirst {
		return survivors[0], true
	}

	scores := make(map[int]float64, len(survivors))
	order := make([]int, len(survivors))
	for i, c := range survivors {
		order[i] = i
		scores[i] = score(c, p.Score)
	}

	descending := p.Pick == recipe.PickArgmax
	sort.SliceStable(order, func(a, b int) bool {
		if descending {
			return scores[order[a]] > scores[order[b]]
		}
		return scores[order[a]] < scores[order[b]]
	})

	// Collect candidates tied at the winning score, preserving input order.
	topScore := scores[order[0]]
	var tied []Candidate
	for _, idx := range order {
		if scores[idx] != topScore {
			break
		}
		tied = append(tied, survivors[idx])
	}
	if len(tied) == 1 {
		return tied[0], true
	}

	return breakTies(tied, p.TieBreak), true
}

func passesHard(c Candidate, conditions []recipe.Condition) bool {
	for _, cond := range conditions {
		if !Holds(c, &cond) {
			return false
		}
	}
	return true
}

func score(c Candidate, rules []recipe.ScoreRule) float64 {
	var total float64
	for _, rule := range rules {
		if Holds(c, &rule.When) {
			total += rule.Add
		}
	}
	return total
}

// Holds reports whether a condition is true for a candidate.
//
// Operator semantics: == and != compare by deep equality (numeric values are
// normalized first so 30 == 30.0); the ordering operators coerce both sides
// to numeric and are false when either side is not a number; in/not_in
// require the condition value to be a list; contains is substring
// containment on strings.
func Holds(c Candidate, cond *recipe.Condition) bool {
	field := c[cond.Field]

	switch cond.Op {
	case recipe.CondEq:
		return deepEqual(field, cond.Value)
	case recipe.CondNe:
		return !deepEqual(field, cond.Value)
	case recipe.CondLt, recipe.CondLe, recipe.CondGt, recipe.CondGe:
		a, aok := toNumber(field)
		b, bok := toNumber(cond.Value)
		if !aok || !bok {
			return false
		}
		switch cond.Op {
		case recipe.CondLt:
			return a < b
		case recipe.CondLe:
			return a <= b
		case recipe.CondGt:
			return a > b
		default:
			return a >= b
		}
	case recipe.CondIn, recipe.CondNotIn:
		list, ok := toList(cond.Value)
		if !ok {
			return false
		}
		found := false
		for _, item := range list {
			if deepEqual(field, item) {
				found = true
				break
			}
		}
		if cond.Op == recipe.CondIn {
			return found
		}
		return !found
	case recipe.CondContains:
		s, sok := field.(string)
		sub, subok := cond.Value.(string)
		return sok && subok && strings.Contains(s, sub)
	default:
		return false
	}
}

// breakTies resolves tied candidates by comparing tie-break fields
// left-to-right. A field ending in _desc sorts descending; _asc (or no
// suffix) sorts ascending. The first candidate that no later field
// distinguishes wins.
func breakTies(tied []Candidate, fields []string) Candidate {
	if len(fields) == 0 {
		return tied[0]
	}

	best := tied[0]
	for _, c := range tied[1:] {
		if compareTieBreak(c, best, fields) < 0 {
			best = c
		}
	}
	return best
}

// compareTieBreak orders two candidates by the tie-break fields; negative
// means a wins. Numeric comparison when both values are numbers,
// lexicographic when both are strings, no preference otherwise.
func compareTieBreak(a, b Candidate, fields []string) int {
	for _, field := range fields {
		name, desc := parseTieBreakField(field)

		av, bv := a[name], b[name]
		cmp := 0

		if an, aok := strictNumber(av); aok {
			if bn, bok := strictNumber(bv); bok {
				switch {
				case an < bn:
					cmp = -1
				case an > bn:
					cmp = 1
				}
			}
		} else if as, aok := av.(string); aok {
			if bs, bok := bv.(string); bok {
				cmp = strings.Compare(as, bs)
			}
		}

		if cmp == 0 {
			continue
		}
		if desc {
			cmp = -cmp
		}
		return cmp
	}
	return 0
}

func parseTieBreakField(field string) (name string, desc bool) {
	switch {
	case strings.HasSuffix(field, "_desc"):
		return strings.TrimSuffix(field, "_desc"), true
	case strings.HasSuffix(field, "_asc"):
		return strings.TrimSuffix(field, "_asc"), false
	default:
		return field, false
	}
}

// deepEqual compares values with numeric normalization, so JSON-decoded
// float64 values match integers carried in policy literals. Strings are
// never treated as numbers here: "30" != 30.
func deepEqual(a, b any) bool {
	if an, aok := strictNumber(a); aok {
		if bn, bok := strictNumber(b); bok {
			return an == bn
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// strictNumber converts numeric types to float64 without string coercion.
func strictNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// toNumber coerces a value to float64 for the ordering operators and
// tie-breaks. Numeric strings coerce; other types do not.
func toNumber(v any) (float64, bool) {
	if f, ok := strictNumber(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

// toList accepts any slice value.
func toList(v any) ([]any, bool) {
	if list, ok := v.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
