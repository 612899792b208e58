package rules

import (
	"fmt"
	"regexp"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Logic is a RuleSet's combination operator.
type Logic string

const (
	LogicAND Logic = "AND"
	LogicOR  Logic = "OR"
)

// Operator is the closed set of comparisons a Rule may apply, plus the
// Lua-backed "script" operator.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpContains Operator = "contains"
	OpIn       Operator = "in"
	OpExists   Operator = "exists"
	OpRegex    Operator = "regex"
	OpScript   Operator = "script"
)

// Rule is one leaf condition: compare the context value at Field against
// Value using Operator.
type Rule struct {
	Field    string
	Operator Operator
	Value    any
}

// RuleSet is an ordered list of rules combined with AND/OR logic. A nil
// RuleSet or one with no rules evaluates to true.
type RuleSet struct {
	Rules []Rule
	Logic Logic
}

// Evaluator evaluates Rules and RuleSets against a Context. It holds no
// state of its own; the zero value is ready to use.
type Evaluator struct{}

// EvaluateRuleSet evaluates every rule in the set against ctx and combines
// the results per the set's Logic (default AND when unset and more than
// zero rules are present).
func (e Evaluator) EvaluateRuleSet(rs *RuleSet, ctx Context) bool {
	if rs == nil || len(rs.Rules) == 0 {
		return true
	}

	logic := rs.Logic
	if logic == "" {
		logic = LogicAND
	}

	switch logic {
	case LogicOR:
		for _, r := range rs.Rules {
			if e.EvaluateRule(r, ctx) {
				return true
			}
		}
		return false
	default: // AND
		for _, r := range rs.Rules {
			if !e.EvaluateRule(r, ctx) {
				return false
			}
		}
		return true
	}
}

// EvaluateRule evaluates a single rule against ctx.
func (e Evaluator) EvaluateRule(r Rule, ctx Context) bool {
	if r.Operator == OpExists {
		exists := ctx.GetValue(r.Field) != nil
		want, _ := r.Value.(bool)
		return exists == want
	}
	if r.Operator == OpScript {
		script, _ := r.Value.(string)
		result, err := evalScript(script, ctx)
		if err != nil {
			return false
		}
		return result
	}

	actual := ctx.GetValue(r.Field)

	switch r.Operator {
	case OpEq:
		return compareEqual(actual, r.Value)
	case OpNe:
		return !compareEqual(actual, r.Value)
	case OpGt, OpGte, OpLt, OpLte:
		a, aok := toFloat(actual)
		b, bok := toFloat(r.Value)
		if !aok || !bok {
			return false
		}
		switch r.Operator {
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		case OpLt:
			return a < b
		default:
			return a <= b
		}
	case OpContains:
		as, aok := actual.(string)
		bs, bok := r.Value.(string)
		if !aok || !bok {
			return false
		}
		return strings.Contains(as, bs)
	case OpIn:
		return valueIn(actual, r.Value)
	case OpRegex:
		as, aok := actual.(string)
		pattern, pok := r.Value.(string)
		if !aok || !pok {
			return false
		}
		matched, err := regexp.MatchString(pattern, as)
		return err == nil && matched
	default:
		return false
	}
}

func compareEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

func valueIn(needle, haystack any) bool {
	list, ok := haystack.([]string)
	if ok {
		s, sok := needle.(string)
		if !sok {
			return false
		}
		for _, v := range list {
			if v == s {
				return true
			}
		}
		return false
	}
	anyList, ok := haystack.([]any)
	if !ok {
		return false
	}
	for _, v := range anyList {
		if compareEqual(needle, v) {
			return true
		}
	}
	return false
}

// evalScript evaluates a Lua boolean expression against the dotted-path
// context, for rules the fixed operator vocabulary can't express (e.g.
// combining several fields with custom arithmetic). The context is exposed
// to the script via a "ctx" table indexed by dotted path, e.g.
// ctx["token_usage.input_tokens"]. Only the model, token_usage.* and
// headers.* paths are set in the table; body.* paths are not exposed.
func evalScript(script string, ctx Context) (bool, error) {
	L := lua.NewState()
	defer L.Close()

	ctxTable := L.NewTable()
	for _, path := range []string{
		"model",
		"token_usage.input_tokens", "token_usage.output_tokens", "token_usage.total_tokens",
	} {
		setLuaValue(L, ctxTable, path, ctx.GetValue(path))
	}
	for name := range ctx.Headers {
		setLuaValue(L, ctxTable, "headers."+name, ctx.GetValue("headers."+name))
	}
	L.SetGlobal("ctx", ctxTable)

	if err := L.DoString("return (" + script + ")"); err != nil {
		return false, fmt.Errorf("evaluating rule script: %w", err)
	}

	ret := L.Get(-1)
	L.Pop(1)
	return lua.LVAsBool(ret), nil
}

func setLuaValue(L *lua.LState, table *lua.LTable, key string, v any) {
	switch val := v.(type) {
	case string:
		table.RawSetString(key, lua.LString(val))
	case int:
		table.RawSetString(key, lua.LNumber(val))
	case float64:
		table.RawSetString(key, lua.LNumber(val))
	case bool:
		table.RawSetString(key, lua.LBool(val))
	default:
		if v != nil {
			table.RawSetString(key, lua.LString(fmt.Sprint(v)))
		}
	}
}
