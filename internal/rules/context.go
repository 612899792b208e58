// Package rules implements the dotted-path rule context and evaluator: a
// Context exposing model/headers.*/body.*/token_usage.* fields, ten
// closed-set comparison operators plus a Lua-backed script operator, and
// AND/OR rulesets that default to true when empty.
package rules

import "strings"

// TokenUsage is the subset of IRUsage the rule context exposes for
// token-count-based routing decisions (e.g. "route large prompts to a
// higher-context provider").
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

func (u TokenUsage) TotalTokens() int { return u.InputTokens + u.OutputTokens }

// Context is the read-only view a Rule is evaluated against.
type Context struct {
	CurrentModel string
	Headers      map[string]string
	RequestBody  map[string]any
	TokenUsage   TokenUsage
}

// GetValue resolves a dotted path against the context. Supported roots:
// "model", "headers.<name>", "body.<path>" (with "[n]" array indexing),
// and "token_usage.{input_tokens,output_tokens,total_tokens}". Returns nil
// for any unresolved path.
func (c Context) GetValue(path string) any {
	switch {
	case path == "model":
		return c.CurrentModel
	case strings.HasPrefix(path, "headers."):
		name := strings.TrimPrefix(path, "headers.")
		if v, ok := c.Headers[name]; ok {
			return v
		}
		return nil
	case strings.HasPrefix(path, "body."):
		return resolveBodyPath(c.RequestBody, strings.TrimPrefix(path, "body."))
	case strings.HasPrefix(path, "token_usage."):
		switch strings.TrimPrefix(path, "token_usage.") {
		case "input_tokens":
			return c.TokenUsage.InputTokens
		case "output_tokens":
			return c.TokenUsage.OutputTokens
		case "total_tokens":
			return c.TokenUsage.TotalTokens()
		default:
			return nil
		}
	default:
		return nil
	}
}

// resolveBodyPath walks a JSON-shaped body by dotted segments, each
// optionally suffixed with one or more "[n]" array index accessors, e.g.
// "messages[0].role".
func resolveBodyPath(body map[string]any, path string) any {
	if body == nil {
		return nil
	}
	var current any = body
	for _, segment := range strings.Split(path, ".") {
		key, indices := splitIndices(segment)
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := m[key]
		if !ok {
			return nil
		}
		current = v
		for _, idx := range indices {
			slice, ok := current.([]any)
			if !ok || idx < 0 || idx >= len(slice) {
				return nil
			}
			current = slice[idx]
		}
	}
	return current
}

// splitIndices splits "messages[0][1]" into ("messages", [0, 1]).
func splitIndices(segment string) (key string, indices []int) {
	i := strings.IndexByte(segment, '[')
	if i < 0 {
		return segment, nil
	}
	key = segment[:i]
	rest := segment[i:]
	for len(rest) > 0 && rest[0] == '[' {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			break
		}
		n := 0
		for _, r := range rest[1:end] {
			if r < '0' || r > '9' {
				n = -1
				break
			}
			n = n*10 + int(r-'0')
		}
		indices = append(indices, n)
		rest = rest[end+1:]
	}
	return key, indices
}
