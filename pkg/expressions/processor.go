// Package expressions resolves ${...} placeholders in stage context values
// before a task runs. Lookup falls through stage outputs of completed
// stages, the execution's global context, and the trigger payload;
// unresolvable expressions are left verbatim so downstream consumers can see
// what failed to resolve.
package expressions

import (
	"fmt"
	"strings"

	"github.com/gantry-io/gantry/pkg/models"
)

type Processor struct{}

func NewProcessor() *Processor {
	return &Processor{}
}

// Process returns a copy of context with every ${...} expression resolved
// against the execution. Nested maps and slices are walked recursively.
func (p *Processor) Process(context map[string]any, execution *models.Execution) map[string]any {
	resolved := make(map[string]any, len(context))
	for k, v := range context {
		resolved[k] = p.resolveValue(v, execution)
	}

	return resolved
}

func (p *Processor) resolveValue(value any, execution *models.Execution) any {
	switch v := value.(type) {
	case string:
		return p.resolveString(v, execution)
	case map[string]any:
		return p.Process(v, execution)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = p.resolveValue(item, execution)
		}

		return out
	default:
		return value
	}
}

func (p *Processor) resolveString(s string, execution *models.Execution) any {
	// A value that is exactly one expression keeps the looked-up type.
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") && strings.Count(s, "${") == 1 {
		expr := s[2 : len(s)-1]
		if result, ok := p.lookup(expr, execution); ok {
			return result
		}

		return s
	}

	var out strings.Builder

	rest := s
	for {
		start := strings.Index(rest, "${")
		if start == -1 {
			out.WriteString(rest)

			break
		}

		end := strings.Index(rest[start:], "}")
		if end == -1 {
			out.WriteString(rest)

			break
		}

		out.WriteString(rest[:start])

		expr := rest[start+2 : start+end]
		if result, ok := p.lookup(expr, execution); ok {
			out.WriteString(fmt.Sprintf("%v", result))
		} else {
			out.WriteString(rest[start : start+end+1])
		}

		rest = rest[start+end+1:]
	}

	return out.String()
}

// lookup resolves a dotted path. The first segment selects the scope:
// a stage refId reads that stage's outputs, "execution" reads the global
// context, "trigger" reads the trigger payload. A bare path searches global
// context first, then every completed stage's outputs.
func (p *Processor) lookup(expr string, execution *models.Execution) (any, bool) {
	path := strings.Split(strings.TrimSpace(expr), ".")
	if len(path) == 0 || path[0] == "" {
		return nil, false
	}

	switch path[0] {
	case "execution":
		return dig(execution.Context, path[1:])
	case "trigger":
		return dig(execution.Trigger, path[1:])
	}

	if stage := execution.StageByRefID(path[0]); stage != nil {
		if result, ok := dig(stage.Outputs, path[1:]); ok {
			return result, ok
		}

		return dig(stage.Context, path[1:])
	}

	if result, ok := dig(execution.Context, path); ok {
		return result, true
	}

	for _, stage := range execution.Stages {
		if !stage.Status.IsComplete() {
			continue
		}

		if result, ok := dig(stage.Outputs, path); ok {
			return result, true
		}
	}

	return nil, false
}

func dig(scope map[string]any, path []string) (any, bool) {
	if scope == nil {
		return nil, false
	}

	if len(path) == 0 {
		return scope, true
	}

	current, ok := scope[path[0]]
	if !ok {
		return nil, false
	}

	for _, key := range path[1:] {
		nested, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = nested[key]
		if !ok {
			return nil, false
		}
	}

	return current, true
}
