package runner

import (
	"fmt"

	"github.com/umputun/fleetplay/pkg/template"
)

// resolveLoopItems renders a task's `loop` (or `with_items`-sugared Loop)
// value against a host's vars into a concrete slice, per §4.6 "Loop
// expansion". A bare list (already the common with_items case after
// parsing) is rendered element-by-element so templated items still work;
// a string is evaluated as an expression so a variable reference yields
// its native list instead of a stringified one.
func resolveLoopItems(engine *template.Engine, loopExpr any, vars template.Vars) ([]any, error) {
	switch v := loopExpr.(type) {
	case nil:
		return nil, nil
	case []any:
		rendered, err := engine.RenderStructure(v, vars)
		if err != nil {
			return nil, err
		}
		list, _ := rendered.([]any)
		return list, nil
	case string:
		val, err := engine.EvaluateExpr(v, vars)
		if err != nil {
			return nil, err
		}
		list, ok := val.([]any)
		if !ok {
			return nil, fmt.Errorf("loop expression %q did not evaluate to a list", v)
		}
		return list, nil
	default:
		return nil, fmt.Errorf("unsupported loop value type %T", loopExpr)
	}
}
