package template

import "fmt"

// testFunc implements `x is name(args...)`. Unlike filters, the "defined"
// and "undefined" tests are the only ones allowed to observe an undefined x.
type testFunc func(x any, args []any) (bool, error)

var tests = map[string]testFunc{
	"defined":   func(x any, _ []any) (bool, error) { _, u := x.(undefined); return !u, nil },
	"undefined": func(x any, _ []any) (bool, error) { _, u := x.(undefined); return u, nil },
	"string":    func(x any, _ []any) (bool, error) { _, ok := x.(string); return ok, nil },
	"number":    func(x any, _ []any) (bool, error) { _, ok := toFloat(x); return ok && !isBool(x), nil },
	"mapping":   func(x any, _ []any) (bool, error) { _, ok := x.(map[string]any); return ok, nil },
	"sequence":  func(x any, _ []any) (bool, error) { _, ok := x.([]any); return ok, nil },
	"iterable": func(x any, _ []any) (bool, error) {
		switch x.(type) {
		case []any, map[string]any, string:
			return true, nil
		default:
			return false, nil
		}
	},
	"failed":    testResultField("failed"),
	"success":   testResultNotFailed,
	"succeeded": testResultNotFailed,
	"changed":   testResultField("changed"),
	"skipped":   testResultField("skipped"),
}

func isBool(x any) bool {
	_, ok := x.(bool)
	return ok
}

// testResultField reads a boolean field off a TaskResult-shaped mapping,
// the representation `register` stores under the registered variable name.
func testResultField(field string) testFunc {
	return func(x any, _ []any) (bool, error) {
		m, ok := x.(map[string]any)
		if !ok {
			return false, fmt.Errorf("expected a registered task result")
		}
		v, ok := m[field]
		if !ok {
			return false, nil
		}
		return truthy(v), nil
	}
}

func testResultNotFailed(x any, args []any) (bool, error) {
	failed, err := testResultField("failed")(x, args)
	if err != nil {
		return false, err
	}
	return !failed, nil
}
