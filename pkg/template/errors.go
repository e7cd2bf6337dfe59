package template

import "fmt"

// TemplateError is raised by any failure during expression evaluation,
// filter/test/lookup application, or strict-undefined variable resolution.
// It always carries the source text of the expression that failed so the
// runner can report a precise location back to the user.
type TemplateError struct {
	Expr string
	Err  error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template error in %q: %v", e.Expr, e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

func newError(expr string, format string, args ...any) *TemplateError {
	return &TemplateError{Expr: expr, Err: fmt.Errorf(format, args...)}
}
