package workflow

import (
	"regexp"
	"strings"
)

// =============================================================================
// Job Conditions
// =============================================================================

// conditionPattern matches comparisons of the form `branch == 'main'`.
var conditionPattern = regexp.MustCompile(`^(branch)\s*(==|!=)\s*'([^']*)'$`)

// ConditionContext carries the run facts a job condition is evaluated
// against.
type ConditionContext struct {
	Branch      string
	NeedsFailed bool // at least one needed job failed
}

// ValidateCondition checks a job's `if` expression. Supported forms are the
// status functions success(), always() and failure(), and comparisons of the
// form `branch == 'name'` or `branch != 'name'`.
func ValidateCondition(expr string) error {
	expr = strings.TrimSpace(expr)
	switch expr {
	case "", "success()", "always()", "failure()":
		return nil
	}
	if conditionPattern.MatchString(expr) {
		return nil
	}
	return ErrInvalidCondition
}

// EvaluateCondition evaluates a validated `if` expression. An empty
// expression behaves like success(). Expressions that fail validation
// evaluate to false.
func EvaluateCondition(expr string, cc ConditionContext) bool {
	expr = strings.TrimSpace(expr)
	switch expr {
	case "", "success()":
		return !cc.NeedsFailed
	case "always()":
		return true
	case "failure()":
		return cc.NeedsFailed
	}

	m := conditionPattern.FindStringSubmatch(expr)
	if m == nil {
		return false
	}

	equal := cc.Branch == m[3]
	if m[2] == "==" {
		return equal
	}
	return !equal
}

// RunsAfterFailure reports whether the condition lets a job run even when
// one of its needs failed.
func RunsAfterFailure(expr string) bool {
	expr = strings.TrimSpace(expr)
	return expr == "always()" || expr == "failure()"
}
