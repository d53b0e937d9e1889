package ivm

import (
	"regexp"
	"strings"

	"github.com/fluxbase-eu/fluxsync/internal/ast"
)

// Predicate is a compiled row test.
type Predicate func(Row) bool

// CompilePredicate compiles a simple condition or an AND conjunction into
// one predicate. OR conjunctions are not compiled here: the pipeline
// builder expands them into fan-out branches with concat and distinct, so
// reaching one is a build bug.
func CompilePredicate(cond *ast.Condition, schema *TableSchema) (Predicate, error) {
	if cond.IsConjunction() {
		if cond.Op == ast.OpOr {
			return nil, NewConfigError("OR conditions must be expanded by the pipeline builder")
		}
		preds := make([]Predicate, 0, len(cond.Conditions))
		for _, sub := range cond.Conditions {
			p, err := CompilePredicate(sub, schema)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
		}
		return func(row Row) bool {
			for _, p := range preds {
				if !p(row) {
					return false
				}
			}
			return true
		}, nil
	}

	field := cond.Field
	if _, ok := schema.Column(field); !ok {
		return nil, NewConfigError("unknown column %q on table %q", field, schema.Table)
	}

	switch cond.Op {
	case ast.OpEqual, ast.OpNotEqual, ast.OpLess, ast.OpGreater, ast.OpLessOrEqual, ast.OpGreaterOrEqual:
		return compileComparison(field, cond.Op, NormalizeValue(cond.Value)), nil

	case ast.OpIn, ast.OpNotIn:
		return compileMembership(field, cond.Op, cond.Value)

	case ast.OpLike, ast.OpNotLike, ast.OpILike, ast.OpNotILike:
		pattern, ok := cond.Value.(string)
		if !ok {
			return nil, NewConfigError("%s pattern must be a string", cond.Op)
		}
		return compilePattern(field, cond.Op, pattern)

	default:
		return nil, NewConfigError("unsupported condition operator %q", cond.Op)
	}
}

func compileComparison(field string, op ast.Operator, want Value) Predicate {
	return func(row Row) bool {
		got, ok := row[field]
		if !ok {
			return false
		}
		cmp := CompareValues(got, want)
		switch op {
		case ast.OpEqual:
			return cmp == 0
		case ast.OpNotEqual:
			return cmp != 0
		case ast.OpLess:
			return cmp < 0
		case ast.OpGreater:
			return cmp > 0
		case ast.OpLessOrEqual:
			return cmp <= 0
		default:
			return cmp >= 0
		}
	}
}

func compileMembership(field string, op ast.Operator, value interface{}) (Predicate, error) {
	list, ok := value.([]interface{})
	if !ok {
		return nil, NewConfigError("%s right side must be a literal list", op)
	}
	members := make([]Value, len(list))
	for i, v := range list {
		members[i] = NormalizeValue(v)
	}
	negate := op == ast.OpNotIn
	return func(row Row) bool {
		got, ok := row[field]
		if !ok {
			return false
		}
		for _, m := range members {
			if ValuesEqual(got, m) {
				return !negate
			}
		}
		return negate
	}, nil
}

func compilePattern(field string, op ast.Operator, pattern string) (Predicate, error) {
	insensitive := op == ast.OpILike || op == ast.OpNotILike
	negate := op == ast.OpNotLike || op == ast.OpNotILike

	matcher, err := compileLikeMatcher(pattern, insensitive)
	if err != nil {
		return nil, err
	}

	return func(row Row) bool {
		got, ok := row[field].(string)
		if !ok {
			return false
		}
		return matcher(got) != negate
	}, nil
}

// compileLikeMatcher translates a SQL LIKE pattern into a matcher. `%`
// matches any run, `_` any single character, and backslash escapes the
// character after it. A pattern without wildcards degrades to string
// equality (case-folded for ILIKE).
func compileLikeMatcher(pattern string, insensitive bool) (func(string) bool, error) {
	var re strings.Builder
	re.WriteString("^")
	hasWildcard := false
	var literal strings.Builder

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '\\':
			if i == len(runes)-1 {
				return nil, NewConfigError("LIKE pattern ends with a dangling escape")
			}
			i++
			re.WriteString(regexp.QuoteMeta(string(runes[i])))
			literal.WriteRune(runes[i])
		case '%':
			hasWildcard = true
			re.WriteString(".*")
		case '_':
			hasWildcard = true
			re.WriteString(".")
		default:
			re.WriteString(regexp.QuoteMeta(string(r)))
			literal.WriteRune(r)
		}
	}
	re.WriteString("$")

	if !hasWildcard {
		want := literal.String()
		if insensitive {
			folded := strings.ToLower(want)
			return func(s string) bool { return strings.ToLower(s) == folded }, nil
		}
		return func(s string) bool { return s == want }, nil
	}

	expr := re.String()
	if insensitive {
		expr = "(?i)" + expr
	}
	// (?s) so `%` and `_` cross newlines the way SQL wildcards do.
	compiled, err := regexp.Compile("(?s)" + expr)
	if err != nil {
		return nil, NewConfigError("LIKE pattern %q did not compile: %v", pattern, err)
	}
	return compiled.MatchString, nil
}
