package ast

import (
	"fmt"
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v5"
)

// ParseSelect translates one SELECT statement into a Query. The engine
// runs a deliberately restricted subset: single table, literal-only
// comparisons, AND/OR trees, GROUP BY over plain columns, ORDER BY and
// LIMIT. Anything outside the subset is rejected with an error naming the
// construct, so callers can fall back to server-side execution.
func ParseSelect(sql string) (*Query, error) {
	parsed, err := pg_query.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("ast: failed to parse SQL: %w", err)
	}
	if len(parsed.Stmts) != 1 {
		return nil, fmt.Errorf("ast: expected exactly one statement, got %d", len(parsed.Stmts))
	}

	sel := parsed.Stmts[0].Stmt.GetSelectStmt()
	if sel == nil {
		return nil, fmt.Errorf("ast: statement is not a SELECT")
	}

	q := &Query{}

	if err := parseFrom(sel, q); err != nil {
		return nil, err
	}
	if err := parseTargets(sel, q); err != nil {
		return nil, err
	}

	if sel.WhereClause != nil {
		where, err := parseCondition(sel.WhereClause)
		if err != nil {
			return nil, err
		}
		q.Where = where
	}

	for _, g := range sel.GroupClause {
		col, err := columnName(g)
		if err != nil {
			return nil, fmt.Errorf("ast: unsupported GROUP BY expression: %w", err)
		}
		q.GroupBy = append(q.GroupBy, col)
	}

	for _, s := range sel.SortClause {
		sb := s.GetSortBy()
		if sb == nil {
			return nil, fmt.Errorf("ast: unsupported ORDER BY entry")
		}
		col, err := columnName(sb.Node)
		if err != nil {
			return nil, fmt.Errorf("ast: unsupported ORDER BY expression: %w", err)
		}
		q.OrderBy = append(q.OrderBy, Ordering{
			Field: col,
			Desc:  sb.SortbyDir == pg_query.SortByDir_SORTBY_DESC,
		})
	}

	if sel.LimitCount != nil {
		v, err := literalValue(sel.LimitCount)
		if err != nil {
			return nil, fmt.Errorf("ast: unsupported LIMIT expression: %w", err)
		}
		n, ok := v.(int64)
		if !ok || n < 0 {
			return nil, fmt.Errorf("ast: LIMIT must be a non-negative integer")
		}
		limit := int(n)
		q.Limit = &limit
	}

	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

func parseFrom(sel *pg_query.SelectStmt, q *Query) error {
	if len(sel.FromClause) != 1 {
		return fmt.Errorf("ast: expected exactly one FROM table, got %d", len(sel.FromClause))
	}
	rv := sel.FromClause[0].GetRangeVar()
	if rv == nil {
		return fmt.Errorf("ast: FROM must name a plain table")
	}
	q.Table = rv.Relname
	if rv.Schemaname != "" {
		q.Table = rv.Schemaname + "." + rv.Relname
	}
	if rv.Alias != nil {
		q.Alias = rv.Alias.Aliasname
	}
	return nil
}

func parseTargets(sel *pg_query.SelectStmt, q *Query) error {
	for _, t := range sel.TargetList {
		rt := t.GetResTarget()
		if rt == nil || rt.Val == nil {
			return fmt.Errorf("ast: unsupported select target")
		}

		if fc := rt.Val.GetFuncCall(); fc != nil {
			agg, err := parseAggregate(fc, rt.Name)
			if err != nil {
				return err
			}
			q.Aggregates = append(q.Aggregates, agg)
			continue
		}

		if cr := rt.Val.GetColumnRef(); cr != nil {
			if isStar(cr) {
				// SELECT * projects every column: an empty select list.
				continue
			}
			col, err := columnRefName(cr)
			if err != nil {
				return err
			}
			q.Select = append(q.Select, Selection{Selector: col, Alias: rt.Name})
			continue
		}

		return fmt.Errorf("ast: select targets must be columns or aggregate calls")
	}
	return nil
}

func parseAggregate(fc *pg_query.FuncCall, alias string) (Aggregation, error) {
	if len(fc.Funcname) == 0 {
		return Aggregation{}, fmt.Errorf("ast: unnamed function call")
	}
	name := strings.ToLower(fc.Funcname[len(fc.Funcname)-1].GetString_().GetSval())

	var kind AggregateKind
	switch name {
	case "count":
		kind = AggCount
	case "sum":
		kind = AggSum
	case "avg":
		kind = AggAvg
	case "min":
		kind = AggMin
	case "max":
		kind = AggMax
	case "array_agg":
		kind = AggArray
	default:
		return Aggregation{}, fmt.Errorf("ast: unsupported aggregate function %q", name)
	}

	agg := Aggregation{Aggregate: kind, Alias: alias}
	if agg.Alias == "" {
		agg.Alias = name
	}

	if fc.AggStar {
		if kind != AggCount {
			return Aggregation{}, fmt.Errorf("ast: %s(*) is not supported", name)
		}
		return agg, nil
	}
	if len(fc.Args) != 1 {
		return Aggregation{}, fmt.Errorf("ast: aggregate %q must take exactly one column", name)
	}
	field, err := columnName(fc.Args[0])
	if err != nil {
		return Aggregation{}, fmt.Errorf("ast: aggregate %q argument: %w", name, err)
	}
	agg.Field = field
	return agg, nil
}

func parseCondition(node *pg_query.Node) (*Condition, error) {
	if be := node.GetBoolExpr(); be != nil {
		var op Operator
		switch be.Boolop {
		case pg_query.BoolExprType_AND_EXPR:
			op = OpAnd
		case pg_query.BoolExprType_OR_EXPR:
			op = OpOr
		default:
			return nil, fmt.Errorf("ast: NOT expressions are not supported; use negated operators")
		}
		conds := make([]*Condition, 0, len(be.Args))
		for _, arg := range be.Args {
			sub, err := parseCondition(arg)
			if err != nil {
				return nil, err
			}
			conds = append(conds, sub)
		}
		return &Condition{Op: op, Conditions: conds}, nil
	}

	ae := node.GetAExpr()
	if ae == nil {
		return nil, fmt.Errorf("ast: unsupported WHERE expression")
	}

	field, err := columnName(ae.Lexpr)
	if err != nil {
		return nil, fmt.Errorf("ast: WHERE left side must be a column: %w", err)
	}
	opName := ""
	if len(ae.Name) > 0 {
		opName = ae.Name[len(ae.Name)-1].GetString_().GetSval()
	}

	switch ae.Kind {
	case pg_query.A_Expr_Kind_AEXPR_OP:
		op, err := comparisonOperator(opName)
		if err != nil {
			return nil, err
		}
		value, err := literalValue(ae.Rexpr)
		if err != nil {
			return nil, err
		}
		return Simple(field, op, value), nil

	case pg_query.A_Expr_Kind_AEXPR_IN:
		list := ae.Rexpr.GetList()
		if list == nil {
			return nil, fmt.Errorf("ast: IN right side must be a literal list")
		}
		values := make([]interface{}, 0, len(list.Items))
		for _, item := range list.Items {
			v, err := literalValue(item)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		op := OpIn
		if opName == "<>" {
			op = OpNotIn
		}
		return Simple(field, op, values), nil

	case pg_query.A_Expr_Kind_AEXPR_LIKE, pg_query.A_Expr_Kind_AEXPR_ILIKE:
		pattern, err := literalValue(ae.Rexpr)
		if err != nil {
			return nil, err
		}
		op, err := patternOperator(ae.Kind, opName)
		if err != nil {
			return nil, err
		}
		return Simple(field, op, pattern), nil

	default:
		return nil, fmt.Errorf("ast: unsupported WHERE operator kind")
	}
}

func comparisonOperator(name string) (Operator, error) {
	switch name {
	case "=":
		return OpEqual, nil
	case "<>", "!=":
		return OpNotEqual, nil
	case "<":
		return OpLess, nil
	case ">":
		return OpGreater, nil
	case "<=":
		return OpLessOrEqual, nil
	case ">=":
		return OpGreaterOrEqual, nil
	default:
		return "", fmt.Errorf("ast: unsupported comparison operator %q", name)
	}
}

func patternOperator(kind pg_query.A_Expr_Kind, name string) (Operator, error) {
	negated := strings.HasPrefix(name, "!")
	if kind == pg_query.A_Expr_Kind_AEXPR_ILIKE {
		if negated {
			return OpNotILike, nil
		}
		return OpILike, nil
	}
	if negated {
		return OpNotLike, nil
	}
	return OpLike, nil
}

func columnName(node *pg_query.Node) (string, error) {
	if node == nil {
		return "", fmt.Errorf("missing expression")
	}
	cr := node.GetColumnRef()
	if cr == nil {
		return "", fmt.Errorf("not a column reference")
	}
	return columnRefName(cr)
}

func columnRefName(cr *pg_query.ColumnRef) (string, error) {
	if isStar(cr) {
		return "", fmt.Errorf("star is not a column")
	}
	parts := make([]string, 0, len(cr.Fields))
	for _, f := range cr.Fields {
		s := f.GetString_()
		if s == nil {
			return "", fmt.Errorf("qualified column has non-name parts")
		}
		parts = append(parts, s.GetSval())
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("empty column reference")
	}
	// Strip a table qualifier; the engine addresses columns of the single
	// source table by bare name.
	return parts[len(parts)-1], nil
}

func isStar(cr *pg_query.ColumnRef) bool {
	for _, f := range cr.Fields {
		if f.GetAStar() != nil {
			return true
		}
	}
	return false
}

func literalValue(node *pg_query.Node) (interface{}, error) {
	if node == nil {
		return nil, fmt.Errorf("ast: missing literal")
	}
	ac := node.GetAConst()
	if ac == nil {
		return nil, fmt.Errorf("ast: comparisons must be against literals")
	}
	if ac.Isnull {
		return nil, nil
	}
	switch {
	case ac.GetIval() != nil:
		return int64(ac.GetIval().Ival), nil
	case ac.GetFval() != nil:
		f, err := strconv.ParseFloat(ac.GetFval().Fval, 64)
		if err != nil {
			return nil, fmt.Errorf("ast: malformed numeric literal %q", ac.GetFval().Fval)
		}
		return f, nil
	case ac.GetBoolval() != nil:
		return ac.GetBoolval().Boolval, nil
	case ac.GetSval() != nil:
		return ac.GetSval().Sval, nil
	default:
		return nil, fmt.Errorf("ast: unsupported literal type")
	}
}
