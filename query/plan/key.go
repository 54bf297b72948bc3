package plan

import (
	"fmt"
	"strings"
)

// Key renders n as a canonical string. Two trees with the same key are structurally equal;
// placeholder values never appear in a key, only their index and kind.
func Key(n Node) string {
	var sb strings.Builder
	writeKey(&sb, n)
	return sb.String()
}

// Equal reports structural equality.
func Equal(a, b Node) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return Key(a) == Key(b)
}

func writeKeys(sb *strings.Builder, nodes []Node) {
	for i, n := range nodes {
		if i > 0 {
			sb.WriteString(", ")
		}
		writeKey(sb, n)
	}
}

func writeKey(sb *strings.Builder, n Node) {
	if isNil(n) {
		sb.WriteString("nil")
		return
	}
	switch x := n.(type) {
	case *Table:
		fmt.Fprintf(sb, "Table(%s AS %s)", x.Name, x.Alias)
	case *Column:
		fmt.Fprintf(sb, "%s.%s", x.Alias, x.Name)
	case *Constant:
		fmt.Fprintf(sb, "Const(%T:%v)", x.Value, x.Value)
	case *ConstantPlaceholder:
		if x.Len >= 0 {
			fmt.Fprintf(sb, "$%d:%s[%d]", x.Index, x.Type, x.Len)
		} else {
			fmt.Fprintf(sb, "$%d:%s", x.Index, x.Type)
		}
	case *Select:
		fmt.Fprintf(sb, "Select %s [", x.Alias)
		for i, c := range x.Columns {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeKey(sb, c.Expr)
			sb.WriteString(" AS ")
			sb.WriteString(c.Name)
		}
		sb.WriteString("] FROM ")
		writeKey(sb, x.From)
		if x.Where != nil {
			sb.WriteString(" WHERE ")
			writeKey(sb, x.Where)
		}
		if len(x.GroupBy) > 0 {
			sb.WriteString(" GROUP BY ")
			writeKeys(sb, x.GroupBy)
		}
		if len(x.OrderBy) > 0 {
			sb.WriteString(" ORDER BY ")
			for i, o := range x.OrderBy {
				if i > 0 {
					sb.WriteString(", ")
				}
				writeKey(sb, o)
			}
		}
		if x.Distinct {
			sb.WriteString(" DISTINCT")
		}
		if x.Skip != nil {
			sb.WriteString(" SKIP ")
			writeKey(sb, x.Skip)
		}
		if x.Take != nil {
			sb.WriteString(" TAKE ")
			writeKey(sb, x.Take)
		}
		if x.ForUpdate {
			sb.WriteString(" FOR UPDATE")
		}
		sb.WriteString(" END")
	case *Join:
		fmt.Fprintf(sb, "Join %s(", x.Type)
		writeKey(sb, x.Left)
		sb.WriteString(", ")
		writeKey(sb, x.Right)
		if x.Condition != nil {
			sb.WriteString(" ON ")
			writeKey(sb, x.Condition)
		}
		sb.WriteString(")")
	case *Projection:
		fmt.Fprintf(sb, "Projection<%s,%t,", x.Aggregator, x.DefaultIfEmpty)
		writeKey(sb, x.Default)
		sb.WriteString(">(")
		writeKey(sb, x.Select)
		sb.WriteString(" => ")
		writeKey(sb, x.Projector)
		sb.WriteString(")")
	case *Aggregate:
		fmt.Fprintf(sb, "%s(", x.Type)
		if x.Distinct {
			sb.WriteString("DISTINCT ")
		}
		if x.Argument == nil {
			sb.WriteString("*")
		} else {
			writeKey(sb, x.Argument)
		}
		sb.WriteString(")")
	case *AggregateSubquery:
		fmt.Fprintf(sb, "AggSub<%s>(", x.GroupByAlias)
		writeKey(sb, x.InGroup)
		sb.WriteString(", ")
		writeKey(sb, x.Subquery)
		sb.WriteString(")")
	case *Subquery:
		sb.WriteString("Sub(")
		writeKey(sb, x.Select)
		sb.WriteString(")")
	case *ObjectReference:
		fmt.Fprintf(sb, "Obj<%s>{", x.Type.Name)
		for i, b := range x.Bindings {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(b.Property.Name)
			sb.WriteString(": ")
			writeKey(sb, b.Expr)
		}
		sb.WriteString("}")
	case *New:
		sb.WriteString("New{")
		for i, f := range x.Fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(f.Name)
			sb.WriteString(": ")
			writeKey(sb, f.Expr)
		}
		sb.WriteString("}")
	case *Grouping:
		sb.WriteString("Grouping(")
		writeKey(sb, x.Key)
		sb.WriteString(", ")
		writeKey(sb, x.Group)
		sb.WriteString(")")
	case *FunctionCall:
		fmt.Fprintf(sb, "%s(", x.Function)
		writeKeys(sb, x.Args)
		sb.WriteString(")")
	case *Tuple:
		sb.WriteString("(")
		writeKeys(sb, x.Items)
		sb.WriteString(")")
	case *OrderBy:
		writeKey(sb, x.Expr)
		sb.WriteString(" ")
		sb.WriteString(string(x.Direction))
	case *Binary:
		sb.WriteString("(")
		writeKey(sb, x.Left)
		fmt.Fprintf(sb, " %s ", x.Op)
		writeKey(sb, x.Right)
		sb.WriteString(")")
	case *Unary:
		fmt.Fprintf(sb, "%s(", x.Op)
		writeKey(sb, x.Operand)
		sb.WriteString(")")
	case *Conditional:
		sb.WriteString("Case(")
		writeKey(sb, x.Test)
		sb.WriteString(" ? ")
		writeKey(sb, x.IfTrue)
		sb.WriteString(" : ")
		writeKey(sb, x.IfFalse)
		sb.WriteString(")")
	case *Delete:
		fmt.Fprintf(sb, "Delete %s AS %s WHERE ", x.Table, x.Alias)
		writeKey(sb, x.Where)
	case *Update:
		fmt.Fprintf(sb, "Update %s AS %s SET ", x.Table, x.Alias)
		writeAssignments(sb, x.Assignments)
		sb.WriteString(" WHERE ")
		writeKey(sb, x.Where)
	case *Insert:
		fmt.Fprintf(sb, "Insert %s SET ", x.Table)
		writeAssignments(sb, x.Assignments)
		fmt.Fprintf(sb, " RETURNING %v", x.Returning)
	default:
		panic(fmt.Errorf("plan: unhandled node type %T", n))
	}
}

func writeAssignments(sb *strings.Builder, as []Assignment) {
	for i, a := range as {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(a.Column)
		sb.WriteString(" = ")
		writeKey(sb, a.Value)
	}
}
