package plan

import (
	"fmt"
	"strings"
)

// Format renders n as an indented tree: query blocks and sources one per line, expressions
// inline in their Key form.
func Format(n Node) string {
	var sb strings.Builder
	printNode(&sb, n, 0)
	return strings.TrimRight(sb.String(), "\n")
}

func line(sb *strings.Builder, depth int, format string, args ...any) {
	sb.WriteString(strings.Repeat("  ", depth))
	fmt.Fprintf(sb, format, args...)
	sb.WriteByte('\n')
}

func printNode(sb *strings.Builder, n Node, depth int) {
	switch v := n.(type) {
	case *Projection:
		head := "Projection"
		if v.Aggregator != AggregatorNone {
			head += " " + string(v.Aggregator)
		}
		if v.DefaultIfEmpty {
			head += " default-if-empty"
		}
		line(sb, depth, "%s", head)
		line(sb, depth+1, "projector: %s", Key(v.Projector))
		if v.Default != nil {
			line(sb, depth+1, "default: %s", Key(v.Default))
		}
		printNode(sb, v.Select, depth+1)

	case *Select:
		head := "Select " + v.Alias
		if v.Distinct {
			head += " distinct"
		}
		if v.ForUpdate {
			head += " for-update"
		}
		line(sb, depth, "%s", head)
		for _, c := range v.Columns {
			line(sb, depth+1, "%s = %s", c.Name, Key(c.Expr))
		}
		if v.From != nil {
			line(sb, depth+1, "from:")
			printNode(sb, v.From, depth+2)
		}
		if v.Where != nil {
			line(sb, depth+1, "where: %s", Key(v.Where))
		}
		if len(v.GroupBy) > 0 {
			var sub strings.Builder
			writeKeys(&sub, v.GroupBy)
			line(sb, depth+1, "group by: %s", sub.String())
		}
		for _, o := range v.OrderBy {
			line(sb, depth+1, "order by: %s", Key(o))
		}
		if v.Skip != nil {
			line(sb, depth+1, "skip: %s", Key(v.Skip))
		}
		if v.Take != nil {
			line(sb, depth+1, "take: %s", Key(v.Take))
		}

	case *Join:
		if v.Condition != nil {
			line(sb, depth, "%s JOIN ON %s", v.Type, Key(v.Condition))
		} else {
			line(sb, depth, "%s JOIN", v.Type)
		}
		printNode(sb, v.Left, depth+1)
		printNode(sb, v.Right, depth+1)

	case *Table:
		line(sb, depth, "Table %s AS %s", v.Name, v.Alias)

	default:
		line(sb, depth, "%s", Key(n))
	}
}
