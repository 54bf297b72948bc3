package optimizer

import "github.com/microtan/shaolinq/query/plan"

// removeUnusedColumns drops columns of source selects that nothing reads. A DISTINCT select
// keeps all its columns and every select keeps at least one. Dropping a column can orphan
// columns further down, so it repeats until nothing changes.
func removeUnusedColumns(n plan.Node) plan.Node {
	for {
		refs := columnRefs(n)
		sources := sourceAliases(n)
		changed := false
		n = plan.RewriteFunc(n, func(x plan.Node) plan.Node {
			s, ok := x.(*plan.Select)
			if !ok || !sources[s.Alias] || s.Distinct {
				return x
			}
			used := refs[s.Alias]
			var keep []plan.ColumnDeclaration
			for _, c := range s.Columns {
				if used[c.Name] {
					keep = append(keep, c)
				}
			}
			if len(keep) == 0 && len(s.Columns) > 0 {
				keep = s.Columns[:1]
			}
			if len(keep) == len(s.Columns) {
				return x
			}
			changed = true
			out := s.Clone()
			out.Columns = keep
			return out
		})
		if !changed {
			return n
		}
	}
}

// removeRedundantColumns merges columns of one select that compute the same expression and
// points every reference at the surviving name.
func removeRedundantColumns(n plan.Node) plan.Node {
	renames := map[string]map[string]string{}
	sources := sourceAliases(n)
	n = plan.RewriteFunc(n, func(x plan.Node) plan.Node {
		s, ok := x.(*plan.Select)
		if !ok || !sources[s.Alias] {
			return x
		}
		first := map[string]string{}
		var keep []plan.ColumnDeclaration
		for _, c := range s.Columns {
			key := plan.Key(c.Expr)
			if name, dup := first[key]; dup {
				if renames[s.Alias] == nil {
					renames[s.Alias] = map[string]string{}
				}
				renames[s.Alias][c.Name] = name
				continue
			}
			first[key] = c.Name
			keep = append(keep, c)
		}
		if len(keep) == len(s.Columns) {
			return x
		}
		out := s.Clone()
		out.Columns = keep
		return out
	})
	if len(renames) == 0 {
		return n
	}
	return plan.RewriteFunc(n, func(x plan.Node) plan.Node {
		if c, ok := x.(*plan.Column); ok {
			if to, ok := renames[c.Alias][c.Name]; ok {
				return &plan.Column{Alias: c.Alias, Name: to}
			}
		}
		return x
	})
}
