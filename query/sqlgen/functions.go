package sqlgen

import (
	"fmt"
	"strings"

	"github.com/microtan/shaolinq/query/plan"
)

// FunctionRule renders a logical function from its rendered arguments. Positional
// placeholders bind in text order, so a rule must emit each argument exactly once and in the
// order given.
type FunctionRule struct {
	MinArgs, MaxArgs int // MaxArgs < 0 means variadic
	Render           func(d *Dialect, args []string) string
}

func call(name string, minArgs, maxArgs int) FunctionRule {
	return FunctionRule{MinArgs: minArgs, MaxArgs: maxArgs, Render: func(_ *Dialect, args []string) string {
		return name + "(" + strings.Join(args, ", ") + ")"
	}}
}

// unary renders template with its single argument substituted for the first %s. The template
// may contain other % characters.
func unary(template string) FunctionRule {
	before, after, found := strings.Cut(template, "%s")
	if !found {
		panic(fmt.Sprintf("sqlgen: function template %q has no argument", template))
	}
	return FunctionRule{MinArgs: 1, MaxArgs: 1, Render: func(_ *Dialect, args []string) string {
		return before + args[0] + after
	}}
}

func concatOperator(_ *Dialect, args []string) string {
	return "(" + strings.Join(args, " || ") + ")"
}

// like builds a LIKE test whose pattern is the second argument wrapped in wildcards.
func like(prefix, suffix bool) FunctionRule {
	return FunctionRule{MinArgs: 2, MaxArgs: 2, Render: func(d *Dialect, args []string) string {
		parts := []string{args[1]}
		if prefix {
			parts = append([]string{"'%'"}, parts...)
		}
		if suffix {
			parts = append(parts, "'%'")
		}
		var pattern string
		if d.concatOp == "" {
			pattern = "CONCAT(" + strings.Join(parts, ", ") + ")"
		} else {
			pattern = "(" + strings.Join(parts, " "+d.concatOp+" ") + ")"
		}
		return "(" + args[0] + " LIKE " + pattern + ")"
	}}
}

var commonFunctions = map[plan.Function]FunctionRule{
	plan.FuncLike:           {MinArgs: 2, MaxArgs: 2, Render: func(_ *Dialect, a []string) string { return "(" + a[0] + " LIKE " + a[1] + ")" }},
	plan.FuncStartsWith:     like(false, true),
	plan.FuncEndsWith:       like(true, false),
	plan.FuncContainsString: like(true, true),
	plan.FuncCoalesce:       call("COALESCE", 1, -1),
	plan.FuncUpper:          unary("UPPER(%s)"),
	plan.FuncLower:          unary("LOWER(%s)"),
	plan.FuncTrim:           unary("TRIM(%s)"),
	plan.FuncTrimLeft:       unary("LTRIM(%s)"),
	plan.FuncTrimRight:      unary("RTRIM(%s)"),
	plan.FuncConcat:         {MinArgs: 1, MaxArgs: -1, Render: concatOperator},
}

func extend(base map[plan.Function]FunctionRule, extra map[plan.Function]FunctionRule) map[plan.Function]FunctionRule {
	out := make(map[plan.Function]FunctionRule, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func extract(field string) FunctionRule {
	return unary("EXTRACT(" + field + " FROM %s)")
}

var genericFunctions = extend(commonFunctions, map[plan.Function]FunctionRule{
	plan.FuncTrimLeft:  unary("TRIM(LEADING FROM %s)"),
	plan.FuncTrimRight: unary("TRIM(TRAILING FROM %s)"),
	plan.FuncLength:    unary("CHAR_LENGTH(%s)"),
	plan.FuncSubstring: {MinArgs: 2, MaxArgs: 3, Render: func(_ *Dialect, a []string) string {
		if len(a) == 2 {
			return "SUBSTRING(" + a[0] + " FROM " + a[1] + ")"
		}
		return "SUBSTRING(" + a[0] + " FROM " + a[1] + " FOR " + a[2] + ")"
	}},
	plan.FuncYear:   extract("YEAR"),
	plan.FuncMonth:  extract("MONTH"),
	plan.FuncDay:    extract("DAY"),
	plan.FuncHour:   extract("HOUR"),
	plan.FuncMinute: extract("MINUTE"),
	plan.FuncSecond: extract("SECOND"),
	plan.FuncDate:   unary("CAST(%s AS DATE)"),
})

func strftime(format string) FunctionRule {
	return unary("CAST(strftime('" + format + "', %s) AS INTEGER)")
}

var sqliteFunctions = extend(commonFunctions, map[plan.Function]FunctionRule{
	plan.FuncLength:    unary("LENGTH(%s)"),
	plan.FuncSubstring: call("SUBSTR", 2, 3),
	plan.FuncYear:      strftime("%Y"),
	plan.FuncMonth:     strftime("%m"),
	plan.FuncDay:       strftime("%d"),
	plan.FuncHour:      strftime("%H"),
	plan.FuncMinute:    strftime("%M"),
	plan.FuncSecond:    strftime("%S"),
	plan.FuncDayOfWeek: strftime("%w"),
	plan.FuncDayOfYear: strftime("%j"),
	plan.FuncDate:      unary("DATE(%s)"),
})

var postgresFunctions = extend(genericFunctions, map[plan.Function]FunctionRule{
	plan.FuncTrimLeft:  unary("LTRIM(%s)"),
	plan.FuncTrimRight: unary("RTRIM(%s)"),
	plan.FuncYear:      unary("CAST(EXTRACT(YEAR FROM %s) AS INTEGER)"),
	plan.FuncMonth:     unary("CAST(EXTRACT(MONTH FROM %s) AS INTEGER)"),
	plan.FuncDay:       unary("CAST(EXTRACT(DAY FROM %s) AS INTEGER)"),
	plan.FuncHour:      unary("CAST(EXTRACT(HOUR FROM %s) AS INTEGER)"),
	plan.FuncMinute:    unary("CAST(EXTRACT(MINUTE FROM %s) AS INTEGER)"),
	plan.FuncSecond:    unary("CAST(EXTRACT(SECOND FROM %s) AS INTEGER)"),
	plan.FuncDayOfWeek: unary("CAST(EXTRACT(DOW FROM %s) AS INTEGER)"),
	plan.FuncDayOfYear: unary("CAST(EXTRACT(DOY FROM %s) AS INTEGER)"),
})

var mysqlFunctions = extend(commonFunctions, map[plan.Function]FunctionRule{
	plan.FuncConcat:    call("CONCAT", 1, -1),
	plan.FuncLength:    unary("CHAR_LENGTH(%s)"),
	plan.FuncSubstring: call("SUBSTRING", 2, 3),
	plan.FuncYear:      unary("YEAR(%s)"),
	plan.FuncMonth:     unary("MONTH(%s)"),
	plan.FuncDay:       unary("DAYOFMONTH(%s)"),
	plan.FuncHour:      unary("HOUR(%s)"),
	plan.FuncMinute:    unary("MINUTE(%s)"),
	plan.FuncSecond:    unary("SECOND(%s)"),
	plan.FuncDayOfWeek: unary("(DAYOFWEEK(%s) - 1)"),
	plan.FuncDayOfYear: unary("DAYOFYEAR(%s)"),
	plan.FuncDate:      unary("DATE(%s)"),
})
