package plan

// Function is a logical function id resolved by each dialect.
type Function string

const (
	FuncConcat          Function = "Concat"
	FuncLike            Function = "Like"
	FuncStartsWith      Function = "StartsWith"
	FuncEndsWith        Function = "EndsWith"
	FuncContainsString  Function = "ContainsString"
	FuncIsNull          Function = "IsNull"
	FuncIsNotNull       Function = "IsNotNull"
	FuncIn              Function = "In"
	FuncExists          Function = "Exists"
	FuncCoalesce        Function = "Coalesce"
	FuncUpper           Function = "Upper"
	FuncLower           Function = "Lower"
	FuncTrim            Function = "Trim"
	FuncTrimLeft        Function = "TrimLeft"
	FuncTrimRight       Function = "TrimRight"
	FuncSubstring       Function = "Substring"
	FuncLength          Function = "Length"
	FuncYear            Function = "Year"
	FuncMonth           Function = "Month"
	FuncDay             Function = "Day"
	FuncHour            Function = "Hour"
	FuncMinute          Function = "Minute"
	FuncSecond          Function = "Second"
	FuncDayOfWeek       Function = "DayOfWeek"
	FuncDayOfYear       Function = "DayOfYear"
	FuncDate            Function = "Date"
	// FuncContainsElement is collection membership before expansion into In or Exists.
	FuncContainsElement Function = "ContainsElement"
)

// Associative reports whether nested calls of f can be flattened into one call.
func (f Function) Associative() bool {
	return f == FuncConcat || f == FuncCoalesce
}

// IsPredicate reports whether f yields a boolean.
func (f Function) IsPredicate() bool {
	switch f {
	case FuncLike, FuncStartsWith, FuncEndsWith, FuncContainsString, FuncIsNull, FuncIsNotNull,
		FuncIn, FuncExists, FuncContainsElement:
		return true
	}
	return false
}
