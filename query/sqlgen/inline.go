package sqlgen

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Inline renders r with every parameter spliced in as a literal of dialect d. The output is
// for display and logging; it is never sent to a database.
func Inline(r *Result, values []any, d *Dialect) (string, error) {
	if len(r.segments) != len(r.Params)+1 {
		return "", fmt.Errorf("sqlgen: result was not produced by Format")
	}
	var sb strings.Builder
	for i, p := range r.Params {
		sb.WriteString(r.segments[i])
		v, err := p.resolve(values)
		if err != nil {
			return "", err
		}
		sb.WriteString(Literal(d, v))
	}
	sb.WriteString(r.segments[len(r.Params)])
	return sb.String(), nil
}

// Literal renders a Go value as a SQL literal.
func Literal(d *Dialect, v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		return d.BoolLiteral(x)
	case string:
		return quoteString(x)
	case []byte:
		if d.Name == PostgreSQL {
			return `'\x` + hex.EncodeToString(x) + `'`
		}
		return "X'" + hex.EncodeToString(x) + "'"
	case time.Time:
		return quoteString(x.UTC().Format("2006-01-02 15:04:05.999999999"))
	case fmt.Stringer:
		return quoteString(x.String())
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return fmt.Sprint(v)
	case reflect.Slice, reflect.Array:
		items := toList(v)
		out := make([]string, len(items))
		for i, item := range items {
			out[i] = Literal(d, item)
		}
		return "(" + strings.Join(out, ", ") + ")"
	case reflect.Ptr:
		if rv.IsNil() {
			return "NULL"
		}
		return Literal(d, rv.Elem().Interface())
	}
	return quoteString(fmt.Sprint(v))
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// toList flattens a slice or array value.
func toList(v any) []any {
	if items, ok := v.([]any); ok {
		return items
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
