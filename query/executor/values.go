package executor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/microtan/shaolinq/query/model"
)

// Entity is a materialized entity. Fields holds property values by property name; a related
// entity is a nested *Entity, or nil when the relation is absent.
type Entity struct {
	Type   string
	Fields map[string]any
}

// Get returns a field value.
func (e *Entity) Get(name string) any {
	return e.Fields[name]
}

// MarshalJSON encodes the fields as an object, with the type name under "$type".
func (e *Entity) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["$type"] = e.Type
	return json.Marshal(out)
}

// Record is a materialized anonymous record.
type Record map[string]any

// normalize turns driver byte slices into strings for values without a declared kind.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// convert coerces a driver value to the Go type of a property kind. NULL stays nil.
func convert(v any, kind model.Kind) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case model.KindInt:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case float64:
			return int64(x), nil
		case []byte:
			return strconv.ParseInt(string(x), 10, 64)
		case string:
			return strconv.ParseInt(x, 10, 64)
		}
	case model.KindFloat:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case []byte:
			return strconv.ParseFloat(string(x), 64)
		case string:
			return strconv.ParseFloat(x, 64)
		}
	case model.KindString:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		}
		return fmt.Sprint(v), nil
	case model.KindBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case []byte:
			return strconv.ParseBool(string(x))
		case string:
			return strconv.ParseBool(x)
		}
	case model.KindTime:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case []byte:
			return parseTime(string(x))
		case string:
			return parseTime(x)
		}
	case model.KindUUID:
		switch x := v.(type) {
		case uuid.UUID:
			return x, nil
		case string:
			return uuid.Parse(x)
		case []byte:
			if len(x) == 16 {
				return uuid.FromBytes(x)
			}
			return uuid.ParseBytes(x)
		}
	default:
		return normalize(v), nil
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, kind)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a time", s)
}
