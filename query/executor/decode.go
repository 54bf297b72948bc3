package executor

import (
	"fmt"
	"reflect"
	"strings"
)

// Decode copies a materialized value into dst, which must be a non-nil pointer. Entities and
// records fill struct fields matched by db tag, then by field name, then by snake_case field
// name, ignoring case. A slice of materialized values decodes into a pointer to a slice.
func Decode(dst any, value any) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fmt.Errorf("decode target must be a non-nil pointer, got %T", dst)
	}
	return setFieldValue(v.Elem(), value)
}

// mapValuesToStruct maps named values to struct fields
func mapValuesToStruct(values map[string]any, v reflect.Value) error {
	lower := make(map[string]any, len(values))
	for k, val := range values {
		lower[strings.ToLower(k)] = val
	}

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldValue := v.Field(i)

		if !fieldValue.CanSet() {
			continue
		}

		// Get column name from tag or field name
		candidates := []string{field.Name, toSnakeCase(field.Name)}
		if tag := field.Tag.Get("db"); tag == "-" {
			continue
		} else if tag != "" {
			candidates = []string{tag}
		}

		var value any
		found := false
		for _, c := range candidates {
			if value, found = lower[strings.ToLower(c)]; found {
				break
			}
		}
		if !found {
			continue
		}

		if err := setFieldValue(fieldValue, value); err != nil {
			return fmt.Errorf("failed to set field %s: %w", field.Name, err)
		}
	}

	return nil
}

// setFieldValue sets a value from a materialized value
func setFieldValue(fieldValue reflect.Value, value any) error {
	fieldType := fieldValue.Type()

	if value == nil {
		fieldValue.Set(reflect.Zero(fieldType))
		return nil
	}

	// Handle pointer fields
	if fieldType.Kind() == reflect.Ptr {
		elemValue := reflect.New(fieldType.Elem()).Elem()
		if err := setFieldValue(elemValue, value); err != nil {
			return err
		}
		fieldValue.Set(elemValue.Addr())
		return nil
	}

	switch x := value.(type) {
	case *Entity:
		if fieldType.Kind() == reflect.Struct {
			return mapValuesToStruct(x.Fields, fieldValue)
		}
	case Record:
		if fieldType.Kind() == reflect.Struct {
			return mapValuesToStruct(x, fieldValue)
		}
	case []any:
		if fieldType.Kind() == reflect.Slice {
			out := reflect.MakeSlice(fieldType, len(x), len(x))
			for i, item := range x {
				if err := setFieldValue(out.Index(i), item); err != nil {
					return fmt.Errorf("element %d: %w", i, err)
				}
			}
			fieldValue.Set(out)
			return nil
		}
	}

	// Convert value to field type
	valueValue := reflect.ValueOf(value)
	valueType := valueValue.Type()
	if valueType.AssignableTo(fieldType) {
		fieldValue.Set(valueValue)
		return nil
	}

	if valueType.ConvertibleTo(fieldType) && convertible(valueType.Kind(), fieldType.Kind()) {
		fieldValue.Set(valueValue.Convert(fieldType))
		return nil
	}

	return fmt.Errorf("cannot convert %s to %s", valueType, fieldType)
}

// convertible rejects reflect conversions that change meaning, such as int to string.
func convertible(from, to reflect.Kind) bool {
	numeric := func(k reflect.Kind) bool {
		return k >= reflect.Int && k <= reflect.Float64
	}
	if numeric(from) {
		return numeric(to)
	}
	return true
}

// toSnakeCase converts PascalCase to snake_case
func toSnakeCase(s string) string {
	var result strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			result.WriteRune('_')
		}
		result.WriteRune(r)
	}
	return strings.ToLower(result.String())
}
