package history

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"
)

// Labeler is implemented by enumerated values that are stored as a label.
type Labeler interface {
	Label() string
}

// Exporter is implemented by records that describe their own stored form.
// The returned value is reduced again with ToStorable.
type Exporter interface {
	Export() any
}

// maxStorableDepth caps recursion so self-referencing values terminate.
const maxStorableDepth = 32

// ToStorable reduces v to JSON-compatible values: nil, bool, numbers,
// strings, []any and map[string]any. Shapes are tried in order:
//
//   - nil and primitives pass through
//   - Labeler values and integer enums with a String method become labels
//   - time.Time becomes an RFC 3339 string
//   - Exporter values are reduced through Export
//   - slices, arrays and maps are reduced element by element
//   - structs become maps of their exported fields, honoring json tags
//   - anything else becomes its fmt representation
//
// ToStorable never panics.
func ToStorable(v any) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = fmt.Sprintf("<unserializable %T>", v)
		}
	}()
	return toStorable(v, 0)
}

// storableFloat keeps finite floats and spells out NaN and the infinities,
// which JSON cannot encode.
func storableFloat(f float64, orig any) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	}
	return orig
}

func toStorable(v any, depth int) any {
	if depth > maxStorableDepth {
		return fmt.Sprintf("<truncated %T>", v)
	}

	switch x := v.(type) {
	case nil:
		return nil
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return x
	case float32:
		return storableFloat(float64(x), x)
	case float64:
		return storableFloat(x, x)
	case json.Number:
		return x.String()
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(x, &decoded); err == nil {
			return decoded
		}
		return string(x)
	case []byte:
		if utf8.Valid(x) {
			return string(x)
		}
		return base64.StdEncoding.EncodeToString(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return x.String()
	case Labeler:
		return x.Label()
	case Exporter:
		return toStorable(x.Export(), depth+1)
	case error:
		return x.Error()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return toStorable(rv.Elem().Interface(), depth+1)

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = toStorable(rv.Index(i).Interface(), depth+1)
		}
		return out

	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[mapKey(iter.Key())] = toStorable(iter.Value().Interface(), depth+1)
		}
		return out

	case reflect.Struct:
		out := make(map[string]any)
		structFields(rv, out, depth)
		return out

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if s, ok := v.(fmt.Stringer); ok {
			return s.String()
		}
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if s, ok := v.(fmt.Stringer); ok {
			return s.String()
		}
		return rv.Uint()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Float32, reflect.Float64:
		return storableFloat(rv.Float(), rv.Float())
	}

	return fmt.Sprint(v)
}

func structFields(rv reflect.Value, out map[string]any, depth int) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}

		name, omitEmpty, skip := jsonName(field)
		if skip {
			continue
		}

		fv := rv.Field(i)
		if field.Anonymous && field.Tag.Get("json") == "" {
			inner := fv
			if inner.Kind() == reflect.Pointer {
				if inner.IsNil() {
					continue
				}
				inner = inner.Elem()
			}
			if inner.Kind() == reflect.Struct {
				structFields(inner, out, depth+1)
				continue
			}
		}

		if omitEmpty && fv.IsZero() {
			continue
		}
		out[name] = toStorable(fv.Interface(), depth+1)
	}
}

func jsonName(field reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = field.Name
	}
	return name, strings.Contains(opts, "omitempty"), false
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	return fmt.Sprint(k.Interface())
}
