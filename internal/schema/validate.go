package schema

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
)

// Validate checks a decoded JSON value against a declared type and
// returns a *MismatchError naming the first divergent field path.
// Accepted value domain is what encoding/json produces: nil, bool,
// float64, json.Number, string, []any, map[string]any, plus the Go
// integer types the codec emits, so canonical values re-validate.
func Validate(t *Type, v any) error {
	return validateAt(t, v, "")
}

func validateAt(t *Type, v any, path string) error {
	if t == nil {
		if v == nil {
			return nil
		}
		return &MismatchError{Path: path, Expected: "nothing", Got: describeValue(v)}
	}

	switch t.Kind {
	case KindBool:
		if _, ok := v.(bool); !ok {
			return &MismatchError{Path: path, Expected: "bool", Got: describeValue(v)}
		}

	case KindInt:
		if !isIntegral(v) {
			return &MismatchError{Path: path, Expected: "int", Got: describeValue(v)}
		}

	case KindFloat:
		switch n := v.(type) {
		case float64, float32, int, int64:
		case json.Number:
			if _, err := n.Float64(); err != nil {
				return &MismatchError{Path: path, Expected: "float", Got: describeValue(v)}
			}
		default:
			return &MismatchError{Path: path, Expected: "float", Got: describeValue(v)}
		}

	case KindString:
		if _, ok := v.(string); !ok {
			return &MismatchError{Path: path, Expected: "string", Got: describeValue(v)}
		}

	case KindBytes:
		switch b := v.(type) {
		case []byte:
		case string:
			if _, err := base64.StdEncoding.DecodeString(b); err != nil {
				return &MismatchError{Path: path, Expected: "base64 bytes", Got: "invalid base64 string"}
			}
		default:
			return &MismatchError{Path: path, Expected: "bytes", Got: describeValue(v)}
		}

	case KindList:
		items, ok := v.([]any)
		if !ok {
			return &MismatchError{Path: path, Expected: "list", Got: describeValue(v)}
		}
		for i, item := range items {
			if err := validateAt(t.Elem, item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}

	case KindRecord:
		fields, ok := v.(map[string]any)
		if !ok {
			return &MismatchError{Path: path, Expected: "record", Got: describeValue(v)}
		}
		declared := make(map[string]struct{}, len(t.Fields))
		for _, f := range t.Fields {
			declared[f.Name] = struct{}{}
			fv, present := fields[f.Name]
			if !present {
				if f.Type.Kind == KindOptional {
					continue
				}
				return &MismatchError{Path: joinPath(path, f.Name), Expected: f.Type.Kind.String(), Got: "missing field"}
			}
			if err := validateAt(f.Type, fv, joinPath(path, f.Name)); err != nil {
				return err
			}
		}
		for name := range fields {
			if _, ok := declared[name]; !ok {
				return &MismatchError{Path: joinPath(path, name), Expected: "no such field", Got: describeValue(fields[name])}
			}
		}

	case KindVariant:
		obj, ok := v.(map[string]any)
		if !ok {
			return &MismatchError{Path: path, Expected: "variant", Got: describeValue(v)}
		}
		tag, ok := obj["tag"].(string)
		if !ok {
			return &MismatchError{Path: joinPath(path, "tag"), Expected: "variant tag", Got: describeValue(obj["tag"])}
		}
		c := findCase(t, tag)
		if c == nil {
			return &MismatchError{Path: joinPath(path, "tag"), Expected: "one of " + tagList(t), Got: fmt.Sprintf("%q", tag)}
		}
		payload, hasPayload := obj["value"]
		if c.Type == nil {
			if hasPayload && payload != nil {
				return &MismatchError{Path: joinPath(path, "value"), Expected: "no payload for tag " + tag, Got: describeValue(payload)}
			}
			return nil
		}
		return validateAt(c.Type, payload, joinPath(path, "value"))

	case KindOptional:
		if v == nil {
			return nil
		}
		return validateAt(t.Elem, v, path)

	default:
		return &MismatchError{Path: path, Expected: "known type", Got: t.Kind.String()}
	}

	return nil
}

func isIntegral(v any) bool {
	switch n := v.(type) {
	case int, int32, int64:
		return true
	case float64:
		return n == math.Trunc(n) && !math.IsInf(n, 0)
	case json.Number:
		_, err := n.Int64()
		return err == nil
	default:
		return false
	}
}

func findCase(t *Type, tag string) *Case {
	for i := range t.Cases {
		if t.Cases[i].Tag == tag {
			return &t.Cases[i]
		}
	}
	return nil
}

func tagList(t *Type) string {
	out := ""
	for i, c := range t.Cases {
		if i > 0 {
			out += "|"
		}
		out += c.Tag
	}
	return out
}

func joinPath(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}

func describeValue(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case string:
		return "string"
	case float64, float32, int, int32, int64, json.Number:
		return "number"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	case []byte:
		return "bytes"
	default:
		return fmt.Sprintf("%T", v)
	}
}
