package schema

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
)

// The codec converts between wire values (what encoding/json produces
// from a payload) and canonical values (what the dispatcher and tests
// operate on). Encode and Decode are inverses for every valid value of
// every type shape, which the round-trip tests pin down.
//
// Canonical forms: bool, int64, float64, string, []byte, []any,
// map[string]any for records, and map[string]any{"tag": ..., "value": ...}
// for variants. Optional is nil or the canonical payload.

// Decode converts a wire value into canonical form. The value must
// already validate against t.
func Decode(t *Type, v any) (any, error) {
	if t == nil {
		return nil, nil
	}

	switch t.Kind {
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, decodeErr(t, v)
		}
		return b, nil

	case KindInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			if n != math.Trunc(n) {
				return nil, decodeErr(t, v)
			}
			return int64(n), nil
		case json.Number:
			return n.Int64()
		}
		return nil, decodeErr(t, v)

	case KindFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case json.Number:
			return n.Float64()
		}
		return nil, decodeErr(t, v)

	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, decodeErr(t, v)
		}
		return s, nil

	case KindBytes:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return base64.StdEncoding.DecodeString(b)
		}
		return nil, decodeErr(t, v)

	case KindList:
		items, ok := v.([]any)
		if !ok {
			return nil, decodeErr(t, v)
		}
		out := make([]any, len(items))
		for i, item := range items {
			dec, err := Decode(t.Elem, item)
			if err != nil {
				return nil, err
			}
			out[i] = dec
		}
		return out, nil

	case KindRecord:
		fields, ok := v.(map[string]any)
		if !ok {
			return nil, decodeErr(t, v)
		}
		out := make(map[string]any, len(t.Fields))
		for _, f := range t.Fields {
			fv, present := fields[f.Name]
			if !present && f.Type.Kind == KindOptional {
				out[f.Name] = nil
				continue
			}
			dec, err := Decode(f.Type, fv)
			if err != nil {
				return nil, err
			}
			out[f.Name] = dec
		}
		return out, nil

	case KindVariant:
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, decodeErr(t, v)
		}
		tag, _ := obj["tag"].(string)
		c := findCase(t, tag)
		if c == nil {
			return nil, decodeErr(t, v)
		}
		out := map[string]any{"tag": tag, "value": nil}
		if c.Type != nil {
			dec, err := Decode(c.Type, obj["value"])
			if err != nil {
				return nil, err
			}
			out["value"] = dec
		}
		return out, nil

	case KindOptional:
		if v == nil {
			return nil, nil
		}
		return Decode(t.Elem, v)
	}

	return nil, decodeErr(t, v)
}

// Encode converts a canonical value back into a JSON-encodable wire
// value.
func Encode(t *Type, v any) (any, error) {
	if t == nil {
		return nil, nil
	}

	switch t.Kind {
	case KindBool, KindInt, KindFloat, KindString:
		return v, nil

	case KindBytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, encodeErr(t, v)
		}
		return base64.StdEncoding.EncodeToString(b), nil

	case KindList:
		items, ok := v.([]any)
		if !ok {
			return nil, encodeErr(t, v)
		}
		out := make([]any, len(items))
		for i, item := range items {
			enc, err := Encode(t.Elem, item)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil

	case KindRecord:
		fields, ok := v.(map[string]any)
		if !ok {
			return nil, encodeErr(t, v)
		}
		out := make(map[string]any, len(t.Fields))
		for _, f := range t.Fields {
			fv := fields[f.Name]
			if fv == nil && f.Type.Kind == KindOptional {
				continue
			}
			enc, err := Encode(f.Type, fv)
			if err != nil {
				return nil, err
			}
			out[f.Name] = enc
		}
		return out, nil

	case KindVariant:
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, encodeErr(t, v)
		}
		tag, _ := obj["tag"].(string)
		c := findCase(t, tag)
		if c == nil {
			return nil, encodeErr(t, v)
		}
		out := map[string]any{"tag": tag}
		if c.Type != nil {
			enc, err := Encode(c.Type, obj["value"])
			if err != nil {
				return nil, err
			}
			out["value"] = enc
		}
		return out, nil

	case KindOptional:
		if v == nil {
			return nil, nil
		}
		return Encode(t.Elem, v)
	}

	return nil, encodeErr(t, v)
}

func decodeErr(t *Type, v any) error {
	return fmt.Errorf("cannot decode %s value from %s", t.Kind, describeValue(v))
}

func encodeErr(t *Type, v any) error {
	return fmt.Errorf("cannot encode %s value from %s", t.Kind, describeValue(v))
}
