package schema

import "encoding/json"

// InputSchema renders a tool's parameter list as a JSON Schema object,
// the shape MCP discovery advertises for tool inputs. Parameters map to
// object properties in declaration order; only non-optional parameters
// are required.
func InputSchema(sig *ToolSignature) json.RawMessage {
	properties := make(map[string]any, len(sig.Params))
	required := []string{}
	for _, p := range sig.Params {
		properties[p.Name] = typeSchema(p.Type)
		if p.Type.Kind != KindOptional {
			required = append(required, p.Name)
		}
	}

	obj := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		obj["required"] = required
	}
	if sig.Doc != "" {
		obj["description"] = sig.Doc
	}

	b, _ := json.Marshal(obj)
	return b
}

func typeSchema(t *Type) map[string]any {
	switch t.Kind {
	case KindBool:
		return map[string]any{"type": "boolean"}
	case KindInt:
		return map[string]any{"type": "integer"}
	case KindFloat:
		return map[string]any{"type": "number"}
	case KindString:
		return map[string]any{"type": "string"}
	case KindBytes:
		return map[string]any{"type": "string", "contentEncoding": "base64"}
	case KindList:
		return map[string]any{"type": "array", "items": typeSchema(t.Elem)}
	case KindRecord:
		properties := make(map[string]any, len(t.Fields))
		required := []string{}
		for _, f := range t.Fields {
			properties[f.Name] = typeSchema(f.Type)
			if f.Type.Kind != KindOptional {
				required = append(required, f.Name)
			}
		}
		obj := map[string]any{
			"type":                 "object",
			"properties":           properties,
			"additionalProperties": false,
		}
		if len(required) > 0 {
			obj["required"] = required
		}
		return obj
	case KindVariant:
		alternatives := make([]any, 0, len(t.Cases))
		for _, c := range t.Cases {
			alt := map[string]any{
				"type":                 "object",
				"properties":           map[string]any{"tag": map[string]any{"const": c.Tag}},
				"required":             []string{"tag"},
				"additionalProperties": false,
			}
			if c.Type != nil {
				alt["properties"].(map[string]any)["value"] = typeSchema(c.Type)
				alt["required"] = []string{"tag", "value"}
			}
			alternatives = append(alternatives, alt)
		}
		return map[string]any{"oneOf": alternatives}
	case KindOptional:
		return map[string]any{"anyOf": []any{typeSchema(t.Elem), map[string]any{"type": "null"}}}
	default:
		return map[string]any{}
	}
}
