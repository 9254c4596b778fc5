package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// RawInterface is the declared export interface a component emits from
// its describe() export: function descriptors plus a table of named
// composite types they may reference.
type RawInterface struct {
	Name    string              `json:"name,omitempty"`
	Version string              `json:"version,omitempty"`
	Types   map[string]*RawType `json:"types,omitempty"`
	Exports []RawExport         `json:"exports"`
	// Requires lists the capabilities the component declares it needs.
	// Informational only: grants always come from the operator, never
	// from the component itself.
	Requires []RawCapability `json:"requires,omitempty"`
}

// RawCapability is a capability the component declares it needs.
type RawCapability struct {
	Kind    string `json:"kind"`
	Pattern string `json:"pattern"`
}

// RawExport is one declared exported function.
type RawExport struct {
	Name   string     `json:"name"`
	Doc    string     `json:"doc,omitempty"`
	Params []RawParam `json:"params,omitempty"`
	Result *RawType   `json:"result,omitempty"`
}

// RawParam is one declared parameter.
type RawParam struct {
	Name string   `json:"name"`
	Type *RawType `json:"type"`
}

// RawType is one node of a declared type expression. Kind "named" refers
// into the interface's type table; everything else mirrors the type tree.
type RawType struct {
	Kind   string     `json:"kind"` // bool|int|float|string|bytes|list|record|variant|option|named
	Elem   *RawType   `json:"elem,omitempty"`
	Fields []RawParam `json:"fields,omitempty"`
	Cases  []RawCase  `json:"cases,omitempty"`
	Name   string     `json:"name,omitempty"` // named reference target
}

// RawCase is one declared variant alternative.
type RawCase struct {
	Tag  string   `json:"tag"`
	Type *RawType `json:"type,omitempty"`
}

// ParseRawInterface decodes the JSON a component's describe() export
// returns.
func ParseRawInterface(data []byte) (*RawInterface, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var raw RawInterface
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("malformed interface description: %w", err)
	}
	return &raw, nil
}

// NormalizeName lowercases a declared function name and folds the usual
// separators to underscores, so "Fetch-URL" and "fetch_url" collide.
func NormalizeName(name string) string {
	var b strings.Builder
	lastSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch r {
		case '-', '.', ' ', '/':
			r = '_'
		}
		if r == '_' {
			if lastSep || b.Len() == 0 {
				continue
			}
			lastSep = true
		} else {
			lastSep = false
		}
		b.WriteRune(r)
	}
	return strings.TrimSuffix(b.String(), "_")
}

// Introspect expands a raw declared interface into a call schema. It is
// pure and deterministic: identical input yields byte-identical
// CanonicalJSON output.
func Introspect(raw *RawInterface) (*CallSchema, error) {
	if raw == nil || len(raw.Exports) == 0 {
		return nil, fmt.Errorf("interface declares no exported functions")
	}

	out := &CallSchema{}
	seen := make(map[string]struct{}, len(raw.Exports))

	for _, exp := range raw.Exports {
		name := NormalizeName(exp.Name)
		if name == "" {
			return nil, fmt.Errorf("export %q normalizes to an empty tool name", exp.Name)
		}
		if _, dup := seen[name]; dup {
			return nil, &DuplicateToolError{Tool: name}
		}
		seen[name] = struct{}{}

		sig := ToolSignature{Name: name, Export: exp.Name, Doc: exp.Doc}

		paramSeen := make(map[string]struct{}, len(exp.Params))
		for _, p := range exp.Params {
			if p.Name == "" {
				return nil, fmt.Errorf("tool %q declares an unnamed parameter", name)
			}
			if _, dup := paramSeen[p.Name]; dup {
				return nil, fmt.Errorf("tool %q declares parameter %q twice", name, p.Name)
			}
			paramSeen[p.Name] = struct{}{}

			pt, err := resolveType(p.Type, raw.Types, nil)
			if err != nil {
				return nil, fmt.Errorf("tool %q parameter %q: %w", name, p.Name, err)
			}
			if pt == nil {
				return nil, fmt.Errorf("tool %q parameter %q has no type", name, p.Name)
			}
			sig.Params = append(sig.Params, Param{Name: p.Name, Type: pt})
		}

		rt, err := resolveType(exp.Result, raw.Types, nil)
		if err != nil {
			return nil, fmt.Errorf("tool %q result: %w", name, err)
		}
		sig.Result = rt

		out.Tools = append(out.Tools, sig)
	}

	return out, nil
}

// resolveType recursively expands a raw type expression, chasing named
// references through the type table. The visiting chain detects cycles.
func resolveType(rt *RawType, table map[string]*RawType, visiting []string) (*Type, error) {
	if rt == nil {
		return nil, nil
	}

	switch rt.Kind {
	case "bool":
		return &Type{Kind: KindBool}, nil
	case "int":
		return &Type{Kind: KindInt}, nil
	case "float":
		return &Type{Kind: KindFloat}, nil
	case "string":
		return &Type{Kind: KindString}, nil
	case "bytes":
		return &Type{Kind: KindBytes}, nil

	case "list", "option":
		elem, err := resolveType(rt.Elem, table, visiting)
		if err != nil {
			return nil, err
		}
		if elem == nil {
			return nil, fmt.Errorf("%s type without element type", rt.Kind)
		}
		kind := KindList
		if rt.Kind == "option" {
			kind = KindOptional
		}
		return &Type{Kind: kind, Elem: elem}, nil

	case "record":
		if len(rt.Fields) == 0 {
			return nil, fmt.Errorf("record type without fields")
		}
		t := &Type{Kind: KindRecord}
		for _, f := range rt.Fields {
			if f.Name == "" {
				return nil, fmt.Errorf("record field without a name")
			}
			ft, err := resolveType(f.Type, table, visiting)
			if err != nil {
				return nil, err
			}
			if ft == nil {
				return nil, fmt.Errorf("record field %q has no type", f.Name)
			}
			t.Fields = append(t.Fields, Field{Name: f.Name, Type: ft})
		}
		return t, nil

	case "variant":
		if len(rt.Cases) == 0 {
			return nil, fmt.Errorf("variant type without cases")
		}
		t := &Type{Kind: KindVariant}
		for _, c := range rt.Cases {
			if c.Tag == "" {
				return nil, fmt.Errorf("variant case without a tag")
			}
			ct, err := resolveType(c.Type, table, visiting)
			if err != nil {
				return nil, err
			}
			t.Cases = append(t.Cases, Case{Tag: c.Tag, Type: ct})
		}
		return t, nil

	case "named":
		if rt.Name == "" {
			return nil, fmt.Errorf("named type reference without a name")
		}
		for _, v := range visiting {
			if v == rt.Name {
				return nil, &RecursiveTypeError{TypeName: rt.Name}
			}
		}
		target, ok := table[rt.Name]
		if !ok {
			return nil, fmt.Errorf("named type %q is not defined", rt.Name)
		}
		return resolveType(target, table, append(visiting, rt.Name))

	default:
		return nil, fmt.Errorf("unknown type kind %q", rt.Kind)
	}
}

// Compatible reports whether a new schema still serves every tool the
// old schema advertised, with an identical signature. New tools are
// fine; a removed or changed tool makes the schemas incompatible.
func Compatible(old, updated *CallSchema) error {
	for i := range old.Tools {
		prev := &old.Tools[i]
		next, ok := updated.Tool(prev.Name)
		if !ok {
			return &IncompatibleChangeError{Tool: prev.Name, Reason: "tool removed"}
		}
		if !bytes.Equal(prev.CanonicalJSON(), next.CanonicalJSON()) {
			return &IncompatibleChangeError{Tool: prev.Name, Reason: "signature changed"}
		}
	}
	return nil
}
