// Package schema turns a component's declared export interface into a
// normalized call schema: tool names, ordered typed parameters and a
// typed result, described by a recursive type tree. The schema is what
// discovery advertises and what every invocation is validated against,
// so it must round-trip losslessly and deterministically.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind discriminates the type tree sum type.
type Kind uint8

const (
	KindBool Kind = iota + 1
	KindInt
	KindFloat
	KindString
	KindBytes
	KindList
	KindRecord
	KindVariant
	KindOptional
)

var kindNames = map[Kind]string{
	KindBool:     "bool",
	KindInt:      "int",
	KindFloat:    "float",
	KindString:   "string",
	KindBytes:    "bytes",
	KindList:     "list",
	KindRecord:   "record",
	KindVariant:  "variant",
	KindOptional: "optional",
}

// String returns the canonical kind name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Type is one node of the type tree. Exactly the fields relevant to its
// Kind are populated; field and case order is declaration order and is
// significant for canonical encoding.
type Type struct {
	Kind   Kind
	Elem   *Type   // KindList, KindOptional
	Fields []Field // KindRecord
	Cases  []Case  // KindVariant
}

// Field is one named record member.
type Field struct {
	Name string
	Type *Type
}

// Case is one tagged variant alternative. Type is nil for payload-less
// cases.
type Case struct {
	Tag  string
	Type *Type
}

// Param is one named, ordered tool parameter.
type Param struct {
	Name string
	Type *Type
}

// ToolSignature describes one callable exported function.
type ToolSignature struct {
	// Name is the normalized tool name, unique within a component.
	Name string
	// Export is the component's original export symbol, used to resolve
	// the function inside the sandbox.
	Export string
	Doc    string
	Params []Param
	Result *Type
}

// CallSchema is the ordered set of tool signatures of one component.
type CallSchema struct {
	Tools []ToolSignature
}

// Tool returns the signature with the given normalized name.
func (s *CallSchema) Tool(name string) (*ToolSignature, bool) {
	for i := range s.Tools {
		if s.Tools[i].Name == name {
			return &s.Tools[i], true
		}
	}
	return nil, false
}

// wire forms used for the canonical JSON encoding below

type typeWire struct {
	Kind   string      `json:"kind"`
	Elem   *typeWire   `json:"elem,omitempty"`
	Fields []fieldWire `json:"fields,omitempty"`
	Cases  []caseWire  `json:"cases,omitempty"`
}

type fieldWire struct {
	Name string    `json:"name"`
	Type *typeWire `json:"type"`
}

type caseWire struct {
	Tag  string    `json:"tag"`
	Type *typeWire `json:"type,omitempty"`
}

type signatureWire struct {
	Name   string      `json:"name"`
	Export string      `json:"export"`
	Doc    string      `json:"doc,omitempty"`
	Params []paramWire `json:"params"`
	Result *typeWire   `json:"result,omitempty"`
}

type paramWire struct {
	Name string    `json:"name"`
	Type *typeWire `json:"type"`
}

type schemaWire struct {
	Tools []signatureWire `json:"tools"`
}

func (t *Type) toWire() *typeWire {
	if t == nil {
		return nil
	}
	w := &typeWire{Kind: t.Kind.String(), Elem: t.Elem.toWire()}
	for _, f := range t.Fields {
		w.Fields = append(w.Fields, fieldWire{Name: f.Name, Type: f.Type.toWire()})
	}
	for _, c := range t.Cases {
		w.Cases = append(w.Cases, caseWire{Tag: c.Tag, Type: c.Type.toWire()})
	}
	return w
}

func typeFromWire(w *typeWire) (*Type, error) {
	if w == nil {
		return nil, nil
	}
	var kind Kind
	for k, name := range kindNames {
		if name == w.Kind {
			kind = k
			break
		}
	}
	if kind == 0 {
		return nil, fmt.Errorf("unknown type kind %q", w.Kind)
	}
	t := &Type{Kind: kind}
	var err error
	if t.Elem, err = typeFromWire(w.Elem); err != nil {
		return nil, err
	}
	for _, f := range w.Fields {
		ft, err := typeFromWire(f.Type)
		if err != nil {
			return nil, err
		}
		t.Fields = append(t.Fields, Field{Name: f.Name, Type: ft})
	}
	for _, c := range w.Cases {
		ct, err := typeFromWire(c.Type)
		if err != nil {
			return nil, err
		}
		t.Cases = append(t.Cases, Case{Tag: c.Tag, Type: ct})
	}
	return t, nil
}

func (s *ToolSignature) toWire() signatureWire {
	w := signatureWire{
		Name:   s.Name,
		Export: s.Export,
		Doc:    s.Doc,
		Params: []paramWire{},
		Result: s.Result.toWire(),
	}
	for _, p := range s.Params {
		w.Params = append(w.Params, paramWire{Name: p.Name, Type: p.Type.toWire()})
	}
	return w
}

// CanonicalJSON returns a byte-stable encoding of the schema. Two
// introspections of the same binary produce identical bytes, which is
// what reload diffing and schema digests rely on.
func (s *CallSchema) CanonicalJSON() []byte {
	w := schemaWire{Tools: []signatureWire{}}
	for i := range s.Tools {
		w.Tools = append(w.Tools, s.Tools[i].toWire())
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding of plain structs cannot fail.
	_ = enc.Encode(w)
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

// CanonicalJSON returns a byte-stable encoding of one signature.
func (s *ToolSignature) CanonicalJSON() []byte {
	b, _ := json.Marshal(s.toWire())
	return b
}

// ParseCallSchema decodes a schema previously produced by CanonicalJSON.
func ParseCallSchema(data []byte) (*CallSchema, error) {
	var w schemaWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("malformed call schema: %w", err)
	}
	out := &CallSchema{}
	for _, sw := range w.Tools {
		sig := ToolSignature{Name: sw.Name, Export: sw.Export, Doc: sw.Doc}
		var err error
		if sig.Result, err = typeFromWire(sw.Result); err != nil {
			return nil, err
		}
		for _, pw := range sw.Params {
			pt, err := typeFromWire(pw.Type)
			if err != nil {
				return nil, err
			}
			sig.Params = append(sig.Params, Param{Name: pw.Name, Type: pt})
		}
		out.Tools = append(out.Tools, sig)
	}
	return out, nil
}
