package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"fetch", "fetch"},
		{"Fetch-URL", "fetch_url"},
		{"fetch url", "fetch_url"},
		{"Fetch.URL", "fetch_url"},
		{"fetch__url", "fetch_url"},
		{"  Fetch  ", "fetch"},
		{"_fetch_", "fetch"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeName(tt.in), "input %q", tt.in)
	}
}

func TestIntrospect_Basic(t *testing.T) {
	raw := &RawInterface{
		Exports: []RawExport{
			{
				Name: "add",
				Doc:  "Adds two integers.",
				Params: []RawParam{
					{Name: "x", Type: &RawType{Kind: "int"}},
					{Name: "y", Type: &RawType{Kind: "int"}},
				},
				Result: &RawType{Kind: "int"},
			},
		},
	}

	cs, err := Introspect(raw)
	require.NoError(t, err)
	require.Len(t, cs.Tools, 1)

	sig := cs.Tools[0]
	assert.Equal(t, "add", sig.Name)
	assert.Equal(t, "add", sig.Export)
	assert.Equal(t, "Adds two integers.", sig.Doc)
	require.Len(t, sig.Params, 2)
	assert.Equal(t, "x", sig.Params[0].Name)
	assert.Equal(t, KindInt, sig.Params[0].Type.Kind)
	assert.Equal(t, KindInt, sig.Result.Kind)
}

func TestIntrospect_NamedTypesExpand(t *testing.T) {
	raw := &RawInterface{
		Types: map[string]*RawType{
			"address": {Kind: "record", Fields: []RawParam{
				{Name: "street", Type: &RawType{Kind: "string"}},
				{Name: "zip", Type: &RawType{Kind: "string"}},
			}},
			"person": {Kind: "record", Fields: []RawParam{
				{Name: "name", Type: &RawType{Kind: "string"}},
				{Name: "home", Type: &RawType{Kind: "named", Name: "address"}},
			}},
		},
		Exports: []RawExport{
			{
				Name:   "register",
				Params: []RawParam{{Name: "who", Type: &RawType{Kind: "named", Name: "person"}}},
				Result: &RawType{Kind: "bool"},
			},
		},
	}

	cs, err := Introspect(raw)
	require.NoError(t, err)

	who := cs.Tools[0].Params[0].Type
	require.Equal(t, KindRecord, who.Kind)
	require.Len(t, who.Fields, 2)
	home := who.Fields[1].Type
	require.Equal(t, KindRecord, home.Kind, "named types must be fully expanded")
	assert.Equal(t, "street", home.Fields[0].Name)
}

func TestIntrospect_RecursiveTypeRejected(t *testing.T) {
	raw := &RawInterface{
		Types: map[string]*RawType{
			"node": {Kind: "record", Fields: []RawParam{
				{Name: "next", Type: &RawType{Kind: "named", Name: "node"}},
			}},
		},
		Exports: []RawExport{
			{Name: "walk", Params: []RawParam{{Name: "root", Type: &RawType{Kind: "named", Name: "node"}}}},
		},
	}

	_, err := Introspect(raw)
	require.Error(t, err)
	var rte *RecursiveTypeError
	require.ErrorAs(t, err, &rte)
	assert.Equal(t, "node", rte.TypeName)
}

func TestIntrospect_MutuallyRecursiveTypesRejected(t *testing.T) {
	raw := &RawInterface{
		Types: map[string]*RawType{
			"a": {Kind: "record", Fields: []RawParam{{Name: "b", Type: &RawType{Kind: "named", Name: "b"}}}},
			"b": {Kind: "list", Elem: &RawType{Kind: "named", Name: "a"}},
		},
		Exports: []RawExport{
			{Name: "f", Params: []RawParam{{Name: "v", Type: &RawType{Kind: "named", Name: "a"}}}},
		},
	}

	_, err := Introspect(raw)
	var rte *RecursiveTypeError
	require.ErrorAs(t, err, &rte)
}

func TestIntrospect_DiamondReferenceAllowed(t *testing.T) {
	// The same named type referenced from two places is not a cycle.
	raw := &RawInterface{
		Types: map[string]*RawType{
			"point": {Kind: "record", Fields: []RawParam{
				{Name: "x", Type: &RawType{Kind: "float"}},
				{Name: "y", Type: &RawType{Kind: "float"}},
			}},
		},
		Exports: []RawExport{
			{
				Name: "segment",
				Params: []RawParam{
					{Name: "from", Type: &RawType{Kind: "named", Name: "point"}},
					{Name: "to", Type: &RawType{Kind: "named", Name: "point"}},
				},
				Result: &RawType{Kind: "float"},
			},
		},
	}

	_, err := Introspect(raw)
	assert.NoError(t, err)
}

func TestIntrospect_DuplicateToolAfterNormalization(t *testing.T) {
	raw := &RawInterface{
		Exports: []RawExport{
			{Name: "Fetch-URL", Result: &RawType{Kind: "string"}},
			{Name: "fetch_url", Result: &RawType{Kind: "string"}},
		},
	}

	_, err := Introspect(raw)
	require.Error(t, err)
	var dte *DuplicateToolError
	require.ErrorAs(t, err, &dte)
	assert.Equal(t, "fetch_url", dte.Tool)
}

func TestIntrospect_Deterministic(t *testing.T) {
	raw := func() *RawInterface {
		return &RawInterface{
			Types: map[string]*RawType{
				"opts": {Kind: "record", Fields: []RawParam{
					{Name: "retries", Type: &RawType{Kind: "option", Elem: &RawType{Kind: "int"}}},
					{Name: "mode", Type: &RawType{Kind: "variant", Cases: []RawCase{
						{Tag: "fast"},
						{Tag: "careful", Type: &RawType{Kind: "int"}},
					}}},
				}},
			},
			Exports: []RawExport{
				{
					Name:   "run",
					Doc:    "Runs the thing.",
					Params: []RawParam{{Name: "opts", Type: &RawType{Kind: "named", Name: "opts"}}},
					Result: &RawType{Kind: "list", Elem: &RawType{Kind: "string"}},
				},
			},
		}
	}

	first, err := Introspect(raw())
	require.NoError(t, err)
	second, err := Introspect(raw())
	require.NoError(t, err)

	assert.Equal(t, first.CanonicalJSON(), second.CanonicalJSON(),
		"identical input must yield byte-identical schema")
}

func TestCanonicalJSONRoundTrip(t *testing.T) {
	raw := &RawInterface{
		Exports: []RawExport{
			{
				Name: "probe",
				Params: []RawParam{
					{Name: "target", Type: &RawType{Kind: "string"}},
					{Name: "ports", Type: &RawType{Kind: "list", Elem: &RawType{Kind: "int"}}},
				},
				Result: &RawType{Kind: "variant", Cases: []RawCase{
					{Tag: "open"},
					{Tag: "closed", Type: &RawType{Kind: "string"}},
				}},
			},
		},
	}

	cs, err := Introspect(raw)
	require.NoError(t, err)

	parsed, err := ParseCallSchema(cs.CanonicalJSON())
	require.NoError(t, err)
	assert.Equal(t, cs.CanonicalJSON(), parsed.CanonicalJSON())
}

func TestCompatible(t *testing.T) {
	base := func() *RawInterface {
		return &RawInterface{
			Exports: []RawExport{
				{Name: "add", Params: []RawParam{
					{Name: "x", Type: &RawType{Kind: "int"}},
					{Name: "y", Type: &RawType{Kind: "int"}},
				}, Result: &RawType{Kind: "int"}},
			},
		}
	}

	old, err := Introspect(base())
	require.NoError(t, err)

	t.Run("identical schema is compatible", func(t *testing.T) {
		updated, err := Introspect(base())
		require.NoError(t, err)
		assert.NoError(t, Compatible(old, updated))
	})

	t.Run("added tool is compatible", func(t *testing.T) {
		raw := base()
		raw.Exports = append(raw.Exports, RawExport{Name: "sub", Params: []RawParam{
			{Name: "x", Type: &RawType{Kind: "int"}},
			{Name: "y", Type: &RawType{Kind: "int"}},
		}, Result: &RawType{Kind: "int"}})
		updated, err := Introspect(raw)
		require.NoError(t, err)
		assert.NoError(t, Compatible(old, updated))
	})

	t.Run("removed tool is incompatible", func(t *testing.T) {
		updated := &CallSchema{}
		err := Compatible(old, updated)
		var ice *IncompatibleChangeError
		require.ErrorAs(t, err, &ice)
		assert.Equal(t, "add", ice.Tool)
	})

	t.Run("changed signature is incompatible", func(t *testing.T) {
		raw := base()
		raw.Exports[0].Result = &RawType{Kind: "float"}
		updated, err := Introspect(raw)
		require.NoError(t, err)
		var ice *IncompatibleChangeError
		require.ErrorAs(t, Compatible(old, updated), &ice)
	})
}

func TestParseRawInterface(t *testing.T) {
	data := []byte(`{
		"name": "adder",
		"version": "1.0.0",
		"requires": [{"kind": "network", "pattern": "example.com"}],
		"exports": [
			{"name": "add", "params": [
				{"name": "x", "type": {"kind": "int"}},
				{"name": "y", "type": {"kind": "int"}}
			], "result": {"kind": "int"}}
		]
	}`)

	raw, err := ParseRawInterface(data)
	require.NoError(t, err)
	assert.Equal(t, "adder", raw.Name)
	require.Len(t, raw.Requires, 1)
	assert.Equal(t, "network", raw.Requires[0].Kind)

	_, err = ParseRawInterface([]byte(`{"exports": [`))
	assert.Error(t, err)
}
