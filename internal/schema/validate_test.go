package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Primitives(t *testing.T) {
	tests := []struct {
		name    string
		typ     *Type
		value   any
		wantErr bool
	}{
		{name: "bool ok", typ: &Type{Kind: KindBool}, value: true},
		{name: "bool from string", typ: &Type{Kind: KindBool}, value: "true", wantErr: true},
		{name: "int from json float", typ: &Type{Kind: KindInt}, value: float64(42)},
		{name: "int from go int", typ: &Type{Kind: KindInt}, value: 42},
		{name: "int rejects fraction", typ: &Type{Kind: KindInt}, value: 4.5, wantErr: true},
		{name: "float ok", typ: &Type{Kind: KindFloat}, value: 4.5},
		{name: "float accepts integer", typ: &Type{Kind: KindFloat}, value: float64(4)},
		{name: "string ok", typ: &Type{Kind: KindString}, value: "hello"},
		{name: "string rejects number", typ: &Type{Kind: KindString}, value: 7.0, wantErr: true},
		{name: "bytes from base64", typ: &Type{Kind: KindBytes}, value: "aGVsbG8="},
		{name: "bytes rejects bad base64", typ: &Type{Kind: KindBytes}, value: "!!!", wantErr: true},
		{name: "null rejected for string", typ: &Type{Kind: KindString}, value: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.typ, tt.value)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_MismatchPaths(t *testing.T) {
	personType := &Type{Kind: KindRecord, Fields: []Field{
		{Name: "name", Type: &Type{Kind: KindString}},
		{Name: "tags", Type: &Type{Kind: KindList, Elem: &Type{Kind: KindString}}},
		{Name: "age", Type: &Type{Kind: KindOptional, Elem: &Type{Kind: KindInt}}},
	}}

	tests := []struct {
		name     string
		value    any
		wantPath string
	}{
		{
			name:     "wrong field type",
			value:    map[string]any{"name": 7.0, "tags": []any{}},
			wantPath: "name",
		},
		{
			name:     "wrong list element",
			value:    map[string]any{"name": "x", "tags": []any{"a", 3.0}},
			wantPath: "tags[1]",
		},
		{
			name:     "missing required field",
			value:    map[string]any{"name": "x"},
			wantPath: "tags",
		},
		{
			name:     "undeclared field",
			value:    map[string]any{"name": "x", "tags": []any{}, "extra": 1.0},
			wantPath: "extra",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(personType, tt.value)
			require.Error(t, err)
			var mismatch *MismatchError
			require.ErrorAs(t, err, &mismatch)
			assert.Equal(t, tt.wantPath, mismatch.Path)
		})
	}

	t.Run("optional field may be absent", func(t *testing.T) {
		assert.NoError(t, Validate(personType, map[string]any{"name": "x", "tags": []any{}}))
	})
	t.Run("optional field may be null", func(t *testing.T) {
		assert.NoError(t, Validate(personType, map[string]any{"name": "x", "tags": []any{}, "age": nil}))
	})
}

func TestValidate_Variant(t *testing.T) {
	resultType := &Type{Kind: KindVariant, Cases: []Case{
		{Tag: "ok", Type: &Type{Kind: KindString}},
		{Tag: "empty"},
	}}

	assert.NoError(t, Validate(resultType, map[string]any{"tag": "ok", "value": "fine"}))
	assert.NoError(t, Validate(resultType, map[string]any{"tag": "empty"}))

	err := Validate(resultType, map[string]any{"tag": "bogus"})
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "tag", mismatch.Path)

	err = Validate(resultType, map[string]any{"tag": "ok", "value": 3.0})
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "value", mismatch.Path)

	err = Validate(resultType, map[string]any{"tag": "empty", "value": "unexpected"})
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "value", mismatch.Path)
}

func TestValidate_NestedPath(t *testing.T) {
	typ := &Type{Kind: KindRecord, Fields: []Field{
		{Name: "items", Type: &Type{Kind: KindList, Elem: &Type{Kind: KindRecord, Fields: []Field{
			{Name: "qty", Type: &Type{Kind: KindInt}},
		}}}},
	}}

	err := Validate(typ, map[string]any{"items": []any{
		map[string]any{"qty": 1.0},
		map[string]any{"qty": "two"},
	}})
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "items[1].qty", mismatch.Path)
}
