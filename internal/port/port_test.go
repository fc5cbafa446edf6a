package port

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustObject(t *testing.T, s string) Object {
	t.Helper()
	obj, err := DecodeObject([]byte(s))
	require.NoError(t, err)
	return obj
}

func TestDecodeObject(t *testing.T) {
	obj, err := DecodeObject([]byte(` {"type": "finish"} `))
	require.NoError(t, err)
	assert.True(t, obj.Has("type"))
	assert.False(t, obj.Has("permuter"))

	for _, input := range []string{`[1, 2]`, `"finish"`, ``, `42`} {
		_, err := DecodeObject([]byte(input))
		assert.EqualError(t, err, "top-level JSON value must be an object", input)
	}

	_, err = DecodeObject([]byte(`{"type": `))
	assert.ErrorContains(t, err, "invalid JSON message")
}

func TestProp(t *testing.T) {
	obj := mustObject(t, `{
		"server": "alpha",
		"success": true,
		"score": 120,
		"fraction": 1.5,
		"priority": 2,
		"nothing": null,
		"bases": [{"base_score": 1}]
	}`)

	server, err := Prop[string](obj, "server")
	require.NoError(t, err)
	assert.Equal(t, "alpha", server)

	success, err := Prop[bool](obj, "success")
	require.NoError(t, err)
	assert.True(t, success)

	score, err := Prop[int](obj, "score")
	require.NoError(t, err)
	assert.Equal(t, 120, score)

	priority, err := Prop[float64](obj, "priority")
	require.NoError(t, err)
	assert.Equal(t, 2.0, priority)

	tests := []struct {
		name    string
		get     func() error
		wantErr string
	}{
		{"missing", func() error { _, err := Prop[string](obj, "error"); return err }, `missing property "error"`},
		{"string as int", func() error { _, err := Prop[int](obj, "server"); return err }, `property "server" must be an integer`},
		{"fraction as int", func() error { _, err := Prop[int](obj, "fraction"); return err }, `property "fraction" must be an integer`},
		{"int as bool", func() error { _, err := Prop[bool](obj, "score"); return err }, `property "score" must be a boolean`},
		{"null", func() error { _, err := Prop[string](obj, "nothing"); return err }, `property "nothing" must be a string`},
		{"array as object", func() error { _, err := Prop[Object](obj, "bases"); return err }, `property "bases" must be an object`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.EqualError(t, tt.get(), tt.wantErr)
		})
	}
}

func TestOptionalProp(t *testing.T) {
	obj := mustObject(t, `{"has_source": true, "bad": "yes"}`)

	v, present, err := OptionalProp[bool](obj, "has_source")
	require.NoError(t, err)
	assert.True(t, present)
	assert.True(t, v)

	v, present, err = OptionalProp[bool](obj, "missing")
	require.NoError(t, err)
	assert.False(t, present)
	assert.False(t, v)

	_, present, err = OptionalProp[bool](obj, "bad")
	assert.True(t, present)
	assert.EqualError(t, err, `property "bad" must be a boolean`)
}

func TestObjects(t *testing.T) {
	obj := mustObject(t, `{"perm_bases": [{"base_score": 1}, {"base_score": 2}], "mixed": [{}, 3], "flat": 1}`)

	bases, err := Objects(obj, "perm_bases")
	require.NoError(t, err)
	require.Len(t, bases, 2)
	score, err := Prop[int](bases[1], "base_score")
	require.NoError(t, err)
	assert.Equal(t, 2, score)

	_, err = Objects(obj, "mixed")
	assert.EqualError(t, err, `property "mixed[1]" must be an object`)

	_, err = Objects(obj, "flat")
	assert.EqualError(t, err, `property "flat" must be an array`)
}
