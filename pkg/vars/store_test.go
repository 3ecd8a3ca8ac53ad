package vars_test

import (
	"testing"

	"github.com/avencia/graphrun/pkg/domain"
	"github.com/avencia/graphrun/pkg/vars"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_ResolveNested(t *testing.T) {
	store := vars.New(map[string]any{
		"foo": map[string]any{
			"bar": []any{
				map[string]any{"baz": 42},
			},
		},
	})

	out, err := store.Resolve(map[string]string{
		"x": "variables.foo.bar[0].baz",
		"y": "variables.foo",
	})
	require.NoError(t, err)
	assert.Equal(t, 42, out["x"])
	assert.Equal(t, map[string]any{
		"bar": []any{map[string]any{"baz": 42}},
	}, out["y"])
}

func TestStore_ResolveCopiesContainers(t *testing.T) {
	store := vars.New(map[string]any{
		"foo": map[string]any{"bar": 1},
	})

	out, err := store.Resolve(map[string]string{"foo": "variables.foo"})
	require.NoError(t, err)

	out["foo"].(map[string]any)["bar"] = 99
	v, err := store.Get("variables.foo.bar")
	require.NoError(t, err)
	assert.Equal(t, 1, v, "resolved values must not alias the store")
}

func TestStore_ResolveErrors(t *testing.T) {
	store := vars.New(map[string]any{"foo": 1})

	cases := map[string]string{
		"missing root":   "foo.bar",
		"undefined step": "variables.nope",
		"bad index":      "variables.foo[x]",
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(path)
			assert.ErrorIs(t, err, domain.ErrInvalidPath)
		})
	}
}

func TestStore_ApplyRoundTrip(t *testing.T) {
	store := vars.New(map[string]any{})

	require.NoError(t, store.Apply("variables.a.b", 7))
	v, err := store.Get("variables.a.b")
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestStore_ApplyTopLevelMerge(t *testing.T) {
	store := vars.New(map[string]any{"keep": true})

	require.NoError(t, store.Apply("", map[string]any{"x": 1}))
	assert.Equal(t, map[string]any{"keep": true, "x": 1}, store.Root())

	err := store.Apply("", "not a map")
	assert.ErrorIs(t, err, domain.ErrInvalidAssignment)
}

func TestStore_ApplyMergesNestedMaps(t *testing.T) {
	store := vars.New(map[string]any{
		"cfg": map[string]any{"a": 1, "keep": "yes"},
	})

	require.NoError(t, store.Apply("variables.cfg", map[string]any{"a": 2, "b": 3}))
	assert.Equal(t, map[string]any{"a": 2, "b": 3, "keep": "yes"}, store.Root()["cfg"])

	// Merge is idempotent.
	require.NoError(t, store.Apply("variables.cfg", map[string]any{"a": 2, "b": 3}))
	assert.Equal(t, map[string]any{"a": 2, "b": 3, "keep": "yes"}, store.Root()["cfg"])
}

func TestStore_ApplyOverwritesScalars(t *testing.T) {
	store := vars.New(map[string]any{"x": 1})

	require.NoError(t, store.Apply("variables.x", "replaced"))
	assert.Equal(t, "replaced", store.Root()["x"])
}

func TestStore_ApplyListIndex(t *testing.T) {
	store := vars.New(map[string]any{
		"items": []any{"a", "b"},
	})

	require.NoError(t, store.Apply("variables.items[1]", "B"))
	assert.Equal(t, []any{"a", "B"}, store.Root()["items"])

	err := store.Apply("variables.items[5]", "x")
	assert.ErrorIs(t, err, domain.ErrInvalidPath)
}

func TestStore_ApplyCreatesIntermediateMaps(t *testing.T) {
	store := vars.New(map[string]any{})

	require.NoError(t, store.Apply("variables.a.b.c", true))
	v, err := store.Get("variables.a.b.c")
	require.NoError(t, err)
	assert.Equal(t, true, v)
}
