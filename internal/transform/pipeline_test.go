package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/refreshd/internal/errors"
)

func TestPipeline_ApplyRegisteredRule(t *testing.T) {
	p := NewPipeline()
	require.NoError(t, p.Register("normalize-user", RenameFields(map[string]string{"name": "displayName"})))

	in := map[string]any{"id": 1, "name": "x"}
	out, err := p.Apply(context.Background(), "normalize-user", in, Context{DataType: "users"})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"id": 1, "displayName": "x"}, out)
	assert.Equal(t, map[string]any{"id": 1, "name": "x"}, in, "input must not be mutated")
}

func TestPipeline_MissingRule(t *testing.T) {
	p := NewPipeline()

	_, err := p.Apply(context.Background(), "nope", map[string]any{}, Context{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRuleNotFound))
	assert.Contains(t, err.Error(), `"nope"`)
}

func TestPipeline_RegisterValidation(t *testing.T) {
	p := NewPipeline()

	assert.Error(t, p.Register("", PickFields("a")))
	assert.Error(t, p.Register("x", nil))
	assert.False(t, p.Has("x"))
}

func TestPipeline_Names(t *testing.T) {
	p := NewPipeline()
	require.NoError(t, p.Register("b", PickFields("a")))
	require.NoError(t, p.Register("a", PickFields("a")))

	assert.Equal(t, []string{"a", "b"}, p.Names())
}

func TestRules_ListOfRecords(t *testing.T) {
	in := []any{
		map[string]any{"id": 1, "secret": "s", "name": "a"},
		"not-a-record",
		map[string]any{"id": 2, "name": "b"},
	}

	out, err := OmitFields("secret")(context.Background(), in, Context{})
	require.NoError(t, err)

	assert.Equal(t, []any{
		map[string]any{"id": 1, "name": "a"},
		"not-a-record",
		map[string]any{"id": 2, "name": "b"},
	}, out)
}

func TestRules_UnsupportedShape(t *testing.T) {
	_, err := PickFields("a")(context.Background(), 42, Context{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedShape))
}

func TestDefinition_OrderOmitRenamePick(t *testing.T) {
	def := Definition{
		Name:   "profile",
		Omit:   []string{"password"},
		Rename: map[string]string{"name": "displayName"},
		Pick:   []string{"id", "displayName"},
	}
	p := NewPipeline()
	require.NoError(t, p.RegisterDefinitions([]Definition{def}))

	out, err := p.Apply(context.Background(), "profile",
		map[string]any{"id": 7, "name": "x", "password": "p", "email": "e"}, Context{})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"id": 7, "displayName": "x"}, out)
}

func TestDefinition_Empty(t *testing.T) {
	p := NewPipeline()
	err := p.RegisterDefinitions([]Definition{{Name: "empty"}})
	assert.Error(t, err)
}
