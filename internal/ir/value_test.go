package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortedKeysRFC8785Order(t *testing.T) {
	f := Fields{"a": 1, "A": 2, "aa": 3, "aA": 4, "Aa": 5, "AA": 6}

	assert.Equal(t, []string{"A", "AA", "Aa", "a", "aA", "aa"}, f.SortedKeys())
}

func TestDecodeFieldsPreservesIntegers(t *testing.T) {
	fields, err := DecodeFields([]byte(`{"big": 9007199254740993, "ratio": 0.5, "tags": ["a", 1], "nested": {"ok": true}, "empty": null}`))
	require.NoError(t, err)

	assert.Equal(t, int64(9007199254740993), fields["big"])
	assert.Equal(t, 0.5, fields["ratio"])
	assert.Equal(t, []any{"a", int64(1)}, fields["tags"])
	assert.Equal(t, map[string]any{"ok": true}, fields["nested"])
	assert.True(t, fields.Has("empty"))
	assert.Nil(t, fields["empty"])
}

func TestDecodeFieldsNull(t *testing.T) {
	fields, err := DecodeFields([]byte("null"))
	require.NoError(t, err)
	assert.Nil(t, fields)

	fields, err = DecodeFields(nil)
	require.NoError(t, err)
	assert.Nil(t, fields)
}

func TestDecodeFieldsRejectsNonObject(t *testing.T) {
	_, err := DecodeFields([]byte(`[1,2]`))
	require.Error(t, err)
}

func TestNormalizeValue(t *testing.T) {
	v, err := NormalizeValue(map[any]any{"n": 3, "f": float32(1.5)})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": int64(3), "f": 1.5}, v)

	_, err = NormalizeValue(map[any]any{1: "x"})
	require.Error(t, err)

	_, err = NormalizeValue(make(chan int))
	require.Error(t, err)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(int64(1), float64(1)))
	assert.True(t, Equal(map[string]any{"a": "x", "b": nil}, map[string]any{"b": nil, "a": "x"}))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal("1", int64(1)))
	assert.False(t, Equal(nil, ""))
}

func TestCloneIsDeep(t *testing.T) {
	orig := Fields{"tags": []any{"a"}, "meta": map[string]any{"k": "v"}}
	clone := orig.Clone()

	clone["tags"].([]any)[0] = "changed"
	clone["meta"].(map[string]any)["k"] = "changed"

	assert.Equal(t, "a", orig["tags"].([]any)[0])
	assert.Equal(t, "v", orig["meta"].(map[string]any)["k"])
	assert.Nil(t, Fields(nil).Clone())
}

func TestDisplayString(t *testing.T) {
	assert.Equal(t, "", DisplayString(nil))
	assert.Equal(t, "Hello", DisplayString("Hello"))
	assert.Equal(t, "42", DisplayString(int64(42)))
	assert.Equal(t, `["a"]`, DisplayString([]any{"a"}))
}

func TestColumnTypeAccepts(t *testing.T) {
	assert.True(t, ColumnText.Accepts("x"))
	assert.True(t, ColumnText.Accepts(nil))
	assert.False(t, ColumnText.Accepts(int64(1)))
	assert.True(t, ColumnNumber.Accepts(2.5))
	assert.False(t, ColumnNumber.Accepts("2.5"))
	assert.True(t, ColumnBoolean.Accepts(false))
	assert.True(t, ColumnJSON.Accepts([]any{}))
	assert.False(t, ColumnType("blob").Accepts("x"))
}
