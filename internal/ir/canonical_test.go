package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCanonical(t *testing.T, v any) string {
	t.Helper()
	data, err := MarshalCanonical(v)
	require.NoError(t, err)
	return string(data)
}

func TestMarshalCanonicalSortsKeys(t *testing.T) {
	got := mustCanonical(t, map[string]any{
		"zebra": int64(1),
		"apple": int64(2),
		"mango": int64(3),
	})
	assert.Equal(t, `{"apple":2,"mango":3,"zebra":1}`, got)
}

func TestMarshalCanonicalScalars(t *testing.T) {
	assert.Equal(t, "true", mustCanonical(t, true))
	assert.Equal(t, "false", mustCanonical(t, false))
	assert.Equal(t, "-42", mustCanonical(t, int64(-42)))
	assert.Equal(t, `"hello"`, mustCanonical(t, "hello"))
	assert.Equal(t, `[1,"two",true]`, mustCanonical(t, []any{int64(1), "two", true}))
}

func TestMarshalCanonicalValues(t *testing.T) {
	assert.Equal(t, "150", mustCanonical(t, Int(150)))
	assert.Equal(t, "true", mustCanonical(t, Bool(true)))
	assert.Equal(t, `"hi"`, mustCanonical(t, Str("hi")))
	assert.Equal(t, `"0xdeadbeef"`, mustCanonical(t, Bytes{0xde, 0xad, 0xbe, 0xef}))
}

func TestMarshalCanonicalRejectsNullAndFloats(t *testing.T) {
	_, err := MarshalCanonical(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null")

	_, err = MarshalCanonical(1.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "float")

	_, err = MarshalCanonical(map[string]any{"x": nil})
	assert.Error(t, err)
	_, err = MarshalCanonical([]any{3.14})
	assert.Error(t, err)
}

func TestMarshalCanonicalEscapesControlCharacters(t *testing.T) {
	assert.Equal(t, `"a\nb"`, mustCanonical(t, "a\nb"))
	assert.Equal(t, `"a\tb"`, mustCanonical(t, "a\tb"))
	assert.Equal(t, `"quo\"te"`, mustCanonical(t, `quo"te`))
	assert.Equal(t, `"back\\slash"`, mustCanonical(t, `back\slash`))
	assert.Equal(t, `""`, mustCanonical(t, "\x01"))
	// HTML-significant characters pass through unescaped.
	assert.Equal(t, `"<&>"`, mustCanonical(t, "<&>"))
}

func TestMarshalCanonicalNormalizesNFC(t *testing.T) {
	// e + combining acute accent normalizes to the precomposed form.
	decomposed := "é"
	composed := "é"
	assert.Equal(t, mustCanonical(t, composed), mustCanonical(t, decomposed))
}

func TestMarshalCanonicalRejectsInvalidUTF8(t *testing.T) {
	_, err := MarshalCanonical(string([]byte{0xff, 0xfe}))
	assert.Error(t, err)
}

func TestMarshalCanonicalIsDeterministic(t *testing.T) {
	v := map[string]any{
		"steps": []any{
			map[string]any{"node": "if", "gas": int64(14)},
			map[string]any{"node": "emit", "gas": int64(50)},
		},
		"total": int64(64),
	}
	first := mustCanonical(t, v)
	for i := 0; i < 16; i++ {
		assert.Equal(t, first, mustCanonical(t, v))
	}
}
