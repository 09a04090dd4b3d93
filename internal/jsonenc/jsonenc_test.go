package jsonenc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendStringEscapesControlChars(t *testing.T) {
	got := string(AppendString(nil, "a\x01b\nc\"d\\e"))
	require.Equal(t, `"ab\nc\"d\\e"`, got)
}

func TestAppendStringInvalidUTF8(t *testing.T) {
	got := string(AppendString(nil, "a\xffb"))
	require.Equal(t, `"a\`+`ufffdb"`, got)
}

func TestAppendFloat64Sentinels(t *testing.T) {
	require.Equal(t, `"NaN"`, string(AppendFloat64(nil, math.NaN())))
	require.Equal(t, `"Infinity"`, string(AppendFloat64(nil, math.Inf(1))))
	require.Equal(t, `"-Infinity"`, string(AppendFloat64(nil, math.Inf(-1))))
	require.Equal(t, `1.5`, string(AppendFloat64(nil, 1.5)))
}

func TestObjectBuildsExpectedShape(t *testing.T) {
	o := NewObject().Str("name", "x").Int("count", 3).IntOrNull("seed", 0, false)
	require.Equal(t, `{"name":"x","count":3,"seed":null}`, o.String())
}
