package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		typ  string
		want any
	}{
		{"EURUSD", "string", "EURUSD"},
		{"EURUSD", "", "EURUSD"},
		{"-42", "int", int64(-42)},
		{"1.0842", "float", 1.0842},
		{"true", "bool", true},
	}
	for _, tc := range tests {
		got, err := parseValue(tc.in, tc.typ)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}

	_, err := parseValue("x", "int")
	assert.Error(t, err)
	_, err = parseValue("x", "decimal")
	assert.Error(t, err)
}

func TestParseCacheKey(t *testing.T) {
	ck, err := parseCacheKey("777", "Default")
	require.NoError(t, err)
	assert.Equal(t, uint64(777), ck.CycleID)
	assert.Equal(t, "Default", ck.CalcConfig)

	_, err = parseCacheKey("seven", "Default")
	assert.Error(t, err)
	_, err = parseCacheKey("777", "")
	assert.Error(t, err)
}
