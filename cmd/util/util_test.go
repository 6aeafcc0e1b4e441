package util

import (
	"strings"
	"testing"

	"github.com/ValentinKolb/dCache/lib/key"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapString(t *testing.T) {
	wrapped := WrapString(strings.Repeat("word ", 30))
	for _, line := range strings.Split(wrapped, "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
	assert.Equal(t, "short text", WrapString("  short   text "))
}

func TestParseValueKey(t *testing.T) {
	tests := []struct {
		name  string
		input string
		props []string
		want  key.ValueKey
	}{
		{
			name:  "null target",
			input: "FX_SPOT",
			want:  key.New("FX_SPOT", nil, nil),
		},
		{
			name:  "explicit null target",
			input: "FX_SPOT@NULL",
			want:  key.New("FX_SPOT", nil, nil),
		},
		{
			name:  "single link",
			input: "FX_SPOT@CurrencyPair:EURUSD",
			want:  key.New("FX_SPOT", key.NewTarget(key.Class("CurrencyPair"), "EURUSD"), nil),
		},
		{
			name:  "chain",
			input: "PV@Portfolio:P1/Position:42",
			want:  key.New("PV", key.NewTarget(key.Class("Portfolio"), "P1").Child(key.Class("Position"), "42"), nil),
		},
		{
			name:  "properties",
			input: "FX_SPOT@CurrencyPair:EURUSD",
			props: []string{"Currency=USD", "Currency=EUR", "Source=BBG"},
			want: key.New("FX_SPOT", key.NewTarget(key.Class("CurrencyPair"), "EURUSD"), key.Properties{
				"Currency": {"EUR", "USD"},
				"Source":   {"BBG"},
			}),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseValueKey(tc.input, tc.props)
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "got %s, want %s", got, tc.want)
		})
	}
}

func TestParseValueKeyErrors(t *testing.T) {
	for _, input := range []string{"", "@CurrencyPair:EURUSD", "FX_SPOT@EURUSD", "FX_SPOT@:EURUSD"} {
		_, err := ParseValueKey(input, nil)
		assert.Error(t, err, input)
	}

	_, err := ParseValueKey("FX_SPOT", []string{"Currency"})
	assert.Error(t, err)
}
