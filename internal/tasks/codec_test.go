package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestPayloadRoundTrip(t *testing.T) {
	in := map[string]any{
		"symbols":       []string{"AAPL", "MSFT"},
		"lookback_days": 7,
		"threshold":     0.35,
		"strategy":      "sma_crossover",
	}

	blob, err := EncodePayload(in)
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	out, err := DecodePayload(blob)
	require.NoError(t, err)

	symbols, ok := PayloadStrings(out, "symbols")
	require.True(t, ok)
	assert.Equal(t, []string{"AAPL", "MSFT"}, symbols)

	days, ok := PayloadFloat(out, "lookback_days")
	require.True(t, ok)
	assert.Equal(t, 7.0, days)

	threshold, ok := PayloadFloat(out, "threshold")
	require.True(t, ok)
	assert.InDelta(t, 0.35, threshold, 1e-9)

	strategy, ok := PayloadString(out, "strategy")
	require.True(t, ok)
	assert.Equal(t, "sma_crossover", strategy)
}

func TestNilPayloadEncodesToNil(t *testing.T) {
	blob, err := EncodePayload(nil)
	require.NoError(t, err)
	assert.Nil(t, blob)

	out, err := DecodePayload(nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestDecodeRejectsNewerVersion(t *testing.T) {
	blob, err := msgpack.Marshal(payloadEnvelope{
		Version: payloadVersion + 1,
		Data:    map[string]any{"k": "v"},
	})
	require.NoError(t, err)

	_, err = DecodePayload(blob)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestPayloadHelpersRejectWrongShapes(t *testing.T) {
	data := map[string]any{
		"mixed":  []any{"a", 1},
		"number": 3,
		"text":   "hello",
	}

	_, ok := PayloadStrings(data, "mixed")
	assert.False(t, ok, "a mixed slice is not a string slice")
	_, ok = PayloadStrings(data, "missing")
	assert.False(t, ok)

	_, ok = PayloadString(data, "number")
	assert.False(t, ok)

	_, ok = PayloadFloat(data, "text")
	assert.False(t, ok)
}
