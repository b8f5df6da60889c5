package progress

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		kind Kind
		want string
	}{
		{"string", "hello", KindString, "hello"},
		{"int", 42, KindInt, "42"},
		{"uint8", uint8(7), KindInt, "7"},
		{"float", 0.25, KindFloat, "0.25"},
		{"nan float", math.NaN(), KindFloat, "0"},
		{"inf float32", float32(math.Inf(-1)), KindFloat, "0"},
		{"bool", true, KindBool, "true"},
		{"duration", 1500 * time.Millisecond, KindInt, "1500"},
		{"error", errors.New("boom"), KindString, "boom"},
		{"nested map", map[string]int{"a": 1}, KindString, "map[a:1]"},
		{"slice", []int{1, 2}, KindString, "[1 2]"},
		{"nil", nil, KindString, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Coerce(tt.in)
			assert.Equal(t, tt.kind, v.Kind())
			assert.Equal(t, tt.want, v.String())
		})
	}
}

func TestEvent_FlatJSON(t *testing.T) {
	ev := Event{
		RunID:     "run-1",
		ReceiptID: "rcpt-9",
		Sequence:  3,
		Stage:     "analyzing",
		Message:   "noise analysis complete",
		Progress:  45,
		Details: DetailsFrom(map[string]interface{}{
			"detector":  "noise_analysis",
			"regions":   2,
			"signal":    0.5,
			"degraded":  false,
			"breakdown": map[string]float64{"a": 1},
		}),
		Timestamp: time.Date(2025, 1, 2, 3, 4, 5, 6e6, time.UTC),
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var flat map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &flat))
	for key, v := range flat {
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			t.Fatalf("field %s is nested: %v", key, v)
		}
	}
	assert.Equal(t, "analyzing", flat["stage"])
	assert.Equal(t, "noise_analysis", flat["detail_detector"])
	assert.Equal(t, "map[a:1]", flat["detail_breakdown"])
	assert.Equal(t, "2025-01-02T03:04:05.006Z", flat["timestamp"])

	var back Event
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ev.RunID, back.RunID)
	assert.Equal(t, ev.Sequence, back.Sequence)
	assert.Equal(t, ev.Progress, back.Progress)
	assert.True(t, ev.Timestamp.Equal(back.Timestamp))
	assert.Equal(t, KindInt, back.Details["regions"].Kind())
	assert.Equal(t, KindFloat, back.Details["signal"].Kind())
	assert.Equal(t, KindBool, back.Details["degraded"].Kind())
}

func TestEvent_UnmarshalRejectsNestedDetail(t *testing.T) {
	var ev Event
	err := json.Unmarshal([]byte(`{"stage":"x","detail_bad":{"a":1}}`), &ev)
	assert.Error(t, err)
}

func TestDetails_With(t *testing.T) {
	base := Details{"a": Int(1)}
	next := base.With("b", "two")
	assert.Len(t, base, 1)
	assert.Equal(t, "two", next["b"].String())
}
