package estimator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRejectionLogKeepsNewest(t *testing.T) {
	l := NewRejectionLog(3)
	for ts := int64(1); ts <= 5; ts++ {
		l.Add(Rejection{Timestamp: ts})
	}
	got := l.Events()
	require.Len(t, got, 3)
	assert.Equal(t, int64(3), got[0].Timestamp)
	assert.Equal(t, int64(5), got[2].Timestamp)
	assert.Equal(t, uint64(5), l.Total())
}

func TestRejectionLogPartial(t *testing.T) {
	l := NewRejectionLog(4)
	l.Add(Rejection{Timestamp: 9})
	assert.Len(t, l.Events(), 1)
}

func TestRejectionJSONUsesNames(t *testing.T) {
	b, err := json.Marshal(Rejection{Kind: ObservationMagHeading, Reason: RejectInclination})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"kind":"mag_heading"`)
	assert.Contains(t, string(b), `"reason":"inclination"`)
}

func TestSnapshotJSON(t *testing.T) {
	f := NewFilter(DefaultConfig(), nil)
	b, err := json.Marshal(f.Snapshot())
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))
	for _, k := range []string{"seq", "t", "orientation", "pose", "velocity", "position", "position_sigma", "calibrated", "stats"} {
		assert.Contains(t, m, k)
	}
	assert.NotContains(t, m, "State")
	assert.Equal(t, 1.0, m["orientation"].(map[string]interface{})["w"])
}
