package history

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordUnmarshal_AnalysisDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{`"2025-06-01T12:00:00"`, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		{`"2025-06-01T12:00:00.250000"`, time.Date(2025, 6, 1, 12, 0, 0, 250000000, time.UTC)},
		{`"2025-06-01T14:00:00+02:00"`, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		var r Record
		require.NoError(t, json.Unmarshal([]byte(`{"id":"a","check_id":7,"analysis_date":`+tt.in+`}`), &r))
		assert.True(t, tt.want.Equal(r.AnalysisDate), tt.in)
		assert.Equal(t, 7, r.CheckID)
	}

	var r Record
	assert.Error(t, json.Unmarshal([]byte(`{"analysis_date":"yesterday"}`), &r))
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("all")
	require.NoError(t, err)
	assert.Empty(t, s)

	s, err = ParseStatus("failed")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, s)

	_, err = ParseStatus("done")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestHitRate(t *testing.T) {
	assert.Zero(t, CacheStats{}.HitRate())
	assert.InDelta(t, 50.0, CacheStats{Completed: 4, CachedValid: 2}.HitRate(), 0.001)
}
