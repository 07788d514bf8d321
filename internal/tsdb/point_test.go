package tsdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceIterator struct {
	rows []map[string]any
	i    int
}

func (s *sliceIterator) Next() bool {
	if s.i >= len(s.rows) {
		return false
	}
	s.i++
	return true
}

func (s *sliceIterator) Value() map[string]any { return s.rows[s.i-1] }

func TestToInfluxPointValidation(t *testing.T) {
	now := time.Now()
	_, err := toInfluxPoint(Point{Fields: map[string]any{"value": 1.0}}, now)
	assert.Error(t, err)

	_, err = toInfluxPoint(Point{Measurement: "status"}, now)
	assert.Error(t, err)

	p, err := toInfluxPoint(Point{
		Measurement: "cycleTime",
		Tags:        map[string]string{"machine": "M1"},
		Fields:      map[string]any{"value": 12.5},
	}, now)
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestFieldValueKeepsNativeTypes(t *testing.T) {
	assert.Equal(t, 1.5, fieldValue(1.5))
	assert.Equal(t, float64(float32(0.25)), fieldValue(float32(0.25)))
	assert.Equal(t, int64(7), fieldValue(7))
	assert.Equal(t, true, fieldValue(true))
	assert.Equal(t, "Alarm", fieldValue("Alarm"))
	assert.Equal(t, "2025-01-01T00:00:00Z", fieldValue(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestCollectRowsSplitsTagsAndFields(t *testing.T) {
	ts := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	it := &sliceIterator{rows: []map[string]any{
		{"time": ts, "location": "italy", "machine": "M1", "value": 12.5, "shift": "B"},
		{"time": ts.UnixNano(), "location": "italy", "machine": "M2", "value": 3.0},
	}}

	rows, err := collectRows(it, "cycleTime", map[string]bool{"shift": true})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "cycleTime", rows[0].Measurement)
	assert.Equal(t, ts, rows[0].Time)
	assert.Equal(t, map[string]any{"location": "italy", "machine": "M1", "shift": "B"}, rows[0].Tags)
	assert.Equal(t, map[string]any{"value": 12.5}, rows[0].Fields)
	assert.Equal(t, ts, rows[1].Time)
}

func TestParseTime(t *testing.T) {
	ts := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, ts, parseTime(ts.Format(time.RFC3339Nano)))
	assert.Equal(t, ts, parseTime("1741064767000000000"))
	assert.True(t, parseTime(struct{}{}).IsZero())
}
