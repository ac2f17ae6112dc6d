package timeframe_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitly/internal/timeframe"
)

var now = time.Date(2026, 3, 15, 16, 45, 12, 0, time.UTC)

func TestParsePresets(t *testing.T) {
	tests := []struct {
		label string
		start time.Time
		end   time.Time
		days  int
	}{
		{
			label: "today",
			start: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC),
			days:  1,
		},
		{
			label: "last_7_days",
			start: time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC),
			days:  7,
		},
		{
			label: "last_30_days",
			start: time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC),
			days:  30,
		},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			r, err := timeframe.Parse(tt.label, "", "", now)
			require.NoError(t, err)
			assert.Equal(t, tt.start, r.Start)
			assert.Equal(t, tt.end, r.End)
			assert.Equal(t, tt.days, r.Days())
		})
	}
}

func TestParseCustomRange(t *testing.T) {
	r, err := timeframe.Parse("", "2026-01-10", "2026-01-12", now)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), r.Start)
	// endDate is inclusive, so the window reaches the start of Jan 13
	assert.Equal(t, time.Date(2026, 1, 13, 0, 0, 0, 0, time.UTC), r.End)
	assert.Equal(t, timeframe.RangeLabelCustom, r.Label)
	assert.Equal(t, 3, r.Days())
}

func TestParseDefaultsToLast7Days(t *testing.T) {
	r, err := timeframe.Parse("", "", "", now)
	require.NoError(t, err)
	assert.Equal(t, timeframe.RangeLabelLast7Days, r.Label)
	assert.Equal(t, 7, r.Days())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name      string
		label     string
		startDate string
		endDate   string
	}{
		{"unknown label", "last_90_days", "", ""},
		{"missing end date", "", "2026-01-10", ""},
		{"missing start date", "", "", "2026-01-12"},
		{"bad start date", "", "01/10/2026", "2026-01-12"},
		{"end before start", "", "2026-01-12", "2026-01-10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := timeframe.Parse(tt.label, tt.startDate, tt.endDate, now)
			assert.Error(t, err)
		})
	}
}

func TestRangeContains(t *testing.T) {
	r, err := timeframe.Parse("today", "", "", now)
	require.NoError(t, err)

	assert.True(t, r.Contains(now))
	assert.True(t, r.Contains(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)))
	assert.False(t, r.Contains(time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)), "end is exclusive")
	assert.False(t, r.Contains(time.Date(2026, 3, 14, 23, 59, 59, 0, time.UTC)))
}
