package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNeedsReset_Daily(t *testing.T) {
	tests := []struct {
		name      string
		lastReset time.Time
		now       time.Time
		want      bool
	}{
		{
			"same calendar day",
			time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
			time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC),
			false,
		},
		{
			"next calendar day shortly after midnight",
			time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC),
			time.Date(2025, 3, 11, 0, 1, 0, 0, time.UTC),
			true,
		},
		{
			"less than 24h but different date",
			time.Date(2025, 3, 10, 22, 0, 0, 0, time.UTC),
			time.Date(2025, 3, 11, 6, 0, 0, 0, time.UTC),
			true,
		},
		{
			"year boundary",
			time.Date(2024, 12, 31, 12, 0, 0, 0, time.UTC),
			time.Date(2025, 1, 1, 0, 30, 0, 0, time.UTC),
			true,
		},
		{
			"now before lastReset never resets",
			time.Date(2025, 3, 11, 8, 0, 0, 0, time.UTC),
			time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NeedsReset(DimensionTextMessage, tt.lastReset, tt.now)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNeedsReset_Weekly(t *testing.T) {
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		elapsed time.Duration
		want    bool
	}{
		{"six days is within the window", 6 * 24 * time.Hour, false},
		{"just under seven days", 7*24*time.Hour - time.Minute, false},
		{"exactly seven days", 7 * 24 * time.Hour, true},
		{"well past seven days", 10 * 24 * time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NeedsReset(DimensionAreaMessage, base, base.Add(tt.elapsed))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNeedsReset_ThirtyDay(t *testing.T) {
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	for _, dim := range []Dimension{DimensionStandardVocalize, DimensionProVocalize} {
		assert.False(t, NeedsReset(dim, base, base.Add(29*24*time.Hour)), "%s at 29 days", dim)
		assert.True(t, NeedsReset(dim, base, base.Add(30*24*time.Hour)), "%s at 30 days", dim)
	}
}

func TestNeedsReset_WeeklyIsRollingNotCalendarAligned(t *testing.T) {
	// Reset on a Wednesday; the following Monday is only 5 days later and
	// must not reset even though a calendar week boundary has passed.
	wednesday := time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC)
	monday := time.Date(2025, 3, 17, 9, 0, 0, 0, time.UTC)

	assert.False(t, NeedsReset(DimensionAreaMessage, wednesday, monday))
}

func TestNextReset(t *testing.T) {
	lastReset := time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC)

	assert.Equal(t,
		time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC),
		NextReset(DimensionTextMessage, lastReset))
	assert.Equal(t,
		lastReset.Add(7*24*time.Hour),
		NextReset(DimensionAreaMessage, lastReset))
	assert.Equal(t,
		lastReset.Add(30*24*time.Hour),
		NextReset(DimensionStandardVocalize, lastReset))
}
