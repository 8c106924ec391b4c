package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quorum/internal/config"
)

func shanghaiWindow(t *testing.T) Window {
	t.Helper()
	w, err := ParseWindow(config.TradingConfig{
		MarketOpen:  "09:30",
		MarketClose: "15:00",
		LunchStart:  "11:30",
		LunchEnd:    "13:00",
		Timezone:    "Asia/Shanghai",
	})
	require.NoError(t, err)
	return w
}

func at(t *testing.T, loc *time.Location, weekday time.Weekday, hhmm string) time.Time {
	t.Helper()
	// 2026-08-17 is a Monday.
	base := time.Date(2026, 8, 17, 0, 0, 0, 0, loc)
	base = base.AddDate(0, 0, int(weekday-time.Monday))
	clock, err := time.Parse("15:04", hhmm)
	require.NoError(t, err)
	return base.Add(time.Duration(clock.Hour())*time.Hour + time.Duration(clock.Minute())*time.Minute)
}

func TestWindowContains(t *testing.T) {
	w := shanghaiWindow(t)
	loc := w.Location()

	cases := []struct {
		name    string
		weekday time.Weekday
		hhmm    string
		want    bool
	}{
		{"before open", time.Monday, "09:15", false},
		{"at open", time.Monday, "09:30", true},
		{"morning session", time.Tuesday, "10:45", true},
		{"lunch start", time.Wednesday, "11:30", false},
		{"mid lunch", time.Wednesday, "12:15", false},
		{"lunch end", time.Wednesday, "13:00", true},
		{"afternoon session", time.Thursday, "14:59", true},
		{"at close", time.Friday, "15:00", false},
		{"saturday", time.Saturday, "10:00", false},
		{"sunday", time.Sunday, "10:00", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, w.Contains(at(t, loc, tc.weekday, tc.hhmm)))
		})
	}
}

func TestWindowContainsConvertsTimezone(t *testing.T) {
	w := shanghaiWindow(t)
	// 02:00 UTC on a Monday is 10:00 in Shanghai: inside the session.
	utc := time.Date(2026, 8, 17, 2, 0, 0, 0, time.UTC)
	require.True(t, w.Contains(utc))
	// 08:00 UTC is 16:00 in Shanghai: after close.
	require.False(t, w.Contains(utc.Add(6*time.Hour)))
}

func TestParseWindowRejectsBadInput(t *testing.T) {
	_, err := ParseWindow(config.TradingConfig{
		MarketOpen: "930", MarketClose: "15:00",
		LunchStart: "11:30", LunchEnd: "13:00", Timezone: "Asia/Shanghai",
	})
	require.Error(t, err)

	_, err = ParseWindow(config.TradingConfig{
		MarketOpen: "09:30", MarketClose: "15:00",
		LunchStart: "11:30", LunchEnd: "13:00", Timezone: "Mars/Olympus",
	})
	require.Error(t, err)
}
