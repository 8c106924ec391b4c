package scheduler

import (
	"fmt"
	"time"

	"quorum/internal/config"
)

// Window is the daily trading session: open to close, minus the lunch
// break, weekdays only, evaluated in the market's timezone.
type Window struct {
	loc        *time.Location
	open       int // minutes since midnight
	close      int
	lunchStart int
	lunchEnd   int
}

func ParseWindow(tc config.TradingConfig) (Window, error) {
	loc, err := time.LoadLocation(tc.Timezone)
	if err != nil {
		return Window{}, fmt.Errorf("trading timezone %q: %w", tc.Timezone, err)
	}
	w := Window{loc: loc}
	for _, f := range []struct {
		val string
		dst *int
	}{
		{tc.MarketOpen, &w.open},
		{tc.MarketClose, &w.close},
		{tc.LunchStart, &w.lunchStart},
		{tc.LunchEnd, &w.lunchEnd},
	} {
		m, err := minutesOfDay(f.val)
		if err != nil {
			return Window{}, err
		}
		*f.dst = m
	}
	return w, nil
}

// Contains reports whether t falls inside the trading session.
func (w Window) Contains(t time.Time) bool {
	t = t.In(w.loc)
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	m := t.Hour()*60 + t.Minute()
	if m < w.open || m >= w.close {
		return false
	}
	if w.lunchEnd > w.lunchStart && m >= w.lunchStart && m < w.lunchEnd {
		return false
	}
	return true
}

// Location returns the market timezone, for cron scheduling.
func (w Window) Location() *time.Location {
	return w.loc
}

func minutesOfDay(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("time of day %q: %w", hhmm, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
