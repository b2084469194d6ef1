package domain

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ClockLayout is the zero-padded 24h time-of-day format used for time and
// next_run. Two values in this layout compare correctly as strings.
const ClockLayout = "15:04"

func Clock(t time.Time) string {
	return t.Format(ClockLayout)
}

// Advance anchors hhmm on the date of day and adds one recurrence increment:
// 1 day, 7 days or an approximate 30-day month. A non-recurring schedule
// returns the anchor itself.
func Advance(rec Recurrence, hhmm string, day time.Time) (time.Time, error) {
	clock, err := time.Parse(ClockLayout, hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", hhmm, err)
	}
	anchor := time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, day.Location())

	switch rec {
	case RecurrenceDaily:
		return nextCron(fmt.Sprintf("%d %d * * *", clock.Minute(), clock.Hour()), anchor)
	case RecurrenceWeekly:
		return nextCron(fmt.Sprintf("%d %d * * %d", clock.Minute(), clock.Hour(), int(anchor.Weekday())), anchor)
	case RecurrenceMonthly:
		return anchor.AddDate(0, 0, 30), nil
	case "", RecurrenceNone:
		return anchor, nil
	}
	return time.Time{}, fmt.Errorf("unknown recurrence %q", rec)
}

func nextCron(expr string, from time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}

// NextFireInstant is the earliest instant a record spawned by recurrence may
// fire again: its series' last fired date advanced by one increment. ok is
// false for records that never fired as part of a series.
func NextFireInstant(s Schedule, loc *time.Location) (next time.Time, ok bool, err error) {
	if s.LastFiredDate == "" {
		return time.Time{}, false, nil
	}
	day, err := time.ParseInLocation(DateLayout, s.LastFiredDate, loc)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last_fired_date %q: %w", s.LastFiredDate, err)
	}
	next, err = Advance(s.Recurring, s.RunAt(), day)
	if err != nil {
		return time.Time{}, false, err
	}
	return next, true, nil
}
