package domain

import "time"

// Due returns, in original order, the pending records whose next_run is at
// or before now's time of day. Records spawned by recurrence must also have
// reached their next fire instant, so a series fires once per increment
// rather than again on the day it already fired.
func Due(schedules []Schedule, now time.Time) []Schedule {
	clock := Clock(now)
	var due []Schedule
	for _, s := range schedules {
		if s.Status != StatusPending {
			continue
		}
		at := s.RunAt()
		if at == "" || at > clock {
			continue
		}
		next, ok, err := NextFireInstant(s, now.Location())
		if err == nil && ok && next.After(now) {
			continue
		}
		due = append(due, s)
	}
	return due
}
