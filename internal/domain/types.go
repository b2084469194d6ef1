package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindMessage Kind = "message"
	KindPoll    Kind = "poll"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Recurrence string

const (
	RecurrenceNone    Recurrence = "none"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
)

// IsNone reports whether r spawns no further occurrences. Absent and null
// values in the file decode to "".
func (r Recurrence) IsNone() bool {
	return r == "" || r == RecurrenceNone
}

// Schedule is one persisted record of the schedule file.
type Schedule struct {
	ID        string     `json:"id,omitempty"`
	Kind      Kind       `json:"type" validate:"required,oneof=message poll"`
	Contact   string     `json:"contact" validate:"required"`
	Message   string     `json:"message,omitempty" validate:"required_if=Kind message"`
	Question  string     `json:"question,omitempty" validate:"required_if=Kind poll"`
	Options   []string   `json:"options,omitempty" validate:"required_if=Kind poll,unique,dive,required"`
	Time      string     `json:"time" validate:"required,len=5,datetime=15:04"`
	Recurring Recurrence `json:"recurring,omitempty" validate:"omitempty,oneof=none daily weekly monthly"`

	Status    Status     `json:"status"`
	NextRun   string     `json:"next_run"`
	LastRun   *Timestamp `json:"last_run"`
	Attempts  int        `json:"attempts"`
	CreatedAt Timestamp  `json:"created_at"`

	// LastFiredDate is the local date (YYYY-MM-DD) on which the recurring
	// series this record belongs to last fired. Only records spawned by
	// recurrence expansion carry it.
	LastFiredDate string `json:"last_fired_date,omitempty"`
}

const DateLayout = "2006-01-02"

func NewID() string {
	return "sch_" + uuid.NewString()
}

// NewMessage builds a pending message schedule. It is not validated.
func NewMessage(contact, message, hhmm string, rec Recurrence, now time.Time) Schedule {
	return Schedule{
		ID:        NewID(),
		Kind:      KindMessage,
		Contact:   strings.TrimSpace(contact),
		Message:   message,
		Time:      strings.TrimSpace(hhmm),
		Recurring: rec,
		Status:    StatusPending,
		NextRun:   strings.TrimSpace(hhmm),
		CreatedAt: Timestamp{now},
	}
}

// NewPoll builds a pending poll schedule. It is not validated.
func NewPoll(contact, question string, options []string, hhmm string, rec Recurrence, now time.Time) Schedule {
	return Schedule{
		ID:        NewID(),
		Kind:      KindPoll,
		Contact:   strings.TrimSpace(contact),
		Question:  question,
		Options:   options,
		Time:      strings.TrimSpace(hhmm),
		Recurring: rec,
		Status:    StatusPending,
		NextRun:   strings.TrimSpace(hhmm),
		CreatedAt: Timestamp{now},
	}
}

// SplitOptions parses a comma separated option list, trimming each entry and
// dropping empty ones.
func SplitOptions(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if o := strings.TrimSpace(p); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Clone returns a deep copy of s.
func (s Schedule) Clone() Schedule {
	c := s
	if s.Options != nil {
		c.Options = append([]string(nil), s.Options...)
	}
	if s.LastRun != nil {
		lr := *s.LastRun
		c.LastRun = &lr
	}
	return c
}

// RunAt returns NextRun, falling back to Time for records that predate it.
func (s Schedule) RunAt() string {
	if s.NextRun != "" {
		return s.NextRun
	}
	return s.Time
}
