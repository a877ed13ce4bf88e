package scheduler

import (
	"fmt"
	"time"

	"github.com/italolelis/sgx_downloader/internal/transfer"
)

// TimeOfDay is a 24-hour wall clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" in 24-hour format.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, &transfer.ValidationError{Field: "schedule time", Value: s, Reason: "expected HH:MM (24-hour)"}
	}

	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On returns the instant t falls on for the calendar day of day, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()

	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, day.Location())
}

// UnmarshalText lets envconfig and yaml decode "HH:MM" directly.
func (t *TimeOfDay) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeOfDay(string(text))
	if err != nil {
		return err
	}

	*t = parsed

	return nil
}
