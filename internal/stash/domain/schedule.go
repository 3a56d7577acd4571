package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

var errInvalidClockTime = errors.New("invalid clock time")

// ClockTime is a time of day in minutes since midnight UTC. 24:00 is only
// meaningful as a closing time.
type ClockTime int

// ParseClockTime parses "HH:MM" or "HH:MM:SS" with zero seconds, the form
// Postgres renders time columns in.
func ParseClockTime(s string) (ClockTime, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", errInvalidClockTime, s)
	}
	fields := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || len(p) != 2 || v < 0 {
			return 0, fmt.Errorf("%w: %q", errInvalidClockTime, s)
		}
		fields[i] = v
	}
	h, m := fields[0], fields[1]
	if len(fields) == 3 && fields[2] != 0 {
		return 0, fmt.Errorf("%w: %q", errInvalidClockTime, s)
	}
	if h > 24 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: %q", errInvalidClockTime, s)
	}
	return ClockTime(h*60 + m), nil
}

// MustClockTime is ParseClockTime for constants.
func MustClockTime(s string) ClockTime {
	c, err := ParseClockTime(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c ClockTime) Duration() time.Duration {
	return time.Duration(c) * time.Minute
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// OpeningHours is one weekly rule. When Closes is not after Opens the
// interval runs past midnight into the following day.
type OpeningHours struct {
	Weekday time.Weekday `json:"weekday"`
	Opens   ClockTime    `json:"opens"`
	Closes  ClockTime    `json:"closes"`
}

// Interval returns the absolute opening interval for the given UTC midnight.
func (h OpeningHours) Interval(day time.Time) (time.Time, time.Time) {
	start := day.Add(h.Opens.Duration())
	end := day.Add(h.Closes.Duration())
	if h.Closes <= h.Opens {
		end = end.Add(24 * time.Hour)
	}
	return start, end
}

func (h OpeningHours) Validate() error {
	if h.Weekday < time.Sunday || h.Weekday > time.Saturday {
		return fmt.Errorf("invalid weekday %d", h.Weekday)
	}
	if h.Opens < 0 || h.Opens >= minutesPerDay || h.Closes < 0 || h.Closes > minutesPerDay {
		return errInvalidClockTime
	}
	return nil
}

type Schedule struct {
	AlwaysOpen bool           `json:"always_open"`
	Hours      []OpeningHours `json:"hours,omitempty"`
}

// Covers reports whether a single opening interval contains the whole window,
// boundaries included. Only intervals anchored on the dropoff's UTC date or
// the day before can contain it, so windows longer than one interval are only
// covered by always-open stashpoints.
func (s Schedule) Covers(w Window) bool {
	if s.AlwaysOpen {
		return true
	}
	dropoff, pickup := w.Dropoff.UTC(), w.Pickup.UTC()
	day := time.Date(dropoff.Year(), dropoff.Month(), dropoff.Day(), 0, 0, 0, 0, time.UTC)
	for _, anchor := range [2]time.Time{day.AddDate(0, 0, -1), day} {
		for _, h := range s.Hours {
			if h.Weekday != anchor.Weekday() {
				continue
			}
			start, end := h.Interval(anchor)
			if !start.After(dropoff) && !pickup.After(end) {
				return true
			}
		}
	}
	return false
}

// Daily builds a schedule with the same hours every day of the week.
func Daily(opens, closes ClockTime) Schedule {
	hours := make([]OpeningHours, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		hours = append(hours, OpeningHours{Weekday: d, Opens: opens, Closes: closes})
	}
	return Schedule{Hours: hours}
}
