// Package recurrence computes the next occurrence of a journey step.
//
// Two rules are supported. A weekday/time-of-day rule picks the soonest slot
// strictly after the previous occurrence, searching at most Horizon days
// ahead. The search starts on the day of the previous occurrence rather than
// the day after, so a step with 08:00 and 18:00 slots fires at 18:00 on the
// same day it fired at 08:00. A delay rule adds a fixed offset. Everything here is pure; callers
// choose the time zone by passing a time in the desired location.
package recurrence

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/labcompare/push-scheduler/internal/model"
)

// Horizon is how many days past the previous occurrence the slot search covers.
const Horizon = 14

// DefaultDelay applies when a step has no usable recurrence configuration.
const DefaultDelay = 10 * time.Minute

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Rule is a parsed recurrence configuration.
type Rule struct {
	Days  map[time.Weekday]bool
	Times []Clock
	Delay time.Duration
}

// HasSlots reports whether the weekday/time-of-day rule applies.
func (r Rule) HasSlots() bool {
	return len(r.Days) > 0 && len(r.Times) > 0
}

// RuleFor parses a journey step. Unparseable weekday or clock entries are
// dropped rather than rejected so that a partly bad step still recurs.
func RuleFor(step model.JourneyStep) Rule {
	r := Rule{Days: map[time.Weekday]bool{}}
	for _, raw := range step.DaysOfWeek {
		if day, err := ParseWeekday(raw); err == nil {
			r.Days[day] = true
		}
	}
	seen := map[Clock]bool{}
	for _, raw := range step.TimesOfDay {
		c, err := ParseClock(raw)
		if err != nil || seen[c] {
			continue
		}
		seen[c] = true
		r.Times = append(r.Times, c)
	}
	sort.Slice(r.Times, func(i, j int) bool {
		if r.Times[i].Hour != r.Times[j].Hour {
			return r.Times[i].Hour < r.Times[j].Hour
		}
		return r.Times[i].Minute < r.Times[j].Minute
	})
	r.Delay = DelayFor(step.Delay, step.NormalizedDelayUnit())
	return r
}

// DelayFor converts a delay and a normalized unit into a duration.
func DelayFor(delay int, unit string) time.Duration {
	if delay <= 0 {
		return DefaultDelay
	}
	switch unit {
	case model.DelayUnitHour:
		return time.Duration(delay) * time.Hour
	case model.DelayUnitDay:
		return time.Duration(delay) * 24 * time.Hour
	}
	return time.Duration(delay) * time.Minute
}

// Next returns the next occurrence of step after last.
func Next(step model.JourneyStep, last time.Time) time.Time {
	return RuleFor(step).Next(last)
}

// Next returns the earliest slot strictly after last, or last+Delay when the
// rule has no slots or none fall inside the horizon.
func (r Rule) Next(last time.Time) time.Time {
	if r.HasSlots() {
		if next, ok := r.nextSlot(last); ok {
			return next
		}
	}
	delay := r.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	return last.Add(delay)
}

func (r Rule) nextSlot(last time.Time) (time.Time, bool) {
	loc := last.Location()
	y, m, d := last.Date()
	for offset := 0; offset <= Horizon; offset++ {
		day := time.Date(y, m, d+offset, 0, 0, 0, 0, loc)
		if !r.Days[day.Weekday()] {
			continue
		}
		// Times are sorted, so the first one after last is the earliest on this day.
		for _, c := range r.Times {
			candidate := time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, loc)
			if candidate.After(last) {
				return candidate, true
			}
		}
	}
	return time.Time{}, false
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWeekday accepts short or full English day names in any case.
func ParseWeekday(raw string) (time.Weekday, error) {
	day, ok := weekdays[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return time.Sunday, fmt.Errorf("invalid weekday %q", raw)
	}
	return day, nil
}

// ParseClock parses an HH:MM time of day.
func ParseClock(raw string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return Clock{}, fmt.Errorf("invalid time of day %q (use HH:MM)", raw)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}
