package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"worksched/internal/model"
)

// ExpandPattern returns the days of ym (1-based, ascending) matched by rule, a
// recurrence rule such as "FREQ=WEEKLY;BYDAY=MO,WE". The rule starts on the first
// of the month unless it carries its own DTSTART. Days listed in skip are excluded.
func ExpandPattern(rule string, ym model.YearMonth, skip model.HolidayMap) ([]int, error) {
	rule = strings.TrimSpace(rule)
	rule = strings.TrimPrefix(rule, "RRULE:")
	if rule == "" {
		return nil, errors.New("empty recurrence rule")
	}

	first := time.Date(ym.Year, ym.Month, 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(ym.Year, ym.Month, ym.Days(), 0, 0, 0, 0, time.UTC)

	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil, fmt.Errorf("parse rule %q: %w", rule, err)
	}
	if !strings.Contains(strings.ToUpper(rule), "DTSTART") {
		r.DTStart(first)
	}

	var set rrule.Set
	set.RRule(r)
	for date := range skip {
		if !ym.Contains(date) {
			continue
		}
		if t, err := time.Parse(model.DateLayout, date); err == nil {
			set.ExDate(t)
		}
	}

	var days []int
	for _, t := range set.Between(first, last, true) {
		t = t.UTC()
		if t.Year() != ym.Year || t.Month() != ym.Month {
			continue
		}
		if n := len(days); n > 0 && days[n-1] == t.Day() {
			continue
		}
		days = append(days, t.Day())
	}
	return days, nil
}
