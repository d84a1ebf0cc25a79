package ics

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "worksched/internal/log"
	"worksched/internal/model"
)

var labelToCode map[string]model.Location

func init() {
	labelToCode = make(map[string]model.Location, len(model.Locations))
	for _, l := range model.Locations {
		if !l.IsEmpty() {
			labelToCode[l.Label()] = l
		}
	}
}

// Parse reads entries back from a calendar written by Export. Events whose UID
// does not identify a user are attributed to defaultUser; events that cannot be
// mapped to a location are skipped and logged.
func Parse(r io.Reader, defaultUser int64) ([]model.ScheduleEntry, error) {
	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	var out []model.ScheduleEntry
	for _, ve := range cal.Events() {
		e, err := parseEvent(ve, defaultUser)
		if err != nil {
			appLog.Warn("ics event skipped", "uid", ve.Id(), "err", err)
			continue
		}
		out = append(out, e)
	}
	appLog.Debug("ics parse completed", "entries", len(out))
	return out, nil
}

func parseEvent(ve *ical.VEvent, defaultUser int64) (model.ScheduleEntry, error) {
	var e model.ScheduleEntry

	p := ve.GetProperty(ical.ComponentPropertyDtStart)
	if p == nil {
		return e, errors.New("missing DTSTART")
	}
	day, err := parseDate(p.Value)
	if err != nil {
		return e, err
	}
	e.WorkDate = day.Format(model.DateLayout)

	e.UserID = defaultUser
	if uid := ve.Id(); uid != "" {
		if id, ok := userFromUID(uid); ok {
			e.UserID = id
		}
	}

	if cp := ve.GetProperty(PropertyCode); cp != nil {
		e.Location = model.Location(strings.TrimSpace(cp.Value))
	} else if sp := ve.GetProperty(ical.ComponentPropertySummary); sp != nil {
		summary := strings.TrimSpace(sp.Value)
		if l, ok := labelToCode[summary]; ok {
			e.Location = l
		} else {
			e.Location = model.Location(summary)
		}
	}
	if e.Location.IsEmpty() || !e.Location.Valid() {
		return e, fmt.Errorf("unknown location %q", e.Location)
	}
	return e, nil
}

// parseDate accepts DATE and DATE-TIME forms and keeps only the calendar day.
func parseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if len(v) < 8 {
		return time.Time{}, fmt.Errorf("invalid date %q", v)
	}
	return time.Parse("20060102", v[:8])
}

func userFromUID(uid string) (int64, bool) {
	at := strings.LastIndex(uid, "@")
	if at < 0 || uid[at+1:] != uidDomain {
		return 0, false
	}
	local := uid[:at]
	dash := strings.Index(local, "-")
	if dash <= 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(local[:dash], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
