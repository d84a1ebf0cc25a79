// Package ics converts schedule entries to and from iCalendar documents and
// expands recurrence rules over a month.
package ics

import (
	"fmt"
	"sort"
	"time"

	ical "github.com/arran4/golang-ical"

	"worksched/internal/model"
)

// PropertyCode carries the raw location code next to the human readable SUMMARY.
const PropertyCode ical.ComponentProperty = "X-WORKSCHED-LOCATION"

const uidDomain = "worksched"

// ExportOptions describes the calendar being written.
type ExportOptions struct {
	Name string
	// Users resolves user names for DESCRIPTION. Optional.
	Users map[int64]string
	// Now stamps DTSTAMP; zero means time.Now.
	Now time.Time
}

// UID returns the stable event identifier of an entry.
func UID(userID int64, date string) string {
	return fmt.Sprintf("%d-%s@%s", userID, date, uidDomain)
}

// Export renders entries as one all-day VEVENT each. Empty entries are skipped.
func Export(entries []model.ScheduleEntry, opts ExportOptions) (string, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//worksched//schedule export//EN")
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}

	sorted := make([]model.ScheduleEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].WorkDate != sorted[j].WorkDate {
			return sorted[i].WorkDate < sorted[j].WorkDate
		}
		return sorted[i].UserID < sorted[j].UserID
	})

	for _, e := range sorted {
		if e.Location.IsEmpty() {
			continue
		}
		day, err := time.Parse(model.DateLayout, e.WorkDate)
		if err != nil {
			return "", fmt.Errorf("entry %d/%s: %w", e.UserID, e.WorkDate, err)
		}
		ev := cal.AddEvent(UID(e.UserID, e.WorkDate))
		ev.SetDtStampTime(now.UTC())
		ev.SetAllDayStartAt(day)
		ev.SetAllDayEndAt(day.AddDate(0, 0, 1))
		ev.SetSummary(e.Location.Label())
		ev.SetProperty(PropertyCode, string(e.Location))
		if name, ok := opts.Users[e.UserID]; ok {
			ev.SetDescription(name)
		}
	}
	return cal.Serialize(), nil
}
