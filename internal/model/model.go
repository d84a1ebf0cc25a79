package model

import (
	"fmt"
	"time"
)

// Location is a single-character work location code. The zero value and
// LocationEmpty both mean "no entry".
type Location string

const (
	LocationEmpty      Location = "-"
	LocationHeadOffice Location = "本"
	LocationAkasaka    Location = "赤"
	LocationBranch     Location = "分"
	LocationTokyo      Location = "東"
	LocationRemote     Location = "在"
	LocationLeave      Location = "休"
	LocationClient     Location = "客"
	LocationOther      Location = "そ"
	LocationOsaka      Location = "大"
	LocationOkinawa    Location = "沖"
	LocationHakata     Location = "博"
)

// Locations is the toggle order. Toggling past the last code wraps to empty.
var Locations = []Location{
	LocationEmpty,
	LocationHeadOffice,
	LocationAkasaka,
	LocationBranch,
	LocationTokyo,
	LocationRemote,
	LocationLeave,
	LocationClient,
	LocationOther,
	LocationOsaka,
	LocationOkinawa,
	LocationHakata,
}

// LocationColors maps each non-empty code to its cell background.
var LocationColors = map[Location]string{
	LocationHeadOffice: "#ffffff",
	LocationAkasaka:    "#c6e0b4",
	LocationBranch:     "#c65911",
	LocationTokyo:      "#ffe699",
	LocationRemote:     "#00b050",
	LocationLeave:      "#ff0000",
	LocationClient:     "#ccccff",
	LocationOther:      "#ff00ff",
	LocationOsaka:      "#bdd7ee",
	LocationOkinawa:    "#7030a0",
	LocationHakata:     "#f3e5f5",
}

var locationLabels = map[Location]string{
	LocationHeadOffice: "Head office",
	LocationAkasaka:    "Akasaka office",
	LocationBranch:     "Branch office",
	LocationTokyo:      "Tokyo office",
	LocationRemote:     "Remote",
	LocationLeave:      "Leave",
	LocationClient:     "Client site",
	LocationOther:      "Other",
	LocationOsaka:      "Osaka office",
	LocationOkinawa:    "Okinawa office",
	LocationHakata:     "Hakata office",
}

// IsEmpty reports whether l represents an unset cell.
func (l Location) IsEmpty() bool {
	return l == "" || l == LocationEmpty
}

// Valid reports whether l is one of the known codes (empty included).
func (l Location) Valid() bool {
	if l == "" {
		return true
	}
	for _, c := range Locations {
		if c == l {
			return true
		}
	}
	return false
}

// Next returns the code that follows l in the toggle order. The zero value
// counts as empty; any other unknown code clears the cell.
func (l Location) Next() Location {
	if l == "" {
		l = LocationEmpty
	}
	for i, c := range Locations {
		if c == l {
			return Locations[(i+1)%len(Locations)]
		}
	}
	return LocationEmpty
}

// Label is a human readable name, used by exports.
func (l Location) Label() string {
	if s, ok := locationLabels[l]; ok {
		return s
	}
	return string(l)
}

// AllowanceStatus is the per-user commuting allowance flag.
type AllowanceStatus string

const (
	AllowanceNone      AllowanceStatus = ""
	AllowanceApplied   AllowanceStatus = "申請"
	AllowanceSuspended AllowanceStatus = "停止"
	AllowanceNotNeeded AllowanceStatus = "不要"
)

// Valid reports whether s is an accepted allowance value.
func (s AllowanceStatus) Valid() bool {
	switch s {
	case AllowanceNone, AllowanceApplied, AllowanceSuspended, AllowanceNotNeeded:
		return true
	}
	return false
}

// User is an employee as returned by the backend.
type User struct {
	ID                 int64           `json:"id"`
	EmployeeNumber     string          `json:"employee_number,omitempty"`
	Name               string          `json:"name"`
	Email              string          `json:"email,omitempty"`
	CommutingAllowance AllowanceStatus `json:"commuting_allowance"`
	IsDefaultPassword  bool            `json:"is_default_password,omitempty"`
}

// ScheduleEntry is one (user, day) location record.
type ScheduleEntry struct {
	UserID   int64    `json:"user_id"`
	WorkDate string   `json:"work_date"`
	Location Location `json:"location"`
}

// HolidayMap maps YYYY-MM-DD to the holiday name for a single year.
type HolidayMap map[string]string

// IsHoliday reports whether date is listed.
func (h HolidayMap) IsHoliday(date string) bool {
	_, ok := h[date]
	return ok
}

const DateLayout = "2006-01-02"

// YearMonth identifies a calendar month.
type YearMonth struct {
	Year  int
	Month time.Month
}

// NewYearMonth normalises month overflow (13 -> January of next year, 0 -> December
// of previous year).
func NewYearMonth(year int, month int) YearMonth {
	t := time.Date(year, time.Month(month), 1, 12, 0, 0, 0, time.UTC)
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

// ParseYearMonth parses "YYYY-MM".
func ParseYearMonth(s string) (YearMonth, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return YearMonth{}, fmt.Errorf("invalid month %q: %w", s, err)
	}
	return YearMonth{Year: t.Year(), Month: t.Month()}, nil
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}

// Days returns the number of days in the month.
func (ym YearMonth) Days() int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(ym.Year, ym.Month+1, 0, 12, 0, 0, 0, time.UTC).Day()
}

// Date formats day of this month as YYYY-MM-DD.
func (ym YearMonth) Date(day int) string {
	return fmt.Sprintf("%04d-%02d-%02d", ym.Year, int(ym.Month), day)
}

// Time returns noon UTC of day, which keeps weekday math stable across zones.
func (ym YearMonth) Time(day int) time.Time {
	return time.Date(ym.Year, ym.Month, day, 12, 0, 0, 0, time.UTC)
}

// Contains reports whether date (YYYY-MM-DD) falls in this month.
func (ym YearMonth) Contains(date string) bool {
	prefix := ym.String() + "-"
	return len(date) == len(DateLayout) && date[:len(prefix)] == prefix
}
