package schedule

import (
	"fmt"
	"strings"
)

const (
	colorWeekday    = "black"
	colorSunday     = "red"
	colorSaturday   = "blue"
	bgWeekday       = "#ffffff"
	bgSunday        = "#fdd"
	bgSaturday      = "#ddf"
	bgEmptyDayOff   = "#d9d9d9"
	bgTransparent   = "transparent"
	cursorPointer   = "pointer"
	cursorForbidden = "not-allowed"
	lockedOpacity   = 0.6
)

// Style is the presentation descriptor of a header or grid cell.
type Style struct {
	Color      string
	Background string
	Cursor     string
	// Opacity is 1 unless the cell is locked.
	Opacity float64
	Locked  bool
}

// CSS renders s as an inline style attribute value.
func (s Style) CSS() string {
	var parts []string
	if s.Color != "" {
		parts = append(parts, "color: "+s.Color)
	}
	if s.Background != "" {
		parts = append(parts, "background-color: "+s.Background)
	}
	if s.Cursor != "" {
		parts = append(parts, "cursor: "+s.Cursor)
	}
	if s.Opacity > 0 && s.Opacity < 1 {
		parts = append(parts, fmt.Sprintf("opacity: %g", s.Opacity))
	}
	return strings.Join(parts, "; ")
}
