package appointment

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidSlotLabel = errors.New("invalid slot label")

// FormatError reports a slot label that is not of the form "HH:MM-HH:MM".
type FormatError struct {
	Label  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("slot label %q: %s", e.Label, e.Reason)
}

func (e *FormatError) Is(target error) bool {
	return target == ErrInvalidSlotLabel
}

// ResolveWindow returns the start and end instants of slot on date's calendar
// day, in date's location.
func ResolveWindow(date time.Time, slot string) (start, end time.Time, err error) {
	parts := strings.Split(slot, "-")
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, &FormatError{Label: slot, Reason: "expected exactly one '-' separator"}
	}

	startH, startM, err := parseClock(slot, parts[0])
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	endH, endM, err := parseClock(slot, parts[1])
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	y, m, d := date.Date()
	loc := date.Location()
	start = time.Date(y, m, d, startH, startM, 0, 0, loc)
	end = time.Date(y, m, d, endH, endM, 0, 0, loc)
	return start, end, nil
}

// ValidSlotLabel reports whether label resolves to a window.
func ValidSlotLabel(label string) bool {
	_, _, err := ResolveWindow(time.Time{}, label)
	return err == nil
}

func parseClock(label, raw string) (hour, minute int, err error) {
	raw = strings.TrimSpace(raw)
	hh, mm, ok := strings.Cut(raw, ":")
	if !ok || !twoDigits(hh) || !twoDigits(mm) {
		return 0, 0, &FormatError{Label: label, Reason: fmt.Sprintf("clock %q is not HH:MM", raw)}
	}

	hour, err = strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, &FormatError{Label: label, Reason: fmt.Sprintf("hour %q out of range", hh)}
	}
	minute, err = strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, &FormatError{Label: label, Reason: fmt.Sprintf("minute %q out of range", mm)}
	}
	return hour, minute, nil
}

func twoDigits(s string) bool {
	return len(s) == 2 && s[0] >= '0' && s[0] <= '9' && s[1] >= '0' && s[1] <= '9'
}
