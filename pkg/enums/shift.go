package enums

import (
	"fmt"
	"strings"
)

// Shift identifies the production shift a usage record was booked under.
type Shift string

const (
	ShiftA       Shift = "A"
	ShiftB       Shift = "B"
	ShiftC       Shift = "C"
	ShiftGeneral Shift = "G"
)

var validShifts = []Shift{
	ShiftA,
	ShiftB,
	ShiftC,
	ShiftGeneral,
}

// String implements fmt.Stringer.
func (s Shift) String() string {
	return string(s)
}

// IsValid reports whether the value is a known Shift.
func (s Shift) IsValid() bool {
	for _, candidate := range validShifts {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseShift converts raw input into a Shift. "general" is accepted as an
// alias for G since the shop floor spells it both ways.
func ParseShift(value string) (Shift, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	if normalized == "GENERAL" {
		return ShiftGeneral, nil
	}
	for _, candidate := range validShifts {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid shift %q", value)
}
