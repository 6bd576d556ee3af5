package parking

import (
	"strconv"
	"strings"
)

// Occupancy statuses.
const (
	StatusFull     = "Sin cupos disponibles"
	StatusFew      = "Pocos cupos disponibles"
	StatusModerate = "Disponibilidad moderada"
	StatusGood     = "Buena disponibilidad"
	StatusSome     = "Cupos disponibles"
)

// ParseSpots reads the leading integer of a spot value such as "5", "10-15"
// or "20+". ok is false when the value does not start with a digit.
func ParseSpots(s string) (n int, ok bool) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// HasSpots reports whether a spot value means the lot has room. Free text
// that is not a number counts as room.
func HasSpots(s string) bool {
	n, ok := ParseSpots(s)
	return !ok || n > 0
}

// InferStatus describes the occupancy implied by a spot value.
func InferStatus(s string) string {
	n, ok := ParseSpots(s)
	switch {
	case !ok:
		return StatusSome
	case n == 0:
		return StatusFull
	case n <= 3:
		return StatusFew
	case n <= 10:
		return StatusModerate
	default:
		return StatusGood
	}
}
