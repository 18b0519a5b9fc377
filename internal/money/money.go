// Package money represents currency amounts as int64 minor units to keep
// ledger arithmetic exact.
package money

import (
	"fmt"
	"strings"
)

// Parse converts a decimal string like "1500", "1500.50" or "1500,5" into
// minor units. At most two fractional digits are accepted. The sign is
// preserved; callers that need a positive amount check the result.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("money: empty amount")
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if s == "" {
		return 0, fmt.Errorf("money: missing digits")
	}

	// Accept both comma and dot as the decimal separator.
	s = strings.ReplaceAll(s, ",", ".")

	whole := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
		if frac == "" || len(frac) > 2 {
			return 0, fmt.Errorf("money: invalid fraction in %q", s)
		}
	}
	if whole == "" {
		return 0, fmt.Errorf("money: missing whole part in %q", s)
	}

	var units int64
	for _, r := range whole {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("money: invalid amount %q", s)
		}
		units = units*10 + int64(r-'0')
		if units > 1<<52 {
			return 0, fmt.Errorf("money: amount %q out of range", s)
		}
	}
	units *= 100

	if frac != "" {
		var f int64
		for _, r := range frac {
			if r < '0' || r > '9' {
				return 0, fmt.Errorf("money: invalid amount %q", s)
			}
			f = f*10 + int64(r-'0')
		}
		if len(frac) == 1 {
			f *= 10
		}
		units += f
	}

	if neg {
		units = -units
	}
	return units, nil
}

// Format renders minor units back as a two-decimal string.
func Format(units int64) string {
	sign := ""
	if units < 0 {
		sign = "-"
		units = -units
	}
	return fmt.Sprintf("%s%d.%02d", sign, units/100, units%100)
}
