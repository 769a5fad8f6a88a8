package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidPrice = errors.New("invalid price")

// Money is an amount in minor units (cents, halalas).
type Money int64

func (m Money) Mul(q int) Money {
	return m * Money(q)
}

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// ParsePrice converts a display price such as "99.99 SAR" or "1,299.50 $" to minor units.
// Everything except digits and separators is dropped. A comma is a decimal separator only
// when no dot is present and it is followed by one or two trailing digits.
func ParsePrice(s string) (Money, error) {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	cleaned := strings.Trim(b.String(), ".,")
	if cleaned == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}

	if strings.Contains(cleaned, ".") {
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	} else if i := strings.LastIndex(cleaned, ","); i >= 0 && len(cleaned)-i-1 <= 2 && strings.Count(cleaned, ",") == 1 {
		cleaned = cleaned[:i] + "." + cleaned[i+1:]
	} else {
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	whole, frac, _ := strings.Cut(cleaned, ".")
	if strings.Contains(frac, ".") || len(frac) > 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	return Money(units*100 + cents), nil
}
