package pref

import (
	"math"
	"strconv"
	"unicode"
)

// Lenient text parsing follows the permissive conventions preference stores
// use when a number or flag was written as text: only a leading numeric
// prefix counts, and anything unparsable reads as zero/false.

// LenientInt parses the leading integer prefix of s. Whitespace is skipped,
// one sign is honoured and parsing stops at the first non-digit. Text without
// digits yields 0 and overflow saturates.
func LenientInt(s string) int64 {
	i := skipSpace(s)
	negative := false
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		negative = s[i] == '-'
		i++
	}

	var value int64
	overflow := false
	for ; i < len(s) && isDigit(s[i]); i++ {
		if overflow {
			continue
		}
		digit := int64(s[i] - '0')
		if value > (math.MaxInt64-digit)/10 {
			overflow = true
			continue
		}
		value = value*10 + digit
	}

	switch {
	case overflow && negative:
		return math.MinInt64
	case overflow:
		return math.MaxInt64
	case negative:
		return -value
	default:
		return value
	}
}

// LenientFloat parses the longest leading decimal number in s, accepting an
// optional fraction and exponent. Text without a numeric prefix yields 0.
func LenientFloat(s string) float64 {
	start := skipSpace(s)
	end := scanFloatPrefix(s, start)
	if end == start {
		return 0
	}
	value, err := strconv.ParseFloat(s[start:end], 64)
	if err != nil {
		// ParseFloat reports range errors with a saturated value.
		return value
	}
	return value
}

// LenientBool reports whether s reads as a truthy flag: after whitespace, an
// optional sign and any leading zeros, the first character must be one of
// Y, y, T, t or a nonzero digit.
func LenientBool(s string) bool {
	i := skipSpace(s)
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	for i < len(s) && s[i] == '0' {
		i++
	}
	if i >= len(s) {
		return false
	}
	switch c := s[i]; {
	case c == 'Y' || c == 'y' || c == 'T' || c == 't':
		return true
	case c >= '1' && c <= '9':
		return true
	default:
		return false
	}
}

func skipSpace(s string) int {
	for i, r := range s {
		if !unicode.IsSpace(r) {
			return i
		}
	}
	return len(s)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// scanFloatPrefix returns the end offset of the numeric prefix starting at
// start, or start when there is none.
func scanFloatPrefix(s string, start int) int {
	i := start
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	intDigits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		intDigits++
	}
	fracDigits := 0
	if i < len(s) && s[i] == '.' {
		j := i + 1
		for j < len(s) && isDigit(s[j]) {
			j++
			fracDigits++
		}
		if intDigits > 0 || fracDigits > 0 {
			i = j
		}
	}
	if intDigits == 0 && fracDigits == 0 {
		return start
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		expDigits := 0
		for j < len(s) && isDigit(s[j]) {
			j++
			expDigits++
		}
		if expDigits > 0 {
			i = j
		}
	}
	return i
}
