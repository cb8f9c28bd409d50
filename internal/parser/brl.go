package parser

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	nonNumericPattern = regexp.MustCompile(`[^\d,.\-]`)
	decimalDotPattern = regexp.MustCompile(`^-?\d+\.\d{1,2}$`)
	onlyDigitsPattern = regexp.MustCompile(`\D`)
)

// ToNumberBRL parses a Brazilian currency string such as "R$ 1.234,56".
// Dots are thousands separators unless the string has no comma and ends in a
// one or two digit decimal part ("1234.56"). Zero, negative and non-finite
// values are reported as nil.
func ToNumberBRL(s string) *float64 {
	clean := nonNumericPattern.ReplaceAllString(s, "")
	if clean == "" {
		return nil
	}

	if strings.Contains(clean, ",") {
		clean = strings.ReplaceAll(clean, ".", "")
		clean = strings.ReplaceAll(clean, ",", ".")
	} else if !decimalDotPattern.MatchString(clean) {
		clean = strings.ReplaceAll(clean, ".", "")
	}

	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return nil
	}
	return positive(v)
}

func positive(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return nil
	}
	return &v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func onlyDigits(s string) string {
	return onlyDigitsPattern.ReplaceAllString(s, "")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
