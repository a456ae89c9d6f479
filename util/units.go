package util

import (
	"regexp"
	"strconv"
	"strings"
)

var sizeRegex = regexp.MustCompile(`^([0-9.]+)\s*([A-Za-z]+)$`)

// Multipliers to megabytes. KB and KiB are both treated as 1024 bytes.
var sizeToMB = map[string]float64{
	"B":   1.0 / (1024 * 1024),
	"KB":  1.0 / 1024,
	"KIB": 1.0 / 1024,
	"MB":  1,
	"MIB": 1,
	"GB":  1024,
	"GIB": 1024,
	"TB":  1024 * 1024,
	"TIB": 1024 * 1024,
}

// ParseSizeMB parses a size string like "1.56MB", "2.3GiB" or "512kB" into megabytes.
// It never fails: empty or malformed input is 0 and an unknown unit is read as MB.
func ParseSizeMB(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "0B" {
		return 0
	}

	matches := sizeRegex.FindStringSubmatch(s)
	if matches == nil {
		return 0
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0
	}

	multiplier, ok := sizeToMB[strings.ToUpper(matches[2])]
	if !ok {
		multiplier = 1
	}
	return value * multiplier
}

// ParsePercent parses "25.45%" into 25.45. Anything unparsable is 0.
func ParsePercent(s string) float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	value, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return value
}

// SplitPair splits the "used / limit" pairs docker prints for memory, block and network IO.
func SplitPair(s string) (string, string, bool) {
	left, right, ok := strings.Cut(s, " / ")
	if !ok {
		return "", "", false
	}
	return strings.TrimSpace(left), strings.TrimSpace(right), true
}
