package config

import (
	"fmt"
	"strings"
)

// ParseRatePPS parses a human-readable packets-per-second string, such as
// "0" (unlimited), "500", "2k" or "1.5m", into a float64 pps value. Units
// are decimal: k=1,000, m=1,000,000.
func ParseRatePPS(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	lower := strings.ToLower(s)
	multiplier := float64(1)
	numStr := lower

	switch lower[len(lower)-1] {
	case 'k':
		multiplier = 1_000
		numStr = lower[:len(lower)-1]
	case 'm':
		multiplier = 1_000_000
		numStr = lower[:len(lower)-1]
	}

	numStr = strings.TrimSpace(numStr)
	if numStr == "" {
		return 0, fmt.Errorf("invalid rate value: %q", s)
	}

	var value float64
	if _, err := fmt.Sscanf(numStr, "%f", &value); err != nil {
		return 0, fmt.Errorf("invalid rate value: %q", s)
	}
	if value < 0 {
		return 0, fmt.Errorf("rate cannot be negative: %q", s)
	}
	return value * multiplier, nil
}
