package spectrum

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// HzToDisplay formats a frequency with grouped digits, e.g. 100,001,000.
func HzToDisplay(hz int64) string {
	return humanize.Comma(hz)
}

// HumanHz formats a frequency with an SI prefix, e.g. "100.001 MHz".
func HumanHz(hz float64) string {
	fract, suffix := humanize.ComputeSI(hz)
	return fmt.Sprintf("%0.3f %sHz", fract, suffix)
}

// DisplayToHz parses a frequency written either with grouped digits
// ("100,001,000", "100_001_000", "100 001 000") or with an SI prefix
// ("100.001 MHz", "433.92M").
func DisplayToHz(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty frequency")
	}

	plain := strings.NewReplacer(",", "", "_", "", " ", "").Replace(s)
	if hz, err := strconv.ParseInt(plain, 10, 64); err == nil {
		if hz < 0 {
			return 0, fmt.Errorf("negative frequency: %s", s)
		}
		return hz, nil
	}

	unit := strings.TrimSuffix(strings.TrimSuffix(s, "Hz"), "hz")
	value, _, err := humanize.ParseSI(strings.TrimSpace(unit))
	if err != nil {
		return 0, fmt.Errorf("invalid frequency %q: %w", s, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("negative frequency: %s", s)
	}
	return int64(math.Round(value)), nil
}
