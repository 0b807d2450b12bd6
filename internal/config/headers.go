package config

import (
	"bufio"
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"time"

	"httptunnel-go/internal/model"
)

// HeaderName converts an [http] settings key into its header name:
// "USER_AGENT" and "user_agent" both become "user-agent".
func HeaderName(key string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "_", "-")
}

// UserHeaders returns the user-defined headers keyed by lowercase name.
// A user-agent entry always exists; an empty one suppresses the client default.
// Values of the form "file://PATH" resolve to a random line of PATH on each send.
func (c *Config) UserHeaders() (map[string]model.HeaderValue, error) {
	headers := map[string]model.HeaderValue{
		"user-agent": model.Static(""),
	}
	for key, value := range c.HTTP {
		name := HeaderName(key)
		if path, ok := strings.CutPrefix(value, "file://"); ok {
			lines, err := readLines(path)
			if err != nil {
				return nil, fmt.Errorf("http.%s: %w", key, err)
			}
			headers[name] = model.Computed(randomLine(lines))
			continue
		}
		headers[name] = model.Static(value)
	}
	return headers, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%s has no usable lines", path)
	}
	return lines, nil
}

func randomLine(lines []string) func() string {
	return func() string {
		return lines[rand.IntN(len(lines))]
	}
}

// Interval is a pause length picked uniformly in [Min, Max].
type Interval struct {
	Min time.Duration
	Max time.Duration
}

// ParseInterval parses "N" or "MIN-MAX", in seconds (fractions allowed).
func ParseInterval(s string) (Interval, error) {
	lo, hi, isRange := strings.Cut(strings.TrimSpace(s), "-")
	minSec, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
	if err != nil {
		return Interval{}, fmt.Errorf("invalid interval %q", s)
	}
	maxSec := minSec
	if isRange {
		maxSec, err = strconv.ParseFloat(strings.TrimSpace(hi), 64)
		if err != nil {
			return Interval{}, fmt.Errorf("invalid interval %q", s)
		}
	}
	if minSec < 0 || maxSec < minSec {
		return Interval{}, fmt.Errorf("invalid interval %q: want 0 <= min <= max", s)
	}
	return Interval{
		Min: time.Duration(minSec * float64(time.Second)),
		Max: time.Duration(maxSec * float64(time.Second)),
	}, nil
}

// Pick returns a random duration within the interval.
func (iv Interval) Pick() time.Duration {
	if iv.Max <= iv.Min {
		return iv.Min
	}
	return iv.Min + rand.N(iv.Max-iv.Min+1)
}
