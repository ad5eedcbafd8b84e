package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Throttle is a per-client request budget parsed from a "throttle:N,M"
// middleware entry: N requests per M minutes.
type Throttle struct {
	Requests int
	Window   time.Duration
}

// Throttles extracts throttle entries from the middleware list. Other
// entries are left for the server to report and ignore.
func (c *Config) Throttles() ([]Throttle, error) {
	var throttles []Throttle
	for _, entry := range c.Middleware {
		name, args, _ := strings.Cut(strings.TrimSpace(entry), ":")
		if name != "throttle" {
			continue
		}
		t, err := ParseThrottle(args)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", entry, err)
		}
		throttles = append(throttles, t)
	}
	return throttles, nil
}

// ParseThrottle parses "N" or "N,M". M defaults to one minute.
func ParseThrottle(args string) (Throttle, error) {
	parts := strings.Split(args, ",")
	if len(parts) > 2 || strings.TrimSpace(parts[0]) == "" {
		return Throttle{}, fmt.Errorf("expected throttle:requests[,minutes]")
	}

	requests, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || requests <= 0 {
		return Throttle{}, fmt.Errorf("requests must be a positive integer")
	}

	minutes := 1
	if len(parts) == 2 {
		minutes, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || minutes <= 0 {
			return Throttle{}, fmt.Errorf("minutes must be a positive integer")
		}
	}

	return Throttle{Requests: requests, Window: time.Duration(minutes) * time.Minute}, nil
}
