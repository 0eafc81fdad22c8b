// Package updatecheck decides whether a cached artifact or metadata file
// must be re-fetched, based on its update policy and last-checked
// timestamp, and records the outcome against the authoritative origin.
package updatecheck

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Policy names recognized in aether.*.updatePolicy config values.
const (
	PolicyAlways = "always"
	PolicyDaily  = "daily"
	PolicyNever  = "never"
)

const intervalPrefix = "interval:"

// IntervalMinutes parses an "interval:N" policy string into N, or returns
// ok=false for any other policy shape.
func IntervalMinutes(policy string) (minutes int, ok bool) {
	if !strings.HasPrefix(policy, intervalPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(policy, intervalPrefix))
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsUpdateRequired decides whether a cached item is stale under policy:
//
//	always       => yes
//	daily        => yes iff lastUpdated < start-of-today-local
//	interval:N   => yes iff now - lastUpdated > N minutes
//	never        => no
//	unknown      => no, with a warning
func IsUpdateRequired(now, lastUpdated time.Time, policy string) (required bool, warning string) {
	if lastUpdated.IsZero() {
		return true, ""
	}
	switch {
	case policy == PolicyAlways:
		return true, ""
	case policy == PolicyDaily:
		startOfToday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		return lastUpdated.Before(startOfToday), ""
	case policy == PolicyNever:
		return false, ""
	default:
		if n, ok := IntervalMinutes(policy); ok {
			if n <= 0 {
				return true, ""
			}
			return now.Sub(lastUpdated) > time.Duration(n)*time.Minute, ""
		}
		return false, fmt.Sprintf("updatecheck: unrecognized update policy %q, treating as never", policy)
	}
}

// EffectiveIntervalPolicy combines two update-policy strings by choosing the
// shorter interval. "always" is treated as interval 0 (shortest);
// "never" as unbounded (longest); "daily" as 1440 minutes for comparison
// purposes only — the returned string is always one of the two inputs.
func EffectiveIntervalPolicy(p1, p2 string) string {
	m1, u1 := minutesOf(p1)
	m2, u2 := minutesOf(p2)
	if u1 && !u2 {
		return p2
	}
	if u2 && !u1 {
		return p1
	}
	if m1 <= m2 {
		return p1
	}
	return p2
}

// minutesOf returns a comparable minute count for a policy string, and
// unbounded=true for "never" (which never wins a "shorter interval"
// comparison).
func minutesOf(policy string) (minutes int, unbounded bool) {
	switch {
	case policy == PolicyAlways:
		return 0, false
	case policy == PolicyDaily:
		return 1440, false
	case policy == PolicyNever:
		return 0, true
	default:
		if n, ok := IntervalMinutes(policy); ok {
			return n, false
		}
		return 1440, false
	}
}
