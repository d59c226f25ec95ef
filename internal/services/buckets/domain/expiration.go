package domain

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/louisbranch/gamebuckets/internal/platform/errors"
)

var expirationPattern = regexp.MustCompile(`^(\d+)\s*([a-z]+)$`)

var expirationUnits = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
	"w": 7 * 24 * time.Hour, "week": 7 * 24 * time.Hour, "weeks": 7 * 24 * time.Hour,
	"y": 365 * 24 * time.Hour, "yr": 365 * 24 * time.Hour, "year": 365 * 24 * time.Hour, "years": 365 * 24 * time.Hour,
}

// ParseExpiration converts a duration code into an absolute instant relative
// to now. An empty code, "0" or "never" means the bucket does not expire and
// yields nil.
//
// Accepted forms: integer seconds ("30"), a unit suffix ("10s", "2d", "1y"),
// a spelled unit ("1 second", "20 seconds") or a Go duration ("1h30m").
func ParseExpiration(code string, now time.Time) (*time.Time, error) {
	normalized := strings.ToLower(strings.TrimSpace(code))
	if normalized == "" || normalized == "0" || normalized == "never" {
		return nil, nil
	}

	ttl, ok := parseExpirationDuration(normalized)
	if !ok || ttl <= 0 {
		return nil, apperrors.WithMetadata(
			apperrors.CodeBucketInvalidExpiration,
			"expiration code is not a positive duration",
			map[string]string{"expiration": code},
		)
	}
	expiresAt := now.UTC().Add(ttl)
	return &expiresAt, nil
}

func parseExpirationDuration(code string) (time.Duration, bool) {
	if seconds, err := strconv.ParseInt(code, 10, 64); err == nil {
		return scaleDuration(seconds, time.Second)
	}
	if match := expirationPattern.FindStringSubmatch(code); match != nil {
		if unit, ok := expirationUnits[match[2]]; ok {
			count, err := strconv.ParseInt(match[1], 10, 64)
			if err != nil {
				return 0, false
			}
			return scaleDuration(count, unit)
		}
	}
	ttl, err := time.ParseDuration(code)
	if err != nil {
		return 0, false
	}
	return ttl, true
}

// scaleDuration multiplies count by unit, failing instead of wrapping past
// the largest time.Duration.
func scaleDuration(count int64, unit time.Duration) (time.Duration, bool) {
	if count < 0 || count > math.MaxInt64/int64(unit) {
		return 0, false
	}
	return time.Duration(count) * unit, true
}
