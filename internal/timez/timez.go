// Package timez centralizes every timezone-boundary conversion in the poll
// lifecycle. The rule, per design: the database stores UTC-naive timestamps,
// and every boundary (HTTP form, chat render, scheduler trigger) explicitly
// localizes via the poll's zone. Nothing outside this package should call
// time.LoadLocation directly.
package timez

import (
	"fmt"
	"strings"
	"time"
)

const defaultZoneName = "UTC"

// aliases maps common non-IANA zone abbreviations creators type into forms
// history has made ambiguous (EST/EDT both mean US/Eastern to most users).
var aliases = map[string]string{
	"EST":  "US/Eastern",
	"EDT":  "US/Eastern",
	"CST":  "US/Central",
	"CDT":  "US/Central",
	"MST":  "US/Mountain",
	"MDT":  "US/Mountain",
	"PST":  "US/Pacific",
	"PDT":  "US/Pacific",
	"AKST": "US/Alaska",
	"AKDT": "US/Alaska",
	"HST":  "US/Hawaii",
	"BST":  "Europe/London",
	"CET":  "Europe/Paris",
	"CEST": "Europe/Paris",
	"JST":  "Asia/Tokyo",
	"IST":  "Asia/Kolkata",
}

// NormalizeZone maps aliases and validates against the IANA database. Unlike
// time.LoadLocation it never returns an error: unknown input degrades to UTC
// so a bad creator-supplied zone can never abort poll creation.
func NormalizeZone(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return defaultZoneName
	}
	if strings.EqualFold(trimmed, "utc") {
		return defaultZoneName
	}
	if alias, ok := aliases[strings.ToUpper(trimmed)]; ok {
		trimmed = alias
	}
	loc, err := time.LoadLocation(trimmed)
	if err != nil {
		return defaultZoneName
	}
	return loc.String()
}

// Location loads the time.Location for a normalized zone name, falling back
// to UTC for anything that doesn't resolve.
func Location(name string) *time.Location {
	loc, err := time.LoadLocation(NormalizeZone(name))
	if err != nil {
		return time.UTC
	}
	return loc
}

// wallClockLayout matches the value an HTML datetime-local input produces:
// a naive "2026-03-05T14:30" with no zone or offset attached.
const wallClockLayout = "2006-01-02T15:04"

// ParseWallClock interprets a naive datetime-local string as wall-clock time
// in zone and returns the equivalent UTC instant. DST-ambiguous local times
// (the repeated hour during fall-back) resolve to the standard-time
// instant; DST-nonexistent local times (the skipped hour during
// spring-forward) round forward to the first valid instant after the gap.
func ParseWallClock(raw string, zoneName string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("empty wall-clock timestamp")
	}
	naive, err := time.Parse(wallClockLayout, trimmed)
	if err != nil {
		// Also accept a full RFC3339-ish value with seconds, since some
		// callers (API clients) send that instead of the raw HTML format.
		naive, err = time.Parse("2006-01-02T15:04:05", trimmed)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid wall-clock timestamp %q: %w", raw, err)
		}
	}
	loc := Location(zoneName)
	local := time.Date(naive.Year(), naive.Month(), naive.Day(), naive.Hour(), naive.Minute(), naive.Second(), 0, loc)
	wall := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), local.Second(), 0, time.UTC)
	start, end := local.ZoneBounds()
	switch {
	case wall.After(naive): // skipped hour, placed past the gap
		local = start
	case wall.Before(naive): // skipped hour, placed before the gap
		local = end
	case local.IsDST() && !end.IsZero():
		_, dstOffset := local.Zone()
		_, nextOffset := end.Zone()
		if alt := local.Add(time.Duration(dstOffset-nextOffset) * time.Second); alt.Hour() == local.Hour() && alt.Minute() == local.Minute() && !alt.IsDST() {
			local = alt
		}
	}
	return local.UTC(), nil
}

// FormatForUser renders instant (UTC) relative to the viewer's zone the way
// the chat embed and dashboard do: "Today at 3:04 PM", "Tomorrow at 3:04
// PM", or "Mar 5, 3:04 PM" for anything further out.
func FormatForUser(instant time.Time, zoneName string) string {
	loc := Location(zoneName)
	local := instant.In(loc)
	now := time.Now().In(loc)

	clock := local.Format("3:04 PM")
	switch {
	case sameDate(local, now):
		return fmt.Sprintf("Today at %s", clock)
	case sameDate(local, now.AddDate(0, 0, 1)):
		return fmt.Sprintf("Tomorrow at %s", clock)
	default:
		return fmt.Sprintf("%s, %s", local.Format("Jan 2"), clock)
	}
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// TimeOrderError is returned by ValidateScheduled when close_time doesn't
// come strictly after open_time.
type TimeOrderError struct {
	Open  time.Time
	Close time.Time
}

func (e *TimeOrderError) Error() string {
	return fmt.Sprintf("close_time (%s) must be after open_time (%s)", e.Close, e.Open)
}

// PastOpenError is returned by ValidateScheduled when open_time doesn't
// leave the minimum lead time, unless the poll is flagged to open
// immediately.
type PastOpenError struct {
	Open time.Time
	Now  time.Time
}

func (e *PastOpenError) Error() string {
	return fmt.Sprintf("open_time (%s) is not at least 1 minute after now (%s)", e.Open, e.Now)
}

// MinOpenLead is the minimum lead time a scheduled (non-immediate) poll must
// have between "now" and its open_time.
const MinOpenLead = time.Minute

// ValidateScheduled enforces the two timing invariants every poll must
// satisfy: close strictly after open, and (unless openImmediately) open at
// least MinOpenLead in the future.
func ValidateScheduled(open, close time.Time, openImmediately bool) error {
	if !close.After(open) {
		return &TimeOrderError{Open: open, Close: close}
	}
	if !openImmediately {
		now := time.Now().UTC()
		if open.Before(now.Add(MinOpenLead)) {
			return &PastOpenError{Open: open, Now: now}
		}
	}
	return nil
}
