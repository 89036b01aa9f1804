// Package parser contains pure functions that scan raw chunks of terminal
// output for session identifiers, OAuth authorization URLs, and rate-limit
// notices. All functions are total: a missing pattern is a normal miss, not
// an error, and no state is carried between chunks.
package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/parlor-sh/parlor/internal/models"
)

var (
	// Matches the session id marker the CLI prints in its startup banner,
	// e.g. "Session ID: 6ba7b810-9dad-11d1-80b4-00c04fd430c8".
	sessionIDRe = regexp.MustCompile(`(?i)session\s*id:\s*([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})`)

	httpsURLRe = regexp.MustCompile(`https://[^\s"'<>]+`)

	rateLimitRe = regexp.MustCompile(`(?i)(usage limit reached|reached your [a-z ]*limit|rate limit(ed)?|limit will reset|approaching [a-z ]*limit)`)

	// Captures a clock time like "3pm", "11:30am", optionally followed by a
	// parenthesized IANA timezone name.
	resetClockRe = regexp.MustCompile(`(?i)reset[s]?\s*(?:at\s*|:\s*)?(\d{1,2}(?::\d{2})?\s*(?:am|pm))\s*(?:\(([^)]+)\))?`)
)

// ExtractSessionID finds the CLI's own session identifier in a chunk of
// banner output. Returns "" when the marker is absent.
func ExtractSessionID(text string) string {
	m := sessionIDRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// ExtractOAuthURL finds the first https:// URL in a chunk and strips the
// trailing punctuation and closing brackets that are artifacts of the
// surrounding prose. Returns "" when no URL-like substring exists.
func ExtractOAuthURL(text string) string {
	url := httpsURLRe.FindString(text)
	if url == "" {
		return ""
	}
	return strings.TrimRight(url, ").,]")
}

// RateLimitNotice is the typed result of recognizing rate-limit phrasing in
// a chunk of output.
type RateLimitNotice struct {
	Kind         models.RateLimitKind
	ResetAt      time.Time
	ResetTimeRaw string
}

// Fallback reset windows used when the notice carries no parseable clock
// time. These mirror the upstream service's window lengths.
const (
	sessionWindowFallback = 5 * time.Hour
	weeklyWindowFallback  = 7 * 24 * time.Hour
)

// ParseRateLimit recognizes rate-limit phrasing in a chunk, classifies it as
// session- or weekly-scoped, and converts the embedded human-readable reset
// description into an absolute timestamp relative to now. Returns nil when
// the chunk carries no rate-limit notice.
func ParseRateLimit(text string, now time.Time) *RateLimitNotice {
	if !rateLimitRe.MatchString(text) {
		return nil
	}

	kind := models.RateLimitSession
	lower := strings.ToLower(text)
	if strings.Contains(lower, "weekly") || strings.Contains(lower, "7-day") {
		kind = models.RateLimitWeekly
	}

	notice := &RateLimitNotice{Kind: kind}

	if m := resetClockRe.FindStringSubmatch(text); m != nil {
		notice.ResetTimeRaw = strings.TrimSpace(m[1])
		if m[2] != "" {
			notice.ResetTimeRaw += " (" + m[2] + ")"
		}
		if t, ok := parseResetClock(m[1], m[2], now); ok {
			notice.ResetAt = t
			return notice
		}
	}

	// No parseable clock time: fall back to the window length.
	if kind == models.RateLimitWeekly {
		notice.ResetAt = now.Add(weeklyWindowFallback)
	} else {
		notice.ResetAt = now.Add(sessionWindowFallback)
	}
	return notice
}

// parseResetClock turns "3pm" / "11:30am" plus an optional IANA zone name
// into the next absolute occurrence of that wall-clock time after now.
func parseResetClock(clock, zone string, now time.Time) (time.Time, bool) {
	clock = strings.ToLower(strings.ReplaceAll(clock, " ", ""))

	layout := "3pm"
	if strings.Contains(clock, ":") {
		layout = "3:04pm"
	}
	parsed, err := time.Parse(layout, clock)
	if err != nil {
		return time.Time{}, false
	}

	loc := now.Location()
	if zone != "" {
		if l, err := time.LoadLocation(zone); err == nil {
			loc = l
		}
	}

	local := now.In(loc)
	reset := time.Date(local.Year(), local.Month(), local.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, loc)
	if !reset.After(now) {
		reset = reset.Add(24 * time.Hour)
	}
	return reset, true
}
