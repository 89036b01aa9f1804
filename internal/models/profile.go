package models

import (
	"time"
)

// RateLimitKind distinguishes the two rate-limit windows the Claude CLI
// reports.
type RateLimitKind string

const (
	// RateLimitSession is the rolling 5-hour usage window.
	RateLimitSession RateLimitKind = "session"
	// RateLimitWeekly is the weekly usage window.
	RateLimitWeekly RateLimitKind = "weekly"
)

// RateLimitEvent records one instance of the upstream service refusing
// further work until a stated reset time.
type RateLimitEvent struct {
	Kind    RateLimitKind `json:"kind"`
	HitAt   time.Time     `json:"hit_at"`
	ResetAt time.Time     `json:"reset_at"`
	// ResetTimeRaw preserves the original human-readable reset string for
	// display and audit.
	ResetTimeRaw string `json:"reset_time_raw"`
}

// MaxRateLimitEvents caps the per-profile event history. Older entries are
// silently dropped.
const MaxRateLimitEvents = 10

// Profile is a named credential/configuration bundle usable to authenticate
// a session against the Claude CLI.
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// ConfigDirectory points at the profile's credential material
	// (a CLAUDE_CONFIG_DIR-style directory).
	ConfigDirectory string     `json:"config_directory,omitempty"`
	OAuthToken      string     `json:"oauth_token,omitempty"`
	TokenCreatedAt  *time.Time `json:"token_created_at,omitempty"`
	IsDefault       bool       `json:"is_default"`
	Email           string     `json:"email,omitempty"`
	// RateLimitEvents is ordered newest first and capped at
	// MaxRateLimitEvents entries.
	RateLimitEvents []RateLimitEvent `json:"rate_limit_events,omitempty"`
	// LastUsedAt drives the most-recently-used switch policy.
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// DefaultProfileID is the sentinel active-profile value meaning "whatever
// profile is marked default".
const DefaultProfileID = "default"

// ProfileStoreFile is the single persisted record holding every profile and
// the currently active profile id.
type ProfileStoreFile struct {
	Profiles        []*Profile `json:"profiles"`
	ActiveProfileID string     `json:"active_profile_id"`
}

// RateLimitStatus answers "is this profile currently limited". Kind and
// ResetAt are only meaningful when Limited is true.
type RateLimitStatus struct {
	Limited bool          `json:"limited"`
	Kind    RateLimitKind `json:"kind,omitempty"`
	ResetAt time.Time     `json:"reset_at,omitempty"`
}
