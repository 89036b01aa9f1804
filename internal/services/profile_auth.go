package services

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parlor-sh/parlor/internal/models"
)

// authResult is a tri-state probe outcome. authUnknown means the probe could
// not decide (including any filesystem read failure) and the next tier runs.
type authResult int

const (
	authUnknown authResult = iota
	authYes
	authNo
)

// Legacy credential file names checked by the third tier.
var legacyCredentialFiles = []string{"auth.json", "credentials.json", ".claude.json"}

// JSON keys that may hold a credential in legacy files.
var credentialKeys = []string{
	"api_key", "apiKey", "primaryApiKey",
	"token", "access_token", "accessToken",
	"refresh_token", "refreshToken", "oauth_token", "oauthToken",
}

// IsAuthenticated reports whether a profile looks able to run sessions
// without an interactive login. It is a layered heuristic over the profile's
// credential material, evaluated in order with the first decisive tier
// winning:
//
//  1. an unexpired OAuth token assigned to the profile record itself
//  2. a structured credential file holding a usable API key
//  3. a token-shaped access or refresh token in that same file
//  4. a legacy credential file containing a token-shaped string
//  5. a config directory that looks configured: a non-trivial config file,
//     or at least one recorded project session underneath
//
// The heuristic is approximate and drives UI affordances only. Filesystem
// errors at any tier mean "no match at this tier", never a hard failure.
func (s *ProfileStore) IsAuthenticated(p *models.Profile) bool {
	return s.isAuthenticatedAt(p, time.Now())
}

func (s *ProfileStore) isAuthenticatedAt(p *models.Profile, now time.Time) bool {
	if p == nil {
		return false
	}

	probes := []func(*models.Profile, time.Time) authResult{
		s.probeStoredToken,
		s.probeCredentialAPIKey,
		s.probeCredentialOAuth,
		s.probeLegacyFiles,
		s.probeConfiguredDir,
	}
	for _, probe := range probes {
		switch probe(p, now) {
		case authYes:
			return true
		case authNo:
			return false
		}
	}
	return false
}

// probeStoredToken decides from the OAuth token assigned to the profile
// record. An expired token defers to the file-based tiers rather than
// blocking them.
func (s *ProfileStore) probeStoredToken(p *models.Profile, now time.Time) authResult {
	if p.OAuthToken == "" {
		return authUnknown
	}
	if s.hasValidTokenAt(p, now) {
		return authYes
	}
	return authUnknown
}

// probeCredentialAPIKey looks for a usable API key in the structured
// credentials file.
func (s *ProfileStore) probeCredentialAPIKey(p *models.Profile, _ time.Time) authResult {
	creds := readCredentialFile(p.ConfigDirectory, ".credentials.json")
	if creds == nil {
		return authUnknown
	}
	for _, key := range []string{"api_key", "apiKey", "primaryApiKey"} {
		if tokenShaped(creds[key]) {
			return authYes
		}
	}
	return authUnknown
}

// probeCredentialOAuth looks for a token-shaped access or refresh token in
// the structured credentials file.
func (s *ProfileStore) probeCredentialOAuth(p *models.Profile, _ time.Time) authResult {
	creds := readCredentialFile(p.ConfigDirectory, ".credentials.json")
	if creds == nil {
		return authUnknown
	}
	for _, key := range []string{"accessToken", "access_token", "refreshToken", "refresh_token"} {
		if tokenShaped(creds[key]) {
			return authYes
		}
	}
	return authUnknown
}

// probeLegacyFiles scans older credential file shapes for anything
// token-shaped under a known key.
func (s *ProfileStore) probeLegacyFiles(p *models.Profile, _ time.Time) authResult {
	for _, name := range legacyCredentialFiles {
		creds := readCredentialFile(p.ConfigDirectory, name)
		if creds == nil {
			continue
		}
		for _, key := range credentialKeys {
			if tokenShaped(creds[key]) {
				return authYes
			}
		}
	}
	return authUnknown
}

// probeConfiguredDir is the weakest tier: the directory counts as
// authenticated if it holds a non-trivial config file or at least one
// recorded project session.
func (s *ProfileStore) probeConfiguredDir(p *models.Profile, _ time.Time) authResult {
	if p.ConfigDirectory == "" {
		return authUnknown
	}

	for _, name := range []string{".claude.json", "settings.json", "config.json"} {
		info, err := os.Stat(filepath.Join(p.ConfigDirectory, name))
		if err == nil && info.Size() > 10 {
			return authYes
		}
	}

	entries, err := os.ReadDir(filepath.Join(p.ConfigDirectory, "projects"))
	if err == nil && len(entries) > 0 {
		return authYes
	}
	return authUnknown
}

// readCredentialFile parses a JSON credential file into a flat string map.
// Nested objects are flattened one level deep so shapes like
// {"claudeAiOauth": {"accessToken": ...}} still surface their keys. Any
// read or parse failure returns nil.
func readCredentialFile(dir, name string) map[string]string {
	if dir == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}

	flat := make(map[string]string)
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			flat[key] = v
		case map[string]any:
			for nestedKey, nestedValue := range v {
				if s, ok := nestedValue.(string); ok {
					if _, exists := flat[nestedKey]; !exists {
						flat[nestedKey] = s
					}
				}
			}
		}
	}
	return flat
}

// tokenShaped reports whether a string plausibly is a credential: at least
// 20 characters with no whitespace, after stripping an optional "bearer "
// prefix.
func tokenShaped(s string) bool {
	s = strings.TrimSpace(s)
	if lower := strings.ToLower(s); strings.HasPrefix(lower, "bearer ") {
		s = strings.TrimSpace(s[len("bearer "):])
	}
	if len(s) < 20 {
		return false
	}
	return !strings.ContainsAny(s, " \t\r\n")
}
