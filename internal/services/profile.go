package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/parlor-sh/parlor/internal/logger"
	"github.com/parlor-sh/parlor/internal/models"
)

// ProfileStore is the durable collection of credential profiles plus the
// currently active profile id. The whole store persists as one JSON record;
// corrupt or missing files fall back to an empty store rather than failing
// startup.
type ProfileStore struct {
	path string

	mu       sync.Mutex
	profiles []*models.Profile
	activeID string

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// NewProfileStore loads (or initializes) the store at path.
func NewProfileStore(path string) *ProfileStore {
	s := &ProfileStore{
		path:     path,
		activeID: models.DefaultProfileID,
		stopCh:   make(chan struct{}),
	}
	s.load()
	return s
}

// load reads the persisted record. Any read or parse failure leaves the
// store empty.
func (s *ProfileStore) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warnf("⚠️  Failed to read profile store %s: %v", s.path, err)
		}
		return
	}

	var file models.ProfileStoreFile
	if err := json.Unmarshal(data, &file); err != nil {
		logger.Warnf("⚠️  Profile store %s is corrupt, starting empty: %v", s.path, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = file.Profiles
	if file.ActiveProfileID != "" {
		s.activeID = file.ActiveProfileID
	}
}

// save persists the store atomically: concurrent saves never interleave and
// readers never observe a torn file.
func (s *ProfileStore) save() error {
	file := models.ProfileStoreFile{
		Profiles:        s.profiles,
		ActiveProfileID: s.activeID,
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal profile store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create profile store directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write profile store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Watch reloads the store when the file changes on disk outside this
// process. Call Close to stop the watcher.
func (s *ProfileStore) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create profile store watcher: %w", err)
	}
	s.watcher = watcher

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		s.watcher = nil
		return fmt.Errorf("failed to watch profile store directory: %w", err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name == s.path && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					logger.Debugf("👀 Profile store changed on disk, reloading")
					s.load()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnf("⚠️  Profile store watcher error: %v", err)
			case <-s.stopCh:
				return
			}
		}
	}()

	return nil
}

// Close stops the on-disk watcher.
func (s *ProfileStore) Close() {
	close(s.stopCh)
	if s.watcher != nil {
		s.watcher.Close()
	}
}

// List returns a copy of all profiles, preserving store order.
func (s *ProfileStore) List() []*models.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		copied := *p
		out = append(out, &copied)
	}
	return out
}

// Get returns a copy of the profile with the given id.
func (s *ProfileStore) Get(id string) (*models.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.find(id)
	if p == nil {
		return nil, false
	}
	copied := *p
	return &copied, true
}

func (s *ProfileStore) find(id string) *models.Profile {
	for _, p := range s.profiles {
		if p.ID == id {
			return p
		}
	}
	return nil
}

var nonSlugRe = regexp.MustCompile(`[^a-z0-9]+`)

// slugify derives a profile id from its name.
func slugify(name string) string {
	slug := strings.ToLower(name)
	slug = nonSlugRe.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "profile"
	}
	return slug
}

// Create adds a profile. The id is the slugified name, disambiguated with a
// numeric suffix against existing ids ("work", "work-1", "work-2", ...).
// The first profile ever created becomes the default.
func (s *ProfileStore) Create(name string) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := slugify(name)
	id := base
	for counter := 1; s.find(id) != nil; counter++ {
		id = fmt.Sprintf("%s-%d", base, counter)
	}

	profile := &models.Profile{
		ID:        id,
		Name:      name,
		IsDefault: len(s.profiles) == 0,
	}
	s.profiles = append(s.profiles, profile)

	if err := s.save(); err != nil {
		return nil, err
	}

	logger.Infof("👤 Created profile %s (%q)", profile.ID, profile.Name)
	copied := *profile
	return &copied, nil
}

// Rename changes a profile's display name. The id is stable.
func (s *ProfileStore) Rename(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.find(id)
	if p == nil {
		return fmt.Errorf("profile %s not found", id)
	}
	p.Name = name
	return s.save()
}

// Delete removes a profile. Deleting the default promotes the first
// remaining profile; deleting the active profile resets the active pointer
// to the default sentinel.
func (s *ProfileStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, p := range s.profiles {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("profile %s not found", id)
	}

	wasDefault := s.profiles[idx].IsDefault
	s.profiles = append(s.profiles[:idx], s.profiles[idx+1:]...)

	if wasDefault && len(s.profiles) > 0 {
		s.profiles[0].IsDefault = true
	}
	if s.activeID == id {
		s.activeID = models.DefaultProfileID
	}
	return s.save()
}

// SetActive records the currently active profile id. The id must reference
// an existing profile or the default sentinel.
func (s *ProfileStore) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != models.DefaultProfileID && s.find(id) == nil {
		return fmt.Errorf("profile %s not found", id)
	}
	s.activeID = id
	return s.save()
}

// ActiveProfile resolves the active pointer, following the default sentinel
// to the profile marked default.
func (s *ProfileStore) ActiveProfile() (*models.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeID != models.DefaultProfileID {
		if p := s.find(s.activeID); p != nil {
			copied := *p
			return &copied, true
		}
	}
	for _, p := range s.profiles {
		if p.IsDefault {
			copied := *p
			return &copied, true
		}
	}
	return nil, false
}

// ActiveProfileID returns the raw active pointer, which may be the default
// sentinel.
func (s *ProfileStore) ActiveProfileID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// AssignToken stores an OAuth token (and optional account email) on a
// profile and stamps the token creation time.
func (s *ProfileStore) AssignToken(id, token, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.find(id)
	if p == nil {
		return fmt.Errorf("profile %s not found", id)
	}
	now := time.Now()
	p.OAuthToken = token
	p.TokenCreatedAt = &now
	if email != "" {
		p.Email = email
	}
	return s.save()
}

// TouchUsed stamps a profile's last-used time, feeding the
// most-recently-used switch policy.
func (s *ProfileStore) TouchUsed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p := s.find(id); p != nil {
		now := time.Now()
		p.LastUsedAt = &now
		_ = s.save()
	}
}

// update applies fn to the stored profile under the store lock and persists
// the result. Used by the rate limit manager.
func (s *ProfileStore) update(id string, fn func(*models.Profile)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.find(id)
	if p == nil {
		return fmt.Errorf("profile %s not found", id)
	}
	fn(p)
	return s.save()
}

// tokenMaxAge is how long an assigned OAuth token is trusted. Expiry is
// strict: a token aged exactly tokenMaxAge is still valid, one second past
// it is not.
const tokenMaxAge = 365 * 24 * time.Hour

// HasValidToken reports whether a profile carries a usable OAuth token.
// Without a creation timestamp the token is trusted indefinitely.
func (s *ProfileStore) HasValidToken(p *models.Profile) bool {
	return s.hasValidTokenAt(p, time.Now())
}

func (s *ProfileStore) hasValidTokenAt(p *models.Profile, now time.Time) bool {
	if p == nil || p.OAuthToken == "" {
		return false
	}
	if p.TokenCreatedAt == nil {
		return true
	}
	if now.Sub(*p.TokenCreatedAt) > tokenMaxAge {
		logger.Warnf("⚠️  OAuth token for profile %s is over a year old, treating as expired", p.ID)
		return false
	}
	return true
}
