// Package session persists authenticated browser state per publishing
// platform. Each platform gets a persistent profile directory (cookies and
// storage survive restarts, so the operator logs in once) plus a small
// metadata file. Session storage is an external resource with an explicit
// acquire/release protocol: a crashed run leaves a lock marker behind, and a
// marker older than the grace period is forcibly cleared before a new
// automated session opens.
package session

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"faceless-pipeline/internal/types"
)

// Session is one platform's persisted authentication state.
type Session struct {
	Platform    string    `json:"platform"`
	ProfileDir  string    `json:"profile_dir"`
	CreatedAt   time.Time `json:"created_at"`
	RefreshedAt time.Time `json:"refreshed_at"`
	Invalid     bool      `json:"invalid,omitempty"`
}

// Store manages session state under one root directory.
type Store struct {
	root  string
	grace time.Duration
}

// NewStore creates a session store. grace is how old a lock marker must be
// before it is considered stale and remediated.
func NewStore(root string, grace time.Duration) *Store {
	return &Store{root: root, grace: grace}
}

func (s *Store) platformDir(platform string) string {
	return filepath.Join(s.root, platform)
}

func (s *Store) metaPath(platform string) string {
	return filepath.Join(s.platformDir(platform), "session.json")
}

func (s *Store) lockMarkerPath(platform string) string {
	return filepath.Join(s.platformDir(platform), "session.lock")
}

// ProfileDir returns the browser profile directory for a platform, creating
// it if needed.
func (s *Store) ProfileDir(platform string) (string, error) {
	dir := filepath.Join(s.platformDir(platform), "profile")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create profile dir: %w", err)
	}
	return dir, nil
}

// Load returns the saved session for a platform, or nil when none exists.
// An invalidated session is returned as-is; the caller decides whether a
// marked-invalid session is usable (it is not, for publishing).
func (s *Store) Load(platform string) (*Session, error) {
	data, err := os.ReadFile(s.metaPath(platform))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parse session metadata: %w", err)
	}
	return &sess, nil
}

// Save persists session metadata. Called on first login and refreshed after
// every successful publish.
func (s *Store) Save(platform string, sess *Session) error {
	if err := os.MkdirAll(s.platformDir(platform), 0o755); err != nil {
		return err
	}
	sess.Platform = platform
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.metaPath(platform), data, 0o644)
}

// Invalidate marks the session as requiring manual re-login. Called on
// authentication failure; never retried automatically.
func (s *Store) Invalidate(platform string) error {
	sess, err := s.Load(platform)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}
	sess.Invalid = true
	return s.Save(platform, sess)
}

// Acquire takes the platform's session for exclusive use. A lock marker left
// by an interrupted prior run is detected and remediated: older than the
// grace period it is forcibly cleared (logged as StaleLockDetected, not a
// failure); younger, another live session may own it and acquisition fails
// rather than proceeding with a corrupted session. The browser's own
// SingletonLock inside the profile is removed as well.
func (s *Store) Acquire(platform string) (release func(), err error) {
	dir := s.platformDir(platform)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	marker := s.lockMarkerPath(platform)
	if info, statErr := os.Stat(marker); statErr == nil {
		age := time.Since(info.ModTime())
		if age > s.grace {
			if err := os.Remove(marker); err != nil {
				return nil, types.NewStageError("session", types.CodeStaleLockDetected,
					fmt.Errorf("stale lock remediation failed for %s: %w", platform, err))
			}
			log.Printf("[session] Cleared stale %s lock (age %s > grace %s)", platform, age.Round(time.Second), s.grace)
		}
	}

	fl := flock.New(marker)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire session lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("session for %s is held by another process", platform)
	}

	// Chromium leaves its own SingletonLock in the profile after a crash,
	// which blocks the next persistent context.
	profile := filepath.Join(dir, "profile")
	singleton := filepath.Join(profile, "SingletonLock")
	if _, statErr := os.Stat(singleton); statErr == nil {
		if err := os.Remove(singleton); err != nil {
			_ = fl.Unlock()
			return nil, types.NewStageError("session", types.CodeStaleLockDetected,
				fmt.Errorf("could not clear browser singleton lock: %w", err))
		}
		log.Printf("[session] Removed leftover browser SingletonLock for %s", platform)
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			log.Printf("[session] Warning: release %s lock: %v", platform, err)
		}
	}, nil
}

// Refresh updates the refreshed-at stamp after a successful publish,
// creating the metadata on first use.
func (s *Store) Refresh(platform string) error {
	sess, err := s.Load(platform)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if sess == nil {
		profile, err := s.ProfileDir(platform)
		if err != nil {
			return err
		}
		sess = &Session{Platform: platform, ProfileDir: profile, CreatedAt: now}
	}
	sess.RefreshedAt = now
	sess.Invalid = false
	return s.Save(platform, sess)
}
