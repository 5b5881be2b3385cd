// Package store tracks rendered artifacts in a JSON manifest and enforces
// the retention cap. The manifest file is guarded by an advisory lock so the
// retention sweep and the publish orchestrator never race on an artifact's
// status.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"faceless-pipeline/internal/types"
)

const manifestName = "artifacts.json"

// Store owns the output directory's artifact manifest.
type Store struct {
	dir          string
	manifestPath string
	lock         *flock.Flock
}

type manifest struct {
	Artifacts []types.OutputArtifact `json:"artifacts"`
}

// Open prepares a store over the given output directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Store{
		dir:          dir,
		manifestPath: filepath.Join(dir, manifestName),
		lock:         flock.New(filepath.Join(dir, manifestName+".lock")),
	}, nil
}

// withLock runs fn over the loaded manifest while holding the advisory lock,
// then persists whatever fn mutated.
func (s *Store) withLock(fn func(m *manifest) error) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("acquire manifest lock: %w", err)
	}
	defer s.lock.Unlock()

	m, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return err
	}
	return s.save(m)
}

func (s *Store) load() (*manifest, error) {
	m := &manifest{}
	data, err := os.ReadFile(s.manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

func (s *Store) save(m *manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.manifestPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.manifestPath)
}

// Register records a freshly rendered artifact in the manifest.
func (s *Store) Register(path string) (*types.OutputArtifact, error) {
	artifact := &types.OutputArtifact{
		ID:        uuid.NewString()[:8],
		Path:      path,
		CreatedAt: time.Now().UTC(),
		Platforms: map[string]types.PublishStatus{},
	}
	err := s.withLock(func(m *manifest) error {
		m.Artifacts = append(m.Artifacts, *artifact)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return artifact, nil
}

// List returns all known artifacts, adopting any on-disk video the manifest
// has not seen (creation time taken from file mtime). Newest first.
func (s *Store) List() ([]types.OutputArtifact, error) {
	var out []types.OutputArtifact
	err := s.withLock(func(m *manifest) error {
		if err := s.adoptUntracked(m); err != nil {
			return err
		}
		out = append(out, m.Artifacts...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ByPath finds an artifact by its file path, adopting it if untracked.
func (s *Store) ByPath(path string) (*types.OutputArtifact, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	var found *types.OutputArtifact
	err = s.withLock(func(m *manifest) error {
		if err := s.adoptUntracked(m); err != nil {
			return err
		}
		for i := range m.Artifacts {
			p, _ := filepath.Abs(m.Artifacts[i].Path)
			if p == abs {
				a := m.Artifacts[i]
				found = &a
				return nil
			}
		}
		return fmt.Errorf("artifact not found: %s", path)
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// adoptUntracked folds manifest-less final videos into the manifest so the
// sweep can see artifacts that predate it. Caller holds the lock.
func (s *Store) adoptUntracked(m *manifest) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(m.Artifacts))
	for _, a := range m.Artifacts {
		known[filepath.Base(a.Path)] = true
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || known[name] || !strings.HasPrefix(name, "final_video_") || !strings.HasSuffix(name, ".mp4") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		m.Artifacts = append(m.Artifacts, types.OutputArtifact{
			ID:        uuid.NewString()[:8],
			Path:      filepath.Join(s.dir, name),
			CreatedAt: info.ModTime().UTC(),
			Platforms: map[string]types.PublishStatus{},
		})
	}
	return nil
}

// SetStatus transitions an artifact's publish status for one platform.
func (s *Store) SetStatus(id, platform string, status types.PublishStatus) error {
	return s.withLock(func(m *manifest) error {
		for i := range m.Artifacts {
			if m.Artifacts[i].ID == id {
				if m.Artifacts[i].Platforms == nil {
					m.Artifacts[i].Platforms = map[string]types.PublishStatus{}
				}
				m.Artifacts[i].Platforms[platform] = status
				return nil
			}
		}
		return fmt.Errorf("artifact %s not in manifest", id)
	})
}

// BeginPublish marks the artifact publishing so the retention sweep cannot
// delete it mid-upload. It fails if the artifact is already being published
// to the platform.
func (s *Store) BeginPublish(id, platform string) error {
	return s.withLock(func(m *manifest) error {
		for i := range m.Artifacts {
			if m.Artifacts[i].ID != id {
				continue
			}
			if m.Artifacts[i].Platforms == nil {
				m.Artifacts[i].Platforms = map[string]types.PublishStatus{}
			}
			if m.Artifacts[i].Platforms[platform] == types.StatusPublishing {
				return fmt.Errorf("artifact %s is already publishing to %s", id, platform)
			}
			m.Artifacts[i].Platforms[platform] = types.StatusPublishing
			return nil
		}
		return fmt.Errorf("artifact %s not in manifest", id)
	})
}

// FinishPublish records the terminal status of a publish attempt.
func (s *Store) FinishPublish(id, platform string, published bool) error {
	status := types.StatusFailed
	if published {
		status = types.StatusPublished
	}
	return s.SetStatus(id, platform, status)
}
