package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceless-pipeline/internal/types"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	return s
}

// registerVideo creates a real file and registers it, spacing registrations so
// creation timestamps order deterministically.
func registerVideo(t *testing.T, s *Store, name string) *types.OutputArtifact {
	t.Helper()
	path := filepath.Join(s.dir, name)
	require.NoError(t, os.WriteFile(path, []byte("video"), 0o644))
	a, err := s.Register(path)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	return a
}

func TestRegisterAndList(t *testing.T) {
	s := newStore(t)
	first := registerVideo(t, s, "final_video_1.mp4")
	second := registerVideo(t, s, "final_video_2.mp4")

	artifacts, err := s.List()
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	assert.Equal(t, second.ID, artifacts[0].ID, "newest first")
	assert.Equal(t, first.ID, artifacts[1].ID)
}

func TestSweepKeepsNewest(t *testing.T) {
	s := newStore(t)
	old1 := registerVideo(t, s, "final_video_1.mp4")
	old2 := registerVideo(t, s, "final_video_2.mp4")
	new1 := registerVideo(t, s, "final_video_3.mp4")
	new2 := registerVideo(t, s, "final_video_4.mp4")
	new3 := registerVideo(t, s, "final_video_5.mp4")

	removed, err := s.Sweep(3)
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	artifacts, err := s.List()
	require.NoError(t, err)
	require.Len(t, artifacts, 3)
	assert.Equal(t, new3.ID, artifacts[0].ID)
	assert.Equal(t, new2.ID, artifacts[1].ID)
	assert.Equal(t, new1.ID, artifacts[2].ID)

	assert.NoFileExists(t, old1.Path)
	assert.NoFileExists(t, old2.Path)
	assert.FileExists(t, new1.Path)
}

func TestSweepIdempotent(t *testing.T) {
	s := newStore(t)
	for i := 0; i < 5; i++ {
		registerVideo(t, s, "final_video_"+string(rune('a'+i))+".mp4")
	}

	removed, err := s.Sweep(3)
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	removed, err = s.Sweep(3)
	require.NoError(t, err)
	assert.Empty(t, removed, "second sweep must be a no-op")
}

func TestSweepProtectsPublishing(t *testing.T) {
	s := newStore(t)
	oldest := registerVideo(t, s, "final_video_1.mp4")
	registerVideo(t, s, "final_video_2.mp4")
	registerVideo(t, s, "final_video_3.mp4")
	registerVideo(t, s, "final_video_4.mp4")

	// The oldest artifact is beyond a cap of 3, but an in-flight publish
	// must keep it alive.
	require.NoError(t, s.BeginPublish(oldest.ID, "youtube"))

	removed, err := s.Sweep(3)
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.FileExists(t, oldest.Path)

	// Once the publish finishes it becomes a candidate again.
	require.NoError(t, s.FinishPublish(oldest.ID, "youtube", true))
	removed, err = s.Sweep(3)
	require.NoError(t, err)
	assert.Equal(t, []string{oldest.Path}, removed)
}

func TestSweepMinimumCap(t *testing.T) {
	s := newStore(t)
	keep := registerVideo(t, s, "final_video_1.mp4")

	// A non-positive cap still retains the newest artifact.
	removed, err := s.Sweep(0)
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.FileExists(t, keep.Path)
}

func TestAdoptUntracked(t *testing.T) {
	s := newStore(t)

	// Videos written before the manifest existed get adopted with their
	// file mtime as creation time.
	oldPath := filepath.Join(s.dir, "final_video_old.mp4")
	newPath := filepath.Join(s.dir, "final_video_new.mp4")
	require.NoError(t, os.WriteFile(oldPath, []byte("v"), 0o644))
	require.NoError(t, os.WriteFile(newPath, []byte("v"), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	// Unrelated files are left alone.
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "notes.txt"), []byte("x"), 0o644))

	artifacts, err := s.List()
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	assert.Equal(t, newPath, artifacts[0].Path)
	assert.Equal(t, oldPath, artifacts[1].Path)
}

func TestBeginPublishRejectsConcurrent(t *testing.T) {
	s := newStore(t)
	a := registerVideo(t, s, "final_video_1.mp4")

	require.NoError(t, s.BeginPublish(a.ID, "youtube"))
	assert.Error(t, s.BeginPublish(a.ID, "youtube"), "double publish to one platform")
	assert.NoError(t, s.BeginPublish(a.ID, "tiktok"), "other platforms are independent")

	require.NoError(t, s.FinishPublish(a.ID, "youtube", false))
	got, err := s.ByPath(a.Path)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.StatusFor("youtube"))
	assert.Equal(t, types.StatusPublishing, got.StatusFor("tiktok"))
}

func TestByPathUnknown(t *testing.T) {
	s := newStore(t)
	_, err := s.ByPath(filepath.Join(s.dir, "final_video_missing.mp4"))
	assert.Error(t, err)
}
