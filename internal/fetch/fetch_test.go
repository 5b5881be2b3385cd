package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceless-pipeline/internal/config"
	"faceless-pipeline/internal/types"
)

// fakeProvider serves canned candidates per keyword.
type fakeProvider struct {
	candidates map[string][]Candidate
	err        error
}

func (p *fakeProvider) Search(ctx context.Context, keyword string, minDuration float64) ([]Candidate, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.candidates[keyword], nil
}

func testConfig() *config.Config {
	cfg, _ := config.Load("does-not-exist.yaml")
	cfg.Fetch.Workers = 2
	cfg.Fetch.MaxRetries = 1
	return cfg
}

func emptyLibrary(t *testing.T) *Library {
	t.Helper()
	lib, err := LoadLibrary(t.TempDir(), "does-not-exist.json")
	require.NoError(t, err)
	return lib
}

func writeLibrary(t *testing.T, tags map[string][]string) *Library {
	t.Helper()
	dir := t.TempDir()
	data := "{"
	first := true
	for file, list := range tags {
		if !first {
			data += ","
		}
		first = false
		data += fmt.Sprintf("%q:[", file)
		for i, tag := range list {
			if i > 0 {
				data += ","
			}
			data += fmt.Sprintf("%q", tag)
		}
		data += "]"
	}
	data += "}"
	tagsPath := filepath.Join(dir, "tags.json")
	require.NoError(t, os.WriteFile(tagsPath, []byte(data), 0o644))
	lib, err := LoadLibrary(dir, tagsPath)
	require.NoError(t, err)
	return lib
}

func TestFetchReassemblesInRequestOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("clip-bytes"))
	}))
	defer srv.Close()

	provider := &fakeProvider{candidates: map[string][]Candidate{
		"ocean":  {{ID: "a", URL: srv.URL + "/a.mp4", Duration: 12}},
		"forest": {{ID: "b", URL: srv.URL + "/b.mp4", Duration: 9}},
		"city":   {{ID: "c", URL: srv.URL + "/c.mp4", Duration: 15}},
	}}
	f := New(testConfig(), provider, emptyLibrary(t))

	requests := []Request{
		{Index: 0, Keyword: "ocean", Duration: 5},
		{Index: 1, Keyword: "forest", Duration: 7},
		{Index: 2, Keyword: "city", Duration: 4},
	}
	assets, err := f.Fetch(context.Background(), requests, t.TempDir())
	require.NoError(t, err)
	require.Len(t, assets, 3)

	// Order follows the requests, not download completion.
	assert.Equal(t, "a", assets[0].ID)
	assert.Equal(t, "b", assets[1].ID)
	assert.Equal(t, "c", assets[2].ID)
	assert.Equal(t, 7.0, assets[1].SlotSec)
	assert.FileExists(t, assets[0].LocalPath)
}

func TestFetchFallsBackToLibrary(t *testing.T) {
	provider := &fakeProvider{err: fmt.Errorf("api down")}
	lib := writeLibrary(t, map[string][]string{
		"waves.mp4": {"ocean", "water"},
		"trees.mp4": {"forest"},
	})
	f := New(testConfig(), provider, lib)

	requests := []Request{{Index: 0, Keyword: "calm ocean", Duration: 6}}
	assets, err := f.Fetch(context.Background(), requests, t.TempDir())
	require.NoError(t, err)
	require.Len(t, assets, 1)

	assert.True(t, assets[0].Fallback)
	assert.Equal(t, "waves.mp4", filepath.Base(assets[0].LocalPath))
}

func TestFetchPatchesGapFromNeighbor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("clip-bytes"))
	}))
	defer srv.Close()

	// Only the first keyword resolves; the second has no provider result and
	// no library, so its slot is patched from the neighbor.
	provider := &fakeProvider{candidates: map[string][]Candidate{
		"ocean": {{ID: "a", URL: srv.URL + "/a.mp4", Duration: 12}},
	}}
	f := New(testConfig(), provider, emptyLibrary(t))

	requests := []Request{
		{Index: 0, Keyword: "ocean", Duration: 5},
		{Index: 1, Keyword: "nonsense", Duration: 8},
	}
	assets, err := f.Fetch(context.Background(), requests, t.TempDir())
	require.NoError(t, err)
	require.Len(t, assets, 2)

	assert.Equal(t, "a", assets[1].ID)
	assert.Equal(t, 8.0, assets[1].SlotSec, "patched slot keeps its own duration")
}

func TestFetchFailsWhenNothingResolves(t *testing.T) {
	provider := &fakeProvider{err: fmt.Errorf("api down")}
	f := New(testConfig(), provider, emptyLibrary(t))

	_, err := f.Fetch(context.Background(), []Request{{Index: 0, Keyword: "x", Duration: 5}}, t.TempDir())
	require.Error(t, err)
	assert.Equal(t, types.CodeAssetUnavailable, types.CodeOf(err))
}

func TestFetchFallbackDeterministicUnderConcurrency(t *testing.T) {
	// With the provider dead and every slot falling back, clip assignment
	// must follow request order on every run, no matter how the workers are
	// scheduled.
	tags := map[string][]string{}
	for i := 0; i < 40; i++ {
		tags[fmt.Sprintf("clip_%03d.mp4", i)] = []string{"ocean"}
	}

	for run := 0; run < 3; run++ {
		cfg := testConfig()
		cfg.Fetch.Workers = 8
		f := New(cfg, &fakeProvider{err: fmt.Errorf("api down")}, writeLibrary(t, tags))

		requests := make([]Request, 16)
		for i := range requests {
			requests[i] = Request{Index: i, Keyword: "ocean", Duration: 3}
		}
		assets, err := f.Fetch(context.Background(), requests, t.TempDir())
		require.NoError(t, err)
		require.Len(t, assets, 16)

		for i, a := range assets {
			assert.True(t, a.Fallback)
			assert.Equal(t, fmt.Sprintf("clip_%03d.mp4", i), filepath.Base(a.LocalPath),
				"run %d: request %d must always get the same clip", run, i)
		}
	}
}

func TestLibraryPickDeterministic(t *testing.T) {
	tags := map[string][]string{
		"waves.mp4":  {"ocean", "water"},
		"beach.mp4":  {"ocean", "sand"},
		"clouds.mp4": {"sky"},
	}

	// Same keyword on a fresh library always yields the same clip: among the
	// equal-score ocean clips, the lexicographically smaller filename wins.
	for i := 0; i < 3; i++ {
		lib := writeLibrary(t, tags)
		path, err := lib.Pick("ocean")
		require.NoError(t, err)
		assert.Equal(t, "beach.mp4", filepath.Base(path))
	}
}

func TestLibraryPickAvoidsRepeatsThenRestarts(t *testing.T) {
	lib := writeLibrary(t, map[string][]string{
		"waves.mp4": {"ocean"},
		"beach.mp4": {"ocean"},
	})

	first, err := lib.Pick("ocean")
	require.NoError(t, err)
	second, err := lib.Pick("ocean")
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "a clip is not repeated while others remain")

	third, err := lib.Pick("ocean")
	require.NoError(t, err)
	assert.Equal(t, "beach.mp4", filepath.Base(third), "exhausted library restarts from the best match")
}

func TestLibrarySkipsInstructionKeys(t *testing.T) {
	dir := t.TempDir()
	tagsPath := filepath.Join(dir, "tags.json")
	require.NoError(t, os.WriteFile(tagsPath,
		[]byte(`{"_instructions": "tag each clip", "waves.mp4": ["ocean"]}`), 0o644))

	lib, err := LoadLibrary(dir, tagsPath)
	require.NoError(t, err)
	path, err := lib.Pick("ocean")
	require.NoError(t, err)
	assert.Equal(t, "waves.mp4", filepath.Base(path))
}
