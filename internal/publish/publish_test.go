package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceless-pipeline/internal/config"
	"faceless-pipeline/internal/session"
	"faceless-pipeline/internal/store"
	"faceless-pipeline/internal/types"
)

type fakeBrowser struct {
	locationFn func() string
	doFn       func(Action) error
	probeFn    func(selector string) bool
}

func (b *fakeBrowser) Navigate(ctx context.Context, url string) error { return nil }

func (b *fakeBrowser) Location(ctx context.Context) (string, error) {
	if b.locationFn == nil {
		return "https://studio.youtube.com/channel/upload", nil
	}
	return b.locationFn(), nil
}

func (b *fakeBrowser) Do(ctx context.Context, action Action) error {
	if b.doFn == nil {
		return nil
	}
	return b.doFn(action)
}

func (b *fakeBrowser) Probe(ctx context.Context, selector string) (bool, error) {
	if b.probeFn == nil {
		return false, nil
	}
	return b.probeFn(selector), nil
}

func (b *fakeBrowser) Close() error { return nil }

type fakeDriver struct {
	browser *fakeBrowser
	opens   int
}

func (d *fakeDriver) OpenSession(ctx context.Context, opts SessionOptions) (Browser, error) {
	d.opens++
	return d.browser, nil
}

type harness struct {
	orch     *Orchestrator
	driver   *fakeDriver
	sessions *session.Store
	artifact *types.OutputArtifact
	store    *store.Store
}

func newHarness(t *testing.T, browser *fakeBrowser) *harness {
	t.Helper()

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	cfg.Publish.VerifyWindowSec = 1
	cfg.Publish.MaxAttempts = 2

	sessions := session.NewStore(t.TempDir(), 5*time.Minute)
	require.NoError(t, sessions.Refresh("youtube"))

	artifacts, err := store.Open(t.TempDir())
	require.NoError(t, err)
	videoPath := filepath.Join(t.TempDir(), "final_video_1.mp4")
	require.NoError(t, os.WriteFile(videoPath, []byte("video"), 0o644))
	artifact, err := artifacts.Register(videoPath)
	require.NoError(t, err)

	driver := &fakeDriver{browser: browser}
	return &harness{
		orch:     New(cfg, sessions, artifacts, driver, nil),
		driver:   driver,
		sessions: sessions,
		artifact: artifact,
		store:    artifacts,
	}
}

func (h *harness) status(t *testing.T, platform string) types.PublishStatus {
	t.Helper()
	got, err := h.store.ByPath(h.artifact.Path)
	require.NoError(t, err)
	return got.StatusFor(platform)
}

func TestPublishSuccess(t *testing.T) {
	browser := &fakeBrowser{
		probeFn: func(selector string) bool {
			return selector == "ytcp-video-share-dialog"
		},
	}
	h := newHarness(t, browser)

	err := h.orch.Publish(context.Background(), Request{
		Artifact: h.artifact,
		Platform: "youtube",
		Title:    "a title",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, h.driver.opens)
	assert.Equal(t, types.StatusPublished, h.status(t, "youtube"))

	sess, err := h.sessions.Load("youtube")
	require.NoError(t, err)
	assert.False(t, sess.Invalid)
}

func TestPublishWithoutSessionFailsClosed(t *testing.T) {
	h := newHarness(t, &fakeBrowser{})
	require.NoError(t, h.sessions.Invalidate("youtube"))

	err := h.orch.Publish(context.Background(), Request{
		Artifact: h.artifact,
		Platform: "youtube",
	})
	require.Error(t, err)
	assert.Equal(t, types.CodeAuthenticationRequired, types.CodeOf(err))
	assert.Equal(t, 0, h.driver.opens, "no browser without a valid session")
	assert.Equal(t, types.StatusFailed, h.status(t, "youtube"))
}

func TestPublishAuthFailureMidUpload(t *testing.T) {
	// The upload step fails and the page turns out to be the sign-in
	// redirect: the session is invalidated and there is no automatic retry.
	bounced := false
	browser := &fakeBrowser{
		doFn: func(a Action) error {
			if a.Kind == ActionUpload {
				bounced = true
				return fmt.Errorf("element never appeared")
			}
			return nil
		},
		locationFn: func() string {
			if bounced {
				return "https://accounts.google.com/signin/v2"
			}
			return "https://studio.youtube.com/channel/upload"
		},
	}
	h := newHarness(t, browser)

	err := h.orch.Publish(context.Background(), Request{
		Artifact: h.artifact,
		Platform: "youtube",
	})
	require.Error(t, err)
	assert.Equal(t, types.CodeAuthenticationRequired, types.CodeOf(err))
	assert.Equal(t, 1, h.driver.opens, "auth failures are never retried")

	sess, lerr := h.sessions.Load("youtube")
	require.NoError(t, lerr)
	assert.True(t, sess.Invalid, "session must be marked for manual re-login")
	assert.Equal(t, types.StatusFailed, h.status(t, "youtube"))
}

func TestPublishTimeoutRetriesOnce(t *testing.T) {
	// No signal ever fires: each attempt times out and only timeouts earn a
	// retry, capped by the attempt limit.
	h := newHarness(t, &fakeBrowser{})

	err := h.orch.Publish(context.Background(), Request{
		Artifact: h.artifact,
		Platform: "youtube",
	})
	require.Error(t, err)
	assert.Equal(t, types.CodeUploadTimeout, types.CodeOf(err))
	assert.Equal(t, 2, h.driver.opens)
	assert.Equal(t, types.StatusFailed, h.status(t, "youtube"))
}

func TestPublishRejectedByPlatform(t *testing.T) {
	browser := &fakeBrowser{
		probeFn: func(selector string) bool {
			return strings.Contains(selector, "error")
		},
	}
	h := newHarness(t, browser)

	err := h.orch.Publish(context.Background(), Request{
		Artifact: h.artifact,
		Platform: "youtube",
	})
	require.Error(t, err)
	assert.Equal(t, types.CodeUploadRejected, types.CodeOf(err))
	assert.Equal(t, 1, h.driver.opens, "an explicit rejection is not retried")
}

func TestPublishUnknownPlatform(t *testing.T) {
	h := newHarness(t, &fakeBrowser{})
	err := h.orch.Publish(context.Background(), Request{
		Artifact: h.artifact,
		Platform: "myspace",
	})
	assert.Error(t, err)
}

func TestPublishCancelledBeforeSessionOpen(t *testing.T) {
	h := newHarness(t, &fakeBrowser{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.orch.Publish(ctx, Request{
		Artifact: h.artifact,
		Platform: "youtube",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotEqual(t, types.CodeUploadTimeout, types.CodeOf(err),
		"cancellation must not look like a timeout, or the retry loop picks it up")
	assert.Equal(t, 0, h.driver.opens, "cancellation honored before the session opens")
}

func TestPublishSessionBusyIsNotRetried(t *testing.T) {
	// Another live process holds the profile lock: the attempt fails with its
	// own reason code and the retry loop does not hammer the lock.
	h := newHarness(t, &fakeBrowser{})
	release, err := h.sessions.Acquire("youtube")
	require.NoError(t, err)
	defer release()

	err = h.orch.Publish(context.Background(), Request{
		Artifact: h.artifact,
		Platform: "youtube",
	})
	require.Error(t, err)
	assert.Equal(t, types.CodeSessionBusy, types.CodeOf(err))
	assert.Equal(t, 0, h.driver.opens)
	assert.Equal(t, types.StatusFailed, h.status(t, "youtube"))
}
