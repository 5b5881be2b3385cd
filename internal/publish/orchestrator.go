package publish

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"faceless-pipeline/internal/config"
	"faceless-pipeline/internal/session"
	"faceless-pipeline/internal/store"
	"faceless-pipeline/internal/types"
)

// State is the publish attempt's position in its lifecycle. Terminal states
// are Published and Failed; Failed always carries a reason code.
type State string

const (
	StateIdle           State = "idle"
	StateSessionOpening State = "session_opening"
	StateAuthenticated  State = "authenticated"
	StateUploading      State = "uploading"
	StateVerifying      State = "verifying_success"
	StatePublished      State = "published"
	StateFailed         State = "failed"
)

// Orchestrator drives end-to-end publish attempts: session, upload sequence,
// multi-signal verification, and artifact status bookkeeping.
type Orchestrator struct {
	cfg       *config.Config
	sessions  *session.Store
	artifacts *store.Store
	driver    Driver
	api       APIPublisher
}

// APIPublisher is the non-browser publish path (YouTube Data API).
type APIPublisher interface {
	Publish(ctx context.Context, videoPath, title, description string) (videoID string, err error)
}

// New builds a publish orchestrator.
func New(cfg *config.Config, sessions *session.Store, artifacts *store.Store, driver Driver, api APIPublisher) *Orchestrator {
	return &Orchestrator{cfg: cfg, sessions: sessions, artifacts: artifacts, driver: driver, api: api}
}

// Request is one publish order for one platform.
type Request struct {
	Artifact    *types.OutputArtifact
	Platform    string
	Title       string
	Description string
}

// Publish runs the state machine for one artifact/platform pair. The
// artifact's status moves to publishing before anything else happens, so the
// retention sweep can never select it mid-upload; the terminal status is
// recorded on every exit path.
func (o *Orchestrator) Publish(ctx context.Context, req Request) error {
	if err := o.artifacts.BeginPublish(req.Artifact.ID, req.Platform); err != nil {
		return fmt.Errorf("mark publishing: %w", err)
	}

	err := o.publishLocked(ctx, req)
	if ferr := o.artifacts.FinishPublish(req.Artifact.ID, req.Platform, err == nil); ferr != nil {
		log.Printf("[publish] Warning: record publish status: %v", ferr)
	}
	if err == nil {
		if rerr := o.sessions.Refresh(req.Platform); rerr != nil {
			log.Printf("[publish] Warning: refresh %s session: %v", req.Platform, rerr)
		}
		log.Printf("[publish] ✅ %s publish complete: %s", req.Platform, req.Artifact.Path)
	}
	return err
}

func (o *Orchestrator) publishLocked(ctx context.Context, req Request) error {
	if o.api != nil && req.Platform == "youtube" && o.cfg.Publish.YouTubeViaAPI {
		videoID, err := o.api.Publish(ctx, req.Artifact.Path, req.Title, req.Description)
		if err != nil {
			return types.NewStageError("publish", types.CodeUploadRejected, err)
		}
		log.Printf("[publish] YouTube API upload done: https://www.youtube.com/watch?v=%s", videoID)
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= o.cfg.Publish.MaxAttempts; attempt++ {
		if attempt > 1 {
			log.Printf("[publish] Retry %d/%d for %s with fresh session verification",
				attempt, o.cfg.Publish.MaxAttempts, req.Platform)
		}
		err := o.attempt(ctx, req)
		if err == nil {
			return nil
		}
		lastErr = err
		// Auth failures are never retried automatically: the fix is a
		// manual re-login, and hammering the login page only trips bot
		// detection. Only a timed-out upload earns another attempt.
		if !types.HasCode(err, types.CodeUploadTimeout) {
			return err
		}
		log.Printf("[publish] Attempt %d failed: %v", attempt, err)
	}
	return lastErr
}

// attempt is one pass through the state machine. Cancellation is honored only
// at or before session opening: once the upload sequence starts there is no
// safe partial-upload rollback on most platforms.
func (o *Orchestrator) attempt(ctx context.Context, req Request) error {
	state := StateIdle
	// Terminal failures carry the state the attempt was in, so the operator
	// sees where the machine stopped, not just that it did.
	fail := func(code types.Code, err error) error {
		return types.NewStageError("publish/"+string(state), code, err)
	}

	flow, err := FlowFor(req.Platform)
	if err != nil {
		return fail(types.CodeUploadRejected, err)
	}

	// SessionOpening is the last point at which cancellation is honored.
	// Operator cancellation is not an upload failure: it carries no reason
	// code, so the retry loop leaves it alone.
	state = StateSessionOpening
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s publish cancelled before session open: %w", req.Platform, err)
	}

	sess, err := o.sessions.Load(req.Platform)
	if err != nil {
		return fail(types.CodeAuthenticationRequired, err)
	}
	if sess == nil || sess.Invalid {
		// Never attempt a silent anonymous publish.
		return fail(types.CodeAuthenticationRequired,
			fmt.Errorf("no valid %s session: run the login command first", req.Platform))
	}

	release, err := o.sessions.Acquire(req.Platform)
	if err != nil {
		if types.HasCode(err, types.CodeStaleLockDetected) {
			return fail(types.CodeStaleLockDetected, err)
		}
		// A fresh lock means another live session owns the profile.
		// Retrying immediately would just hammer the same lock.
		return fail(types.CodeSessionBusy, err)
	}
	defer release()

	profile, err := o.sessions.ProfileDir(req.Platform)
	if err != nil {
		return fail(types.CodeUploadTimeout, err)
	}

	browser, err := o.driver.OpenSession(ctx, SessionOptions{ProfileDir: profile, Headless: o.cfg.Publish.Headless})
	if err != nil {
		return fail(types.CodeUploadTimeout, fmt.Errorf("open browser session: %w", err))
	}
	defer browser.Close()

	// Past this point the browser work is detached from pipeline
	// cancellation; only its own timeouts can stop it.
	runCtx := context.WithoutCancel(ctx)

	if err := browser.Navigate(runCtx, flow.UploadURL); err != nil {
		return fail(types.CodeUploadTimeout, fmt.Errorf("navigate to %s: %w", flow.UploadURL, err))
	}
	if err := o.checkAuthenticated(runCtx, browser, flow, req.Platform); err != nil {
		return fail(types.CodeAuthenticationRequired, err)
	}
	state = StateAuthenticated

	log.Printf("[publish] Uploading %s to %s...", req.Artifact.Path, req.Platform)
	state = StateUploading
	for i, step := range flow.Steps(req.Artifact.Path, req.Title, req.Description) {
		if err := browser.Do(runCtx, step); err != nil {
			// A step that never resolved is indistinguishable from a
			// revoked session bouncing us to login; check which.
			if authErr := o.checkAuthenticated(runCtx, browser, flow, req.Platform); authErr != nil {
				return fail(types.CodeAuthenticationRequired, authErr)
			}
			return fail(types.CodeUploadTimeout, fmt.Errorf("upload step %d (%s %s): %w", i, step.Kind, step.Selector, err))
		}
	}

	state = StateVerifying
	window := time.Duration(o.cfg.Publish.VerifyWindowSec) * time.Second
	outcome, signal := verifySignals(runCtx, browser, flow.Success, window, 3*time.Second)
	switch outcome {
	case OutcomeConfirmed:
		state = StatePublished
		log.Printf("[publish] %s upload verified (signal: %s)", req.Platform, signal)
		return nil
	case OutcomeRejected:
		return fail(types.CodeUploadRejected, fmt.Errorf("platform reported failure (signal: %s)", signal))
	default:
		return fail(types.CodeUploadTimeout, fmt.Errorf("no success signal within %s", window))
	}
}

// checkAuthenticated invalidates the saved session and errors when the
// platform has redirected to a sign-in page.
func (o *Orchestrator) checkAuthenticated(ctx context.Context, b Browser, flow *Flow, platform string) error {
	loc, err := b.Location(ctx)
	if err != nil {
		return nil // cannot tell; let the flow proceed and fail on its own
	}
	lower := strings.ToLower(loc)
	for _, marker := range flow.LoginMarkers {
		if strings.Contains(lower, marker) {
			if ierr := o.sessions.Invalidate(platform); ierr != nil {
				log.Printf("[publish] Warning: invalidate %s session: %v", platform, ierr)
			}
			return fmt.Errorf("%s session expired (redirected to %s)", platform, loc)
		}
	}
	return nil
}

// Login opens a visible browser on the platform's sign-in page and blocks on
// wait (the caller's operator prompt). The persistent profile keeps the
// cookies; session metadata is recorded when wait returns.
func (o *Orchestrator) Login(ctx context.Context, platform string, wait func()) error {
	flow, err := FlowFor(platform)
	if err != nil {
		return err
	}

	release, err := o.sessions.Acquire(platform)
	if err != nil {
		return err
	}
	defer release()

	profile, err := o.sessions.ProfileDir(platform)
	if err != nil {
		return err
	}

	browser, err := o.driver.OpenSession(ctx, SessionOptions{ProfileDir: profile, Headless: false})
	if err != nil {
		return fmt.Errorf("open login browser: %w", err)
	}
	defer browser.Close()

	if err := browser.Navigate(ctx, flow.LoginURL); err != nil {
		return fmt.Errorf("open %s login page: %w", platform, err)
	}

	wait()
	return o.sessions.Refresh(platform)
}
