package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// ChromeDriver implements Driver on a locally launched Chromium with a
// persistent user-data directory, so login cookies survive between runs.
type ChromeDriver struct{}

// NewChromeDriver returns the production browser driver.
func NewChromeDriver() *ChromeDriver { return &ChromeDriver{} }

type chromeSession struct {
	ctx         context.Context
	cancelCtx   context.CancelFunc
	cancelAlloc context.CancelFunc
}

// OpenSession launches a persistent browser context over the given profile
// directory. The session outlives the open ctx; it is torn down by Close.
func (d *ChromeDriver) OpenSession(ctx context.Context, opts SessionOptions) (Browser, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(opts.ProfileDir),
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.WindowSize(1280, 900),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, cancelCtx := chromedp.NewContext(allocCtx)

	// Launch now so a missing browser binary fails the open, not the first
	// navigation.
	launchCtx, cancel := context.WithTimeout(browserCtx, 60*time.Second)
	defer cancel()
	if err := chromedp.Run(launchCtx); err != nil {
		cancelCtx()
		cancelAlloc()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	_ = ctx // session lifetime is governed by Close, not the opening context
	return &chromeSession{ctx: browserCtx, cancelCtx: cancelCtx, cancelAlloc: cancelAlloc}, nil
}

func (s *chromeSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx := s.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(s.ctx, timeout)
		defer cancel()
	}
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, actions...) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, 60*time.Second, chromedp.Navigate(url))
}

func (s *chromeSession) Location(ctx context.Context) (string, error) {
	var loc string
	err := s.run(ctx, 10*time.Second, chromedp.Location(&loc))
	return loc, err
}

func (s *chromeSession) Do(ctx context.Context, action Action) error {
	repeats := action.Repeat
	if repeats <= 0 {
		repeats = 1
	}
	timeout := action.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var err error
	for i := 0; i < repeats; i++ {
		err = s.doOnce(ctx, action, timeout)
		if err != nil {
			break
		}
	}
	if err != nil && action.Optional {
		return nil
	}
	return err
}

func (s *chromeSession) doOnce(ctx context.Context, action Action, timeout time.Duration) error {
	switch action.Kind {
	case ActionClick:
		return s.run(ctx, timeout,
			chromedp.WaitVisible(action.Selector, chromedp.ByQuery),
			chromedp.Click(action.Selector, chromedp.ByQuery),
		)
	case ActionUpload:
		return s.run(ctx, timeout,
			chromedp.SetUploadFiles(action.Selector, action.Files, chromedp.ByQuery),
		)
	case ActionFill:
		return s.run(ctx, timeout,
			chromedp.WaitVisible(action.Selector, chromedp.ByQuery),
			chromedp.SetValue(action.Selector, action.Value, chromedp.ByQuery),
		)
	case ActionType:
		return s.run(ctx, timeout,
			chromedp.WaitVisible(action.Selector, chromedp.ByQuery),
			chromedp.Click(action.Selector, chromedp.ByQuery),
			chromedp.SendKeys(action.Selector, action.Value, chromedp.ByQuery),
		)
	case ActionClear:
		js := fmt.Sprintf(`(() => { const el = document.querySelector(%q); if (el) { el.textContent = ""; el.value = ""; } })()`, action.Selector)
		var ignored any
		return s.run(ctx, timeout, chromedp.Evaluate(js, &ignored))
	case ActionWaitVisible:
		return s.run(ctx, timeout, chromedp.WaitVisible(action.Selector, chromedp.ByQuery))
	case ActionWaitEnabled:
		return s.run(ctx, timeout, chromedp.WaitEnabled(action.Selector, chromedp.ByQuery))
	case ActionSleep:
		return s.run(ctx, timeout+time.Second, chromedp.Sleep(timeout))
	default:
		return fmt.Errorf("unknown action kind %q", action.Kind)
	}
}

func (s *chromeSession) Probe(ctx context.Context, selector string) (bool, error) {
	js := fmt.Sprintf(`document.querySelector(%q) !== null`, selector)
	var present bool
	if err := s.run(ctx, 5*time.Second, chromedp.Evaluate(js, &present)); err != nil {
		return false, err
	}
	return present, nil
}

func (s *chromeSession) Close() error {
	s.cancelCtx()
	s.cancelAlloc()
	return nil
}
