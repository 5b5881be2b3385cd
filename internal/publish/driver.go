// Package publish drives automated uploads of rendered artifacts to social
// platforms through a browser session, and verifies the outcome through
// multiple independent signals.
package publish

import (
	"context"
	"time"
)

// ActionKind enumerates the page interactions a platform flow is built from.
type ActionKind string

const (
	ActionClick       ActionKind = "click"
	ActionUpload      ActionKind = "upload"
	ActionFill        ActionKind = "fill"
	ActionType        ActionKind = "type"
	ActionClear       ActionKind = "clear"
	ActionWaitVisible ActionKind = "wait_visible"
	ActionWaitEnabled ActionKind = "wait_enabled"
	ActionSleep       ActionKind = "sleep"
)

// Action is one step of a platform's upload sequence.
type Action struct {
	Kind     ActionKind
	Selector string
	Value    string
	Files    []string
	Timeout  time.Duration
	// Optional steps are tolerated when they fail: platform UIs change
	// without notice and not every element survives a redesign.
	Optional bool
	// Repeat replays the step (e.g. clicking Next through a wizard).
	Repeat int
}

// Driver opens automated browser sessions. The core depends on nothing of
// the underlying automation beyond this interface.
type Driver interface {
	OpenSession(ctx context.Context, opts SessionOptions) (Browser, error)
}

// SessionOptions configure a persistent browser context.
type SessionOptions struct {
	ProfileDir string
	Headless   bool
}

// Browser is one live automated browser session.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	Do(ctx context.Context, action Action) error
	// Probe reports whether a selector currently matches the page.
	Probe(ctx context.Context, selector string) (bool, error)
	Close() error
}
