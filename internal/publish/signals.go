package publish

import (
	"context"
	"log"
	"time"
)

// Platform UIs change without notice, so success is never decided by one
// indicator. Each flow declares a set of independent probes with a polarity
// and a weight; the upload is deemed published only when at least one strong
// positive has fired and no negative is present within the window. A probe
// that silently disappears from the page costs coverage, not correctness.

// Polarity says whether a firing probe argues for or against success.
type Polarity int

const (
	Positive Polarity = iota
	Negative
)

// StrongWeight is the threshold at which a single positive probe is decisive.
const StrongWeight = 10

// Signal is one independent success/failure probe.
type Signal struct {
	Name     string
	Selector string
	Polarity Polarity
	Weight   int
}

// Outcome is the verdict of a verification pass.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeConfirmed
	OutcomeRejected
)

// verifySignals polls the probes until the combination rule resolves or the
// window elapses. It returns the name of the deciding signal.
func verifySignals(ctx context.Context, b Browser, signals []Signal, window, poll time.Duration) (Outcome, string) {
	deadline := time.Now().Add(window)
	for {
		strongest := ""
		weight := 0
		negative := ""
		for _, sig := range signals {
			present, err := b.Probe(ctx, sig.Selector)
			if err != nil || !present {
				continue
			}
			if sig.Polarity == Negative {
				negative = sig.Name
				break
			}
			weight += sig.Weight
			if sig.Weight >= StrongWeight && strongest == "" {
				strongest = sig.Name
			}
		}

		if negative != "" {
			return OutcomeRejected, negative
		}
		if strongest != "" {
			return OutcomeConfirmed, strongest
		}
		if weight > 0 {
			log.Printf("[publish] Weak positive signals (weight %d) — waiting for a strong one", weight)
		}

		if time.Now().After(deadline) || ctx.Err() != nil {
			return OutcomeUnknown, ""
		}
		select {
		case <-ctx.Done():
			return OutcomeUnknown, ""
		case <-time.After(poll):
		}
	}
}
