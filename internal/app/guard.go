package app

import (
	"context"
	"time"

	"study-flow-service/internal/domain"
)

// Guard is the integrity check evaluated on entry to every stage-specific
// view. Navigation can reach a view by means the state machine never saw
// (manual URLs, back/forward, stale tabs); the guard makes sure such paths
// never present a stage's content without the matching state.
type Guard struct {
	flows          *FlowService
	settleAttempts int
	settleInterval time.Duration
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithSettleWindow tunes how long the guard waits for an in-flight transition
// to land before declaring a mismatch.
func WithSettleWindow(attempts int, interval time.Duration) GuardOption {
	return func(g *Guard) {
		g.settleAttempts = attempts
		g.settleInterval = interval
	}
}

func NewGuard(flows *FlowService, opts ...GuardOption) *Guard {
	g := &Guard{
		flows:          flows,
		settleAttempts: 10,
		settleInterval: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate compares the live stage to required, allowing a short settle window
// for legitimate transition races between tabs. On a persistent mismatch it
// resets the flow and returns ErrResetRequired; the mismatched view must not
// be rendered.
func (g *Guard) Validate(ctx context.Context, userID string, required domain.Stage) error {
	for attempt := 0; ; attempt++ {
		state, err := g.flows.Current(ctx, userID)
		if err != nil {
			return err
		}
		if state.Stage == required {
			return nil
		}
		if attempt >= g.settleAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.settleInterval):
		}
	}
	if _, err := g.flows.Reset(ctx, userID); err != nil {
		return err
	}
	return domain.ErrResetRequired
}

// Protect runs render only when the live stage matches required. On mismatch
// the flow is already reset and ErrResetRequired is returned; render is never
// invoked, not even transiently.
func (g *Guard) Protect(ctx context.Context, userID string, required domain.Stage, render func() error) error {
	if err := g.Validate(ctx, userID, required); err != nil {
		return err
	}
	return render()
}
