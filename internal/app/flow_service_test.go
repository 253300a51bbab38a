package app_test

import (
	"context"
	"errors"
	"testing"

	"study-flow-service/internal/app"
	"study-flow-service/internal/domain"
	"study-flow-service/internal/infra/memory"
)

func TestCurrentInitializesNewParticipant(t *testing.T) {
	ctx := context.Background()
	flows := app.NewFlowService(memory.NewFlowStore())

	state, err := flows.Current(ctx, "abc123")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if state.Stage != domain.StageTerms {
		t.Fatalf("expected new participant at terms, got %s", state.Stage)
	}
	if state.Condition != app.AssignCondition("abc123") {
		t.Fatalf("expected deterministic condition %s, got %s", app.AssignCondition("abc123"), state.Condition)
	}
	if state.LessonQuestionIndex != 0 {
		t.Fatalf("expected cursor at 0, got %d", state.LessonQuestionIndex)
	}
}

func TestAdvanceWalksCanonicalOrder(t *testing.T) {
	ctx := context.Background()
	flows := app.NewFlowService(memory.NewFlowStore())

	expected := []domain.Stage{
		domain.StagePreTest,
		domain.StageLesson,
		domain.StageTetrisBreak,
		domain.StagePostTest,
		domain.StageFinalTest,
		domain.StageCompleted,
	}

	current := domain.StageTerms
	for _, want := range expected {
		state, err := flows.Advance(ctx, "u1", current)
		if err != nil {
			t.Fatalf("advance from %s: %v", current, err)
		}
		if state.Stage != want {
			t.Fatalf("expected %s after %s, got %s", want, current, state.Stage)
		}
		current = state.Stage
	}

	if _, err := flows.Advance(ctx, "u1", domain.StageCompleted); err != domain.ErrTerminalStage {
		t.Fatalf("expected terminal error from completed, got %v", err)
	}
}

func TestAdvanceRejectsStaleCaller(t *testing.T) {
	ctx := context.Background()
	flows := app.NewFlowService(memory.NewFlowStore())

	if _, err := flows.Advance(ctx, "u1", domain.StageTerms); err != nil {
		t.Fatalf("advance: %v", err)
	}
	// A second tab still believing the flow is at terms must not advance.
	if _, err := flows.Advance(ctx, "u1", domain.StageTerms); err != domain.ErrStaleTransition {
		t.Fatalf("expected stale transition, got %v", err)
	}
}

func TestResetClearsConditionAndCursor(t *testing.T) {
	ctx := context.Background()
	store := memory.NewFlowStore()
	flows := app.NewFlowService(store)

	if _, err := flows.Advance(ctx, "u1", domain.StageTerms); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := flows.Advance(ctx, "u1", domain.StagePreTest); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := flows.AdvanceQuestion(ctx, "u1"); err != nil {
		t.Fatalf("advance question: %v", err)
	}

	state, err := flows.Reset(ctx, "u1")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if state.Stage != domain.StageTerms || state.Condition != "" || state.LessonQuestionIndex != 0 {
		t.Fatalf("expected clean record after reset, got %+v", state)
	}

	// The reset must be durable, not just cached.
	stored, err := store.Load(ctx, "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if stored.Stage != domain.StageTerms || stored.Condition != "" {
		t.Fatalf("expected reset persisted, got %+v", stored)
	}
}

func TestRerunAfterResetReassignsCondition(t *testing.T) {
	ctx := context.Background()
	flows := app.NewFlowService(memory.NewFlowStore())

	first, err := flows.Current(ctx, "abc123")
	if err != nil {
		t.Fatalf("current: %v", err)
	}

	if _, err := flows.Advance(ctx, "abc123", domain.StageTerms); err != nil {
		t.Fatalf("advance: %v", err)
	}
	state, err := flows.Reset(ctx, "abc123")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if state.Condition != "" {
		t.Fatalf("expected condition cleared right after reset, got %s", state.Condition)
	}

	// Walking the flow again must not leave the participant condition-less;
	// the deterministic assignment is fixed again on the way out of terms.
	for _, from := range []domain.Stage{domain.StageTerms, domain.StagePreTest} {
		if state, err = flows.Advance(ctx, "abc123", from); err != nil {
			t.Fatalf("advance from %s: %v", from, err)
		}
		if state.Condition != first.Condition {
			t.Fatalf("expected condition %s restored at %s, got %q", first.Condition, state.Stage, state.Condition)
		}
	}
	if state.Stage != domain.StageLesson {
		t.Fatalf("expected lesson stage, got %s", state.Stage)
	}
}

func TestAdvanceQuestionOnlyInLesson(t *testing.T) {
	ctx := context.Background()
	flows := app.NewFlowService(memory.NewFlowStore())

	if _, err := flows.AdvanceQuestion(ctx, "u1"); err != domain.ErrStaleTransition {
		t.Fatalf("expected stale transition outside lesson, got %v", err)
	}
}

func TestOverrideConditionRequiresDevMode(t *testing.T) {
	ctx := context.Background()

	flows := app.NewFlowService(memory.NewFlowStore())
	if _, err := flows.OverrideCondition(ctx, "u1", domain.ConditionSolo); err != domain.ErrNotPermitted {
		t.Fatalf("expected not permitted, got %v", err)
	}

	dev := app.NewFlowService(memory.NewFlowStore(), app.WithDevMode(true))
	state, err := dev.OverrideCondition(ctx, "u1", domain.ConditionSolo)
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if state.Condition != domain.ConditionSolo {
		t.Fatalf("expected solo condition, got %s", state.Condition)
	}
	// Other participants keep their deterministic assignment.
	other, err := dev.Current(ctx, "u2")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if other.Condition != app.AssignCondition("u2") {
		t.Fatalf("override leaked to another participant: %s", other.Condition)
	}

	if _, err := dev.OverrideCondition(ctx, "u1", domain.Condition("bogus")); err != domain.ErrInvalidCondition {
		t.Fatalf("expected invalid condition, got %v", err)
	}
}

// failingStore accepts loads but refuses writes after a configurable count.
type failingStore struct {
	inner    app.FlowStore
	failNext bool
}

func (s *failingStore) Load(ctx context.Context, userID string) (domain.ParticipantFlowState, error) {
	return s.inner.Load(ctx, userID)
}

func (s *failingStore) Upsert(ctx context.Context, userID string, patch app.FlowPatch) (domain.ParticipantFlowState, error) {
	if s.failNext {
		return domain.ParticipantFlowState{}, errors.New("store unavailable")
	}
	return s.inner.Upsert(ctx, userID, patch)
}

func TestAdvanceRollsBackOnPersistFailure(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{inner: memory.NewFlowStore()}
	flows := app.NewFlowService(store)

	if _, err := flows.Current(ctx, "u1"); err != nil {
		t.Fatalf("current: %v", err)
	}

	store.failNext = true
	if _, err := flows.Advance(ctx, "u1", domain.StageTerms); err == nil {
		t.Fatalf("expected persistence failure to surface")
	}

	// The in-memory stage must not have advanced optimistically.
	store.failNext = false
	state, err := flows.Current(ctx, "u1")
	if err != nil {
		t.Fatalf("current after failure: %v", err)
	}
	if state.Stage != domain.StageTerms {
		t.Fatalf("expected rollback to terms, got %s", state.Stage)
	}
	// And the retried transition succeeds from the original stage.
	if _, err := flows.Advance(ctx, "u1", domain.StageTerms); err != nil {
		t.Fatalf("retry advance: %v", err)
	}
}
