package app

import (
	"context"
	"sync"
	"time"

	"study-flow-service/internal/domain"
)

// FlowStore abstracts how participant flow state is persisted (in-memory,
// Redis, etc). Upsert must be idempotent: applying the same patch twice yields
// the same stored state and is not an error.
type FlowStore interface {
	Load(ctx context.Context, userID string) (domain.ParticipantFlowState, error)
	Upsert(ctx context.Context, userID string, patch FlowPatch) (domain.ParticipantFlowState, error)
}

// FlowPatch is a partial update to a participant's flow record. Nil fields are
// left untouched by the store.
type FlowPatch struct {
	Stage               *domain.Stage
	Condition           *domain.Condition
	LessonQuestionIndex *int
}

// FlowService is the stage state machine for participant flows. It is the
// single source of truth callers consult and mutate; every transition is
// persisted before the in-memory state commits, so a store failure rolls the
// transition back instead of letting memory and storage diverge.
type FlowService struct {
	store   FlowStore
	devMode bool
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*flowEntry
}

// flowEntry serializes transitions for one participant and caches the last
// written state so reads after a write never see a stale store.
type flowEntry struct {
	mu     sync.Mutex
	loaded bool
	state  domain.ParticipantFlowState
}

// FlowOption configures a FlowService.
type FlowOption func(*FlowService)

// WithDevMode enables development-only operations (condition override).
func WithDevMode(enabled bool) FlowOption {
	return func(s *FlowService) { s.devMode = enabled }
}

// WithClock is test-only for deterministic timestamps.
func WithClock(now func() time.Time) FlowOption {
	return func(s *FlowService) { s.now = now }
}

func NewFlowService(store FlowStore, opts ...FlowOption) *FlowService {
	s := &FlowService{
		store:   store,
		now:     time.Now,
		entries: make(map[string]*flowEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FlowService) entry(userID string) *flowEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID]
	if !ok {
		e = &flowEntry{}
		s.entries[userID] = e
	}
	return e
}

// Current returns the participant's flow state, initializing a fresh record at
// terms with a deterministically assigned condition when none exists yet.
func (s *FlowService) Current(ctx context.Context, userID string) (domain.ParticipantFlowState, error) {
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return s.ensureLoadedLocked(ctx, userID, e)
}

func (s *FlowService) ensureLoadedLocked(ctx context.Context, userID string, e *flowEntry) (domain.ParticipantFlowState, error) {
	if e.loaded {
		return e.state, nil
	}
	state, err := s.store.Load(ctx, userID)
	if err == domain.ErrFlowNotFound {
		return s.initializeLocked(ctx, userID, e)
	}
	if err != nil {
		return domain.ParticipantFlowState{}, err
	}
	e.state = state
	e.loaded = true
	return state, nil
}

func (s *FlowService) initializeLocked(ctx context.Context, userID string, e *flowEntry) (domain.ParticipantFlowState, error) {
	stage := domain.StageTerms
	condition := AssignCondition(userID)
	index := 0
	state, err := s.store.Upsert(ctx, userID, FlowPatch{
		Stage:               &stage,
		Condition:           &condition,
		LessonQuestionIndex: &index,
	})
	if err != nil {
		return domain.ParticipantFlowState{}, err
	}
	e.state = state
	e.loaded = true
	return state, nil
}

// Advance moves the participant one step forward in canonical stage order.
// from must match the current stage; otherwise the caller's view of the world
// is outdated and ErrStaleTransition is returned. The transition is complete
// only once the store write is acknowledged.
func (s *FlowService) Advance(ctx context.Context, userID string, from domain.Stage) (domain.ParticipantFlowState, error) {
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	current, err := s.ensureLoadedLocked(ctx, userID, e)
	if err != nil {
		return domain.ParticipantFlowState{}, err
	}
	if from != current.Stage {
		return domain.ParticipantFlowState{}, domain.ErrStaleTransition
	}
	next, ok := current.Stage.Next()
	if !ok {
		return domain.ParticipantFlowState{}, domain.ErrTerminalStage
	}

	patch := FlowPatch{Stage: &next}
	if current.Condition == "" {
		// A reset cleared the condition; fix it again before the participant
		// enters the lesson track. Assignment is deterministic, so the
		// re-assigned condition matches the original one.
		condition := AssignCondition(userID)
		patch.Condition = &condition
	}

	state, err := s.store.Upsert(ctx, userID, patch)
	if err != nil {
		// Persistence failed: the in-memory state keeps the prior stage.
		return domain.ParticipantFlowState{}, err
	}
	e.state = state
	return state, nil
}

// AdvanceQuestion moves the lesson question cursor forward by one. Valid only
// within the lesson stage; the cursor never moves backward.
func (s *FlowService) AdvanceQuestion(ctx context.Context, userID string) (domain.ParticipantFlowState, error) {
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	current, err := s.ensureLoadedLocked(ctx, userID, e)
	if err != nil {
		return domain.ParticipantFlowState{}, err
	}
	if current.Stage != domain.StageLesson {
		return domain.ParticipantFlowState{}, domain.ErrStaleTransition
	}
	next := current.LessonQuestionIndex + 1
	state, err := s.store.Upsert(ctx, userID, FlowPatch{LessonQuestionIndex: &next})
	if err != nil {
		return domain.ParticipantFlowState{}, err
	}
	e.state = state
	return state, nil
}

// Reset unconditionally returns the participant to terms, clearing the
// condition and the lesson cursor. This is the only backward transition.
func (s *FlowService) Reset(ctx context.Context, userID string) (domain.ParticipantFlowState, error) {
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	stage := domain.StageTerms
	condition := domain.Condition("")
	index := 0
	state, err := s.store.Upsert(ctx, userID, FlowPatch{
		Stage:               &stage,
		Condition:           &condition,
		LessonQuestionIndex: &index,
	})
	if err != nil {
		return domain.ParticipantFlowState{}, err
	}
	e.state = state
	e.loaded = true
	return state, nil
}

// OverrideCondition forces a condition for one participant. Development only;
// the deterministic assignment for every other participant is unaffected.
func (s *FlowService) OverrideCondition(ctx context.Context, userID string, condition domain.Condition) (domain.ParticipantFlowState, error) {
	if !s.devMode {
		return domain.ParticipantFlowState{}, domain.ErrNotPermitted
	}
	if !condition.IsValid() {
		return domain.ParticipantFlowState{}, domain.ErrInvalidCondition
	}

	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := s.ensureLoadedLocked(ctx, userID, e); err != nil {
		return domain.ParticipantFlowState{}, err
	}
	state, err := s.store.Upsert(ctx, userID, FlowPatch{Condition: &condition})
	if err != nil {
		return domain.ParticipantFlowState{}, err
	}
	e.state = state
	return state, nil
}
