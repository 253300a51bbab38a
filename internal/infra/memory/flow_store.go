package memory

import (
	"context"
	"sync"
	"time"

	"study-flow-service/internal/app"
	"study-flow-service/internal/domain"
)

// FlowStore is an in-memory implementation of app.FlowStore.
type FlowStore struct {
	mu    sync.RWMutex
	flows map[string]domain.ParticipantFlowState
	clock func() time.Time
}

func NewFlowStore() *FlowStore {
	return &FlowStore{
		flows: make(map[string]domain.ParticipantFlowState),
		clock: time.Now,
	}
}

// NewFlowStoreWithClock is test-only for deterministic timestamps.
func NewFlowStoreWithClock(now func() time.Time) *FlowStore {
	s := NewFlowStore()
	s.clock = now
	return s
}

func (s *FlowStore) Load(_ context.Context, userID string) (domain.ParticipantFlowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.flows[userID]
	if !ok {
		return domain.ParticipantFlowState{}, domain.ErrFlowNotFound
	}
	return state, nil
}

func (s *FlowStore) Upsert(_ context.Context, userID string, patch app.FlowPatch) (domain.ParticipantFlowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	state, ok := s.flows[userID]
	if !ok {
		state = domain.ParticipantFlowState{
			UserID:    userID,
			Stage:     domain.StageTerms,
			CreatedAt: now,
		}
	}
	if patch.Stage != nil {
		state.Stage = *patch.Stage
	}
	if patch.Condition != nil {
		state.Condition = *patch.Condition
	}
	if patch.LessonQuestionIndex != nil {
		state.LessonQuestionIndex = *patch.LessonQuestionIndex
	}
	state.UpdatedAt = now
	s.flows[userID] = state
	return state, nil
}
