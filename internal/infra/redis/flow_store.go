package redis

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"study-flow-service/internal/app"
	"study-flow-service/internal/domain"
)

// FlowStore is a Redis-backed implementation of app.FlowStore. One JSON
// document per participant under flow:{userId}, last-writer-wins. The last
// written state is also kept locally and preferred over a read, so a lagging
// replica can never hand the guard a stale stage for a session this process
// just wrote.
type FlowStore struct {
	client *redis.Client
	ttl    time.Duration
	clock  func() time.Time

	mu      sync.RWMutex
	written map[string]domain.ParticipantFlowState
}

func NewFlowStore(client *redis.Client, ttl time.Duration) *FlowStore {
	return &FlowStore{
		client:  client,
		ttl:     ttl,
		clock:   time.Now,
		written: make(map[string]domain.ParticipantFlowState),
	}
}

func (s *FlowStore) Load(ctx context.Context, userID string) (domain.ParticipantFlowState, error) {
	s.mu.RLock()
	cached, ok := s.written[userID]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	raw, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if err == redis.Nil {
		return domain.ParticipantFlowState{}, domain.ErrFlowNotFound
	}
	if err != nil {
		return domain.ParticipantFlowState{}, err
	}
	var state domain.ParticipantFlowState
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.ParticipantFlowState{}, err
	}
	return state, nil
}

func (s *FlowStore) Upsert(ctx context.Context, userID string, patch app.FlowPatch) (domain.ParticipantFlowState, error) {
	state, err := s.Load(ctx, userID)
	if err == domain.ErrFlowNotFound {
		state = domain.ParticipantFlowState{
			UserID:    userID,
			Stage:     domain.StageTerms,
			CreatedAt: s.clock(),
		}
	} else if err != nil {
		return domain.ParticipantFlowState{}, err
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
	state.UpdatedAt = s.clock()

	raw, err := json.Marshal(state)
	if err != nil {
		return domain.ParticipantFlowState{}, err
	}
	if err := s.client.Set(ctx, s.key(userID), raw, s.ttl).Err(); err != nil {
		return domain.ParticipantFlowState{}, err
	}

	s.mu.Lock()
	s.written[userID] = state
	s.mu.Unlock()
	return state, nil
}

func (s *FlowStore) key(userID string) string {
	return "flow:" + userID
}
