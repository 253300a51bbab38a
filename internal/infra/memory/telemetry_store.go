package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"study-flow-service/internal/domain"
)

// TelemetryStore is an in-memory implementation of app.SessionRepository and
// app.TestAttemptRepository.
type TelemetryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]domain.TranscriptRecord // userID -> stageKey -> record
	attempts map[string]map[domain.TestType]domain.TestAttemptRecord
	clock    func() time.Time
}

func NewTelemetryStore() *TelemetryStore {
	return &TelemetryStore{
		sessions: make(map[string]map[string]domain.TranscriptRecord),
		attempts: make(map[string]map[domain.TestType]domain.TestAttemptRecord),
		clock:    time.Now,
	}
}

func (s *TelemetryStore) UpsertSession(_ context.Context, record domain.TranscriptRecord) (domain.TranscriptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byStage, ok := s.sessions[record.UserID]
	if !ok {
		byStage = make(map[string]domain.TranscriptRecord)
		s.sessions[record.UserID] = byStage
	}
	byStage[record.StageKey] = record
	return record, nil
}

func (s *TelemetryStore) ListSessions(_ context.Context, userID string) ([]domain.TranscriptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byStage := s.sessions[userID]
	records := make([]domain.TranscriptRecord, 0, len(byStage))
	for _, record := range byStage {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].StageKey < records[j].StageKey
	})
	return records, nil
}

func (s *TelemetryStore) FinalizeSessions(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	for stageKey, record := range s.sessions[userID] {
		if record.Completed {
			continue
		}
		record.Completed = true
		if record.EndTime == nil {
			end := now
			record.EndTime = &end
		}
		s.sessions[userID][stageKey] = record
	}
	return nil
}

func (s *TelemetryStore) UpsertAttempt(_ context.Context, record domain.TestAttemptRecord) (domain.TestAttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byType, ok := s.attempts[record.UserID]
	if !ok {
		byType = make(map[domain.TestType]domain.TestAttemptRecord)
		s.attempts[record.UserID] = byType
	}
	byType[record.TestType] = record
	return record, nil
}

// Attempt returns the stored attempt for a participant and test type, if any.
func (s *TelemetryStore) Attempt(userID string, testType domain.TestType) (domain.TestAttemptRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.attempts[userID][testType]
	return record, ok
}
