package app

import (
	"context"
	"sort"
	"time"

	"study-flow-service/internal/domain"
)

// SessionRepository persists stage-attempt transcripts. Upsert is keyed by
// (userID, stageKey): reattempting the same pair replaces the prior record.
type SessionRepository interface {
	UpsertSession(ctx context.Context, record domain.TranscriptRecord) (domain.TranscriptRecord, error)
	ListSessions(ctx context.Context, userID string) ([]domain.TranscriptRecord, error)
	FinalizeSessions(ctx context.Context, userID string) error
}

// TestAttemptRepository persists scored test attempts, one per
// (userID, testType).
type TestAttemptRepository interface {
	UpsertAttempt(ctx context.Context, record domain.TestAttemptRecord) (domain.TestAttemptRecord, error)
}

// TelemetryService records transcripts and test attempts exactly once per
// stage attempt. Scores are recomputed here from the question list; whatever
// a client claims its score was is discarded.
type TelemetryService struct {
	sessions SessionRepository
	attempts TestAttemptRepository
	flows    *FlowService
	now      func() time.Time
}

func NewTelemetryService(sessions SessionRepository, attempts TestAttemptRepository, flows *FlowService) *TelemetryService {
	return &TelemetryService{
		sessions: sessions,
		attempts: attempts,
		flows:    flows,
		now:      time.Now,
	}
}

// RecordSession normalizes and persists one stage-attempt transcript.
// Messages are ordered by ordinal before the write so replay order never
// depends on client timestamps.
func (t *TelemetryService) RecordSession(ctx context.Context, record domain.TranscriptRecord) (domain.TranscriptRecord, error) {
	sort.SliceStable(record.Messages, func(i, j int) bool {
		return record.Messages[i].Ordinal < record.Messages[j].Ordinal
	})
	if record.FinalAnswer == "" {
		record.FinalAnswer = domain.NoAnswerSentinel
	}
	return t.sessions.UpsertSession(ctx, record)
}

// Sessions lists all recorded transcripts for a participant.
func (t *TelemetryService) Sessions(ctx context.Context, userID string) ([]domain.TranscriptRecord, error) {
	return t.sessions.ListSessions(ctx, userID)
}

// Finalize closes out all open sessions for a participant. Safe to call
// repeatedly.
func (t *TelemetryService) Finalize(ctx context.Context, userID string) error {
	return t.sessions.FinalizeSessions(ctx, userID)
}

// RecordTestAttempt validates and persists a scored test attempt. The score is
// derived from the questions; absent answers are defaulted to the sentinel so
// partial submissions still produce well-formed records. A final-test attempt
// is only recordable once the flow has reached final-test.
func (t *TelemetryService) RecordTestAttempt(ctx context.Context, record domain.TestAttemptRecord) (domain.TestAttemptRecord, error) {
	if !record.TestType.IsValid() {
		return domain.TestAttemptRecord{}, domain.ErrInvalidTestType
	}
	if record.TestType == domain.TestFinal {
		state, err := t.flows.Current(ctx, record.UserID)
		if err != nil {
			return domain.TestAttemptRecord{}, err
		}
		if !state.Stage.Reached(domain.StageFinalTest) {
			return domain.TestAttemptRecord{}, domain.ErrFinalTestTooEarly
		}
	}

	for i := range record.Questions {
		if record.Questions[i].UserAnswer == "" {
			record.Questions[i].UserAnswer = domain.NoAnswerSentinel
		}
	}
	record.Score = scoreQuestions(record.Questions)
	record.SubmittedAt = t.now()
	return t.attempts.UpsertAttempt(ctx, record)
}

// scoreQuestions counts correct answers; this is the only place scores come
// from.
func scoreQuestions(questions []domain.TestQuestion) int {
	score := 0
	for _, q := range questions {
		if q.IsCorrect {
			score++
		}
	}
	return score
}
