package domain

import "time"

// ParticipantFlowState is the durable record of where a participant is in the
// experiment. One record per participant; recreated at terms on reset.
type ParticipantFlowState struct {
	UserID              string    `json:"userId"`
	Stage               Stage     `json:"flowStage"`
	Condition           Condition `json:"lessonType,omitempty"`
	LessonQuestionIndex int       `json:"lessonQuestionIndex"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Sender values for transcript messages.
const (
	SenderParticipant = "user"
	SenderAgent       = "agent"
)

// InternalAgentID marks messages that are scaffolding context for the client
// only. Any negative agent id is internal and is never replayed to the model.
const InternalAgentID = -1

// Message is one turn in a lesson or test conversation. Ordinal defines replay
// order; timestamps are informational.
type Message struct {
	Ordinal   int       `json:"ordinal"`
	Sender    string    `json:"sender"`
	AgentID   int       `json:"agentId,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Internal reports whether the message carries a sentinel internal marker.
func (m Message) Internal() bool {
	return m.AgentID < 0
}

// TranscriptRecord captures one stage attempt: the conversation, the final
// answer, and timing. Keyed by (UserID, StageKey); resubmitting the same pair
// replaces the prior record.
type TranscriptRecord struct {
	UserID              string     `json:"userId"`
	StageKey            string     `json:"questionId"`
	QuestionText        string     `json:"questionText,omitempty"`
	Messages            []Message  `json:"messages"`
	FinalAnswer         string     `json:"finalAnswer"`
	ScratchboardContent string     `json:"scratchboardContent"`
	StartTime           *time.Time `json:"startTime,omitempty"`
	EndTime             *time.Time `json:"endTime,omitempty"`
	DurationMs          int64      `json:"duration"`
	IsCorrect           *bool      `json:"isCorrect,omitempty"` // nil = unknown
	TimedOut            bool       `json:"timeoutOccurred"`
	Completed           bool       `json:"completed"`
}

// TestType identifies which scored test an attempt belongs to.
type TestType string

const (
	TestPre   TestType = "pre"
	TestPost  TestType = "post"
	TestFinal TestType = "final"
)

// IsValid reports whether t is a known test type.
func (t TestType) IsValid() bool {
	return t == TestPre || t == TestPost || t == TestFinal
}

// NoAnswerSentinel is stored when a participant submits without answering, so
// attempt records are always well-formed.
const NoAnswerSentinel = "NOT ANSWERED"

// TestQuestion is one scored question within a test attempt.
type TestQuestion struct {
	QuestionID    string `json:"questionId"`
	QuestionText  string `json:"questionText"`
	UserAnswer    string `json:"userAnswer"`
	CorrectAnswer string `json:"correctAnswer"`
	IsCorrect     bool   `json:"isCorrect"`
}

// TestAttemptRecord is one scored submission per (UserID, TestType). Score is
// derived from Questions on write; client-supplied values are not trusted.
type TestAttemptRecord struct {
	UserID      string            `json:"userId"`
	TestType    TestType          `json:"testType"`
	Questions   []TestQuestion    `json:"questions"`
	Score       int               `json:"score"`
	DurationMs  int64             `json:"duration"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	SubmittedAt time.Time         `json:"submittedAt"`
}

// LessonQuestion is one entry in a lesson's question sequence.
type LessonQuestion struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
	Answer string `json:"answer"`
}

// Lesson is the content the lesson-stage cursor indexes into.
type Lesson struct {
	ID        string           `json:"id"`
	Questions []LessonQuestion `json:"questions"`
}
