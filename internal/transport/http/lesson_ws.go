package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"study-flow-service/internal/ai"
	"study-flow-service/internal/app"
	"study-flow-service/internal/domain"
	"study-flow-service/internal/infra/memory"
)

// TurnGenerator produces a tutor turn from the conversation so far. Satisfied
// by ai.Generator; stubbed in tests.
type TurnGenerator interface {
	Generate(ctx context.Context, transcript []domain.Message, opts ai.Options) (string, error)
}

// LessonWSHandler runs the tutored lesson conversation over a websocket. The
// guard is consulted before the upgrade, so a tab parked on a stale lesson URL
// gets reset instead of a chat session.
type LessonWSHandler struct {
	flows     *app.FlowService
	guard     *app.Guard
	telemetry *app.TelemetryService
	lessons   *memory.LessonRepository
	generator TurnGenerator
	upgrader  websocket.Upgrader
}

func NewLessonWSHandler(flows *app.FlowService, guard *app.Guard, telemetry *app.TelemetryService, lessons *memory.LessonRepository, generator TurnGenerator) *LessonWSHandler {
	return &LessonWSHandler{
		flows:     flows,
		guard:     guard,
		telemetry: telemetry,
		lessons:   lessons,
		generator: generator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type chatPayload struct {
	Text    string `json:"text"`
	AgentID int    `json:"agentId"`
}

type completePayload struct {
	FinalAnswer         string `json:"finalAnswer"`
	ScratchboardContent string `json:"scratchboardContent"`
	DurationMs          int64  `json:"duration"`
	TimedOut            bool   `json:"timeoutOccurred"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type tutorPayload struct {
	Text    string `json:"text"`
	Ordinal int    `json:"ordinal"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS validates the lesson stage, upgrades the connection, and drives the
// tutoring exchange: participant turns in, generated tutor turns out, and a
// final transcript record on completion.
func (h *LessonWSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	lessonID := r.URL.Query().Get("lessonId")
	if userID == "" || lessonID == "" {
		http.Error(w, "missing userId or lessonId", http.StatusBadRequest)
		return
	}

	if err := h.guard.Validate(r.Context(), userID, domain.StageLesson); err != nil {
		if errors.Is(err, domain.ErrResetRequired) {
			http.Error(w, "flow reset, return to entry", http.StatusConflict)
			return
		}
		http.Error(w, "flow unavailable", http.StatusInternalServerError)
		return
	}

	state, err := h.flows.Current(r.Context(), userID)
	if err != nil {
		http.Error(w, "flow unavailable", http.StatusInternalServerError)
		return
	}
	lesson, err := h.lessons.GetLesson(r.Context(), lessonID)
	if err != nil {
		http.Error(w, "lesson not found", http.StatusNotFound)
		return
	}
	if state.LessonQuestionIndex >= len(lesson.Questions) {
		http.Error(w, "lesson already finished", http.StatusConflict)
		return
	}
	question := lesson.Questions[state.LessonQuestionIndex]

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	transcript := []domain.Message{}
	ordinal := 0
	systemPrompt := tutorPrompt(state.Condition, question)

	send := func(msg any) bool {
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("ws write error: %v", err)
			return false
		}
		return true
	}

	if !send(outboundMessage[tutorPayload]{Type: "question", Payload: tutorPayload{Text: question.Prompt, Ordinal: ordinal}}) {
		return
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		switch inbound.Type {
		case "message":
			var payload chatPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: "invalid chat payload"}})
				continue
			}
			ordinal++
			transcript = append(transcript, domain.Message{
				Ordinal:   ordinal,
				Sender:    domain.SenderParticipant,
				AgentID:   payload.AgentID,
				Text:      payload.Text,
				Timestamp: time.Now(),
			})

			reply, err := h.generator.Generate(r.Context(), transcript, ai.Options{SystemPrompt: systemPrompt})
			if err != nil {
				// Surfaced, never swallowed: the client decides whether to retry.
				send(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
				continue
			}
			ordinal++
			transcript = append(transcript, domain.Message{
				Ordinal:   ordinal,
				Sender:    domain.SenderAgent,
				Text:      reply,
				Timestamp: time.Now(),
			})
			if !send(outboundMessage[tutorPayload]{Type: "tutor", Payload: tutorPayload{Text: reply, Ordinal: ordinal}}) {
				return
			}
		case "complete":
			var payload completePayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: "invalid complete payload"}})
				continue
			}
			record := domain.TranscriptRecord{
				UserID:              userID,
				StageKey:            question.ID,
				QuestionText:        question.Prompt,
				Messages:            transcript,
				FinalAnswer:         payload.FinalAnswer,
				ScratchboardContent: payload.ScratchboardContent,
				DurationMs:          payload.DurationMs,
				TimedOut:            payload.TimedOut,
				Completed:           true,
			}
			if _, err := h.telemetry.RecordSession(r.Context(), record); err != nil {
				send(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
				continue
			}
			if _, err := h.flows.AdvanceQuestion(r.Context(), userID); err != nil {
				send(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
				continue
			}
			send(outboundMessage[map[string]bool]{Type: "saved", Payload: map[string]bool{"success": true}})
			return
		default:
			send(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
		}
	}
}

// tutorPrompt frames the model as the tutoring configuration the participant
// was assigned to.
func tutorPrompt(condition domain.Condition, question domain.LessonQuestion) string {
	base := "You are a patient math tutor. The current problem is: " + question.Prompt +
		" Guide the learner toward the answer without stating it outright."
	switch condition {
	case domain.ConditionGroup:
		return base + " You moderate a group discussion between the learner and two peer agents."
	case domain.ConditionMulti:
		return base + " You are one of several tutoring agents taking turns with the learner."
	case domain.ConditionSingle:
		return base + " You are the learner's only tutor."
	default:
		return base + " Answer only direct questions; the learner works independently."
	}
}
