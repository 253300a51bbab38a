// Package ai turns a conversation transcript into a single chat-completion
// call against an OpenAI-compatible endpoint.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"study-flow-service/internal/domain"
)

// maxResponseSize bounds the endpoint response body.
const maxResponseSize = 4 * 1024 * 1024

// fallbackUserText is appended as a synthetic user entry when shaping leaves
// no user message. The endpoint rejects requests without one; sending this
// fixed opener instead is deliberate policy, not an error path.
const fallbackUserText = "Hello, let's get started."

// DefaultModel is used when neither options nor config name a model.
const DefaultModel = "gpt-4o-mini"

// EndpointError is a non-success response from the model endpoint. The raw
// status and body are preserved for diagnosis; the caller decides whether to
// retry or degrade.
type EndpointError struct {
	StatusCode int
	Message    string
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("model endpoint returned %d: %s", e.StatusCode, e.Message)
}

// Options select per-call behavior of Generate.
type Options struct {
	// SystemPrompt, when non-empty, becomes the leading system entry.
	SystemPrompt string
	// Model overrides the configured model identifier.
	Model string
	// Temperature overrides the configured default. nil uses the default.
	Temperature *float64
}

// Config carries the endpoint settings for a Generator.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// Temperature is the default sampling temperature: low for evaluation
	// stages, higher for open-ended tutoring. Chosen by deployment config,
	// not per call site.
	Temperature float64
}

// Generator is the stateless transcript-to-completion pipeline. It performs no
// retries and imposes no timeout of its own; both belong to the caller.
type Generator struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Generator) { g.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) { g.logger = logger }
}

func NewGenerator(cfg Config, opts ...Option) *Generator {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	g := &Generator{
		cfg:        cfg,
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// shapeMessages maps a transcript to the ordered request sequence: optional
// system entry first, then one user/assistant entry per message in ordinal
// order. The ordinal defines replay order; neither slice position nor
// timestamps are authoritative. Messages with sentinel internal agent ids are
// client-side scaffolding and are excluded. If no user entry survives, a
// synthetic one is appended so the request is always well-formed.
func shapeMessages(transcript []domain.Message, systemPrompt string) []chatMessage {
	ordered := make([]domain.Message, len(transcript))
	copy(ordered, transcript)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Ordinal < ordered[j].Ordinal
	})

	shaped := make([]chatMessage, 0, len(ordered)+2)
	if systemPrompt != "" {
		shaped = append(shaped, chatMessage{Role: "system", Content: systemPrompt})
	}

	hasUser := false
	for _, msg := range ordered {
		if msg.Internal() {
			continue
		}
		role := "user"
		if msg.Sender == domain.SenderAgent {
			role = "assistant"
		} else {
			hasUser = true
		}
		shaped = append(shaped, chatMessage{Role: role, Content: msg.Text})
	}

	if !hasUser {
		shaped = append(shaped, chatMessage{Role: "user", Content: fallbackUserText})
	}
	return shaped
}

// Generate shapes the transcript, calls the model endpoint once, and returns
// the generated text. An empty completion is a valid result, not a failure.
func (g *Generator) Generate(ctx context.Context, transcript []domain.Message, opts Options) (string, error) {
	model := opts.Model
	if model == "" {
		model = g.cfg.Model
	}
	temperature := g.cfg.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    shapeMessages(transcript, opts.SystemPrompt),
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	requestID := uuid.New().String()
	started := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpointURL(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Warn("model call failed", "request_id", requestID, "model", model, "error", err)
		return "", fmt.Errorf("call model endpoint: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("read model response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.logger.Warn("model endpoint rejected request",
			"request_id", requestID, "model", model, "status", resp.StatusCode)
		return "", &EndpointError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parse model response: %w", err)
	}

	content := ""
	if len(parsed.Choices) > 0 {
		content = parsed.Choices[0].Message.Content
	}
	g.logger.Debug("model call completed",
		"request_id", requestID, "model", model, "duration", time.Since(started))
	return content, nil
}

func (g *Generator) endpointURL() string {
	base := g.cfg.BaseURL
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	base = strings.TrimSuffix(base, "/")
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	return base + "/chat/completions"
}
