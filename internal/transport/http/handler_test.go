package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"study-flow-service/internal/app"
	"study-flow-service/internal/domain"
	"study-flow-service/internal/infra/memory"
)

func newTestServer(t *testing.T, devMode bool) (*httptest.Server, *app.FlowService) {
	t.Helper()
	flows := app.NewFlowService(memory.NewFlowStore(), app.WithDevMode(devMode))
	store := memory.NewTelemetryStore()
	telemetry := app.NewTelemetryService(store, store, flows)

	mux := http.NewServeMux()
	NewHandler(flows, telemetry).Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, flows
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func TestFlowEndpointInitializesParticipant(t *testing.T) {
	server, _ := newTestServer(t, false)

	resp, err := http.Get(server.URL + "/api/flow?userId=abc123")
	if err != nil {
		t.Fatalf("get flow: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var state domain.ParticipantFlowState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.Stage != domain.StageTerms {
		t.Fatalf("expected terms, got %s", state.Stage)
	}
	if state.Condition != app.AssignCondition("abc123") {
		t.Fatalf("expected assigned condition, got %s", state.Condition)
	}
}

func TestAdvanceEndpointConflictsOnStaleStage(t *testing.T) {
	server, _ := newTestServer(t, false)

	resp := postJSON(t, server.URL+"/api/flow/advance", map[string]string{
		"userId": "u1", "fromStage": "terms",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp = postJSON(t, server.URL+"/api/flow/advance", map[string]string{
		"userId": "u1", "fromStage": "terms",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on stale transition, got %d", resp.StatusCode)
	}
}

func TestOverrideEndpointForbiddenOutsideDev(t *testing.T) {
	server, _ := newTestServer(t, false)

	resp := postJSON(t, server.URL+"/api/flow/override", map[string]string{
		"userId": "u1", "condition": "solo",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}

	devServer, _ := newTestServer(t, true)
	resp = postJSON(t, devServer.URL+"/api/flow/override", map[string]string{
		"userId": "u1", "condition": "solo",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 in dev mode, got %d", resp.StatusCode)
	}
	var state domain.ParticipantFlowState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.Condition != domain.ConditionSolo {
		t.Fatalf("expected solo, got %s", state.Condition)
	}
}

func TestResetEndpointReturnsToTerms(t *testing.T) {
	server, flows := newTestServer(t, false)

	if _, err := flows.Advance(context.Background(), "u1", domain.StageTerms); err != nil {
		t.Fatalf("advance: %v", err)
	}

	resp := postJSON(t, server.URL+"/api/flow/reset", map[string]string{"userId": "u1"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var state domain.ParticipantFlowState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.Stage != domain.StageTerms || state.Condition != "" {
		t.Fatalf("expected clean reset, got %+v", state)
	}
}

func TestTestsEndpointRecomputesScore(t *testing.T) {
	server, _ := newTestServer(t, false)

	resp := postJSON(t, server.URL+"/api/tests", map[string]any{
		"userId":   "u1",
		"testType": "pre",
		"score":    50,
		"questions": []map[string]any{
			{"questionId": "q1", "userAnswer": "a", "isCorrect": true},
			{"questionId": "q2", "userAnswer": "b", "isCorrect": false},
		},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var saved domain.TestAttemptRecord
	if err := json.NewDecoder(resp.Body).Decode(&saved); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if saved.Score != 1 {
		t.Fatalf("expected recomputed score 1, got %d", saved.Score)
	}
}

func TestSessionsEndpointRoundTrip(t *testing.T) {
	server, _ := newTestServer(t, false)

	resp := postJSON(t, server.URL+"/api/sessions", map[string]any{
		"userId":      "u1",
		"questionId":  "q1",
		"finalAnswer": "24",
		"messages": []map[string]any{
			{"ordinal": 1, "sender": "user", "text": "is it 24?"},
		},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	listResp, err := http.Get(server.URL + "/api/sessions?userId=u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer listResp.Body.Close()
	var records []domain.TranscriptRecord
	if err := json.NewDecoder(listResp.Body).Decode(&records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 1 || records[0].FinalAnswer != "24" {
		t.Fatalf("expected stored record, got %+v", records)
	}

	finalizeResp := postJSON(t, server.URL+"/api/sessions/finalize", map[string]string{"userId": "u1"})
	finalizeResp.Body.Close()
	if finalizeResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", finalizeResp.StatusCode)
	}
}
