package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/miradorstack/mirador-chatops/internal/models"
	"github.com/miradorstack/mirador-chatops/internal/utils"
)

type fakeConversation struct {
	mu      sync.Mutex
	turns   []string
	resets  []string
	err     error
	filters []string
}

func (f *fakeConversation) HandleTurn(_ context.Context, sessionID, text string) (models.TurnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, sessionID+":"+text)
	res := models.TurnResult{
		TurnID:    "turn",
		SessionID: sessionID,
		Sequence:  len(f.turns),
		Intent:    &models.Intent{Type: models.IntentHelp, Confidence: 1},
	}
	return res, f.err
}

func (f *fakeConversation) Reset(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, sessionID)
	return nil
}

func (f *fakeConversation) Services(filter string) []models.Entity {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)
	return []models.Entity{{ID: "SERVICE-1", Name: "checkout"}}
}

func newTestHandler(conv Conversation, health HealthFunc) http.Handler {
	return NewHTTPHandler(conv, health, nil, []string{"*"}, nil)
}

func TestHTTPTurn(t *testing.T) {
	conv := &fakeConversation{}
	srv := httptest.NewServer(newTestHandler(conv, nil))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/sessions/s1/turns", "application/json", strings.NewReader(`{"text":"help"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var payload TurnPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.SessionID != "s1" || payload.Intent == nil || payload.Intent.Type != "help" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if len(conv.turns) != 1 || conv.turns[0] != "s1:help" {
		t.Fatalf("turn not forwarded: %v", conv.turns)
	}
}

func TestHTTPTurnErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{utils.NewKindError(utils.ErrValidation, "op", "bad", nil), http.StatusBadRequest},
		{utils.NewKindError(utils.ErrNotFound, "op", "missing", nil), http.StatusNotFound},
		{utils.NewKindError(utils.ErrUpstreamUnavailable, "op", "down", nil), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		conv := &fakeConversation{err: tc.err}
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/turns", strings.NewReader(`{"text":"check checkout"}`))
		newTestHandler(conv, nil).ServeHTTP(rec, req)

		if rec.Code != tc.want {
			t.Fatalf("%v: status = %d, want %d", tc.err, rec.Code, tc.want)
		}
		var payload TurnPayload
		if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if payload.Error == nil || payload.Intent == nil {
			t.Fatalf("failed turn should carry error and partial intent, got %+v", payload)
		}
	}
}

func TestHTTPTurnRejectsBadBody(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/turns", strings.NewReader(`{not json`))
	newTestHandler(&fakeConversation{}, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHTTPSessionsAndServices(t *testing.T) {
	conv := &fakeConversation{}
	handler := newTestHandler(conv, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sessions", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session status %d", rec.Code)
	}
	var created SessionRequest
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil || created.SessionID == "" {
		t.Fatalf("expected generated session id, got %+v (%v)", created, err)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/sessions/"+created.SessionID, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("reset status %d", rec.Code)
	}
	if len(conv.resets) != 1 || conv.resets[0] != created.SessionID {
		t.Fatalf("reset not forwarded: %v", conv.resets)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/services?filter=check", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("services status %d", rec.Code)
	}
	var list ServicesPayload
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Services) != 1 || conv.filters[0] != "check" {
		t.Fatalf("unexpected listing %+v filters=%v", list, conv.filters)
	}
}

func TestHTTPHealth(t *testing.T) {
	status := "NOT_SERVING"
	handler := newTestHandler(&fakeConversation{}, func() HealthPayload { return HealthPayload{Status: status} })

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before catalog load, got %d", rec.Code)
	}

	status = "SERVING"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestWebSocketTurns(t *testing.T) {
	conv := &fakeConversation{}
	srv := httptest.NewServer(newTestHandler(conv, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sessions/ws-1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for i, text := range []string{"help", "list services"} {
		if err := conn.WriteJSON(TurnRequest{Text: text}); err != nil {
			t.Fatalf("write: %v", err)
		}
		var payload TurnPayload
		if err := conn.ReadJSON(&payload); err != nil {
			t.Fatalf("read: %v", err)
		}
		if payload.SessionID != "ws-1" || payload.Sequence != i+1 {
			t.Fatalf("unexpected payload %+v", payload)
		}
	}
}
