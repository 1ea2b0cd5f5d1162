package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/miradorstack/mirador-chatops/internal/models"
	"github.com/miradorstack/mirador-chatops/internal/utils"
)

const maxBodyBytes = 64 << 10

// Conversation is the turn API served over HTTP and websockets.
type Conversation interface {
	HandleTurn(ctx context.Context, sessionID, text string) (models.TurnResult, error)
	Reset(ctx context.Context, sessionID string) error
	Services(filter string) []models.Entity
}

// HealthFunc reports current readiness.
type HealthFunc func() HealthPayload

// HTTPHandler serves the REST and websocket chat surface.
type HTTPHandler struct {
	conv     Conversation
	health   HealthFunc
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHTTPHandler builds the router wrapped in CORS handling. metricsHandler
// may be nil when metrics are served on a dedicated listener.
func NewHTTPHandler(conv Conversation, health HealthFunc, metricsHandler http.Handler, allowedOrigins []string, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &HTTPHandler{
		conv:   conv,
		health: health,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}

	router := mux.NewRouter()
	router.Use(h.recoverMiddleware, h.logMiddleware)
	router.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	if metricsHandler != nil {
		router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/sessions", h.handleCreateSession).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}", h.handleResetSession).Methods(http.MethodDelete)
	v1.HandleFunc("/sessions/{id}/turns", h.handleTurn).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/ws", h.handleWebSocket).Methods(http.MethodGet)
	v1.HandleFunc("/services", h.handleServices).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(router)
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload := HealthPayload{Status: "SERVING"}
	if h.health != nil {
		payload = h.health()
	}
	status := http.StatusOK
	if payload.Status != "SERVING" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, payload)
}

func (h *HTTPHandler) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusCreated, SessionRequest{SessionID: uuid.NewString()})
}

func (h *HTTPHandler) handleResetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.conv.Reset(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, utils.NewKindError(utils.ErrValidation, "http.turn", "invalid JSON body", err))
		return
	}
	req.SessionID = mux.Vars(r)["id"]

	res, err := h.conv.HandleTurn(r.Context(), req.SessionID, req.Text)
	payload := ToTurnPayload(res)
	if err != nil {
		payload.Error = ErrorFrom(err)
		writeJSON(w, statusFor(err), payload)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *HTTPHandler) handleServices(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("filter")
	writeJSON(w, http.StatusOK, ServicesPayload{Services: h.conv.Services(filter)})
}

// handleWebSocket runs one turn per inbound text message and answers with a
// turn payload. The connection is bound to the session in the path.
func (h *HTTPHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	ctx := r.Context()
	for {
		var req TurnRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed", slog.String("session", sessionID), slog.Any("error", err))
			}
			return
		}
		res, err := h.conv.HandleTurn(ctx, sessionID, req.Text)
		payload := ToTurnPayload(res)
		payload.Error = ErrorFrom(err)
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(payload); err != nil {
			h.logger.Debug("websocket write failed", slog.String("session", sessionID), slog.Any("error", err))
			return
		}
	}
}

func (h *HTTPHandler) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)))
	})
}

func (h *HTTPHandler) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				h.logger.Error("http handler panic", slog.Any("panic", v), slog.String("path", r.URL.Path))
				writeJSON(w, http.StatusInternalServerError, ErrorPayload{Kind: "internal", Message: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	}
	switch utils.KindOf(err) {
	case utils.ErrValidation:
		return http.StatusBadRequest
	case utils.ErrNotFound:
		return http.StatusNotFound
	case utils.ErrUpstreamUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), ErrorFrom(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}
