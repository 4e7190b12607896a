// Package handler is the webhook transport: Meta's verification challenge,
// delivery parsing and dispatch of inbound messages to the orchestrator,
// served over chi or as an API Gateway Lambda.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"whatsapp-agent/internal/domain"
	"whatsapp-agent/internal/metrics"
	"whatsapp-agent/internal/phone"
	"whatsapp-agent/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 1 << 20

	defaultEventTimeout  = 30 * time.Second
	defaultMaxConcurrent = 8
	defaultDedupTTL      = 10 * time.Minute
	defaultDedupSize     = 4096

	outcomeDuplicate = "duplicate"
)

// Processor handles one inbound message. *usecase.Orchestrator satisfies it.
type Processor interface {
	Handle(ctx context.Context, msg domain.InboundMessage) (usecase.Outcome, error)
}

type Config struct {
	VerifyToken   string
	Normalizer    phone.Normalizer
	EventTimeout  time.Duration
	MaxConcurrent int
	DedupTTL      time.Duration
	DedupSize     int
}

type Option func(*Handler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

type Handler struct {
	processor     Processor
	verifyToken   string
	normalizer    phone.Normalizer
	eventTimeout  time.Duration
	maxConcurrent int
	dedupTTL      time.Duration

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	dedupMu sync.Mutex
	dedup   *lru.Cache[string, time.Time]
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	metrics *metrics.Metrics
	logger  *slog.Logger
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type receiveResponse struct {
	Status   string `json:"status"`
	Accepted int    `json:"accepted"`
}

func NewHandler(p Processor, cfg Config, opts ...Option) (*Handler, error) {
	if p == nil {
		return nil, errors.New("handler: processor must not be nil")
	}
	if strings.TrimSpace(cfg.VerifyToken) == "" {
		return nil, errors.New("handler: verify token must not be empty")
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = defaultEventTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = defaultDedupTTL
	}
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = defaultDedupSize
	}
	dedup, err := lru.New[string, time.Time](cfg.DedupSize)
	if err != nil {
		return nil, fmt.Errorf("handler: message deduper init: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		processor:     p,
		verifyToken:   cfg.VerifyToken,
		normalizer:    cfg.Normalizer,
		eventTimeout:  cfg.EventTimeout,
		maxConcurrent: cfg.MaxConcurrent,
		dedupTTL:      cfg.DedupTTL,
		sem:           semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		dedup:         dedup,
		now:           time.Now,
		ctx:           ctx,
		cancel:        cancel,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "handler")
	return h, nil
}

// verify answers Meta's subscription challenge.
func (h *Handler) verify(mode, token, challenge string) (int, string) {
	if mode == "subscribe" && token == h.verifyToken {
		return http.StatusOK, challenge
	}
	return http.StatusForbidden, ""
}

// Verify is the GET side of the webhook.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, body := h.verify(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"))
	if status != http.StatusOK {
		h.logger.Warn("webhook verification rejected", "mode", q.Get("hub.mode"))
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// Receive is the POST side of the webhook. It acknowledges as soon as the
// delivery is parsed; messages are processed in the background.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	corrID := correlationID(r.Header.Get(correlationHeader))
	w.Header().Set(correlationHeader, corrID)

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "unreadable body"})
		return
	}
	msgs, err := h.parse(raw)
	if err != nil {
		h.logger.Warn("malformed webhook delivery", "correlation_id", corrID, "err", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "invalid JSON"})
		return
	}

	accepted := 0
	for _, msg := range msgs {
		if h.isDuplicate(msg.ID) {
			h.metrics.InboundEvent(outcomeDuplicate)
			continue
		}
		accepted++
		h.dispatch(msg, corrID)
	}
	writeJSON(w, http.StatusOK, receiveResponse{Status: "received", Accepted: accepted})
}

func (h *Handler) dispatch(msg domain.InboundMessage, corrID string) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.sem.Acquire(h.ctx, 1); err != nil {
			h.logger.Warn("dropping message on shutdown", "correlation_id", corrID, "message_id", msg.ID)
			return
		}
		defer h.sem.Release(1)
		h.process(h.ctx, msg, corrID)
	}()
}

func (h *Handler) process(parent context.Context, msg domain.InboundMessage, corrID string) {
	ctx, cancel := context.WithTimeout(parent, h.eventTimeout)
	defer cancel()

	start := time.Now()
	outcome, err := h.processor.Handle(ctx, msg)
	logger := h.logger.With(
		"correlation_id", corrID,
		"message_id", msg.ID,
		"from", msg.From,
		"outcome", string(outcome),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if err == nil {
		logger.Info("inbound message processed")
		return
	}
	code, _ := usecase.CodeOf(err)
	switch code {
	case usecase.ErrorInvalidInput:
		logger.Debug("inbound message skipped", "err", err)
	case usecase.ErrorRateLimited:
		logger.Warn("inbound message rate limited", "err", err)
	default:
		logger.Error("inbound message failed", "code", string(code), "err", err)
	}
}

func (h *Handler) parse(raw []byte) ([]domain.InboundMessage, error) {
	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("handler: decode delivery: %w", err)
	}
	return extractMessages(payload, h.normalizer), nil
}

// isDuplicate records messageID and reports whether it was already seen
// within the dedup window. WhatsApp redelivers webhooks it considers unacked.
func (h *Handler) isDuplicate(messageID string) bool {
	if messageID == "" {
		return false
	}
	h.dedupMu.Lock()
	defer h.dedupMu.Unlock()

	now := h.now()
	if ts, ok := h.dedup.Get(messageID); ok {
		if now.Sub(ts) <= h.dedupTTL {
			return true
		}
		h.dedup.Remove(messageID)
	}
	h.dedup.Add(messageID, now)
	return false
}

// Shutdown waits for in-flight messages until ctx is done, then cancels the
// rest.
func (h *Handler) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		h.cancel()
		return nil
	case <-ctx.Done():
		h.cancel()
		<-done
		return ctx.Err()
	}
}

// Handle is the API Gateway Lambda entry point. Unlike Receive it processes
// every message before returning, since the execution environment is frozen
// once the invocation ends.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(headerValue(req.Headers, correlationHeader))
	headers := map[string]string{correlationHeader: corrID}

	switch req.HTTPMethod {
	case http.MethodGet:
		q := req.QueryStringParameters
		status, body := h.verify(q["hub.mode"], q["hub.verify_token"], q["hub.challenge"])
		if status == http.StatusOK {
			headers["Content-Type"] = "text/plain; charset=utf-8"
		}
		return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers, Body: body}, nil

	case http.MethodPost:
		body := []byte(req.Body)
		if req.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(req.Body)
			if err != nil {
				return jsonResponse(http.StatusBadRequest, headers, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "invalid base64 body"}), nil
			}
			body = decoded
		}
		msgs, err := h.parse(body)
		if err != nil {
			h.logger.Warn("malformed webhook delivery", "correlation_id", corrID, "err", err)
			return jsonResponse(http.StatusBadRequest, headers, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "invalid JSON"}), nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(h.maxConcurrent)
		accepted := 0
		for _, msg := range msgs {
			if h.isDuplicate(msg.ID) {
				h.metrics.InboundEvent(outcomeDuplicate)
				continue
			}
			accepted++
			msg := msg
			g.Go(func() error {
				h.process(gctx, msg, corrID)
				return nil
			})
		}
		_ = g.Wait()
		return jsonResponse(http.StatusOK, headers, receiveResponse{Status: "received", Accepted: accepted}), nil

	default:
		return jsonResponse(http.StatusMethodNotAllowed, headers, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "method not allowed"}), nil
	}
}

func correlationID(v string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return newUUID()
}

// headerValue looks a header up case-insensitively; API Gateway passes
// headers through as sent.
func headerValue(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func jsonResponse(status int, headers map[string]string, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	headers["Content-Type"] = "application/json"
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers, Body: string(body)}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

var newUUID = func() string {
	return uuid.NewString()
}
