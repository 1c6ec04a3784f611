// Package httpapi is the inbound webhook surface. Handlers acknowledge fast
// and hand the real work to the per-key sequencer; the caller never waits on
// the CRM.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/ulule/limiter/v3"
	limitermw "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	limitermem "github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/SmartGR/shopify-bitrix/internal/journal"
	"github.com/SmartGR/shopify-bitrix/internal/metrics"
	"github.com/SmartGR/shopify-bitrix/internal/relay"
	"github.com/SmartGR/shopify-bitrix/internal/sequencer"
	"github.com/SmartGR/shopify-bitrix/internal/shopify"
)

type Config struct {
	// WebhookSecret enables X-Shopify-Hmac-Sha256 verification when set.
	WebhookSecret   string
	MaxBodyBytes    int64
	RateLimitMax    int64
	RateLimitWindow time.Duration
	// TaskTimeout bounds one delivery's whole processing chain.
	TaskTimeout time.Duration
}

type Server struct {
	processor *relay.Processor
	seq       *sequencer.Sequencer
	journal   *journal.Journal
	cfg       Config
	logger    *slog.Logger
	schema    *jsonschema.Schema
	router    chi.Router
}

func NewServer(processor *relay.Processor, seq *sequencer.Sequencer, jrnl *journal.Journal, cfg Config, logger *slog.Logger) (*Server, error) {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := compileOrderSchema()
	if err != nil {
		return nil, err
	}
	s := &Server{
		processor: processor,
		seq:       seq,
		journal:   jrnl,
		cfg:       cfg,
		logger:    logger,
		schema:    schema,
	}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/dashboard", s.handleDashboard)
	r.Get("/ws/feed", s.handleFeed)
	r.Route("/webhooks/shopify", func(r chi.Router) {
		if cfg.RateLimitMax > 0 {
			instance := limiter.New(limitermem.NewStore(), limiter.Rate{
				Period: cfg.RateLimitWindow,
				Limit:  cfg.RateLimitMax,
			})
			r.Use(limitermw.NewMiddleware(instance).Handler)
		}
		r.Post("/order", s.handleOrder)
		r.Post("/loyalty", s.handleLoyalty)
	})
	s.router = r
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if s.cfg.WebhookSecret != "" {
		if !verifyShopifyHMAC(s.cfg.WebhookSecret, body, r.Header.Get("X-Shopify-Hmac-Sha256")) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "hmac verification failed"})
			return
		}
	}
	topic := r.Header.Get("X-Shopify-Topic")
	if topic == "" {
		topic = "orders/updated"
	}
	metrics.WebhooksReceived.WithLabelValues(topic).Inc()

	// A payload that will never parse must still be acked with a 200: the
	// storefront retries non-2xx responses indefinitely.
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		s.reject(r.Context(), w, topic, "", "payload is not valid JSON")
		return
	}
	if err := s.schema.Validate(instance); err != nil {
		s.reject(r.Context(), w, topic, "", "payload failed schema validation: "+err.Error())
		return
	}
	var order shopify.Order
	if err := json.Unmarshal(body, &order); err != nil {
		s.reject(r.Context(), w, topic, "", "payload failed to decode")
		return
	}
	key := order.ExternalID()
	if key == "" {
		s.reject(r.Context(), w, topic, "", "order has no id")
		return
	}

	entry := journal.Entry{
		ID:     uuid.NewString(),
		Topic:  topic,
		Key:    key,
		Status: journal.StatusAccepted,
	}
	s.journal.Record(r.Context(), entry)

	taskTimeout := s.cfg.TaskTimeout
	accepted := s.seq.Enqueue(key, func(ctx context.Context) error {
		taskCtx, cancel := context.WithTimeout(ctx, taskTimeout)
		defer cancel()
		return s.processor.ProcessOrder(taskCtx, entry, order)
	})
	if !accepted {
		s.logger.Warn("sequencer rejected delivery, shutting down", "key", key, "delivery_id", entry.ID)
	}
	writeText(w, http.StatusOK, "OK")
}

func (s *Server) handleLoyalty(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if s.cfg.WebhookSecret != "" {
		if !verifyShopifyHMAC(s.cfg.WebhookSecret, body, r.Header.Get("X-Shopify-Hmac-Sha256")) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "hmac verification failed"})
			return
		}
	}
	metrics.WebhooksReceived.WithLabelValues("loyalty/balance").Inc()

	var event relay.LoyaltyEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.reject(r.Context(), w, "loyalty/balance", "", "payload failed to decode")
		return
	}

	entry := journal.Entry{
		ID:     uuid.NewString(),
		Topic:  "loyalty/balance",
		Key:    event.Email,
		Status: journal.StatusAccepted,
	}
	s.journal.Record(r.Context(), entry)

	// Loyalty events are cheap single-field patches, processed inline.
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.TaskTimeout)
	defer cancel()
	if err := s.processor.ProcessLoyalty(ctx, event); err != nil {
		s.logger.Error("loyalty processing failed", "email", event.Email, "error", err)
		s.journal.Complete(ctx, entry, journal.StatusFailed, err.Error())
	} else {
		s.journal.Complete(ctx, entry, journal.StatusCompleted, "")
	}
	writeText(w, http.StatusOK, "OK")
}

func (s *Server) reject(ctx context.Context, w http.ResponseWriter, topic, key, reason string) {
	s.logger.Warn("delivery rejected", "topic", topic, "reason", reason)
	s.journal.Record(ctx, journal.Entry{
		ID:     uuid.NewString(),
		Topic:  topic,
		Key:    key,
		Status: journal.StatusRejected,
		Detail: reason,
	})
	writeText(w, http.StatusOK, "ignored")
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body exceeds configured limit"})
			return nil, false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
