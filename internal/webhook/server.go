// Package webhook receives Telegram updates for every tenant on one HTTP
// endpoint and hands them to the dispatcher.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/KnotATypo/Telegram-Bots/internal/dispatcher"
	"github.com/KnotATypo/Telegram-Bots/internal/metrics"
	"github.com/KnotATypo/Telegram-Bots/internal/models"
	"github.com/KnotATypo/Telegram-Bots/internal/telegram"
	"go.uber.org/zap"
)

const (
	SecretHeader = "X-Telegram-Bot-Api-Secret-Token"
	TenantHeader = "X-Bot-Tenant"

	maxBodyBytes = 1 << 20
)

// Enqueuer accepts events for asynchronous handling. It must not block.
type Enqueuer interface {
	Submit(handler dispatcher.Handler, event *models.Event)
}

type Server struct {
	registry *Registry
	enqueuer Enqueuer
	logger   *zap.Logger
	server   *http.Server
}

func NewServer(addr string, registry *Registry, enqueuer Enqueuer, logger *zap.Logger) *Server {
	s := &Server{
		registry: registry,
		enqueuer: enqueuer,
		logger:   logger,
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the endpoint's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("POST /webhook/{tenant}", s.handleWebhook)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/{tenant}", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Starting webhook server",
		zap.String("addr", s.server.Addr),
		zap.Strings("tenants", s.registry.Tenants()))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	tenant := resolveTenant(r)
	b, err := s.registry.Lookup(tenant)
	if err != nil {
		s.logger.Warn("Webhook for unknown tenant",
			zap.String("tenant", tenant),
			zap.String("host", r.Host))
		metrics.WebhookRequests.WithLabelValues("", "unknown_tenant").Inc()
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	if !b.Authorized(r.Header.Get(SecretHeader)) {
		s.logger.Warn("Rejected webhook with bad secret", zap.String("tenant", tenant))
		metrics.WebhookRequests.WithLabelValues(tenant, "unauthorized").Inc()
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&update); err != nil {
		s.logger.Warn("Failed to decode update", zap.String("tenant", tenant), zap.Error(err))
		metrics.WebhookRequests.WithLabelValues(tenant, "bad_request").Inc()
		writeError(w, http.StatusBadRequest, "invalid update")
		return
	}

	event, ok := telegram.EventFromUpdate(tenant, update)
	if !ok {
		s.logger.Debug("Ignoring update without message",
			zap.String("tenant", tenant),
			zap.Int("update_id", update.UpdateID))
		metrics.WebhookRequests.WithLabelValues(tenant, "ignored").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	s.enqueuer.Submit(b, event)
	metrics.WebhookRequests.WithLabelValues(tenant, "accepted").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	tenant := resolveTenant(r)
	if _, err := s.registry.Lookup(tenant); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "tenant": tenant})
}

// resolveTenant picks the tenant from the path, then the tenant header, then
// the first label of the Host.
func resolveTenant(r *http.Request) string {
	if tenant := r.PathValue("tenant"); tenant != "" {
		return strings.ToLower(tenant)
	}
	if tenant := r.Header.Get(TenantHeader); tenant != "" {
		return strings.ToLower(strings.TrimSpace(tenant))
	}

	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	label, _, _ := strings.Cut(host, ".")
	return strings.ToLower(label)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
