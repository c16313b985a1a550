// Package gateway is the HTTP control plane: status surfaces, the admin
// API, and the sanitized WebSocket event stream. Everything except
// /health requires the gateway bearer token.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/agentd/internal/approvals"
	"github.com/nextlevelbuilder/agentd/internal/audit"
	"github.com/nextlevelbuilder/agentd/internal/bus"
	"github.com/nextlevelbuilder/agentd/internal/config"
	"github.com/nextlevelbuilder/agentd/internal/costs"
	"github.com/nextlevelbuilder/agentd/internal/guard"
	"github.com/nextlevelbuilder/agentd/internal/memory"
	"github.com/nextlevelbuilder/agentd/internal/orchestrator"
	"github.com/nextlevelbuilder/agentd/internal/settings"
	"github.com/nextlevelbuilder/agentd/internal/skills"
	"github.com/nextlevelbuilder/agentd/internal/tasks"
	"github.com/nextlevelbuilder/agentd/internal/triggers"
)

// Options wires the control plane to the kernel's stores.
type Options struct {
	Config   *config.Config
	Token    string
	Version  string
	Settings *settings.Manager

	Events bus.EventPublisher
	Router bus.MessageRouter

	Tasks        *tasks.FileStore
	Approvals    *approvals.Broker
	Costs        *costs.Tracker
	Triggers     *triggers.Registry
	Orchestrator *orchestrator.Orchestrator
	Audit        *audit.Logger
	Memory       *memory.Store
	Skills       *skills.Loader
	Limiter      *guard.RateLimiter

	// Provider and Model are the session loop's defaults, reported by
	// /status.
	Provider string
	Model    string
}

// Server serves the control plane.
type Server struct {
	opts    Options
	started time.Time

	upgrader websocket.Upgrader
	mu       sync.RWMutex
	clients  map[string]*Client

	mux        *http.ServeMux
	httpServer *http.Server
}

// NewServer builds the control plane server.
func NewServer(opts Options) *Server {
	s := &Server{
		opts:    opts,
		started: time.Now(),
		clients: map[string]*Client{},
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// The control plane is same-origin only; browser cross-origin
		// upgrades are refused, non-browser clients send no Origin.
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return strings.EqualFold(u.Host, r.Host)
		},
	}
	return s
}

// Handler returns the fully routed handler. Callers that serve on an
// extra listener (tsnet) reuse it.
func (s *Server) Handler() http.Handler {
	return secureHeaders(s.buildMux())
}

func (s *Server) buildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("GET /status", s.auth(s.handleStatus))
	mux.HandleFunc("GET /skills", s.auth(s.handleSkills))
	mux.HandleFunc("GET /memory", s.auth(s.handleMemory))

	mux.HandleFunc("GET /admin/api/settings", s.auth(s.handleSettingsGet))
	mux.HandleFunc("POST /admin/api/settings", s.auth(s.handleSettingsPatch))
	mux.HandleFunc("POST /admin/api/settings/confirm", s.auth(s.handleSettingsConfirm))

	mux.HandleFunc("GET /admin/api/tasks", s.auth(s.handleTasksList))
	mux.HandleFunc("GET /admin/api/tasks/{id}", s.auth(s.handleTaskGet))
	mux.HandleFunc("POST /admin/api/tasks/{id}/action", s.auth(s.handleTaskAction))

	mux.HandleFunc("GET /admin/api/approvals", s.auth(s.handleApprovalsList))
	mux.HandleFunc("POST /admin/api/approvals/{id}", s.auth(s.handleApprovalResolve))

	mux.HandleFunc("GET /admin/api/costs/today", s.auth(s.handleCostsToday))
	mux.HandleFunc("GET /admin/api/costs/history", s.auth(s.handleCostsHistory))
	mux.HandleFunc("GET /admin/api/costs/config", s.auth(s.handleCostsConfigGet))
	mux.HandleFunc("POST /admin/api/costs/config", s.auth(s.handleCostsConfigSet))

	mux.HandleFunc("GET /admin/api/triggers", s.auth(s.handleTriggersList))
	mux.HandleFunc("POST /admin/api/triggers/{id}/toggle", s.auth(s.handleTriggerToggle))
	mux.HandleFunc("DELETE /admin/api/triggers/{id}", s.auth(s.handleTriggerDelete))

	mux.HandleFunc("GET /admin/api/agents", s.auth(s.handleAgents))

	mux.HandleFunc("GET /admin/api/audit", s.auth(s.handleAudit))
	mux.HandleFunc("GET /admin/api/audit/dates", s.auth(s.handleAuditDates))

	s.mux = mux
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.opts.Config.Gateway.Host, s.opts.Config.Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.Handler()}

	slog.Info("gateway.listening", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// auth wraps a handler with the bearer-token check and per-client rate
// limiting. The token is also accepted as ?token= so WebSocket upgrades
// from browsers can authenticate.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := s.opts.Settings.Get()
		if st.Security.GatewayAuth && !guard.VerifyToken(extractToken(r), s.opts.Token) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		if s.opts.Limiter != nil {
			limit := st.Limits.RateLimitPerMinute
			if limit > 0 && !s.opts.Limiter.Allow("gateway:"+clientIP(r), limit) {
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
				return
			}
		}
		next(w, r)
	}
}

// secureHeaders applies the control-plane response header policy.
func secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("gateway.write_failed", "error", err)
	}
}

// readJSON decodes a body capped at the configured limit. Any decode
// failure is the caller's 400.
func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	limit := s.opts.Settings.Get().Limits.MaxRequestBodyBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("body exceeds %d bytes", maxErr.Limit)
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
}
