package triggers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	maxWebhookBody = 1 << 20

	webhookReadTimeout  = 10 * time.Second
	webhookWriteTimeout = 10 * time.Second
)

// WebhookServer receives pushes on a loopback port and fires the
// matching webhook trigger. Unknown paths 404; a configured secret that
// does not match 401s before the trigger fires.
type WebhookServer struct {
	registry *Registry
	engine   *Engine
	addr     string
	srv      *http.Server
}

func NewWebhookServer(reg *Registry, engine *Engine, port int) *WebhookServer {
	return &WebhookServer{
		registry: reg,
		engine:   engine,
		addr:     net.JoinHostPort("127.0.0.1", fmt.Sprintf("%d", port)),
	}
}

// Start listens until ctx is cancelled.
func (w *WebhookServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", w.handle)
	w.srv = &http.Server{
		Addr:         w.addr,
		Handler:      mux,
		ReadTimeout:  webhookReadTimeout,
		WriteTimeout: webhookWriteTimeout,
	}

	ln, err := net.Listen("tcp", w.addr)
	if err != nil {
		return fmt.Errorf("webhook listen: %w", err)
	}
	slog.Info("webhook.listening", "addr", w.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.srv.Shutdown(shutdownCtx)
	}()

	if err := w.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (w *WebhookServer) handle(rw http.ResponseWriter, r *http.Request) {
	trigger := w.match(r.URL.Path)
	if trigger == nil {
		http.NotFound(rw, r)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(rw, "read body", http.StatusBadRequest)
		return
	}

	if secret, _ := trigger.Config["secret"].(string); secret != "" {
		if !webhookAuthorized(r, body, secret) {
			slog.Warn("webhook.unauthorized", "path", r.URL.Path, "remote", r.RemoteAddr)
			http.Error(rw, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	payload := map[string]any{
		"path":   r.URL.Path,
		"method": r.Method,
	}
	var parsed map[string]any
	if json.Unmarshal(body, &parsed) == nil {
		payload["body"] = parsed
	} else if len(body) > 0 {
		payload["body"] = string(body)
	}

	w.engine.Fire(trigger, payload)

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	json.NewEncoder(rw).Encode(map[string]string{"status": "ok"})
}

// match returns the enabled webhook trigger registered for path.
func (w *WebhookServer) match(path string) *Trigger {
	for _, t := range w.registry.ListEnabled(TypeWebhook) {
		if p, _ := t.Config["path"].(string); p == path {
			return t
		}
	}
	return nil
}

// webhookAuthorized accepts either the plain shared-secret header or a
// GitHub-style HMAC signature of the body.
func webhookAuthorized(r *http.Request, body []byte, secret string) bool {
	if presented := r.Header.Get("X-Webhook-Secret"); presented != "" {
		return subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) == 1
	}
	if sig := r.Header.Get("X-Hub-Signature-256"); sig != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
		return hmac.Equal([]byte(strings.ToLower(sig)), []byte(want))
	}
	return false
}
