package triggers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/agentd/internal/bus"
	"github.com/nextlevelbuilder/agentd/internal/settings"
)

type firedRecorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *firedRecorder) Subscribe(id string, h bus.EventHandler) {}
func (r *firedRecorder) Unsubscribe(id string)                   {}
func (r *firedRecorder) Broadcast(e bus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *firedRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newWebhookFixture(t *testing.T, secret string) (*httptest.Server, *firedRecorder, *Registry) {
	t.Helper()
	dir := t.TempDir()
	reg, err := NewRegistry(filepath.Join(dir, "triggers.json"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	cfg := map[string]any{"path": "/hooks/ci"}
	if secret != "" {
		cfg["secret"] = secret
	}
	if _, err := reg.Create(TypeWebhook, "ci", cfg, messageAction()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	st, err := settings.NewManager(filepath.Join(dir, "settings.json"), "secret")
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	rec := &firedRecorder{}
	engine := NewEngine(reg, rec, st, dir)
	ws := &WebhookServer{registry: reg, engine: engine}

	srv := httptest.NewServer(http.HandlerFunc(ws.handle))
	t.Cleanup(srv.Close)
	return srv, rec, reg
}

func TestWebhookUnknownPath404(t *testing.T) {
	srv, rec, _ := newWebhookFixture(t, "")
	resp, err := http.Post(srv.URL+"/hooks/unknown", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if rec.count() != 0 {
		t.Error("unknown path fired a trigger")
	}
}

func TestWebhookNoSecretFires(t *testing.T) {
	srv, rec, reg := newWebhookFixture(t, "")
	resp, err := http.Post(srv.URL+"/hooks/ci", "application/json", strings.NewReader(`{"ref":"main"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if rec.count() != 1 {
		t.Fatalf("fired %d events, want 1", rec.count())
	}
	tr := reg.List()[0]
	if tr.FireCount != 1 || tr.LastTriggered == nil {
		t.Errorf("trigger not marked fired: %+v", tr)
	}
}

func TestWebhookSecretHeader(t *testing.T) {
	srv, rec, _ := newWebhookFixture(t, "hunter2")

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/hooks/ci", strings.NewReader("{}"))
	req.Header.Set("X-Webhook-Secret", "wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong secret status = %d, want 401", resp.StatusCode)
	}
	if rec.count() != 0 {
		t.Error("unauthorized request fired a trigger")
	}

	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/hooks/ci", strings.NewReader("{}"))
	req.Header.Set("X-Webhook-Secret", "hunter2")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid secret status = %d, want 200", resp.StatusCode)
	}
	if rec.count() != 1 {
		t.Errorf("fired %d events, want 1", rec.count())
	}
}

func TestWebhookHubSignature(t *testing.T) {
	srv, rec, _ := newWebhookFixture(t, "hunter2")
	body := `{"action":"push"}`

	mac := hmac.New(sha256.New, []byte("hunter2"))
	mac.Write([]byte(body))
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/hooks/ci", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sig)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid signature status = %d, want 200", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/hooks/ci", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad signature status = %d, want 401", resp.StatusCode)
	}
	if rec.count() != 1 {
		t.Errorf("fired %d events, want 1", rec.count())
	}

	// Missing header entirely when a secret is configured also 401s.
	resp, err = http.Post(srv.URL+"/hooks/ci", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no header status = %d, want 401", resp.StatusCode)
	}
}
