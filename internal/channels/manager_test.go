package channels

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/agentd/internal/bus"
)

// fakeChannel records calls so tests can assert on dispatch behavior.
type fakeChannel struct {
	name     string
	startErr error

	mu      sync.Mutex
	started bool
	stopped bool
	sent    []bus.OutboundMessage
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeChannel) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) sentMessages() []bus.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bus.OutboundMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestManagerDispatch(t *testing.T) {
	t.Run("routes outbound to the named channel", func(t *testing.T) {
		b := bus.New()
		m := NewManager(b)
		tg := &fakeChannel{name: "telegram"}
		dc := &fakeChannel{name: "discord"}
		m.Register(tg)
		m.Register(dc)

		if err := m.StartAll(context.Background()); err != nil {
			t.Fatalf("StartAll: %v", err)
		}
		defer m.StopAll(context.Background())

		b.PublishOutbound(bus.OutboundMessage{Channel: "telegram", ChatID: "c1", Content: "hi"})
		b.PublishOutbound(bus.OutboundMessage{Channel: "discord", ChatID: "c2", Content: "yo"})

		waitFor(t, func() bool {
			return len(tg.sentMessages()) == 1 && len(dc.sentMessages()) == 1
		})

		if got := tg.sentMessages()[0]; got.ChatID != "c1" || got.Content != "hi" {
			t.Errorf("telegram got %+v", got)
		}
		if got := dc.sentMessages()[0]; got.ChatID != "c2" || got.Content != "yo" {
			t.Errorf("discord got %+v", got)
		}
	})
}

func TestManagerDropsInternalOutbound(t *testing.T) {
	b := bus.New()
	m := NewManager(b)
	tg := &fakeChannel{name: "telegram"}
	m.Register(tg)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	defer m.StopAll(context.Background())

	b.PublishOutbound(bus.OutboundMessage{Channel: "heartbeat", Content: "dropped"})
	b.PublishOutbound(bus.OutboundMessage{Channel: "telegram", ChatID: "c1", Content: "kept"})

	waitFor(t, func() bool { return len(tg.sentMessages()) == 1 })
	if got := tg.sentMessages()[0].Content; got != "kept" {
		t.Errorf("delivered %q, want the non-internal message", got)
	}
}

func TestManagerSkipsUnknownChannel(t *testing.T) {
	b := bus.New()
	m := NewManager(b)
	tg := &fakeChannel{name: "telegram"}
	m.Register(tg)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	defer m.StopAll(context.Background())

	b.PublishOutbound(bus.OutboundMessage{Channel: "slack", Content: "nobody home"})
	b.PublishOutbound(bus.OutboundMessage{Channel: "telegram", ChatID: "c1", Content: "after"})

	waitFor(t, func() bool { return len(tg.sentMessages()) == 1 })
	if got := tg.sentMessages()[0].Content; got != "after" {
		t.Errorf("delivered %q, want the message for the known channel", got)
	}
}

func TestManagerStartAllFailsFast(t *testing.T) {
	b := bus.New()
	m := NewManager(b)
	m.Register(&fakeChannel{name: "telegram", startErr: errors.New("bad token")})
	m.Register(&fakeChannel{name: "discord"})

	err := m.StartAll(context.Background())
	if err == nil {
		t.Fatal("StartAll should fail when a channel cannot start")
	}
	if !strings.Contains(err.Error(), "start channel telegram") {
		t.Errorf("error %q should name the failing channel", err)
	}
	m.StopAll(context.Background())
}

func TestManagerStopAllStopsChannels(t *testing.T) {
	b := bus.New()
	m := NewManager(b)
	tg := &fakeChannel{name: "telegram"}
	m.Register(tg)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	m.StopAll(context.Background())

	tg.mu.Lock()
	defer tg.mu.Unlock()
	if !tg.stopped {
		t.Error("channel was not stopped")
	}
}

func TestManagerRegisterReplaces(t *testing.T) {
	m := NewManager(bus.New())
	first := &fakeChannel{name: "gateway"}
	second := &fakeChannel{name: "gateway"}
	m.Register(first)
	m.Register(second)

	got, ok := m.Get("gateway")
	if !ok {
		t.Fatal("gateway not registered")
	}
	if got != second {
		t.Error("later registration should win")
	}
	if names := m.Names(); len(names) != 1 {
		t.Errorf("got %d names, want 1", len(names))
	}
}
