package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/agentd/internal/bus"
)

// Manager owns the registered channels and the outbound dispatch loop.
type Manager struct {
	router bus.MessageRouter

	mu       sync.RWMutex
	channels map[string]Channel

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a manager over the message router.
func NewManager(router bus.MessageRouter) *Manager {
	return &Manager{router: router, channels: map[string]Channel{}}
}

// Register adds a channel; later registrations under the same name win.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// Get returns a registered channel.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Names returns the registered channel names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// StartAll starts every registered channel and the dispatch loop. A
// channel that cannot start fails the whole startup: an enabled channel
// with bad credentials is a configuration error.
func (m *Manager) StartAll(ctx context.Context) error {
	dispatchCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.dispatch(dispatchCtx)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.channels) == 0 {
		slog.Warn("channels.none_enabled")
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for name, ch := range m.channels {
		name, ch := name, ch
		g.Go(func() error {
			if err := ch.Start(gctx); err != nil {
				return fmt.Errorf("start channel %s: %w", name, err)
			}
			slog.Info("channels.started", "channel", name)
			return nil
		})
	}
	return g.Wait()
}

// StopAll stops the dispatch loop and every channel.
func (m *Manager) StopAll(ctx context.Context) {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			slog.Warn("channels.stop_failed", "channel", name, "error", err)
		}
	}
}

// dispatch routes outbound messages to their channel until ctx is done.
func (m *Manager) dispatch(ctx context.Context) {
	defer close(m.done)
	for {
		msg, ok := m.router.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		if IsInternal(msg.Channel) {
			slog.Debug("channels.internal_outbound_dropped", "channel", msg.Channel)
			continue
		}

		m.mu.RLock()
		ch, exists := m.channels[msg.Channel]
		m.mu.RUnlock()
		if !exists {
			slog.Warn("channels.unknown_outbound", "channel", msg.Channel)
			continue
		}

		if err := ch.Send(ctx, msg); err != nil {
			slog.Error("channels.send_failed", "channel", msg.Channel, "error", err)
		}
	}
}
