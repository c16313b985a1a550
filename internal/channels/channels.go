// Package channels connects chat surfaces to the message bus. Each
// adapter turns protocol events into bus.InboundMessage and delivers
// bus.OutboundMessage replies; the manager owns their lifecycle and the
// single outbound dispatch loop.
package channels

import (
	"context"
	"strings"

	"github.com/nextlevelbuilder/agentd/internal/bus"
)

// MaxDownloadBytes caps attachment downloads from any channel.
const MaxDownloadBytes = 10 << 20

// Channel is one chat surface. Start must not block; Stop waits for the
// adapter's receive loop to exit.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// internalChannels are synthetic sources that never have an adapter.
// Outbound messages addressed to them indicate a configuration gap, not
// an error.
var internalChannels = map[string]bool{
	"heartbeat": true,
	"trigger":   true,
}

// IsInternal reports whether a channel name is a synthetic source.
func IsInternal(name string) bool {
	return internalChannels[name]
}

// Allowlist filters sender or chat ids. An empty list allows everyone.
type Allowlist map[string]struct{}

// NewAllowlist builds an Allowlist, ignoring blank entries.
func NewAllowlist(ids []string) Allowlist {
	a := Allowlist{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			a[id] = struct{}{}
		}
	}
	return a
}

// Allows reports whether id passes the filter.
func (a Allowlist) Allows(id string) bool {
	if len(a) == 0 {
		return true
	}
	_, ok := a[id]
	return ok
}

// SplitMessage chunks content to a channel's message size limit,
// preferring a newline break in the second half of the chunk.
func SplitMessage(content string, maxLen int) []string {
	if content == "" {
		return nil
	}
	if maxLen <= 0 || len(content) <= maxLen {
		return []string{content}
	}

	var chunks []string
	for len(content) > maxLen {
		cutAt := maxLen
		if idx := strings.LastIndexByte(content[:maxLen], '\n'); idx > maxLen/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, content[:cutAt])
		content = content[cutAt:]
	}
	if content != "" {
		chunks = append(chunks, content)
	}
	return chunks
}
