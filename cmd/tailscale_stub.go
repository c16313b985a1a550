//go:build !tsnet

package cmd

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/agentd/internal/config"
)

// initTailscale is a no-op without the tsnet build tag.
func initTailscale(_ context.Context, cfg *config.Config, _ http.Handler) (func(), error) {
	if cfg.Tailscale.Hostname != "" {
		slog.Warn("tailscale.not_compiled", "hint", "rebuild with -tags tsnet")
	}
	return func() {}, nil
}
