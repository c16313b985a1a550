//go:build tsnet

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"tailscale.com/tsnet"

	"github.com/nextlevelbuilder/agentd/internal/config"
)

// initTailscale serves the control plane on the tailnet in addition to
// the loopback listener. Token auth still applies; tsnet only changes
// who can reach the port.
func initTailscale(ctx context.Context, cfg *config.Config, handler http.Handler) (func(), error) {
	ts := cfg.Tailscale
	if ts.Hostname == "" {
		return func() {}, nil
	}

	stateDir := ts.StateDir
	if stateDir == "" {
		stateDir = filepath.Join(cfg.WorkspacePath(), "tsnet")
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return func() {}, fmt.Errorf("tsnet state dir: %w", err)
	}

	srv := &tsnet.Server{
		Hostname:  ts.Hostname,
		Dir:       stateDir,
		AuthKey:   ts.AuthKey,
		Ephemeral: ts.Ephemeral,
	}

	ln, err := srv.Listen("tcp", fmt.Sprintf(":%d", cfg.Gateway.Port))
	if err != nil {
		srv.Close()
		return func() {}, fmt.Errorf("tsnet listen: %w", err)
	}

	httpSrv := &http.Server{Handler: handler}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Warn("tailscale.serve_failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		httpSrv.Close()
	}()

	slog.Info("tailscale.listening", "hostname", ts.Hostname, "port", cfg.Gateway.Port)
	return func() {
		httpSrv.Close()
		srv.Close()
	}, nil
}
