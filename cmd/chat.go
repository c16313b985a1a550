package cmd

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentd/internal/config"
	"github.com/nextlevelbuilder/agentd/internal/guard"
	"github.com/nextlevelbuilder/agentd/internal/providers"
	"github.com/nextlevelbuilder/agentd/pkg/protocol"
)

func chatCmd() *cobra.Command {
	var addr, message string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a running kernel over WebSocket (falls back to a direct LLM call)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.ResolvePath(cfgFile))
			if err != nil {
				return err
			}
			if addr == "" {
				addr = fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
			}
			return runChat(cfg, addr, message)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "gateway address (default from config)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "send one message and exit")
	return cmd
}

func runChat(cfg *config.Config, addr, message string) error {
	conn, err := dialGateway(cfg, addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway unreachable (%v), falling back to a direct provider call\n", err)
		return runStandaloneChat(cfg, message)
	}
	defer conn.Close()

	// One reader goroutine owns the connection's read side so server
	// pings are answered even while we block on stdin.
	replies := make(chan string, 1)
	errs := make(chan error, 1)
	go readFrames(conn, replies, errs)

	if message != "" {
		return chatSend(conn, message, replies, errs)
	}

	fmt.Fprintf(os.Stderr, "agentd chat — connected to %s\n", addr)
	fmt.Fprintf(os.Stderr, "type \"exit\" to quit\n\n")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "you: ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return nil
		}
		if err := chatSend(conn, input, replies, errs); err != nil {
			return err
		}
	}
}

func dialGateway(cfg *config.Config, addr string) (*websocket.Conn, error) {
	token := os.Getenv("AGENTD_TOKEN")
	if token == "" {
		if data, err := os.ReadFile(filepath.Join(cfg.WorkspacePath(), guard.TokenFileName)); err == nil {
			token = strings.TrimSpace(string(data))
		}
	}

	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	if token != "" {
		u.RawQuery = "token=" + url.QueryEscape(token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(u.String(), nil)
	return conn, err
}

// readFrames consumes the event stream, echoing tool activity and
// delivering chat replies.
func readFrames(conn *websocket.Conn, replies chan<- string, errs chan<- error) {
	for {
		var msg struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			errs <- err
			return
		}
		switch msg.Type {
		case protocol.EventConnected:
			fmt.Fprintf(os.Stderr, "connected: agent %v (v%v)\n", msg.Payload["agent"], msg.Payload["version"])
		case protocol.EventChat:
			content, _ := msg.Payload["content"].(string)
			replies <- content
		case protocol.EventToolCalled:
			fmt.Fprintf(os.Stderr, "  [tool] %v\n", msg.Payload["tool"])
		case protocol.EventApprovalReq:
			fmt.Fprintf(os.Stderr, "  [approval needed] %v — use /approve <id>\n", msg.Payload["id"])
		case protocol.EventShutdown:
			errs <- fmt.Errorf("kernel shutting down")
			return
		}
	}
}

func chatSend(conn *websocket.Conn, content string, replies <-chan string, errs <-chan error) error {
	frame := protocol.ClientMessage{
		Type:    protocol.ClientChat,
		Content: content,
		UserID:  "cli",
	}
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	select {
	case reply := <-replies:
		fmt.Printf("\n%s\n\n", reply)
		return nil
	case err := <-errs:
		return err
	}
}

// runStandaloneChat does tool-less turns straight against the default
// provider. It exists so `agentd chat` still answers when the daemon
// is down.
func runStandaloneChat(cfg *config.Config, message string) error {
	reg, err := providers.BuildRegistry(cfg)
	if err != nil {
		return err
	}
	p, err := reg.Get(cfg.Agent.Provider)
	if err != nil {
		if p, err = reg.Default(); err != nil {
			return err
		}
	}

	history := []providers.Message{{
		Role:    "system",
		Content: fmt.Sprintf("You are %s, a helpful personal assistant. The agent daemon is offline, so no tools are available this session.", cfg.Agent.Name),
	}}

	ask := func(text string) error {
		history = append(history, providers.Message{Role: "user", Content: text})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		resp, err := p.Chat(ctx, providers.ChatRequest{Messages: history, Model: cfg.Agent.Model})
		if err != nil {
			return err
		}
		history = append(history, providers.Message{Role: "assistant", Content: resp.Content})
		fmt.Printf("\n%s\n\n", resp.Content)
		return nil
	}

	if message != "" {
		return ask(message)
	}

	fmt.Fprintf(os.Stderr, "agentd chat — standalone mode (provider %s, no tools)\n", p.Name())
	fmt.Fprintf(os.Stderr, "type \"exit\" to quit\n\n")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "you: ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return nil
		}
		if err := ask(input); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}
