// Package telegram is the Telegram chat adapter: Bot API long polling
// in, chunked sends out.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/agentd/internal/bus"
	"github.com/nextlevelbuilder/agentd/internal/channels"
	"github.com/nextlevelbuilder/agentd/internal/config"
	"github.com/nextlevelbuilder/agentd/internal/guard"
)

const (
	// maxMessageLen is Telegram's hard message size limit.
	maxMessageLen = 4096

	inboundPerMinute   = 30
	downloadMaxRetries = 3
)

// Channel connects to Telegram via Bot API long polling.
type Channel struct {
	bot      *telego.Bot
	token    string
	router   bus.MessageRouter
	allowed  channels.Allowlist
	limiter  *guard.RateLimiter
	mediaDir string

	// ownerChat is the most recent allowed private chat. Outbound
	// messages with an empty ChatID (heartbeat findings) go here.
	ownerChat atomic.Int64

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds the adapter. allowedUsers is the cross-channel
// ALLOWED_USER_IDS filter; empty allows everyone.
func New(cfg config.TelegramConfig, allowedUsers []string, router bus.MessageRouter, limiter *guard.RateLimiter, mediaDir string) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{
		bot:      bot,
		token:    cfg.Token,
		router:   router,
		allowed:  channels.NewAllowlist(allowedUsers),
		limiter:  limiter,
		mediaDir: mediaDir,
	}, nil
}

func (c *Channel) Name() string { return "telegram" }

// Start begins long polling. The receive loop runs until Stop cancels
// it.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.running.Store(true)
	slog.Info("channels.telegram_connected", "username", c.bot.Username())

	go func() {
		defer close(c.done)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					c.handleMessage(pollCtx, update.Message)
				}
			}
		}
	}()
	return nil
}

// Stop cancels polling and waits for the receive loop so Telegram
// releases the getUpdates lock before a restart.
func (c *Channel) Stop(_ context.Context) error {
	c.running.Store(false)
	if c.cancel != nil {
		c.cancel()
	}
	if c.done != nil {
		select {
		case <-c.done:
		case <-time.After(10 * time.Second):
			slog.Warn("channels.telegram_stop_timeout")
		}
	}
	return nil
}

func (c *Channel) handleMessage(ctx context.Context, msg *telego.Message) {
	from := msg.From
	if from == nil || from.IsBot {
		return
	}
	userID := strconv.FormatInt(from.ID, 10)
	if !c.allowed.Allows(userID) {
		slog.Debug("channels.telegram_rejected", "user", userID)
		return
	}
	if c.limiter != nil && !c.limiter.Allow("chat:telegram:"+userID, inboundPerMinute) {
		slog.Warn("channels.telegram_throttled", "user", userID)
		return
	}

	content := msg.Text
	if msg.Caption != "" {
		if content != "" {
			content += "\n"
		}
		content += msg.Caption
	}

	var meta map[string]string
	if paths := c.downloadPhotos(ctx, msg); len(paths) > 0 {
		meta = map[string]string{bus.MetaImagePaths: strings.Join(paths, ",")}
		if content == "" {
			content = "[image]"
		}
	}
	if strings.TrimSpace(content) == "" {
		return
	}

	if msg.Chat.Type == "private" {
		c.ownerChat.Store(msg.Chat.ID)
	}

	c.router.PublishInbound(bus.InboundMessage{
		Channel:  "telegram",
		SenderID: userID,
		ChatID:   strconv.FormatInt(msg.Chat.ID, 10),
		Content:  content,
		Metadata: meta,
	})
}

// Send delivers a reply, chunked to the Telegram size limit.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.running.Load() {
		return fmt.Errorf("telegram adapter not running")
	}
	chatID, err := c.resolveChat(msg.ChatID)
	if err != nil {
		return err
	}
	for _, chunk := range channels.SplitMessage(msg.Content, maxMessageLen) {
		if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

func (c *Channel) resolveChat(chatID string) (int64, error) {
	if chatID == "" {
		if id := c.ownerChat.Load(); id != 0 {
			return id, nil
		}
		return 0, fmt.Errorf("no owner chat known yet")
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad telegram chat id %q: %w", chatID, err)
	}
	return id, nil
}

// downloadPhotos fetches the largest rendition of an attached photo
// into the media dir and returns local paths.
func (c *Channel) downloadPhotos(ctx context.Context, msg *telego.Message) []string {
	if len(msg.Photo) == 0 {
		return nil
	}
	// Renditions are ordered smallest to largest.
	largest := msg.Photo[len(msg.Photo)-1]
	path, err := c.downloadFile(ctx, largest.FileID)
	if err != nil {
		slog.Warn("channels.telegram_photo_failed", "error", err)
		return nil
	}
	return []string{path}
}

func (c *Channel) downloadFile(ctx context.Context, fileID string) (string, error) {
	var file *telego.File
	var err error
	for attempt := 1; attempt <= downloadMaxRetries; attempt++ {
		file, err = c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
		if err == nil {
			break
		}
		if attempt < downloadMaxRetries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("get file info: %w", err)
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("empty file path for %s", fileID)
	}
	if int64(file.FileSize) > channels.MaxDownloadBytes {
		return "", fmt.Errorf("file too large: %d bytes", file.FileSize)
	}

	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", c.token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	ext := filepath.Ext(file.FilePath)
	if ext == "" {
		ext = ".jpg"
	}
	if err := os.MkdirAll(c.mediaDir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(c.mediaDir, "telegram-*"+ext)
	if err != nil {
		return "", err
	}
	defer tmp.Close()

	written, err := io.Copy(tmp, io.LimitReader(resp.Body, channels.MaxDownloadBytes+1))
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("save file: %w", err)
	}
	if written > channels.MaxDownloadBytes {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("file exceeds size cap during download")
	}
	return tmp.Name(), nil
}
