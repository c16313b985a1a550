// Package discord is the Discord chat adapter built on a gateway
// websocket session.
package discord

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/agentd/internal/bus"
	"github.com/nextlevelbuilder/agentd/internal/channels"
	"github.com/nextlevelbuilder/agentd/internal/config"
	"github.com/nextlevelbuilder/agentd/internal/guard"
)

const (
	// maxMessageLen is Discord's hard message size limit.
	maxMessageLen = 2000

	inboundPerMinute = 30
)

// Channel connects to Discord's gateway and relays messages.
type Channel struct {
	session         *discordgo.Session
	router          bus.MessageRouter
	allowedUsers    channels.Allowlist
	allowedChannels channels.Allowlist
	limiter         *guard.RateLimiter
	mediaDir        string

	botUserID string

	// ownerChannel is the most recent allowed DM channel. Outbound
	// messages with an empty ChatID go here.
	ownerChannel atomic.Value

	running       atomic.Bool
	removeHandler func()
}

// New builds the adapter. allowedUsers is the cross-channel
// ALLOWED_USER_IDS filter; cfg.AllowedChannelIDs additionally gates
// guild (server) channels. Empty lists allow everyone.
func New(cfg config.DiscordConfig, allowedUsers []string, router bus.MessageRouter, limiter *guard.RateLimiter, mediaDir string) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		session:         session,
		router:          router,
		allowedUsers:    channels.NewAllowlist(allowedUsers),
		allowedChannels: channels.NewAllowlist(cfg.AllowedChannelIDs),
		limiter:         limiter,
		mediaDir:        mediaDir,
	}, nil
}

func (c *Channel) Name() string { return "discord" }

// Start opens the gateway session. discordgo runs its own receive
// goroutines; Start returns once the session is open.
func (c *Channel) Start(ctx context.Context) error {
	c.removeHandler = c.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		c.handleMessage(ctx, m)
	})
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	me, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch bot identity: %w", err)
	}
	c.botUserID = me.ID
	c.running.Store(true)
	slog.Info("channels.discord_connected", "username", me.Username)
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	c.running.Store(false)
	if c.removeHandler != nil {
		c.removeHandler()
	}
	if err := c.session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	return nil
}

func (c *Channel) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	author := m.Author
	if author == nil || author.ID == c.botUserID || author.Bot {
		return
	}
	isDM := m.GuildID == ""
	if !isDM && !c.allowedChannels.Allows(m.ChannelID) {
		return
	}
	if !c.allowedUsers.Allows(author.ID) {
		slog.Debug("channels.discord_rejected", "user", author.ID)
		return
	}
	if c.limiter != nil && !c.limiter.Allow("chat:discord:"+author.ID, inboundPerMinute) {
		slog.Warn("channels.discord_throttled", "user", author.ID)
		return
	}

	content := m.Content
	var meta map[string]string
	if paths := c.downloadImages(ctx, m.Attachments); len(paths) > 0 {
		meta = map[string]string{bus.MetaImagePaths: strings.Join(paths, ",")}
		if content == "" {
			content = "[image]"
		}
	}
	if strings.TrimSpace(content) == "" {
		return
	}

	if isDM {
		c.ownerChannel.Store(m.ChannelID)
	}

	c.router.PublishInbound(bus.InboundMessage{
		Channel:  "discord",
		SenderID: author.ID,
		ChatID:   m.ChannelID,
		Content:  content,
		Metadata: meta,
	})
}

// Send delivers a reply, chunked to the Discord size limit.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if !c.running.Load() {
		return fmt.Errorf("discord adapter not running")
	}
	channelID := msg.ChatID
	if channelID == "" {
		stored, _ := c.ownerChannel.Load().(string)
		if stored == "" {
			return fmt.Errorf("no owner channel known yet")
		}
		channelID = stored
	}
	for _, chunk := range channels.SplitMessage(msg.Content, maxMessageLen) {
		if _, err := c.session.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}

func (c *Channel) downloadImages(ctx context.Context, attachments []*discordgo.MessageAttachment) []string {
	var paths []string
	for _, att := range attachments {
		if att == nil || !strings.HasPrefix(att.ContentType, "image/") {
			continue
		}
		if int64(att.Size) > channels.MaxDownloadBytes {
			slog.Warn("channels.discord_attachment_too_large", "size", att.Size)
			continue
		}
		path, err := c.downloadAttachment(ctx, att)
		if err != nil {
			slog.Warn("channels.discord_attachment_failed", "error", err)
			continue
		}
		paths = append(paths, path)
	}
	return paths
}

func (c *Channel) downloadAttachment(ctx context.Context, att *discordgo.MessageAttachment) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	ext := filepath.Ext(att.Filename)
	if ext == "" {
		ext = ".png"
	}
	if err := os.MkdirAll(c.mediaDir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(c.mediaDir, "discord-*"+ext)
	if err != nil {
		return "", err
	}
	defer tmp.Close()

	written, err := io.Copy(tmp, io.LimitReader(resp.Body, channels.MaxDownloadBytes+1))
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("save attachment: %w", err)
	}
	if written > channels.MaxDownloadBytes {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("attachment exceeds size cap during download")
	}
	return tmp.Name(), nil
}
