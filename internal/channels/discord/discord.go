// Package discord is the Discord ChannelAdapter, built on bwmarrin/discordgo
// following the teacher's internal/channels/discord/discord.go gateway-event
// wiring, adapted to the narrower adapters.ChannelAdapter contract.
package discord

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/hiboss/hiboss/internal/adapters"
	"github.com/hiboss/hiboss/internal/model"
)

const (
	platformName  = "discord"
	maxMessageLen = 2000
)

// MediaOpener resolves an attachment's stored source back to its bytes —
// satisfied by *internal/media.Resolver in production, by a stub in tests.
type MediaOpener interface {
	Open(ctx context.Context, source string) ([]byte, error)
}

// Adapter connects to Discord via the gateway (bot API) and dispatches
// inbound messages and commands to a Router.
type Adapter struct {
	token  string
	router adapters.Router
	media  MediaOpener

	mu        sync.Mutex
	session   *discordgo.Session
	botUserID string
	running   bool
}

// New constructs a Discord adapter for a single bot token.
func New(token string, router adapters.Router, media MediaOpener) (*Adapter, error) {
	if token == "" {
		return nil, fmt.Errorf("discord: token is required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	return &Adapter{token: token, router: router, media: media, session: session}, nil
}

func (a *Adapter) Platform() string { return platformName }

func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	a.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		a.handleMessage(ctx, m)
	})
	a.mu.Unlock()

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	user, err := a.session.User("@me")
	if err != nil {
		_ = a.session.Close()
		return fmt.Errorf("discord: fetch bot identity: %w", err)
	}

	a.mu.Lock()
	a.botUserID = user.ID
	a.running = true
	a.mu.Unlock()

	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}
	a.running = false
	return a.session.Close()
}

func (a *Adapter) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	a.mu.Lock()
	botUserID := a.botUserID
	a.mu.Unlock()
	if m.Author.ID == botUserID {
		return
	}

	if cmd, args, ok := parseCommand(m.Content); ok {
		a.handleCommand(ctx, m, cmd, args)
		return
	}

	content := model.Content{Text: m.Content}
	for _, att := range m.Attachments {
		content.Attachments = append(content.Attachments, model.Attachment{Source: att.URL, Filename: att.Filename})
	}

	cm := adapters.ChannelMessage{
		ID:       m.ID,
		Platform: platformName,
		Author: adapters.Author{
			ID:          m.Author.ID,
			Username:    m.Author.Username,
			DisplayName: m.Author.Username,
		},
		Chat:    adapters.Chat{ID: m.ChannelID},
		Content: content,
		Raw:     m,
	}
	if m.MessageReference != nil {
		cm.InReplyTo = m.MessageReference.MessageID
	}
	if err := a.router.InboundFromChannel(ctx, platformName, a.token, cm); err != nil {
		slog.Error("discord: inbound dispatch failed", "error", err)
	}
}

func parseCommand(text string) (name adapters.CommandName, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	head := strings.TrimPrefix(fields[0], "/")
	switch adapters.CommandName(head) {
	case adapters.CommandNew, adapters.CommandStatus, adapters.CommandAbort:
		return adapters.CommandName(head), fields[1:], true
	default:
		return "", nil, false
	}
}

func (a *Adapter) handleCommand(ctx context.Context, m *discordgo.MessageCreate, name adapters.CommandName, args []string) {
	if !a.router.IsBoss(platformName, m.Author.Username) {
		return // non-boss commands are silently dropped (spec §4.6)
	}
	cmd := adapters.ChannelCommand{Name: name, Chat: adapters.Chat{ID: m.ChannelID}, Args: args}
	if err := a.router.HandleCommand(ctx, platformName, a.token, cmd); err != nil {
		slog.Error("discord: command dispatch failed", "error", err, "command", name)
	}
}

// SendMessage delivers content to a Discord channel, chunking over the
// 2000-char limit and uploading attachments via the session's file API.
func (a *Adapter) SendMessage(ctx context.Context, chatID string, content model.Content, opts adapters.SendOptions) (string, error) {
	a.mu.Lock()
	running := a.running
	a.mu.Unlock()
	if !running {
		return "", fmt.Errorf("discord: adapter not started")
	}
	if chatID == "" {
		return "", fmt.Errorf("discord: empty chat id")
	}

	if len(content.Attachments) > 0 {
		return a.sendAttachments(chatID, content)
	}

	var lastID string
	for _, chunk := range chunkText(content.Text, maxMessageLen) {
		msg, err := a.session.ChannelMessageSendComplex(chatID, &discordgo.MessageSend{
			Content:   chunk,
			Reference: replyReference(chatID, opts),
		})
		if err != nil {
			return "", fmt.Errorf("discord: send message: %w", err)
		}
		lastID = msg.ID
		opts.ReplyToMessageID = "" // only the first chunk replies
	}
	return lastID, nil
}

func (a *Adapter) sendAttachments(chatID string, content model.Content) (string, error) {
	if a.media == nil {
		return "", fmt.Errorf("discord: no media backend configured for attachment send")
	}
	caption := content.Text
	var lastID string
	for _, att := range content.Attachments {
		data, err := a.media.Open(context.Background(), att.Source)
		if err != nil {
			return "", fmt.Errorf("discord: open attachment %s: %w", att.Filename, err)
		}
		msg, err := a.session.ChannelMessageSendComplex(chatID, &discordgo.MessageSend{
			Content: caption,
			Files: []*discordgo.File{{
				Name:   att.Filename,
				Reader: bytes.NewReader(data),
			}},
		})
		if err != nil {
			return "", fmt.Errorf("discord: send attachment %s: %w", att.Filename, err)
		}
		lastID = msg.ID
		caption = ""
	}
	return lastID, nil
}

func replyReference(chatID string, opts adapters.SendOptions) *discordgo.MessageReference {
	if opts.ReplyToMessageID == "" {
		return nil
	}
	return &discordgo.MessageReference{MessageID: opts.ReplyToMessageID, ChannelID: chatID}
}

// SetReaction adds an emoji reaction to a previously-sent message.
func (a *Adapter) SetReaction(ctx context.Context, chatID, channelMessageID, emoji string) error {
	a.mu.Lock()
	running := a.running
	a.mu.Unlock()
	if !running {
		return fmt.Errorf("discord: adapter not started")
	}
	return a.session.MessageReactionAdd(chatID, channelMessageID, emoji)
}

func chunkText(text string, maxLen int) []string {
	if text == "" {
		return []string{""}
	}
	var chunks []string
	for len(text) > maxLen {
		cut := maxLen
		if idx := strings.LastIndexByte(text[:maxLen], '\n'); idx > maxLen/2 {
			cut = idx + 1
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

var _ adapters.ChannelAdapter = (*Adapter)(nil)
