// Package telegram is the Telegram ChannelAdapter, built on mymmrac/telego
// exactly as the teacher's internal/channels/telegram does, but trimmed to
// the narrower adapters.ChannelAdapter contract Hi-Boss's core consumes.
package telegram

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/hiboss/hiboss/internal/adapters"
	"github.com/hiboss/hiboss/internal/channels"
	"github.com/hiboss/hiboss/internal/model"
)

// MediaOpener resolves an attachment's stored source back to its bytes —
// satisfied by *internal/media.Resolver in production, by a stub in tests.
type MediaOpener interface {
	Open(ctx context.Context, source string) ([]byte, error)
}

const (
	platformName    = "telegram"
	maxMessageLen   = 4096
	maxCaptionLen   = 1024
	longPollTimeout = 60
)

// Adapter connects to Telegram via long polling and dispatches inbound
// messages and commands to a Router, satisfying adapters.ChannelAdapter.
type Adapter struct {
	token  string
	router adapters.Router
	media  MediaOpener

	mu      sync.Mutex
	bot     *telego.Bot
	cancel  context.CancelFunc
	running bool
}

// New constructs a Telegram adapter for a single bot token. One Adapter
// instance is loaded into the adapters.Registry per distinct bot credential.
// media may be nil when the daemon has no attachment-bearing sends configured.
func New(token string, router adapters.Router, media MediaOpener) (*Adapter, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram: token is required")
	}
	return &Adapter{token: token, router: router, media: media}, nil
}

func (a *Adapter) Platform() string { return platformName }

// Start opens the bot session and begins long-polling updates in the
// background, retrying transient conflicts with bounded exponential
// backoff (spec §4.6: initial 2s, factor 1.8, cap 30s, ±25% jitter).
func (a *Adapter) Start(ctx context.Context) error {
	bot, err := telego.NewBot(a.token)
	if err != nil {
		return fmt.Errorf("telegram: create bot: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.bot = bot
	a.cancel = cancel
	a.running = true
	a.mu.Unlock()

	go a.pollLoop(runCtx)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}
	a.running = false
	if a.cancel != nil {
		a.cancel()
	}
	return nil
}

func (a *Adapter) pollLoop(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		err := a.poll(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			attempt = 0
			continue
		}
		delay := channels.StartBackoff(attempt)
		attempt++
		slog.Warn("telegram poll disconnected, retrying", "error", err, "delay", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (a *Adapter) poll(ctx context.Context) error {
	a.mu.Lock()
	bot := a.bot
	a.mu.Unlock()

	updates, err := bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{Timeout: longPollTimeout})
	if err != nil {
		return fmt.Errorf("telegram: start long polling: %w", err)
	}
	for update := range updates {
		a.handleUpdate(ctx, update)
	}
	return nil
}

func (a *Adapter) handleUpdate(ctx context.Context, update telego.Update) {
	if update.Message != nil {
		a.handleMessage(ctx, update.Message)
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *telego.Message) {
	if msg.From == nil {
		return
	}
	text := msg.Text
	if cmd, args, ok := parseCommand(text); ok {
		a.handleCommand(ctx, msg, cmd, args)
		return
	}

	cm := adapters.ChannelMessage{
		ID:       strconv.Itoa(msg.MessageID),
		Platform: platformName,
		Author: adapters.Author{
			ID:          strconv.FormatInt(msg.From.ID, 10),
			Username:    msg.From.Username,
			DisplayName: strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName),
		},
		Chat: adapters.Chat{
			ID:   strconv.FormatInt(msg.Chat.ID, 10),
			Name: msg.Chat.Title,
		},
		Content: model.Content{Text: text},
		Raw:     msg,
	}
	if msg.ReplyToMessage != nil {
		cm.InReplyTo = strconv.Itoa(msg.ReplyToMessage.MessageID)
	}
	if err := a.router.InboundFromChannel(ctx, platformName, a.token, cm); err != nil {
		slog.Error("telegram: inbound dispatch failed", "error", err)
	}
}

func parseCommand(text string) (name adapters.CommandName, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	head := strings.TrimPrefix(fields[0], "/")
	head = strings.SplitN(head, "@", 2)[0] // strip "@botname" suffix
	switch adapters.CommandName(head) {
	case adapters.CommandNew, adapters.CommandStatus, adapters.CommandAbort:
		return adapters.CommandName(head), fields[1:], true
	default:
		return "", nil, false
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *telego.Message, name adapters.CommandName, args []string) {
	if !a.router.IsBoss(platformName, msg.From.Username) {
		return // non-boss commands are silently dropped (spec §4.6)
	}
	cmd := adapters.ChannelCommand{
		Name: name,
		Chat: adapters.Chat{ID: strconv.FormatInt(msg.Chat.ID, 10), Name: msg.Chat.Title},
		Args: args,
	}
	if err := a.router.HandleCommand(ctx, platformName, a.token, cmd); err != nil {
		slog.Error("telegram: command dispatch failed", "error", err, "command", name)
	}
}

// SendMessage delivers content to a Telegram chat, chunking text over
// Telegram's 4096-char limit and falling back to plain text if HTML parsing
// is rejected, matching the teacher's send.go behavior.
func (a *Adapter) SendMessage(ctx context.Context, chatID string, content model.Content, opts adapters.SendOptions) (string, error) {
	a.mu.Lock()
	bot := a.bot
	a.mu.Unlock()
	if bot == nil {
		return "", fmt.Errorf("telegram: adapter not started")
	}

	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("telegram: invalid chat id %q: %w", chatID, err)
	}
	chat := tu.ID(id)

	if len(content.Attachments) > 0 {
		return a.sendAttachments(ctx, bot, chat, content, opts)
	}

	var lastID string
	for _, chunk := range chunkText(content.Text, maxMessageLen) {
		sendMsg := tu.Message(chat, chunk)
		applyOptions(sendMsg, opts)
		sent, err := bot.SendMessage(ctx, sendMsg)
		if err != nil {
			return "", fmt.Errorf("telegram: send message: %w", err)
		}
		lastID = strconv.Itoa(sent.MessageID)
		opts.ReplyToMessageID = "" // only the first chunk replies
	}
	return lastID, nil
}

func (a *Adapter) sendAttachments(ctx context.Context, bot *telego.Bot, chat telego.ChatID, content model.Content, opts adapters.SendOptions) (string, error) {
	if a.media == nil {
		return "", fmt.Errorf("telegram: no media backend configured for attachment send")
	}

	caption := content.Text
	if len(caption) > maxCaptionLen {
		caption = caption[:maxCaptionLen]
	}

	var lastID string
	for _, att := range content.Attachments {
		data, err := a.media.Open(ctx, att.Source)
		if err != nil {
			return "", fmt.Errorf("telegram: open attachment %s: %w", att.Filename, err)
		}
		file := telego.InputFile{File: tu.NameReader(bytes.NewReader(data), att.Filename)}

		var sent *telego.Message
		switch att.Kind() {
		case model.AttachmentImage:
			sent, err = bot.SendPhoto(ctx, &telego.SendPhotoParams{ChatID: chat, Photo: file, Caption: caption})
		case model.AttachmentVideo:
			sent, err = bot.SendVideo(ctx, &telego.SendVideoParams{ChatID: chat, Video: file, Caption: caption})
		case model.AttachmentAudio:
			sent, err = bot.SendAudio(ctx, &telego.SendAudioParams{ChatID: chat, Audio: file, Caption: caption})
		default:
			sent, err = bot.SendDocument(ctx, &telego.SendDocumentParams{ChatID: chat, Document: file, Caption: caption})
		}
		if err != nil {
			return "", fmt.Errorf("telegram: send attachment %s: %w", att.Filename, err)
		}
		lastID = strconv.Itoa(sent.MessageID)
		caption = "" // only the first attachment carries the caption
	}
	return lastID, nil
}

func applyOptions(msg *telego.SendMessageParams, opts adapters.SendOptions) {
	if opts.ParseMode != "" {
		msg.ParseMode = opts.ParseMode
	}
	if opts.ReplyToMessageID != "" {
		if id, err := strconv.Atoi(opts.ReplyToMessageID); err == nil {
			msg.ReplyParameters = &telego.ReplyParameters{MessageID: id}
		}
	}
}

// SetReaction sets an emoji reaction on a previously-sent message.
func (a *Adapter) SetReaction(ctx context.Context, chatID, channelMessageID, emoji string) error {
	a.mu.Lock()
	bot := a.bot
	a.mu.Unlock()
	if bot == nil {
		return fmt.Errorf("telegram: adapter not started")
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", chatID, err)
	}
	msgID, err := strconv.Atoi(channelMessageID)
	if err != nil {
		return fmt.Errorf("telegram: invalid message id %q: %w", channelMessageID, err)
	}
	return bot.SetMessageReaction(ctx, &telego.SetMessageReactionParams{
		ChatID:    tu.ID(id),
		MessageID: msgID,
		Reaction:  []telego.ReactionType{&telego.ReactionTypeEmoji{Type: telego.ReactionEmoji, Emoji: emoji}},
	})
}

// chunkText splits text into runs of at most maxLen bytes, breaking on the
// last newline before the boundary when possible.
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
