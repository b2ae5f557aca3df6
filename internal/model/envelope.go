package model

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Status is the envelope lifecycle state (spec §3, invariant 3: done is
// terminal, no done → pending).
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
)

// AttachmentKind is the inferred media type of an Attachment, derived from
// its filename extension.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentVideo AttachmentKind = "video"
	AttachmentAudio AttachmentKind = "audio"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment is a single media item carried by an envelope's content.
type Attachment struct {
	Source        string `json:"source"` // path, URL, or platform file ID
	Filename      string `json:"filename,omitempty"`
	TelegramFileID string `json:"telegramFileId,omitempty"`
}

// Kind infers the attachment's media type from its filename (falling back to
// Source when Filename is empty).
func (a Attachment) Kind() AttachmentKind {
	name := a.Filename
	if name == "" {
		name = a.Source
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".heic":
		return AttachmentImage
	case ".mp4", ".mov", ".avi", ".mkv", ".webm":
		return AttachmentVideo
	case ".mp3", ".wav", ".ogg", ".flac", ".m4a", ".opus":
		return AttachmentAudio
	default:
		return AttachmentFile
	}
}

// Content is an envelope's payload: optional text and/or attachments.
type Content struct {
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// DeliveryErrorKind classifies a failed delivery attempt (spec §7).
type DeliveryErrorKind string

const (
	DeliveryErrNoBinding       DeliveryErrorKind = "no-binding"
	DeliveryErrAdapterNotLoaded DeliveryErrorKind = "adapter-not-loaded"
	DeliveryErrSendFailed      DeliveryErrorKind = "send-failed"
)

// DeliveryError is recorded into Envelope.Metadata on a failed delivery.
type DeliveryError struct {
	Kind      DeliveryErrorKind `json:"kind"`
	Details   string            `json:"details,omitempty"`
	Hint      string            `json:"hint,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// Metadata is the envelope's open map of conventions (spec §3): known keys
// are exposed as typed accessors, everything else round-trips through the
// opaque residual map so callers that set custom keys never lose them.
type Metadata map[string]any

func (m Metadata) str(key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (m Metadata) Platform() string          { return m.str("platform") }
func (m Metadata) ChannelMessageID() string   { return m.str("channelMessageId") }
func (m Metadata) Author() string            { return m.str("author") }
func (m Metadata) Chat() string              { return m.str("chat") }
func (m Metadata) InReplyTo() string         { return m.str("inReplyTo") }
func (m Metadata) ReplyToEnvelopeID() string { return m.str("replyToEnvelopeId") }
func (m Metadata) ParseMode() string         { return m.str("parseMode") }
func (m Metadata) CronScheduleID() string    { return m.str("cronScheduleId") }

// ReplyToMessageIDLegacy reads the legacy field. Per spec §9 Open Question,
// the core router MUST NOT honor this field for reply routing — it is
// preserved here purely so callers can detect and display it, never acted on.
func (m Metadata) ReplyToMessageIDLegacy() string { return m.str("replyToMessageId") }

// WithLastDeliveryError returns a copy of m with lastDeliveryError set.
func (m Metadata) WithLastDeliveryError(de DeliveryError) Metadata {
	out := cloneMetadata(m)
	b, _ := json.Marshal(de)
	var asMap map[string]any
	_ = json.Unmarshal(b, &asMap)
	out["lastDeliveryError"] = asMap
	return out
}

// WithCancelled marks the envelope's metadata as cancelled-by-abort (spec
// §4.5, step 9 — due non-cron envelopes are marked done with this marker
// rather than silently discarded).
func (m Metadata) WithCancelled() Metadata {
	out := cloneMetadata(m)
	out["cancelled"] = true
	return out
}

func cloneMetadata(m Metadata) Metadata {
	out := make(Metadata, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Envelope is the durable message record — the system's sole unit of
// communication (spec §3).
type Envelope struct {
	ID         uuid.UUID
	From       Address
	To         Address
	FromBoss   bool
	Content    Content
	DeliverAt  *int64 // Unix ms UTC; nil == due now
	Status     Status
	CreatedAt  int64
	Metadata   Metadata
}

// IsDue reports whether the envelope is due for delivery at instant nowMs.
// A nil DeliverAt is treated as due-now (spec §8 boundary behavior).
func (e Envelope) IsDue(nowMs int64) bool {
	return e.DeliverAt == nil || *e.DeliverAt <= nowMs
}
