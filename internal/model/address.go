// Package model defines the wire/storage shapes of the system: Address,
// Envelope, Agent, AgentBinding, CronSchedule, AgentRun, and the metadata
// tagged unions each carries (spec §3).
package model

import (
	"regexp"
	"strings"

	"github.com/hiboss/hiboss/internal/kerrors"
)

// Kind distinguishes the two Address variants.
type Kind string

const (
	KindAgent   Kind = "agent"
	KindChannel Kind = "channel"
)

// Address is a parsed "agent:<name>" or "channel:<adapter-type>:<chat-id>"
// string, per the ABNF grammar in spec §6.
type Address struct {
	Kind        Kind
	AgentName   string // set when Kind == KindAgent
	AdapterType string // set when Kind == KindChannel
	ChatID      string // set when Kind == KindChannel; opaque, may itself contain ":"
}

var agentNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

// String renders the Address back to its wire form.
func (a Address) String() string {
	switch a.Kind {
	case KindAgent:
		return "agent:" + a.AgentName
	case KindChannel:
		return "channel:" + a.AdapterType + ":" + a.ChatID
	default:
		return ""
	}
}

// IsAgent reports whether this Address identifies an agent.
func (a Address) IsAgent() bool { return a.Kind == KindAgent }

// IsChannel reports whether this Address identifies a channel endpoint.
func (a Address) IsChannel() bool { return a.Kind == KindChannel }

// ParseAddress parses raw per the grammar in spec §6. ChatId is opaque and may
// contain colons — only the first two segments of a "channel:" address are
// significant, the remainder (including any further colons) is the chat ID
// verbatim.
func ParseAddress(raw string) (Address, error) {
	if raw == "" {
		return Address{}, kerrors.New(kerrors.Validation, "address must not be empty")
	}

	if rest, ok := strings.CutPrefix(raw, "agent:"); ok {
		if !agentNameRe.MatchString(rest) {
			return Address{}, kerrors.Newf(kerrors.Validation, "invalid agent name %q", rest)
		}
		return Address{Kind: KindAgent, AgentName: rest}, nil
	}

	if rest, ok := strings.CutPrefix(raw, "channel:"); ok {
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return Address{}, kerrors.Newf(kerrors.Validation, "invalid channel address %q", raw)
		}
		adapterType := parts[0]
		if !isLowerAlpha(adapterType) {
			return Address{}, kerrors.Newf(kerrors.Validation, "invalid adapter type %q", adapterType)
		}
		return Address{Kind: KindChannel, AdapterType: adapterType, ChatID: parts[1]}, nil
	}

	return Address{}, kerrors.Newf(kerrors.Validation, "invalid address %q: must start with \"agent:\" or \"channel:\"", raw)
}

func isLowerAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

// ValidAgentName reports whether name matches the AgentName grammar.
func ValidAgentName(name string) bool {
	return agentNameRe.MatchString(name)
}
