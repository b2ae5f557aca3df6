package model

import "testing"

func TestParseAddressAgent(t *testing.T) {
	a, err := ParseAddress("agent:nex")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.IsAgent() || a.AgentName != "nex" {
		t.Errorf("got %+v", a)
	}
	if a.String() != "agent:nex" {
		t.Errorf("round-trip mismatch: %q", a.String())
	}
}

func TestParseAddressChannelWithColonInChatID(t *testing.T) {
	a, err := ParseAddress("channel:telegram:6447779930:topic:5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.IsChannel() || a.AdapterType != "telegram" || a.ChatID != "6447779930:topic:5" {
		t.Errorf("got %+v", a)
	}
	if a.String() != "channel:telegram:6447779930:topic:5" {
		t.Errorf("round-trip mismatch: %q", a.String())
	}
}

func TestParseAddressInvalid(t *testing.T) {
	for _, raw := range []string{"", "agent:", "agent:Nex", "agent:-nex", "channel:telegram", "channel::123", "bogus:foo"} {
		if _, err := ParseAddress(raw); err == nil {
			t.Errorf("ParseAddress(%q): expected error", raw)
		}
	}
}

func TestValidAgentName(t *testing.T) {
	valid := []string{"nex", "a", "agent-42", "n0de"}
	invalid := []string{"", "Nex", "-nex", "nex_42", "UPPER"}
	for _, n := range valid {
		if !ValidAgentName(n) {
			t.Errorf("expected %q to be valid", n)
		}
	}
	for _, n := range invalid {
		if ValidAgentName(n) {
			t.Errorf("expected %q to be invalid", n)
		}
	}
}
