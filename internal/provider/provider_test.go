package provider

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hiboss/hiboss/internal/model"
)

func TestRegistryResolvesRegisteredProvider(t *testing.T) {
	reg := Registry{
		model.ProviderClaude: NewClaude,
		model.ProviderCodex:  NewCodex,
	}

	s, ok := reg.New(model.ProviderClaude)
	require.True(t, ok)
	require.NotNil(t, s)

	_, ok = reg.New(model.Provider("unknown"))
	require.False(t, ok)
}

func TestUsageFromStreamSumsInputOutput(t *testing.T) {
	ev := streamEvent{}
	ev.Usage.InputTokens = 120
	ev.Usage.OutputTokens = 40
	ev.Usage.CacheReadInputTokens = 10
	ev.Usage.CacheCreationInputTokens = 5

	u := usageFromStream(ev)
	require.Equal(t, 120, u.Input)
	require.Equal(t, 40, u.Output)
	require.Equal(t, 160, u.Total)
	require.Equal(t, 10, u.CacheRead)
	require.Equal(t, 5, u.CacheWrite)
}

func TestLastJSONLineParsesFinalLine(t *testing.T) {
	buf := []byte("{\"event\":\"start\"}\n{\"session_id\":\"abc\",\"last_agent_message\":\"done\"}\n")
	var out codexExecOutput
	require.NoError(t, lastJSONLine(buf, &out))
	require.Equal(t, "abc", out.SessionID)
	require.Equal(t, "done", out.LastMessage)
}

func TestLastJSONLineEmptyInputErrors(t *testing.T) {
	var out codexExecOutput
	require.Error(t, lastJSONLine(nil, &out))
}
