package discord

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hiboss/hiboss/internal/adapters"
)

func TestNewRejectsEmptyToken(t *testing.T) {
	_, err := New("", nil, nil)
	require.Error(t, err)
}

func TestParseCommandRecognizesBossCommands(t *testing.T) {
	name, args, ok := parseCommand("/status")
	require.True(t, ok)
	require.Equal(t, adapters.CommandStatus, name)
	require.Empty(t, args)
}

func TestParseCommandRejectsUnknownAndPlainText(t *testing.T) {
	_, _, ok := parseCommand("hey there")
	require.False(t, ok)

	_, _, ok = parseCommand("/whoami")
	require.False(t, ok)
}

func TestChunkTextSplitsOnNewlineBoundary(t *testing.T) {
	text := "abcdefgh\nijklmnopqrstuvwxyz"
	chunks := chunkText(text, 10)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		require.LessOrEqual(t, len(c), 10)
	}
}

func TestReplyReferenceNilWhenNoReplyRequested(t *testing.T) {
	require.Nil(t, replyReference("chat-1", adapters.SendOptions{}))
	ref := replyReference("chat-1", adapters.SendOptions{ReplyToMessageID: "msg-1"})
	require.NotNil(t, ref)
	require.Equal(t, "msg-1", ref.MessageID)
}
