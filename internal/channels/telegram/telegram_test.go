package telegram

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
	name, args, ok := parseCommand("/new")
	require.True(t, ok)
	require.Equal(t, adapters.CommandNew, name)
	require.Empty(t, args)

	name, args, ok = parseCommand("/abort@mybot now please")
	require.True(t, ok)
	require.Equal(t, adapters.CommandAbort, name)
	require.Equal(t, []string{"now", "please"}, args)
}

func TestParseCommandRejectsUnknownAndPlainText(t *testing.T) {
	_, _, ok := parseCommand("hello there")
	require.False(t, ok)

	_, _, ok = parseCommand("/whoami")
	require.False(t, ok)
}

func TestChunkTextSplitsOnNewlineBoundary(t *testing.T) {
	text := "line one\n" + string(make([]byte, 10)) + "\nline three"
	chunks := chunkText(text, 15)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		require.LessOrEqual(t, len(c), 15)
	}
}

func TestChunkTextEmptyReturnsSingleEmptyChunk(t *testing.T) {
	require.Equal(t, []string{""}, chunkText("", 10))
}
