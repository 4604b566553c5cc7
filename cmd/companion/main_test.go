package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func localEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("MEMORY_DRIVER", "sqlite")
	t.Setenv("DATABASE_PATH", filepath.Join(dir, "memory.db"))
	t.Setenv("COMPLETION_PRIMARY_MODE", "mock")
	t.Setenv("COMPLETION_FALLBACK_MODE", "mock")
	t.Setenv("SPEECH_PROVIDER", "off")
	t.Setenv("PERSONA_FILE", "")
}

func TestChatThenHistory(t *testing.T) {
	localEnv(t)

	out, err := runCLI(t, "hello\n\n嬉しい\n/quit\nignored\n", "chat", "--session", "cli")
	require.NoError(t, err)
	assert.Contains(t, out, "[neutral] I heard you: hello")
	assert.Contains(t, out, "I heard you: 嬉しい")
	assert.NotContains(t, out, "ignored")

	out, err = runCLI(t, "", "history", "--session", "cli", "--limit", "3")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "I heard you: hello")
	assert.Contains(t, lines[1], "user")
	assert.Contains(t, lines[1], "[happy] 嬉しい")
	assert.Contains(t, lines[2], "assistant")
}

func TestHistoryJSON(t *testing.T) {
	localEnv(t)

	_, err := runCLI(t, "hi\n", "chat", "--session", "j")
	require.NoError(t, err)
	out, err := runCLI(t, "", "history", "--session", "j", "--json")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"role":"user"`)
	assert.Contains(t, lines[1], `"role":"assistant"`)
}

func TestConfigErrorsSurface(t *testing.T) {
	localEnv(t)
	t.Setenv("MEMORY_DRIVER", "floppy")
	_, err := runCLI(t, "", "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MEMORY_DRIVER")
}
