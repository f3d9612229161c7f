package logx

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	t.Cleanup(func() { SetOutput(prev) })
	return &buf
}

func TestLogFormat(t *testing.T) {
	buf := captureOutput(t)

	NewLogger("server").Info("listening on %s", ":8080")

	line := buf.String()
	assert.Contains(t, line, "[server] INFO: listening on :8080")
	assert.True(t, strings.HasPrefix(line, "["))
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestDebugRespectsToggle(t *testing.T) {
	buf := captureOutput(t)
	t.Cleanup(func() { SetDebug(false) })

	logger := NewLogger("loop")
	SetDebug(false)
	logger.Debug("hidden")
	assert.Empty(t, buf.String())

	SetDebug(true)
	logger.Debug("shown")
	assert.Contains(t, buf.String(), "DEBUG: shown")
}

func TestDomainDebug(t *testing.T) {
	buf := captureOutput(t)
	t.Cleanup(func() { SetDebug(false) })

	SetDebug(true, "toolloop")
	ctx := WithComponent(context.Background(), "agent")

	Debug(ctx, "http", "skipped")
	Debug(ctx, "toolloop", "round %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "skipped")
	assert.Contains(t, out, "[agent] DEBUG: [toolloop] round 2")
	assert.True(t, IsDebugEnabledForDomain("toolloop"))
	assert.False(t, IsDebugEnabledForDomain("http"))
}

func TestLogBufferKeepsMostRecent(t *testing.T) {
	b := &InMemoryLogBuffer{maxSize: 3}
	for i := 0; i < 5; i++ {
		b.AddLogEntry(&LogEntry{Timestamp: time.Now().UTC().Format(TimestampLayout), Message: string(rune('a' + i))})
	}

	entries := b.GetLogEntries("", time.Time{})
	require.Len(t, entries, 3)
	assert.Equal(t, "c", entries[0].Message)
	assert.Equal(t, "e", entries[2].Message)
}

func TestLogBufferDomainFilter(t *testing.T) {
	b := &InMemoryLogBuffer{maxSize: 10}
	b.AddLogEntry(&LogEntry{Message: "one", Domain: "http"})
	b.AddLogEntry(&LogEntry{Message: "two", Domain: "toolloop"})

	entries := b.GetLogEntries("HTTP", time.Time{})
	require.Len(t, entries, 1)
	assert.Equal(t, "one", entries[0].Message)
}

func TestWith(t *testing.T) {
	l := NewLogger("agent").With("weather")
	assert.Equal(t, "agent/weather", l.Component())
}

func TestWrap(t *testing.T) {
	captureOutput(t)

	assert.NoError(t, Wrap(nil, "noop"))

	base := errors.New("boom")
	err := Wrap(base, "load config")
	require.Error(t, err)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "load config: boom", err.Error())
}
