// File: internal/observability/logger_test.go
package observability

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/drawbot/internal/config"
)

// syncBuffer adapts a bytes.Buffer into a zapcore.WriteSyncer so tests can
// capture console output without touching stdout.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Sync() error { return nil }

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func initTestLogger(t *testing.T, cfg config.LoggerConfig) *syncBuffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)

	out := &syncBuffer{}
	Initialize(cfg, zapcore.Lock(out))
	return out
}

func TestInitializeWritesThroughGlobalLogger(t *testing.T) {
	out := initTestLogger(t, config.LoggerConfig{
		Level: "debug", Format: "json", ServiceName: "drawbot-test",
	})

	GetLogger().Info("hello from the test")

	logged := out.String()
	assert.Contains(t, logged, "hello from the test")
	assert.Contains(t, logged, "drawbot-test")
	assert.Contains(t, logged, `"INFO"`)
}

func TestInitializeRespectsLevel(t *testing.T) {
	out := initTestLogger(t, config.LoggerConfig{
		Level: "warn", Format: "json", ServiceName: "drawbot-test",
	})

	logger := GetLogger()
	logger.Info("should be filtered")
	logger.Warn("should appear")

	logged := out.String()
	assert.NotContains(t, logged, "should be filtered")
	assert.Contains(t, logged, "should appear")
}

func TestInitializeFallsBackToInfoOnBadLevel(t *testing.T) {
	out := initTestLogger(t, config.LoggerConfig{
		Level: "not-a-level", Format: "json", ServiceName: "drawbot-test",
	})

	logger := GetLogger()
	logger.Debug("debug suppressed at info")
	logger.Info("info visible")

	logged := out.String()
	assert.NotContains(t, logged, "debug suppressed at info")
	assert.Contains(t, logged, "info visible")
}

func TestInitializeIsIdempotent(t *testing.T) {
	out := initTestLogger(t, config.LoggerConfig{
		Level: "info", Format: "json", ServiceName: "first",
	})

	// A second call must not replace the configured logger.
	second := &syncBuffer{}
	Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "second"}, zapcore.Lock(second))

	GetLogger().Info("routed once")
	assert.Contains(t, out.String(), "routed once")
	assert.Empty(t, second.String())
}

func TestConsoleFormatAppendsNameDot(t *testing.T) {
	out := initTestLogger(t, config.LoggerConfig{
		Level: "info", Format: "console", ServiceName: "drawbot",
	})

	GetLogger().Named("anty").Info("console line")

	logged := out.String()
	assert.Contains(t, logged, "drawbot.anty.")
	assert.Contains(t, logged, "console line")
}

func TestGetLoggerBeforeInitializeReturnsFallback(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
	// The fallback is usable but must not be promoted to the global slot.
	logger.Debug("fallback probe")
	assert.Nil(t, globalLogger.Load())
}

func TestSyncWithoutLoggerIsNoOp(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)
	assert.NotPanics(t, Sync)
}

func TestJSONFormatForNonConsole(t *testing.T) {
	out := initTestLogger(t, config.LoggerConfig{
		Level: "info", Format: "json", ServiceName: "drawbot",
	})

	GetLogger().Info("structured")

	line := strings.TrimSpace(out.String())
	assert.True(t, strings.HasPrefix(line, "{"), "json format should produce an object per line: %q", line)
	assert.True(t, strings.HasSuffix(line, "}"), "json format should produce an object per line: %q", line)
}
