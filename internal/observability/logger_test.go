// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/YuanQin2000/datax/internal/config"
)

// lockedBuffer is a WriteSyncer safe for concurrent use.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Sync() error { return nil }

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestInitialize(t *testing.T) {
	t.Run("console logger with colors", func(t *testing.T) {
		ResetForTest()
		defer ResetForTest()
		buf := &lockedBuffer{}

		Initialize(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "datax",
			Colors:      config.ColorConfig{Info: "green"},
		}, buf)
		GetLogger().Named("transport").Info("connection established", zap.String("peer", "127.0.0.1:80"))
		Sync()

		output := buf.String()
		assert.Contains(t, output, colorMap["green"]+"INFO"+colorReset)
		assert.Contains(t, output, "datax.transport.")
		assert.Contains(t, output, "connection established")
		assert.Contains(t, output, `"peer": "127.0.0.1:80"`)
	})

	t.Run("uncolored levels without a mapping", func(t *testing.T) {
		ResetForTest()
		defer ResetForTest()
		buf := &lockedBuffer{}

		Initialize(config.LoggerConfig{Level: "info", Format: "console", Colors: config.ColorConfig{Warn: "mauve"}}, buf)
		GetLogger().Warn("plain")
		Sync()
		assert.Contains(t, buf.String(), "\tWARN\t")
		assert.NotContains(t, buf.String(), colorReset)
	})

	t.Run("json logger", func(t *testing.T) {
		ResetForTest()
		defer ResetForTest()
		buf := &lockedBuffer{}

		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"}, buf)
		GetLogger().Warn("request failed", zap.String("code", "connect failed"))
		GetLogger().Debug("below threshold")
		Sync()

		var entry map[string]any
		require.NoError(t, jsoniter.UnmarshalFromString(buf.String(), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "request failed", entry["msg"])
		assert.Equal(t, "connect failed", entry["code"])
	})

	t.Run("bad level falls back to info", func(t *testing.T) {
		logger := NewLogger(config.LoggerConfig{Level: "chatty", Format: "json"}, zapcore.AddSync(&bytes.Buffer{}))
		assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("rotating file sink", func(t *testing.T) {
		ResetForTest()
		defer ResetForTest()
		path := filepath.Join(t.TempDir(), "datax.log")

		Initialize(config.LoggerConfig{Level: "debug", Format: "console", LogFile: path, MaxSize: 1}, &lockedBuffer{})
		GetLogger().Error("written to the file")
		Sync()

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), `"msg":"written to the file"`)
	})

	t.Run("only initializes once", func(t *testing.T) {
		ResetForTest()
		defer ResetForTest()
		buf := &lockedBuffer{}

		Initialize(config.LoggerConfig{Level: "info", ServiceName: "First"}, buf)
		first := GetLogger()
		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "Second"}, buf)
		assert.Same(t, first, GetLogger())

		GetLogger().Info("test")
		Sync()
		assert.Contains(t, buf.String(), "First")
		assert.NotContains(t, buf.String(), "Second")
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("fallback before initialization", func(t *testing.T) {
		ResetForTest()
		logger := GetLogger()
		require.NotNil(t, logger)
		assert.Nil(t, globalLogger.Load())
	})

	t.Run("global logger after initialization", func(t *testing.T) {
		ResetForTest()
		defer ResetForTest()
		Initialize(config.LoggerConfig{Level: "info", ServiceName: "GlobalTest"}, &lockedBuffer{})
		assert.Same(t, globalLogger.Load(), GetLogger())
	})
}
