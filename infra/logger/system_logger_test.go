package logger

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietConfig(level LogLevel) SystemLoggerConfig {
	return SystemLoggerConfig{
		EnableConsole: false,
		MinLevel:      level,
		Service:       "test-service",
		Version:       "1.0.0",
		Environment:   "test",
	}
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	return buf.String()
}

func TestNewSystemLogger(t *testing.T) {
	config := quietConfig(LevelInfo)
	config.EnableOpenSearch = true

	logger := NewSystemLogger(nil, config)

	require.NotNil(t, logger)
	assert.False(t, logger.enableOpenSearch, "opensearch needs a client")
	assert.Equal(t, LevelInfo, logger.minLevel)
	assert.Equal(t, "test-service", logger.service)
}

func TestSystemLogger_ShouldLog(t *testing.T) {
	tests := []struct {
		name     string
		minLevel LogLevel
		level    LogLevel
		expected bool
	}{
		{"debug_level_allows_all", LevelDebug, LevelDebug, true},
		{"info_level_blocks_debug", LevelInfo, LevelDebug, false},
		{"info_level_allows_info", LevelInfo, LevelInfo, true},
		{"warn_level_allows_error", LevelWarn, LevelError, true},
		{"error_level_blocks_warn", LevelError, LevelWarn, false},
		{"fatal_level_allows_fatal", LevelFatal, LevelFatal, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewSystemLogger(nil, quietConfig(tt.minLevel))
			assert.Equal(t, tt.expected, logger.shouldLog(tt.level))
		})
	}
}

func TestSystemLogger_ExtractComponent(t *testing.T) {
	logger := NewSystemLogger(nil, quietConfig(LevelDebug))

	tests := []struct {
		name     string
		filePath string
		expected string
	}{
		{"provider_file", "/path/to/gamevault/provider/payos/payos.go", "provider/payos"},
		{"ledger_file", "/path/to/gamevault/ledger/ledger.go", "ledger/ledger.go"},
		{"unknown_file", "/some/other/path/file.go", "path"},
		{"single_part", "file.go", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, logger.extractComponent(tt.filePath))
		})
	}
}

func TestSystemLogger_ErrorDoesNotMutateFields(t *testing.T) {
	logger := NewSystemLogger(nil, quietConfig(LevelDebug))

	fields := map[string]any{"attempt": 1}
	logger.Error("gateway call failed", errors.New("timeout"), LogContext{Fields: fields})

	assert.NotContains(t, fields, "error")
}

func TestContextLogger(t *testing.T) {
	systemLogger := NewSystemLogger(nil, quietConfig(LevelDebug))

	ctx := LogContext{TransactionID: "txn-1", Provider: "payos"}
	contextLogger := systemLogger.WithContext(ctx)

	require.NotNil(t, contextLogger)
	assert.Equal(t, ctx, contextLogger.context)

	contextLogger.Info("Info message")
	contextLogger.Warn("Warning message")
	contextLogger.Error("Error message", errors.New("test error"))

	tagged := contextLogger.AddField("key", "value").
		SetTransactionID("txn-2").
		SetOrderCode("173400000012345")

	assert.Equal(t, "txn-2", tagged.context.TransactionID)
	assert.Equal(t, "173400000012345", tagged.context.OrderCode)
	assert.Equal(t, "payos", tagged.context.Provider)
	assert.Equal(t, "value", tagged.context.Fields["key"])

	// the base logger is untouched
	assert.Equal(t, ctx, contextLogger.context)
}

func TestContextLogger_BranchesDoNotShareFields(t *testing.T) {
	base := NewSystemLogger(nil, quietConfig(LevelDebug)).WithContext(LogContext{Fields: map[string]any{"status": "PAID"}})

	rejected := base.AddField("error", "bad signature")
	accepted := base.AddField("paid_amount", 99.5)

	assert.Equal(t, map[string]any{"status": "PAID", "error": "bad signature"}, rejected.context.Fields)
	assert.Equal(t, map[string]any{"status": "PAID", "paid_amount": 99.5}, accepted.context.Fields)
	assert.Equal(t, map[string]any{"status": "PAID"}, base.context.Fields)
}

func TestSystemLogger_LogToConsole(t *testing.T) {
	config := quietConfig(LevelDebug)
	config.EnableConsole = true
	logger := NewSystemLogger(nil, config)

	output := captureStdout(t, func() {
		logger.Info("payment link created", LogContext{
			TransactionID: "txn-1",
			OrderCode:     "173400000012345",
			RequestID:     "abc",
		})
	})

	assert.Contains(t, output, "payment link created")
	assert.Contains(t, output, "INFO")
	assert.Contains(t, output, "txn=txn-1")
	assert.Contains(t, output, "order=173400000012345")
	assert.Contains(t, output, "req_id=abc")
}
