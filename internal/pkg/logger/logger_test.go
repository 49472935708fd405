package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIsProduction(t *testing.T) {
	assert.True(t, IsProduction("prod"))
	assert.True(t, IsProduction(" Production "))
	assert.False(t, IsProduction("dev"))
	assert.False(t, IsProduction(""))
}

func TestNewLogger(t *testing.T) {
	for _, env := range []string{"dev", "prod"} {
		t.Run(env, func(t *testing.T) {
			l := NewLogger(env)
			require.NotNil(t, l)
			l.Info("test message", zap.String("env", env))
		})
	}
}

func TestNewLogger_WithLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")

	l := NewLogger("dev")
	require.NotNil(t, l)
	assert.False(t, l.Core().Enabled(zap.InfoLevel))
	assert.True(t, l.Core().Enabled(zap.WarnLevel))
}

func TestNewLogger_WithInvalidLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "loud")

	l := NewLogger("dev")
	require.NotNil(t, l)
	assert.True(t, l.Core().Enabled(zap.DebugLevel))
}

func TestSet(t *testing.T) {
	original := Get()
	defer Set(original)

	nop := zap.NewNop()
	Set(nop)
	assert.Equal(t, nop, Get())
	Set(nil)
	assert.Equal(t, nop, Get(), "nil is ignored")

	assert.NotPanics(t, func() {
		Info("info", zap.Int("n", 1))
		Warn("warn")
		Error("error", zap.String("code", "E1"))
		Debug("debug")
		_ = With(zap.String("k", "v"))
		_ = Sync()
	})
}
