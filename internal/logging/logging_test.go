package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/venux/panel/backend/internal/config"
)

func TestNewHonoursLevel(t *testing.T) {
	logger, err := New(config.LogConfig{Level: "warn", Format: "console"})
	require.NoError(t, err)

	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestNewRejectsUnknownSettings(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud", Format: "json"})
	assert.ErrorContains(t, err, "LOG_LEVEL")

	_, err = New(config.LogConfig{Level: "info", Format: "xml"})
	assert.ErrorContains(t, err, "LOG_FORMAT")
}
