package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestNew_level(t *testing.T) {
	assert.True(t, New("debug").Desugar().Core().Enabled(zapcore.DebugLevel))
	assert.False(t, New("warn").Desugar().Core().Enabled(zapcore.InfoLevel))
	assert.False(t, New("chatty").Desugar().Core().Enabled(zapcore.DebugLevel), "unknown level falls back to info")
	assert.True(t, New("chatty").Desugar().Core().Enabled(zapcore.InfoLevel))
}
