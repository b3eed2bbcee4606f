package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ignite/contact-import/internal/config"
)

func TestRedactEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"john.doe@example.com", "jo***@example.com"},
		{"ab@example.com", "***@example.com"},
		{"not-an-email", "***@***"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RedactEmail(tt.in), tt.in)
	}
}

func TestRedactText(t *testing.T) {
	assert.Equal(t, "Invalid email format: jo***@example.com", RedactText("Invalid email format: john@example.com"))
	assert.Equal(t, "no addresses here", RedactText("no addresses here"))
}

func TestNew(t *testing.T) {
	l, err := New(config.LogConfig{Level: "debug"})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	_, err = New(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestEmailField(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	zap.New(core).Info("committed", Email("email", "jane@acme.io"))

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "ja***@acme.io", logs.All()[0].ContextMap()["email"])
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
}
