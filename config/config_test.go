package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CMUX_REMOTE_ENABLED", "")
	t.Setenv("CMUX_REMOTE_PORT", "")
	t.Setenv("CMUX_REMOTE_TMUX", "")

	cfg := Load()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.False(t, cfg.TmuxMode)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CMUX_REMOTE_ENABLED", "1")
	t.Setenv("CMUX_REMOTE_PORT", "9090")
	t.Setenv("CMUX_REMOTE_TMUX", "true")

	cfg := Load()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.TmuxMode)
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("CMUX_REMOTE_PORT", "70000")
	assert.Equal(t, DefaultPort, Load().Port)

	t.Setenv("CMUX_REMOTE_PORT", "not-a-number")
	assert.Equal(t, DefaultPort, Load().Port)
}
