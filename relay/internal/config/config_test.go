package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5001, cfg.WSPort)
	assert.Equal(t, 5000, cfg.HTTPPort)
	assert.Equal(t, "http://localhost:3000", cfg.Origin)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.True(t, cfg.EchoToSender)
	assert.Equal(t, 2000, cfg.MaxTextLength)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, int64(65536), cfg.MaxMessageSize)
	assert.Empty(t, cfg.JWTSecret)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WS_PORT", "7001")
	t.Setenv("STORE_DRIVER", "badger")
	t.Setenv("BADGER_PATH", "/tmp/chat")
	t.Setenv("ECHO_TO_SENDER", "false")
	t.Setenv("STORE_TIMEOUT", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7001, cfg.WSPort)
	assert.Equal(t, "badger", cfg.StoreDriver)
	assert.Equal(t, "/tmp/chat", cfg.BadgerPath)
	assert.False(t, cfg.EchoToSender)
	assert.Equal(t, 250*time.Millisecond, cfg.StoreTimeout)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"unknown driver":      {"STORE_DRIVER", "cassandra"},
		"bad port":            {"HTTP_PORT", "70000"},
		"unparsable duration": {"STORE_TIMEOUT", "soon"},
		"bad log level":       {"LOG_LEVEL", "chatty"},
		"ping after read":     {"WS_PING_INTERVAL", "2m"},
		"postgres with file":  {"STORE_DRIVER", "postgres"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
