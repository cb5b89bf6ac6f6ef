package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"PORT", "CHAT_ENDPOINT_URL", "STORE_DRIVER", "STORE_PATH", "AUTH_JWT_SECRET", "HISTORY_LIMIT",
	"RELAY_REQUESTS_PER_MINUTE", "RELAY_BURST", "RELAY_CREDITS", "AI_HISTORY_LIMIT", "ARK_TEMPERATURE",
}

// clearEnv unsets the config keys for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		if old, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, old) })
		}
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "http://localhost:8080/functions/v1/chat", cfg.Client.EndpointURL)
	assert.Equal(t, StoreSQLite, cfg.Client.StoreDriver)
	assert.Equal(t, "data/onechat.db", cfg.Client.StorePath)
	assert.Equal(t, 20, cfg.Client.HistoryLimit)
	assert.Equal(t, 20, cfg.Client.RelayRequestsPerMinute)
	assert.Equal(t, 5, cfg.Client.RelayBurst)
	assert.Equal(t, 0, cfg.Client.RelayCredits)
	assert.Equal(t, 10, cfg.AI.HistoryLimit)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("CHAT_ENDPOINT_URL", "https://example.test/functions/v1/chat")
	t.Setenv("HISTORY_LIMIT", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, StoreMemory, cfg.Client.StoreDriver)
	assert.Equal(t, "https://example.test/functions/v1/chat", cfg.Client.EndpointURL)
	assert.Equal(t, 5, cfg.Client.HistoryLimit)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"PORT":            "80 80",
		"STORE_DRIVER":    "postgres",
		"HISTORY_LIMIT":   "many",
		"ARK_TEMPERATURE": "hot",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestAIConfigEnabled(t *testing.T) {
	assert.False(t, AIConfig{}.Enabled())
	assert.True(t, AIConfig{Model: "m", APIKey: "k"}.Enabled())
	assert.True(t, AIConfig{Model: "m", AccessKey: "a", SecretKey: "s"}.Enabled())
	assert.False(t, AIConfig{Model: "m", AccessKey: "a"}.Enabled())
}
