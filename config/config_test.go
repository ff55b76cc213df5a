package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `{
		"jurisdiction": "AU",
		"nats": {"url": "nats://queue:4222"},
		"api": {"listen": ":9090", "hub_url": "https://node.example.com/subscriptions"},
		"channels": [
			{
				"name": "cn-trade",
				"jurisdiction": "CN",
				"predicate": "UN.CEFACT.Trade",
				"endpoint": "https://channel.example.com",
				"subscription_url": "https://channel.example.com/subscriptions"
			}
		],
		"document_apis": {"CN": "https://docs.cn.example.com"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "AU", cfg.Jurisdiction)
	assert.Equal(t, "nats://queue:4222", cfg.NATS.URL)
	assert.Equal(t, ":9090", cfg.API.Listen)
	require.Len(t, cfg.Channels, 1)
	assert.Equal(t, "cn-trade", cfg.Channels[0].Name)
	assert.Equal(t, []string{"https://channel.example.com/subscriptions"}, cfg.SubscriptionURLs())
	// Defaults survive a partial file.
	assert.Equal(t, time.Second, cfg.Workers.IdleSleep)
	assert.Equal(t, 10, cfg.Workers.RouterAttempts)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("IGL_JURISDICTION", "SG")
	t.Setenv("IGL_NATS_URL", "nats://other:4222")
	t.Setenv("IGL_DOCUMENT_APIS", "CN=https://docs.cn.example.com,NZ=https://docs.nz.example.com")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "SG", cfg.Jurisdiction)
	assert.Equal(t, "nats://other:4222", cfg.NATS.URL)
	assert.Equal(t, "https://docs.nz.example.com", cfg.DocumentAPIs["NZ"])
}

func TestMissingJurisdiction(t *testing.T) {
	t.Setenv("IGL_JURISDICTION", "")
	_, err := Load("")
	assert.Error(t, err)
}

func TestInvalidJurisdiction(t *testing.T) {
	t.Setenv("IGL_JURISDICTION", "AUS")
	_, err := Load("")
	assert.Error(t, err)
}

func TestChannelValidation(t *testing.T) {
	t.Setenv("IGL_JURISDICTION", "AU")
	path := writeConfig(t, `{
		"channels": [{"name": "broken", "jurisdiction": "CN"}]
	}`)
	_, err := Load(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint")
}

func TestSecretsMaskedInString(t *testing.T) {
	t.Setenv("IGL_JURISDICTION", "AU")
	path := writeConfig(t, `{
		"channels": [{
			"name": "cn-trade",
			"jurisdiction": "CN",
			"predicate": "UN.CEFACT.Trade",
			"endpoint": "https://channel.example.com",
			"auth_token": "very-secret-token"
		}]
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	rendered := cfg.String()
	assert.NotContains(t, rendered, "very-secret-token")
	assert.Contains(t, rendered, "cn-trade")
}
