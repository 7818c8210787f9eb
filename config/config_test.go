package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("TAXDESK_BACKEND_URL", "http://tax-engine:5000/")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "http://tax-engine:5000", cfg.BackendURL)
	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, SessionStoreMemory, cfg.SessionStore)
	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
	assert.Equal(t, MQNone, cfg.MQ.Backend)
	assert.Equal(t, 5*time.Second, cfg.ChatPollInterval)
	assert.False(t, cfg.Database.Enabled())
	assert.False(t, cfg.IsDev())
}

func TestLoadConfigCORSList(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:5173,https://tax.example.com")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:5173", "https://tax.example.com"}, cfg.CORSAllowedOrigins)
}

func TestValidate(t *testing.T) {
	base := Config{
		BackendURL:       "http://localhost:5000",
		SessionStore:     SessionStoreMemory,
		MaxUploadBytes:   1 << 20,
		ChatPollInterval: time.Second,
		Storage:          StorageConfig{Backend: StorageMemory},
		MQ:               MQConfig{Backend: MQNone},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"redis without url", func(c *Config) { c.SessionStore = SessionStoreRedis }},
		{"unknown session store", func(c *Config) { c.SessionStore = "file" }},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "s3" }},
		{"unknown mq", func(c *Config) { c.MQ.Backend = "kafka" }},
		{"empty backend", func(c *Config) { c.BackendURL = "" }},
		{"zero upload limit", func(c *Config) { c.MaxUploadBytes = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
