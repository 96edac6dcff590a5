package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	cfg := fromViper(v)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, 5*time.Second, cfg.Presence.RotationInterval)
	assert.Equal(t, 2*time.Second, cfg.Presence.GraceWindow)
	assert.Equal(t, 60.0, cfg.Presence.PassThreshold)
	assert.Equal(t, KeyStoreMemory, cfg.Presence.KeyStoreBackend)
	assert.Equal(t, 10*time.Minute, cfg.Presence.KeyRetention)
	assert.Equal(t, 4*time.Hour, cfg.Geofence.StateTTL)
	assert.False(t, cfg.Geofence.Enabled)
	assert.Empty(t, cfg.Tracing.Endpoint)
}

func TestOverridesAndFallbacks(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("PRESENCE_ROTATION_INTERVAL", "3s")
	v.Set("PRESENCE_GRACE_WINDOW", "not-a-duration")
	v.Set("PRESENCE_PASS_THRESHOLD", 150)
	v.Set("PRESENCE_KEYSTORE", " Redis ")
	v.Set("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	cfg := fromViper(v)

	assert.Equal(t, 3*time.Second, cfg.Presence.RotationInterval)
	assert.Equal(t, 2*time.Second, cfg.Presence.GraceWindow)
	assert.Equal(t, 60.0, cfg.Presence.PassThreshold)
	assert.Equal(t, KeyStoreRedis, cfg.Presence.KeyStoreBackend)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, time.Minute, parseDuration("", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("-5s", time.Minute))
	assert.Equal(t, 90*time.Second, parseDuration("1m30s", time.Minute))
}
