package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := FromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPServer.Port)
	assert.Equal(t, "primary", cfg.Calendar.ID)
	assert.Equal(t, "+09:00", cfg.Calendar.UTCOffset)
	assert.Equal(t, 14, cfg.Calendar.HorizonDays)
	assert.Equal(t, "@every 30m", cfg.Watch.RenewSchedule)
	assert.Equal(t, 5*time.Minute, cfg.Watch.SafetyMargin)
	assert.Equal(t, 4096, cfg.Notify.MaxChunk)
	assert.Equal(t, 1.0, cfg.Notify.RatePerSec)
	assert.Equal(t, 20*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 2*time.Minute, cfg.SyncTimeout)
}

func TestYAMLAndEnv(t *testing.T) {
	t.Setenv("GOOGLE_REFRESH_TOKEN", "from-env")
	t.Setenv("WATCH_SAFETY_MARGIN", "10m")

	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
http_server:
  port: 9090
calendar:
  id: team@example.com
  utc_offset: "-05:00"
google:
  client_id: yaml-client
  refresh_token: from-yaml
  redirect_url: https://watcher.example.com/auth/google/callback
watch:
  callback_url: https://hooks.example.com/calendar/webhook/notification
notify:
  webhook_url: https://chat.example.com/hook
  max_chunk: 2000
`)))

	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTPServer.Port)
	assert.Equal(t, "team@example.com", cfg.Calendar.ID)
	assert.Equal(t, "-05:00", cfg.Calendar.UTCOffset)
	assert.Equal(t, "yaml-client", cfg.Google.ClientID)
	assert.Equal(t, "from-env", cfg.Google.RefreshToken)
	assert.Equal(t, "https://watcher.example.com/auth/google/callback", cfg.Google.RedirectURL)
	assert.Equal(t, 10*time.Minute, cfg.Watch.SafetyMargin)
	assert.Equal(t, "https://hooks.example.com/calendar/webhook/notification", cfg.Watch.CallbackURL)
	assert.Equal(t, 2000, cfg.Notify.MaxChunk)
}

func TestValidate(t *testing.T) {
	t.Setenv("HTTP_SERVER_PORT", "0")
	_, err := FromViper(viper.New())
	require.Error(t, err)
}

func TestValidateHorizon(t *testing.T) {
	t.Setenv("CALENDAR_HORIZON_DAYS", "-1")
	_, err := FromViper(viper.New())
	require.Error(t, err)
}

func TestAdminToken(t *testing.T) {
	t.Run("falls back to channel token", func(t *testing.T) {
		t.Setenv("WATCH_CHANNEL_TOKEN", "chan-secret")
		cfg, err := FromViper(viper.New())
		require.NoError(t, err)
		assert.Equal(t, "chan-secret", cfg.HTTPServer.AdminToken)
	})

	t.Run("explicit token wins", func(t *testing.T) {
		t.Setenv("WATCH_CHANNEL_TOKEN", "chan-secret")
		t.Setenv("HTTP_SERVER_ADMIN_TOKEN", "admin-secret")
		cfg, err := FromViper(viper.New())
		require.NoError(t, err)
		assert.Equal(t, "admin-secret", cfg.HTTPServer.AdminToken)
	})

	t.Run("unset", func(t *testing.T) {
		cfg, err := FromViper(viper.New())
		require.NoError(t, err)
		assert.Empty(t, cfg.HTTPServer.AdminToken)
	})
}
