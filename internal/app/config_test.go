package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://u:p@db:5432/equiprent")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 30*time.Second, cfg.AppRequestTimeout)
	require.Equal(t, 5*time.Minute, cfg.CacheTTL)
	require.Equal(t, 120, cfg.RateLimitRPM)
	require.False(t, cfg.RevertRemovedOnUpdate)
	require.False(t, cfg.CachingEnabled())
	require.False(t, cfg.IsProduction())

	tag, err := cfg.Locale()
	require.NoError(t, err)
	require.Equal(t, language.MustParse("nb"), tag)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://u:p@db:5432/equiprent")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("RENTAL_REVERT_REMOVED_ON_UPDATE", "true")
	t.Setenv("APP_LOCALE", "sv")
	t.Setenv("APP_ENV", "production")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.RevertRemovedOnUpdate)
	require.True(t, cfg.CachingEnabled())
	require.True(t, cfg.IsProduction())
}

func TestConfigValidate(t *testing.T) {
	valid := Config{PGDSN: "postgres://x", AppLocale: "nb", LogFormat: "json"}
	require.NoError(t, valid.Validate())

	cases := map[string]func(*Config){
		"empty dsn":     func(c *Config) { c.PGDSN = " " },
		"bad locale":    func(c *Config) { c.AppLocale = "not a locale!" },
		"bad format":    func(c *Config) { c.LogFormat = "xml" },
		"negative rate": func(c *Config) { c.RateLimitRPM = -1 },
		"negative ttl":  func(c *Config) { c.CacheTTL = -time.Second },
	}
	for name, mutate := range cases {
		cfg := valid
		mutate(&cfg)
		require.Error(t, cfg.Validate(), name)
	}
}

func TestLoggerLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", LogLevel: "warn"})
	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `"msg":"shown"`)
	require.Equal(t, 1, strings.Count(out, "\n"))

	require.Equal(t, slog.LevelInfo, parseLevel(&Config{LogLevel: "loud"}))
	require.Equal(t, slog.LevelDebug, parseLevel(&Config{LogLevel: "DEBUG"}))
}

func TestRefreshTestMode(t *testing.T) {
	t.Setenv(TestModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(TestModeEnv, "false")
	RefreshTestMode()
	require.False(t, InTestMode())
}
