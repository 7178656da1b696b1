package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, StoreMemory, cfg.Store.Backend)
	require.Equal(t, "0.0.0.0:8529", cfg.Server.Addr())
	require.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	require.Equal(t, "", cfg.Redis.Addr())
	require.False(t, cfg.Archive.Enabled())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Mongo")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("STORE_SHARED_TICKS", "true")
	t.Setenv("RATE_LIMIT_ENABLED", "1")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("JWT_SECRET", "testsecret123456789012345678901234")
	t.Setenv("ARCHIVE_ENDPOINT", "localhost:9000")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, StoreMongo, cfg.Store.Backend)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
	require.True(t, cfg.Store.SharedTicks)
	require.True(t, cfg.RateLimit.Enabled)
	require.Equal(t, 2.5, cfg.RateLimit.RPS)
	require.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	require.True(t, cfg.Archive.Enabled())
	require.Equal(t, "revdoc-archive", cfg.Archive.Bucket)
}

func TestValidate(t *testing.T) {
	cases := map[string]map[string]any{
		"unknown backend":    {"STORE_BACKEND": "cassandra"},
		"mongo without uri":  {"STORE_BACKEND": "mongo"},
		"redis without host": {"STORE_BACKEND": "redis"},
		"sqlite without dsn": {"STORE_BACKEND": "sqlite"},
		"shared ticks":       {"STORE_SHARED_TICKS": true},
		"auth without keys":  {"AUTH_ENABLED": true},
		"oidc without id":    {"OIDC_ISSUER": "https://idp.example"},
		"zero rate":          {"RATE_LIMIT_ENABLED": true, "RATE_LIMIT_RPS": 0},
	}
	for name, settings := range cases {
		t.Run(name, func(t *testing.T) {
			v := viper.New()
			for k, val := range settings {
				v.Set(k, val)
			}
			_, err := FromViper(v)
			require.Error(t, err)
		})
	}

	v := viper.New()
	v.Set("STORE_BACKEND", "sqlite")
	v.Set("SQL_DSN", "file:revdoc.db")
	cfg, err := FromViper(v)
	require.NoError(t, err)
	require.Equal(t, StoreSQLite, cfg.Store.Backend)
}
