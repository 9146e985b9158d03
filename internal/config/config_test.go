package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Setenv("ENV_FILE", "does-not-exist.env")
	t.Setenv("JWT_ACCESS_SECRET", "access-secret-32-bytes-xxxxxxxxxxxx")
	t.Setenv("JWT_REFRESH_SECRET", "refresh-secret-32-bytes-xxxxxxxxxxx")
}

func TestLoadConfig(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017/testdb")
	t.Setenv("REDIS_HOST", "localhost")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "mongodb://localhost:27017/testdb", cfg.MongoDB.URI)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
	require.Equal(t, 900*time.Second, cfg.JWT.AccessTokenTTL)
	require.Equal(t, 30*24*time.Hour, cfg.JWT.RefreshTokenTTL)
	require.Equal(t, time.Duration(0), cfg.Session.AbsoluteTTL)
	require.False(t, cfg.Session.ReuseContainment)
	require.Equal(t, "memory", cfg.Session.Store)
	require.Equal(t, "lax", cfg.Cookie.SameSite)
}

func TestLoadConfig_Overrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("JWT_ACCESS_TOKEN_TTL", "60")
	t.Setenv("REFRESH_ABSOLUTE_TTL", "86400")
	t.Setenv("AUTH_REUSE_CONTAINMENT", "true")
	t.Setenv("SESSION_STORE", "Redis")
	t.Setenv("COOKIE_SECURE", "true")
	t.Setenv("COOKIE_SAMESITE", "None")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, time.Minute, cfg.JWT.AccessTokenTTL)
	require.Equal(t, 24*time.Hour, cfg.Session.AbsoluteTTL)
	require.True(t, cfg.Session.ReuseContainment)
	require.Equal(t, "redis", cfg.Session.Store)
	require.True(t, cfg.Cookie.Secure)
	require.Equal(t, "none", cfg.Cookie.SameSite)
}

func TestLoadConfig_RequiresDistinctSecrets(t *testing.T) {
	t.Setenv("ENV_FILE", "does-not-exist.env")
	t.Setenv("JWT_ACCESS_SECRET", "")
	t.Setenv("JWT_REFRESH_SECRET", "")
	_, err := LoadConfig()
	require.ErrorIs(t, err, ErrMissingSecret)

	t.Setenv("JWT_ACCESS_SECRET", "same")
	t.Setenv("JWT_REFRESH_SECRET", "same")
	_, err = LoadConfig()
	require.ErrorIs(t, err, ErrSharedSecret)
}

func TestValidate_UnknownStore(t *testing.T) {
	cfg := &Config{}
	cfg.JWT.AccessSecret = "a"
	cfg.JWT.RefreshSecret = "b"
	cfg.Session.Store = "etcd"
	cfg.Session.UserStore = "memory"
	require.Error(t, cfg.Validate())
}
