package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	Postgres  PostgresConfig
	OIDC      OIDCConfig
	JWT       JWTConfig
	Session   SessionConfig
	Cookie    CookieConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	FrontendURL  string
}

type LogConfig struct {
	Level  string
	Format string // text | json
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr returns host:port, or "" when Redis is not configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return r.Host + ":" + r.Port
}

type PostgresConfig struct {
	DSN string
}

// OIDCConfig describes the external identity provider used for federated login.
type OIDCConfig struct {
	Issuer        string
	ClientID      string
	ClientSecret  string
	RedirectURL   string
	AllowInsecure bool
}

func (o OIDCConfig) Enabled() bool {
	return o.Issuer != "" && o.ClientID != ""
}

type JWTConfig struct {
	AccessSecret    string
	RefreshSecret   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	DigestKey       string
}

// SessionConfig controls refresh record storage and the rotation policy.
type SessionConfig struct {
	Store            string // memory | mongo | redis | postgres
	UserStore        string // memory | mongo
	AbsoluteTTL      time.Duration
	ReuseContainment bool
	BcryptCost       int
	JanitorInterval  time.Duration
}

type CookieConfig struct {
	SameSite string // lax | strict | none
	Secure   bool
	Domain   string
}

type RateLimitConfig struct {
	Enabled       bool
	RPS           float64
	Burst         int
	UseRedis      bool
	WindowSeconds int
}

var (
	ErrMissingSecret = errors.New("config: JWT_ACCESS_SECRET and JWT_REFRESH_SECRET are required")
	ErrSharedSecret  = errors.New("config: access and refresh secrets must differ")
)

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "5001")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_ENVIRONMENT", "development")
	v.SetDefault("FRONTEND_URL", "http://localhost:3000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("MONGODB_DATABASE", "authsession")
	v.SetDefault("MONGODB_TIMEOUT", 10)
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	// seconds
	v.SetDefault("JWT_ACCESS_TOKEN_TTL", 900)
	v.SetDefault("JWT_REFRESH_TOKEN_TTL", 2592000)
	v.SetDefault("REFRESH_ABSOLUTE_TTL", 0)
	v.SetDefault("AUTH_REUSE_CONTAINMENT", false)
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("SESSION_STORE", "memory")
	v.SetDefault("USER_STORE", "memory")
	v.SetDefault("JANITOR_INTERVAL", 600)
	v.SetDefault("COOKIE_SAMESITE", "lax")
	v.SetDefault("COOKIE_SECURE", false)
	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("RATE_LIMIT_USE_REDIS", false)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("SERVER_PORT"),
			Host:         v.GetString("SERVER_HOST"),
			Environment:  v.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			FrontendURL:  v.GetString("FRONTEND_URL"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: strings.ToLower(v.GetString("LOG_FORMAT")),
		},
		MongoDB: MongoDBConfig{
			URI:      v.GetString("MONGODB_URI"),
			Database: v.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(v.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Postgres: PostgresConfig{
			DSN: os.Getenv("POSTGRES_DSN"),
		},
		OIDC: OIDCConfig{
			Issuer:        strings.TrimRight(v.GetString("OIDC_ISSUER"), "/"),
			ClientID:      v.GetString("OIDC_CLIENT_ID"),
			ClientSecret:  os.Getenv("OIDC_CLIENT_SECRET"),
			RedirectURL:   v.GetString("OIDC_REDIRECT_URL"),
			AllowInsecure: v.GetBool("ALLOW_INSECURE_TOKEN"),
		},
		JWT: JWTConfig{
			AccessSecret:    os.Getenv("JWT_ACCESS_SECRET"),
			RefreshSecret:   os.Getenv("JWT_REFRESH_SECRET"),
			AccessTokenTTL:  time.Duration(v.GetInt("JWT_ACCESS_TOKEN_TTL")) * time.Second,
			RefreshTokenTTL: time.Duration(v.GetInt("JWT_REFRESH_TOKEN_TTL")) * time.Second,
			DigestKey:       os.Getenv("TOKEN_DIGEST_KEY"),
		},
		Session: SessionConfig{
			Store:            strings.ToLower(v.GetString("SESSION_STORE")),
			UserStore:        strings.ToLower(v.GetString("USER_STORE")),
			AbsoluteTTL:      time.Duration(v.GetInt("REFRESH_ABSOLUTE_TTL")) * time.Second,
			ReuseContainment: v.GetBool("AUTH_REUSE_CONTAINMENT"),
			BcryptCost:       v.GetInt("BCRYPT_COST"),
			JanitorInterval:  time.Duration(v.GetInt("JANITOR_INTERVAL")) * time.Second,
		},
		Cookie: CookieConfig{
			SameSite: strings.ToLower(v.GetString("COOKIE_SAMESITE")),
			Secure:   v.GetBool("COOKIE_SECURE"),
			Domain:   v.GetString("COOKIE_DOMAIN"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       v.GetBool("RATE_LIMIT_ENABLED"),
			RPS:           v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         v.GetInt("RATE_LIMIT_BURST"),
			UseRedis:      v.GetBool("RATE_LIMIT_USE_REDIS"),
			WindowSeconds: v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.JWT.AccessSecret == "" || c.JWT.RefreshSecret == "" {
		return ErrMissingSecret
	}
	if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		return ErrSharedSecret
	}
	switch c.Session.Store {
	case "memory", "mongo", "redis", "postgres":
	default:
		return errors.New("config: unknown SESSION_STORE " + c.Session.Store)
	}
	switch c.Session.UserStore {
	case "memory", "mongo":
	default:
		return errors.New("config: unknown USER_STORE " + c.Session.UserStore)
	}
	return nil
}

// IsProduction reports whether the server runs with production defaults.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}
