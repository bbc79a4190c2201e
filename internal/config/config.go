package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the provider service configuration
type Config struct {
	Server    ServerConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	Postgres  PostgresConfig
	Keycloak  KeycloakConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	MinIO     MinIOConfig
	Auth      AuthConfig
	Profiles  ProfilesConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	PublicURL    string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
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

type PostgresConfig struct {
	DSN string
}

type KeycloakConfig struct {
	URL          string
	Realm        string
	ClientID     string
	ClientSecret string

	// RequireVerifiedEmail rejects tokens whose email_verified claim is false.
	RequireVerifiedEmail bool
}

type JWTConfig struct {
	Secret          string
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type RateLimitConfig struct {
	Enabled       bool
	UseRedis      bool
	RPS           float64
	Burst         int
	WindowSeconds int

	// AuthRPS and AuthBurst bound the credential endpoints under /auth per client IP.
	AuthRPS   float64
	AuthBurst int
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// AuthConfig controls account lifecycle rules.
type AuthConfig struct {
	AutoConfirm       bool
	SiteURL           string
	MinPasswordLength int
	RecoveryTTL       time.Duration
	ConfirmationTTL   time.Duration
}

// ProfilesConfig selects the profiles table backend: mongo, postgres or memory.
type ProfilesConfig struct {
	Backend string
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "5001")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_ENVIRONMENT", "development")
	viper.SetDefault("MONGODB_DATABASE", "carbontrail")
	viper.SetDefault("MONGODB_TIMEOUT", 10)
	viper.SetDefault("JWT_ISSUER", "carbontrail")
	viper.SetDefault("JWT_ACCESS_TOKEN_TTL", 15)
	viper.SetDefault("JWT_REFRESH_TOKEN_TTL", 10080)
	viper.SetDefault("RATE_LIMIT_ENABLED", false)
	viper.SetDefault("RATE_LIMIT_USE_REDIS", false)
	viper.SetDefault("RATE_LIMIT_RPS", 5)
	viper.SetDefault("RATE_LIMIT_BURST", 10)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)
	viper.SetDefault("RATE_LIMIT_AUTH_RPS", 0.5)
	viper.SetDefault("RATE_LIMIT_AUTH_BURST", 5)
	viper.SetDefault("MINIO_BUCKET", "avatars")
	viper.SetDefault("AUTH_AUTOCONFIRM", false)
	viper.SetDefault("AUTH_SITE_URL", "http://localhost:3000")
	viper.SetDefault("AUTH_MIN_PASSWORD_LENGTH", 6)
	viper.SetDefault("AUTH_RECOVERY_TTL", 60)
	viper.SetDefault("AUTH_CONFIRMATION_TTL", 1440)
	viper.SetDefault("PROFILE_BACKEND", "mongo")

	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			Environment:  viper.GetString("SERVER_ENVIRONMENT"),
			PublicURL:    viper.GetString("SERVER_PUBLIC_URL"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		MongoDB: MongoDBConfig{
			URI:      os.Getenv("MONGODB_URI"),
			Database: viper.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(viper.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		Postgres: PostgresConfig{
			DSN: os.Getenv("POSTGRES_DSN"),
		},
		Keycloak: KeycloakConfig{
			URL:          viper.GetString("KEYCLOAK_URL"),
			Realm:        viper.GetString("KEYCLOAK_REALM"),
			ClientID:     viper.GetString("KEYCLOAK_CLIENT_ID"),
			ClientSecret: viper.GetString("KEYCLOAK_CLIENT_SECRET"),

			RequireVerifiedEmail: viper.GetBool("KEYCLOAK_REQUIRE_VERIFIED_EMAIL"),
		},
		JWT: JWTConfig{
			Secret:          os.Getenv("JWT_SECRET"),
			Issuer:          viper.GetString("JWT_ISSUER"),
			AccessTokenTTL:  time.Duration(viper.GetInt("JWT_ACCESS_TOKEN_TTL")) * time.Minute,
			RefreshTokenTTL: time.Duration(viper.GetInt("JWT_REFRESH_TOKEN_TTL")) * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:       viper.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:      viper.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:           viper.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         viper.GetInt("RATE_LIMIT_BURST"),
			WindowSeconds: viper.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
			AuthRPS:       viper.GetFloat64("RATE_LIMIT_AUTH_RPS"),
			AuthBurst:     viper.GetInt("RATE_LIMIT_AUTH_BURST"),
		},
		MinIO: MinIOConfig{
			Endpoint:  viper.GetString("MINIO_ENDPOINT"),
			AccessKey: viper.GetString("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			UseSSL:    viper.GetBool("MINIO_USE_SSL"),
			Bucket:    viper.GetString("MINIO_BUCKET"),
		},
		Auth: AuthConfig{
			AutoConfirm:       viper.GetBool("AUTH_AUTOCONFIRM"),
			SiteURL:           strings.TrimRight(viper.GetString("AUTH_SITE_URL"), "/"),
			MinPasswordLength: viper.GetInt("AUTH_MIN_PASSWORD_LENGTH"),
			RecoveryTTL:       time.Duration(viper.GetInt("AUTH_RECOVERY_TTL")) * time.Minute,
			ConfirmationTTL:   time.Duration(viper.GetInt("AUTH_CONFIRMATION_TTL")) * time.Minute,
		},
		Profiles: ProfilesConfig{
			Backend: strings.ToLower(viper.GetString("PROFILE_BACKEND")),
		},
	}

	if cfg.Server.PublicURL == "" {
		cfg.Server.PublicURL = fmt.Sprintf("http://localhost:%s", cfg.Server.Port)
	}
	cfg.Server.PublicURL = strings.TrimRight(cfg.Server.PublicURL, "/")

	// Basic validation
	if cfg.MongoDB.URI == "" {
		return nil, fmt.Errorf("environment variable MONGODB_URI is required")
	}
	switch cfg.Profiles.Backend {
	case "mongo", "memory":
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return nil, fmt.Errorf("PROFILE_BACKEND=postgres requires POSTGRES_DSN")
		}
	default:
		return nil, fmt.Errorf("unsupported PROFILE_BACKEND %q", cfg.Profiles.Backend)
	}
	if cfg.JWT.Secret == "" {
		log.Println("WARNING: JWT_SECRET is not set; set a secure value in production")
	}

	return cfg, nil
}
