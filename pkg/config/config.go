package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Password PasswordConfig
	Admin    AdminConfig
	Tokens   TokenStoreConfig
	CORS     CORSConfig
	Log      LogConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds the process-wide signing secret and token lifetimes.
type JWTConfig struct {
	Secret            string
	Issuer            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

// PasswordConfig tunes the argon2id hashing parameters.
type PasswordConfig struct {
	MemoryKB       uint32
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MaxConcurrency int
}

// AdminConfig seeds the initial administrator account at startup.
type AdminConfig struct {
	Login    string
	Password string
}

// TokenStoreConfig controls refresh-token housekeeping.
type TokenStoreConfig struct {
	CleanupInterval time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Issuer:            v.GetString("JWT_ISSUER"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 30*time.Minute),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.Password = PasswordConfig{
		MemoryKB:       v.GetUint32("PASSWORD_ARGON2_MEMORY_KB"),
		Time:           v.GetUint32("PASSWORD_ARGON2_TIME"),
		Parallelism:    uint8(v.GetUint("PASSWORD_ARGON2_PARALLELISM")),
		SaltLength:     v.GetUint32("PASSWORD_ARGON2_SALT_LENGTH"),
		KeyLength:      v.GetUint32("PASSWORD_ARGON2_KEY_LENGTH"),
		MaxConcurrency: v.GetInt("PASSWORD_MAX_CONCURRENCY"),
	}

	cfg.Admin = AdminConfig{
		Login:    v.GetString("ADMIN_LOGIN"),
		Password: v.GetString("ADMIN_PASSWORD"),
	}

	cfg.Tokens = TokenStoreConfig{
		CleanupInterval: parseDuration(v.GetString("TOKEN_CLEANUP_INTERVAL"), time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate rejects configurations the process must not start with.
func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	if c.Env == EnvProduction && c.JWT.Secret == "dev_secret" {
		return fmt.Errorf("JWT_SECRET must be overridden in production")
	}
	if c.JWT.Expiration <= 0 || c.JWT.RefreshExpiration <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "school_auth")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "school-auth-api")
	v.SetDefault("JWT_EXPIRATION", "30m")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("PASSWORD_ARGON2_MEMORY_KB", 64*1024)
	v.SetDefault("PASSWORD_ARGON2_TIME", 3)
	v.SetDefault("PASSWORD_ARGON2_PARALLELISM", 2)
	v.SetDefault("PASSWORD_ARGON2_SALT_LENGTH", 16)
	v.SetDefault("PASSWORD_ARGON2_KEY_LENGTH", 32)
	v.SetDefault("PASSWORD_MAX_CONCURRENCY", 4)

	v.SetDefault("ADMIN_LOGIN", "admin")
	v.SetDefault("ADMIN_PASSWORD", "admin")

	v.SetDefault("TOKEN_CLEANUP_INTERVAL", "1h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
