package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// DateLayout is the calendar date format used for deadlines.
const DateLayout = "2006-01-02"

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Engine        EngineConfig
	Notifications NotificationsConfig
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

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// EngineConfig carries the enrollment and grading policy defaults.
type EngineConfig struct {
	Location            *time.Location
	DefaultDropDeadline *time.Time
	GradeWeights        map[string]float64
}

// NotificationsConfig tunes the notification feed cache and fan-out workers.
type NotificationsConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
	Workers      int
	Retries      int
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
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
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
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	loc, err := time.LoadLocation(v.GetString("ENGINE_TIMEZONE"))
	if err != nil {
		return nil, fmt.Errorf("invalid ENGINE_TIMEZONE: %w", err)
	}
	deadline, err := parseDate(v.GetString("DEFAULT_DROP_DEADLINE"), loc)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_DROP_DEADLINE: %w", err)
	}
	weights, err := ParseWeights(v.GetString("GRADE_WEIGHTS"))
	if err != nil {
		return nil, fmt.Errorf("invalid GRADE_WEIGHTS: %w", err)
	}
	cfg.Engine = EngineConfig{
		Location:            loc,
		DefaultDropDeadline: deadline,
		GradeWeights:        weights,
	}

	cfg.Notifications = NotificationsConfig{
		CacheEnabled: v.GetBool("ENABLE_NOTIFICATION_CACHE"),
		CacheTTL:     parseDuration(v.GetString("NOTIFICATIONS_CACHE_TTL"), 30*time.Second),
		Workers:      v.GetInt("NOTIFICATIONS_WORKERS"),
		Retries:      v.GetInt("NOTIFICATIONS_RETRIES"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "academic_records")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "sma-adp-registrar")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENGINE_TIMEZONE", "UTC")
	v.SetDefault("DEFAULT_DROP_DEADLINE", "")
	v.SetDefault("GRADE_WEIGHTS", "")

	v.SetDefault("ENABLE_NOTIFICATION_CACHE", false)
	v.SetDefault("NOTIFICATIONS_CACHE_TTL", "30s")
	v.SetDefault("NOTIFICATIONS_WORKERS", 2)
	v.SetDefault("NOTIFICATIONS_RETRIES", 3)
}

// ParseWeights reads "QUIZ=0.15,ASSIGNMENT=0.2" style component weights.
// An empty string yields nil so callers keep their built-in policy.
func ParseWeights(raw string) (map[string]float64, error) {
	parts := splitAndTrim(raw)
	if len(parts) == 0 {
		return nil, nil
	}
	weights := make(map[string]float64, len(parts))
	for _, part := range parts {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("weight %q must be COMPONENT=VALUE", part)
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("weight %q: %w", part, err)
		}
		weights[strings.ToUpper(strings.TrimSpace(key))] = w
	}
	return weights, nil
}

func parseDate(raw string, loc *time.Location) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	d, err := time.ParseInLocation(DateLayout, raw, loc)
	if err != nil {
		return nil, err
	}
	return &d, nil
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
