package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Security SecurityConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

// SecurityConfig carries the tunable thresholds of the authentication
// policy engine. Defaults match the documented policy; overrides come
// from the environment.
type SecurityConfig struct {
	RateLimitAttempts        int
	LockoutWindow            time.Duration
	BaseBanDuration          time.Duration
	MaxBanDuration           time.Duration
	BanGracePeriod           time.Duration
	RestrictedBanDuration    time.Duration
	CSRFTokenTimeout         time.Duration
	SessionInactivityTimeout time.Duration
	InviteCodeExpiration     time.Duration
	InviteCodeMaxUses        int
	LogRetention             time.Duration
	CleanupInterval          time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "gatehouse"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: parseList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Security: SecurityConfig{
			RateLimitAttempts:        getEnvAsInt("RATE_LIMIT_ATTEMPTS", 6),
			LockoutWindow:            getEnvAsDuration("LOCKOUT_WINDOW", 15*time.Minute),
			BaseBanDuration:          getEnvAsDuration("BASE_BAN_DURATION", 10*time.Minute),
			MaxBanDuration:           getEnvAsDuration("MAX_BAN_DURATION", 24*time.Hour),
			BanGracePeriod:           getEnvAsDuration("BAN_GRACE_PERIOD", 24*time.Hour),
			RestrictedBanDuration:    getEnvAsDuration("RESTRICTED_BAN_DURATION", 1*time.Hour),
			CSRFTokenTimeout:         getEnvAsDuration("CSRF_TOKEN_TIMEOUT", 7*24*time.Hour),
			SessionInactivityTimeout: getEnvAsDuration("SESSION_INACTIVITY_TIMEOUT", 7*24*time.Hour),
			InviteCodeExpiration:     getEnvAsDuration("INVITE_CODE_EXPIRATION", 7*24*time.Hour),
			InviteCodeMaxUses:        getEnvAsInt("INVITE_CODE_MAX_USES", 5),
			LogRetention:             getEnvAsDuration("LOG_RETENTION", 90*24*time.Hour),
			CleanupInterval:          getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := cfg.Security.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (s *SecurityConfig) validate() error {
	if s.RateLimitAttempts < 1 {
		return fmt.Errorf("RATE_LIMIT_ATTEMPTS must be at least 1")
	}
	if s.InviteCodeMaxUses < 1 {
		return fmt.Errorf("INVITE_CODE_MAX_USES must be at least 1")
	}
	if s.BaseBanDuration > s.MaxBanDuration {
		return fmt.Errorf("BASE_BAN_DURATION cannot exceed MAX_BAN_DURATION")
	}
	if s.LockoutWindow <= 0 {
		return fmt.Errorf("LOCKOUT_WINDOW must be positive")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{} // Default to no origins in production
		}
		return parseList(originsStr)
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
