// Package config provides application configuration loaded from environment
// variables. Use the package-level Get() function to obtain the singleton
// Config instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string        // e.g. "8080"
	Env          string        // "development" | "production"
	ReadTimeout  time.Duration // default 10s
	WriteTimeout time.Duration // default 10s
	// RequestTimeout bounds every handler per §5 "Cancellation & timeouts".
	RequestTimeout time.Duration // default 15s
	AllowedOrigins string        // comma-separated; "" = allow all (in every env)
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	DSN             string        // full postgres DSN
	MaxOpenConns    int           // default 25
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 5m
}

// JWTConfig holds JWT signing settings for the player/admin bearer gate.
type JWTConfig struct {
	AccessSecret string        // must be set
	AccessTTL    time.Duration // default 15m
}

// RedisConfig holds the settings-cache invalidation fan-out connection.
type RedisConfig struct {
	Addr    string // default "localhost:6379"
	Channel string // default "kismatx:settings:invalidate"
}

// GameConfig holds the bootstrap defaults the Settings Cache falls back to
// before its first successful database read, and the scheduler's
// process-level tuning (tick cadence, stuck-settlement threshold) which is
// infra tuning rather than a game-tunable setting.
type GameConfig struct {
	TickInterval           time.Duration // scheduler wake cadence, default 1s
	SweepGrace             time.Duration // completed-but-not-settled grace, default 10s
	StuckSettlingThreshold time.Duration // settling-too-long threshold, default 60s
	SettingsCacheTTL       time.Duration // default 60s

	DefaultRoundDurationSeconds int     // default 300
	DefaultPayoutMultiplier     float64 // default 10.00
	DefaultCardCount            int     // default 12
	// DefaultCancelCutoffSeconds (default 15) is not read by
	// ClaimCancelService.Cancel, which uses a cutoff of 0 when the
	// cancel_cutoff_seconds setting is absent.
	DefaultCancelCutoffSeconds int
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server ServerConfig
	DB     DBConfig
	JWT    JWTConfig
	Redis  RedisConfig
	Game   GameConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Validate checks that all required configuration values are present and
// valid. Returns every validation error joined together.
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.AccessSecret == "" {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET must be set"))
	}
	if c.IsProd() && c.DB.DSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN must be set in production"))
	}
	if c.Game.DefaultCardCount < 2 {
		errs = append(errs, fmt.Errorf("GAME_DEFAULT_CARD_COUNT must be >= 2, got %d", c.Game.DefaultCardCount))
	}
	if c.Game.DefaultPayoutMultiplier <= 1.0 {
		errs = append(errs, fmt.Errorf("GAME_DEFAULT_PAYOUT_MULTIPLIER must be > 1.0, got %.2f", c.Game.DefaultPayoutMultiplier))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once from environment
// variables. Panics if loading fails — call this early in main() to catch
// misconfigurations at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Internal loader
// ──────────────────────────────────────────────────────────────────────────────

func load() (*Config, error) {
	cfg := &Config{}

	cfg.Server = ServerConfig{
		Port:           getEnv("SERVER_PORT", "8080"),
		Env:            getEnv("ENVIRONMENT", "development"),
		ReadTimeout:    getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:   getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		RequestTimeout: getDuration("SERVER_REQUEST_TIMEOUT", 15*time.Second),
		AllowedOrigins: getEnv("SERVER_ALLOWED_ORIGINS", ""),
	}

	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", ""),
			getEnv("DB_NAME", "kismatx"),
			getEnv("DB_SSLMODE", "disable"),
		)
	}

	maxOpen, err := getInt("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_IDLE_CONNS: %w", err)
	}

	cfg.DB = DBConfig{
		DSN:             dsn,
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}

	cfg.JWT = JWTConfig{
		AccessSecret: getEnv("JWT_ACCESS_SECRET", ""),
		AccessTTL:    getDuration("JWT_ACCESS_TTL", 15*time.Minute),
	}

	cfg.Redis = RedisConfig{
		Addr:    getEnv("REDIS_ADDR", "localhost:6379"),
		Channel: getEnv("REDIS_SETTINGS_CHANNEL", "kismatx:settings:invalidate"),
	}

	cardCount, err := getInt("GAME_DEFAULT_CARD_COUNT", 12)
	if err != nil {
		return nil, fmt.Errorf("GAME_DEFAULT_CARD_COUNT: %w", err)
	}
	roundSeconds, err := getInt("GAME_DEFAULT_ROUND_DURATION_SECONDS", 300)
	if err != nil {
		return nil, fmt.Errorf("GAME_DEFAULT_ROUND_DURATION_SECONDS: %w", err)
	}
	multiplier, err := getFloat("GAME_DEFAULT_PAYOUT_MULTIPLIER", 10.00)
	if err != nil {
		return nil, fmt.Errorf("GAME_DEFAULT_PAYOUT_MULTIPLIER: %w", err)
	}
	cancelCutoff, err := getInt("GAME_DEFAULT_CANCEL_CUTOFF_SECONDS", 15)
	if err != nil {
		return nil, fmt.Errorf("GAME_DEFAULT_CANCEL_CUTOFF_SECONDS: %w", err)
	}

	cfg.Game = GameConfig{
		TickInterval:                getDuration("GAME_TICK_INTERVAL", 1*time.Second),
		SweepGrace:                  getDuration("GAME_SWEEP_GRACE", 10*time.Second),
		StuckSettlingThreshold:      getDuration("GAME_STUCK_SETTLING_THRESHOLD", 60*time.Second),
		SettingsCacheTTL:            getDuration("GAME_SETTINGS_CACHE_TTL", 60*time.Second),
		DefaultRoundDurationSeconds: roundSeconds,
		DefaultPayoutMultiplier:     multiplier,
		DefaultCardCount:            cardCount,
		DefaultCancelCutoffSeconds:  cancelCutoff,
	}

	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float %q", v)
	}
	return f, nil
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or empty.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
