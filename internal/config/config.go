// Package config loads the environment-variable contract spec.md
// section 6 describes, plus the HTTP/queue/sync tuning knobs the
// composition root needs. Configuration *loading* is ambient
// infrastructure every server needs to boot; configuration *semantics*
// (what an operator may tune) are explicitly out of scope for the core
// (spec.md 1) and so are kept to the minimum the core contract needs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// OSEnv adapts the process environment to provider.Env.
type OSEnv struct{}

// Lookup implements provider.Env.
func (OSEnv) Lookup(key string) (string, bool) { return os.LookupEnv(key) }

// ProviderConfig is the spec.md 6 environment contract. Names are
// illustrative per the spec; the contract is the set and meaning.
type ProviderConfig struct {
	MeetupClientKey       string
	MeetupPrivateKeyPEM   string
	MeetupMemberID        string
	EventbritePrivateToken string
	ICalendarAPIKey       string
	TokenEncryptionKey    string // base64-encoded 32-byte key
	OIDCPrivateJWK        string
}

// LoadProviderConfig reads the provider credential contract from the
// environment. Missing values are not an error here — IsConfigured on
// each adapter is the authority on whether a given platform is usable.
func LoadProviderConfig() ProviderConfig {
	return ProviderConfig{
		MeetupClientKey:        os.Getenv("MEETUP_CLIENT_KEY"),
		MeetupPrivateKeyPEM:    os.Getenv("MEETUP_SIGNING_KEY_PEM"),
		MeetupMemberID:         os.Getenv("MEETUP_MEMBER_ID"),
		EventbritePrivateToken: os.Getenv("EVENTBRITE_PRIVATE_TOKEN"),
		ICalendarAPIKey:        os.Getenv("ICALENDAR_API_KEY"),
		TokenEncryptionKey:     os.Getenv("TOKEN_ENCRYPTION_KEY"),
		OIDCPrivateJWK:         os.Getenv("OIDC_PRIVATE_JWK"),
	}
}

// DatabaseConfig holds Postgres connection settings, mirroring the
// teacher's pkg/database/config.go shape.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadDatabaseConfigFromEnv loads Postgres settings with production
// defaults, validating required fields.
func LoadDatabaseConfigFromEnv() (DatabaseConfig, error) {
	port, err := strconv.Atoi(getEnvOrDefault("DB_PORT", "5432"))
	if err != nil {
		return DatabaseConfig{}, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	maxOpen, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_OPEN_CONNS", "25"))
	maxIdle, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_IDLE_CONNS", "10"))
	maxLifetime, err := time.ParseDuration(getEnvOrDefault("DB_CONN_MAX_LIFETIME", "1h"))
	if err != nil {
		return DatabaseConfig{}, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}
	maxIdleTime, err := time.ParseDuration(getEnvOrDefault("DB_CONN_MAX_IDLE_TIME", "15m"))
	if err != nil {
		return DatabaseConfig{}, fmt.Errorf("invalid DB_CONN_MAX_IDLE_TIME: %w", err)
	}

	cfg := DatabaseConfig{
		Host:            getEnvOrDefault("DB_HOST", "localhost"),
		Port:            port,
		User:            getEnvOrDefault("DB_USER", "communityevents"),
		Password:        os.Getenv("DB_PASSWORD"),
		Database:        getEnvOrDefault("DB_NAME", "communityevents"),
		SSLMode:         getEnvOrDefault("DB_SSLMODE", "disable"),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: maxLifetime,
		ConnMaxIdleTime: maxIdleTime,
	}
	if cfg.MaxIdleConns > cfg.MaxOpenConns {
		return DatabaseConfig{}, fmt.Errorf("DB_MAX_IDLE_CONNS (%d) cannot exceed DB_MAX_OPEN_CONNS (%d)", cfg.MaxIdleConns, cfg.MaxOpenConns)
	}
	return cfg, nil
}

// SyncConfig tunes the sync service (spec.md 4.5, 5).
type SyncConfig struct {
	Concurrency int
	MaxEvents   int
	Schedule    string // cron expression for the periodic syncAllGroups driver
}

// DefaultSyncConfig returns spec.md's stated defaults.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{Concurrency: 5, MaxEvents: 50, Schedule: "*/15 * * * *"}
}

// QueueConfig tunes the event-bus queue dispatcher worker.
type QueueConfig struct {
	BatchSize    int
	PollInterval time.Duration
}

// DefaultQueueConfig returns conservative polling defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{BatchSize: 20, PollInterval: 500 * time.Millisecond}
}

// HTTPConfig tunes outbound HTTP timeouts (spec.md 5).
type HTTPConfig struct {
	ProviderTimeout time.Duration
	WebhookTimeout  time.Duration
}

// DefaultHTTPConfig returns spec.md's recommended timeouts.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{ProviderTimeout: 30 * time.Second, WebhookTimeout: 15 * time.Second}
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
