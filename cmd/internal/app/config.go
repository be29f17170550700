package app

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime configuration loaded from environment
// variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	// APIBaseURL is the REST backend the engine authenticates against.
	APIBaseURL string
	APITimeout time.Duration

	// PushWSURL is the websocket push channel. Empty disables the push
	// feed entirely; presence writes do not depend on it.
	PushWSURL string

	// CredStore selects the credential backend: file, redis, or memory.
	CredStore     string
	CredFile      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string

	HeartbeatInterval    time.Duration
	ActivityQuiet        time.Duration
	PresenceWriteTimeout time.Duration

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
// A local .env file, when present, is applied first (it never overrides
// variables already set in the environment).
func LoadConfig() Config {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}

	return Config{
		HTTPAddr:  envString("SHULE_HTTP_ADDR", "127.0.0.1:8900"),
		LogLevel:  envString("SHULE_LOG_LEVEL", "info"),
		LogFormat: envString("SHULE_LOG_FORMAT", "json"),

		APIBaseURL: envString("SHULE_API_BASE_URL", "http://127.0.0.1:8000"),
		APITimeout: envDuration("SHULE_API_TIMEOUT", 10*time.Second),

		PushWSURL: envString("SHULE_PUSH_WS_URL", ""),

		CredStore:     envString("SHULE_CRED_STORE", "file"),
		CredFile:      envString("SHULE_CRED_FILE", defaultCredFile()),
		RedisAddr:     envString("SHULE_REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: envString("SHULE_REDIS_PASSWORD", ""),
		RedisDB:       envInt("SHULE_REDIS_DB", 0),
		RedisKey:      envString("SHULE_REDIS_KEY", ""),

		HeartbeatInterval:    envDuration("SHULE_HEARTBEAT_INTERVAL", 60*time.Second),
		ActivityQuiet:        envDuration("SHULE_ACTIVITY_QUIET", 2*time.Second),
		PresenceWriteTimeout: envDuration("SHULE_PRESENCE_WRITE_TIMEOUT", 5*time.Second),

		ReadHeaderTimeout: envDuration("SHULE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       envDuration("SHULE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      envDuration("SHULE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       envDuration("SHULE_HTTP_IDLE_TIMEOUT", 60*time.Second),
	}
}

func defaultCredFile() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".shule/credential.json"
	}
	return home + "/.shule/credential.json"
}
