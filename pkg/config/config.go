// Package config loads daemon configuration from the environment, with an
// optional .env file for development setups.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config carries every tunable shared by the SIP, signup and softphone
// daemons. Core protocol semantics do not depend on any of these; they
// are bind addresses, limits and cadences.
type Config struct {
	// Network
	SIPHost    string
	SIPPort    int
	SignupPort int
	ServerAddr string // where the softphone dials

	// Identity
	ServerURI string // canonical URI, also the digest realm

	// Persistence
	UserDBPath   string
	BannedIPFile string

	// Resource limits
	MaxConnections int
	WorkerCount    int
	WorkerQueue    int

	// Rate limiting
	RateWindow        time.Duration
	ConnRateThreshold int // connections per IP per window
	MsgRateThreshold  int // messages per connection per window

	// Timers
	RegisterExpiry    time.Duration
	CallIdleLimit     time.Duration
	BackgroundCadence time.Duration

	// Message size caps
	MaxHeaderBytes int
	MaxBodyBytes   int

	// Observability
	MetricsPort int
	LogLevel    logrus.Level
}

// Load reads configuration from the environment. A missing .env file is
// fine; explicit environment variables always win over defaults.
func Load(logger *logrus.Logger) *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.WithError(err).Warn("Could not load .env file, using environment only")
	}

	cfg := &Config{
		SIPHost:           getString("SIP_HOST", "0.0.0.0"),
		SIPPort:           getInt(logger, "SIP_PORT", 4552),
		SignupPort:        getInt(logger, "SIGNUP_PORT", 2433),
		ServerAddr:        getString("SERVER_ADDR", "127.0.0.1:4552"),
		ServerURI:         getString("SERVER_URI", "myserver"),
		UserDBPath:        getString("USER_DB_PATH", "users.db"),
		BannedIPFile:      getString("BANNED_IP_FILE", "banned_ips.txt"),
		MaxConnections:    getInt(logger, "MAX_CONNECTIONS", 100),
		WorkerCount:       getInt(logger, "WORKER_COUNT", 10),
		WorkerQueue:       getInt(logger, "WORKER_QUEUE", 100),
		RateWindow:        getSeconds(logger, "RATE_WINDOW_SECONDS", 10),
		ConnRateThreshold: getInt(logger, "CONN_RATE_THRESHOLD", 20),
		MsgRateThreshold:  getInt(logger, "MSG_RATE_THRESHOLD", 50),
		RegisterExpiry:    getSeconds(logger, "REGISTER_EXPIRY_SECONDS", 3600),
		CallIdleLimit:     getSeconds(logger, "CALL_IDLE_LIMIT_SECONDS", 120),
		BackgroundCadence: getSeconds(logger, "BACKGROUND_CADENCE_SECONDS", 30),
		MaxHeaderBytes:    getInt(logger, "MAX_HEADER_BYTES", 4096),
		MaxBodyBytes:      getInt(logger, "MAX_BODY_BYTES", 8192),
		MetricsPort:       getInt(logger, "METRICS_PORT", 0),
	}

	levelStr := getString("LOG_LEVEL", "info")
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		logger.WithField("value", levelStr).Warn("Unknown LOG_LEVEL, defaulting to info")
		level = logrus.InfoLevel
	}
	cfg.LogLevel = level

	return cfg
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(logger *logrus.Logger, key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.WithFields(logrus.Fields{"key": key, "value": v}).Warn("Invalid integer, using default")
		return def
	}
	return n
}

func getSeconds(logger *logrus.Logger, key string, defSeconds int) time.Duration {
	return time.Duration(getInt(logger, key, defSeconds)) * time.Second
}
