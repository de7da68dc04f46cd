// Package config validates and holds the gateway's enumerated runtime
// configuration. All problems found during validation are aggregated into a
// single error so startup fails with one complete report instead of a
// fix-one-rerun loop.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/collabgateway/gateway/internal/v1/logging"
	"go.uber.org/zap"
)

const (
	defaultPort                  = 3001
	defaultNamespace             = "/collaboration"
	defaultCORSOrigin            = "*"
	defaultPingInterval          = 25 * time.Second
	defaultPingTimeout           = 20 * time.Second
	defaultMaxConnsPerUser       = 5
	defaultRoomLimit             = 50
	defaultLockTTL               = 5 * time.Minute
	defaultLockHeartbeatInterval = 60 * time.Second
	defaultLockSweepInterval     = 60 * time.Second
	defaultShutdownTimeout       = 5 * time.Second
	defaultStaleSweepInterval    = 60 * time.Second

	// issuerAudienceSkip is the sentinel meaning "do not enforce this claim".
	issuerAudienceSkip = ""
)

var validTransports = map[string]bool{"websocket": true, "polling": true}

// Config is the gateway's validated configuration.
type Config struct {
	Enabled   bool
	Port      int
	Namespace string

	// CORSOrigin is either "*", a single origin, or a comma-separated list;
	// callers that need a slice should use CORSOrigins().
	CORSOrigin string
	Transports []string

	PingInterval time.Duration
	PingTimeout  time.Duration

	MaxConnectionsPerUser int
	// RoomLimits maps resource type -> max occupants; DefaultRoomLimit
	// applies to any type absent from the map.
	RoomLimits       map[string]int
	DefaultRoomLimit int

	LockTTL               time.Duration
	LockHeartbeatInterval time.Duration
	LockSweepInterval     time.Duration
	ShutdownTimeout       time.Duration
	// StaleSweepInterval governs the Gateway Core's connection reaper.
	// LockSweepInterval is parsed and validated but no component reads it.
	StaleSweepInterval time.Duration

	// Token validation. Auth0Domain/Auth0Audience drive JWKS discovery
	// (internal/v1/auth): the validator checks the issuer derived from
	// Auth0Domain and the audience Auth0Audience. JWTIssuer/JWTAudience are
	// read from JWT_ISSUER/JWT_AUDIENCE but are not passed to the validator,
	// so they add no claim check.
	Auth0Domain   string
	Auth0Audience string
	JWTIssuer     string
	JWTAudience   string

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	GoEnv    string
	LogLevel string
}

// CORSOrigins splits CORSOrigin into a slice; "*" is returned as-is.
func (c *Config) CORSOrigins() []string {
	if c.CORSOrigin == "*" || c.CORSOrigin == "" {
		return []string{"*"}
	}
	return strings.Split(c.CORSOrigin, ",")
}

// RoomLimitFor returns the configured occupancy cap for resourceType.
func (c *Config) RoomLimitFor(resourceType string) int {
	if limit, ok := c.RoomLimits[resourceType]; ok {
		return limit
	}
	return c.DefaultRoomLimit
}

// ValidateEnv reads and validates every recognized option from the process
// environment, returning one aggregated error listing every problem found.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var problems []string

	cfg.Enabled = getEnvOrDefault("GATEWAY_ENABLED", "true") == "true"

	cfg.Port = defaultPort
	if v := getEnv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			problems = append(problems, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got %q)", v))
		} else {
			cfg.Port = port
		}
	}

	cfg.Namespace = getEnvOrDefault("NAMESPACE", defaultNamespace)
	if !strings.HasPrefix(cfg.Namespace, "/") {
		problems = append(problems, fmt.Sprintf("NAMESPACE must start with '/' (got %q)", cfg.Namespace))
	}

	cfg.CORSOrigin = getEnvOrDefault("CORS_ORIGIN", defaultCORSOrigin)

	transportsRaw := getEnvOrDefault("TRANSPORTS", "websocket,polling")
	for _, t := range strings.Split(transportsRaw, ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if !validTransports[t] {
			problems = append(problems, fmt.Sprintf("TRANSPORTS entry %q is not one of websocket, polling", t))
			continue
		}
		cfg.Transports = append(cfg.Transports, t)
	}
	if len(cfg.Transports) == 0 {
		problems = append(problems, "TRANSPORTS must name at least one transport")
	}

	cfg.PingInterval = durationMsOrDefault("PING_INTERVAL_MS", defaultPingInterval, &problems)
	cfg.PingTimeout = durationMsOrDefault("PING_TIMEOUT_MS", defaultPingTimeout, &problems)
	if cfg.PingTimeout >= cfg.PingInterval {
		problems = append(problems, fmt.Sprintf("PING_TIMEOUT_MS (%s) must be less than PING_INTERVAL_MS (%s)", cfg.PingTimeout, cfg.PingInterval))
	}

	cfg.MaxConnectionsPerUser = defaultMaxConnsPerUser
	if v := getEnv("MAX_CONNECTIONS_PER_USER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			problems = append(problems, fmt.Sprintf("MAX_CONNECTIONS_PER_USER must be an integer >= 1 (got %q)", v))
		} else {
			cfg.MaxConnectionsPerUser = n
		}
	}

	cfg.DefaultRoomLimit = defaultRoomLimit
	if v := getEnv("ROOM_LIMIT_DEFAULT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			problems = append(problems, fmt.Sprintf("ROOM_LIMIT_DEFAULT must be an integer >= 1 (got %q)", v))
		} else {
			cfg.DefaultRoomLimit = n
		}
	}
	if v := getEnv("ROOM_LIMITS"); v != "" {
		var limits map[string]int
		if err := json.Unmarshal([]byte(v), &limits); err != nil {
			problems = append(problems, fmt.Sprintf("ROOM_LIMITS must be a JSON object of resourceType -> int (got %q)", v))
		} else {
			cfg.RoomLimits = limits
		}
	}

	cfg.LockTTL = durationMsOrDefault("LOCK_TTL_MS", defaultLockTTL, &problems)
	cfg.LockHeartbeatInterval = durationMsOrDefault("LOCK_HEARTBEAT_INTERVAL_MS", defaultLockHeartbeatInterval, &problems)
	cfg.LockSweepInterval = durationMsOrDefault("LOCK_SWEEP_INTERVAL_MS", defaultLockSweepInterval, &problems)
	cfg.ShutdownTimeout = durationMsOrDefault("SHUTDOWN_TIMEOUT_MS", defaultShutdownTimeout, &problems)
	cfg.StaleSweepInterval = durationMsOrDefault("STALE_SWEEP_INTERVAL_MS", defaultStaleSweepInterval, &problems)

	cfg.Auth0Domain = getEnv("AUTH0_DOMAIN")
	cfg.Auth0Audience = getEnv("AUTH0_AUDIENCE")
	cfg.JWTIssuer = getEnvOrDefault("JWT_ISSUER", issuerAudienceSkip)
	cfg.JWTAudience = getEnvOrDefault("JWT_AUDIENCE", issuerAudienceSkip)

	cfg.RedisEnabled = getEnv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = getEnvOrDefault("REDIS_ADDR", "localhost:6379")
		if !isValidHostPort(cfg.RedisAddr) {
			problems = append(problems, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got %q)", cfg.RedisAddr))
		}
		cfg.RedisPassword = getEnv("REDIS_PASSWORD")
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	if len(problems) > 0 {
		return nil, fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func durationMsOrDefault(envVar string, def time.Duration, problems *[]string) time.Duration {
	v := getEnv(envVar)
	if v == "" {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s must be a positive integer number of milliseconds (got %q)", envVar, v))
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}
	return parts[0] != ""
}

func logValidatedConfig(cfg *Config) {
	logging.Info(context.Background(), "configuration validated",
		zap.Bool("enabled", cfg.Enabled),
		zap.Int("port", cfg.Port),
		zap.String("namespace", cfg.Namespace),
		zap.Strings("transports", cfg.Transports),
		zap.Duration("ping_interval", cfg.PingInterval),
		zap.Duration("ping_timeout", cfg.PingTimeout),
		zap.Int("max_connections_per_user", cfg.MaxConnectionsPerUser),
		zap.Duration("lock_ttl", cfg.LockTTL),
		zap.Bool("redis_enabled", cfg.RedisEnabled),
		zap.String("redis_addr", cfg.RedisAddr),
		zap.String("redis_password", redactSecret(cfg.RedisPassword)),
		zap.String("go_env", cfg.GoEnv),
		zap.String("log_level", cfg.LogLevel),
	)
}

func getEnv(key string) string {
	return os.Getenv(key)
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// redactSecret shows only the first 8 characters of a secret, for logging.
// An empty secret stays empty so an unset password is not logged as one.
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
