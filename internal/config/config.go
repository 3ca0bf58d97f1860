package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/park285/Cheese-Match-server/internal/obslog"
)

type AppConfig struct {
	HTTPAddr string

	DatabaseURL string
	AutoMigrate bool
	RedisURL    string

	RelayBackend   string // local | redis | nats
	NATSURL        string
	RelayQueueSize int

	AuthMode      string // jwt | remote | header
	JWTSecret     string
	AuthRemoteURL string
	AuthHeader    string

	SessionIdleTTL        time.Duration
	RoomRetention         time.Duration
	MatchmakingPendingTTL time.Duration
	PersistConcurrency    int
	LegalityCheck         bool

	MsgcatDir string
	// WSOrigins lists host patterns allowed to open cross-origin websockets.
	WSOrigins []string

	Log obslog.Options
}

// source resolves a key from the environment first, then from the optional YAML file.
type source struct {
	file map[string]string
}

func (s source) get(key string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(s.file[key])
}

// Load reads configuration. A .env file in the working directory is loaded first when
// present; CONFIG_FILE may point at a flat YAML map of the same keys.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	src := source{}
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		m, err := readFile(path)
		if err != nil {
			return nil, err
		}
		src.file = m
	}
	return load(src)
}

func readFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(k))] = fmt.Sprint(v)
	}
	return out, nil
}

func load(src source) (*AppConfig, error) {
	cfg := &AppConfig{
		HTTPAddr:              ":8080",
		AutoMigrate:           true,
		RelayBackend:          "local",
		RelayQueueSize:        1024,
		AuthMode:              "jwt",
		AuthHeader:            "X-User-Id",
		SessionIdleTTL:        6 * time.Hour,
		RoomRetention:         24 * time.Hour,
		MatchmakingPendingTTL: 10 * time.Minute,
		PersistConcurrency:    8,
		Log:                   obslog.DefaultOptions(),
	}

	if v := src.get("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	cfg.DatabaseURL = src.get("DATABASE_URL")
	cfg.RedisURL = src.get("REDIS_URL")
	cfg.NATSURL = src.get("NATS_URL")
	cfg.JWTSecret = src.get("JWT_SECRET")
	cfg.AuthRemoteURL = src.get("AUTH_REMOTE_URL")
	cfg.MsgcatDir = src.get("MSGCAT_DIR")
	for _, o := range strings.Split(src.get("WS_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.WSOrigins = append(cfg.WSOrigins, o)
		}
	}

	if v := src.get("AUTO_MIGRATE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AutoMigrate = b
		}
	}
	if v := src.get("LEGALITY_CHECK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LegalityCheck = b
		}
	}
	if v := strings.ToLower(src.get("RELAY_BACKEND")); v != "" {
		cfg.RelayBackend = v
	}
	if v := strings.ToLower(src.get("AUTH_MODE")); v != "" {
		cfg.AuthMode = v
	}
	if v := src.get("AUTH_HEADER"); v != "" {
		cfg.AuthHeader = v
	}
	if v := src.get("RELAY_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RelayQueueSize = n
		}
	}
	if v := src.get("PERSIST_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PersistConcurrency = n
		}
	}

	var err error
	if cfg.SessionIdleTTL, err = durationOr(src.get("SESSION_IDLE_TTL"), cfg.SessionIdleTTL); err != nil {
		return nil, fmt.Errorf("SESSION_IDLE_TTL: %w", err)
	}
	if cfg.RoomRetention, err = durationOr(src.get("ROOM_RETENTION"), cfg.RoomRetention); err != nil {
		return nil, fmt.Errorf("ROOM_RETENTION: %w", err)
	}
	if cfg.MatchmakingPendingTTL, err = durationOr(src.get("MATCHMAKING_PENDING_TTL"), cfg.MatchmakingPendingTTL); err != nil {
		return nil, fmt.Errorf("MATCHMAKING_PENDING_TTL: %w", err)
	}

	// 로깅
	if v := src.get("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := src.get("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := src.get("LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
	cfg.Log.Console = boolOr(src.get("LOG_TO_CONSOLE"), cfg.Log.Console)
	cfg.Log.ToFile = boolOr(src.get("LOG_TO_FILE"), cfg.Log.ToFile)
	cfg.Log.Caller = boolOr(src.get("LOG_CALLER"), cfg.Log.Caller)

	switch cfg.RelayBackend {
	case "local":
	case "redis":
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required for RELAY_BACKEND=redis")
		}
	case "nats":
		if cfg.NATSURL == "" {
			return nil, errors.New("NATS_URL is required for RELAY_BACKEND=nats")
		}
	default:
		return nil, fmt.Errorf("unknown RELAY_BACKEND %q", cfg.RelayBackend)
	}

	switch cfg.AuthMode {
	case "jwt":
		if cfg.JWTSecret == "" {
			return nil, errors.New("JWT_SECRET is required")
		}
	case "remote":
		if cfg.AuthRemoteURL == "" {
			return nil, errors.New("AUTH_REMOTE_URL is required")
		}
	case "header":
	default:
		return nil, fmt.Errorf("unknown AUTH_MODE %q", cfg.AuthMode)
	}

	return cfg, nil
}

// durationOr accepts Go durations ("90s", "6h") or plain seconds.
func durationOr(v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n <= 0 {
			return 0, errors.New("must be positive")
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("must be positive")
	}
	return d, nil
}

func boolOr(v string, def bool) bool {
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
