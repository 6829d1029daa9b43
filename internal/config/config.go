// Package config loads the signaling server configuration from environment
// variables (with a small flag surface for overrides) and constructs the
// process logger.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/inpixly/signaling/internal/origin"
)

const (
	envVarListenAddr      = "INPIXLY_SIGNALING_LISTEN_ADDR"
	envVarMode            = "INPIXLY_SIGNALING_MODE"
	envVarLogFormat       = "INPIXLY_SIGNALING_LOG_FORMAT"
	envVarLogLevel        = "INPIXLY_SIGNALING_LOG_LEVEL"
	envVarShutdownTimeout = "INPIXLY_SIGNALING_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	// Core room/session knobs.
	envVarMaxRoomSize           = "MAX_ROOM_SIZE"
	envVarIdleTimeout           = "IDLE_TIMEOUT"
	envVarJoinTimeout           = "JOIN_TIMEOUT"
	envVarOutboundQueueCapacity = "OUTBOUND_QUEUE_CAPACITY"
	envVarRoomPrecreateTTL      = "ROOM_PRECREATE_TTL"

	// WebSocket hardening.
	envVarWSPingInterval                = "WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"

	// ICE configuration handed to clients.
	envVarICEServersJSON = "INPIXLY_ICE_SERVERS_JSON"
	envVarStunURLs       = "INPIXLY_STUN_URLS"
	envVarTurnURLs       = "INPIXLY_TURN_URLS"
	envVarTurnUsername   = "INPIXLY_TURN_USERNAME"
	envVarTurnCredential = "INPIXLY_TURN_CREDENTIAL"

	// coturn TURN REST (ephemeral) credentials.
	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"
)

const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultMaxRoomSize           = 16
	DefaultIdleTimeout           = 60 * time.Second
	DefaultJoinTimeout           = 10 * time.Second
	DefaultOutboundQueueCapacity = 64
	DefaultRoomPrecreateTTL      = 24 * time.Hour

	DefaultWSPingInterval                = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = 64 * 1024 // SDP blobs fit comfortably
	DefaultMaxSignalingMessagesPerSecond = 50

	DefaultTURNRESTTTLSeconds     = 600
	DefaultTURNRESTUsernamePrefix = "inpixly"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// TurnRESTConfig configures ephemeral TURN credential minting.
type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

// Config is the resolved runtime configuration.
type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// AllowedOrigins lists normalized origins permitted to reach the HTTP
	// and WebSocket endpoints. Empty means same-host only; "*" allows any.
	AllowedOrigins []string

	MaxRoomSize           int
	IdleTimeout           time.Duration
	JoinTimeout           time.Duration
	OutboundQueueCapacity int
	RoomPrecreateTTL      time.Duration

	WSPingInterval                time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int

	ICEServers []webrtc.ICEServer
	TURNREST   TurnRESTConfig

	iceConfigErr error
}

// ICEConfigError reports an ICE server configuration problem. The server
// still starts (signaling works without ICE hints) but /readyz and
// /webrtc/ice surface the error.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	fs := flag.NewFlagSet("inpixly-signaling", flag.ContinueOnError)
	listenFlag := fs.String("listen", "", "listen address (overrides "+envVarListenAddr+")")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(envOrDefault(lookup, envVarMode, string(ModeDev)))
	if err != nil {
		return Config{}, err
	}

	logFormat, err := parseLogFormat(envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(mode)))
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(mode)))
	if err != nil {
		return Config{}, err
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	if *listenFlag != "" {
		listenAddr = *listenFlag
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}

	allowedOrigins, err := parseAllowedOrigins(envOrDefault(lookup, envVarAllowedOrigins, ""))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", envVarAllowedOrigins, err)
	}

	maxRoomSize, err := envIntOrDefault(lookup, envVarMaxRoomSize, DefaultMaxRoomSize)
	if err != nil {
		return Config{}, err
	}
	if maxRoomSize <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0, got %d", envVarMaxRoomSize, maxRoomSize)
	}

	idleTimeout, err := envDurationOrDefault(lookup, envVarIdleTimeout, DefaultIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	if idleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarIdleTimeout)
	}

	joinTimeout, err := envDurationOrDefault(lookup, envVarJoinTimeout, DefaultJoinTimeout)
	if err != nil {
		return Config{}, err
	}

	queueCapacity, err := envIntOrDefault(lookup, envVarOutboundQueueCapacity, DefaultOutboundQueueCapacity)
	if err != nil {
		return Config{}, err
	}
	if queueCapacity <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0, got %d", envVarOutboundQueueCapacity, queueCapacity)
	}

	roomPrecreateTTL, err := envDurationOrDefault(lookup, envVarRoomPrecreateTTL, DefaultRoomPrecreateTTL)
	if err != nil {
		return Config{}, err
	}

	pingInterval, err := envDurationOrDefault(lookup, envVarWSPingInterval, DefaultWSPingInterval)
	if err != nil {
		return Config{}, err
	}

	maxMessageBytes, err := envIntOrDefault(lookup, envVarMaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	turnRESTTTLSeconds, err := envIntOrDefault(lookup, envVarTURNRESTTTLSeconds, DefaultTURNRESTTTLSeconds)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdownTimeout,
		AllowedOrigins:  allowedOrigins,

		MaxRoomSize:           maxRoomSize,
		IdleTimeout:           idleTimeout,
		JoinTimeout:           joinTimeout,
		OutboundQueueCapacity: queueCapacity,
		RoomPrecreateTTL:      roomPrecreateTTL,

		WSPingInterval:                pingInterval,
		MaxSignalingMessageBytes:      int64(maxMessageBytes),
		MaxSignalingMessagesPerSecond: maxMessagesPerSecond,

		TURNREST: TurnRESTConfig{
			SharedSecret:   envOrDefault(lookup, envVarTURNRESTSharedSecret, ""),
			TTLSeconds:     int64(turnRESTTTLSeconds),
			UsernamePrefix: envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix),
		},
	}

	iceServers, err := parseICEServersFromValues(
		envOrDefault(lookup, envVarICEServersJSON, ""),
		envOrDefault(lookup, envVarStunURLs, ""),
		envOrDefault(lookup, envVarTurnURLs, ""),
		envOrDefault(lookup, envVarTurnUsername, ""),
		envOrDefault(lookup, envVarTurnCredential, ""),
		cfg.TURNREST.Enabled(),
	)
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected dev or prod)", envVarMode, raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected text or json)", envVarLogFormat, raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid %s %q", envVarLogLevel, raw)
	}
}

func defaultLogFormatForMode(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode Mode) string {
	if mode == ModeProd {
		return "info"
	}
	return "debug"
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			out = append(out, entry)
			continue
		}
		normalized, _, ok := origin.Normalize(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalized)
	}
	return out, nil
}
