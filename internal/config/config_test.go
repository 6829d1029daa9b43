package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func emptyLookup(string) (string, bool) { return "", false }

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(emptyLookup, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want debug", cfg.LogLevel)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("listenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.MaxRoomSize != DefaultMaxRoomSize {
		t.Fatalf("MaxRoomSize=%d, want %d", cfg.MaxRoomSize, DefaultMaxRoomSize)
	}
	if cfg.IdleTimeout != DefaultIdleTimeout {
		t.Fatalf("IdleTimeout=%v, want %v", cfg.IdleTimeout, DefaultIdleTimeout)
	}
	if cfg.JoinTimeout != DefaultJoinTimeout {
		t.Fatalf("JoinTimeout=%v, want %v", cfg.JoinTimeout, DefaultJoinTimeout)
	}
	if cfg.OutboundQueueCapacity != DefaultOutboundQueueCapacity {
		t.Fatalf("OutboundQueueCapacity=%d, want %d", cfg.OutboundQueueCapacity, DefaultOutboundQueueCapacity)
	}
	if cfg.MaxSignalingMessageBytes != DefaultMaxSignalingMessageBytes {
		t.Fatalf("MaxSignalingMessageBytes=%d, want %d", cfg.MaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Fatalf("AllowedOrigins=%v, want empty", cfg.AllowedOrigins)
	}
	if len(cfg.ICEServers) != 0 {
		t.Fatalf("ICEServers=%v, want empty", cfg.ICEServers)
	}
	if cfg.ICEConfigError() != nil {
		t.Fatalf("ICEConfigError=%v, want nil", cfg.ICEConfigError())
	}
	if cfg.TURNREST.Enabled() {
		t.Fatal("TURN REST enabled by default")
	}
}

func TestDefaultsProd(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarMode: "prod",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want info", cfg.LogLevel)
	}
}

func TestExplicitOverrides(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarListenAddr:                    "0.0.0.0:9000",
		envVarMode:                          "prod",
		envVarLogFormat:                     "text",
		envVarLogLevel:                      "warn",
		envVarMaxRoomSize:                   "4",
		envVarIdleTimeout:                   "90s",
		envVarJoinTimeout:                   "5s",
		envVarOutboundQueueCapacity:         "32",
		envVarWSPingInterval:                "10s",
		envVarMaxSignalingMessageBytes:      "32768",
		envVarMaxSignalingMessagesPerSecond: "25",
		envVarAllowedOrigins:                "https://app.example.com, https://staging.example.com:8443",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Fatalf("listenAddr=%q", cfg.ListenAddr)
	}
	if cfg.LogFormat != LogFormatText || cfg.LogLevel != slog.LevelWarn {
		t.Fatalf("log format/level=%q/%v", cfg.LogFormat, cfg.LogLevel)
	}
	if cfg.MaxRoomSize != 4 || cfg.IdleTimeout != 90*time.Second || cfg.JoinTimeout != 5*time.Second {
		t.Fatalf("room knobs=%d/%v/%v", cfg.MaxRoomSize, cfg.IdleTimeout, cfg.JoinTimeout)
	}
	if cfg.OutboundQueueCapacity != 32 || cfg.WSPingInterval != 10*time.Second {
		t.Fatalf("ws knobs=%d/%v", cfg.OutboundQueueCapacity, cfg.WSPingInterval)
	}
	if cfg.MaxSignalingMessageBytes != 32768 || cfg.MaxSignalingMessagesPerSecond != 25 {
		t.Fatalf("limits=%d/%d", cfg.MaxSignalingMessageBytes, cfg.MaxSignalingMessagesPerSecond)
	}
	want := []string{"https://app.example.com", "https://staging.example.com:8443"}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != want[0] || cfg.AllowedOrigins[1] != want[1] {
		t.Fatalf("AllowedOrigins=%v, want %v", cfg.AllowedOrigins, want)
	}
}

func TestListenFlagOverridesEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarListenAddr: "127.0.0.1:7777",
	}), []string{"-listen", "127.0.0.1:8888"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:8888" {
		t.Fatalf("listenAddr=%q, want flag value", cfg.ListenAddr)
	}
}

func TestInvalidValuesRejected(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad mode", map[string]string{envVarMode: "staging"}},
		{"bad log format", map[string]string{envVarLogFormat: "yaml"}},
		{"bad log level", map[string]string{envVarLogLevel: "verbose"}},
		{"zero room size", map[string]string{envVarMaxRoomSize: "0"}},
		{"negative queue", map[string]string{envVarOutboundQueueCapacity: "-1"}},
		{"non-numeric room size", map[string]string{envVarMaxRoomSize: "many"}},
		{"bad idle timeout", map[string]string{envVarIdleTimeout: "soon"}},
		{"zero idle timeout", map[string]string{envVarIdleTimeout: "0s"}},
		{"bad origin", map[string]string{envVarAllowedOrigins: "ftp://example.com"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := load(lookupMap(tc.env), nil); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestWildcardOriginAccepted(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarAllowedOrigins: "*",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("AllowedOrigins=%v", cfg.AllowedOrigins)
	}
}

func TestICEServersFromSTUNAndTURNEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarStunURLs:       "stun:stun.example.com:3478",
		envVarTurnURLs:       "turn:turn.example.com:3478, turns:turn.example.com:5349",
		envVarTurnUsername:   "user",
		envVarTurnCredential: "pass",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ICEConfigError() != nil {
		t.Fatalf("ICEConfigError=%v", cfg.ICEConfigError())
	}
	if len(cfg.ICEServers) != 2 {
		t.Fatalf("ICEServers=%+v, want stun + turn entries", cfg.ICEServers)
	}
	if len(cfg.ICEServers[1].URLs) != 2 || cfg.ICEServers[1].Username != "user" {
		t.Fatalf("turn server=%+v", cfg.ICEServers[1])
	}
}

func TestTURNWithoutCredentialsDeferredError(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarTurnURLs: "turn:turn.example.com:3478",
	}), nil)
	if err != nil {
		t.Fatalf("load must not fail on ICE misconfiguration: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatal("expected deferred ICE config error")
	}
	if len(cfg.ICEServers) != 0 {
		t.Fatalf("ICEServers=%+v, want none", cfg.ICEServers)
	}
}

func TestTURNWithoutCredentialsAllowedWhenTURNRESTEnabled(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarTurnURLs:             "turn:turn.example.com:3478",
		envVarTURNRESTSharedSecret: "s3cret",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ICEConfigError() != nil {
		t.Fatalf("ICEConfigError=%v", cfg.ICEConfigError())
	}
	if !cfg.TURNREST.Enabled() {
		t.Fatal("TURN REST not enabled")
	}
	if cfg.TURNREST.TTLSeconds != DefaultTURNRESTTTLSeconds {
		t.Fatalf("TTLSeconds=%d", cfg.TURNREST.TTLSeconds)
	}
	if cfg.TURNREST.UsernamePrefix != DefaultTURNRESTUsernamePrefix {
		t.Fatalf("UsernamePrefix=%q", cfg.TURNREST.UsernamePrefix)
	}
}

func TestICEServersJSONForm(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarICEServersJSON: `[
			{"urls": "stun:stun.example.com:3478"},
			{"urls": ["turn:turn.example.com:3478"], "username": "u", "credential": "c"}
		]`,
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ICEConfigError() != nil {
		t.Fatalf("ICEConfigError=%v", cfg.ICEConfigError())
	}
	if len(cfg.ICEServers) != 2 {
		t.Fatalf("ICEServers=%+v", cfg.ICEServers)
	}
	if cfg.ICEServers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Fatalf("stun entry=%+v", cfg.ICEServers[0])
	}
	if cred, ok := cfg.ICEServers[1].Credential.(string); !ok || cred != "c" {
		t.Fatalf("turn credential=%v", cfg.ICEServers[1].Credential)
	}
}

func TestICEServersJSONRejectsUnknownScheme(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarICEServersJSON: `[{"urls": "http://example.com"}]`,
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	iceErr := cfg.ICEConfigError()
	if iceErr == nil {
		t.Fatal("expected ICE config error for unsupported scheme")
	}
	if !strings.Contains(iceErr.Error(), "unsupported url scheme") {
		t.Fatalf("err=%v", iceErr)
	}
}
