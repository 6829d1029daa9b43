// Package turnrest mints coturn-compatible TURN REST ephemeral credentials.
//
// The signaling server never talks to the TURN server itself; it only hands
// these short-lived credentials to clients alongside the ICE server list so
// peers can reach a relay when a direct path fails.
//
// Algorithm (draft-uberti-behave-turn-rest, coturn-compatible):
//
//	username   = <unix_expiry>:<prefix>:<session_id>
//	credential = base64(hmac_sha1(shared_secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Credentials is one ephemeral TURN username/credential pair.
type Credentials struct {
	Username   string
	Credential string
	ExpiryUnix int64
}

// Minter derives per-session ephemeral credentials from a shared secret.
type Minter struct {
	sharedSecret   []byte
	ttl            time.Duration
	usernamePrefix string
	now            func() time.Time
}

type Config struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string

	// Now overrides the clock in tests.
	Now func() time.Time
}

func NewMinter(cfg Config) (*Minter, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("turnrest: shared secret is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("turnrest: TTL must be > 0")
	}
	if cfg.UsernamePrefix == "" {
		return nil, errors.New("turnrest: username prefix is required")
	}
	if strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, errors.New("turnrest: username prefix must not contain ':'")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Minter{
		sharedSecret:   []byte(cfg.SharedSecret),
		ttl:            cfg.TTL,
		usernamePrefix: cfg.UsernamePrefix,
		now:            cfg.Now,
	}, nil
}

// Mint derives credentials scoped to a signaling session id. The id becomes
// part of the TURN username, which makes TURN-side logs attributable to a
// signaling session.
func (m *Minter) Mint(sessionID string) (Credentials, error) {
	if sessionID == "" {
		return Credentials{}, errors.New("turnrest: session id is required")
	}
	if strings.Contains(sessionID, ":") {
		return Credentials{}, errors.New("turnrest: session id must not contain ':'")
	}

	expiry := m.now().UTC().Unix() + int64(m.ttl/time.Second)
	username := fmt.Sprintf("%d:%s:%s", expiry, m.usernamePrefix, sessionID)

	mac := hmac.New(sha1.New, m.sharedSecret)
	_, _ = mac.Write([]byte(username))

	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		ExpiryUnix: expiry,
	}, nil
}
