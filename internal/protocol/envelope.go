// Package protocol defines the wire envelope exchanged over the signaling
// WebSocket and the codec that validates it.
//
// The payload of negotiation envelopes (offer/answer/candidate) is opaque to
// the server; this package models the protocol surface, not SDP or media
// semantics.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Kind identifies the envelope type.
type Kind string

const (
	// Client -> server.
	KindJoin      Kind = "join"
	KindLeave     Kind = "leave"
	KindHeartbeat Kind = "heartbeat"
	KindChat      Kind = "chat"

	// Peer-to-peer via the relay.
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"

	// Server -> client.
	KindPresence Kind = "presence"
	KindError    Kind = "error"
)

var (
	ErrMalformedEnvelope = errors.New("protocol: malformed envelope")
	ErrUnknownKind       = errors.New("protocol: unknown envelope kind")
	ErrMissingTarget     = errors.New("protocol: missing target")
)

// Envelope is a single unit of wire communication.
//
// From is always server-assigned. Any client-supplied value survives decoding
// but is overwritten by the transport layer before the envelope is processed,
// so it is never trusted.
type Envelope struct {
	Kind Kind   `json:"kind"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// Seq is a monotonically increasing per-sender counter used to detect and
	// drop stale or duplicate negotiation messages.
	Seq uint64 `json:"seq,omitempty"`

	Payload json.RawMessage `json:"payload,omitempty"`
}

// RequiresTarget reports whether envelopes of kind k must carry a To field.
func (k Kind) RequiresTarget() bool {
	switch k {
	case KindOffer, KindAnswer, KindCandidate:
		return true
	default:
		return false
	}
}

func (k Kind) valid() bool {
	switch k {
	case KindJoin, KindLeave, KindHeartbeat, KindChat,
		KindOffer, KindAnswer, KindCandidate,
		KindPresence, KindError:
		return true
	default:
		return false
	}
}

// Decode parses and validates a single wire envelope.
//
// Decoding is strict: unknown fields and trailing data are rejected so that
// protocol drift is caught at the boundary instead of being silently ignored.
func Decode(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Envelope{}, fmt.Errorf("%w: unexpected trailing data", ErrMalformedEnvelope)
	}
	if err := env.validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Encode serializes an envelope. It never fails for envelopes built from the
// typed payload constructors in this package; an error indicates the caller
// injected a payload that is not valid JSON.
func Encode(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s envelope: %w", env.Kind, err)
	}
	return data, nil
}

func (e Envelope) validate() error {
	if !e.Kind.valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	if e.Kind.RequiresTarget() {
		if e.To == "" {
			return fmt.Errorf("%w: %s envelope", ErrMissingTarget, e.Kind)
		}
		return nil
	}
	if e.To != "" {
		return fmt.Errorf("%w: %s envelope must not carry a target", ErrMalformedEnvelope, e.Kind)
	}
	return nil
}
