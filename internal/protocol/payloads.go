package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// JoinPayload is carried by join envelopes.
type JoinPayload struct {
	RoomID      string `json:"room_id"`
	DisplayName string `json:"display_name,omitempty"`
}

func ParseJoinPayload(raw json.RawMessage) (JoinPayload, error) {
	var p JoinPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return JoinPayload{}, fmt.Errorf("%w: join payload: %v", ErrMalformedEnvelope, err)
	}
	if strings.TrimSpace(p.RoomID) == "" {
		return JoinPayload{}, fmt.Errorf("%w: join payload missing room_id", ErrMalformedEnvelope)
	}
	return p, nil
}

// PresenceEvent names a membership transition.
type PresenceEvent string

const (
	MemberJoined       PresenceEvent = "member_joined"
	MemberLeft         PresenceEvent = "member_left"
	MemberStateChanged PresenceEvent = "member_state_changed"
)

// Member is one entry of a room membership snapshot.
type Member struct {
	SessionID   string `json:"session_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// PresencePayload is carried by presence envelopes. Members is the full
// membership snapshot after the transition, so every recipient (including a
// newly joined member) observes one consistent view.
type PresencePayload struct {
	Event       PresenceEvent `json:"event"`
	SessionID   string        `json:"session_id"`
	DisplayName string        `json:"display_name,omitempty"`
	Members     []Member      `json:"members"`
}

// ChatPayload is carried by chat envelopes and broadcast to all room members.
type ChatPayload struct {
	Message string `json:"message"`
}

func ParseChatPayload(raw json.RawMessage) (ChatPayload, error) {
	var p ChatPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return ChatPayload{}, fmt.Errorf("%w: chat payload: %v", ErrMalformedEnvelope, err)
	}
	if p.Message == "" {
		return ChatPayload{}, fmt.Errorf("%w: chat payload missing message", ErrMalformedEnvelope)
	}
	return p, nil
}

// ErrorCode is the machine-readable rejection reason carried by error
// envelopes.
type ErrorCode string

const (
	// Protocol errors: the offending message is rejected, the connection stays.
	CodeBadMessage    ErrorCode = "bad_message"
	CodeUnknownKind   ErrorCode = "unknown_kind"
	CodeMissingTarget ErrorCode = "missing_target"

	// State errors.
	CodeAlreadyJoined ErrorCode = "already_joined"
	CodeNotJoined     ErrorCode = "not_joined"

	// Capacity errors. queue_full and rate_limited close the offending
	// connection.
	CodeRoomFull    ErrorCode = "room_full"
	CodeQueueFull   ErrorCode = "queue_full"
	CodeRateLimited ErrorCode = "rate_limited"

	// Lookup errors.
	CodeUnknownTarget ErrorCode = "unknown_target"
	CodeRoomNotFound  ErrorCode = "room_not_found"

	// Timeouts force-close the session.
	CodeIdleTimeout ErrorCode = "idle_timeout"
)

// ErrorPayload echoes the kind and sequence of the rejected message so
// clients can make retry decisions per message.
type ErrorPayload struct {
	Code         ErrorCode `json:"code"`
	Message      string    `json:"message,omitempty"`
	RejectedKind Kind      `json:"rejected_kind,omitempty"`
	RejectedSeq  uint64    `json:"rejected_seq,omitempty"`
}

// NewPresenceEnvelope builds a server-originated presence envelope.
func NewPresenceEnvelope(p PresencePayload) Envelope {
	return Envelope{Kind: KindPresence, Payload: mustMarshal(p)}
}

// NewErrorEnvelope builds an error envelope rejecting the given message.
func NewErrorEnvelope(code ErrorCode, message string, rejected Envelope) Envelope {
	return Envelope{Kind: KindError, Payload: mustMarshal(ErrorPayload{
		Code:         code,
		Message:      message,
		RejectedKind: rejected.Kind,
		RejectedSeq:  rejected.Seq,
	})}
}

// NewChatEnvelope builds a server-originated chat fan-out envelope.
func NewChatEnvelope(from string, p ChatPayload) Envelope {
	return Envelope{Kind: KindChat, From: from, Payload: mustMarshal(p)}
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// All payload types in this package marshal without error.
		panic(fmt.Sprintf("protocol: marshal %T: %v", v, err))
	}
	return data
}
