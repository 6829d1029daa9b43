// Package session owns the lifecycle of one participant's connection to the
// signaling server: connect, join, negotiate, leave, close.
//
// A Session is exclusively owned by the transport handler that created it.
// Rooms reference sessions by id only, so destroying a session can never leave
// a dangling reference inside a room.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/inpixly/signaling/internal/protocol"
)

// State is the outer membership state of a session.
type State string

const (
	StateConnected State = "connected"
	StateJoining   State = "joining"
	StateJoined    State = "joined"
	StateLeaving   State = "leaving"
	StateClosed    State = "closed"
)

// NegotiationState tracks the per-remote-peer offer/answer sub-state while the
// outer state stays StateJoined. Negotiations with different peers are
// independent.
type NegotiationState string

const (
	NegotiationNone        NegotiationState = "none"
	NegotiationNegotiating NegotiationState = "negotiating"
	NegotiationActive      NegotiationState = "active"
)

var (
	ErrClosed        = errors.New("session: closed")
	ErrAlreadyJoined = errors.New("session: already joined")
	ErrNotJoined     = errors.New("session: not joined")
	ErrQueueFull     = errors.New("session: outbound queue full")
)

// Session is one participant's live connection.
type Session struct {
	id string

	mu           sync.Mutex
	state        State
	roomID       string
	displayName  string
	negotiations map[string]NegotiationState
	lastSeq      map[string]uint64
	lastActivity time.Time

	out         chan protocol.Envelope
	done        chan struct{}
	closeOnce   sync.Once
	closeReason string
}

// New creates a session in StateConnected with a bounded outbound queue.
func New(id string, queueCapacity int) *Session {
	if queueCapacity <= 0 {
		queueCapacity = 1
	}
	return &Session{
		id:           id,
		state:        StateConnected,
		negotiations: make(map[string]NegotiationState),
		lastSeq:      make(map[string]uint64),
		lastActivity: time.Now(),
		out:          make(chan protocol.Envelope, queueCapacity),
		done:         make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RoomID returns the joined room, if any.
func (s *Session) RoomID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID, s.roomID != ""
}

func (s *Session) DisplayName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayName
}

// Touch records inbound activity for idle detection.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// LastActivity returns the time of the most recent accepted inbound traffic.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// BeginJoin moves Connected -> Joining. A join while already joined (or mid
// join) fails with ErrAlreadyJoined and leaves the session in its current
// room.
func (s *Session) BeginJoin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateConnected:
		s.state = StateJoining
		return nil
	case StateClosed, StateLeaving:
		return ErrClosed
	default:
		return ErrAlreadyJoined
	}
}

// CompleteJoin moves Joining -> Joined after registry admission.
func (s *Session) CompleteJoin(roomID, displayName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateJoining {
		return
	}
	s.state = StateJoined
	s.roomID = roomID
	s.displayName = displayName
}

// AbortJoin moves Joining back to Connected after a rejected admission.
func (s *Session) AbortJoin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateJoining {
		s.state = StateConnected
	}
}

// BeginLeave moves the session to StateLeaving and returns the room that must
// be cleaned up, if any. A leave while never joined is a no-op: the session
// returns to StateConnected unless the transport is also closing.
func (s *Session) BeginLeave(transportClosing bool) (roomID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosed:
		return "", false
	case StateConnected, StateJoining:
		if transportClosing {
			s.state = StateLeaving
		}
		return "", false
	default:
		s.state = StateLeaving
		roomID = s.roomID
		s.roomID = ""
		s.negotiations = make(map[string]NegotiationState)
		return roomID, roomID != ""
	}
}

// Close transitions the session to its terminal state and wakes the writer.
// Buffered negotiation sub-state is discarded; no envelope is processed after
// this returns.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.roomID = ""
		s.negotiations = nil
		s.mu.Unlock()
		close(s.done)
	})
}

// CloseWithReason records why the server is closing the session, then
// closes it. The reason is surfaced in the transport's close frame. Only the
// first reason sticks.
func (s *Session) CloseWithReason(reason string) {
	s.mu.Lock()
	if s.closeReason == "" {
		s.closeReason = reason
	}
	s.mu.Unlock()
	s.Close()
}

// CloseReason returns the recorded close reason, if any.
func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// Done is closed when the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} { return s.done }

// AcceptSeq validates that seq is strictly greater than the last accepted
// sequence for the (this session, target) pair and advances the counter.
// Stale or duplicate sequences return false and leave the counter unchanged.
func (s *Session) AcceptSeq(target string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	if seq <= s.lastSeq[target] {
		return false
	}
	s.lastSeq[target] = seq
	return true
}

// Negotiation returns the sub-state for the given remote peer.
func (s *Session) Negotiation(remote string) NegotiationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.negotiations[remote]; ok {
		return st
	}
	return NegotiationNone
}

// NoteOffer records an offer exchanged with remote (in either direction),
// moving the pair into negotiation.
func (s *Session) NoteOffer(remote string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.negotiations == nil {
		return
	}
	if s.negotiations[remote] != NegotiationActive {
		s.negotiations[remote] = NegotiationNegotiating
	}
}

// NoteAnswer records an answer exchanged with remote. Once both directions
// have exchanged offer and answer the pair is active; the server does not
// interpret the payloads themselves.
func (s *Session) NoteAnswer(remote string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.negotiations == nil {
		return
	}
	if s.negotiations[remote] == NegotiationNegotiating {
		s.negotiations[remote] = NegotiationActive
	}
}

// DropNegotiation discards the sub-state for a remote peer that left.
func (s *Session) DropNegotiation(remote string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.negotiations, remote)
	delete(s.lastSeq, remote)
}

// Send enqueues an envelope on the session's bounded outbound queue without
// blocking. A full queue fails with ErrQueueFull; per the backpressure
// policy the caller then disconnects this (slow) session rather than stalling
// the whole room.
func (s *Session) Send(env protocol.Envelope) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.out <- env:
		return nil
	case <-s.done:
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

// Outbound is consumed by the single writer goroutine owning the transport.
func (s *Session) Outbound() <-chan protocol.Envelope { return s.out }
