package signaling

import (
	"errors"
	"log/slog"

	"github.com/inpixly/signaling/internal/metrics"
	"github.com/inpixly/signaling/internal/protocol"
	"github.com/inpixly/signaling/internal/room"
	"github.com/inpixly/signaling/internal/session"
)

var (
	// ErrNotJoined rejects negotiation envelopes from a sender that is not a
	// room member.
	ErrNotJoined = errors.New("signaling: sender not joined to a room")

	// ErrUnknownTarget rejects envelopes whose target is not a member of the
	// sender's room.
	ErrUnknownTarget = errors.New("signaling: unknown relay target")
)

// Relay routes offer/answer/candidate envelopes between peers in the same
// room, enforcing per-(from, to) sequence monotonicity.
//
// Ordering: each sender's envelopes are validated on its single reader
// goroutine and delivered through the target's FIFO outbound queue, so for a
// given ordered pair (from, to) the target observes relay order equal to
// validation order. No ordering holds across different senders.
type Relay struct {
	rooms    *room.Registry
	sessions *session.Table
	metrics  *metrics.Metrics
	log      *slog.Logger

	// presence announces member_state_changed when an answer completes a
	// negotiation pair.
	presence *Broadcaster

	// dropSlow disconnects a recipient whose outbound queue is full. The
	// sender is never blocked or failed by a slow recipient.
	dropSlow func(*session.Session)
}

// Relay validates and forwards one negotiation envelope. The payload is
// forwarded verbatim; the server never interprets it.
//
// Stale or duplicate sequences are dropped silently: no relay, no error
// envelope, no state change.
func (r *Relay) Relay(from *session.Session, env protocol.Envelope) error {
	roomID, joined := from.RoomID()
	if !joined {
		return ErrNotJoined
	}
	if env.To == from.ID() || !r.rooms.IsMember(roomID, env.To) {
		return ErrUnknownTarget
	}
	target, ok := r.sessions.Get(env.To)
	if !ok {
		// Membership and the session table disagree only transiently, while a
		// teardown is in flight; treat it as the target being gone.
		return ErrUnknownTarget
	}

	if !from.AcceptSeq(env.To, env.Seq) {
		r.metrics.Inc(metrics.EventStaleSequenceDropped)
		r.log.Debug("dropped stale envelope",
			"kind", env.Kind, "from", from.ID(), "to", env.To, "seq", env.Seq)
		return nil
	}

	pairCompleted := false
	switch env.Kind {
	case protocol.KindOffer:
		from.NoteOffer(env.To)
		target.NoteOffer(from.ID())
		r.metrics.Inc(metrics.EventRelayedOffers)
	case protocol.KindAnswer:
		wasNegotiating := from.Negotiation(env.To) == session.NegotiationNegotiating
		from.NoteAnswer(env.To)
		target.NoteAnswer(from.ID())
		pairCompleted = wasNegotiating && from.Negotiation(env.To) == session.NegotiationActive
		r.metrics.Inc(metrics.EventRelayedAnswers)
	case protocol.KindCandidate:
		r.metrics.Inc(metrics.EventRelayedCandidates)
	}

	if err := target.Send(env); err != nil {
		if errors.Is(err, session.ErrQueueFull) {
			r.dropSlow(target)
		}
		// A failed forward is the recipient's problem, not the sender's.
		r.log.Warn("relay delivery failed",
			"kind", env.Kind, "from", from.ID(), "to", env.To, "err", err)
	}

	if pairCompleted {
		// The answer landed (or its sender was dropped); either way the pair
		// is active now, so tell the room.
		r.presence.Broadcast(roomID, protocol.MemberStateChanged,
			protocol.Member{SessionID: from.ID(), DisplayName: from.DisplayName()},
			r.rooms.Members(roomID))
	}
	return nil
}
