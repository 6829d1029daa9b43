package signaling

import (
	"errors"
	"log/slog"

	"github.com/inpixly/signaling/internal/metrics"
	"github.com/inpixly/signaling/internal/protocol"
	"github.com/inpixly/signaling/internal/room"
	"github.com/inpixly/signaling/internal/session"
)

// Broadcaster fans membership and state-change notifications out to all
// members of a room.
//
// Fan-out is best-effort per recipient: a delivery failure to one member is
// logged and counted but never blocks or fails delivery to the rest.
type Broadcaster struct {
	sessions *session.Table
	metrics  *metrics.Metrics
	log      *slog.Logger

	dropSlow func(*session.Session)
}

// Broadcast sends a presence envelope for the given transition to every
// member in the snapshot. For member_joined the snapshot includes the joining
// member itself, so the newcomer receives the same consistent membership view
// as everyone else.
func (b *Broadcaster) Broadcast(roomID string, event protocol.PresenceEvent, subject protocol.Member, members []room.Member) {
	env := protocol.NewPresenceEnvelope(protocol.PresencePayload{
		Event:       event,
		SessionID:   subject.SessionID,
		DisplayName: subject.DisplayName,
		Members:     membersToWire(members),
	})

	b.metrics.Inc(metrics.EventPresenceBroadcasts)
	// For member_left the leaver is no longer in the snapshot and receives
	// nothing.
	for _, m := range members {
		b.deliver(m.SessionID, env)
	}
	b.log.Debug("presence fan-out", "room_id", roomID, "event", event,
		"subject", subject.SessionID, "recipients", len(members))
}

// BroadcastChat fans a chat envelope from the given member out to the whole
// room, the sender included.
func (b *Broadcaster) BroadcastChat(from string, payload protocol.ChatPayload, members []room.Member) {
	env := protocol.NewChatEnvelope(from, payload)
	b.metrics.Inc(metrics.EventChatBroadcasts)
	for _, m := range members {
		b.deliver(m.SessionID, env)
	}
}

func (b *Broadcaster) deliver(sessionID string, env protocol.Envelope) {
	sess, ok := b.sessions.Get(sessionID)
	if !ok {
		// Member is mid-teardown; its member_left fan-out is already on the way.
		b.metrics.Inc(metrics.EventPresenceSendFailures)
		return
	}
	if err := sess.Send(env); err != nil {
		b.metrics.Inc(metrics.EventPresenceSendFailures)
		if errors.Is(err, session.ErrQueueFull) {
			b.dropSlow(sess)
		}
		b.log.Warn("presence delivery failed", "to", sessionID, "kind", env.Kind, "err", err)
	}
}

func membersToWire(members []room.Member) []protocol.Member {
	out := make([]protocol.Member, 0, len(members))
	for _, m := range members {
		out = append(out, protocol.Member{SessionID: m.SessionID, DisplayName: m.DisplayName})
	}
	return out
}
