package signaling

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/inpixly/signaling/internal/metrics"
	"github.com/inpixly/signaling/internal/origin"
	"github.com/inpixly/signaling/internal/protocol"
	"github.com/inpixly/signaling/internal/ratelimit"
	"github.com/inpixly/signaling/internal/room"
	"github.com/inpixly/signaling/internal/session"
)

const wsWriteWait = 5 * time.Second

// Config wires together the runtime dependencies of the signaling endpoint.
type Config struct {
	Rooms    *room.Registry
	Sessions *session.Table
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// AllowedOrigins gates the WebSocket upgrade. Empty means same-host only.
	AllowedOrigins []string

	// IdleTimeout force-closes sessions with no inbound traffic (heartbeats
	// included) for this long.
	IdleTimeout time.Duration

	// JoinTimeout bounds how long a connection may stay in Connected without a
	// successful join.
	JoinTimeout time.Duration

	PingInterval          time.Duration
	OutboundQueueCapacity int

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
}

// Server owns the GET /signal WebSocket endpoint: one reader and one writer
// goroutine per connection, a session per connection, and the relay and
// presence fan-out shared across them.
type Server struct {
	cfg Config

	rooms    *room.Registry
	sessions *session.Table
	metrics  *metrics.Metrics
	log      *slog.Logger

	relay    *Relay
	presence *Broadcaster
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Rooms == nil {
		cfg.Rooms = room.NewRegistry(2)
	}
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewTable()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = cfg.IdleTimeout
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.IdleTimeout {
		cfg.PingInterval = cfg.IdleTimeout / 3
	}
	if cfg.OutboundQueueCapacity <= 0 {
		cfg.OutboundQueueCapacity = 64
	}

	s := &Server{
		cfg:      cfg,
		rooms:    cfg.Rooms,
		sessions: cfg.Sessions,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		conns:    make(map[*websocket.Conn]struct{}),
	}
	s.presence = &Broadcaster{
		sessions: s.sessions,
		metrics:  s.metrics,
		log:      s.log,
		dropSlow: s.dropSlow,
	}
	s.relay = &Relay{
		rooms:    s.rooms,
		sessions: s.sessions,
		metrics:  s.metrics,
		log:      s.log,
		presence: s.presence,
		dropSlow: s.dropSlow,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			raw := strings.TrimSpace(r.Header.Get("Origin"))
			if raw == "" {
				// Non-browser clients (CLI, tests) send no Origin.
				return true
			}
			normalized, host, ok := origin.Normalize(raw)
			return ok && origin.Allowed(normalized, host, r.Host, cfg.AllowedOrigins)
		},
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /signal", s.handleSignal)
}

// Close force-closes every live connection. Intended for shutdown.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	if !s.track(conn) {
		_ = conn.Close()
		return
	}

	sess := session.New(uuid.NewString(), s.cfg.OutboundQueueCapacity)
	s.sessions.Add(sess)
	s.metrics.Inc(metrics.EventSessionsOpened)
	s.log.Info("session connected", "session_id", sess.ID(), "remote_addr", conn.RemoteAddr().String())

	go s.writePump(conn, sess)
	s.readLoop(conn, sess)
	s.teardown(conn, sess)
}

func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// readLoop is the single reader of conn. It returns when the transport
// closes, the session is force-closed, or a hardening limit trips.
func (s *Server) readLoop(conn *websocket.Conn, sess *session.Session) {
	if s.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	limiter := ratelimit.NewTokenBucket(nil, int64(s.cfg.MaxMessagesPerSecond), int64(s.cfg.MaxMessagesPerSecond))

	refreshDeadline := func() {
		d := s.cfg.IdleTimeout
		if sess.State() == session.StateConnected {
			d = s.cfg.JoinTimeout
		}
		_ = conn.SetReadDeadline(time.Now().Add(d))
	}
	refreshDeadline()
	conn.SetPongHandler(func(string) error {
		sess.Touch(time.Now())
		refreshDeadline()
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				s.metrics.Inc(metrics.EventIdleTimeouts)
				s.sendError(sess, protocol.CodeIdleTimeout, "no activity within the idle window", protocol.Envelope{})
				s.writeClose(conn, websocket.ClosePolicyViolation, "idle timeout")
			}
			return
		}
		if msgType != websocket.TextMessage {
			s.writeClose(conn, websocket.CloseUnsupportedData, "expected text message")
			return
		}

		if s.cfg.MaxMessagesPerSecond > 0 && !limiter.Allow(1) {
			s.metrics.Inc(metrics.EventRateLimitedClosed)
			s.sendError(sess, protocol.CodeRateLimited, "message rate limit exceeded", protocol.Envelope{})
			s.writeClose(conn, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		sess.Touch(time.Now())

		env, err := protocol.Decode(data)
		if err != nil {
			// Malformed single messages never tear down the session.
			s.metrics.Inc(metrics.EventEnvelopesRejected)
			s.sendError(sess, decodeErrorCode(err), err.Error(), protocol.Envelope{})
			refreshDeadline()
			continue
		}
		s.metrics.Inc(metrics.EventEnvelopesDecoded)

		// From is server-assigned; whatever the client put there is discarded.
		env.From = sess.ID()

		if stop := s.dispatch(conn, sess, env); stop {
			return
		}
		refreshDeadline()
	}
}

// dispatch handles one validated envelope. It returns true when the
// connection should close.
func (s *Server) dispatch(conn *websocket.Conn, sess *session.Session, env protocol.Envelope) (stop bool) {
	switch env.Kind {
	case protocol.KindJoin:
		s.handleJoin(sess, env)
		return false

	case protocol.KindLeave:
		if _, joined := sess.RoomID(); !joined {
			// Leave before ever joining is a no-op; the session stays usable.
			return false
		}
		s.writeClose(conn, websocket.CloseNormalClosure, "left")
		return true

	case protocol.KindOffer, protocol.KindAnswer, protocol.KindCandidate:
		if err := s.relay.Relay(sess, env); err != nil {
			s.metrics.Inc(metrics.EventEnvelopesRejected)
			s.sendError(sess, relayErrorCode(err), err.Error(), env)
		}
		return false

	case protocol.KindChat:
		s.handleChat(sess, env)
		return false

	case protocol.KindHeartbeat:
		// Activity was already recorded; nothing else to do.
		return false

	default:
		// presence/error are server-originated kinds.
		s.metrics.Inc(metrics.EventEnvelopesRejected)
		s.sendError(sess, protocol.CodeBadMessage, "client must not send "+string(env.Kind)+" envelopes", env)
		return false
	}
}

func (s *Server) handleJoin(sess *session.Session, env protocol.Envelope) {
	payload, err := protocol.ParseJoinPayload(env.Payload)
	if err != nil {
		s.metrics.Inc(metrics.EventEnvelopesRejected)
		s.sendError(sess, protocol.CodeBadMessage, err.Error(), env)
		return
	}

	if err := sess.BeginJoin(); err != nil {
		if errors.Is(err, session.ErrAlreadyJoined) {
			s.sendError(sess, protocol.CodeAlreadyJoined, "session is already in a room", env)
		}
		return
	}

	members, assigned, err := s.rooms.Join(payload.RoomID, sess.ID(), payload.DisplayName)
	if err != nil {
		sess.AbortJoin()
		if errors.Is(err, room.ErrRoomFull) {
			s.metrics.Inc(metrics.EventJoinsRejectedFull)
			s.sendError(sess, protocol.CodeRoomFull, "room is at capacity", env)
			return
		}
		s.sendError(sess, protocol.CodeBadMessage, err.Error(), env)
		return
	}

	sess.CompleteJoin(payload.RoomID, assigned)
	s.metrics.Inc(metrics.EventJoins)
	s.log.Info("session joined room",
		"session_id", sess.ID(), "room_id", payload.RoomID,
		"display_name", assigned, "members", len(members))

	s.presence.Broadcast(payload.RoomID, protocol.MemberJoined,
		protocol.Member{SessionID: sess.ID(), DisplayName: assigned}, members)
}

func (s *Server) handleChat(sess *session.Session, env protocol.Envelope) {
	roomID, joined := sess.RoomID()
	if !joined {
		s.metrics.Inc(metrics.EventEnvelopesRejected)
		s.sendError(sess, protocol.CodeNotJoined, "chat requires room membership", env)
		return
	}
	payload, err := protocol.ParseChatPayload(env.Payload)
	if err != nil {
		s.metrics.Inc(metrics.EventEnvelopesRejected)
		s.sendError(sess, protocol.CodeBadMessage, err.Error(), env)
		return
	}
	s.presence.BroadcastChat(sess.ID(), payload, s.rooms.Members(roomID))
}

// teardown releases everything owned by the connection: room membership,
// negotiation sub-state held by surviving members, and the session itself.
// Closing a transport cancels all pending work for its session; nothing is
// retained.
func (s *Server) teardown(conn *websocket.Conn, sess *session.Session) {
	roomID, hadRoom := sess.BeginLeave(true)
	if hadRoom {
		remaining := s.rooms.Leave(roomID, sess.ID())
		for _, m := range remaining {
			if peer, ok := s.sessions.Get(m.SessionID); ok {
				peer.DropNegotiation(sess.ID())
			}
		}
		s.metrics.Inc(metrics.EventLeaves)
		if len(remaining) == 0 {
			s.metrics.Inc(metrics.EventRoomsReclaimed)
		}
		s.presence.Broadcast(roomID, protocol.MemberLeft,
			protocol.Member{SessionID: sess.ID(), DisplayName: sess.DisplayName()}, remaining)
	}

	s.sessions.Remove(sess.ID())
	// Closing the session stops the write pump, which flushes any queued
	// envelopes and then closes the underlying connection.
	sess.Close()
	s.untrack(conn)
	s.metrics.Inc(metrics.EventSessionsClosed)
	s.log.Info("session closed", "session_id", sess.ID(), "room_id", roomID)
}

// writePump is the single writer of conn. It drains the session's outbound
// queue, emits keepalive pings, and exits when the session closes.
func (s *Server) writePump(conn *websocket.Conn, sess *session.Session) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		// Unblock the reader if the writer dies first.
		_ = conn.Close()
	}()

	for {
		select {
		case env := <-sess.Outbound():
			data, err := protocol.Encode(env)
			if err != nil {
				s.log.Error("failed to encode outbound envelope", "kind", env.Kind, "err", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				sess.Close()
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sess.Close()
				return
			}

		case <-sess.Done():
			// Flush whatever is already queued before closing.
			for {
				select {
				case env := <-sess.Outbound():
					data, err := protocol.Encode(env)
					if err != nil {
						continue
					}
					_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
					if conn.WriteMessage(websocket.TextMessage, data) != nil {
						return
					}
				default:
					if reason := sess.CloseReason(); reason != "" {
						s.writeClose(conn, websocket.ClosePolicyViolation, reason)
					} else {
						s.writeClose(conn, websocket.CloseNormalClosure, "session closed")
					}
					return
				}
			}
		}
	}
}

// dropSlow disconnects a recipient whose bounded outbound queue overflowed.
// Backpressure policy: a slow client is removed rather than allowed to stall
// its room.
func (s *Server) dropSlow(target *session.Session) {
	s.metrics.Inc(metrics.EventSlowClientsClosed)
	s.log.Warn("disconnecting slow client", "session_id", target.ID())
	target.CloseWithReason(string(protocol.CodeQueueFull))
}

// sendError delivers a typed error envelope to the session, best effort.
func (s *Server) sendError(sess *session.Session, code protocol.ErrorCode, message string, rejected protocol.Envelope) {
	env := protocol.NewErrorEnvelope(code, message, rejected)
	if err := sess.Send(env); err != nil && errors.Is(err, session.ErrQueueFull) {
		s.dropSlow(sess)
	}
}

func (s *Server) writeClose(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}

func decodeErrorCode(err error) protocol.ErrorCode {
	switch {
	case errors.Is(err, protocol.ErrUnknownKind):
		return protocol.CodeUnknownKind
	case errors.Is(err, protocol.ErrMissingTarget):
		return protocol.CodeMissingTarget
	default:
		return protocol.CodeBadMessage
	}
}

func relayErrorCode(err error) protocol.ErrorCode {
	switch {
	case errors.Is(err, ErrNotJoined):
		return protocol.CodeNotJoined
	case errors.Is(err, ErrUnknownTarget):
		return protocol.CodeUnknownTarget
	default:
		return protocol.CodeBadMessage
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
