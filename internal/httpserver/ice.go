package httpserver

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// handleICEServers returns the ICE server list clients should use for their
// peer connections. When TURN REST is configured, TURN entries get per-request
// ephemeral credentials scoped to the caller's session id.
func (s *Server) handleICEServers(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.ICEConfigError(); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}

	servers := s.cfg.ICEServers
	ttl := int64(0)

	if s.turn != nil {
		sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
		if sessionID == "" || strings.Contains(sessionID, ":") {
			sessionID = uuid.NewString()
		}
		creds, err := s.turn.Mint(sessionID)
		if err != nil {
			WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		servers = withTURNCredentials(servers, creds.Username, creds.Credential)
		ttl = creds.ExpiryUnix
	}

	resp := map[string]any{"iceServers": servers}
	if ttl != 0 {
		resp["expiresAt"] = ttl
	}
	WriteJSON(w, http.StatusOK, resp)
}

// withTURNCredentials copies the server list, substituting the ephemeral
// username/credential into every entry that carries a TURN URL.
func withTURNCredentials(servers []webrtc.ICEServer, username, credential string) []webrtc.ICEServer {
	if len(servers) == 0 {
		// Preserve empty (non-nil) slices so the JSON response encodes as `[]`
		// rather than `null`.
		return servers
	}
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if hasTURNURL(server) {
			out[i].Username = username
			out[i].Credential = credential
		}
	}
	return out
}

func hasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		url := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			return true
		}
	}
	return false
}
