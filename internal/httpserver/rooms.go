package httpserver

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/inpixly/signaling/internal/metrics"
	"github.com/inpixly/signaling/internal/protocol"
	"github.com/inpixly/signaling/internal/room"
)

type createRoomResponse struct {
	RoomID string `json:"room_id"`
}

type roomInfoResponse struct {
	RoomID  string       `json:"room_id"`
	Members []memberJSON `json:"members"`
}

type memberJSON struct {
	SessionID   string `json:"session_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// handleCreateRoom pre-creates an empty room and returns its id. Rooms are
// also created implicitly on first join; this endpoint exists so a frontend
// can mint a shareable room link before anyone connects.
func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	roomID := uuid.NewString()
	if err := s.rooms.Create(roomID); err != nil {
		if errors.Is(err, room.ErrRoomExists) {
			// uuid collision; not worth a retry loop.
			WriteJSON(w, http.StatusConflict, map[string]any{"error": "room already exists"})
			return
		}
		WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	s.metrics.Inc(metrics.EventRoomsCreated)
	s.log.Info("room created", "room_id", roomID)
	WriteJSON(w, http.StatusCreated, createRoomResponse{RoomID: roomID})
}

// handleRoomInfo reports who is in a room, so a client can probe a room link
// before connecting. Unknown rooms yield 404 with the room_not_found code.
func (s *Server) handleRoomInfo(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")

	if !s.rooms.Exists(roomID) {
		WriteJSON(w, http.StatusNotFound, map[string]any{"error": string(protocol.CodeRoomNotFound)})
		return
	}

	members := s.rooms.Members(roomID)
	out := make([]memberJSON, 0, len(members))
	for _, m := range members {
		out = append(out, memberJSON{SessionID: m.SessionID, DisplayName: m.DisplayName})
	}
	WriteJSON(w, http.StatusOK, roomInfoResponse{RoomID: roomID, Members: out})
}
