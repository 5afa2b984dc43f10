package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/sabayta-booking/internal/booking"
)

// snapshot is the first frame of a watch stream; booking events follow.
type snapshot struct {
	Type    string        `json:"type"`
	Booking *booking.View `json:"booking"`
}

// handleWatch streams the booking's events over a websocket. Clients that
// cannot hold a socket keep polling GET /bookings/{id}.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	v, err := s.engine.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ident, ok := identityFromContext(r.Context()); ok && ident.ID != v.RiderID && ident.ID != v.DriverID {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "booking belongs to another user"})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already answered 400
		s.logger.Debug("websocket upgrade failed", "booking_id", id, "error", err)
		return
	}
	session := s.hub.Add(id, conn)
	if err := session.Send(snapshot{Type: "snapshot", Booking: v}); err != nil {
		s.hub.Remove(id, session)
		return
	}
	s.hub.Serve(r.Context(), id, session)
}
