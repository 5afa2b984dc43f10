package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/example/sabayta-booking/internal/apperrors"
	"github.com/example/sabayta-booking/internal/booking"
	"github.com/example/sabayta-booking/internal/models"
)

type createBookingRequest struct {
	RiderID         string     `json:"riderId"`
	PickupLocation  *placeBody `json:"pickupLocation"`
	DropoffLocation *placeBody `json:"dropoffLocation"`
	Distance        string     `json:"distance"`
	EstimatedTime   string     `json:"estimatedTime"`
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	riderID, err := actor(r.Context(), models.ActorRider, req.RiderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pickup, err := req.PickupLocation.place("pickupLocation")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dropoff, err := req.DropoffLocation.place("dropoffLocation")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	b, err := s.engine.Create(r.Context(), booking.CreateRequest{
		RiderID:       riderID,
		Pickup:        pickup,
		Dropoff:       dropoff,
		Distance:      req.Distance,
		EstimatedTime: req.EstimatedTime,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if status := q.Get("status"); status != "" && status != string(models.StatusPending) {
		s.writeError(w, r, apperrors.Validation("only status=pending can be listed"))
		return
	}

	var pq booking.PendingQuery
	var err error
	if pq.Limit, err = intParam(q.Get("limit")); err != nil {
		s.writeError(w, r, apperrors.Validation("limit must be an integer"))
		return
	}
	if pq.RadiusMeters, err = floatParam(q.Get("radius")); err != nil {
		s.writeError(w, r, apperrors.Validation("radius must be a number"))
		return
	}
	lat, lon := q.Get("lat"), q.Get("lon")
	switch {
	case lat == "" && lon == "":
	case lat == "" || lon == "":
		s.writeError(w, r, apperrors.Validation("lat and lon must be given together"))
		return
	default:
		la, errLat := strconv.ParseFloat(lat, 64)
		lo, errLon := strconv.ParseFloat(lon, 64)
		if errLat != nil || errLon != nil {
			s.writeError(w, r, apperrors.Validation("lat and lon must be numbers"))
			return
		}
		pq.Near = &models.Coord{Lat: la, Lon: lo}
	}

	list, err := s.engine.ListPending(r.Context(), pq)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	v, err := s.engine.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Progress(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type acceptRequest struct {
	DriverID       string     `json:"driverId"`
	DriverLocation *coordBody `json:"driverLocation"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	driverID, err := actor(r.Context(), models.ActorDriver, req.DriverID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loc, err := req.DriverLocation.coord("driverLocation")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.engine.Accept(r.Context(), mux.Vars(r)["id"], driverID, loc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var req coordBody
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	loc, err := req.coord("location")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	driverID, err := actor(r.Context(), models.ActorDriver, "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	got, err := s.engine.UpdateDriverLocation(r.Context(), mux.Vars(r)["id"], driverID, loc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]models.Coord{"driverLocation": got})
}

func (s *Server) handlePickup(w http.ResponseWriter, r *http.Request) {
	driverID, err := actor(r.Context(), models.ActorDriver, "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.engine.MarkPickedUp(r.Context(), mux.Vars(r)["id"], driverID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	driverID, err := actor(r.Context(), models.ActorDriver, "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.engine.Complete(r.Context(), mux.Vars(r)["id"], driverID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type cancelRequest struct {
	CancelledBy models.Actor `json:"cancelledBy"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	by, actorID := req.CancelledBy, ""
	if id, ok := identityFromContext(r.Context()); ok {
		if by != "" && by != id.Role {
			s.writeError(w, r, apperrors.Forbidden("cancelledBy does not match token role"))
			return
		}
		by, actorID = id.Role, id.ID
	}
	b, err := s.engine.Cancel(r.Context(), mux.Vars(r)["id"], by, actorID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type ratingRequest struct {
	BookingID string `json:"bookingId"`
	Rating    int    `json:"rating"`
	Review    string `json:"review"`
}

func (s *Server) handleSubmitRating(w http.ResponseWriter, r *http.Request) {
	var req ratingRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	riderID, err := actor(r.Context(), models.ActorRider, "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rt, err := s.ratings.Submit(r.Context(), riderID, req.BookingID, req.Rating, req.Review)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rt)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	if id, ok := identityFromContext(r.Context()); ok && id.ID != userID {
		s.writeError(w, r, apperrors.Forbidden("notifications belong to another user"))
		return
	}
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil || limit < 0 {
		s.writeError(w, r, apperrors.Validation("limit must be a positive integer"))
		return
	}
	list, err := s.notifications.List(r.Context(), userID, limit)
	if err != nil {
		s.writeError(w, r, apperrors.Dependency("notifications.list", err))
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func floatParam(v string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseFloat(v, 64)
}
