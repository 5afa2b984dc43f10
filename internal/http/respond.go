package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/example/sabayta-booking/internal/apperrors"
	"github.com/example/sabayta-booking/internal/models"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.StatusCode(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "route", routeTemplate(r), "status", status,
			"request_id", requestIDFromContext(r.Context()), "error", err)
	}
	writeJSON(w, status, errorBody{Error: apperrors.Message(err)})
}

// decodeJSON reads one JSON object into dst and rejects unknown fields. An
// empty body is accepted only when optional is set.
func decodeJSON(r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			if optional {
				return nil
			}
			return apperrors.Validation("request body is required")
		}
		return apperrors.Validation("invalid request body: %v", err)
	}
	if dec.More() {
		return apperrors.Validation("request body must hold a single JSON object")
	}
	return nil
}

// coordBody is the one accepted location shape.
type coordBody struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

func (c *coordBody) coord(field string) (models.Coord, error) {
	if c == nil || c.Lat == nil || c.Lon == nil {
		return models.Coord{}, apperrors.Validation("%s: lat and lon are required", field)
	}
	return models.Coord{Lat: *c.Lat, Lon: *c.Lon}, nil
}

type placeBody struct {
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
	DisplayName string   `json:"displayName"`
}

func (p *placeBody) place(field string) (models.Place, error) {
	if p == nil || p.Lat == nil || p.Lon == nil {
		return models.Place{}, apperrors.Validation("%s: lat and lon are required", field)
	}
	return models.Place{Lat: *p.Lat, Lon: *p.Lon, DisplayName: p.DisplayName}, nil
}
