// Package client talks to the booking API the way the rider and driver apps
// do: plain request/response calls plus polling loops.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/sabayta-booking/internal/apperrors"
	"github.com/example/sabayta-booking/internal/booking"
	"github.com/example/sabayta-booking/internal/models"
)

// APIError is a non-2xx answer. It matches the apperrors sentinel for its
// status with errors.Is.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api %d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch e.Status {
	case http.StatusBadRequest:
		return target == apperrors.ErrValidation
	case http.StatusNotFound:
		return target == apperrors.ErrNotFound
	case http.StatusConflict:
		return target == apperrors.ErrConflict
	case http.StatusForbidden:
		return target == apperrors.ErrForbidden
	case http.StatusServiceUnavailable:
		return target == apperrors.ErrDependency
	}
	return false
}

type Client struct {
	BaseURL string
	// Token is sent as a bearer token when set.
	Token string
	HTTP  *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type CreateBookingRequest struct {
	RiderID         string       `json:"riderId,omitempty"`
	PickupLocation  models.Place `json:"pickupLocation"`
	DropoffLocation models.Place `json:"dropoffLocation"`
	Distance        string       `json:"distance,omitempty"`
	EstimatedTime   string       `json:"estimatedTime,omitempty"`
}

func (c *Client) CreateBooking(ctx context.Context, req CreateBookingRequest) (*models.Booking, error) {
	var b models.Booking
	if err := c.do(ctx, http.MethodPost, "/bookings", req, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) GetBooking(ctx context.Context, id string) (*booking.View, error) {
	var v booking.View
	if err := c.do(ctx, http.MethodGet, "/bookings/"+url.PathEscape(id), nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ListPending lists pending bookings, nearest to near first when it is set.
func (c *Client) ListPending(ctx context.Context, near *models.Coord, limit int) ([]booking.PendingItem, error) {
	q := url.Values{"status": {string(models.StatusPending)}}
	if near != nil {
		q.Set("lat", strconv.FormatFloat(near.Lat, 'f', -1, 64))
		q.Set("lon", strconv.FormatFloat(near.Lon, 'f', -1, 64))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var list []booking.PendingItem
	if err := c.do(ctx, http.MethodGet, "/bookings?"+q.Encode(), nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) Progress(ctx context.Context, id string) (*booking.Progress, error) {
	var p booking.Progress
	if err := c.do(ctx, http.MethodGet, "/bookings/"+url.PathEscape(id)+"/route", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) Accept(ctx context.Context, id, driverID string, loc models.Coord) (*models.Booking, error) {
	in := map[string]any{"driverLocation": loc}
	if driverID != "" {
		in["driverId"] = driverID
	}
	var b models.Booking
	if err := c.do(ctx, http.MethodPost, "/bookings/"+url.PathEscape(id)+"/accept", in, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) UpdateLocation(ctx context.Context, id string, loc models.Coord) (models.Coord, error) {
	var out struct {
		DriverLocation models.Coord `json:"driverLocation"`
	}
	if err := c.do(ctx, http.MethodPost, "/bookings/"+url.PathEscape(id)+"/location", loc, &out); err != nil {
		return models.Coord{}, err
	}
	return out.DriverLocation, nil
}

func (c *Client) MarkPickedUp(ctx context.Context, id string) (*models.Booking, error) {
	return c.transition(ctx, id, "pickup", nil)
}

func (c *Client) Complete(ctx context.Context, id string) (*models.Booking, error) {
	return c.transition(ctx, id, "complete", nil)
}

func (c *Client) Cancel(ctx context.Context, id string, by models.Actor) (*models.Booking, error) {
	return c.transition(ctx, id, "cancel", map[string]models.Actor{"cancelledBy": by})
}

func (c *Client) transition(ctx context.Context, id, action string, in any) (*models.Booking, error) {
	var b models.Booking
	if err := c.do(ctx, http.MethodPost, "/bookings/"+url.PathEscape(id)+"/"+action, in, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) SubmitRating(ctx context.Context, bookingID string, score int, review string) (*models.Rating, error) {
	in := map[string]any{"bookingId": bookingID, "rating": score}
	if review != "" {
		in["review"] = review
	}
	var r models.Rating
	if err := c.do(ctx, http.MethodPost, "/ratings", in, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) Notifications(ctx context.Context, userID string) ([]models.Notification, error) {
	var list []models.Notification
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/notifications", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// IsGone reports whether err means the booking can no longer be acted on.
func IsGone(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrConflict)
}
