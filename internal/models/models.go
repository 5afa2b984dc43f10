package models

import "time"

// Coord is the canonical coordinate shape accepted at every boundary.
type Coord struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lon float64 `json:"lon" bson:"lon"`
}

// Place is a named coordinate used for pickup and dropoff.
type Place struct {
	Lat         float64 `json:"lat" bson:"lat"`
	Lon         float64 `json:"lon" bson:"lon"`
	DisplayName string  `json:"displayName" bson:"displayName"`
}

func (p Place) Coord() Coord { return Coord{Lat: p.Lat, Lon: p.Lon} }

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition is defined out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Actor string

const (
	ActorRider  Actor = "rider"
	ActorDriver Actor = "driver"
	ActorSystem Actor = "system"
)

type Booking struct {
	ID                string     `json:"id" bson:"_id"`
	RiderID           string     `json:"riderId" bson:"riderId"`
	DriverID          string     `json:"driverId,omitempty" bson:"driverId,omitempty"`
	Pickup            Place      `json:"pickupLocation" bson:"pickupLocation"`
	Dropoff           Place      `json:"dropoffLocation" bson:"dropoffLocation"`
	Distance          string     `json:"distance" bson:"distance"`
	EstimatedTime     string     `json:"estimatedTime" bson:"estimatedTime"`
	Status            Status     `json:"status" bson:"status"`
	DriverLocation    *Coord     `json:"driverLocation,omitempty" bson:"driverLocation,omitempty"`
	PassengerPickedUp bool       `json:"passengerPickedUp" bson:"passengerPickedUp"`
	CancelledBy       Actor      `json:"cancelledBy,omitempty" bson:"cancelledBy,omitempty"`
	AcceptedAt        *time.Time `json:"acceptedAt,omitempty" bson:"acceptedAt,omitempty"`
	PickedUpAt        *time.Time `json:"pickedUpAt,omitempty" bson:"pickedUpAt,omitempty"`
	CompletedAt       *time.Time `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
	CancelledAt       *time.Time `json:"cancelledAt,omitempty" bson:"cancelledAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt" bson:"updatedAt"`
}

// Clone returns a deep copy so callers never share pointer fields with a store.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	out := *b
	if b.DriverLocation != nil {
		loc := *b.DriverLocation
		out.DriverLocation = &loc
	}
	out.AcceptedAt = cloneTime(b.AcceptedAt)
	out.PickedUpAt = cloneTime(b.PickedUpAt)
	out.CompletedAt = cloneTime(b.CompletedAt)
	out.CancelledAt = cloneTime(b.CancelledAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

type NotificationType string

const (
	NotifyBookingCreated   NotificationType = "booking_created"
	NotifyBookingAccepted  NotificationType = "booking_accepted"
	NotifyBookingPickedUp  NotificationType = "booking_picked_up"
	NotifyBookingCompleted NotificationType = "booking_completed"
	NotifyBookingCancelled NotificationType = "booking_cancelled"
	NotifyBookingExpired   NotificationType = "booking_expired"
)

type Notification struct {
	ID        string           `json:"id" bson:"_id"`
	UserID    string           `json:"userId" bson:"userId"`
	Type      NotificationType `json:"type" bson:"type"`
	Title     string           `json:"title" bson:"title"`
	Message   string           `json:"message" bson:"message"`
	BookingID string           `json:"bookingId,omitempty" bson:"bookingId,omitempty"`
	Read      bool             `json:"read" bson:"read"`
	CreatedAt time.Time        `json:"createdAt" bson:"createdAt"`
}

type Rating struct {
	ID        string    `json:"id" bson:"_id"`
	DriverID  string    `json:"driverId" bson:"driverId"`
	RiderID   string    `json:"riderId" bson:"riderId"`
	BookingID string    `json:"bookingId" bson:"bookingId"`
	Rating    int       `json:"rating" bson:"rating"`
	Review    string    `json:"review,omitempty" bson:"review,omitempty"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// RatingSummary aggregates all ratings of one driver.
type RatingSummary struct {
	DriverID string  `json:"driverId"`
	Average  float64 `json:"average"`
	Count    int     `json:"count"`
}

// Route is a drivable path between two coordinates.
type Route struct {
	Polyline        []Coord `json:"polyline"`
	DistanceMeters  float64 `json:"distanceMeters"`
	DurationSeconds float64 `json:"durationSeconds"`
	Degraded        bool    `json:"degraded"`
}
