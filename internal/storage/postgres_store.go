package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lib/pq"

	"github.com/example/sabayta-booking/internal/models"
)

// activeDriverIndex is the partial unique index that keeps one accepted
// booking per driver.
const activeDriverIndex = "bookings_one_accepted_per_driver"

const bookingColumns = `id, rider_id, driver_id,
	pickup_lat, pickup_lon, pickup_name, dropoff_lat, dropoff_lon, dropoff_name,
	distance, estimated_time, status, driver_lat, driver_lon, passenger_picked_up,
	cancelled_by, accepted_at, picked_up_at, completed_at, cancelled_at, created_at, updated_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate executes the SQL file at path.
func (p *PostgresStore) Migrate(ctx context.Context, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	return nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }
func (p *PostgresStore) Close() error                   { return p.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b                                        models.Booking
		driverID, cancelledBy                    sql.NullString
		driverLat, driverLon                     sql.NullFloat64
		acceptedAt, pickedUpAt, completedAt, cAt sql.NullTime
		status                                   string
	)
	err := row.Scan(&b.ID, &b.RiderID, &driverID,
		&b.Pickup.Lat, &b.Pickup.Lon, &b.Pickup.DisplayName,
		&b.Dropoff.Lat, &b.Dropoff.Lon, &b.Dropoff.DisplayName,
		&b.Distance, &b.EstimatedTime, &status, &driverLat, &driverLon, &b.PassengerPickedUp,
		&cancelledBy, &acceptedAt, &pickedUpAt, &completedAt, &cAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Status = models.Status(status)
	b.DriverID = driverID.String
	b.CancelledBy = models.Actor(cancelledBy.String)
	if driverLat.Valid && driverLon.Valid {
		b.DriverLocation = &models.Coord{Lat: driverLat.Float64, Lon: driverLon.Float64}
	}
	b.AcceptedAt = nullTime(acceptedAt)
	b.PickedUpAt = nullTime(pickedUpAt)
	b.CompletedAt = nullTime(completedAt)
	b.CancelledAt = nullTime(cAt)
	return &b, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (p *PostgresStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO bookings (id, rider_id, pickup_lat, pickup_lon, pickup_name,
		dropoff_lat, dropoff_lon, dropoff_name, distance, estimated_time, status, passenger_picked_up, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,false,$12,$13)`,
		b.ID, b.RiderID, b.Pickup.Lat, b.Pickup.Lon, b.Pickup.DisplayName,
		b.Dropoff.Lat, b.Dropoff.Lon, b.Dropoff.DisplayName, b.Distance, b.EstimatedTime,
		string(b.Status), b.CreatedAt, b.UpdatedAt)
	if isUniqueViolation(err, "") {
		return ErrDuplicate
	}
	return err
}

func (p *PostgresStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	b, err := scanBooking(p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

func (p *PostgresStore) ListBookings(ctx context.Context, status models.Status, limit int) ([]*models.Booking, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE status = $1 ORDER BY created_at ASC, id ASC LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ActiveBookingForDriver(ctx context.Context, driverID string) (*models.Booking, error) {
	b, err := scanBooking(p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE driver_id = $1 AND status = 'accepted' LIMIT 1`, driverID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

// conditional runs an UPDATE ... RETURNING and classifies an empty result.
func (p *PostgresStore) conditional(ctx context.Context, id, query string, args ...any) (*models.Booking, error) {
	b, err := scanBooking(p.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if _, gerr := p.GetBooking(ctx, id); gerr != nil {
		return nil, gerr
	}
	return nil, ErrPrecondition
}

func (p *PostgresStore) AcceptBooking(ctx context.Context, id, driverID string, loc models.Coord, at time.Time) (*models.Booking, error) {
	b, err := p.conditional(ctx, id, `UPDATE bookings
		SET status = 'accepted', driver_id = $2, driver_lat = $3, driver_lon = $4, accepted_at = $5, updated_at = $5
		WHERE id = $1 AND status = 'pending'
		RETURNING `+bookingColumns, id, driverID, loc.Lat, loc.Lon, at)
	if isUniqueViolation(err, activeDriverIndex) {
		return nil, ErrDriverBusy
	}
	return b, err
}

func (p *PostgresStore) UpdateDriverLocation(ctx context.Context, id string, loc models.Coord, at time.Time) (*models.Booking, error) {
	return p.conditional(ctx, id, `UPDATE bookings
		SET driver_lat = $2, driver_lon = $3, updated_at = $4
		WHERE id = $1 AND status = 'accepted'
		RETURNING `+bookingColumns, id, loc.Lat, loc.Lon, at)
}

func (p *PostgresStore) MarkPickedUp(ctx context.Context, id string, at time.Time) (*models.Booking, bool, error) {
	b, err := p.conditional(ctx, id, `UPDATE bookings
		SET passenger_picked_up = true, picked_up_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'accepted' AND NOT passenger_picked_up
		RETURNING `+bookingColumns, id, at)
	if err == nil {
		return b, true, nil
	}
	if !errors.Is(err, ErrPrecondition) {
		return nil, false, err
	}
	cur, gerr := p.GetBooking(ctx, id)
	if gerr != nil {
		return nil, false, gerr
	}
	if cur.Status == models.StatusAccepted && cur.PassengerPickedUp {
		return cur, false, nil
	}
	return nil, false, ErrPrecondition
}

func (p *PostgresStore) CompleteBooking(ctx context.Context, id string, at time.Time) (*models.Booking, error) {
	return p.conditional(ctx, id, `UPDATE bookings
		SET status = 'completed', completed_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'accepted'
		RETURNING `+bookingColumns, id, at)
}

func (p *PostgresStore) CancelBooking(ctx context.Context, id string, from []models.Status, by models.Actor, at time.Time) (*models.Booking, error) {
	return p.conditional(ctx, id, `UPDATE bookings
		SET status = 'cancelled', cancelled_by = $3, cancelled_at = $4, updated_at = $4
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+bookingColumns, id, pq.Array(statusStrings(from)), string(by), at)
}

func (p *PostgresStore) CreateRating(ctx context.Context, r *models.Rating) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO ratings (id, booking_id, driver_id, rider_id, rating, review, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		r.ID, r.BookingID, r.DriverID, r.RiderID, r.Rating, nullString(r.Review), r.CreatedAt)
	if isUniqueViolation(err, "") {
		return ErrDuplicate
	}
	return err
}

func (p *PostgresStore) GetRatingByBooking(ctx context.Context, bookingID string) (*models.Rating, error) {
	var (
		r      models.Rating
		review sql.NullString
	)
	err := p.db.QueryRowContext(ctx, `SELECT id, booking_id, driver_id, rider_id, rating, review, created_at
		FROM ratings WHERE booking_id = $1`, bookingID).
		Scan(&r.ID, &r.BookingID, &r.DriverID, &r.RiderID, &r.Rating, &review, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Review = review.String
	return &r, nil
}

func (p *PostgresStore) DriverRatingSummary(ctx context.Context, driverID string) (models.RatingSummary, error) {
	sum := models.RatingSummary{DriverID: driverID}
	err := p.db.QueryRowContext(ctx, `SELECT COALESCE(AVG(rating), 0), COUNT(*) FROM ratings WHERE driver_id = $1`, driverID).
		Scan(&sum.Average, &sum.Count)
	return sum, err
}

func (p *PostgresStore) SaveNotification(ctx context.Context, n *models.Notification) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO notifications (id, user_id, type, title, message, booking_id, read, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message, nullString(n.BookingID), n.Read, n.CreatedAt)
	return err
}

func (p *PostgresStore) ListNotifications(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id, user_id, type, title, message, booking_id, read, created_at
		FROM notifications WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.Notification, 0)
	for rows.Next() {
		var (
			n         models.Notification
			typ       string
			bookingID sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &bookingID, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Type = models.NotificationType(typ)
		n.BookingID = bookingID.String
		out = append(out, &n)
	}
	return out, rows.Err()
}

// isUniqueViolation reports a 23505 error, optionally on a named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
