package storage

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/example/sabayta-booking/internal/models"
)

// MongoStore keeps bookings, ratings and notifications as documents. Each
// transition is one FindOneAndUpdate whose filter carries the status
// precondition.
type MongoStore struct {
	client        *mongo.Client
	bookings      *mongo.Collection
	ratings       *mongo.Collection
	notifications *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	db := client.Database(database)
	s := &MongoStore{
		client:        client,
		bookings:      db.Collection("bookings"),
		ratings:       db.Collection("ratings"),
		notifications: db.Collection("notifications"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.bookings.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}},
		{
			Keys: bson.D{{Key: "driverId", Value: 1}},
			Options: options.Index().
				SetName(activeDriverIndex).
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": string(models.StatusAccepted)}),
		},
	})
	if err != nil {
		return err
	}
	_, err = s.ratings.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "bookingId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "driverId", Value: 1}}},
	})
	if err != nil {
		return err
	}
	_, err = s.notifications.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	return err
}

func (s *MongoStore) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	_, err := s.bookings.InsertOne(ctx, b)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

func (s *MongoStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	err := s.bookings.FindOne(ctx, bson.M{"_id": id}).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *MongoStore) ListBookings(ctx context.Context, status models.Status, limit int) ([]*models.Booking, error) {
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	cur, err := s.bookings.Find(ctx, bson.M{"status": string(status)}, opts)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Booking, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) ActiveBookingForDriver(ctx context.Context, driverID string) (*models.Booking, error) {
	var b models.Booking
	err := s.bookings.FindOne(ctx, bson.M{"driverId": driverID, "status": string(models.StatusAccepted)}).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *MongoStore) conditional(ctx context.Context, id string, filter bson.M, update bson.M) (*models.Booking, error) {
	filter["_id"] = id
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var b models.Booking
	err := s.bookings.FindOneAndUpdate(ctx, filter, update, opts).Decode(&b)
	if err == nil {
		return &b, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}
	if _, gerr := s.GetBooking(ctx, id); gerr != nil {
		return nil, gerr
	}
	return nil, ErrPrecondition
}

func (s *MongoStore) AcceptBooking(ctx context.Context, id, driverID string, loc models.Coord, at time.Time) (*models.Booking, error) {
	b, err := s.conditional(ctx, id,
		bson.M{"status": string(models.StatusPending)},
		bson.M{"$set": bson.M{
			"status":         string(models.StatusAccepted),
			"driverId":       driverID,
			"driverLocation": loc,
			"acceptedAt":     at,
			"updatedAt":      at,
		}})
	if mongo.IsDuplicateKeyError(err) {
		return nil, ErrDriverBusy
	}
	return b, err
}

func (s *MongoStore) UpdateDriverLocation(ctx context.Context, id string, loc models.Coord, at time.Time) (*models.Booking, error) {
	return s.conditional(ctx, id,
		bson.M{"status": string(models.StatusAccepted)},
		bson.M{"$set": bson.M{"driverLocation": loc, "updatedAt": at}})
}

func (s *MongoStore) MarkPickedUp(ctx context.Context, id string, at time.Time) (*models.Booking, bool, error) {
	b, err := s.conditional(ctx, id,
		bson.M{"status": string(models.StatusAccepted), "passengerPickedUp": false},
		bson.M{"$set": bson.M{"passengerPickedUp": true, "pickedUpAt": at, "updatedAt": at}})
	if err == nil {
		return b, true, nil
	}
	if !errors.Is(err, ErrPrecondition) {
		return nil, false, err
	}
	cur, gerr := s.GetBooking(ctx, id)
	if gerr != nil {
		return nil, false, gerr
	}
	if cur.Status == models.StatusAccepted && cur.PassengerPickedUp {
		return cur, false, nil
	}
	return nil, false, ErrPrecondition
}

func (s *MongoStore) CompleteBooking(ctx context.Context, id string, at time.Time) (*models.Booking, error) {
	return s.conditional(ctx, id,
		bson.M{"status": string(models.StatusAccepted)},
		bson.M{"$set": bson.M{"status": string(models.StatusCompleted), "completedAt": at, "updatedAt": at}})
}

func (s *MongoStore) CancelBooking(ctx context.Context, id string, from []models.Status, by models.Actor, at time.Time) (*models.Booking, error) {
	return s.conditional(ctx, id,
		bson.M{"status": bson.M{"$in": statusStrings(from)}},
		bson.M{"$set": bson.M{
			"status":      string(models.StatusCancelled),
			"cancelledBy": string(by),
			"cancelledAt": at,
			"updatedAt":   at,
		}})
}

func (s *MongoStore) CreateRating(ctx context.Context, r *models.Rating) error {
	_, err := s.ratings.InsertOne(ctx, r)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

func (s *MongoStore) GetRatingByBooking(ctx context.Context, bookingID string) (*models.Rating, error) {
	var r models.Rating
	err := s.ratings.FindOne(ctx, bson.M{"bookingId": bookingID}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *MongoStore) DriverRatingSummary(ctx context.Context, driverID string) (models.RatingSummary, error) {
	sum := models.RatingSummary{DriverID: driverID}
	cur, err := s.ratings.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"driverId": driverID}}},
		{{Key: "$group", Value: bson.M{
			"_id":     "$driverId",
			"average": bson.M{"$avg": "$rating"},
			"count":   bson.M{"$sum": 1},
		}}},
	})
	if err != nil {
		return sum, err
	}
	var rows []struct {
		Average float64 `bson:"average"`
		Count   int     `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return sum, err
	}
	if len(rows) > 0 {
		sum.Average = rows[0].Average
		sum.Count = rows[0].Count
	}
	return sum, nil
}

func (s *MongoStore) SaveNotification(ctx context.Context, n *models.Notification) error {
	_, err := s.notifications.InsertOne(ctx, n)
	return err
}

func (s *MongoStore) ListNotifications(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(int64(limit))
	cur, err := s.notifications.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Notification, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
