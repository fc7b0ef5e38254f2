package bookingRepo

import (
	"context"
	"fmt"

	"medibook/database"
	"medibook/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoBookingRepo struct {
	coll *mongo.Collection
}

func NewMongoBookingRepo() *MongoBookingRepo {
	return &MongoBookingRepo{coll: database.Collection("bookings")}
}

func (r *MongoBookingRepo) Create(ctx context.Context, booking *models.Booking) error {
	if _, err := r.coll.InsertOne(ctx, booking); err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (r *MongoBookingRepo) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	err := r.coll.FindOne(ctx, bson.M{"id": id}).Decode(&b)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking %s: %w", id, err)
	}
	return &b, nil
}

func (r *MongoBookingRepo) Update(ctx context.Context, booking *models.Booking) error {
	res, err := r.coll.ReplaceOne(ctx, bson.M{"id": booking.ID}, booking)
	if err != nil {
		return fmt.Errorf("update booking %s: %w", booking.ID, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoBookingRepo) ListByPatient(ctx context.Context, patientID string) ([]models.Booking, error) {
	return r.list(ctx, bson.M{"patient_id": patientID})
}

func (r *MongoBookingRepo) ListByClinic(ctx context.Context, clinicID string) ([]models.Booking, error) {
	return r.list(ctx, bson.M{"clinic_id": clinicID})
}

func (r *MongoBookingRepo) list(ctx context.Context, filter bson.M) ([]models.Booking, error) {
	opts := options.Find().SetSort(bson.M{"created_at": -1})
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer cursor.Close(ctx)

	var bookings []models.Booking
	if err := cursor.All(ctx, &bookings); err != nil {
		return nil, fmt.Errorf("decode bookings: %w", err)
	}
	return bookings, nil
}
