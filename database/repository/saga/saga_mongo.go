package sagaRepo

import (
	"context"
	"fmt"

	"medibook/database"
	"medibook/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoSagaRepo persists saga state and booking in one Mongo session
// transaction per write.
type MongoSagaRepo struct {
	sagaColl    *mongo.Collection
	bookingColl *mongo.Collection
}

func NewMongoSagaRepo() *MongoSagaRepo {
	return &MongoSagaRepo{
		sagaColl:    database.Collection("booking_sagas"),
		bookingColl: database.Collection("bookings"),
	}
}

func (r *MongoSagaRepo) CreateWithBooking(ctx context.Context, saga *models.BookingSagaState, booking *models.Booking) error {
	return r.inTransaction(ctx, func(sc mongo.SessionContext) error {
		if _, err := r.bookingColl.InsertOne(sc, booking); err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}
		if _, err := r.sagaColl.InsertOne(sc, saga); err != nil {
			return fmt.Errorf("insert saga state: %w", err)
		}
		return nil
	})
}

func (r *MongoSagaRepo) Get(ctx context.Context, bookingID string) (*models.BookingSagaState, error) {
	var saga models.BookingSagaState
	err := r.sagaColl.FindOne(ctx, bson.M{"booking_id": bookingID}).Decode(&saga)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get saga for booking %s: %w", bookingID, err)
	}
	return &saga, nil
}

func (r *MongoSagaRepo) UpdateWithBooking(ctx context.Context, saga *models.BookingSagaState, booking *models.Booking, from models.BookingStatus) error {
	return r.inTransaction(ctx, func(sc mongo.SessionContext) error {
		res, err := r.sagaColl.ReplaceOne(sc, bson.M{"booking_id": saga.BookingID, "status": from}, saga)
		if err != nil {
			return fmt.Errorf("update saga state: %w", err)
		}
		if res.MatchedCount == 0 {
			// Distinguish a missing run from one another writer moved first.
			if ferr := r.sagaColl.FindOne(sc, bson.M{"booking_id": saga.BookingID}).Err(); ferr == mongo.ErrNoDocuments {
				return ErrNotFound
			}
			return ErrStaleState
		}
		bres, err := r.bookingColl.ReplaceOne(sc, bson.M{"id": booking.ID}, booking)
		if err != nil {
			return fmt.Errorf("update booking: %w", err)
		}
		if bres.MatchedCount == 0 {
			return fmt.Errorf("booking %s missing during saga update", booking.ID)
		}
		return nil
	})
}

func (r *MongoSagaRepo) ListNonTerminal(ctx context.Context) ([]models.BookingSagaState, error) {
	filter := bson.M{"step": bson.M{"$nin": bson.A{models.StepCompleted, models.StepCompensated}}}
	cursor, err := r.sagaColl.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list non-terminal sagas: %w", err)
	}
	defer cursor.Close(ctx)

	var sagas []models.BookingSagaState
	if err := cursor.All(ctx, &sagas); err != nil {
		return nil, fmt.Errorf("decode sagas: %w", err)
	}
	return sagas, nil
}

func (r *MongoSagaRepo) inTransaction(ctx context.Context, fn func(mongo.SessionContext) error) error {
	client := r.sagaColl.Database().Client()
	sess, err := client.StartSession()
	if err != nil {
		return fmt.Errorf("could not start mongo session: %w", err)
	}
	defer sess.EndSession(ctx)

	if err := mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sc.StartTransaction(); err != nil {
			return err
		}
		if err := fn(sc); err != nil {
			_ = sc.AbortTransaction(sc)
			return err
		}
		return sc.CommitTransaction(sc)
	}); err != nil {
		return fmt.Errorf("saga transaction failed: %w", err)
	}
	return nil
}
