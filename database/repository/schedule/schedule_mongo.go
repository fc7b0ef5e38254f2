package scheduleRepo

import (
	"context"
	"fmt"
	"time"

	"medibook/database"
	"medibook/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func optionsWithLimit(limit int) []*options.FindOptions {
	if limit <= 0 {
		return nil
	}
	return []*options.FindOptions{options.Find().SetLimit(int64(limit))}
}

// MongoScheduleRepo implements Repository on MongoDB. Capacity mutations are
// single conditional UpdateOne calls so the check-and-increment is atomic at
// the document level; no read-then-write window exists.
type MongoScheduleRepo struct {
	scheduleColl *mongo.Collection
	holdColl     *mongo.Collection
}

func NewMongoScheduleRepo() *MongoScheduleRepo {
	return &MongoScheduleRepo{
		scheduleColl: database.Collection("package_schedules"),
		holdColl:     database.Collection("schedule_holds"),
	}
}

func (r *MongoScheduleRepo) GetSchedule(ctx context.Context, id string) (*models.PackageSchedule, error) {
	var sched models.PackageSchedule
	err := r.scheduleColl.FindOne(ctx, bson.M{"id": id, "deleted": false}).Decode(&sched)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule %s: %w", id, err)
	}
	return &sched, nil
}

func (r *MongoScheduleRepo) ListSchedules(ctx context.Context, clinicID string) ([]models.PackageSchedule, error) {
	filter := bson.M{"deleted": false}
	if clinicID != "" {
		filter["clinic_id"] = clinicID
	}
	cursor, err := r.scheduleColl.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer cursor.Close(ctx)

	var scheds []models.PackageSchedule
	if err := cursor.All(ctx, &scheds); err != nil {
		return nil, fmt.Errorf("decode schedules: %w", err)
	}
	return scheds, nil
}

func (r *MongoScheduleRepo) ReserveCapacity(ctx context.Context, scheduleID string) error {
	filter := bson.M{
		"id":      scheduleID,
		"deleted": false,
		"$expr": bson.M{
			"$lt": bson.A{"$booked_count", bson.M{"$add": bson.A{"$capacity", "$overbook_limit"}}},
		},
	}
	update := bson.M{
		"$inc": bson.M{"booked_count": 1, "version": 1},
		"$set": bson.M{"updated_at": time.Now()},
	}
	res, err := r.scheduleColl.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("reserve capacity on %s: %w", scheduleID, err)
	}
	if res.MatchedCount == 0 {
		// Either the schedule is gone or the capacity guard failed.
		if _, gerr := r.GetSchedule(ctx, scheduleID); gerr != nil {
			return gerr
		}
		return ErrNoCapacity
	}
	return nil
}

func (r *MongoScheduleRepo) ReleaseCapacity(ctx context.Context, scheduleID string) error {
	filter := bson.M{
		"id":           scheduleID,
		"booked_count": bson.M{"$gt": 0},
	}
	update := bson.M{
		"$inc": bson.M{"booked_count": -1, "version": 1},
		"$set": bson.M{"updated_at": time.Now()},
	}
	res, err := r.scheduleColl.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("release capacity on %s: %w", scheduleID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("release capacity on %s: ledger already at zero", scheduleID)
	}
	return nil
}

func (r *MongoScheduleRepo) CreateHold(ctx context.Context, hold *models.ScheduleHold) error {
	if _, err := r.holdColl.InsertOne(ctx, hold); err != nil {
		return fmt.Errorf("insert hold: %w", err)
	}
	return nil
}

func (r *MongoScheduleRepo) GetHold(ctx context.Context, holdID string) (*models.ScheduleHold, error) {
	var hold models.ScheduleHold
	err := r.holdColl.FindOne(ctx, bson.M{"id": holdID}).Decode(&hold)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get hold %s: %w", holdID, err)
	}
	return &hold, nil
}

func (r *MongoScheduleRepo) TransitionHold(ctx context.Context, holdID string, from, to models.HoldStatus, now time.Time) (bool, error) {
	res, err := r.holdColl.UpdateOne(ctx,
		bson.M{"id": holdID, "status": from},
		bson.M{"$set": bson.M{"status": to, "updated_at": now}},
	)
	if err != nil {
		return false, fmt.Errorf("transition hold %s %s->%s: %w", holdID, from, to, err)
	}
	return res.MatchedCount == 1, nil
}

func (r *MongoScheduleRepo) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.ScheduleHold, error) {
	filter := bson.M{
		"status":    models.HoldHeld,
		"expire_at": bson.M{"$lt": now},
	}
	opts := optionsWithLimit(limit)
	cursor, err := r.holdColl.Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("list expired holds: %w", err)
	}
	defer cursor.Close(ctx)

	var holds []models.ScheduleHold
	if err := cursor.All(ctx, &holds); err != nil {
		return nil, fmt.Errorf("decode expired holds: %w", err)
	}
	return holds, nil
}

func (r *MongoScheduleRepo) SyncBookedCount(ctx context.Context, scheduleID string, count int) error {
	res, err := r.scheduleColl.UpdateOne(ctx,
		bson.M{"id": scheduleID},
		bson.M{
			"$set": bson.M{"booked_count": count, "updated_at": time.Now()},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return fmt.Errorf("sync booked count on %s: %w", scheduleID, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoScheduleRepo) CountLiveHolds(ctx context.Context, scheduleID string) (int, error) {
	n, err := r.holdColl.CountDocuments(ctx, bson.M{
		"schedule_id": scheduleID,
		"status":      bson.M{"$in": bson.A{models.HoldHeld, models.HoldConfirmed}},
	})
	if err != nil {
		return 0, fmt.Errorf("count live holds for %s: %w", scheduleID, err)
	}
	return int(n), nil
}
