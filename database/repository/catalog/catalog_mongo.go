package catalogRepo

import (
	"context"
	"fmt"

	"medibook/database"
	"medibook/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type MongoCatalogRepo struct {
	clinicColl  *mongo.Collection
	doctorColl  *mongo.Collection
	packageColl *mongo.Collection
}

func NewMongoCatalogRepo() *MongoCatalogRepo {
	return &MongoCatalogRepo{
		clinicColl:  database.Collection("clinics"),
		doctorColl:  database.Collection("doctors"),
		packageColl: database.Collection("checkup_packages"),
	}
}

func (r *MongoCatalogRepo) GetClinic(ctx context.Context, id string) (*models.Clinic, error) {
	var clinic models.Clinic
	err := r.clinicColl.FindOne(ctx, bson.M{"id": id, "active": true}).Decode(&clinic)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get clinic %s: %w", id, err)
	}
	return &clinic, nil
}

func (r *MongoCatalogRepo) ListClinics(ctx context.Context) ([]models.Clinic, error) {
	cursor, err := r.clinicColl.Find(ctx, bson.M{"active": true})
	if err != nil {
		return nil, fmt.Errorf("list clinics: %w", err)
	}
	defer cursor.Close(ctx)

	var clinics []models.Clinic
	if err := cursor.All(ctx, &clinics); err != nil {
		return nil, fmt.Errorf("decode clinics: %w", err)
	}
	return clinics, nil
}

func (r *MongoCatalogRepo) GetDoctor(ctx context.Context, id string) (*models.Doctor, error) {
	var doctor models.Doctor
	err := r.doctorColl.FindOne(ctx, bson.M{"id": id, "active": true}).Decode(&doctor)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get doctor %s: %w", id, err)
	}
	return &doctor, nil
}

func (r *MongoCatalogRepo) GetPackage(ctx context.Context, id string) (*models.CheckupPackage, error) {
	var pkg models.CheckupPackage
	err := r.packageColl.FindOne(ctx, bson.M{"id": id, "active": true}).Decode(&pkg)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get package %s: %w", id, err)
	}
	return &pkg, nil
}

func (r *MongoCatalogRepo) ListPackages(ctx context.Context, clinicID string) ([]models.CheckupPackage, error) {
	filter := bson.M{"active": true}
	if clinicID != "" {
		filter["clinic_id"] = clinicID
	}
	cursor, err := r.packageColl.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer cursor.Close(ctx)

	var pkgs []models.CheckupPackage
	if err := cursor.All(ctx, &pkgs); err != nil {
		return nil, fmt.Errorf("decode packages: %w", err)
	}
	return pkgs, nil
}
