package models

import "time"

// Catalog entities are read-only lookups in this service. They are owned by
// the clinic administration system and consumed here for validation and
// display only.

type Clinic struct {
	ID        string    `bson:"id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	Address   string    `bson:"address" json:"address"`
	Phone     string    `bson:"phone,omitempty" json:"phone,omitempty"`
	Active    bool      `bson:"active" json:"active"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

type Doctor struct {
	ID        string    `bson:"id" json:"id"`
	ClinicID  string    `bson:"clinic_id" json:"clinicId"`
	FullName  string    `bson:"full_name" json:"fullName"`
	Title     string    `bson:"title,omitempty" json:"title,omitempty"`
	Specialty string    `bson:"specialty" json:"specialty"`
	Active    bool      `bson:"active" json:"active"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

type CheckupPackage struct {
	ID          string    `bson:"id" json:"id"`
	ClinicID    string    `bson:"clinic_id" json:"clinicId"`
	Name        string    `bson:"name" json:"name"`
	Description string    `bson:"description,omitempty" json:"description,omitempty"`
	Price       float64   `bson:"price" json:"price"`
	Currency    string    `bson:"currency" json:"currency"`
	Active      bool      `bson:"active" json:"active"`
	CreatedAt   time.Time `bson:"created_at" json:"createdAt"`
}
