package models

import "time"

// PaymentRequest is what the saga hands to the payment gateway when it asks
// for a payment link.
type PaymentRequest struct {
	BookingID     string
	PatientID     string
	CorrelationID string
	Amount        float64
	Currency      string
	Description   string
}

// Payment tracks the external payment attached to a booking. The provider
// ids (SessionID, TransactionID) come from the gateway and are opaque here.
type Payment struct {
	ID            string    `bson:"id" json:"id"`
	BookingID     string    `bson:"booking_id" json:"bookingId"`
	Amount        float64   `bson:"amount" json:"amount"`
	Currency      string    `bson:"currency" json:"currency"`
	LinkURL       string    `bson:"link_url" json:"linkUrl"`
	SessionID     string    `bson:"session_id,omitempty" json:"sessionId,omitempty"`
	TransactionID string    `bson:"transaction_id,omitempty" json:"transactionId,omitempty"`
	Status        string    `bson:"status" json:"status"` // "pending", "paid", "failed", "refunded"
	CreatedAt     time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updatedAt"`
}
