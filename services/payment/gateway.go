package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"medibook/config"
	"medibook/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/refund"
	"go.uber.org/zap"
)

// ErrNoPayment means no payment link is on file for the booking.
var ErrNoPayment = errors.New("no payment on file for booking")

// Gateway is the payment collaborator capability: create a payment link for a
// booking, reverse a captured payment, expire an open link.
type Gateway interface {
	CreateLink(ctx context.Context, req models.PaymentRequest) (*models.Payment, error)
	Refund(ctx context.Context, bookingID, paymentID, reason string) error
	VoidLink(ctx context.Context, bookingID string) error
	PaymentForBooking(ctx context.Context, bookingID string) (*models.Payment, error)
}

// StripeGateway implements Gateway with Stripe checkout sessions. Payment
// records are kept in Redis keyed by booking so the webhook and the query
// surface can find them.
type StripeGateway struct {
	Cache  *redis.Client
	Logger *zap.Logger
}

func NewStripeGateway(cache *redis.Client, logger *zap.Logger) *StripeGateway {
	return &StripeGateway{Cache: cache, Logger: logger}
}

const paymentKeyTTL = 24 * time.Hour

func paymentKey(bookingID string) string {
	return "payment:booking:" + bookingID
}

func (g *StripeGateway) CreateLink(ctx context.Context, req models.PaymentRequest) (*models.Payment, error) {
	currency := req.Currency
	if currency == "" {
		currency = "usd"
	}
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(config.AppConfig.PaymentSuccessURL),
		CancelURL:  stripe.String(config.AppConfig.PaymentCancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(int64(req.Amount * 100)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.AddMetadata("booking_id", req.BookingID)
	params.AddMetadata("correlation_id", req.CorrelationID)

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	now := time.Now()
	pay := &models.Payment{
		ID:        uuid.New().String(),
		BookingID: req.BookingID,
		Amount:    req.Amount,
		Currency:  currency,
		LinkURL:   sess.URL,
		SessionID: sess.ID,
		Status:    "pending",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := g.store(ctx, pay); err != nil {
		return nil, err
	}
	g.Logger.Info("payment link created",
		zap.String("bookingId", req.BookingID), zap.String("sessionId", sess.ID))
	return pay, nil
}

func (g *StripeGateway) Refund(ctx context.Context, bookingID, paymentID, reason string) error {
	if _, err := refund.New(&stripe.RefundParams{
		PaymentIntent: stripe.String(paymentID),
	}); err != nil {
		return fmt.Errorf("refund payment %s: %w", paymentID, err)
	}
	if pay, err := g.PaymentForBooking(ctx, bookingID); err == nil {
		pay.Status = "refunded"
		pay.UpdatedAt = time.Now()
		_ = g.store(ctx, pay)
	}
	g.Logger.Info("payment refunded",
		zap.String("bookingId", bookingID),
		zap.String("paymentId", paymentID),
		zap.String("reason", reason))
	return nil
}

func (g *StripeGateway) VoidLink(ctx context.Context, bookingID string) error {
	pay, err := g.PaymentForBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if pay.Status != "pending" {
		return nil
	}
	if _, err := session.Expire(pay.SessionID, &stripe.CheckoutSessionExpireParams{}); err != nil {
		return fmt.Errorf("expire checkout session %s: %w", pay.SessionID, err)
	}
	pay.Status = "failed"
	pay.UpdatedAt = time.Now()
	return g.store(ctx, pay)
}

func (g *StripeGateway) PaymentForBooking(ctx context.Context, bookingID string) (*models.Payment, error) {
	data, err := g.Cache.Get(ctx, paymentKey(bookingID)).Result()
	if err == redis.Nil {
		return nil, ErrNoPayment
	}
	if err != nil {
		return nil, fmt.Errorf("load payment for booking %s: %w", bookingID, err)
	}
	var pay models.Payment
	if err := json.Unmarshal([]byte(data), &pay); err != nil {
		return nil, fmt.Errorf("parse payment for booking %s: %w", bookingID, err)
	}
	return &pay, nil
}

func (g *StripeGateway) store(ctx context.Context, pay *models.Payment) error {
	b, err := json.Marshal(pay)
	if err != nil {
		return fmt.Errorf("marshal payment: %w", err)
	}
	if err := g.Cache.Set(ctx, paymentKey(pay.BookingID), b, paymentKeyTTL).Err(); err != nil {
		return fmt.Errorf("store payment: %w", err)
	}
	return nil
}
