package payment

import (
	"context"

	"medibook/events"
	"medibook/models"

	"go.uber.org/zap"
)

// Listener turns payment.requested events into gateway payment links. The
// outcome arrives later through the webhook, never synchronously here.
type Listener struct {
	Gateway  Gateway
	Bus      events.Bus
	Currency string
	Logger   *zap.Logger
}

// Register subscribes the listener on the bus.
func (l *Listener) Register() {
	l.Bus.Subscribe(events.TypePaymentRequested, l.handlePaymentRequested)
}

func (l *Listener) handlePaymentRequested(ctx context.Context, env events.Envelope) error {
	var req events.PaymentRequestedPayload
	if err := env.Decode(&req); err != nil {
		l.Logger.Warn("dropping malformed payment request", zap.String("eventId", env.EventID), zap.Error(err))
		return nil
	}

	// Re-requesting a link (saga recovery, duplicate delivery) just refreshes
	// the record; the gateway keys everything by booking.
	pay, err := l.Gateway.CreateLink(ctx, models.PaymentRequest{
		BookingID:     req.BookingID,
		PatientID:     req.PatientID,
		CorrelationID: env.CorrelationID,
		Amount:        req.Price,
		Currency:      l.Currency,
		Description:   req.Description,
	})
	if err != nil {
		return err
	}
	l.Logger.Info("payment link ready",
		zap.String("bookingId", req.BookingID), zap.String("url", pay.LinkURL))
	return nil
}
