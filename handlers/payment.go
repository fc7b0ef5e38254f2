package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"medibook/config"
	"medibook/events"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

const webhookMaxBody = 65536

// PaymentWebhookHandler translates verified gateway callbacks into payment
// events on the bus. The saga never talks to the gateway's callback format;
// this is the only place that knows it.
type PaymentWebhookHandler struct {
	Bus    events.Bus
	Logger *zap.Logger
}

func NewPaymentWebhookHandler(bus events.Bus, logger *zap.Logger) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{Bus: bus, Logger: logger}
}

func (h *PaymentWebhookHandler) Handle(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, webhookMaxBody)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read request body"})
		return
	}

	event, err := webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), config.AppConfig.StripeWebhookSecret)
	if err != nil {
		h.Logger.Warn("rejecting webhook with bad signature", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		h.forward(c, event, true)
	case "checkout.session.expired", "checkout.session.async_payment_failed":
		h.forward(c, event, false)
	default:
		// Not ours; acknowledge so the gateway stops retrying.
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

// forward publishes payment.succeeded or payment.failed for the booking named
// in the session metadata. The correlation id stamped at link-creation time
// rides along so the saga can reject stale runs.
func (h *PaymentWebhookHandler) forward(c *gin.Context, event stripe.Event, succeeded bool) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		h.Logger.Error("could not parse checkout session from webhook", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event payload"})
		return
	}

	bookingID := sess.Metadata["booking_id"]
	correlationID := sess.Metadata["correlation_id"]
	if bookingID == "" {
		h.Logger.Warn("webhook session carries no booking id", zap.String("sessionId", sess.ID))
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	var env events.Envelope
	var err error
	if succeeded {
		paymentID := ""
		if sess.PaymentIntent != nil {
			paymentID = sess.PaymentIntent.ID
		}
		env, err = events.NewEnvelope(events.TypePaymentSucceeded, bookingID, correlationID, "payment-webhook",
			events.PaymentSucceededPayload{
				BookingID:     bookingID,
				PaymentID:     paymentID,
				TransactionID: sess.ID,
			})
	} else {
		env, err = events.NewEnvelope(events.TypePaymentFailed, bookingID, correlationID, "payment-webhook",
			events.PaymentFailedPayload{
				BookingID: bookingID,
				Reason:    string(event.Type),
			})
	}
	if err != nil {
		h.Logger.Error("could not build payment event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if err := h.Bus.Publish(c.Request.Context(), env); err != nil {
		// Non-2xx makes the gateway redeliver; the saga dedups by event guards.
		h.Logger.Error("could not publish payment event", zap.String("bookingId", bookingID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
