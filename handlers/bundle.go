package handlers

// HandlerBundle groups all endpoint handlers for route registration.
type HandlerBundle struct {
	Booking        *BookingHandler
	Catalog        *CatalogHandler
	PaymentWebhook *PaymentWebhookHandler
}
