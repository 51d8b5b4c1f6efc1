package store

// Delivery states of a queued webhook.
const (
    DeliveryPending   = "pending"
    DeliveryRetry     = "retry"
    DeliveryDelivered = "delivered"
    DeliveryFailed    = "failed"
)

// WebhookDelivery is one queued POST of a simulation event to a subscriber.
type WebhookDelivery struct {
    ID             string
    TenantID       string
    SubscriptionID string
    EventType      string
    URL            string
    Secret         string
    Payload        []byte
    Status         string
    Attempts       int
}
