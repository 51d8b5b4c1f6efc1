package store

import (
    "context"
    "errors"
    "time"

    "amburoute/internal/model"
)

// Store is the persistence interface used by the API server.
type Store interface {
    // Simulation runs
    SaveRun(ctx context.Context, run model.Run) error
    GetRun(ctx context.Context, tenantID, id string) (model.Run, error)
    ListRuns(ctx context.Context, tenantID, cursor string, limit int) ([]model.RunSummary, string, error)

    // Subscriptions
    CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
    GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
    ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
    DeleteSubscription(ctx context.Context, tenantID, id string) error

    // Webhook deliveries
    EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
}

var ErrNotFound = errors.New("not found")
