package store

import (
    "context"
    "sort"
    "sync"
    "time"

    "github.com/google/uuid"
    "amburoute/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
    mu     sync.Mutex
    runs   map[string]model.Run              // id -> run
    runIDs map[string][]string               // tenant -> run ids, oldest first
    subs   map[string][]model.Subscription   // tenant -> subscriptions
    deliveries map[string]*memDelivery       // id -> delivery state
    dlq    []memDelivery                     // failed deliveries
}

func NewMemory() *Memory {
    return &Memory{
        runs: map[string]model.Run{},
        runIDs: map[string][]string{},
        subs: map[string][]model.Subscription{},
        deliveries: map[string]*memDelivery{},
    }
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
    DeliveredAt   *time.Time
}

// SaveRun inserts a run or replaces an earlier version with the same id.
func (m *Memory) SaveRun(ctx context.Context, run model.Run) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.runs[run.ID]; !ok {
        m.runIDs[run.TenantID] = append(m.runIDs[run.TenantID], run.ID)
    }
    m.runs[run.ID] = run
    return nil
}

func (m *Memory) GetRun(ctx context.Context, tenantID, id string) (model.Run, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    r, ok := m.runs[id]
    if !ok || r.TenantID != tenantID { return model.Run{}, ErrNotFound }
    return r, nil
}

func (m *Memory) ListRuns(ctx context.Context, tenantID, cursor string, limit int) ([]model.RunSummary, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ids := m.runIDs[tenantID]
    start := 0
    if cursor != "" {
        for i, id := range ids {
            if id == cursor { start = i + 1; break }
        }
    }
    if limit <= 0 { limit = 100 }
    out := []model.RunSummary{}
    var next string
    for i := start; i < len(ids) && len(out) < limit; i++ {
        out = append(out, m.runs[ids[i]].ListItem())
        next = ids[i]
    }
    if start+len(out) >= len(ids) { next = "" }
    return out, next, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
    m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
    return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var out []model.Subscription
    for _, s := range m.subs[tenantID] {
        for _, e := range s.Events { if e == eventType { out = append(out, s); break } }
    }
    return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    list := m.subs[tenantID]
    start := 0
    if cursor != "" {
        for i := range list { if list[i].ID == cursor { start = i+1; break } }
    }
    if limit <= 0 { limit = 100 }
    end := start + limit
    if end > len(list) { end = len(list) }
    items := append([]model.Subscription(nil), list[start:end]...)
    next := ""
    if end < len(list) { next = list[end-1].ID }
    return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    arr := m.subs[tenantID]
    for i := range arr {
        if arr[i].ID == id {
            m.subs[tenantID] = append(arr[:i:i], arr[i+1:]...)
            return nil
        }
    }
    return ErrNotFound
}

// Webhook deliveries
func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, TenantID: tenantID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: DeliveryPending, Attempts: 0}, NextAttemptAt: time.Now()}
    m.deliveries[id] = d
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now()
    var due []*memDelivery
    for _, d := range m.deliveries {
        if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) { due = append(due, d) }
    }
    sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
    if limit > 0 && len(due) > limit { due = due[:limit] }
    out := make([]WebhookDelivery, 0, len(due))
    for _, d := range due { out = append(out, d.WebhookDelivery) }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d, ok := m.deliveries[id]
    if !ok { return ErrNotFound }
    d.ResponseCode, d.LatencyMs = responseCode, latencyMs
    if success {
        now := time.Now()
        d.Status = DeliveryDelivered
        d.DeliveredAt = &now
        return nil
    }
    d.Status = DeliveryRetry
    d.Attempts++
    d.LastError = lastError
    if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt } else { d.NextAttemptAt = time.Now().Add(time.Minute) }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d, ok := m.deliveries[id]
    if !ok { return ErrNotFound }
    d.Status = DeliveryFailed
    d.Attempts++
    d.LastError, d.ResponseCode, d.LatencyMs = lastError, responseCode, latencyMs
    m.dlq = append(m.dlq, *d)
    return nil
}

// DeadLetters returns the deliveries that exhausted their attempts, oldest
// first. It mirrors the webhook_dlq table of the Postgres store.
func (m *Memory) DeadLetters() []WebhookDelivery {
    m.mu.Lock(); defer m.mu.Unlock()
    out := make([]WebhookDelivery, 0, len(m.dlq))
    for _, d := range m.dlq { out = append(out, d.WebhookDelivery) }
    return out
}

// Delivery returns a copy of the delivery state; used by tests and admin tooling.
func (m *Memory) Delivery(id string) (WebhookDelivery, bool) {
    m.mu.Lock(); defer m.mu.Unlock()
    d, ok := m.deliveries[id]
    if !ok { return WebhookDelivery{}, false }
    return d.WebhookDelivery, true
}
