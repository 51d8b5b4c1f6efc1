package webhooks

import (
    "bytes"
    "context"
    "log"
    "net/http"
    "strconv"
    "time"

    "amburoute/internal/metrics"
    "amburoute/internal/store"
)

// Worker polls the store for due deliveries and POSTs them to subscribers.
type Worker struct {
    Store store.Store
    HTTP  *http.Client
    Stop  chan struct{}
    MaxAttempts int
    Interval    time.Duration
    done        chan struct{}
}

func NewWorker(s store.Store, maxAttempts int) *Worker {
    if maxAttempts <= 0 { maxAttempts = 10 }
    return &Worker{Store: s, HTTP: &http.Client{Timeout: 5 * time.Second}, Stop: make(chan struct{}), MaxAttempts: maxAttempts, Interval: time.Second}
}

func (w *Worker) Start() {
    w.done = make(chan struct{})
    go func() {
        defer close(w.done)
        ticker := time.NewTicker(w.Interval)
        defer ticker.Stop()
        for {
            select {
            case <-w.Stop:
                return
            case <-ticker.C:
                w.processOnce()
            }
        }
    }()
}

// Shutdown stops the polling loop and makes a last pass over due deliveries,
// so events emitted by runs that finished during shutdown still go out.
func (w *Worker) Shutdown() {
    close(w.Stop)
    if w.done != nil { <-w.done }
    w.processOnce()
}

func (w *Worker) processOnce() {
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    items, err := w.Store.FetchDueWebhookDeliveries(ctx, 50)
    if err != nil { log.Printf("webhooks: fetch due: %v", err); return }
    for _, it := range items {
        w.deliver(ctx, it)
    }
}

func (w *Worker) deliver(ctx context.Context, it store.WebhookDelivery) {
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
    if err != nil {
        _ = w.Store.FailWebhookDelivery(ctx, it.ID, err.Error(), 0, 0)
        metrics.WebhookDeliveries.WithLabelValues(it.EventType, "failed").Inc()
        return
    }
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("X-Event-Type", it.EventType)
    if it.Secret != "" {
        req.Header.Set(SignatureHeader, SignHMAC(it.Secret, it.Payload))
    }
    start := time.Now()
    resp, err := w.HTTP.Do(req)
    latency := int(time.Since(start).Milliseconds())
    code, success := 0, false
    if err == nil {
        code = resp.StatusCode
        _ = resp.Body.Close()
        success = code >= 200 && code < 300
    }
    lastErr := ""
    switch {
    case err != nil:
        lastErr = err.Error()
    case !success:
        lastErr = "status " + strconv.Itoa(code)
    }

    status := "delivered"
    switch {
    case success:
        _ = w.Store.MarkWebhookDelivery(ctx, it.ID, true, nil, "", code, latency)
    case it.Attempts+1 >= w.MaxAttempts:
        status = "failed"
        _ = w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency)
    default:
        status = "retry"
        next := time.Now().Add(nextBackoff(it.Attempts))
        _ = w.Store.MarkWebhookDelivery(ctx, it.ID, false, &next, lastErr, code, latency)
    }
    metrics.WebhookDeliveries.WithLabelValues(it.EventType, status).Inc()
    metrics.WebhookLatency.WithLabelValues(it.EventType, status).Observe(float64(latency))
}

// nextBackoff doubles from one second and caps at one hour.
func nextBackoff(attempts int) time.Duration {
    if attempts < 0 { attempts = 0 }
    if attempts > 10 { attempts = 10 }
    base := time.Second * time.Duration(1<<attempts)
    if base > time.Hour { base = time.Hour }
    return base
}
