package store

import (
    "context"
    "crypto/sha256"
    "database/sql"
    "encoding/hex"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "amburoute/internal/model"
)

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// MigrateDir applies every *.sql file in dir in lexical order. Statements are
// written to be idempotent, so re-running is safe.
func (p *Postgres) MigrateDir(dir string) error {
    files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
    if err != nil { return err }
    sort.Strings(files)
    for _, f := range files {
        b, err := os.ReadFile(f)
        if err != nil { return err }
        if strings.TrimSpace(string(b)) == "" { continue }
        if _, err := p.db.Exec(string(b)); err != nil {
            return fmt.Errorf("migrate %s: %w", filepath.Base(f), err)
        }
    }
    return nil
}

// SaveRun upserts a run with its request, route log and summary as JSONB.
func (p *Postgres) SaveRun(ctx context.Context, run model.Run) error {
    req, err := json.Marshal(run.Request)
    if err != nil { return err }
    lg, err := json.Marshal(run.Log)
    if err != nil { return err }
    sum, err := json.Marshal(run.Summary)
    if err != nil { return err }
    _, err = p.db.ExecContext(ctx, `INSERT INTO simulation_runs (id, tenant_id, name, status, created_at, request, route_log, summary, error)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, route_log=EXCLUDED.route_log, summary=EXCLUDED.summary, error=EXCLUDED.error, updated_at=now()`,
        run.ID, run.TenantID, nullIfEmpty(run.Name), run.Status, run.CreatedAt, req, lg, sum, nullIfEmpty(run.Error))
    return err
}

func (p *Postgres) GetRun(ctx context.Context, tenantID, id string) (model.Run, error) {
    var r model.Run
    var name, errText sql.NullString
    var req, lg, sum []byte
    err := p.db.QueryRowContext(ctx, `SELECT id::text, tenant_id, name, status, created_at, request, route_log, summary, error
        FROM simulation_runs WHERE tenant_id=$1 AND id::text=$2`, tenantID, id).
        Scan(&r.ID, &r.TenantID, &name, &r.Status, &r.CreatedAt, &req, &lg, &sum, &errText)
    if errors.Is(err, sql.ErrNoRows) { return model.Run{}, ErrNotFound }
    if err != nil { return model.Run{}, err }
    r.Name, r.Error = name.String, errText.String
    if err := json.Unmarshal(req, &r.Request); err != nil { return model.Run{}, err }
    if err := json.Unmarshal(lg, &r.Log); err != nil { return model.Run{}, err }
    if err := json.Unmarshal(sum, &r.Summary); err != nil { return model.Run{}, err }
    return r, nil
}

const listRunsFirstPage = `SELECT id::text, name, status, created_at, summary FROM simulation_runs
    WHERE tenant_id=$1 ORDER BY created_at, id LIMIT $2`

// The cursor row is looked up inside the caller's tenant so another tenant's
// run id cannot be used to position a page.
const listRunsAfterCursor = `SELECT id::text, name, status, created_at, summary FROM simulation_runs
    WHERE tenant_id=$1 AND (created_at, id) > (SELECT created_at, id FROM simulation_runs WHERE tenant_id=$1 AND id::text=$2)
    ORDER BY created_at, id LIMIT $3`

func (p *Postgres) ListRuns(ctx context.Context, tenantID, cursor string, limit int) ([]model.RunSummary, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, listRunsAfterCursor, tenantID, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, listRunsFirstPage, tenantID, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.RunSummary{}
    var last string
    for rows.Next() {
        var s model.RunSummary
        var name sql.NullString
        var sum []byte
        if err := rows.Scan(&s.ID, &name, &s.Status, &s.CreatedAt, &sum); err != nil { return nil, "", err }
        s.Name = name.String
        _ = json.Unmarshal(sum, &s.Summary)
        out = append(out, s)
        last = s.ID
    }
    if err := rows.Err(); err != nil { return nil, "", err }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    id := uuid.New().String()
    ev, _ := json.Marshal(req.Events)
    _, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`, id, req.TenantID, req.URL, ev, req.Secret)
    if err != nil { return model.Subscription{}, err }
    return model.Subscription{ID: id, TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
    filter, _ := json.Marshal([]string{eventType})
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 AND events @> $2::jsonb`, tenantID, string(filter))
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, err }
        s.TenantID = tenantID
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    var out []model.Subscription
    var last string
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, "", err }
        s.TenantID = tenantID
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
        last = s.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id::text=$2`, tenantID, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    dk := computeDedupKey(payload)
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now(),$8)
        ON CONFLICT (tenant_id, event_type, url, dedup_key) DO NOTHING`, id, tenantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, dk)
    if err != nil { return "", err }
    return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil { return nil, err }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if !success {
        if nextAttemptAt == nil { t := time.Now().Add(1 * time.Minute); nextAttemptAt = &t }
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$1, next_attempt_at=$2, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$3`, nullIfEmpty(lastError), *nextAttemptAt, id, responseCode, latencyMs)
        return err
    }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
    return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', attempts=attempts+1, last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
    if err != nil { return err }
    // move to DLQ
    _, err = p.db.ExecContext(ctx, `INSERT INTO webhook_dlq (id, tenant_id, delivery_id, event_type, url, secret, payload, attempts, last_error)
        SELECT gen_random_uuid(), tenant_id, id, event_type, url, secret, payload, attempts, $2 FROM webhook_deliveries WHERE id=$1`, id, nullIfEmpty(lastError))
    return err
}

// computeDedupKey uses the event id when the payload carries one, else a short content hash.
func computeDedupKey(payload []byte) string {
    var m map[string]any
    if json.Unmarshal(payload, &m) == nil {
        if v, ok := m["id"].(string); ok && v != "" {
            return v
        }
    }
    sum := sha256.Sum256(payload)
    return hex.EncodeToString(sum[:8])
}

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }
