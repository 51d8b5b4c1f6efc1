package api

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strings"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "amburoute/internal/metrics"
    "amburoute/internal/model"
    "amburoute/internal/store"
)

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if !p.Known() { writeProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid bearer token", r.URL.Path); return }
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    switch r.Method {
    case http.MethodPost:
        var req model.SubscriptionRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        req.TenantID = p.Tenant
        if err := validateSubscriptionRequest(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid subscription", err.Error(), r.URL.Path)
            return
        }
        sub, err := s.Store.CreateSubscription(r.Context(), req)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusCreated, sub)
    case http.MethodGet:
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListSubscriptions(r.Context(), p.Tenant, cursor, limit)
        if err != nil { writeProblem(w, 500, "List subscriptions failed", err.Error(), r.URL.Path); return }
        if items == nil { items = []model.Subscription{} }
        writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// Subscription delete (admin)
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasPrefix(r.URL.Path, "/v1/subscriptions/") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodDelete { w.WriteHeader(405); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
    err := s.Store.DeleteSubscription(r.Context(), p.Tenant, id)
    if errors.Is(err, store.ErrNotFound) { writeProblem(w, 404, "Subscription not found", id, r.URL.Path); return }
    if err != nil { writeProblem(w, 500, "Delete subscription failed", err.Error(), r.URL.Path); return }
    w.WriteHeader(204)
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    // Check DB connectivity when using Postgres store
    type pinger interface{ Ping(ctx context.Context) error }
    if pg, ok := s.Store.(pinger); ok {
        ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
        defer cancel()
        if err := pg.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path); return }
    }
    writeJSON(w, 200, map[string]string{"status": "ready"})
}

// MetricsHandler exposes the API registry in Prometheus text format.
func MetricsHandler() http.Handler {
    return promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})
}
