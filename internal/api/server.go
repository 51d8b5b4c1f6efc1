// Package api implements the HTTP and streaming surface of the dispatch service.
package api

import (
    "log"
    "net/http"
    "sync"

    "amburoute/internal/auth"
    "amburoute/internal/config"
    "amburoute/internal/metrics"
    "amburoute/internal/store"
    "amburoute/internal/webhooks"
)

type Server struct {
    Store  store.Store
    Pub    *webhooks.Publisher
    Auth   *auth.Verifier
    Broker EventBroker
    Cfg    config.Config

    limiters *tenantLimiters
    // runs tracks async simulations so tests and shutdown can wait for them
    runs sync.WaitGroup
}

// NewServer creates a Server. If no database URL is configured, uses the in-memory store.
func NewServer(cfg config.Config) (*Server, error) {
    var s store.Store
    if cfg.Database.URL == "" {
        s = store.NewMemory()
    } else {
        sp, err := store.NewPostgres(cfg.Database.URL)
        if err != nil {
            return nil, err
        }
        if cfg.Database.Migrate {
            if err := sp.MigrateDir(cfg.Database.Dir); err != nil {
                log.Printf("migrations: %v", err)
            }
        }
        s = sp
    }
    // Broker selection
    var broker EventBroker = NewBroker()
    if cfg.Redis.URL != "" {
        if rb, err := NewRedisBroker(cfg.Redis.URL); err == nil {
            broker = rb
        } else {
            log.Printf("redis broker unavailable, using in-memory: %v", err)
        }
    }
    metrics.RegisterDefault()
    return &Server{
        Store:    s,
        Pub:      webhooks.NewPublisher(s),
        Auth:     auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.HMACSecret),
        Broker:   broker,
        Cfg:      cfg,
        limiters: newTenantLimiters(cfg.Rate.RPS, cfg.Rate.Burst),
    }, nil
}

// Routes returns the service mux wrapped in logging, metrics and rate limiting.
func (s *Server) Routes() http.Handler {
    mux := http.NewServeMux()

    // Simulations
    mux.HandleFunc("/v1/simulations", s.SimulationsHandler)
    mux.HandleFunc("/v1/simulations/", s.SimulationByIDHandler) // includes /events/stream

    // Webhook subscriptions
    mux.HandleFunc("/v1/subscriptions", s.SubscriptionsHandler)
    mux.HandleFunc("/v1/subscriptions/", s.SubscriptionByIDHandler)

    // Live step stream over WebSocket
    mux.HandleFunc("/ws", s.WSHandler)

    // Health and ops
    mux.HandleFunc("/healthz", s.HealthHandler)
    mux.HandleFunc("/readyz", s.ReadyHandler)
    mux.Handle("/metrics", MetricsHandler())
    mux.HandleFunc("/debug/info", s.DebugJSON)

    return logMiddleware(metricsMiddleware(s.rateLimit(mux)))
}

// Wait blocks until background simulations have finished.
func (s *Server) Wait() { s.runs.Wait() }

// Close releases the store connection when it holds one.
func (s *Server) Close() error {
    s.Wait()
    if c, ok := s.Store.(interface{ Close() error }); ok {
        return c.Close()
    }
    return nil
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
    return webhooks.NewWorker(s.Store, s.Cfg.Webhooks.MaxAttempts)
}
