package api

import (
    "bufio"
    "errors"
    "log"
    "net"
    "net/http"
    "strconv"
    "strings"
    "sync"
    "time"

    "golang.org/x/time/rate"

    "amburoute/internal/metrics"
)

// statusRecorder captures the response status while keeping streaming and
// websocket upgrades working through the wrapper.
type statusRecorder struct {
    http.ResponseWriter
    status int
}

func (r *statusRecorder) WriteHeader(code int) {
    if r.status == 0 { r.status = code }
    r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
    if r.status == 0 { r.status = http.StatusOK }
    return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
    if f, ok := r.ResponseWriter.(http.Flusher); ok { f.Flush() }
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    h, ok := r.ResponseWriter.(http.Hijacker)
    if !ok { return nil, nil, errors.New("hijack not supported") }
    if r.status == 0 { r.status = http.StatusSwitchingProtocols }
    return h.Hijack()
}

func (r *statusRecorder) code() int {
    if r.status == 0 { return http.StatusOK }
    return r.status
}

func wrap(w http.ResponseWriter) *statusRecorder {
    if rec, ok := w.(*statusRecorder); ok { return rec }
    return &statusRecorder{ResponseWriter: w}
}

func logMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        rec := wrap(w)
        next.ServeHTTP(rec, r)
        log.Printf("%s %s %s %d %v", r.RemoteAddr, r.Method, r.URL.Path, rec.code(), time.Since(start))
    })
}

func metricsMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        rec := wrap(w)
        next.ServeHTTP(rec, r)
        labels := []string{r.Method, routeLabel(r.URL.Path), strconv.Itoa(rec.code())}
        metrics.HTTPRequests.WithLabelValues(labels...).Inc()
        metrics.HTTPDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
    })
}

// routeLabel collapses ids so the path label stays low-cardinality.
func routeLabel(path string) string {
    switch path {
    case "/v1/simulations", "/v1/subscriptions", "/ws", "/healthz", "/readyz", "/metrics", "/debug/info":
        return path
    }
    if rest, ok := strings.CutPrefix(path, "/v1/simulations/"); ok {
        if strings.HasSuffix(rest, "/events/stream") { return "/v1/simulations/{id}/events/stream" }
        return "/v1/simulations/{id}"
    }
    if strings.HasPrefix(path, "/v1/subscriptions/") { return "/v1/subscriptions/{id}" }
    return "other"
}

// tenantLimiters holds one token bucket per tenant. rps <= 0 disables limiting.
type tenantLimiters struct {
    mu    sync.Mutex
    rps   rate.Limit
    burst int
    m     map[string]*rate.Limiter
}

func newTenantLimiters(rps float64, burst int) *tenantLimiters {
    if burst <= 0 { burst = 1 }
    return &tenantLimiters{rps: rate.Limit(rps), burst: burst, m: map[string]*rate.Limiter{}}
}

func (t *tenantLimiters) allow(tenant string) bool {
    if t == nil || t.rps <= 0 { return true }
    t.mu.Lock()
    l, ok := t.m[tenant]
    if !ok {
        l = rate.NewLimiter(t.rps, t.burst)
        t.m[tenant] = l
    }
    t.mu.Unlock()
    return l.Allow()
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        switch r.URL.Path {
        case "/healthz", "/readyz", "/metrics":
            next.ServeHTTP(w, r)
            return
        }
        if !s.limiters.allow(s.getPrincipal(r).Tenant) {
            metrics.RateLimited.Inc()
            w.Header().Set("Retry-After", "1")
            writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded", r.URL.Path)
            return
        }
        next.ServeHTTP(w, r)
    })
}
