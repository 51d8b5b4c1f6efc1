package metrics

import (
    "sync"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )
    // RateLimited counts requests rejected by the token bucket
    RateLimited = prometheus.NewCounter(
        prometheus.CounterOpts{Name: "http_requests_rate_limited_total", Help: "Requests rejected with 429."},
    )

    // Simulations counts finished simulations by outcome (completed, failed, invalid)
    Simulations = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "simulations_total", Help: "Simulations by outcome."},
        []string{"outcome"},
    )
    // RouteSteps counts route log entries produced across all runs
    RouteSteps = prometheus.NewCounter(
        prometheus.CounterOpts{Name: "route_steps_total", Help: "Route steps produced by the dispatch loop."},
    )
    PatientsServed = prometheus.NewCounter(
        prometheus.CounterOpts{Name: "patients_served_total", Help: "Patients delivered to a hospital."},
    )
    // SimulationDuration is wall time of a whole run: graph, index, loop
    SimulationDuration = prometheus.NewHistogram(
        prometheus.HistogramOpts{Name: "simulation_duration_seconds", Help: "End-to-end simulation time in seconds.", Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10)},
    )
    // PathIndexDuration is the all-pairs shortest path build time
    PathIndexDuration = prometheus.NewHistogram(
        prometheus.HistogramOpts{Name: "shortest_path_build_seconds", Help: "Shortest-path index build time in seconds.", Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10)},
    )
    // GraphNodes observes the size of submitted road networks
    GraphNodes = prometheus.NewHistogram(
        prometheus.HistogramOpts{Name: "simulation_graph_nodes", Help: "Node count of simulated graphs.", Buckets: []float64{10, 50, 100, 500, 1000, 2500, 5000}},
    )

    // WebhookDeliveries counts webhook delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
    // WebhookLatency tracks webhook delivery latencies in milliseconds
    WebhookLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"event_type", "status"},
    )
    // StreamClients gauges open SSE and websocket subscribers
    StreamClients = prometheus.NewGaugeVec(
        prometheus.GaugeOpts{Name: "stream_clients", Help: "Connected event stream clients."},
        []string{"transport"},
    )
)

// RegisterDefault registers collectors to the API registry once.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests, HTTPDuration, RateLimited)
        Registry.MustRegister(Simulations, RouteSteps, PatientsServed, SimulationDuration, PathIndexDuration, GraphNodes)
        Registry.MustRegister(WebhookDeliveries, WebhookLatency, StreamClients)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
