package api

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "net/http"
    "strings"
    "time"

    "github.com/google/uuid"

    "amburoute/internal/dispatch"
    "amburoute/internal/metrics"
    "amburoute/internal/model"
    "amburoute/internal/roadgraph"
    "amburoute/internal/store"
    "amburoute/internal/webhooks"
)

const maxRequestBody = 16 << 20

// SimulationsHandler handles POST/GET /v1/simulations
func (s *Server) SimulationsHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/simulations" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p := s.getPrincipal(r)
    if !p.Known() { writeProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid bearer token", r.URL.Path); return }
    switch r.Method {
    case http.MethodPost:
        if !p.CanDispatch() { writeProblem(w, 403, "Forbidden", "dispatcher or admin required", r.URL.Path); return }
        var req model.SimulationRequest
        if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        req.TenantID = p.Tenant
        if err := validateSimulationRequest(&req, s.Cfg.Engine.MaxNodes); err != nil {
            metrics.Simulations.WithLabelValues("invalid").Inc()
            status := http.StatusBadRequest
            if errors.Is(err, errTooLarge) { status = http.StatusRequestEntityTooLarge }
            writeProblem(w, status, "Invalid simulation request", err.Error(), r.URL.Path)
            return
        }
        run := model.Run{ID: uuid.NewString(), TenantID: p.Tenant, Name: req.Name, Status: model.RunRunning, CreatedAt: time.Now().UTC(), Request: req, Log: model.RouteLog{}}
        if r.URL.Query().Get("async") == "true" {
            if err := s.Store.SaveRun(r.Context(), run); err != nil {
                writeProblem(w, http.StatusInternalServerError, "Save run failed", err.Error(), r.URL.Path)
                return
            }
            s.runs.Add(1)
            go func() {
                defer s.runs.Done()
                s.execute(context.Background(), run)
            }()
            writeJSON(w, http.StatusAccepted, map[string]any{
                "id": run.ID, "status": run.Status,
                "links": map[string]string{"self": "/v1/simulations/" + run.ID, "stream": "/v1/simulations/" + run.ID + "/events/stream"},
            })
            return
        }
        run = s.execute(r.Context(), run)
        if run.Status == model.RunFailed {
            writeProblem(w, http.StatusInternalServerError, "Simulation failed", run.Error, r.URL.Path)
            return
        }
        writeJSON(w, http.StatusCreated, run)
    case http.MethodGet:
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListRuns(r.Context(), p.Tenant, cursor, limit)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "List simulations failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// SimulationByIDHandler handles GET /v1/simulations/{id} and GET /v1/simulations/{id}/events/stream
func (s *Server) SimulationByIDHandler(w http.ResponseWriter, r *http.Request) {
    path := r.URL.Path
    rest := strings.TrimPrefix(path, "/v1/simulations/")
    if rest == path || rest == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
        return
    }
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p := s.getPrincipal(r)
    if !p.Known() { writeProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid bearer token", path); return }
    parts := strings.Split(rest, "/")
    id := parts[0]
    switch {
    case len(parts) == 1:
        run, err := s.Store.GetRun(r.Context(), p.Tenant, id)
        if errors.Is(err, store.ErrNotFound) { writeProblem(w, 404, "Simulation not found", id, path); return }
        if err != nil { writeProblem(w, 500, "Get simulation failed", err.Error(), path); return }
        writeJSON(w, http.StatusOK, run)
    case len(parts) == 3 && parts[1] == "events" && parts[2] == "stream":
        s.streamRun(w, r, p.Tenant, id)
    default:
        writeProblem(w, http.StatusNotFound, "Not Found", "", path)
    }
}

// streamRun serves the run's events as SSE until the terminal event or client disconnect.
func (s *Server) streamRun(w http.ResponseWriter, r *http.Request, tenant, id string) {
    flusher, ok := w.(http.Flusher)
    if !ok { writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path); return }
    ch, done, err := s.subscribeRun(r.Context(), tenant, id)
    if errors.Is(err, store.ErrNotFound) { writeProblem(w, 404, "Simulation not found", id, r.URL.Path); return }
    if err != nil { writeProblem(w, 500, "Subscribe failed", err.Error(), r.URL.Path); return }
    if ch != nil { defer s.Broker.Unsubscribe(id, ch) }

    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    metrics.StreamClients.WithLabelValues("sse").Inc()
    defer metrics.StreamClients.WithLabelValues("sse").Dec()

    send := func(evt SSEEvent) {
        b, _ := json.Marshal(evt.Data)
        fmt.Fprintf(w, "event: %s\n", evt.Type)
        fmt.Fprintf(w, "data: %s\n\n", b)
        flusher.Flush()
    }
    heartbeat := func() {
        fmt.Fprintf(w, "event: heartbeat\n")
        fmt.Fprintf(w, "data: {\"runId\":\"%s\",\"ts\":\"%s\"}\n\n", id, time.Now().UTC().Format(time.RFC3339))
        flusher.Flush()
    }
    heartbeat()
    if done != nil {
        send(*done)
        return
    }
    ticker := time.NewTicker(15 * time.Second)
    defer ticker.Stop()
    for {
        select {
        case <-r.Context().Done():
            return
        case evt, ok := <-ch:
            if !ok {
                // the broker gave up on this subscriber; the store has the outcome
                if final, ok := s.finalEvent(r.Context(), tenant, id); ok { send(final) }
                return
            }
            send(evt)
            if evt.Terminal() { return }
        case <-ticker.C:
            heartbeat()
        }
    }
}

// subscribeRun subscribes to a run's events. When the run has already finished
// it returns its terminal event instead of a channel.
func (s *Server) subscribeRun(ctx context.Context, tenant, id string) (chan SSEEvent, *SSEEvent, error) {
    if _, err := s.Store.GetRun(ctx, tenant, id); err != nil { return nil, nil, err }
    ch := s.Broker.Subscribe(id)
    // re-read after subscribing so a run finishing in between is not missed
    run, err := s.Store.GetRun(ctx, tenant, id)
    if err != nil {
        s.Broker.Unsubscribe(id, ch)
        return nil, nil, err
    }
    if run.Status != model.RunRunning {
        s.Broker.Unsubscribe(id, ch)
        evt := terminalEvent(run)
        return nil, &evt, nil
    }
    return ch, nil, nil
}

// finalEvent re-reads the run and returns its terminal event once it has finished.
func (s *Server) finalEvent(ctx context.Context, tenant, id string) (SSEEvent, bool) {
    run, err := s.Store.GetRun(ctx, tenant, id)
    if err != nil || run.Status == model.RunRunning { return SSEEvent{}, false }
    return terminalEvent(run), true
}

// execute runs the engine for run, streams its steps and archives the result.
func (s *Server) execute(ctx context.Context, run model.Run) model.Run {
    began := time.Now()
    s.emit(ctx, run, webhooks.EventSimulationStarted, map[string]any{
        "runId": run.ID, "name": run.Name, "nodes": len(run.Request.Nodes), "start": run.Request.Start, "totalTime": run.Request.TotalTime,
    })
    index := 0
    hook := dispatch.WithStepHook(func(step model.RouteStep) {
        s.emit(ctx, run, webhooks.EventSimulationStep, map[string]any{"runId": run.ID, "index": index, "step": step})
        index++
    })
    res, err := dispatch.Run(ctx, run.Request, s.Cfg.Engine.Workers, hook)
    metrics.SimulationDuration.Observe(time.Since(began).Seconds())
    metrics.GraphNodes.Observe(float64(len(run.Request.Nodes)))
    if err != nil {
        outcome := "failed"
        if errors.Is(err, roadgraph.ErrMalformedInput) { outcome = "invalid" }
        metrics.Simulations.WithLabelValues(outcome).Inc()
        run.Status, run.Error = model.RunFailed, err.Error()
    } else {
        metrics.Simulations.WithLabelValues("completed").Inc()
        metrics.PathIndexDuration.Observe(res.IndexTime.Seconds())
        metrics.RouteSteps.Add(float64(len(res.Log)))
        metrics.PatientsServed.Add(float64(res.Summary.PatientsServed))
        run.Status, run.Summary = model.RunCompleted, res.Summary
        if res.Log != nil { run.Log = res.Log }
    }
    // archive even when the caller went away
    saveCtx := context.WithoutCancel(ctx)
    if err := s.Store.SaveRun(saveCtx, run); err != nil {
        log.Printf("save run %s: %v", run.ID, err)
    }
    evt := terminalEvent(run)
    s.emit(saveCtx, run, evt.Type, evt.Data)
    return run
}

func (s *Server) emit(ctx context.Context, run model.Run, eventType string, data map[string]any) {
    s.Broker.Publish(run.ID, SSEEvent{Type: eventType, Data: data})
    if s.Pub != nil {
        s.Pub.Emit(ctx, run.TenantID, eventType, data)
    }
}

func terminalEvent(run model.Run) SSEEvent {
    if run.Status == model.RunFailed {
        return SSEEvent{Type: webhooks.EventSimulationFailed, Data: map[string]any{"runId": run.ID, "status": run.Status, "error": run.Error}}
    }
    return SSEEvent{Type: webhooks.EventSimulationCompleted, Data: map[string]any{"runId": run.ID, "status": run.Status, "summary": run.Summary}}
}
