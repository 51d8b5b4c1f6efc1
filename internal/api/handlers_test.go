package api

import (
    "bufio"
    "bytes"
    "context"
    "encoding/json"
    "io"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "amburoute/internal/config"
    "amburoute/internal/model"
    "amburoute/internal/store"
)

// scenarioA: 0 (start) --10-- 1 (patient p90 care5) --8-- 2 (hospital), budget 50
const scenarioA = `{"name":"a","start":0,"totalTime":50,
 "nodes":[{"id":0,"kind":"junction"},{"id":1,"kind":"patient","priority":90,"careTime":5},{"id":2,"kind":"hospital"}],
 "edges":[{"from":0,"to":1,"time":10},{"from":1,"to":2,"time":8}]}`

func testConfig() config.Config {
    c := config.Default()
    c.Rate.RPS = 0
    return c
}

func newTestServer(t *testing.T, cfg config.Config) *Server {
    t.Helper()
    s, err := NewServer(cfg)
    if err != nil { t.Fatalf("NewServer: %v", err) }
    t.Cleanup(s.Wait)
    return s
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
    t.Helper()
    var rd io.Reader
    if body != "" { rd = strings.NewReader(body) }
    req := httptest.NewRequest(method, path, rd)
    req.Header.Set("Content-Type", "application/json")
    for k, v := range hdr { req.Header.Set(k, v) }
    rr := httptest.NewRecorder()
    h.ServeHTTP(rr, req)
    return rr
}

func TestHealthReady(t *testing.T) {
    s := newTestServer(t, testConfig())
    rr := httptest.NewRecorder()
    s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
    if rr.Code != 200 { t.Fatalf("health: got %d", rr.Code) }
    rr = httptest.NewRecorder()
    s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
    if rr.Code != 200 { t.Fatalf("ready: got %d", rr.Code) }
}

func TestSimulationSyncCreateGetList(t *testing.T) {
    s := newTestServer(t, testConfig())
    h := s.Routes()
    rr := do(t, h, http.MethodPost, "/v1/simulations", scenarioA, nil)
    if rr.Code != http.StatusCreated { t.Fatalf("create: %d %s", rr.Code, rr.Body.String()) }
    var run model.Run
    if err := json.Unmarshal(rr.Body.Bytes(), &run); err != nil { t.Fatal(err) }
    if run.Status != model.RunCompleted || len(run.Log) != 1 { t.Fatalf("bad run: %+v", run) }
    st := run.Log[0]
    if st.Patient != 1 || st.Hospital != 2 || st.TimeNeeded != 23 || st.RemainingTime != 27 || st.AccumulatedPriority != 90 { t.Fatalf("bad step: %+v", st) }
    if run.Summary.TotalPriority != 90 || run.Summary.RemainingTime != 27 || run.TenantID != "t_demo" { t.Fatalf("bad summary: %+v", run.Summary) }

    rr = do(t, h, http.MethodGet, "/v1/simulations/"+run.ID, "", nil)
    if rr.Code != 200 { t.Fatalf("get: %d", rr.Code) }
    rr = do(t, h, http.MethodGet, "/v1/simulations/"+run.ID, "", map[string]string{"X-Tenant-Id": "other"})
    if rr.Code != 404 { t.Fatalf("cross-tenant get: %d", rr.Code) }

    rr = do(t, h, http.MethodGet, "/v1/simulations?limit=5", "", nil)
    var list struct{ Items []model.RunSummary `json:"items"` }
    _ = json.Unmarshal(rr.Body.Bytes(), &list)
    if rr.Code != 200 || len(list.Items) != 1 || list.Items[0].ID != run.ID { t.Fatalf("list: %d %s", rr.Code, rr.Body.String()) }
}

func TestSimulationEmptyLogIsArray(t *testing.T) {
    s := newTestServer(t, testConfig())
    body := strings.Replace(scenarioA, `"totalTime":50`, `"totalTime":20`, 1)
    rr := do(t, s.Routes(), http.MethodPost, "/v1/simulations", body, nil)
    if rr.Code != http.StatusCreated { t.Fatalf("create: %d", rr.Code) }
    if !bytes.Contains(rr.Body.Bytes(), []byte(`"log":[]`)) { t.Fatalf("empty log should encode as []: %s", rr.Body.String()) }
}

func TestSimulationRejectsMalformedInput(t *testing.T) {
    cfg := testConfig()
    cfg.Engine.MaxNodes = 3
    s := newTestServer(t, cfg)
    h := s.Routes()
    cases := map[string]struct {
        body string
        want int
    }{
        "bad json":       {`{"nodes":`, 400},
        "no nodes":       {`{"start":0,"totalTime":5,"nodes":[],"edges":[]}`, 400},
        "missing start":  {strings.Replace(scenarioA, `"start":0`, `"start":7`, 1), 400},
        "dangling edge":  {strings.Replace(scenarioA, `"to":2,"time":8`, `"to":9,"time":8`, 1), 400},
        "negative time":  {strings.Replace(scenarioA, `"time":10`, `"time":-1`, 1), 400},
        "unknown kind":   {strings.Replace(scenarioA, `"kind":"junction"`, `"kind":"depot"`, 1), 400},
        "too many nodes": {strings.Replace(scenarioA, `{"id":2,"kind":"hospital"}`, `{"id":2,"kind":"hospital"},{"id":3,"kind":"hospital"}`, 1), 413},
    }
    for name, tc := range cases {
        rr := do(t, h, http.MethodPost, "/v1/simulations", tc.body, nil)
        if rr.Code != tc.want { t.Fatalf("%s: want %d, got %d %s", name, tc.want, rr.Code, rr.Body.String()) }
        if ct := rr.Header().Get("Content-Type"); ct != "application/problem+json" { t.Fatalf("%s: content type %q", name, ct) }
    }
}

func TestSimulationRoles(t *testing.T) {
    s := newTestServer(t, testConfig())
    h := s.Routes()
    if rr := do(t, h, http.MethodPost, "/v1/simulations", scenarioA, map[string]string{"X-Role": "viewer"}); rr.Code != 403 { t.Fatalf("viewer: %d", rr.Code) }
    if rr := do(t, h, http.MethodPost, "/v1/simulations", scenarioA, map[string]string{"X-Role": "dispatcher"}); rr.Code != 201 { t.Fatalf("dispatcher: %d", rr.Code) }
    if rr := do(t, h, http.MethodGet, "/v1/simulations", "", map[string]string{"Authorization": "Bearer garbage"}); rr.Code != 401 { t.Fatalf("bad token: %d", rr.Code) }
    if rr := do(t, h, http.MethodGet, "/v1/simulations", "", map[string]string{"Authorization": "Bearer t9:viewer"}); rr.Code != 200 { t.Fatalf("dev token: %d", rr.Code) }
}

func TestSimulationAsync(t *testing.T) {
    s := newTestServer(t, testConfig())
    h := s.Routes()
    rr := do(t, h, http.MethodPost, "/v1/simulations?async=true", scenarioA, nil)
    if rr.Code != http.StatusAccepted { t.Fatalf("async create: %d", rr.Code) }
    var acc struct{ ID string `json:"id"` }
    _ = json.Unmarshal(rr.Body.Bytes(), &acc)
    s.Wait()
    rr = do(t, h, http.MethodGet, "/v1/simulations/"+acc.ID, "", nil)
    var run model.Run
    _ = json.Unmarshal(rr.Body.Bytes(), &run)
    if run.Status != model.RunCompleted || run.Summary.PatientsServed != 1 { t.Fatalf("async run not completed: %+v", run) }
}

func TestSimulationEventsStreamAfterCompletion(t *testing.T) {
    s := newTestServer(t, testConfig())
    ts := httptest.NewServer(s.Routes())
    defer ts.Close()

    resp, err := http.Post(ts.URL+"/v1/simulations", "application/json", strings.NewReader(scenarioA))
    if err != nil { t.Fatal(err) }
    var run model.Run
    _ = json.NewDecoder(resp.Body).Decode(&run)
    _ = resp.Body.Close()

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/simulations/"+run.ID+"/events/stream", nil)
    resp, err = http.DefaultClient.Do(req)
    if err != nil { t.Fatal(err) }
    defer resp.Body.Close()
    if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" { t.Fatalf("content type %q", ct) }
    body, err := io.ReadAll(resp.Body)
    if err != nil { t.Fatalf("stream should end after the terminal event: %v", err) }
    if !strings.Contains(string(body), "event: heartbeat") || !strings.Contains(string(body), "event: simulation.completed") {
        t.Fatalf("unexpected stream: %s", body)
    }

    rr := do(t, s.Routes(), http.MethodGet, "/v1/simulations/nope/events/stream", "", nil)
    if rr.Code != 404 { t.Fatalf("unknown run stream: %d", rr.Code) }
}

func TestSubscriptionsAndWebhookEnqueue(t *testing.T) {
    s := newTestServer(t, testConfig())
    h := s.Routes()
    if rr := do(t, h, http.MethodPost, "/v1/subscriptions", `{"url":"ftp://x","events":["simulation.completed"]}`, nil); rr.Code != 400 { t.Fatalf("bad url: %d", rr.Code) }
    if rr := do(t, h, http.MethodPost, "/v1/subscriptions", `{"url":"http://hook.local/x","events":["route.done"]}`, nil); rr.Code != 400 { t.Fatalf("bad event: %d", rr.Code) }
    if rr := do(t, h, http.MethodPost, "/v1/subscriptions", `{"url":"http://hook.local/x","events":["simulation.completed"]}`, map[string]string{"X-Role": "dispatcher"}); rr.Code != 403 { t.Fatalf("non-admin: %d", rr.Code) }

    rr := do(t, h, http.MethodPost, "/v1/subscriptions", `{"url":"http://hook.local/x","events":["simulation.completed"],"secret":"k"}`, nil)
    if rr.Code != 201 { t.Fatalf("create subscription: %d %s", rr.Code, rr.Body.String()) }
    var sub model.Subscription
    _ = json.Unmarshal(rr.Body.Bytes(), &sub)

    if rr := do(t, h, http.MethodPost, "/v1/simulations", scenarioA, nil); rr.Code != 201 { t.Fatalf("simulate: %d", rr.Code) }
    due, _ := s.Store.(*store.Memory).FetchDueWebhookDeliveries(context.Background(), 10)
    if len(due) != 1 || due[0].EventType != "simulation.completed" || due[0].Secret != "k" { t.Fatalf("deliveries: %+v", due) }

    rr = do(t, h, http.MethodGet, "/v1/subscriptions", "", nil)
    if rr.Code != 200 || !strings.Contains(rr.Body.String(), sub.ID) { t.Fatalf("list: %d %s", rr.Code, rr.Body.String()) }
    if rr := do(t, h, http.MethodDelete, "/v1/subscriptions/"+sub.ID, "", nil); rr.Code != 204 { t.Fatalf("delete: %d", rr.Code) }
    if rr := do(t, h, http.MethodDelete, "/v1/subscriptions/"+sub.ID, "", nil); rr.Code != 404 { t.Fatalf("second delete: %d", rr.Code) }
}

func TestRateLimitPerTenant(t *testing.T) {
    cfg := testConfig()
    cfg.Rate.RPS, cfg.Rate.Burst = 0.001, 1
    s := newTestServer(t, cfg)
    h := s.Routes()
    if rr := do(t, h, http.MethodGet, "/v1/simulations", "", nil); rr.Code != 200 { t.Fatalf("first: %d", rr.Code) }
    rr := do(t, h, http.MethodGet, "/v1/simulations", "", nil)
    if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" { t.Fatalf("second: %d", rr.Code) }
    if rr := do(t, h, http.MethodGet, "/v1/simulations", "", map[string]string{"X-Tenant-Id": "t2"}); rr.Code != 200 { t.Fatalf("other tenant: %d", rr.Code) }
    if rr := do(t, h, http.MethodGet, "/healthz", "", nil); rr.Code != 200 { t.Fatalf("health is not limited: %d", rr.Code) }
}

func TestMetricsAndDebug(t *testing.T) {
    s := newTestServer(t, testConfig())
    h := s.Routes()
    _ = do(t, h, http.MethodPost, "/v1/simulations", scenarioA, nil)
    rr := do(t, h, http.MethodGet, "/metrics", "", nil)
    if rr.Code != 200 || !strings.Contains(rr.Body.String(), "simulations_total") { t.Fatalf("metrics: %d", rr.Code) }
    rr = do(t, h, http.MethodGet, "/debug/info", "", nil)
    var info struct{ Build map[string]string `json:"build"`; DeadLetters *int `json:"deadLetters"` }
    _ = json.Unmarshal(rr.Body.Bytes(), &info)
    if rr.Code != 200 || info.Build["version"] == "" { t.Fatalf("debug: %d %s", rr.Code, rr.Body.String()) }
    if info.DeadLetters == nil || *info.DeadLetters != 0 { t.Fatalf("debug dead letters: %s", rr.Body.String()) }
}

func TestRouteLabel(t *testing.T) {
    cases := map[string]string{
        "/v1/simulations":                   "/v1/simulations",
        "/v1/simulations/abc":               "/v1/simulations/{id}",
        "/v1/simulations/abc/events/stream": "/v1/simulations/{id}/events/stream",
        "/v1/subscriptions/x":               "/v1/subscriptions/{id}",
        "/nope":                             "other",
    }
    for in, want := range cases {
        if got := routeLabel(in); got != want { t.Fatalf("routeLabel(%q) = %q, want %q", in, got, want) }
    }
}

// closingBroker hands out channels that the test closes without a terminal event.
type closingBroker struct{ subscribed chan chan SSEEvent }

func (b *closingBroker) Subscribe(runID string) chan SSEEvent {
    ch := make(chan SSEEvent)
    b.subscribed <- ch
    return ch
}
func (b *closingBroker) Unsubscribe(string, chan SSEEvent) {}
func (b *closingBroker) Publish(string, SSEEvent)          {}

func TestSimulationEventsStreamRecoversDroppedTerminalEvent(t *testing.T) {
    s := newTestServer(t, testConfig())
    br := &closingBroker{subscribed: make(chan chan SSEEvent, 1)}
    s.Broker = br
    ts := httptest.NewServer(s.Routes())
    defer ts.Close()

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    run := model.Run{ID: "run-slow", TenantID: "t_demo", Status: model.RunRunning, CreatedAt: time.Now().UTC()}
    if err := s.Store.SaveRun(ctx, run); err != nil { t.Fatal(err) }

    req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/simulations/run-slow/events/stream", nil)
    resp, err := http.DefaultClient.Do(req)
    if err != nil { t.Fatal(err) }
    defer resp.Body.Close()
    rd := bufio.NewReader(resp.Body)
    // the heartbeat is written once the stream holds a live subscription
    if line, err := rd.ReadString('\n'); err != nil || line != "event: heartbeat\n" { t.Fatalf("first line %q %v", line, err) }
    ch := <-br.subscribed

    run.Status = model.RunCompleted
    if err := s.Store.SaveRun(ctx, run); err != nil { t.Fatal(err) }
    close(ch)

    rest, err := io.ReadAll(rd)
    if err != nil { t.Fatalf("stream did not end after the subscriber channel closed: %v", err) }
    if !strings.Contains(string(rest), "event: simulation.completed") { t.Fatalf("stream ended without the terminal event: %s", rest) }
}
