package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"amburoute/internal/metrics"
)

// Minimal graphql-transport-ws style protocol to stream simulation events:
// connection_init -> connection_ack, subscribe{runId} -> next* -> complete.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	RunID     string         `json:"runId"`
	Variables map[string]any `json:"variables"`
}

func (p subscribePayload) runID() string {
	if p.RunID != "" {
		return p.RunID
	}
	if v, ok := p.Variables["runId"].(string); ok {
		return v
	}
	return ""
}

const wsReadTimeout = 60 * time.Second

// WSHandler handles /ws
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request) {
	pr := s.getPrincipal(r)
	if !pr.Known() {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid bearer token", r.URL.Path)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()
	metrics.StreamClients.WithLabelValues("ws").Inc()
	defer metrics.StreamClients.WithLabelValues("ws").Dec()

	// gorilla connections allow one concurrent writer
	var wmu sync.Mutex
	write := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}
	fail := func(id, message string) {
		b, _ := json.Marshal(map[string]string{"message": message})
		_ = write(wsMessage{Type: "error", ID: id, Payload: b})
		_ = write(wsMessage{Type: "complete", ID: id})
	}
	next := func(id string, evt SSEEvent) error {
		payload, _ := json.Marshal(map[string]any{"data": map[string]any{"simulationEvents": evt}})
		return write(wsMessage{Type: "next", ID: id, Payload: payload})
	}

	// Track subscriptions: id -> runID and channel
	type sub struct {
		runID string
		ch    chan SSEEvent
	}
	var smu sync.Mutex
	subs := map[string]sub{}
	drop := func(id string) {
		smu.Lock()
		s0, ok := subs[id]
		delete(subs, id)
		smu.Unlock()
		if ok {
			s.Broker.Unsubscribe(s0.runID, s0.ch)
		}
	}
	owns := func(id string, c chan SSEEvent) bool {
		smu.Lock()
		defer smu.Unlock()
		return subs[id].ch == c
	}
	stop := make(chan struct{})
	defer close(stop)

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout)); return nil })

	acked := false
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		switch msg.Type {
		case "connection_init":
			if acked {
				continue
			}
			acked = true
			_ = write(wsMessage{Type: "connection_ack"})
			go func() {
				ticker := time.NewTicker(20 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-stop:
						return
					case <-ticker.C:
						if err := write(wsMessage{Type: "ping"}); err != nil {
							return
						}
					}
				}
			}()
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			if !acked {
				fail(msg.ID, "connection_init required")
				continue
			}
			var pl subscribePayload
			_ = json.Unmarshal(msg.Payload, &pl)
			rid := pl.runID()
			if rid == "" {
				fail(msg.ID, "runId required")
				continue
			}
			ch, done, err := s.subscribeRun(r.Context(), pr.Tenant, rid)
			if err != nil {
				fail(msg.ID, "simulation not found")
				continue
			}
			if done != nil {
				_ = next(msg.ID, *done)
				_ = write(wsMessage{Type: "complete", ID: msg.ID})
				continue
			}
			// a repeated id replaces the earlier subscription
			drop(msg.ID)
			smu.Lock()
			subs[msg.ID] = sub{runID: rid, ch: ch}
			smu.Unlock()
			// Fanout goroutine; ends on the terminal event or when the channel closes
			go func(id string, c chan SSEEvent) {
				for evt := range c {
					if err := next(id, evt); err != nil {
						return
					}
					if evt.Terminal() {
						drop(id)
						_ = write(wsMessage{Type: "complete", ID: id})
						return
					}
				}
				// closed by drop: the id is no longer ours
				if !owns(id, c) {
					return
				}
				// closed by the broker before the terminal event could be queued
				drop(id)
				if final, ok := s.finalEvent(r.Context(), pr.Tenant, rid); ok {
					_ = next(id, final)
				}
				_ = write(wsMessage{Type: "complete", ID: id})
			}(msg.ID, ch)
		case "complete":
			drop(msg.ID)
		default:
			// ignore
		}
	}
	// Cleanup
	smu.Lock()
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	smu.Unlock()
	for _, id := range ids {
		drop(id)
	}
}
