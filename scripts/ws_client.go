// Package main runs a demo WebSocket client that starts an async simulation
// and prints its events as they stream in.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Two patients competing for one hospital; the higher priority one is served first.
const demoScenario = `{"name":"demo","start":0,"totalTime":120,
 "nodes":[{"id":0,"kind":"junction"},{"id":1,"kind":"patient","name":"p1","priority":40,"careTime":5},
          {"id":2,"kind":"patient","name":"p2","priority":90,"careTime":10},{"id":3,"kind":"hospital","name":"central"}],
 "edges":[{"from":0,"to":1,"time":5},{"from":0,"to":2,"time":20},{"from":1,"to":3,"time":6},{"from":2,"to":3,"time":9}]}`

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Connect WS first so no step is missed
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/ws"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	hdr.Set("X-Role", "dispatcher")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()
	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodPost, base+"/v1/simulations?async=true", bytes.NewReader([]byte(demoScenario)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_demo")
	req.Header.Set("X-Role", "dispatcher")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var accepted struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil || accepted.ID == "" {
		log.Fatalf("no run id returned (status %d): %v", resp.StatusCode, err)
	}
	log.Printf("Run ID: %s", accepted.ID)

	pl, _ := json.Marshal(map[string]any{"runId": accepted.ID})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
			if m.Type == "complete" {
				return
			}
		}
	}()

	select {
	case <-time.After(10 * time.Second):
		log.Printf("timed out waiting for completion")
	case <-done:
	}
}
