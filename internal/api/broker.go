package api

import (
    "sync"
)

// SSEEvent is one simulation event fanned out to stream subscribers.
type SSEEvent struct {
    Type string         `json:"type"`
    Data map[string]any `json:"data"`
}

// Terminal reports whether no further events follow for the run.
func (e SSEEvent) Terminal() bool {
    return e.Type == "simulation.completed" || e.Type == "simulation.failed"
}

type EventBroker interface {
    Subscribe(runID string) chan SSEEvent
    Unsubscribe(runID string, ch chan SSEEvent)
    Publish(runID string, evt SSEEvent)
}

// Broker is the in-process EventBroker.
type Broker struct {
    mu      sync.Mutex
    subs    map[string]map[chan SSEEvent]struct{} // runId -> set of channels
}

func NewBroker() *Broker {
    return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(runID string) chan SSEEvent {
    ch := make(chan SSEEvent, 64)
    b.mu.Lock()
    if b.subs[runID] == nil { b.subs[runID] = map[chan SSEEvent]struct{}{} }
    b.subs[runID][ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

func (b *Broker) Unsubscribe(runID string, ch chan SSEEvent) {
    b.mu.Lock()
    defer b.mu.Unlock()
    m := b.subs[runID]
    if _, ok := m[ch]; !ok { return }
    delete(m, ch)
    if len(m) == 0 { delete(b.subs, runID) }
    close(ch)
}

// Publish never blocks; a subscriber with a full buffer misses the event.
// When that event is terminal the subscriber's channel is closed instead, so
// readers always see the stream end and can fetch the final state themselves.
func (b *Broker) Publish(runID string, evt SSEEvent) {
    b.mu.Lock()
    defer b.mu.Unlock()
    m := b.subs[runID]
    for ch := range m {
        select {
        case ch <- evt:
        default:
            if evt.Terminal() {
                delete(m, ch)
                close(ch)
            }
        }
    }
    if len(m) == 0 { delete(b.subs, runID) }
}

func (b *Broker) count(runID string) int {
    b.mu.Lock()
    defer b.mu.Unlock()
    return len(b.subs[runID])
}
