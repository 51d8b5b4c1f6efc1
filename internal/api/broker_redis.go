package api

import (
    "context"
    "encoding/json"
    "log"
    "sync"
    "time"

    redis "github.com/redis/go-redis/v9"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so that every API
// instance sees the steps of a simulation running on any other instance.
type RedisBroker struct {
    rdb *redis.Client
    mu  sync.Mutex
    subs map[chan SSEEvent]*redis.PubSub
}

func NewRedisBroker(url string) (*RedisBroker, error) {
    opt, err := redis.ParseURL(url)
    if err != nil { return nil, err }
    rdb := redis.NewClient(opt)
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if err := rdb.Ping(ctx).Err(); err != nil {
        _ = rdb.Close()
        return nil, err
    }
    return &RedisBroker{rdb: rdb, subs: map[chan SSEEvent]*redis.PubSub{}}, nil
}

func (b *RedisBroker) Subscribe(runID string) chan SSEEvent {
    ch := make(chan SSEEvent, 64)
    ctx := context.Background()
    ps := b.rdb.Subscribe(ctx, b.chanName(runID))
    // wait for the subscription confirmation so no early publish is lost
    if _, err := ps.Receive(ctx); err != nil {
        log.Printf("redis subscribe %s: %v", runID, err)
    }
    b.mu.Lock()
    b.subs[ch] = ps
    b.mu.Unlock()
    go func() {
        defer close(ch)
        for msg := range ps.Channel() {
            var evt SSEEvent
            if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil { continue }
            select {
            case ch <- evt:
            default:
                // buffer full: end the stream rather than lose the last event silently
                if evt.Terminal() { _ = ps.Close() }
            }
        }
    }()
    return ch
}

// Unsubscribe closes the Pub/Sub connection; ch is closed once its reader goroutine drains.
func (b *RedisBroker) Unsubscribe(runID string, ch chan SSEEvent) {
    b.mu.Lock()
    ps := b.subs[ch]
    delete(b.subs, ch)
    b.mu.Unlock()
    if ps != nil { _ = ps.Close() }
}

func (b *RedisBroker) Publish(runID string, evt SSEEvent) {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    data, _ := json.Marshal(evt)
    if err := b.rdb.Publish(ctx, b.chanName(runID), data).Err(); err != nil {
        log.Printf("redis publish %s: %v", runID, err)
    }
}

func (b *RedisBroker) chanName(runID string) string { return "simulation:" + runID }
