package webhooks

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"amburoute/internal/store"
)

// Event types emitted by the simulation service.
const (
	EventSimulationStarted   = "simulation.started"
	EventSimulationStep      = "simulation.step"
	EventSimulationCompleted = "simulation.completed"
	EventSimulationFailed    = "simulation.failed"
)

// Envelope is the JSON body POSTed to subscribers.
type Envelope struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	TenantID string `json:"tenantId"`
	TS       string `json:"ts"`
	Data     any    `json:"data"`
}

type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s}
}

// Emit queues one delivery per subscription of the tenant that listens for eventType.
// It returns the number of deliveries queued.
func (p *Publisher) Emit(ctx context.Context, tenantID, eventType string, data any) int {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, tenantID, eventType)
	if err != nil || len(subs) == 0 {
		return 0
	}
	body, err := json.Marshal(Envelope{
		ID:       "evt_" + uuid.NewString(),
		Type:     eventType,
		TenantID: tenantID,
		TS:       time.Now().UTC().Format(time.RFC3339),
		Data:     data,
	})
	if err != nil {
		log.Printf("webhooks: marshal %s: %v", eventType, err)
		return 0
	}
	n := 0
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, tenantID, s.ID, eventType, s.URL, s.Secret, body); err == nil {
			n++
		}
	}
	return n
}
