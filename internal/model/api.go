package model

import "time"

// SimulationRequest is the validated input of one engine run.
type SimulationRequest struct {
	TenantID  string  `json:"tenantId,omitempty"`
	Name      string  `json:"name,omitempty"`
	Nodes     []Node  `json:"nodes"`
	Edges     []Edge  `json:"edges"`
	Start     NodeID  `json:"start"`
	TotalTime float64 `json:"totalTime"`
}

const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Run is an archived simulation.
type Run struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Name      string            `json:"name,omitempty"`
	Status    string            `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
	Request   SimulationRequest `json:"request"`
	Log       RouteLog          `json:"log"`
	Summary   Summary           `json:"summary"`
	Error     string            `json:"error,omitempty"`
}

// RunSummary is the list view of a run.
type RunSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	Summary   Summary   `json:"summary"`
}

func (r Run) ListItem() RunSummary {
	return RunSummary{ID: r.ID, Name: r.Name, Status: r.Status, CreatedAt: r.CreatedAt, Summary: r.Summary}
}

type SubscriptionRequest struct {
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret"`
}

type Subscription struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret,omitempty"`
}
