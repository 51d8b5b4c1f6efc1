package api

import (
	"errors"
	"fmt"
	"net/url"

	"amburoute/internal/model"
	"amburoute/internal/roadgraph"
	"amburoute/internal/webhooks"
)

var errTooLarge = errors.New("graph too large")

// validateSimulationRequest checks the request before a run is created so that
// async callers get a 400 instead of a failed run.
func validateSimulationRequest(req *model.SimulationRequest, maxNodes int) error {
	if len(req.Nodes) == 0 {
		return fmt.Errorf("%w: nodes must not be empty", roadgraph.ErrMalformedInput)
	}
	if maxNodes > 0 && len(req.Nodes) > maxNodes {
		return fmt.Errorf("%w: %d nodes exceeds limit of %d", errTooLarge, len(req.Nodes), maxNodes)
	}
	g, err := roadgraph.New(req.Nodes, req.Edges)
	if err != nil {
		return err
	}
	if !g.Has(req.Start) {
		return fmt.Errorf("%w: start node %d does not exist", roadgraph.ErrMalformedInput, req.Start)
	}
	return nil
}

var knownEvents = map[string]struct{}{
	webhooks.EventSimulationStarted:   {},
	webhooks.EventSimulationStep:      {},
	webhooks.EventSimulationCompleted: {},
	webhooks.EventSimulationFailed:    {},
}

func validateSubscriptionRequest(req *model.SubscriptionRequest) error {
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) URL")
	}
	if len(req.Events) == 0 {
		return fmt.Errorf("events must not be empty")
	}
	for _, e := range req.Events {
		if _, ok := knownEvents[e]; !ok {
			return fmt.Errorf("unknown event type: %s", e)
		}
	}
	return nil
}
