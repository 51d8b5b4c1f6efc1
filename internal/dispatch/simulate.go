// Package dispatch selects patients for a single emergency vehicle and
// simulates its route under a total time budget.
package dispatch

import (
	"context"
	"fmt"
	"math"
	"time"

	"amburoute/internal/model"
	"amburoute/internal/paths"
	"amburoute/internal/roadgraph"
)

// VehicleState is the mutable state of the dispatch loop.
type VehicleState struct {
	Current   model.NodeID
	Remaining float64
	Served    map[model.NodeID]bool
}

type options struct {
	onStep func(model.RouteStep)
}

// Option configures Simulate.
type Option func(*options)

// WithStepHook calls fn with every step right after it is appended to the log.
func WithStepHook(fn func(model.RouteStep)) Option {
	return func(o *options) { o.onStep = fn }
}

// Simulate runs the greedy dispatch loop from start with totalTime minutes.
// It stops when the budget is spent, every patient is served, or no patient
// is feasible. A start outside g or a non-positive budget yields an empty log.
func Simulate(g *roadgraph.Graph, table *paths.Table, start model.NodeID, totalTime float64, opts ...Option) (model.RouteLog, VehicleState) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	state := VehicleState{Current: start, Remaining: totalTime, Served: map[model.NodeID]bool{}}
	log := model.RouteLog{}
	if !g.Has(start) {
		return log, state
	}
	accumulated := 0
	for state.Remaining > 0 && len(state.Served) < len(g.Patients()) {
		d, ok := Select(g, table, state.Current, state.Remaining, state.Served)
		if !ok {
			break
		}
		state.Remaining -= d.TotalTime
		accumulated += d.Priority
		step := model.RouteStep{
			From:                state.Current,
			Patient:             d.Patient,
			Hospital:            d.Hospital,
			PathToPatient:       d.PathToPatient,
			PathToHospital:      d.PathToHospital,
			TravelToPatient:     d.TravelToPatient,
			CareTime:            d.CareTime,
			TravelToHospital:    d.TravelToHospital,
			TimeNeeded:          d.TotalTime,
			Priority:            d.Priority,
			RemainingTime:       state.Remaining,
			AccumulatedPriority: accumulated,
		}
		log = append(log, step)
		state.Current = d.Hospital
		if n := len(d.PathToHospital); n > 0 {
			state.Current = d.PathToHospital[n-1]
		}
		state.Served[d.Patient] = true
		if o.onStep != nil {
			o.onStep(step)
		}
	}
	return log, state
}

// Summarize aggregates a finished log against the patients of g.
func Summarize(g *roadgraph.Graph, log model.RouteLog, state VehicleState) model.Summary {
	s := model.Summary{
		Steps:          len(log),
		PatientsServed: len(state.Served),
		PatientsTotal:  len(g.Patients()),
		RemainingTime:  state.Remaining,
		Unserved:       []model.NodeID{},
	}
	for _, st := range log {
		s.TotalPriority += st.Priority
		s.TotalTime += st.TimeNeeded
	}
	for _, p := range g.Patients() {
		if !state.Served[p] {
			s.Unserved = append(s.Unserved, p)
		}
	}
	return s
}

// Result is the outcome of Run.
type Result struct {
	Log     model.RouteLog
	Summary model.Summary
	State   VehicleState
	// IndexTime is how long the shortest-path table took to build.
	IndexTime time.Duration
}

// Run validates req, builds the shortest-path table with the given number of
// workers and simulates. Malformed input is reported before any simulation
// starts and wraps roadgraph.ErrMalformedInput.
func Run(ctx context.Context, req model.SimulationRequest, workers int, opts ...Option) (Result, error) {
	g, err := roadgraph.New(req.Nodes, req.Edges)
	if err != nil {
		return Result{}, err
	}
	if !g.Has(req.Start) {
		return Result{}, fmt.Errorf("%w: start node %d does not exist", roadgraph.ErrMalformedInput, req.Start)
	}
	if math.IsNaN(req.TotalTime) || math.IsInf(req.TotalTime, 0) {
		return Result{}, fmt.Errorf("%w: total time %v is not finite", roadgraph.ErrMalformedInput, req.TotalTime)
	}
	began := time.Now()
	// the selector only queries from the start and from hospitals to patients
	sources := append([]model.NodeID{req.Start}, g.Patients()...)
	sources = append(sources, g.Hospitals()...)
	table, err := paths.Build(ctx, g, workers, sources...)
	if err != nil {
		return Result{}, fmt.Errorf("build shortest paths: %w", err)
	}
	indexTime := time.Since(began)
	log, state := Simulate(g, table, req.Start, req.TotalTime, opts...)
	return Result{Log: log, Summary: Summarize(g, log, state), State: state, IndexTime: indexTime}, nil
}
