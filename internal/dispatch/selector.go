package dispatch

import (
	"math"

	"amburoute/internal/model"
	"amburoute/internal/paths"
	"amburoute/internal/roadgraph"
)

// Decision is the selector's choice for the next step. Times are minutes.
type Decision struct {
	Patient          model.NodeID
	Hospital         model.NodeID
	PathToPatient    []model.NodeID
	PathToHospital   []model.NodeID
	TravelToPatient  float64
	CareTime         float64
	TravelToHospital float64
	TotalTime        float64
	Priority         int
}

// nearestHospital folds over hospitals in ascending id order; strict < keeps
// the lowest id among equally distant hospitals.
func nearestHospital(from model.NodeID, hospitals []model.NodeID, table *paths.Table) (model.NodeID, float64) {
	best, bestDist := model.NodeID(-1), math.Inf(1)
	for _, h := range hospitals {
		if d, ok := table.Distance(from, h); ok && d < bestDist {
			best, bestDist = h, d
		}
	}
	return best, bestDist
}

// better orders candidates: higher priority, then lower total time, then lower id.
func better(a, b Decision) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.TotalTime != b.TotalTime {
		return a.TotalTime < b.TotalTime
	}
	return a.Patient < b.Patient
}

// Select evaluates every unserved patient from current with the given time
// left and returns the best feasible one. ok is false when no patient can be
// reached, cared for and delivered to a hospital within remaining. Select
// never mutates its arguments.
func Select(g *roadgraph.Graph, table *paths.Table, current model.NodeID, remaining float64, served map[model.NodeID]bool) (Decision, bool) {
	var best Decision
	found := false
	hospitals := g.Hospitals()
	for _, p := range g.Patients() {
		if served[p] {
			continue
		}
		toPatient, ok := table.Distance(current, p)
		if !ok {
			continue
		}
		h, toHospital := nearestHospital(p, hospitals, table)
		if h < 0 {
			continue
		}
		node := g.Node(p)
		total := toPatient + node.CareTime + toHospital
		if total > remaining {
			continue
		}
		cand := Decision{
			Patient:          p,
			Hospital:         h,
			TravelToPatient:  toPatient,
			CareTime:         node.CareTime,
			TravelToHospital: toHospital,
			TotalTime:        total,
			Priority:         node.Priority,
		}
		if !found || better(cand, best) {
			best, found = cand, true
		}
	}
	if !found {
		return Decision{}, false
	}
	best.PathToPatient = table.Path(current, best.Patient)
	best.PathToHospital = table.Path(best.Patient, best.Hospital)
	return best, true
}
