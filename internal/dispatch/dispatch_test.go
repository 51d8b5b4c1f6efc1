package dispatch

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"amburoute/internal/model"
	"amburoute/internal/paths"
	"amburoute/internal/roadgraph"
)

func build(t *testing.T, nodes []model.Node, edges []model.Edge) (*roadgraph.Graph, *paths.Table) {
	t.Helper()
	g, err := roadgraph.New(nodes, edges)
	if err != nil { t.Fatalf("roadgraph.New: %v", err) }
	tbl, err := paths.Build(context.Background(), g, 2)
	if err != nil { t.Fatalf("paths.Build: %v", err) }
	return g, tbl
}

// scenarioA: 0 (start) --10-- 1 (patient p90 care5) --8-- 2 (hospital)
func scenarioA(t *testing.T) (*roadgraph.Graph, *paths.Table) {
	return build(t,
		[]model.Node{
			{ID: 0, Kind: model.Junction},
			{ID: 1, Kind: model.Patient, Priority: 90, CareTime: 5},
			{ID: 2, Kind: model.Hospital},
		},
		[]model.Edge{{From: 0, To: 1, Time: 10}, {From: 1, To: 2, Time: 8}},
	)
}

func patientOrder(log model.RouteLog) []model.NodeID {
	out := []model.NodeID{}
	for _, s := range log { out = append(out, s.Patient) }
	return out
}

func TestScenarioA(t *testing.T) {
	g, tbl := scenarioA(t)
	log, st := Simulate(g, tbl, 0, 50)
	if len(log) != 1 { t.Fatalf("want 1 step, got %d", len(log)) }
	s := log[0]
	if s.From != 0 || s.Patient != 1 || s.Hospital != 2 || s.Priority != 90 { t.Fatalf("bad step: %+v", s) }
	if s.TimeNeeded != 23 || s.TravelToPatient != 10 || s.CareTime != 5 || s.TravelToHospital != 8 { t.Fatalf("bad times: %+v", s) }
	if !reflect.DeepEqual(s.PathToPatient, []model.NodeID{0, 1}) || !reflect.DeepEqual(s.PathToHospital, []model.NodeID{1, 2}) {
		t.Fatalf("bad paths: %v %v", s.PathToPatient, s.PathToHospital)
	}
	if st.Remaining != 27 || s.RemainingTime != 27 { t.Fatalf("remaining: %v / %v", st.Remaining, s.RemainingTime) }
	if st.Current != 2 { t.Fatalf("vehicle should end at hospital 2, at %d", st.Current) }
}

func TestScenarioB(t *testing.T) {
	g, tbl := scenarioA(t)
	log, st := Simulate(g, tbl, 0, 20)
	if len(log) != 0 { t.Fatalf("want empty log, got %+v", log) }
	if st.Remaining != 20 { t.Fatalf("remaining changed: %v", st.Remaining) }
}

func TestExactBudgetIsFeasible(t *testing.T) {
	g, tbl := scenarioA(t)
	log, st := Simulate(g, tbl, 0, 23)
	if len(log) != 1 || st.Remaining != 0 { t.Fatalf("want one step ending at 0, got %d steps remaining %v", len(log), st.Remaining) }
}

func TestScenarioCPriorityBeatsCost(t *testing.T) {
	g, tbl := build(t,
		[]model.Node{
			{ID: 0, Kind: model.Junction},
			{ID: 1, Kind: model.Patient, Priority: 50, CareTime: 1},
			{ID: 2, Kind: model.Patient, Priority: 90, CareTime: 1},
			{ID: 3, Kind: model.Hospital},
		},
		[]model.Edge{{From: 0, To: 1, Time: 2}, {From: 0, To: 2, Time: 10}, {From: 1, To: 3, Time: 1}, {From: 2, To: 3, Time: 1}},
	)
	log, _ := Simulate(g, tbl, 0, 100)
	if got := patientOrder(log); !reflect.DeepEqual(got, []model.NodeID{2, 1}) { t.Fatalf("order %v, want [2 1]", got) }
	if log[1].AccumulatedPriority != 140 { t.Fatalf("accumulated priority %d", log[1].AccumulatedPriority) }
}

func TestScenarioDEqualPriorityCheapestFirst(t *testing.T) {
	g, tbl := build(t,
		[]model.Node{
			{ID: 0, Kind: model.Junction},
			{ID: 1, Kind: model.Patient, Priority: 70, CareTime: 0},
			{ID: 2, Kind: model.Patient, Priority: 70, CareTime: 3},
			{ID: 3, Kind: model.Hospital},
		},
		[]model.Edge{{From: 0, To: 1, Time: 6}, {From: 1, To: 3, Time: 6}, {From: 0, To: 2, Time: 3}, {From: 2, To: 3, Time: 3}},
	)
	d, ok := Select(g, tbl, 0, 100, map[model.NodeID]bool{})
	if !ok || d.Patient != 2 || d.TotalTime != 9 { t.Fatalf("first decision %+v ok=%v", d, ok) }
	log, _ := Simulate(g, tbl, 0, 100)
	if got := patientOrder(log); !reflect.DeepEqual(got, []model.NodeID{2, 1}) { t.Fatalf("order %v, want [2 1]", got) }
	if log[1].TimeNeeded != 12 { t.Fatalf("second step time %v", log[1].TimeNeeded) }
}

func TestTieBreaksByLowestID(t *testing.T) {
	// patients 1 and 2 are symmetric; hospitals 3 and 4 are equidistant from both.
	g, tbl := build(t,
		[]model.Node{
			{ID: 0, Kind: model.Junction},
			{ID: 1, Kind: model.Patient, Priority: 5, CareTime: 1},
			{ID: 2, Kind: model.Patient, Priority: 5, CareTime: 1},
			{ID: 3, Kind: model.Hospital},
			{ID: 4, Kind: model.Hospital},
		},
		[]model.Edge{
			{From: 0, To: 1, Time: 2}, {From: 0, To: 2, Time: 2},
			{From: 1, To: 3, Time: 4}, {From: 1, To: 4, Time: 4},
			{From: 2, To: 3, Time: 4}, {From: 2, To: 4, Time: 4},
		},
	)
	d, ok := Select(g, tbl, 0, 100, map[model.NodeID]bool{})
	if !ok || d.Patient != 1 || d.Hospital != 3 { t.Fatalf("want patient 1 to hospital 3, got %+v", d) }
}

func TestSelectIsPureAndIdempotent(t *testing.T) {
	g, tbl := scenarioA(t)
	served := map[model.NodeID]bool{}
	d1, ok1 := Select(g, tbl, 0, 50, served)
	d2, ok2 := Select(g, tbl, 0, 50, served)
	if ok1 != ok2 || !reflect.DeepEqual(d1, d2) { t.Fatalf("Select not idempotent: %+v vs %+v", d1, d2) }
	if len(served) != 0 { t.Fatal("Select mutated served set") }
	if _, ok := Select(g, tbl, 0, 50, map[model.NodeID]bool{1: true}); ok { t.Fatal("served patient selected again") }
}

func TestNoHospitalMeansNoCandidate(t *testing.T) {
	g, tbl := build(t,
		[]model.Node{{ID: 0}, {ID: 1, Kind: model.Patient, Priority: 1}},
		[]model.Edge{{From: 0, To: 1, Time: 1}},
	)
	if _, ok := Select(g, tbl, 0, 1000, map[model.NodeID]bool{}); ok { t.Fatal("patient without reachable hospital is infeasible") }
}

func TestStartAtPatient(t *testing.T) {
	g, tbl := scenarioA(t)
	log, st := Simulate(g, tbl, 1, 50)
	if len(log) != 1 || log[0].TimeNeeded != 13 || len(log[0].PathToPatient) != 0 { t.Fatalf("bad log %+v", log) }
	if st.Remaining != 37 { t.Fatalf("remaining %v", st.Remaining) }
}

func TestDisconnectedStartAndNonPositiveBudget(t *testing.T) {
	g, tbl := build(t,
		[]model.Node{{ID: 0}, {ID: 1, Kind: model.Patient, Priority: 3}, {ID: 2, Kind: model.Hospital}},
		[]model.Edge{{From: 1, To: 2, Time: 1}},
	)
	if log, _ := Simulate(g, tbl, 0, 100); len(log) != 0 { t.Fatalf("disconnected start served %v", log) }
	if log, _ := Simulate(g, tbl, 1, 0); len(log) != 0 { t.Fatalf("zero budget served %v", log) }
	if log, _ := Simulate(g, tbl, 1, -5); len(log) != 0 { t.Fatalf("negative budget served %v", log) }
	if log, _ := Simulate(g, tbl, 9, 100); len(log) != 0 { t.Fatalf("unknown start served %v", log) }
}

func TestStepHookSeesEveryStep(t *testing.T) {
	g, tbl := scenarioA(t)
	var seen []model.RouteStep
	log, _ := Simulate(g, tbl, 0, 50, WithStepHook(func(s model.RouteStep) { seen = append(seen, s) }))
	if !reflect.DeepEqual([]model.RouteStep(log), seen) { t.Fatalf("hook saw %+v, log %+v", seen, log) }
}

func TestRandomNetworksInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		n := 3 + rng.Intn(10)
		nodes := make([]model.Node, n)
		for i := range nodes {
			kind := model.NodeKind(rng.Intn(3))
			nodes[i] = model.Node{ID: model.NodeID(i), Kind: kind}
			if kind == model.Patient {
				nodes[i].Priority = rng.Intn(5) * 10
				nodes[i].CareTime = float64(rng.Intn(20)) / 4
			}
		}
		var edges []model.Edge
		for i := 0; i < n+rng.Intn(2*n); i++ {
			edges = append(edges, model.Edge{From: model.NodeID(rng.Intn(n)), To: model.NodeID(rng.Intn(n)), Time: float64(rng.Intn(40)) / 2})
		}
		g, tbl := build(t, nodes, edges)
		budget := float64(rng.Intn(200))
		log, st := Simulate(g, tbl, model.NodeID(rng.Intn(n)), budget)

		served := map[model.NodeID]bool{}
		used := 0.0
		for i, s := range log {
			if served[s.Patient] { t.Fatalf("round %d: patient %d served twice", round, s.Patient) }
			served[s.Patient] = true
			if len(served) != i+1 { t.Fatalf("round %d: served did not grow by one", round) }
			used += s.TimeNeeded
		}
		if st.Remaining < 0 { t.Fatalf("round %d: remaining %v < 0", round, st.Remaining) }
		if math.Abs(budget-used-st.Remaining) > 1e-9 { t.Fatalf("round %d: budget %v used %v remaining %v", round, budget, used, st.Remaining) }
		if st.Remaining == 0 { continue }
		// every unserved patient must be infeasible from the final position
		for _, p := range g.Patients() {
			if st.Served[p] { continue }
			toP, ok := tbl.Distance(st.Current, p)
			if !ok { continue }
			_, toH := nearestHospital(p, g.Hospitals(), tbl)
			if need := toP + g.Node(p).CareTime + toH; !(need > st.Remaining) {
				t.Fatalf("round %d: patient %d needs %v but %v remained", round, p, need, st.Remaining)
			}
		}
	}
}

func TestRunValidatesBeforeSimulating(t *testing.T) {
	req := model.SimulationRequest{
		Nodes:     []model.Node{{ID: 0}, {ID: 1, Kind: model.Patient, Priority: 90, CareTime: 5}, {ID: 2, Kind: model.Hospital}},
		Edges:     []model.Edge{{From: 0, To: 1, Time: 10}, {From: 1, To: 2, Time: 8}},
		Start:     0,
		TotalTime: 50,
	}
	res, err := Run(context.Background(), req, 0)
	if err != nil { t.Fatalf("Run: %v", err) }
	if res.Summary.TotalPriority != 90 || res.Summary.TotalTime != 23 || res.Summary.RemainingTime != 27 || len(res.Summary.Unserved) != 0 {
		t.Fatalf("summary %+v", res.Summary)
	}

	bad := req
	bad.Start = 7
	if _, err := Run(context.Background(), bad, 0); !errors.Is(err, roadgraph.ErrMalformedInput) { t.Fatalf("want malformed start, got %v", err) }
	bad = req
	bad.Edges = append([]model.Edge{}, model.Edge{From: 0, To: 3, Time: 1})
	if _, err := Run(context.Background(), bad, 0); !errors.Is(err, roadgraph.ErrMalformedInput) { t.Fatalf("want malformed edge, got %v", err) }
	bad = req
	bad.TotalTime = math.NaN()
	if _, err := Run(context.Background(), bad, 0); !errors.Is(err, roadgraph.ErrMalformedInput) { t.Fatalf("want malformed budget, got %v", err) }
}
