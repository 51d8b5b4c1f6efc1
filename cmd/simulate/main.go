// Command simulate runs one dispatch simulation from a CSV folder or a YAML
// scenario and prints the route log.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"

	"amburoute/internal/dispatch"
	"amburoute/internal/model"
	"amburoute/internal/roadgraph"
	"amburoute/internal/scenario"
)

func main() {
	log.SetFlags(0)
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("dir", "", "scenario folder with pontos.csv, ruas.csv, dados_iniciais.csv")
	file := fs.String("scenario", "", "YAML scenario file")
	workers := fs.Int("workers", 0, "shortest-path workers (0 = GOMAXPROCS)")
	asJSON := fs.Bool("json", false, "print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if (*dir == "") == (*file == "") {
		fmt.Fprintln(stderr, "simulate: exactly one of -dir or -scenario is required")
		fs.Usage()
		return 2
	}

	var sc scenario.Scenario
	var err error
	if *dir != "" {
		sc, err = scenario.LoadDir(*dir)
	} else {
		sc, err = scenario.LoadYAML(*file)
	}
	if err != nil {
		fmt.Fprintf(stderr, "simulate: %v\n", err)
		return 1
	}
	res, err := dispatch.Run(context.Background(), sc.Request(), *workers)
	if err != nil {
		fmt.Fprintf(stderr, "simulate: %v\n", err)
		if errors.Is(err, roadgraph.ErrMalformedInput) {
			return 1
		}
		return 3
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if res.Log == nil {
			res.Log = model.RouteLog{}
		}
		_ = enc.Encode(map[string]any{"name": sc.Name, "log": res.Log, "summary": res.Summary})
		return 0
	}
	printTable(stdout, sc, res)
	return 0
}

func printTable(w io.Writer, sc scenario.Scenario, res dispatch.Result) {
	fmt.Fprintf(w, "Scenario %s: start %d, budget %g\n\n", sc.Name, sc.Start, sc.TotalTime)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tPATIENT\tHOSPITAL\tPRIORITY\tTIME\tACC PRIORITY\tREMAINING\tPATH")
	for i, st := range res.Log {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%g\t%d\t%g\t%s\n", i+1, label(sc, st.Patient), label(sc, st.Hospital),
			st.Priority, st.TimeNeeded, st.AccumulatedPriority, st.RemainingTime, route(st))
	}
	_ = tw.Flush()
	s := res.Summary
	fmt.Fprintf(w, "\nServed %d of %d patients, total priority %d, time used %g, remaining %g\n",
		s.PatientsServed, s.PatientsTotal, s.TotalPriority, s.TotalTime, s.RemainingTime)
	if len(s.Unserved) > 0 {
		names := make([]string, len(s.Unserved))
		for i, id := range s.Unserved {
			names[i] = label(sc, id)
		}
		fmt.Fprintf(w, "Unserved: %s\n", strings.Join(names, ", "))
	}
}

func label(sc scenario.Scenario, id model.NodeID) string {
	for _, n := range sc.Nodes {
		if n.ID == id && n.Name != "" {
			return fmt.Sprintf("%d (%s)", id, n.Name)
		}
	}
	return fmt.Sprint(id)
}

// route joins the two legs, dropping the patient node duplicated between them.
func route(st model.RouteStep) string {
	ids := append([]model.NodeID{}, st.PathToPatient...)
	if len(ids) == 0 {
		ids = append(ids, st.Patient)
	}
	if len(st.PathToHospital) > 1 {
		ids = append(ids, st.PathToHospital[1:]...)
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, "-")
}
