// Package scenario loads simulation inputs from CSV folders and YAML files
// into typed, validated records.
package scenario

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"amburoute/internal/model"
	"amburoute/internal/roadgraph"
)

// File names of a CSV scenario folder.
const (
	PointsFile  = "pontos.csv"
	StreetsFile = "ruas.csv"
	InitialFile = "dados_iniciais.csv"
)

// Scenario is one complete simulation input.
type Scenario struct {
	Name      string       `yaml:"name"`
	Start     model.NodeID `yaml:"start"`
	TotalTime float64      `yaml:"totalTime"`
	Nodes     []model.Node `yaml:"nodes"`
	Edges     []model.Edge `yaml:"edges"`
}

// Request converts s to the engine's request model.
func (s Scenario) Request() model.SimulationRequest {
	return model.SimulationRequest{Name: s.Name, Nodes: s.Nodes, Edges: s.Edges, Start: s.Start, TotalTime: s.TotalTime}
}

func malformed(file string, line int, format string, args ...any) error {
	return fmt.Errorf("%w: %s:%d: %s", roadgraph.ErrMalformedInput, file, line, fmt.Sprintf(format, args...))
}

// table is a CSV file whose columns are addressed by header name.
type table struct {
	file string
	cols map[string]int
	rows [][]string
}

func readTable(path string, required ...string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseTable(filepath.Base(path), f, required...)
}

func parseTable(name string, r io.Reader, required ...string) (*table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", roadgraph.ErrMalformedInput, name, err)
	}
	if len(records) == 0 {
		return nil, malformed(name, 1, "missing header")
	}
	t := &table{file: name, cols: map[string]int{}, rows: records[1:]}
	for i, h := range records[0] {
		t.cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, c := range required {
		if _, ok := t.cols[c]; !ok {
			return nil, malformed(name, 1, "missing column %q", c)
		}
	}
	return t, nil
}

// cell returns the trimmed value of column col in row i; line numbers count the header.
func (t *table) cell(i int, col string) string {
	j, ok := t.cols[col]
	if !ok || j >= len(t.rows[i]) {
		return ""
	}
	return strings.TrimSpace(t.rows[i][j])
}

func (t *table) intAt(i int, col string) (int, error) {
	v, err := strconv.Atoi(t.cell(i, col))
	if err != nil {
		// ids are sometimes exported as floats ("3.0")
		f, ferr := strconv.ParseFloat(t.cell(i, col), 64)
		if ferr != nil || f != float64(int(f)) {
			return 0, malformed(t.file, i+2, "column %s: %q is not an integer", col, t.cell(i, col))
		}
		return int(f), nil
	}
	return v, nil
}

func (t *table) floatAt(i int, col string) (float64, error) {
	v, err := strconv.ParseFloat(t.cell(i, col), 64)
	if err != nil {
		return 0, malformed(t.file, i+2, "column %s: %q is not a number", col, t.cell(i, col))
	}
	return v, nil
}

// LoadDir reads a scenario folder made of pontos.csv, ruas.csv and
// dados_iniciais.csv. Ids that only appear in ruas.csv become junctions.
func LoadDir(dir string) (Scenario, error) {
	points, err := readTable(filepath.Join(dir, PointsFile), "id", "tipo")
	if err != nil {
		return Scenario{}, err
	}
	streets, err := readTable(filepath.Join(dir, StreetsFile), "ponto_origem", "ponto_destino", "tempo_transporte")
	if err != nil {
		return Scenario{}, err
	}
	initial, err := readTable(filepath.Join(dir, InitialFile), "ponto_inicial", "tempo_total")
	if err != nil {
		return Scenario{}, err
	}
	return fromTables(filepath.Base(filepath.Clean(dir)), points, streets, initial)
}

func fromTables(name string, points, streets, initial *table) (Scenario, error) {
	sc := Scenario{Name: name}
	if len(initial.rows) == 0 {
		return sc, malformed(initial.file, 2, "no initial data row")
	}
	start, err := initial.intAt(0, "ponto_inicial")
	if err != nil {
		return sc, err
	}
	sc.Start = model.NodeID(start)
	if sc.TotalTime, err = initial.floatAt(0, "tempo_total"); err != nil {
		return sc, err
	}

	byID := map[int]model.Node{}
	maxID := -1
	for i := range points.rows {
		id, err := points.intAt(i, "id")
		if err != nil {
			return sc, err
		}
		if id < 0 {
			return sc, malformed(points.file, i+2, "negative id %d", id)
		}
		if _, dup := byID[id]; dup {
			return sc, malformed(points.file, i+2, "duplicate id %d", id)
		}
		kind, err := model.ParseNodeKind(points.cell(i, "tipo"))
		if err != nil {
			return sc, malformed(points.file, i+2, "%v", err)
		}
		nd := model.Node{ID: model.NodeID(id), Kind: kind, Name: points.cell(i, "nome")}
		if kind == model.Patient {
			if nd.Priority, err = points.intAt(i, "prioridade"); err != nil {
				return sc, err
			}
			if nd.CareTime, err = points.floatAt(i, "tempo_cuidados_minimos"); err != nil {
				return sc, err
			}
		}
		byID[id] = nd
		maxID = max(maxID, id)
	}

	for i := range streets.rows {
		from, err := streets.intAt(i, "ponto_origem")
		if err != nil {
			return sc, err
		}
		to, err := streets.intAt(i, "ponto_destino")
		if err != nil {
			return sc, err
		}
		tm, err := streets.floatAt(i, "tempo_transporte")
		if err != nil {
			return sc, err
		}
		if from < 0 || to < 0 {
			return sc, malformed(streets.file, i+2, "negative node id")
		}
		sc.Edges = append(sc.Edges, model.Edge{From: model.NodeID(from), To: model.NodeID(to), Time: tm})
		maxID = max(maxID, from, to)
	}

	for id := 0; id <= maxID; id++ {
		nd, ok := byID[id]
		if !ok {
			nd = model.Node{ID: model.NodeID(id), Kind: model.Junction}
		}
		sc.Nodes = append(sc.Nodes, nd)
	}
	return sc, nil
}

var ErrEmptyScenario = errors.New("scenario has no nodes")

// ParseYAML decodes a YAML scenario document.
func ParseYAML(data []byte) (Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("%w: %v", roadgraph.ErrMalformedInput, err)
	}
	if len(sc.Nodes) == 0 {
		return Scenario{}, fmt.Errorf("%w: %w", roadgraph.ErrMalformedInput, ErrEmptyScenario)
	}
	return sc, nil
}

// LoadYAML reads and decodes a YAML scenario file.
func LoadYAML(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, err
	}
	sc, err := ParseYAML(data)
	if err != nil {
		return Scenario{}, fmt.Errorf("%s: %w", path, err)
	}
	if sc.Name == "" {
		sc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return sc, nil
}
