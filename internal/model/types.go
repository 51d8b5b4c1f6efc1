package model

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// NodeID identifies a location in the road network. IDs are dense and start at 0.
type NodeID int

// NodeKind classifies a location.
type NodeKind byte

const (
	Junction NodeKind = iota
	Patient
	Hospital
)

var ErrUnknownKind = errors.New("unknown node kind")

func (k NodeKind) String() string {
	switch k {
	case Patient:
		return "patient"
	case Hospital:
		return "hospital"
	case Junction:
		return "junction"
	default:
		return fmt.Sprintf("NodeKind(%d)", byte(k))
	}
}

// ParseNodeKind accepts the English names and the Portuguese labels used by
// the CSV scenario folders ("paciente", "hospital", "cruzamento").
func ParseNodeKind(s string) (NodeKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "patient", "paciente":
		return Patient, nil
	case "hospital":
		return Hospital, nil
	case "junction", "cruzamento":
		return Junction, nil
	default:
		return Junction, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

func (k NodeKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *NodeKind) UnmarshalText(b []byte) error {
	v, err := ParseNodeKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

func (k NodeKind) MarshalYAML() (any, error) { return k.String(), nil }

func (k *NodeKind) UnmarshalYAML(value *yaml.Node) error {
	return k.UnmarshalText([]byte(value.Value))
}

// Node is an immutable location. Priority and CareTime only matter for patients.
type Node struct {
	ID       NodeID   `json:"id" yaml:"id"`
	Kind     NodeKind `json:"kind" yaml:"kind"`
	Name     string   `json:"name,omitempty" yaml:"name,omitempty"`
	Priority int      `json:"priority,omitempty" yaml:"priority,omitempty"`
	CareTime float64  `json:"careTime,omitempty" yaml:"careTime,omitempty"` // minutes
}

// Edge is an undirected road segment with a transit time in minutes.
type Edge struct {
	From NodeID  `json:"from" yaml:"from"`
	To   NodeID  `json:"to" yaml:"to"`
	Time float64 `json:"time" yaml:"time"`
}

// RouteStep records one dispatch decision. Times are minutes.
type RouteStep struct {
	From                NodeID   `json:"from"`
	Patient             NodeID   `json:"patient"`
	Hospital            NodeID   `json:"hospital"`
	PathToPatient       []NodeID `json:"pathToPatient"`
	PathToHospital      []NodeID `json:"pathToHospital"`
	TravelToPatient     float64  `json:"travelToPatient"`
	CareTime            float64  `json:"careTime"`
	TravelToHospital    float64  `json:"travelToHospital"`
	TimeNeeded          float64  `json:"timeNeeded"`
	Priority            int      `json:"priority"`
	RemainingTime       float64  `json:"remainingTime"`
	AccumulatedPriority int      `json:"accumulatedPriority"`
}

// RouteLog is the ordered output of a simulation, one step per patient served.
type RouteLog []RouteStep

// Summary aggregates a finished route log.
type Summary struct {
	Steps          int      `json:"steps"`
	PatientsServed int      `json:"patientsServed"`
	PatientsTotal  int      `json:"patientsTotal"`
	TotalPriority  int      `json:"totalPriority"`
	TotalTime      float64  `json:"totalTime"`
	RemainingTime  float64  `json:"remainingTime"`
	Unserved       []NodeID `json:"unserved"`
}
