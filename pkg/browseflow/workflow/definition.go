package workflow

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/browseflow/pkg/browseflow"
	"github.com/randalmurphal/browseflow/pkg/browseflow/nodes"
)

// Node ids of the standard topology.
const (
	NodePlanning      = "planning_node"
	NodeBrowserAction = "browser_action_node"
	NodeValidation    = "validation_node"
	NodeUserInput     = "user_input_node"
)

// Definition is a workflow topology as data. It is what a YAML workflow
// file decodes into.
//
//	name: checkout
//	entry: planning_node
//	nodes:
//	  - {id: planning_node, name: Planning Actions, type: planning, on_error: record_error}
//	  - {id: user_input_node, type: input_request, requires_input: true, input_timeout: 10m}
//	edges:
//	  - {from: validation_node, to: planning_node, flag: needs_retry}
//	  - {from: validation_node, to: user_input_node, when: "needs_user_input && retry_count == 0"}
type Definition struct {
	Name  string            `yaml:"name" json:"name"`
	Entry string            `yaml:"entry" json:"entry"`
	Nodes []browseflow.Node `yaml:"nodes" json:"nodes"`
	Edges []EdgeDefinition  `yaml:"edges" json:"edges"`
}

// EdgeDefinition is one edge. Flag and When are mutually exclusive; with
// neither the edge always matches.
type EdgeDefinition struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
	Flag string `yaml:"flag,omitempty" json:"flag,omitempty"`
	When string `yaml:"when,omitempty" json:"when,omitempty"`
}

// StandardDefinition is planning -> browser action -> validation, with
// validation looping back to planning on needs_retry or on to the input
// node on needs_user_input, and the input node returning to planning.
func StandardDefinition() Definition {
	return Definition{
		Name:  "standard",
		Entry: NodePlanning,
		Nodes: []browseflow.Node{
			{ID: NodePlanning, Name: "Planning Actions", Type: browseflow.NodePlanning, OnError: nodes.HandlerRecordError},
			{ID: NodeBrowserAction, Name: "Executing Browser Actions", Type: browseflow.NodeActionDispatch, OnError: nodes.HandlerRecordError},
			{ID: NodeValidation, Name: "Validating Actions", Type: browseflow.NodeValidation, OnError: nodes.HandlerRecordError},
			{ID: NodeUserInput, Name: "Requesting User Input", Type: browseflow.NodeInputRequest, RequiresInput: true},
		},
		Edges: []EdgeDefinition{
			{From: NodePlanning, To: NodeBrowserAction},
			{From: NodeBrowserAction, To: NodeValidation},
			{From: NodeValidation, To: NodePlanning, Flag: browseflow.KeyNeedsRetry},
			{From: NodeValidation, To: NodeUserInput, Flag: browseflow.KeyNeedsUserInput},
			{From: NodeUserInput, To: NodePlanning},
		},
	}
}

// ParseDefinition decodes a YAML definition.
func ParseDefinition(data []byte) (Definition, error) {
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Definition{}, fmt.Errorf("parse workflow definition: %w", err)
	}
	return d, nil
}

// LoadDefinition reads a YAML definition file.
func LoadDefinition(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read workflow definition: %w", err)
	}
	return ParseDefinition(data)
}

// Build compiles the definition. Every problem found is reported.
func (d Definition) Build() (*browseflow.CompiledGraph, error) {
	g := browseflow.NewGraph()
	var errs []error
	for _, n := range d.Nodes {
		if err := g.AddNode(n); err != nil {
			errs = append(errs, err)
		}
	}
	for _, e := range d.Edges {
		edge := browseflow.Edge{Source: e.From, Target: e.To}
		switch {
		case e.Flag != "" && e.When != "":
			errs = append(errs, fmt.Errorf("%w: edge %s -> %s sets both flag and when", browseflow.ErrInvalidGuard, e.From, e.To))
			continue
		case e.Flag != "":
			edge.Guard = browseflow.Flag(e.Flag)
		case e.When != "":
			edge.Guard = browseflow.When(e.When)
		}
		if err := g.AddEdge(edge); err != nil {
			errs = append(errs, err)
		}
	}
	entry := d.Entry
	if entry == "" && len(d.Nodes) > 0 {
		entry = d.Nodes[0].ID
	}
	if err := g.SetEntry(entry); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return g.Compile()
}
