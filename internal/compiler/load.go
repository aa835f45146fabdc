// Package compiler loads workflow topology definitions from YAML,
// validates them against an embedded CUE schema plus structural rules,
// and produces the read-only topology the engine consults.
package compiler

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/spnflow/spnflow/internal/topology"
)

// gatewayTerminate is the literal gateway destination that short-circuits
// to a TERMINATE event instead of routing.
const gatewayTerminate = "terminate"

type rawEdge struct {
	To    string `yaml:"to"`
	Guard string `yaml:"guard,omitempty"`
	Op    string `yaml:"op,omitempty"`
	Value string `yaml:"value,omitempty"`
}

type rawNode struct {
	Name        string             `yaml:"name"`
	Kind        string             `yaml:"kind"`
	Service     string             `yaml:"service,omitempty"`
	Capacity    int                `yaml:"capacity,omitempty"`
	Delay       topology.DelaySpec `yaml:"delay,omitempty"`
	Guard       topology.GuardSpec `yaml:"guard,omitempty"`
	RoutingAttr string             `yaml:"routing_attr,omitempty"`
	Required    int                `yaml:"required,omitempty"`
	Edges       []rawEdge          `yaml:"edges,omitempty"`
}

type rawWorkflow struct {
	Name  string    `yaml:"name"`
	Start string    `yaml:"start"`
	Nodes []rawNode `yaml:"nodes"`
}

// Load reads, validates, and compiles a workflow definition file.
func Load(path string) (*topology.Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow definition: %w", err)
	}
	return Compile(data)
}

// Check reports every structural violation in a workflow definition
// without building the topology. A schema-level failure is returned as the
// error; structural violations come back as the slice.
func Check(data []byte) ([]ValidationError, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}
	var def rawWorkflow
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decode workflow definition: %w", err)
	}
	return validateStructure(&def), nil
}

// Compile validates and compiles workflow definition bytes.
//
// Validation runs in three layers: CUE schema (field types and enums),
// structural rules (graph shape, per-kind edge counts), then topology
// construction. All structural violations are reported together.
func Compile(data []byte) (*topology.Topology, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var def rawWorkflow
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decode workflow definition: %w", err)
	}

	if verrs := validateStructure(&def); len(verrs) > 0 {
		joined := make([]error, len(verrs))
		for i, ve := range verrs {
			joined[i] = ve
		}
		return nil, fmt.Errorf("workflow definition invalid: %w", errors.Join(joined...))
	}

	nodes := make([]*topology.Node, 0, len(def.Nodes))
	for _, rn := range def.Nodes {
		node, err := compileNode(rn)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}

	return topology.New(def.Name, def.Start, nodes)
}

func compileNode(rn rawNode) (*topology.Node, error) {
	kind, err := topology.ParseNodeKind(rn.Kind)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", rn.Name, err)
	}

	service := rn.Service
	switch {
	case service == "" && kind != topology.KindExpired:
		service = topology.ServiceNameFor(rn.Name)
	case service != "":
		// A service name that does not strip back to the node name is a
		// configuration error: logged, never fatal.
		if name, serr := topology.NodeNameFromService(service); serr != nil || name != rn.Name {
			slog.Warn("service name does not match node",
				"node", rn.Name, "service", service)
		}
	}

	edges := make([]topology.Edge, 0, len(rn.Edges))
	for _, re := range rn.Edges {
		edge := topology.Edge{To: re.To, Value: re.Value}
		if re.Guard != "" {
			g, gerr := topology.ParseGuardOp(re.Guard)
			if gerr != nil {
				return nil, fmt.Errorf("node %s: %w", rn.Name, gerr)
			}
			edge.Guard = g
		}
		if re.Op != "" {
			op, oerr := topology.ParseCompareOp(re.Op)
			if oerr != nil {
				return nil, fmt.Errorf("node %s: %w", rn.Name, oerr)
			}
			edge.Op = op
		}
		edges = append(edges, edge)
	}

	return &topology.Node{
		Name:         rn.Name,
		Kind:         kind,
		Service:      service,
		Capacity:     rn.Capacity,
		Delay:        rn.Delay,
		Guard:        rn.Guard,
		Edges:        edges,
		JoinRequired: rn.Required,
		RoutingAttr:  rn.RoutingAttr,
	}, nil
}
