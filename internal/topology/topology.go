package topology

import "fmt"

// Topology is the read-only workflow graph. Construct with New; lookups
// are safe for concurrent use because the graph is never mutated after
// construction.
type Topology struct {
	name  string
	start string
	nodes map[string]*Node
	order []string
}

// New builds a topology from nodes in declaration order.
// Node names must be unique and the start node must exist.
func New(name, start string, nodes []*Node) (*Topology, error) {
	t := &Topology{
		name:  name,
		start: start,
		nodes: make(map[string]*Node, len(nodes)),
		order: make([]string, 0, len(nodes)),
	}
	for _, n := range nodes {
		if _, dup := t.nodes[n.Name]; dup {
			return nil, fmt.Errorf("duplicate node name %q", n.Name)
		}
		t.nodes[n.Name] = n
		t.order = append(t.order, n.Name)
	}
	if _, ok := t.nodes[start]; !ok {
		return nil, fmt.Errorf("start node %q not defined", start)
	}
	return t, nil
}

// Name returns the workflow name.
func (t *Topology) Name() string { return t.name }

// Start returns the name of the entry node.
func (t *Topology) Start() string { return t.start }

// Node looks up a node by name.
func (t *Topology) Node(name string) (*Node, bool) {
	n, ok := t.nodes[name]
	return n, ok
}

// Nodes returns all nodes in declaration order.
func (t *Topology) Nodes() []*Node {
	out := make([]*Node, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.nodes[name])
	}
	return out
}
