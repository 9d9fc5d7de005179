// Package graph provides the workflow engine behind the query pipeline: a
// named-node state machine with conditional branching and a revisit guard
// for corrective loops.
package graph

import (
	"context"
	"fmt"
)

// NodeType classifies nodes.
type NodeType string

const (
	NodeTypeStart     NodeType = "start"
	NodeTypeEnd       NodeType = "end"
	NodeTypeAgent     NodeType = "agent"
	NodeTypeCondition NodeType = "condition"
)

// State is the mutable execution state passed between nodes.
type State map[string]any

// NodeFunc is the work a node performs.
type NodeFunc func(context.Context, State) (State, error)

// ConditionFunc inspects the state and names the branch to follow.
type ConditionFunc func(context.Context, State) (string, error)

// Node is one vertex of the workflow.
type Node struct {
	Name      string
	Type      NodeType
	Execute   NodeFunc
	Condition ConditionFunc     // condition nodes only
	Next      string            // linear successor
	Branches  map[string]string // condition result -> node name
}

// Graph is a built workflow.
type Graph struct {
	nodes     map[string]*Node
	startNode string
	maxVisits int
}

const defaultMaxVisits = 10

// Execute walks the graph from the start node until an end node returns.
// Revisiting any node more than maxVisits times aborts the run; corrective
// loops must converge.
func (g *Graph) Execute(ctx context.Context, initial State) (State, error) {
	if g.startNode == "" {
		return nil, fmt.Errorf("start node not set")
	}
	state := initial
	if state == nil {
		state = make(State)
	}

	visits := make(map[string]int)
	current := g.startNode
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		node, ok := g.nodes[current]
		if !ok {
			return nil, fmt.Errorf("node %s not found", current)
		}
		visits[current]++
		if visits[current] > g.maxVisits {
			return nil, fmt.Errorf("infinite loop detected at node %s", current)
		}

		switch node.Type {
		case NodeTypeCondition:
			result, err := node.Condition(ctx, state)
			if err != nil {
				return nil, fmt.Errorf("condition %s: %w", node.Name, err)
			}
			next, ok := node.Branches[result]
			if !ok {
				return nil, fmt.Errorf("condition %s: no branch for result %q", node.Name, result)
			}
			current = next

		case NodeTypeEnd:
			if node.Execute == nil {
				return state, nil
			}
			return node.Execute(ctx, state)

		default:
			var err error
			state, err = node.Execute(ctx, state)
			if err != nil {
				return nil, fmt.Errorf("node %s: %w", node.Name, err)
			}
			if node.Next == "" {
				return nil, fmt.Errorf("node %s has no successor", node.Name)
			}
			current = node.Next
		}
	}
}

// Node returns a node by name.
func (g *Graph) Node(name string) (*Node, error) {
	node, ok := g.nodes[name]
	if !ok {
		return nil, fmt.Errorf("node %s not found", name)
	}
	return node, nil
}

// Builder assembles graphs fluently. Construction mistakes panic: a graph is
// wired once at startup and a bad wiring is a programming error.
type Builder struct {
	graph *Graph
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{graph: &Graph{
		nodes:     make(map[string]*Node),
		maxVisits: defaultMaxVisits,
	}}
}

// AddNode registers a work node.
func (b *Builder) AddNode(name string, nodeType NodeType, execute NodeFunc) *Builder {
	if nodeType != NodeTypeEnd && execute == nil {
		panic(fmt.Sprintf("node %s must have an Execute function", name))
	}
	b.add(&Node{Name: name, Type: nodeType, Execute: execute})
	if nodeType == NodeTypeStart {
		b.graph.startNode = name
	}
	return b
}

// AddConditionNode registers a branching node.
func (b *Builder) AddConditionNode(name string, condition ConditionFunc, branches map[string]string) *Builder {
	if condition == nil {
		panic(fmt.Sprintf("condition node %s must have a Condition function", name))
	}
	b.add(&Node{Name: name, Type: NodeTypeCondition, Condition: condition, Branches: branches})
	return b
}

func (b *Builder) add(node *Node) {
	if node.Name == "" {
		panic("node name cannot be empty")
	}
	if _, exists := b.graph.nodes[node.Name]; exists {
		panic(fmt.Sprintf("node %s already exists", node.Name))
	}
	b.graph.nodes[node.Name] = node
}

// AddEdge sets the linear successor of a node.
func (b *Builder) AddEdge(from, to string) *Builder {
	node, exists := b.graph.nodes[from]
	if !exists {
		panic(fmt.Sprintf("node %s not found", from))
	}
	node.Next = to
	return b
}

// SetStart names the entry node.
func (b *Builder) SetStart(name string) *Builder {
	if _, exists := b.graph.nodes[name]; !exists {
		panic(fmt.Sprintf("node %s not found", name))
	}
	b.graph.startNode = name
	return b
}

// SetMaxVisits overrides the loop guard.
func (b *Builder) SetMaxVisits(n int) *Builder {
	if n > 0 {
		b.graph.maxVisits = n
	}
	return b
}

// Build returns the constructed graph.
func (b *Builder) Build() *Graph {
	return b.graph
}
