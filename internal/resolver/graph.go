// Package resolver orders workspace projects so that every dependency is built
// before its dependents.
package resolver

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

type node struct {
	id         string
	deps       map[string]*node
	dependents map[string]*node
}

// Graph is a directed dependency graph of project names.
type Graph struct {
	nodes map[string]*node
}

// CycleError lists the members of a dependency cycle in cycle order. The first
// member is repeated at the end.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Members, " -> ")
}

// NewGraph creates an empty graph
func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]*node)}
}

// AddNode adds id to the graph. Adding an existing id does nothing.
func (g *Graph) AddNode(id string) {
	if _, ok := g.nodes[id]; ok {
		return
	}

	g.nodes[id] = &node{
		id:         id,
		deps:       make(map[string]*node),
		dependents: make(map[string]*node),
	}
}

// AddEdge records that dependent depends on dep.
func (g *Graph) AddEdge(dep, dependent string) error {
	if dep == dependent {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", dep, dep)
	}

	from, ok := g.nodes[dep]
	if !ok {
		return fmt.Errorf("node not found: %s", dep)
	}

	to, ok := g.nodes[dependent]
	if !ok {
		return fmt.Errorf("node not found: %s", dependent)
	}

	to.deps[dep] = from
	from.dependents[dependent] = to

	return nil
}

// Dependencies returns the direct dependencies of id, sorted.
func (g *Graph) Dependencies(id string) []string {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}

	return sortedKeys(n.deps)
}

// DetectCycles returns a *CycleError for the first cycle found, visiting nodes in name order.
func (g *Graph) DetectCycles() error {
	_, err := g.sort(g.ids())
	return err
}

// Sort returns roots and everything they transitively depend on, dependencies
// first. Ties are broken by name so the order is stable across runs.
func (g *Graph) Sort(roots ...string) ([]string, error) {
	for _, r := range roots {
		if _, ok := g.nodes[r]; !ok {
			return nil, fmt.Errorf("node not found: %s", r)
		}
	}

	slices.Sort(roots)

	return g.sort(roots)
}

func (g *Graph) sort(roots []string) ([]string, error) {
	const (
		unvisited = iota
		visiting
		visited
	)

	mark := make(map[string]int, len(g.nodes))
	var (
		order []string
		stack []string
	)

	var visit func(n *node) error
	visit = func(n *node) error {
		switch mark[n.id] {
		case visited:
			return nil
		case visiting:
			start := slices.Index(stack, n.id)
			members := append(slices.Clone(stack[start:]), n.id)
			return &CycleError{Members: members}
		}

		mark[n.id] = visiting
		stack = append(stack, n.id)

		for _, dep := range sortedKeys(n.deps) {
			if err := visit(n.deps[dep]); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		mark[n.id] = visited
		order = append(order, n.id)

		return nil
	}

	for _, id := range roots {
		if err := visit(g.nodes[id]); err != nil {
			return nil, err
		}
	}

	return order, nil
}

func (g *Graph) ids() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

func sortedKeys(m map[string]*node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
