// Package depgraph turns a selection of schema edits into an ordered list of DDL actions.
package depgraph

import (
	"cmp"
	"container/heap"
	"fmt"
	"slices"
	"strings"
)

// Vertex is a node of a Graph. Order breaks ties between vertices that are ready
// at the same time during a topological sort; lower goes first.
type Vertex[K comparable] struct {
	Key       K
	Order     int
	DependsOn map[K]struct{}
}

// Graph is a directed graph where an edge from a to b means a depends on b,
// so b is sorted before a.
type Graph[K comparable] struct {
	Vertices map[K]*Vertex[K]
}

func NewGraph[K comparable]() *Graph[K] {
	return &Graph[K]{Vertices: map[K]*Vertex[K]{}}
}

func (g *Graph[K]) AddVertex(key K, order int) error {
	if _, ok := g.Vertices[key]; ok {
		return fmt.Errorf("vertex %v already exists", key)
	}
	g.Vertices[key] = &Vertex[K]{Key: key, Order: order, DependsOn: map[K]struct{}{}}
	return nil
}

// AddDependencies makes key depend on every vertex in deps. Cycles are allowed; they are
// reported by TopologicalSort and can be found with StronglyConnectedComponents.
func (g *Graph[K]) AddDependencies(key K, deps ...K) error {
	v, ok := g.Vertices[key]
	if !ok {
		return fmt.Errorf("vertex %v does not exist", key)
	}
	for _, dep := range deps {
		if dep == key {
			return fmt.Errorf("vertex %v cannot depend on itself", key)
		}
		if _, ok := g.Vertices[dep]; !ok {
			return fmt.Errorf("vertex %v does not exist", dep)
		}
		v.DependsOn[dep] = struct{}{}
	}
	return nil
}

func (g *Graph[K]) RemoveDependency(key, dep K) {
	if v, ok := g.Vertices[key]; ok {
		delete(v.DependsOn, dep)
	}
}

// keys returns the vertices by ascending Order.
func (g *Graph[K]) keys() []K {
	keys := make([]K, 0, len(g.Vertices))
	for k := range g.Vertices {
		keys = append(keys, k)
	}
	slices.SortStableFunc(keys, func(a, b K) int {
		return cmp.Compare(g.Vertices[a].Order, g.Vertices[b].Order)
	})
	return keys
}

func (g *Graph[K]) sortedDeps(v *Vertex[K]) []K {
	deps := make([]K, 0, len(v.DependsOn))
	for d := range v.DependsOn {
		deps = append(deps, d)
	}
	slices.SortStableFunc(deps, func(a, b K) int {
		return cmp.Compare(g.Vertices[a].Order, g.Vertices[b].Order)
	})
	return deps
}

// CycleError is returned by TopologicalSort when the graph is not acyclic.
type CycleError[K comparable] struct {
	Cycle []K
}

func (e *CycleError[K]) Error() string {
	parts := make([]string, len(e.Cycle))
	for i, k := range e.Cycle {
		parts[i] = fmt.Sprint(k)
	}
	return "graph contains a cycle: " + strings.Join(parts, " -> ")
}

// TopologicalSort orders dependencies before their dependents. Among the vertices
// that are ready, the one with the lowest Order is taken first.
func (g *Graph[K]) TopologicalSort() ([]K, error) {
	inDegree := make(map[K]int, len(g.Vertices))
	dependents := make(map[K][]K, len(g.Vertices))
	for _, k := range g.keys() {
		v := g.Vertices[k]
		inDegree[k] = len(v.DependsOn)
		for _, d := range g.sortedDeps(v) {
			dependents[d] = append(dependents[d], k)
		}
	}

	ready := &orderQueue[K]{g: g}
	for _, k := range g.keys() {
		if inDegree[k] == 0 {
			heap.Push(ready, k)
		}
	}

	order := make([]K, 0, len(g.Vertices))
	for ready.Len() > 0 {
		k := heap.Pop(ready).(K)
		order = append(order, k)
		for _, dependent := range dependents[k] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				heap.Push(ready, dependent)
			}
		}
	}

	if len(order) != len(g.Vertices) {
		for _, scc := range g.StronglyConnectedComponents() {
			if len(scc) > 1 {
				return nil, &CycleError[K]{Cycle: scc}
			}
		}
		return nil, &CycleError[K]{}
	}
	return order, nil
}

type orderQueue[K comparable] struct {
	g    *Graph[K]
	keys []K
}

func (q *orderQueue[K]) Len() int { return len(q.keys) }
func (q *orderQueue[K]) Less(i, j int) bool {
	return q.g.Vertices[q.keys[i]].Order < q.g.Vertices[q.keys[j]].Order
}
func (q *orderQueue[K]) Swap(i, j int) { q.keys[i], q.keys[j] = q.keys[j], q.keys[i] }
func (q *orderQueue[K]) Push(x any)   { q.keys = append(q.keys, x.(K)) }
func (q *orderQueue[K]) Pop() any {
	last := q.keys[len(q.keys)-1]
	q.keys = q.keys[:len(q.keys)-1]
	return last
}

// StronglyConnectedComponents returns the components with more than one vertex using
// Tarjan's algorithm. Vertices inside a component and the components themselves are
// ordered by Order so that the result is deterministic.
func (g *Graph[K]) StronglyConnectedComponents() [][]K {
	index := 0
	indices := map[K]int{}
	lowlink := map[K]int{}
	onStack := map[K]bool{}
	var stack []K
	var components [][]K

	var connect func(k K)
	connect = func(k K) {
		indices[k] = index
		lowlink[k] = index
		index++
		stack = append(stack, k)
		onStack[k] = true

		for _, d := range g.sortedDeps(g.Vertices[k]) {
			if _, visited := indices[d]; !visited {
				connect(d)
				lowlink[k] = min(lowlink[k], lowlink[d])
			} else if onStack[d] {
				lowlink[k] = min(lowlink[k], indices[d])
			}
		}

		if lowlink[k] != indices[k] {
			return
		}
		var component []K
		for {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[top] = false
			component = append(component, top)
			if top == k {
				break
			}
		}
		if len(component) > 1 {
			slices.SortStableFunc(component, func(a, b K) int {
				return cmp.Compare(g.Vertices[a].Order, g.Vertices[b].Order)
			})
			components = append(components, component)
		}
	}

	for _, k := range g.keys() {
		if _, visited := indices[k]; !visited {
			connect(k)
		}
	}
	slices.SortStableFunc(components, func(a, b []K) int {
		return cmp.Compare(g.Vertices[a[0]].Order, g.Vertices[b[0]].Order)
	})
	return components
}
