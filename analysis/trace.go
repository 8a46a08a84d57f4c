package analysis

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/signalsfoundry/mosmo/core"
	"github.com/signalsfoundry/mosmo/model"
)

var ErrInvalidWeight = errors.New("invalid reaction weight")

// TraceOptions tunes TracePath.
type TraceOptions struct {
	// Weight is the cost of traversing a reaction; nil counts one per reaction.
	Weight func(r *model.Reaction) float64
	// Ignore lists species that may not serve as intermediates, typically
	// currency metabolites such as ATP or water.
	Ignore []string
	// MaxSteps bounds the number of reactions in a path; zero is unbounded.
	MaxSteps int
}

// TraceStep is one reaction traversal from one species to another.
type TraceStep struct {
	ReactionID string
	From       string
	To         string
	Reverse    bool // traversed against its written direction
}

// PathTrace is an ordered reaction path between two species.
type PathTrace struct {
	Source string
	Target string
	Steps  []TraceStep
	Cost   float64
}

// Found reports whether a path exists.
func (p PathTrace) Found() bool {
	return p.Source == p.Target || len(p.Steps) > 0
}

// ReactionIDs returns the traversed reactions in order.
func (p PathTrace) ReactionIDs() []string {
	ids := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		ids[i] = s.ReactionID
	}
	return ids
}

type traceEdge struct {
	reaction int
	reverse  bool
	to       int
}

// TracePath finds the cheapest reaction path converting source into target.
// Reactions run substrate to product, and also backwards when reversible.
// Among equal-cost paths the one using earlier reactions in network order
// wins. No path yields an empty trace, not an error.
func TracePath(net *core.Network, source, target string, opts TraceOptions) (PathTrace, error) {
	src, ok := net.SpeciesIndex(source)
	if !ok {
		return PathTrace{}, fmt.Errorf("%w: %q", ErrUnknownSpecies, source)
	}
	dst, ok := net.SpeciesIndex(target)
	if !ok {
		return PathTrace{}, fmt.Errorf("%w: %q", ErrUnknownSpecies, target)
	}
	trace := PathTrace{Source: source, Target: target}
	if src == dst {
		return trace, nil
	}

	m, _ := net.Shape()
	reactions := net.Reactions()
	weights := make([]float64, len(reactions))
	for j, r := range reactions {
		w := 1.0
		if opts.Weight != nil {
			w = opts.Weight(r)
		}
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return PathTrace{}, fmt.Errorf("%w: %q has weight %v", ErrInvalidWeight, r.ID(), w)
		}
		weights[j] = w
	}

	blocked := make([]bool, m)
	for _, id := range opts.Ignore {
		if i, ok := net.SpeciesIndex(id); ok && i != src && i != dst {
			blocked[i] = true
		}
	}

	edges := make([][]traceEdge, m)
	for j, r := range reactions {
		subs, prods := speciesRows(net, r.Substrates()), speciesRows(net, r.Products())
		for _, s := range subs {
			for _, p := range prods {
				edges[s] = append(edges[s], traceEdge{reaction: j, to: p})
			}
		}
		if r.Reversible() {
			for _, p := range prods {
				for _, s := range subs {
					edges[p] = append(edges[p], traceEdge{reaction: j, reverse: true, to: s})
				}
			}
		}
	}

	dist := make([]float64, m)
	depth := make([]int, m)
	prev := make([]int, m)
	via := make([]traceEdge, m)
	done := make([]bool, m)
	for i := range dist {
		dist[i] = math.Inf(1)
		prev[i] = -1
	}
	dist[src] = 0

	pq := &traceQueue{}
	seq := 0
	heap.Push(pq, traceItem{node: src, dist: 0, seq: seq})
	for pq.Len() > 0 {
		it := heap.Pop(pq).(traceItem)
		if done[it.node] {
			continue
		}
		done[it.node] = true
		if it.node == dst {
			break
		}
		if blocked[it.node] {
			continue
		}
		if opts.MaxSteps > 0 && depth[it.node] >= opts.MaxSteps {
			continue
		}
		for _, e := range edges[it.node] {
			if done[e.to] {
				continue
			}
			nd := dist[it.node] + weights[e.reaction]
			if nd < dist[e.to] {
				dist[e.to] = nd
				depth[e.to] = depth[it.node] + 1
				prev[e.to] = it.node
				via[e.to] = e
				seq++
				heap.Push(pq, traceItem{node: e.to, dist: nd, seq: seq})
			}
		}
	}

	if prev[dst] < 0 {
		return trace, nil
	}
	ids := net.SpeciesIDs()
	for node := dst; node != src; node = prev[node] {
		e := via[node]
		trace.Steps = append(trace.Steps, TraceStep{
			ReactionID: reactions[e.reaction].ID(),
			From:       ids[prev[node]],
			To:         ids[node],
			Reverse:    e.reverse,
		})
	}
	slices.Reverse(trace.Steps)
	trace.Cost = dist[dst]
	return trace, nil
}

func speciesRows(net *core.Network, parts []model.Participant) []int {
	rows := make([]int, 0, len(parts))
	for _, p := range parts {
		i, _ := net.SpeciesIndex(p.Species.ID())
		rows = append(rows, i)
	}
	return rows
}

type traceItem struct {
	node int
	dist float64
	seq  int
}

// traceQueue is a min-heap on (dist, seq); seq records discovery order so
// ties resolve deterministically.
type traceQueue []traceItem

func (q traceQueue) Len() int { return len(q) }
func (q traceQueue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	return q[i].seq < q[j].seq
}
func (q traceQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *traceQueue) Push(x any)   { *q = append(*q, x.(traceItem)) }
func (q *traceQueue) Pop() any {
	old := *q
	it := old[len(old)-1]
	*q = old[:len(old)-1]
	return it
}
