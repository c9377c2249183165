package workflow

import (
	"fmt"
	"slices"
	"strings"
)

// Edge is one accepted (state, action) pair and the states it may lead to.
type Edge struct {
	From   StateTag
	Action ActionName
	To     []StateTag
}

// Graph is the transition table of one workflow kind. The engine refuses any
// action or transition the table does not list.
type Graph struct {
	kind     Kind
	initial  StateTag
	terminal StateTag
	edges    []Edge
	states   []StateTag
}

func NewGraph(kind Kind, initial, terminal StateTag, edges ...Edge) *Graph {
	g := &Graph{kind: kind, initial: initial, terminal: terminal, edges: edges}
	add := func(tag StateTag) {
		if !slices.Contains(g.states, tag) {
			g.states = append(g.states, tag)
		}
	}
	add(initial)
	for _, e := range edges {
		add(e.From)
		for _, to := range e.To {
			if to != terminal {
				add(to)
			}
		}
	}
	add(terminal)
	return g
}

func (g *Graph) Kind() Kind         { return g.kind }
func (g *Graph) Initial() StateTag  { return g.initial }
func (g *Graph) Terminal() StateTag { return g.terminal }

// States lists every state, initial first and terminal last.
func (g *Graph) States() []StateTag {
	return slices.Clone(g.states)
}

// Accepts reports whether from accepts action.
func (g *Graph) Accepts(from StateTag, action ActionName) bool {
	_, ok := g.edge(from, action)
	return ok
}

// Allows reports whether action taken in from may lead to to.
func (g *Graph) Allows(from StateTag, action ActionName, to StateTag) bool {
	e, ok := g.edge(from, action)
	return ok && slices.Contains(e.To, to)
}

// Accepted lists the actions from accepts.
func (g *Graph) Accepted(from StateTag) []ActionName {
	var out []ActionName
	for _, e := range g.edges {
		if e.From == from {
			out = append(out, e.Action)
		}
	}
	return out
}

func (g *Graph) edge(from StateTag, action ActionName) (Edge, bool) {
	for _, e := range g.edges {
		if e.From == from && e.Action == action {
			return e, true
		}
	}
	return Edge{}, false
}

// Render writes the table as markdown.
func (g *Graph) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", g.kind)
	b.WriteString("| state | accepts | on success |\n")
	b.WriteString("|---|---|---|\n")
	for _, st := range g.states {
		rows := 0
		for _, e := range g.edges {
			if e.From != st {
				continue
			}
			to := make([]string, len(e.To))
			for i, t := range e.To {
				to[i] = string(t)
			}
			fmt.Fprintf(&b, "| %s | %s | %s |\n", st, e.Action, strings.Join(to, " or "))
			rows++
		}
		if rows == 0 {
			fmt.Fprintf(&b, "| %s | - | - |\n", st)
		}
	}
	return b.String()
}
