package graph

import (
	"fmt"
	"strings"

	"cellflow/internal/jobs"
)

// NoChild marks a node without a child.
const NoChild = -1

// Node is one job descriptor in the arena.
type Node struct {
	Name    jobs.Name
	Queue   string
	Cell    *jobs.CellPayload
	Row     *jobs.RowPayload
	Options jobs.Options
	Child   int
}

// Payload returns the node's cell or row payload.
func (n Node) Payload() any {
	if n.Cell != nil {
		return n.Cell
	}
	return n.Row
}

// Plan is a compiled forest stored as an arena. Roots index the
// row-completion nodes in row order.
type Plan struct {
	Nodes []Node
	Roots []int
}

// Empty reports whether the plan has no rows.
func (p *Plan) Empty() bool {
	return p == nil || len(p.Roots) == 0
}

func (p *Plan) add(n Node) int {
	p.Nodes = append(p.Nodes, n)
	return len(p.Nodes) - 1
}

// Chain lists node indexes from root down to the deepest child.
func (p *Plan) Chain(root int) []int {
	var chain []int
	for idx := root; idx != NoChild && idx >= 0 && idx < len(p.Nodes); idx = p.Nodes[idx].Child {
		chain = append(chain, idx)
	}
	return chain
}

// Flows materializes the arena into the bulk-submit wire shape.
func (p *Plan) Flows() ([]jobs.Flow, error) {
	if p.Empty() {
		return nil, nil
	}
	flows := make([]jobs.Flow, 0, len(p.Roots))
	for _, root := range p.Roots {
		chain := p.Chain(root)
		var child *jobs.Flow
		for i := len(chain) - 1; i >= 0; i-- {
			node := p.Nodes[chain[i]]
			flow, err := jobs.NewFlow(node.Name, node.Queue, node.Payload(), node.Options)
			if err != nil {
				return nil, err
			}
			if child != nil {
				flow.Children = []jobs.Flow{*child}
			}
			child = &flow
		}
		if child != nil {
			flows = append(flows, *child)
		}
	}
	return flows, nil
}

// Describe renders a stable one-line-per-row description of the plan.
func (p *Plan) Describe() string {
	if p.Empty() {
		return ""
	}
	var b strings.Builder
	for _, root := range p.Roots {
		for i, idx := range p.Chain(root) {
			if i > 0 {
				b.WriteString(" -> ")
			}
			b.WriteString(describeNode(p.Nodes[idx]))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func describeNode(n Node) string {
	switch {
	case n.Cell != nil:
		return fmt.Sprintf("%s@%s[step=%d %q row=%d item=%s inputs=%s]",
			n.Name, n.Queue, n.Cell.StepIndex, n.Cell.StepName, n.Cell.RowIndex,
			n.Cell.DocumentItemID, strings.Join(n.Cell.InputDocumentItemIDs, ","))
	case n.Row != nil:
		return fmt.Sprintf("%s@%s[row=%d]", n.Name, n.Queue, n.Row.Row)
	default:
		return fmt.Sprintf("%s@%s", n.Name, n.Queue)
	}
}
