package topology

import (
	"fmt"
	"strings"

	"github.com/sarchlab/cyclesim/sim"
)

func isMemory(c sim.Component) bool {
	_, ok := c.(sim.Memory)
	return ok
}

// ToDOT renders a graph in the Graphviz DOT format. Components are grouped by
// execution tier. Connections into memories do not constrain the order and
// are drawn dashed.
func ToDOT(g *sim.Graph, order sim.ExecutionOrder) string {
	var sb strings.Builder

	sb.WriteString("digraph Simulation {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for tier, ids := range order.Tiers {
		fmt.Fprintf(&sb, "  subgraph cluster_tier_%d {\n", tier)
		fmt.Fprintf(&sb, "    label=\"Tier %d\";\n", tier)
		sb.WriteString("    style=dashed;\n")

		for _, id := range ids {
			c, _ := g.Component(id)
			shape := "box"
			if isMemory(c) {
				shape = "box3d"
			}

			fmt.Fprintf(&sb, "    %q [shape=%s];\n", string(id), shape)
		}

		sb.WriteString("  }\n\n")
	}

	for _, conn := range g.Connections() {
		style := "solid"
		if c, found := g.Component(conn.Target.Component); found && isMemory(c) {
			style = "dashed"
		}

		fmt.Fprintf(&sb, "  %q -> %q [label=%q, style=%s];\n",
			string(conn.Source.Component), string(conn.Target.Component),
			conn.Source.Port+"->"+conn.Target.Port, style)
	}

	sb.WriteString("}\n")

	return sb.String()
}
