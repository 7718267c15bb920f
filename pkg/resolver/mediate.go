package resolver

import (
	"slices"

	"github.com/samber/lo"

	"github.com/aquasecurity/trivy-java-resolver/pkg/artifact"
	"github.com/aquasecurity/trivy-java-resolver/pkg/graph"
)

// Conflict records a version that lost against Winner.
type Conflict struct {
	Winner *graph.Node
	Loser  artifact.Coordinate
	// Depth of the losing node.
	Depth int
}

// Mediate resolves version conflicts of the tree in place. For every (group, name)
// the node nearest to the root picks the version and the first one in pre-order
// picks it among nodes of equal depth. Nodes of another version are removed along
// with their subtrees. Artifacts of the winning version with a different classifier
// or extension stay. Repeated coordinates become leaves pointing at the first one.
func Mediate(root *graph.Node) []Conflict {
	nodes := graph.Nodes(root)
	parents := make(map[*graph.Node]*graph.Node, len(nodes))
	for _, n := range nodes {
		for _, child := range n.Children {
			parents[child] = n
		}
	}
	// Stable, so pre-order is kept within a depth.
	slices.SortStableFunc(nodes, func(a, b *graph.Node) int {
		return a.Depth - b.Depth
	})

	var conflicts []Conflict
	winners := make(map[artifact.Key]*graph.Node)
	kept := make(map[artifact.Coordinate]*graph.Node)
	removed := make(map[*graph.Node]bool)
	for _, n := range nodes {
		if p := parents[n]; p != nil && (removed[p] || p.Duplicate) {
			removed[n] = true
			continue
		}
		c := n.Artifact()
		winner, ok := winners[c.Key()]
		if !ok {
			winners[c.Key()] = n
		} else if winner.Artifact().Version != c.Version {
			removed[n] = true
			conflicts = append(conflicts, Conflict{Winner: winner, Loser: c, Depth: n.Depth})
			continue
		}

		if first, ok := kept[c]; ok {
			n.Duplicate = true
			n.Winner = first
			n.Children = nil
			continue
		}
		kept[c] = n
	}

	for _, n := range nodes {
		if removed[n] || len(n.Children) == 0 {
			continue
		}
		n.Children = lo.Reject(n.Children, func(child *graph.Node, _ int) bool {
			return removed[child]
		})
	}
	return conflicts
}
