package graph

import (
	"fmt"
	"io"
	"strings"

	"github.com/aquasecurity/trivy-java-resolver/pkg/artifact"
)

// Node is a node of the dependency tree owned by a single resolve call.
type Node struct {
	Dependency artifact.Dependency
	Children   []*Node
	Depth      int

	// Requested is the version as declared, before management and range resolution.
	Requested string
	// PremanagedScope is set when an ancestor's management changed the scope.
	PremanagedScope artifact.Scope

	// Cycle marks a node whose (group, name) already appears on its path; it has no children.
	Cycle bool
	// Duplicate marks a same-version occurrence collapsed onto Winner; it has no children.
	Duplicate bool
	Winner    *Node

	// File and Source are set once the artifact is materialized.
	File   string
	Source string
}

func (n *Node) Artifact() artifact.Coordinate {
	return n.Dependency.Artifact
}

// Representative returns the node that carries the resolved state for n.
func (n *Node) Representative() *Node {
	if n.Winner != nil {
		return n.Winner
	}
	return n
}

// Walk visits the tree in pre-order. Returning false from fn skips the children of
// the visited node.
func Walk(root *Node, fn func(n *Node) bool) {
	if root == nil {
		return
	}
	stack := []*Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(n) {
			continue
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
}

// Nodes returns all nodes in pre-order.
func Nodes(root *Node) []*Node {
	var nodes []*Node
	Walk(root, func(n *Node) bool {
		nodes = append(nodes, n)
		return true
	})
	return nodes
}

// Dump writes an indented rendering of the tree.
func Dump(w io.Writer, root *Node) error {
	type frame struct {
		node   *Node
		indent int
	}
	stack := []frame{{node: root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		line := strings.Repeat("  ", f.indent) + f.node.Dependency.String()
		switch {
		case f.node.Cycle:
			line += " [cycle]"
		case f.node.Duplicate:
			line += " [duplicate]"
		}
		if req := f.node.Requested; req != "" && req != f.node.Artifact().Version {
			line += " (requested " + req + ")"
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
		for i := len(f.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: f.node.Children[i], indent: f.indent + 1})
		}
	}
	return nil
}
