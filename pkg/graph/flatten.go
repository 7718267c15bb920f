package graph

import (
	"os"
	"slices"
	"strings"

	"github.com/aquasecurity/trivy-java-resolver/pkg/artifact"
)

// List is the flattened form of a resolved tree.
type List struct {
	Artifacts []artifact.Coordinate
	Files     []string
}

// ClassPath joins the files with the OS path list separator.
func (l List) ClassPath() string {
	return strings.Join(l.Files, string(os.PathListSeparator))
}

// Flatten lists artifacts in pre-order, keeping the first occurrence of every
// coordinate. Nodes without a file are skipped. When scopes is non-empty only
// nodes with one of those scopes are listed; the root is always listed.
func Flatten(root *Node, scopes ...artifact.Scope) List {
	var list List
	seen := make(map[artifact.Coordinate]struct{})
	Walk(root, func(n *Node) bool {
		if n != root && len(scopes) > 0 && !slices.Contains(scopes, n.Dependency.Scope) {
			return true
		}
		rep := n.Representative()
		c := rep.Artifact()
		if _, ok := seen[c]; ok || rep.File == "" {
			return true
		}
		seen[c] = struct{}{}
		list.Artifacts = append(list.Artifacts, c)
		list.Files = append(list.Files, rep.File)
		return true
	})
	return list
}
