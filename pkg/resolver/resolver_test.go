package resolver_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/trivy-java-resolver/pkg/artifact"
	"github.com/aquasecurity/trivy-java-resolver/pkg/fetcher"
	"github.com/aquasecurity/trivy-java-resolver/pkg/graph"
	"github.com/aquasecurity/trivy-java-resolver/pkg/resolver"
)

func node(id, version string, depth int, children ...*graph.Node) *graph.Node {
	return &graph.Node{
		Dependency: artifact.Dependency{
			Artifact: artifact.NewCoordinate("g", id, version),
			Scope:    artifact.ScopeCompile,
		},
		Depth:    depth,
		Children: children,
	}
}

func dump(t *testing.T, root *graph.Node) string {
	var buf bytes.Buffer
	require.NoError(t, graph.Dump(&buf, root))
	return buf.String()
}

func TestMediate(t *testing.T) {
	tests := []struct {
		name          string
		root          func() *graph.Node
		want          string
		wantConflicts []string
	}{
		{
			name: "nearest wins",
			// root -> a -> b:1.0, root -> b:2.0
			root: func() *graph.Node {
				return node("root", "1.0", 0,
					node("a", "1.0", 1, node("b", "1.0", 2, node("c", "1.0", 3))),
					node("b", "2.0", 1),
				)
			},
			want: `g:root:jar:1.0 (compile)
  g:a:jar:1.0 (compile)
  g:b:jar:2.0 (compile)
`,
			wantConflicts: []string{"g:b:jar:1.0"},
		},
		{
			name: "first declared wins at equal depth",
			root: func() *graph.Node {
				return node("root", "1.0", 0,
					node("a", "1.0", 1, node("x", "1.0", 2)),
					node("b", "1.0", 1, node("x", "2.0", 2, node("y", "1.0", 3))),
				)
			},
			want: `g:root:jar:1.0 (compile)
  g:a:jar:1.0 (compile)
    g:x:jar:1.0 (compile)
  g:b:jar:1.0 (compile)
`,
			wantConflicts: []string{"g:x:jar:2.0"},
		},
		{
			name: "subtree of a loser does not compete",
			// c:3.0 lives under the losing x:2.0 and must not beat c:1.0 at depth 3.
			root: func() *graph.Node {
				return node("root", "1.0", 0,
					node("x", "1.0", 1, node("d", "1.0", 2, node("c", "1.0", 3))),
					node("a", "1.0", 1, node("x", "2.0", 2, node("c", "3.0", 3))),
				)
			},
			want: `g:root:jar:1.0 (compile)
  g:x:jar:1.0 (compile)
    g:d:jar:1.0 (compile)
      g:c:jar:1.0 (compile)
  g:a:jar:1.0 (compile)
`,
			wantConflicts: []string{"g:x:jar:2.0"},
		},
		{
			name: "same version becomes a duplicate leaf",
			root: func() *graph.Node {
				return node("root", "1.0", 0,
					node("a", "1.0", 1, node("b", "1.0", 2, node("c", "1.0", 3))),
					node("b", "1.0", 1, node("c", "1.0", 2)),
				)
			},
			want: `g:root:jar:1.0 (compile)
  g:a:jar:1.0 (compile)
    g:b:jar:1.0 (compile) [duplicate]
  g:b:jar:1.0 (compile)
    g:c:jar:1.0 (compile)
`,
		},
		{
			name: "classifier of the winning version is kept",
			root: func() *graph.Node {
				testJar := node("lib", "1.0", 1, node("c", "1.0", 2))
				testJar.Dependency.Artifact.Classifier = "tests"
				pom := node("lib", "1.0", 1)
				pom.Dependency.Artifact.Extension = "pom"
				oldTests := node("lib", "0.9", 2)
				oldTests.Dependency.Artifact.Classifier = "tests"
				return node("root", "1.0", 0,
					node("lib", "1.0", 1),
					testJar,
					pom,
					node("a", "1.0", 1, oldTests),
				)
			},
			want: `g:root:jar:1.0 (compile)
  g:lib:jar:1.0 (compile)
  g:lib:jar:tests:1.0 (compile)
    g:c:jar:1.0 (compile)
  g:lib:pom:1.0 (compile)
  g:a:jar:1.0 (compile)
`,
			wantConflicts: []string{"g:lib:jar:tests:0.9"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := tt.root()
			conflicts := resolver.Mediate(root)
			assert.Equal(t, tt.want, dump(t, root))

			var losers []string
			for _, c := range conflicts {
				losers = append(losers, c.Loser.String())
			}
			assert.Equal(t, tt.wantConflicts, losers)
		})
	}
}

func TestMediate_Deterministic(t *testing.T) {
	build := func() *graph.Node {
		return node("root", "1.0", 0,
			node("a", "1.0", 1, node("x", "1.0", 2), node("y", "2.0", 2)),
			node("b", "1.0", 1, node("y", "1.0", 2), node("x", "2.0", 2)),
		)
	}
	want := dump(t, func() *graph.Node { r := build(); resolver.Mediate(r); return r }())
	for i := 0; i < 20; i++ {
		root := build()
		resolver.Mediate(root)
		assert.Equal(t, want, dump(t, root))
	}
}

type fakeFetcher struct {
	requested []artifact.Coordinate
	err       error
}

func (f *fakeFetcher) FetchAll(_ context.Context, coords []artifact.Coordinate) ([]fetcher.Result, error) {
	f.requested = coords
	if f.err != nil {
		return nil, f.err
	}
	var results []fetcher.Result
	for _, c := range coords {
		results = append(results, fetcher.Result{Artifact: c, File: "/repo/" + c.FileName(), Source: "central"})
	}
	return results, nil
}

func TestResolver_Resolve(t *testing.T) {
	newTree := func() *graph.Node {
		test := node("junit", "4.13", 1)
		test.Dependency.Scope = artifact.ScopeTest
		return node("root", "1.0", 0,
			node("a", "1.0", 1, node("b", "1.0", 2)),
			node("b", "2.0", 1),
			test,
		)
	}

	t.Run("all scopes", func(t *testing.T) {
		f := &fakeFetcher{}
		got, err := resolver.New(f, resolver.Option{}).Resolve(context.Background(), newTree())
		require.NoError(t, err)
		assert.Equal(t, []string{
			"/repo/root-1.0.jar",
			"/repo/a-1.0.jar",
			"/repo/b-2.0.jar",
			"/repo/junit-4.13.jar",
		}, got.Files)
		assert.Len(t, f.requested, 4)
		assert.Len(t, got.Conflicts, 1)
		assert.Equal(t, "central", got.Root.Children[1].Source)
	})

	t.Run("scope filter", func(t *testing.T) {
		f := &fakeFetcher{}
		opt := resolver.Option{Scopes: []artifact.Scope{artifact.ScopeCompile, artifact.ScopeRuntime}}
		got, err := resolver.New(f, opt).Resolve(context.Background(), newTree())
		require.NoError(t, err)
		assert.Equal(t, []string{
			"/repo/root-1.0.jar",
			"/repo/a-1.0.jar",
			"/repo/b-2.0.jar",
		}, got.Files)
		assert.NotContains(t, f.requested, artifact.NewCoordinate("g", "junit", "4.13"))
	})

	t.Run("fetch failure", func(t *testing.T) {
		f := &fakeFetcher{err: &fetcher.Error{
			Artifact: artifact.NewCoordinate("g", "b", "2.0"),
			Attempts: []fetcher.Attempt{{Source: "central", Err: xerrors.New("boom")}},
		}}
		got, err := resolver.New(f, resolver.Option{}).Resolve(context.Background(), newTree())
		require.Error(t, err)
		assert.Nil(t, got)

		var ferr *fetcher.Error
		require.ErrorAs(t, err, &ferr)
		assert.Equal(t, "central", ferr.Attempts[0].Source)
	})
}
