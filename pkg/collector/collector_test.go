package collector_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasecurity/trivy-java-resolver/pkg/artifact"
	"github.com/aquasecurity/trivy-java-resolver/pkg/collector"
	"github.com/aquasecurity/trivy-java-resolver/pkg/connector"
	"github.com/aquasecurity/trivy-java-resolver/pkg/descriptor"
	"github.com/aquasecurity/trivy-java-resolver/pkg/fetcher"
	"github.com/aquasecurity/trivy-java-resolver/pkg/graph"
	"github.com/aquasecurity/trivy-java-resolver/pkg/repository"
	"github.com/aquasecurity/trivy-java-resolver/pkg/repotest"
	"github.com/aquasecurity/trivy-java-resolver/pkg/transport"
)

type fixture struct {
	local  repository.Local
	server *repotest.Server
}

func newFixture(t *testing.T) *fixture {
	return &fixture{
		local:  repository.NewLocal(t.TempDir()),
		server: repotest.NewServer(t),
	}
}

func (f *fixture) pom(t *testing.T, coordinate string, deps ...repotest.Dep) {
	repotest.WriteLocal(t, f.local, coord(t, coordinate).Pom(), []byte(repotest.Pom(coordinate, deps...)))
}

func (f *fixture) collect(t *testing.T, root string, opt collector.Option) (*graph.Node, error) {
	conn := connector.New(transport.Default(transport.HTTPOption{}), f.local, connector.Option{UpdateInterval: time.Hour})
	fetch := fetcher.New(f.local, conn, fetcher.Option{Remotes: []repository.Remote{f.server.Remote("test")}})
	c := collector.New(descriptor.NewSource(fetch), opt)
	return c.Collect(context.Background(), artifact.Dependency{Artifact: coord(t, root)})
}

func coord(t *testing.T, s string) artifact.Coordinate {
	c, err := artifact.Parse(s)
	require.NoError(t, err)
	return c
}

func dump(t *testing.T, root *graph.Node) string {
	var buf bytes.Buffer
	require.NoError(t, graph.Dump(&buf, root))
	return buf.String()
}

func TestCollect_Scopes(t *testing.T) {
	f := newFixture(t)
	f.pom(t, "g:root:1.0",
		repotest.Dep{Coordinate: "g:a:1.0"},
		repotest.Dep{Coordinate: "g:t:1.0", Scope: "test"},
		repotest.Dep{Coordinate: "g:p:1.0", Scope: "provided"},
		repotest.Dep{Coordinate: "g:sys:1.0", Scope: "system"},
	)
	f.pom(t, "g:a:1.0",
		repotest.Dep{Coordinate: "g:b:1.0", Scope: "runtime"},
		repotest.Dep{Coordinate: "g:hidden:1.0", Scope: "test"},
		repotest.Dep{Coordinate: "g:api:1.0", Scope: "provided"},
	)
	f.pom(t, "g:b:1.0")
	f.pom(t, "g:t:1.0", repotest.Dep{Coordinate: "g:u:1.0"})
	f.pom(t, "g:u:1.0")
	f.pom(t, "g:p:1.0", repotest.Dep{Coordinate: "g:q:1.0", Scope: "runtime"})
	f.pom(t, "g:q:1.0")

	root, err := f.collect(t, "g:root:1.0", collector.Option{})
	require.NoError(t, err)
	assert.Equal(t, `g:root:jar:1.0 (runtime)
  g:a:jar:1.0 (compile)
    g:b:jar:1.0 (runtime)
  g:t:jar:1.0 (test)
    g:u:jar:1.0 (test)
  g:p:jar:1.0 (provided)
    g:q:jar:1.0 (provided)
`, dump(t, root))

	assert.Equal(t, 2, root.Children[0].Children[0].Depth)
}

func TestCollect_Exclusions(t *testing.T) {
	f := newFixture(t)
	f.pom(t, "g:root:1.0",
		repotest.Dep{Coordinate: "g:a:1.0", Exclusions: []string{"x:*"}},
		repotest.Dep{Coordinate: "g:c:1.0"},
	)
	f.pom(t, "g:a:1.0", repotest.Dep{Coordinate: "g:b:1.0"}, repotest.Dep{Coordinate: "x:one:1.0"})
	f.pom(t, "g:b:1.0", repotest.Dep{Coordinate: "x:two:1.0"}, repotest.Dep{Coordinate: "y:three:1.0"})
	f.pom(t, "g:c:1.0", repotest.Dep{Coordinate: "x:one:1.0"})
	f.pom(t, "x:one:1.0")
	f.pom(t, "y:three:1.0")

	root, err := f.collect(t, "g:root:1.0", collector.Option{})
	require.NoError(t, err)
	// The exclusion covers the subtree of a only.
	assert.Equal(t, `g:root:jar:1.0 (runtime)
  g:a:jar:1.0 (compile)
    g:b:jar:1.0 (compile)
      y:three:jar:1.0 (compile)
  g:c:jar:1.0 (compile)
    x:one:jar:1.0 (compile)
`, dump(t, root))
}

func TestCollect_Cycle(t *testing.T) {
	f := newFixture(t)
	f.pom(t, "g:root:1.0", repotest.Dep{Coordinate: "g:a:1.0"})
	f.pom(t, "g:a:1.0", repotest.Dep{Coordinate: "g:b:1.0"})
	f.pom(t, "g:b:1.0", repotest.Dep{Coordinate: "g:a:2.0"}, repotest.Dep{Coordinate: "g:root:1.0"})

	root, err := f.collect(t, "g:root:1.0", collector.Option{})
	require.NoError(t, err)
	assert.Equal(t, `g:root:jar:1.0 (runtime)
  g:a:jar:1.0 (compile)
    g:b:jar:1.0 (compile)
      g:a:jar:2.0 (compile) [cycle]
      g:root:jar:1.0 (compile) [cycle]
`, dump(t, root))

	cycle := root.Children[0].Children[0].Children[0]
	assert.True(t, cycle.Cycle)
	assert.Empty(t, cycle.Children)
}

func TestCollect_Optional(t *testing.T) {
	tests := []struct {
		name   string
		follow bool
		want   string
	}{
		{
			name: "transitive optional skipped",
			want: `g:root:jar:1.0 (runtime)
  g:a:jar:1.0 (compile?)
    g:b:jar:1.0 (compile)
`,
		},
		{
			name:   "follow optional",
			follow: true,
			want: `g:root:jar:1.0 (runtime)
  g:a:jar:1.0 (compile?)
    g:b:jar:1.0 (compile)
    g:opt:jar:1.0 (compile?)
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.pom(t, "g:root:1.0", repotest.Dep{Coordinate: "g:a:1.0", Optional: true})
			f.pom(t, "g:a:1.0", repotest.Dep{Coordinate: "g:b:1.0"}, repotest.Dep{Coordinate: "g:opt:1.0", Optional: true})
			f.pom(t, "g:b:1.0")
			f.pom(t, "g:opt:1.0")

			root, err := f.collect(t, "g:root:1.0", collector.Option{FollowOptional: tt.follow})
			require.NoError(t, err)
			assert.Equal(t, tt.want, dump(t, root))
		})
	}
}

func TestCollect_Management(t *testing.T) {
	f := newFixture(t)
	rootPom := `<project>
  <groupId>g</groupId>
  <artifactId>root</artifactId>
  <version>1.0</version>
  <dependencyManagement>
    <dependencies>
      <dependency>
        <groupId>g</groupId>
        <artifactId>c</artifactId>
        <version>2.0</version>
        <scope>runtime</scope>
        <exclusions>
          <exclusion><groupId>g</groupId><artifactId>d</artifactId></exclusion>
        </exclusions>
      </dependency>
    </dependencies>
  </dependencyManagement>
` + repotest.Dependencies("dependencies", repotest.Dep{Coordinate: "g:a:1.0"}) + `</project>`
	repotest.WriteLocal(t, f.local, coord(t, "g:root:1.0").Pom(), []byte(rootPom))

	// The management of a does not apply to its own children.
	aPom := `<project>
  <groupId>g</groupId>
  <artifactId>a</artifactId>
  <version>1.0</version>
  <dependencyManagement>
    <dependencies>
      <dependency><groupId>g</groupId><artifactId>c</artifactId><version>3.0</version></dependency>
      <dependency><groupId>g</groupId><artifactId>e</artifactId><version>9.0</version></dependency>
    </dependencies>
  </dependencyManagement>
` + repotest.Dependencies("dependencies", repotest.Dep{Coordinate: "g:c:1.0"}, repotest.Dep{Coordinate: "g:b:1.0"}) + `</project>`
	repotest.WriteLocal(t, f.local, coord(t, "g:a:1.0").Pom(), []byte(aPom))
	f.pom(t, "g:b:1.0", repotest.Dep{Coordinate: "g:e:1.0"})
	f.pom(t, "g:c:2.0", repotest.Dep{Coordinate: "g:d:1.0"})
	f.pom(t, "g:e:9.0")

	root, err := f.collect(t, "g:root:1.0", collector.Option{})
	require.NoError(t, err)
	assert.Equal(t, `g:root:jar:1.0 (runtime)
  g:a:jar:1.0 (compile)
    g:c:jar:2.0 (runtime) (requested 1.0)
    g:b:jar:1.0 (compile)
      g:e:jar:9.0 (compile) (requested 1.0)
`, dump(t, root))

	c := root.Children[0].Children[0]
	assert.Equal(t, artifact.ScopeCompile, c.PremanagedScope)
	assert.Equal(t, "1.0", c.Requested)
}

func TestCollect_VersionRange(t *testing.T) {
	f := newFixture(t)
	f.pom(t, "g:root:1.0", repotest.Dep{Coordinate: "g:a:[1.0,2.0)"})
	f.server.PutVersions("g", "a", "1.0", "1.5", "2.0")
	f.server.PutPom(coord(t, "g:a:1.5"), repotest.Pom("g:a:1.5"))

	root, err := f.collect(t, "g:root:1.0", collector.Option{})
	require.NoError(t, err)
	require.Len(t, root.Children, 1)
	assert.Equal(t, "1.5", root.Children[0].Artifact().Version)
	assert.Equal(t, "[1.0,2.0)", root.Children[0].Requested)
}

func TestCollect_Errors(t *testing.T) {
	tests := []struct {
		name     string
		poms     map[string][]repotest.Dep
		wantPath []string
		wantFail string
		wantIs   error
	}{
		{
			name: "missing transitive descriptor",
			poms: map[string][]repotest.Dep{
				"g:root:1.0": {{Coordinate: "g:a:1.0"}},
				"g:a:1.0":    {{Coordinate: "g:missing:1.0"}},
			},
			wantPath: []string{"g:root:jar:1.0", "g:a:jar:1.0"},
			wantFail: "g:missing:jar:1.0",
			wantIs:   descriptor.ErrNotFound,
		},
		{
			name: "unsatisfiable range",
			poms: map[string][]repotest.Dep{
				"g:root:1.0": {{Coordinate: "g:a:[5.0,)"}},
			},
			wantPath: []string{"g:root:jar:1.0"},
			wantFail: "g:a:jar:[5.0,)",
			wantIs:   descriptor.ErrUnsatisfiable,
		},
		{
			name:     "missing root",
			poms:     map[string][]repotest.Dep{},
			wantFail: "g:root:jar:1.0",
			wantIs:   descriptor.ErrNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			for c, deps := range tt.poms {
				f.pom(t, c, deps...)
			}
			f.server.PutVersions("g", "a", "1.0")

			root, err := f.collect(t, "g:root:1.0", collector.Option{})
			require.Error(t, err)
			assert.Nil(t, root)
			assert.ErrorIs(t, err, tt.wantIs)

			var cerr *collector.Error
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tt.wantFail, cerr.Artifact.String())
			var path []string
			for _, c := range cerr.Path {
				path = append(path, c.String())
			}
			assert.Equal(t, tt.wantPath, path)
		})
	}
}

func TestCollect_DeepGraph(t *testing.T) {
	const depth = 300
	f := newFixture(t)
	for i := 0; i < depth; i++ {
		f.pom(t, fmt.Sprintf("g:n%d:1.0", i), repotest.Dep{Coordinate: fmt.Sprintf("g:n%d:1.0", i+1)})
	}
	f.pom(t, fmt.Sprintf("g:n%d:1.0", depth))

	root, err := f.collect(t, "g:n0:1.0", collector.Option{Limit: 4})
	require.NoError(t, err)
	nodes := graph.Nodes(root)
	require.Len(t, nodes, depth+1)
	assert.Equal(t, depth, nodes[len(nodes)-1].Depth)
}

func TestCollect_Cancelled(t *testing.T) {
	f := newFixture(t)
	f.pom(t, "g:root:1.0", repotest.Dep{Coordinate: "g:a:1.0"})
	f.pom(t, "g:a:1.0")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	conn := connector.New(transport.Default(transport.HTTPOption{}), f.local, connector.Option{})
	c := collector.New(descriptor.NewSource(fetcher.New(f.local, conn, fetcher.Option{})), collector.Option{})
	_, err := c.Collect(ctx, artifact.Dependency{Artifact: coord(t, "g:root:1.0")})
	require.ErrorIs(t, err, context.Canceled)
}
