package system_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasecurity/trivy-java-resolver/pkg/artifact"
	"github.com/aquasecurity/trivy-java-resolver/pkg/collector"
	"github.com/aquasecurity/trivy-java-resolver/pkg/config"
	"github.com/aquasecurity/trivy-java-resolver/pkg/event"
	"github.com/aquasecurity/trivy-java-resolver/pkg/fetcher"
	"github.com/aquasecurity/trivy-java-resolver/pkg/repository"
	"github.com/aquasecurity/trivy-java-resolver/pkg/repotest"
	"github.com/aquasecurity/trivy-java-resolver/pkg/system"
	"github.com/aquasecurity/trivy-java-resolver/pkg/transport"
	"github.com/aquasecurity/trivy-java-resolver/pkg/workspace"
)

func coord(t *testing.T, s string) artifact.Coordinate {
	c, err := artifact.Parse(s)
	require.NoError(t, err)
	return c
}

// publish serves the descriptor and the jar of coordinate.
func publish(t *testing.T, s *repotest.Server, coordinate string, deps ...repotest.Dep) {
	c := coord(t, coordinate)
	s.PutPom(c, repotest.Pom(coordinate, deps...))
	s.PutArtifact(c, []byte("jar of "+coordinate))
}

func newServer(t *testing.T) *repotest.Server {
	s := repotest.NewServer(t)
	publish(t, s, "org.example:app:1.0",
		repotest.Dep{Coordinate: "org.example:lib-a:1.0"},
		repotest.Dep{Coordinate: "org.example:lib-b:2.0"},
		repotest.Dep{Coordinate: "junit:junit:4.13.2", Scope: "test"},
	)
	publish(t, s, "org.example:lib-a:1.0",
		repotest.Dep{Coordinate: "org.example:lib-b:1.0"},
		repotest.Dep{Coordinate: "org.example:lib-c:[1.0,2.0)"},
	)
	publish(t, s, "org.example:lib-b:1.0")
	publish(t, s, "org.example:lib-b:2.0")
	publish(t, s, "org.example:lib-c:1.2")
	publish(t, s, "junit:junit:4.13.2")
	s.PutVersions("org.example", "lib-c", "1.0", "1.2", "2.0")
	return s
}

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) OnEvent(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(typ event.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func newSystem() *system.System {
	return system.New(system.Option{HTTP: transport.HTTPOption{RetryMax: 0}})
}

func TestSystem_Resolve(t *testing.T) {
	server := newServer(t)
	local := t.TempDir()
	rec := &recorder{}
	sess := config.Default().
		WithLocalRepository(local).
		WithRemoteRepositories(server.Remote("test")).
		WithListener(rec).
		WithScopes(artifact.ScopeCompile, artifact.ScopeRuntime)
	sys := newSystem()

	res, err := sys.ResolveGAV(context.Background(), sess, "org.example", "app", "1.0")
	require.NoError(t, err)

	var got []string
	for _, a := range res.Artifacts {
		got = append(got, a.String())
	}
	assert.Equal(t, []string{
		"org.example:app:jar:1.0",
		"org.example:lib-a:jar:1.0",
		"org.example:lib-c:jar:1.2",
		"org.example:lib-b:jar:2.0",
	}, got)
	for _, f := range res.Files {
		assert.FileExists(t, f)
		assert.True(t, filepath.IsAbs(f))
	}
	assert.Len(t, res.Conflicts, 1)

	// The losing version and out-of-scope artifacts are never downloaded.
	assert.Zero(t, server.Count(repository.Path(coord(t, "org.example:lib-b:1.0"))))
	assert.Zero(t, server.Count(repository.Path(coord(t, "junit:junit:4.13.2"))))
	assert.Positive(t, rec.count(event.Succeeded))
	assert.Zero(t, rec.count(event.Failed))

	t.Run("cache hit makes no remote call", func(t *testing.T) {
		before := len(server.Requests())
		res2, err := sys.Resolve(context.Background(), sess, coord(t, "org.example:app:1.0"))
		require.NoError(t, err)
		assert.Equal(t, res.Files, res2.Files)
		assert.Len(t, server.Requests(), before)
		assert.Equal(t, fetcher.SourceLocal, res2.Root.Source)
	})

	t.Run("offline", func(t *testing.T) {
		res3, err := sys.Resolve(context.Background(), sess.WithOffline(true), coord(t, "org.example:app:1.0"))
		require.NoError(t, err)
		assert.Equal(t, res.Files, res3.Files)
	})
}

func TestSystem_WorkspaceOverride(t *testing.T) {
	server := newServer(t)
	override := filepath.Join(t.TempDir(), "lib-b.jar")
	require.NoError(t, os.WriteFile(override, []byte("work in progress"), 0o644))

	sess := config.Default().
		WithLocalRepository(t.TempDir()).
		WithRemoteRepositories(server.Remote("test")).
		WithWorkspace(workspace.Map{coord(t, "org.example:lib-b:2.0"): override})

	res, err := newSystem().Resolve(context.Background(), sess, coord(t, "org.example:app:1.0"))
	require.NoError(t, err)
	assert.Contains(t, res.Files, override)
	assert.Zero(t, server.Count(repository.Path(coord(t, "org.example:lib-b:2.0"))))
}

func TestSystem_Failures(t *testing.T) {
	t.Run("missing artifact", func(t *testing.T) {
		server := repotest.NewServer(t)
		app := coord(t, "org.example:app:1.0")
		server.PutPom(app, repotest.Pom("org.example:app:1.0"))
		sess := config.Default().WithLocalRepository(t.TempDir()).WithRemoteRepositories(server.Remote("test"))

		res, err := newSystem().Resolve(context.Background(), sess, app)
		require.Error(t, err)
		assert.Nil(t, res)

		var ferr *fetcher.Error
		require.ErrorAs(t, err, &ferr)
		require.Len(t, ferr.Attempts, 2)
		assert.ErrorIs(t, ferr.Attempts[0].Err, fetcher.ErrNotCached)
		assert.ErrorIs(t, ferr.Attempts[1].Err, transport.ErrNotFound)
	})

	t.Run("missing descriptor", func(t *testing.T) {
		server := repotest.NewServer(t)
		server.PutPom(coord(t, "org.example:app:1.0"), repotest.Pom("org.example:app:1.0",
			repotest.Dep{Coordinate: "org.example:gone:1.0"}))
		sess := config.Default().WithLocalRepository(t.TempDir()).WithRemoteRepositories(server.Remote("test"))

		_, err := newSystem().Resolve(context.Background(), sess, coord(t, "org.example:app:1.0"))
		var cerr *collector.Error
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, "org.example:gone:jar:1.0", cerr.Artifact.String())
	})

	t.Run("invalid session", func(t *testing.T) {
		_, err := newSystem().Resolve(context.Background(), config.Default().WithConcurrency(-1), coord(t, "g:a:1.0"))
		require.ErrorContains(t, err, "invalid session")
	})
}

func TestSystem_InstallThenResolve(t *testing.T) {
	dir := t.TempDir()
	jar := filepath.Join(dir, "core.jar")
	pom := filepath.Join(dir, "pom.xml")
	require.NoError(t, os.WriteFile(jar, []byte("built"), 0o644))
	require.NoError(t, os.WriteFile(pom, []byte(repotest.Pom("org.example:core:1.1")), 0o644))

	sess := config.Default().WithLocalRepository(t.TempDir()).WithRemoteRepositories().WithOffline(true)
	sys := newSystem()
	c := coord(t, "org.example:core:1.1")
	require.NoError(t, sys.Install(context.Background(), sess, jar, pom, c))

	t.Run("exact", func(t *testing.T) {
		res, err := sys.Resolve(context.Background(), sess, c)
		require.NoError(t, err)
		require.Len(t, res.Files, 1)
		assert.Equal(t, sess.Local().Path(c), res.Files[0])
	})

	t.Run("range sees the installed version", func(t *testing.T) {
		res, err := sys.Resolve(context.Background(), sess, coord(t, "org.example:core:[1.0,2.0)"))
		require.NoError(t, err)
		assert.Equal(t, "1.1", res.Root.Artifact().Version)
	})
}
