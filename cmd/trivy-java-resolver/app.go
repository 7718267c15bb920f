package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/trivy-java-resolver/pkg/artifact"
	"github.com/aquasecurity/trivy-java-resolver/pkg/builder"
	"github.com/aquasecurity/trivy-java-resolver/pkg/checksum"
	"github.com/aquasecurity/trivy-java-resolver/pkg/config"
	"github.com/aquasecurity/trivy-java-resolver/pkg/db"
	"github.com/aquasecurity/trivy-java-resolver/pkg/event"
	"github.com/aquasecurity/trivy-java-resolver/pkg/fileutil"
	"github.com/aquasecurity/trivy-java-resolver/pkg/graph"
	"github.com/aquasecurity/trivy-java-resolver/pkg/repository"
	"github.com/aquasecurity/trivy-java-resolver/pkg/system"
	"github.com/aquasecurity/trivy-java-resolver/pkg/transport"
	"github.com/aquasecurity/trivy-java-resolver/pkg/types"
	"github.com/aquasecurity/trivy-java-resolver/pkg/workspace"
)

type app struct {
	stdout io.Writer
	stderr io.Writer

	configFile     string
	localRepo      string
	repos          []string
	workspace      string
	offline        bool
	followOptional bool
	concurrency    int
	scopes         []string
	debug          bool
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, stderr: stderr}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "trivy-java-resolver",
		Short:         "Resolve Maven dependencies into a local repository",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			level := lo.Ternary(a.debug, slog.LevelDebug, slog.LevelInfo)
			slog.SetDefault(slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "YAML configuration file")
	flags.StringVar(&a.localRepo, "local-repo", "", "local repository (default ~/.m2/repository)")
	flags.StringArrayVar(&a.repos, "repo", nil, "remote repository as id=url, repeatable; replaces the configured remotes")
	flags.StringVar(&a.workspace, "workspace", "", "workspace index file (groupId, artifactId, version, classifier, path)")
	flags.BoolVar(&a.offline, "offline", false, "use the local repository and the workspace only")
	flags.BoolVar(&a.followOptional, "follow-optional", false, "include optional dependencies of dependencies")
	flags.IntVar(&a.concurrency, "concurrency", 0, "parallel transfers")
	flags.StringSliceVar(&a.scopes, "scope", nil, "scopes to resolve, e.g. compile,runtime")
	flags.BoolVar(&a.debug, "debug", false, "debug logging")

	root.AddCommand(a.resolveCommand())
	root.AddCommand(a.installCommand())
	root.AddCommand(a.reindexCommand())
	root.AddCommand(a.lookupCommand())
	return root
}

// session builds the session from the config file and the flags, in that order.
func (a *app) session() (config.Session, error) {
	sess := config.Default()
	if a.configFile != "" {
		f, err := config.Load(a.configFile)
		if err != nil {
			return config.Session{}, err
		}
		if sess, err = f.Session(sess); err != nil {
			return config.Session{}, err
		}
	}
	if a.localRepo != "" {
		sess = sess.WithLocalRepository(a.localRepo)
	}
	if len(a.repos) > 0 {
		sess = sess.WithRemoteRepositories()
		for _, s := range a.repos {
			r, err := repository.ParseRemote(s)
			if err != nil {
				return config.Session{}, err
			}
			sess = sess.WithRemoteRepository(r)
		}
	}
	if a.workspace != "" {
		idx, err := workspace.Open(a.workspace)
		if err != nil {
			return config.Session{}, xerrors.Errorf("workspace error: %w", err)
		}
		sess = sess.WithWorkspace(idx)
		slog.Debug("Workspace loaded", slog.String("path", a.workspace), slog.Int("artifacts", idx.Len()))
	}
	if a.offline {
		sess = sess.WithOffline(true)
	}
	if a.followOptional {
		sess = sess.WithFollowOptional(true)
	}
	if a.concurrency > 0 {
		sess = sess.WithConcurrency(a.concurrency)
	}
	if len(a.scopes) > 0 {
		sess = sess.WithScopes(lo.Map(a.scopes, func(s string, _ int) artifact.Scope {
			return artifact.ParseScope(s)
		})...)
	}
	sess = sess.WithListener(event.NewLogListener(slog.Default()))
	if err := sess.Validate(); err != nil {
		return config.Session{}, err
	}
	return sess, nil
}

func (a *app) resolveCommand() *cobra.Command {
	var (
		tree        bool
		classPath   bool
		progress    bool
		metricsFile string
	)
	cmd := &cobra.Command{
		Use:   "resolve GROUP:ARTIFACT[:EXTENSION[:CLASSIFIER]]:VERSION",
		Short: "Resolve and download the dependencies of an artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := artifact.Parse(args[0])
			if err != nil {
				return err
			}
			sess, err := a.session()
			if err != nil {
				return err
			}
			if progress {
				sess = sess.WithListener(event.NewProgressListener(a.stderr))
			}
			reg := prometheus.NewRegistry()
			if metricsFile != "" {
				m, err := event.NewMetricsListener(reg)
				if err != nil {
					return xerrors.Errorf("metrics error: %w", err)
				}
				sess = sess.WithListener(m)
			}

			res, err := newSystem().Resolve(cmd.Context(), sess, c)
			if metricsFile != "" {
				if werr := prometheus.WriteToTextfile(metricsFile, reg); werr != nil {
					slog.Warn("Unable to write metrics", slog.String("path", metricsFile), slog.Any("error", werr))
				}
			}
			if err != nil {
				return err
			}

			switch {
			case tree:
				return graph.Dump(a.stdout, res.Root)
			case classPath:
				_, err = fmt.Fprintln(a.stdout, res.ClassPath())
				return err
			}
			for i, art := range res.Artifacts {
				if _, err = fmt.Fprintf(a.stdout, "%s\t%s\n", art, res.Files[i]); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&tree, "tree", false, "print the resolved dependency tree")
	cmd.Flags().BoolVar(&classPath, "classpath", false, "print the class path")
	cmd.Flags().BoolVar(&progress, "progress", false, "show transfer progress bars")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write transfer metrics in the Prometheus text format")
	return cmd
}

func (a *app) installCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "install GROUP:ARTIFACT[:EXTENSION[:CLASSIFIER]]:VERSION FILE [POM]",
		Short: "Install a built artifact and its descriptor into the local repository",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := artifact.Parse(args[0])
			if err != nil {
				return err
			}
			sess, err := a.session()
			if err != nil {
				return err
			}
			var pom string
			if len(args) == 3 {
				pom = args[2]
			}
			return newSystem().Install(cmd.Context(), sess, args[1], pom, c)
		},
	}
}

func (a *app) reindexCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Index the local repository by SHA1",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			dbc, err := openIndex(sess)
			if err != nil {
				return err
			}
			defer dbc.Close()

			b := builder.NewBuilder(dbc, builder.Option{Progress: a.stderr})
			n, err := b.Build(cmd.Context(), sess.Local())
			if err != nil {
				return xerrors.Errorf("index build error: %w", err)
			}
			_, err = fmt.Fprintf(a.stdout, "%d artifacts indexed\n", n)
			return err
		},
	}
}

func (a *app) lookupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup SHA1|FILE|GROUP:ARTIFACT",
		Short: "Find the coordinates of a file, or the indexed files of an artifact, in the local repository index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			if _, err = os.Stat(db.Path(sess.LocalRepository())); err != nil {
				return xerrors.Errorf("no index in %s, run reindex first: %w", sess.LocalRepository(), err)
			}
			dbc, err := openIndex(sess)
			if err != nil {
				return err
			}
			defer dbc.Close()

			query := args[0]
			var indexes []types.Index
			if groupID, artifactID, ok := strings.Cut(query, ":"); ok && !fileutil.Exists(query) {
				indexes, err = dbc.SelectIndexesByGroupIDAndArtifactID(cmd.Context(), groupID, artifactID)
			} else {
				if fileutil.Exists(query) {
					if query, err = checksum.SumFile(query); err != nil {
						return err
					}
				}
				indexes, err = dbc.SelectIndexesBySha1(cmd.Context(), strings.ToLower(query))
			}
			if err != nil {
				return err
			}
			if len(indexes) == 0 {
				return xerrors.Errorf("%s: not found", query)
			}
			for _, idx := range indexes {
				if _, err = fmt.Fprintf(a.stdout, "%s\t%s\t%s\n", idx.Coordinate(), idx.HexSHA1(), sess.Local().Path(idx.Coordinate())); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func openIndex(sess config.Session) (db.DB, error) {
	dbc, err := db.New(sess.LocalRepository())
	if err != nil {
		return db.DB{}, xerrors.Errorf("db error: %w", err)
	}
	if err = dbc.Init(); err != nil {
		_ = dbc.Close()
		return db.DB{}, xerrors.Errorf("db init error: %w", err)
	}
	return dbc, nil
}

func newSystem() *system.System {
	return system.New(system.Option{HTTP: transport.DefaultHTTPOption()})
}
