package config

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"

	"github.com/aquasecurity/trivy-java-resolver/pkg/artifact"
	"github.com/aquasecurity/trivy-java-resolver/pkg/repository"
	"github.com/aquasecurity/trivy-java-resolver/pkg/workspace"
)

// File models the YAML configuration file. Missing keys keep the defaults.
//
//	localRepository: ~/.m2/repository
//	remotes:
//	  - id: central
//	    url: https://repo.maven.apache.org/maven2/
//	workspace: build/workspace.tsv
//	offline: false
//	followOptional: false
//	concurrency: 8
//	transferTimeout: 5m
//	updateInterval: 24h
//	scopes: [compile, runtime]
type File struct {
	LocalRepository string              `yaml:"localRepository"`
	Remotes         []repository.Remote `yaml:"remotes"`
	Workspace       string              `yaml:"workspace"`
	Offline         bool                `yaml:"offline"`
	FollowOptional  bool                `yaml:"followOptional"`
	Concurrency     int                 `yaml:"concurrency"`
	TransferTimeout time.Duration       `yaml:"transferTimeout"`
	UpdateInterval  time.Duration       `yaml:"updateInterval"`
	Scopes          []string            `yaml:"scopes"`

	// dir resolves relative paths.
	dir string
}

// Load reads a configuration file. Unknown keys are rejected.
func Load(path string) (File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return File{}, xerrors.Errorf("unable to read config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(b))
	decoder.KnownFields(true)

	var f File
	if err = decoder.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, xerrors.Errorf("unable to parse config %s: %w", path, err)
	}
	f.dir = filepath.Dir(path)
	return f, nil
}

// Session applies the file onto base.
func (f File) Session(base Session) (Session, error) {
	s := base
	if f.LocalRepository != "" {
		s = s.WithLocalRepository(f.path(f.LocalRepository))
	}
	if len(f.Remotes) > 0 {
		remotes := lo.Map(f.Remotes, func(r repository.Remote, _ int) repository.Remote {
			if r.Layout == "" {
				r.Layout = repository.DefaultLayout
			}
			return r
		})
		s = s.WithRemoteRepositories(remotes...)
	}
	if f.Workspace != "" {
		idx, err := workspace.Open(f.path(f.Workspace))
		if err != nil {
			return Session{}, xerrors.Errorf("workspace error: %w", err)
		}
		s = s.WithWorkspace(idx)
		slog.Debug("Workspace loaded", slog.String("path", f.path(f.Workspace)), slog.Int("artifacts", idx.Len()))
	}
	if f.Offline {
		s = s.WithOffline(true)
	}
	if f.FollowOptional {
		s = s.WithFollowOptional(true)
	}
	if f.Concurrency != 0 {
		s = s.WithConcurrency(f.Concurrency)
	}
	if f.TransferTimeout != 0 {
		s = s.WithTransferTimeout(f.TransferTimeout)
	}
	if f.UpdateInterval != 0 {
		s = s.WithUpdateInterval(f.UpdateInterval)
	}
	if len(f.Scopes) > 0 {
		s = s.WithScopes(lo.Map(f.Scopes, func(scope string, _ int) artifact.Scope {
			return artifact.ParseScope(scope)
		})...)
	}
	if err := s.Validate(); err != nil {
		return Session{}, xerrors.Errorf("invalid config: %w", err)
	}
	return s, nil
}

// path expands "~/" and resolves p against the directory of the file.
func (f File) path(p string) string {
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	if filepath.IsAbs(p) || f.dir == "" {
		return p
	}
	return filepath.Join(f.dir, p)
}
