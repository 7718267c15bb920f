package config

import (
	"slices"
	"time"

	"golang.org/x/xerrors"

	"github.com/aquasecurity/trivy-java-resolver/pkg/artifact"
	"github.com/aquasecurity/trivy-java-resolver/pkg/event"
	"github.com/aquasecurity/trivy-java-resolver/pkg/repository"
	"github.com/aquasecurity/trivy-java-resolver/pkg/workspace"
)

const (
	DefaultConcurrency     = 8
	DefaultTransferTimeout = 5 * time.Minute
	DefaultUpdateInterval  = 24 * time.Hour
)

// Session configures resolve and install calls. It is a value: the With methods
// return modified copies and never touch the receiver.
type Session struct {
	localRepository string
	remotes         []repository.Remote
	workspace       workspace.Reader
	listeners       []event.Listener
	offline         bool
	followOptional  bool
	concurrency     int
	transferTimeout time.Duration
	updateInterval  time.Duration
	scopes          []artifact.Scope
}

// Default returns a session using ~/.m2/repository and Maven Central.
func Default() Session {
	return Session{
		localRepository: repository.DefaultDir(),
		remotes:         []repository.Remote{repository.Central()},
		concurrency:     DefaultConcurrency,
		transferTimeout: DefaultTransferTimeout,
		updateInterval:  DefaultUpdateInterval,
	}
}

func (s Session) LocalRepository() string        { return s.localRepository }
func (s Session) Remotes() []repository.Remote   { return slices.Clone(s.remotes) }
func (s Session) Workspace() workspace.Reader    { return s.workspace }
func (s Session) Listeners() []event.Listener    { return slices.Clone(s.listeners) }
func (s Session) Offline() bool                  { return s.offline }
func (s Session) FollowOptional() bool           { return s.followOptional }
func (s Session) Concurrency() int               { return s.concurrency }
func (s Session) TransferTimeout() time.Duration { return s.transferTimeout }
func (s Session) UpdateInterval() time.Duration  { return s.updateInterval }
func (s Session) Scopes() []artifact.Scope       { return slices.Clone(s.scopes) }
func (s Session) Local() repository.Local        { return repository.NewLocal(s.localRepository) }

func (s Session) WithLocalRepository(dir string) Session {
	s.localRepository = dir
	return s
}

// WithRemoteRepository appends r to the remotes. A remote with the same id is
// replaced in place, keeping its position.
func (s Session) WithRemoteRepository(r repository.Remote) Session {
	remotes := slices.Clone(s.remotes)
	if i := slices.IndexFunc(remotes, func(x repository.Remote) bool { return x.ID == r.ID }); i >= 0 {
		remotes[i] = r
	} else {
		remotes = append(remotes, r)
	}
	s.remotes = remotes
	return s
}

// WithRemoteRepositories replaces the remotes.
func (s Session) WithRemoteRepositories(remotes ...repository.Remote) Session {
	s.remotes = slices.Clone(remotes)
	return s
}

func (s Session) WithWorkspace(r workspace.Reader) Session {
	s.workspace = r
	return s
}

func (s Session) WithListener(l event.Listener) Session {
	s.listeners = append(slices.Clone(s.listeners), l)
	return s
}

func (s Session) WithOffline(offline bool) Session {
	s.offline = offline
	return s
}

func (s Session) WithFollowOptional(follow bool) Session {
	s.followOptional = follow
	return s
}

func (s Session) WithConcurrency(n int) Session {
	s.concurrency = n
	return s
}

func (s Session) WithTransferTimeout(d time.Duration) Session {
	s.transferTimeout = d
	return s
}

func (s Session) WithUpdateInterval(d time.Duration) Session {
	s.updateInterval = d
	return s
}

// WithScopes limits the resolved artifacts to the given scopes.
func (s Session) WithScopes(scopes ...artifact.Scope) Session {
	s.scopes = slices.Clone(scopes)
	return s
}

func (s Session) Validate() error {
	if s.localRepository == "" {
		return xerrors.New("local repository is required")
	}
	if s.concurrency <= 0 {
		return xerrors.Errorf("concurrency must be positive: %d", s.concurrency)
	}
	if s.transferTimeout < 0 || s.updateInterval < 0 {
		return xerrors.New("durations must not be negative")
	}
	seen := make(map[string]struct{}, len(s.remotes))
	for _, r := range s.remotes {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, ok := seen[r.ID]; ok {
			return xerrors.Errorf("duplicate repository id %q", r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}
