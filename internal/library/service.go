// Package library moves artifacts between local projects and remote
// library workspaces.
//
// It holds the publish, pull, sync, deletion, reorganization and status
// engines. Every engine reads the catalog store and the remote first and
// writes the store last, inside a single transaction per item, so a
// failure part way through leaves either the old rows or the new ones.
// Remote writes that succeed before a store write fails are reconciled
// by the next SyncWorkspaceCatalog.
package library

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/bluekit-app/bluekit/internal/github"
	"github.com/bluekit-app/bluekit/internal/store"
)

// Remote is the subset of the contents API the engines use.
// *github.Client satisfies it.
type Remote interface {
	GetFile(ctx context.Context, owner, repo, path string) (*github.File, error)
	GetFileSHA(ctx context.Context, owner, repo, path string) (sha string, ok bool, err error)
	ListDirectory(ctx context.Context, owner, repo, dir string) ([]github.Entry, error)
	PutFile(ctx context.Context, owner, repo, path string, content []byte, message, sha string) (*github.WriteResult, error)
	DeleteFile(ctx context.Context, owner, repo, path, message, sha string) (*github.WriteResult, error)
	GetUser(ctx context.Context) (*github.User, error)
}

var _ Remote = (*github.Client)(nil)

// Service runs the library engines against one store and one remote.
type Service struct {
	store  *store.Store
	remote Remote
	logger *log.Logger
	now    func() time.Time

	userMu sync.Mutex
	user   string
}

// Config configures a Service.
type Config struct {
	Store  *store.Store
	Remote Remote

	// Logger for engine activity (default: stderr logger).
	Logger *log.Logger
}

// New creates a Service.
func New(config Config) *Service {
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[library] ", log.LstdFlags)
	}
	return &Service{
		store:  config.Store,
		remote: config.Remote,
		logger: logger,
		now:    time.Now,
	}
}

// ForgetUser drops the cached publisher handle, e.g. after the token
// changes.
func (s *Service) ForgetUser() {
	s.userMu.Lock()
	s.user = ""
	s.userMu.Unlock()
}

// publisher returns the authenticated user's login, cached after the
// first successful lookup.
func (s *Service) publisher(ctx context.Context) (string, error) {
	s.userMu.Lock()
	defer s.userMu.Unlock()
	if s.user != "" {
		return s.user, nil
	}
	user, err := s.remote.GetUser(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to identify publisher: %w", err)
	}
	s.user = user.Login
	return s.user, nil
}

// workspace loads a workspace row.
func (s *Service) workspace(ctx context.Context, id string) (*store.Workspace, error) {
	ws, err := s.store.GetWorkspace(ctx, id)
	if err != nil {
		return nil, err
	}
	return ws, nil
}
