// Package project serves the command-plane reads and writes over a
// project's .bluekit tree: artifact listings, scrapbook folders, diagrams,
// blueprints, copies between projects and project creation.
//
// Reads go through the shared content cache so repeated listings after a
// watcher event only reread the files whose mtime moved.
package project

import (
	"log"
	"os"

	"github.com/bluekit-app/bluekit/internal/cache"
	"github.com/bluekit-app/bluekit/internal/scanner"
	"github.com/bluekit-app/bluekit/internal/store"
)

// Service reads and writes project trees.
type Service struct {
	store   *store.Store
	cache   *cache.ContentCache
	scanner *scanner.Scanner
	logger  *log.Logger
}

// Config configures a Service.
type Config struct {
	Store   *store.Store
	Cache   *cache.ContentCache
	Scanner *scanner.Scanner

	// Logger for project activity (default: stderr logger)
	Logger *log.Logger
}

// New creates a Service. A nil cache or scanner is replaced by a fresh one.
func New(config Config) *Service {
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[project] ", log.LstdFlags)
	}
	c := config.Cache
	if c == nil {
		c = cache.New(logger)
	}
	sc := config.Scanner
	if sc == nil {
		sc = scanner.New(config.Store, logger)
	}
	return &Service{store: config.Store, cache: c, scanner: sc, logger: logger}
}

// Cache returns the content cache the service reads through.
func (s *Service) Cache() *cache.ContentCache {
	return s.cache
}
