// Package server manages the set of databases living in one directory. It
// opens each database at most once and runs all work against it on a
// dedicated goroutine.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kilupskalvis/revdb/internal/models"
	"github.com/kilupskalvis/revdb/internal/store"
	"golang.org/x/sync/errgroup"
)

// DatabaseSuffix is the file extension of database files.
const DatabaseSuffix = ".revdb"

var validName = regexp.MustCompile(`^[a-z][a-z0-9_$()+/-]*$`)

// ErrInvalidName is returned for database names that break the naming rule.
var ErrInvalidName = errors.New("invalid database name")

// ErrClosed is returned by every call on a closed server.
var ErrClosed = errors.New("server is closed")

// IsValidDatabaseName reports whether name is a legal database name:
// a lowercase letter followed by lowercase letters, digits or any of _$()+-/.
func IsValidDatabaseName(name string) bool {
	return validName.MatchString(name)
}

// Options configures a Server.
type Options struct {
	Logger   *slog.Logger
	Database store.Options
}

type entry struct {
	db    *store.Database
	queue *workQueue
}

// Server is the registry of databases under one directory.
type Server struct {
	dir     string
	opts    Options
	logger  *slog.Logger
	catalog *Catalog
	now     func() time.Time

	mu     sync.RWMutex
	dbs    map[string]*entry
	closed bool
}

// New opens a server rooted at dir, creating the directory if needed.
func New(dir string, opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Database.Logger == nil {
		opts.Database.Logger = opts.Logger
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create server directory: %w", err)
	}

	catalog, err := OpenCatalog(filepath.Join(dir, CatalogFileName))
	if err != nil {
		return nil, err
	}

	return &Server{
		dir:     dir,
		opts:    opts,
		logger:  opts.Logger,
		catalog: catalog,
		now:     time.Now,
		dbs:     make(map[string]*entry),
	}, nil
}

// Dir returns the server directory.
func (s *Server) Dir() string { return s.dir }

// pathForName maps a database name to its file. Slashes become colons so
// every database is a single file in the server directory.
func (s *Server) pathForName(name string) string {
	return filepath.Join(s.dir, strings.ReplaceAll(name, "/", ":")+DatabaseSuffix)
}

func nameForFile(file string) string {
	return strings.ReplaceAll(strings.TrimSuffix(file, DatabaseSuffix), ":", "/")
}

// Database returns the open database called name. When the database is not
// open yet it is opened, and created first if create is set; otherwise a
// missing database yields NotFound.
func (s *Server) Database(name string, create bool) (*store.Database, error) {
	e, err := s.entry(name, create)
	if err != nil {
		return nil, err
	}
	return e.db, nil
}

// ExistingDatabase opens name only if it already exists.
func (s *Server) ExistingDatabase(name string) (*store.Database, error) {
	return s.Database(name, false)
}

func (s *Server) entry(name string, create bool) (*entry, error) {
	if !IsValidDatabaseName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	s.mu.RLock()
	e, ok := s.dbs[name]
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		return e, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after write lock
	if s.closed {
		return nil, ErrClosed
	}
	if e, ok := s.dbs[name]; ok {
		return e, nil
	}

	db := store.New(s.pathForName(name), s.opts.Database)
	db.SetName(name)
	if !create && !db.Exists() {
		return nil, models.Errorf(models.StatusNotFound, "database %q not found", name)
	}
	if err := db.Open(); err != nil {
		return nil, fmt.Errorf("open database %s: %w", name, err)
	}
	if err := s.catalog.RecordOpen(name, s.now()); err != nil {
		s.logger.Warn("catalog update failed", "db", name, "error", err)
	}

	e = &entry{db: db, queue: newWorkQueue(db)}
	s.dbs[name] = e
	s.logger.Info("opened database", "name", name)
	return e, nil
}

// Do runs fn against the named database on that database's worker
// goroutine, opening the database first if needed. The database must exist.
func (s *Server) Do(ctx context.Context, name string, fn func(*store.Database) error) error {
	e, err := s.entry(name, false)
	if err != nil {
		return err
	}
	return e.queue.submit(ctx, fn)
}

// DeleteDatabase closes the named database and removes its files.
func (s *Server) DeleteDatabase(name string) error {
	if !IsValidDatabaseName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	db := store.New(s.pathForName(name), s.opts.Database)
	if e, ok := s.dbs[name]; ok {
		e.queue.close()
		db = e.db
		delete(s.dbs, name)
	} else if !db.Exists() {
		return models.Errorf(models.StatusNotFound, "database %q not found", name)
	}

	if err := db.Delete(); err != nil {
		return fmt.Errorf("delete database %s: %w", name, err)
	}
	if err := s.catalog.Delete(name); err != nil {
		s.logger.Warn("catalog update failed", "db", name, "error", err)
	}
	s.logger.Info("deleted database", "name", name)
	return nil
}

// AllDatabaseNames lists every database file in the server directory.
func (s *Server) AllDatabaseNames() ([]string, error) {
	return DatabaseNames(s.dir)
}

// DatabaseNames lists the databases stored in dir without opening a server.
func DatabaseNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read server directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), DatabaseSuffix) {
			continue
		}
		if name := nameForFile(e.Name()); IsValidDatabaseName(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// OpenDatabases returns the names of the databases currently open.
func (s *Server) OpenDatabases() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.dbs))
	for name := range s.dbs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Info returns the catalog record of a database.
func (s *Server) Info(name string) (*DatabaseInfo, error) {
	info, err := s.catalog.Get(name)
	if errors.Is(err, ErrNotInCatalog) {
		return nil, models.Errorf(models.StatusNotFound, "database %q not found: %w", name, err)
	}
	return info, err
}

// Close drains every work queue, closes every database concurrently and
// then the catalog. Later calls return ErrClosed.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	dbs := s.dbs
	s.dbs = nil
	s.mu.Unlock()

	var g errgroup.Group
	for name, e := range dbs {
		g.Go(func() error {
			e.queue.close()
			if err := e.db.Close(); err != nil {
				return fmt.Errorf("close database %s: %w", name, err)
			}
			s.logger.Info("closed database", "name", name)
			return nil
		})
	}
	err := g.Wait()
	if cerr := s.catalog.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close catalog: %w", cerr)
	}
	return err
}
