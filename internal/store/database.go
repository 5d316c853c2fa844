// Package store provides the SQLite-backed revision-tree storage engine.
// A Database owns one SQLite file holding documents, revisions, attachment
// metadata and local documents, plus a sibling blob directory holding
// attachment bodies.
//
// A Database is not safe for concurrent use. Callers serialize access,
// normally through the server package's per-database work queue.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/kilupskalvis/revdb/internal/blobstore"
	"github.com/kilupskalvis/revdb/internal/hooks"

	_ "modernc.org/sqlite"
)

// DefaultBigAttachmentLength is the size at or above which attachment bodies
// are sent as "follows" instead of inline base64 when BigAttachmentsFollow
// is requested.
const DefaultBigAttachmentLength = 16 * 1024

const defaultDocIDCacheSize = 1024

var (
	// ErrNotOpen is returned by every operation on a closed database.
	ErrNotOpen = errors.New("database is not open")

	// ErrFutureSchema is returned when the file was written by an
	// incompatible newer version.
	ErrFutureSchema = errors.New("database schema version is too new")
)

// Options configures a Database.
type Options struct {
	Logger *slog.Logger
	// BigAttachmentLength is the inline-data threshold. Replication peers must
	// agree on it, so it is fixed per database rather than per call.
	BigAttachmentLength int64
	Digester            blobstore.Digester
	DocIDCacheSize      int
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.BigAttachmentLength <= 0 {
		o.BigAttachmentLength = DefaultBigAttachmentLength
	}
	if o.Digester == nil {
		o.Digester = blobstore.SHA1
	}
	if o.DocIDCacheSize <= 0 {
		o.DocIDCacheSize = defaultDocIDCacheSize
	}
	return o
}

// ClosingHook is implemented by collaborators (views, replicators) that hold
// resources tied to an open database.
type ClosingHook interface {
	DatabaseClosing()
}

// Replicator is the part of a replication task the database tracks.
type Replicator interface {
	ClosingHook
	Remote() string
	IsPush() bool
	IsRunning() bool
	SessionID() string
}

// Database is one revision-tree store.
type Database struct {
	path   string
	name   string
	opts   Options
	logger *slog.Logger

	db     *sql.DB
	blobs  *blobstore.FSStore
	docIDs *lru.Cache
	txn    transaction
	hooks  *hooks.Registry

	pendingWriters map[string]*blobstore.Writer
	views          map[string]ClosingHook
	replicators    []Replicator

	subMu   sync.Mutex
	subs    []subscriber
	nextSub int
}

// New creates a handle for the database file at path. Nothing is touched on
// disk until Open.
func New(path string, opts Options) *Database {
	opts = opts.withDefaults()
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &Database{
		path:   path,
		name:   name,
		opts:   opts,
		logger: opts.Logger.With("db", name),
		hooks:  hooks.NewRegistry(),
	}
}

// OpenDatabase is New followed by Open.
func OpenDatabase(path string, opts Options) (*Database, error) {
	d := New(path, opts)
	if err := d.Open(); err != nil {
		return nil, err
	}
	return d, nil
}

// Open opens the SQLite file, creating and migrating the schema as needed,
// and opens the attachment store. Opening an open database is a no-op.
func (d *Database) Open() error {
	if d.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", d.path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// Transactions are tracked per handle; a single connection keeps every
	// statement inside the active one.
	db.SetMaxOpenConns(1)
	d.db = db

	if err := d.runMigrations(); err != nil {
		d.db = nil
		db.Close()
		return err
	}

	blobs, err := blobstore.NewFSStore(d.AttachmentStorePath(),
		blobstore.WithDigester(d.opts.Digester),
		blobstore.WithLogger(d.logger))
	if err != nil {
		d.db = nil
		db.Close()
		return fmt.Errorf("open attachment store: %w", err)
	}

	cache, err := lru.New(d.opts.DocIDCacheSize)
	if err != nil {
		d.db = nil
		db.Close()
		return fmt.Errorf("create doc id cache: %w", err)
	}

	d.blobs = blobs
	d.docIDs = cache
	d.pendingWriters = make(map[string]*blobstore.Writer)
	d.logger.Debug("database opened", "path", d.path)
	return nil
}

// Close tells registered views and active replicators that the database is
// closing, then releases the SQLite handle. An open transaction is rolled
// back. Closing a closed database returns ErrNotOpen.
func (d *Database) Close() error {
	if d.db == nil {
		return ErrNotOpen
	}

	for _, v := range d.views {
		v.DatabaseClosing()
	}
	d.views = nil
	for _, r := range d.replicators {
		r.DatabaseClosing()
	}
	d.replicators = nil

	if d.txn.tx != nil {
		d.txn.tx.Rollback()
	}
	d.txn = transaction{}

	for digest, w := range d.pendingWriters {
		if w.State() != blobstore.WriterInstalled {
			w.Cancel()
		}
		delete(d.pendingWriters, digest)
	}

	err := d.db.Close()
	d.db = nil
	d.blobs = nil
	d.docIDs = nil
	d.logger.Debug("database closed")
	if err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// IsOpen reports whether Open has succeeded and Close has not been called.
func (d *Database) IsOpen() bool { return d.db != nil }

// Exists reports whether the database file exists.
func (d *Database) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// Delete closes the database if needed and removes its file, its SQLite
// side files and its attachment directory.
func (d *Database) Delete() error {
	if d.db != nil {
		if err := d.Close(); err != nil {
			return err
		}
	}
	for _, p := range []string{d.path, d.path + "-wal", d.path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("delete database file: %w", err)
		}
	}
	if err := os.RemoveAll(d.AttachmentStorePath()); err != nil {
		return fmt.Errorf("delete attachments: %w", err)
	}
	// Removes the per-database directory only if it is now empty.
	os.Remove(filepath.Dir(d.AttachmentStorePath()))
	return nil
}

// Path returns the database file path.
func (d *Database) Path() string { return d.path }

// Name returns the logical database name.
func (d *Database) Name() string { return d.name }

// SetName overrides the logical name derived from the file name.
func (d *Database) SetName(name string) { d.name = name }

// AttachmentStorePath is the database path without its extension, plus
// "/attachments".
func (d *Database) AttachmentStorePath() string {
	base := strings.TrimSuffix(d.path, filepath.Ext(d.path))
	return filepath.Join(base, "attachments")
}

// Attachments returns the blob store. Nil while closed.
func (d *Database) Attachments() *blobstore.FSStore { return d.blobs }

// DigestAlgorithm names the hash attachments are addressed by. Empty while closed.
func (d *Database) DigestAlgorithm() string {
	if d.blobs == nil {
		return ""
	}
	return d.blobs.Digester().Name()
}

// Hooks returns the database's validation and filter registry.
func (d *Database) Hooks() *hooks.Registry { return d.hooks }

// BigAttachmentLength returns the inline threshold in bytes.
func (d *Database) BigAttachmentLength() int64 { return d.opts.BigAttachmentLength }

// RegisterView records a view so it is told when the database closes.
func (d *Database) RegisterView(name string, v ClosingHook) {
	if d.views == nil {
		d.views = make(map[string]ClosingHook)
	}
	d.views[name] = v
}

// View returns a registered view.
func (d *Database) View(name string) ClosingHook { return d.views[name] }

// DeleteView unregisters a view.
func (d *Database) DeleteView(name string) { delete(d.views, name) }

// AddActiveReplicator records a replicator so it is told when the database
// closes. Adding one already present is a no-op.
func (d *Database) AddActiveReplicator(r Replicator) {
	for _, existing := range d.replicators {
		if existing == r {
			return
		}
	}
	d.replicators = append(d.replicators, r)
}

// ActiveReplicators returns the tracked replicators.
func (d *Database) ActiveReplicators() []Replicator { return d.replicators }

// ActiveReplicator finds a running replicator for remote in the given direction.
func (d *Database) ActiveReplicator(remote string, push bool) Replicator {
	for _, r := range d.replicators {
		if r.Remote() == remote && r.IsPush() == push && r.IsRunning() {
			return r
		}
	}
	return nil
}

// ReplicatorWithSession finds a tracked replicator by session ID.
func (d *Database) ReplicatorWithSession(sessionID string) Replicator {
	for _, r := range d.replicators {
		if r.SessionID() == sessionID {
			return r
		}
	}
	return nil
}

func (d *Database) checkOpen() error {
	if d.db == nil {
		return ErrNotOpen
	}
	return nil
}

// TotalDataSize returns the size of the database file plus all blobs.
func (d *Database) TotalDataSize() (int64, error) {
	if err := d.checkOpen(); err != nil {
		return 0, err
	}
	info, err := os.Stat(d.path)
	if err != nil {
		return 0, fmt.Errorf("stat database: %w", err)
	}
	blobSize, err := d.blobs.TotalSize()
	if err != nil {
		return 0, err
	}
	return info.Size() + blobSize, nil
}
