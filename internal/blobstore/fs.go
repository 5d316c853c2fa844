package blobstore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	blobExt    = ".blob"
	tempExt    = ".blobtmp"
	tempSubdir = "temp_attachments"
)

// FSStore stores each blob as one file named after its digest, directly under
// the root directory. In-flight writes live in a temp subdirectory and are
// installed with a hard link, so a canonical path never shows partial data.
type FSStore struct {
	root     string
	digester Digester
	logger   *slog.Logger
}

// Option configures an FSStore.
type Option func(*FSStore)

// WithDigester selects the addressing hash. Defaults to SHA1.
func WithDigester(d Digester) Option {
	return func(s *FSStore) { s.digester = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *FSStore) { s.logger = l }
}

// NewFSStore creates a filesystem-backed blob store rooted at the given directory.
func NewFSStore(root string, opts ...Option) (*FSStore, error) {
	s := &FSStore{
		root:     root,
		digester: SHA1,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(s.TempDir(), 0755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return s, nil
}

// Root returns the store directory.
func (s *FSStore) Root() string { return s.root }

// Digester returns the addressing hash.
func (s *FSStore) Digester() Digester { return s.digester }

// TempDir returns the directory holding in-flight writes.
func (s *FSStore) TempDir() string { return filepath.Join(s.root, tempSubdir) }

// KeyFor computes the key of data.
func (s *FSStore) KeyFor(data []byte) Key {
	h := s.digester.New()
	h.Write(data)
	return NewKey(s.digester.Name(), h.Sum(nil))
}

// PathFor maps a key to its canonical file. SHA1 blobs are named by bare hex
// digest; other algorithms carry their name as a prefix.
func (s *FSStore) PathFor(key Key) string {
	name := key.Hex()
	if algo := key.Algorithm(); algo != SHA1.Name() {
		name = algo + "-" + name
	}
	return filepath.Join(s.root, name+blobExt)
}

// Has checks whether a blob exists.
func (s *FSStore) Has(key Key) (bool, error) {
	_, err := os.Stat(s.PathFor(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat blob %s: %w", key, err)
	}
	return true, nil
}

// Store writes data under its own key. Idempotent: existing blobs are not
// rewritten.
func (s *FSStore) Store(data []byte) (Key, error) {
	key := s.KeyFor(data)
	if ok, err := s.Has(key); err != nil {
		return "", err
	} else if ok {
		return key, nil
	}

	tmp, err := s.createTemp()
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write blob data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close temp file: %w", err)
	}

	if _, err := s.install(tmpPath, key); err != nil {
		return "", err
	}
	return key, nil
}

// StoreStream copies r into the store, hashing while writing. Returns the
// key and the number of bytes read.
func (s *FSStore) StoreStream(r io.Reader) (Key, int64, error) {
	w, err := s.NewWriter()
	if err != nil {
		return "", 0, err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Cancel()
		return "", 0, fmt.Errorf("write blob data: %w", err)
	}
	if err := w.Finish(); err != nil {
		w.Cancel()
		return "", 0, err
	}
	if err := w.Install(); err != nil {
		return "", 0, err
	}
	return w.Key(), w.Length(), nil
}

// Get reads a whole blob. Returns ErrBlobNotFound if it does not exist.
func (s *FSStore) Get(key Key) ([]byte, error) {
	data, err := os.ReadFile(s.PathFor(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	return data, nil
}

// Open opens a blob for streaming. Returns ErrBlobNotFound if it does not exist.
func (s *FSStore) Open(key Key) (io.ReadCloser, error) {
	f, err := os.Open(s.PathFor(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", key, err)
	}
	return f, nil
}

// Size returns the length of a blob in bytes.
func (s *FSStore) Size(key Key) (int64, error) {
	info, err := os.Stat(s.PathFor(key))
	if errors.Is(err, os.ErrNotExist) {
		return 0, ErrBlobNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("stat blob %s: %w", key, err)
	}
	return info.Size(), nil
}

// Delete removes a blob. No error if it doesn't exist.
func (s *FSStore) Delete(key Key) error {
	err := os.Remove(s.PathFor(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}

// Keys returns the keys of all installed blobs.
func (s *FSStore) Keys() ([]Key, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	var keys []Key
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if key, ok := keyFromFileName(e.Name()); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Count returns the number of installed blobs.
func (s *FSStore) Count() (int, error) {
	keys, err := s.Keys()
	return len(keys), err
}

// TotalSize returns the summed size of all installed blobs.
func (s *FSStore) TotalSize() (int64, error) {
	keys, err := s.Keys()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, key := range keys {
		n, err := s.Size(key)
		if errors.Is(err, ErrBlobNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// DeleteAllExcept removes every blob whose key is not in keep and returns the
// number removed. Failures on individual blobs are logged and skipped.
func (s *FSStore) DeleteAllExcept(keep map[Key]bool) (int, error) {
	keys, err := s.Keys()
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, key := range keys {
		if keep[key] {
			continue
		}
		if err := s.Delete(key); err != nil {
			s.logger.Warn("gc: failed to delete blob", "key", key, "error", err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

func (s *FSStore) createTemp() (*os.File, error) {
	f, err := os.CreateTemp(s.TempDir(), "*"+tempExt)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return f, nil
}

// install moves a fully written temp file to the canonical path for key.
// When the canonical file already exists the temp file is discarded and
// installed is false. The temp file is gone when install returns.
func (s *FSStore) install(tmpPath string, key Key) (installed bool, err error) {
	dst := s.PathFor(key)
	defer os.Remove(tmpPath)

	err = os.Link(tmpPath, dst)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}

	// Filesystems without hard links fall back to rename.
	if _, statErr := os.Stat(dst); statErr == nil {
		return false, nil
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return false, fmt.Errorf("install blob %s: %w", key, err)
	}
	return true, nil
}

// keyFromFileName reverses PathFor.
func keyFromFileName(name string) (Key, bool) {
	base, ok := strings.CutSuffix(name, blobExt)
	if !ok {
		return "", false
	}
	algo := SHA1.Name()
	if a, h, found := strings.Cut(base, "-"); found {
		algo, base = a, h
	}
	sum, err := hex.DecodeString(base)
	if err != nil || len(sum) == 0 {
		return "", false
	}
	return NewKey(algo, sum), true
}
