package blobstore

import (
	"bufio"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"hash"
	"os"
)

// WriterState is the lifecycle position of a Writer.
type WriterState int

const (
	WriterOpen WriterState = iota
	WriterFinished
	WriterInstalled
	WriterCancelled
)

func (s WriterState) String() string {
	switch s {
	case WriterOpen:
		return "open"
	case WriterFinished:
		return "finished"
	case WriterInstalled:
		return "installed"
	case WriterCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Writer ingests a blob incrementally. Bytes go to a temp file while two
// digests run: the store's addressing digest and MD5, which transports use
// for integrity checks. A Writer is not safe for concurrent use.
type Writer struct {
	store   *FSStore
	state   WriterState
	file    *os.File
	buf     *bufio.Writer
	tmpPath string
	digest  hash.Hash
	md5     hash.Hash
	length  int64
	key     Key
	md5Sum  []byte
}

// NewWriter starts a streaming write into the store.
func (s *FSStore) NewWriter() (*Writer, error) {
	f, err := s.createTemp()
	if err != nil {
		return nil, err
	}
	return &Writer{
		store:   s,
		state:   WriterOpen,
		file:    f,
		buf:     bufio.NewWriter(f),
		tmpPath: f.Name(),
		digest:  s.digester.New(),
		md5:     md5.New(),
	}, nil
}

// Append adds bytes. Only valid while open.
func (w *Writer) Append(p []byte) error {
	_, err := w.Write(p)
	return err
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	if w.state != WriterOpen {
		return 0, fmt.Errorf("append in %s state: %w", w.state, ErrWriterState)
	}
	n, err := w.buf.Write(p)
	w.digest.Write(p[:n])
	w.md5.Write(p[:n])
	w.length += int64(n)
	if err != nil {
		return n, fmt.Errorf("write temp blob: %w", err)
	}
	return n, nil
}

// Finish flushes and closes the temp file and fixes the digests. Calling it
// again after success is a no-op.
func (w *Writer) Finish() error {
	switch w.state {
	case WriterFinished, WriterInstalled:
		return nil
	case WriterCancelled:
		return fmt.Errorf("finish in %s state: %w", w.state, ErrWriterState)
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush temp blob: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close temp blob: %w", err)
	}
	w.file = nil
	w.key = NewKey(w.store.digester.Name(), w.digest.Sum(nil))
	w.md5Sum = w.md5.Sum(nil)
	w.state = WriterFinished
	return nil
}

// Install moves the finished blob into the store. If identical content is
// already installed the temp file is discarded and Install still succeeds.
// Installing twice is a no-op.
func (w *Writer) Install() error {
	switch w.state {
	case WriterInstalled:
		return nil
	case WriterOpen, WriterCancelled:
		return fmt.Errorf("install in %s state: %w", w.state, ErrWriterState)
	}
	installed, err := w.store.install(w.tmpPath, w.key)
	if err != nil {
		return err
	}
	if !installed {
		w.store.logger.Debug("blob already present", "key", w.key)
	}
	w.state = WriterInstalled
	return nil
}

// Cancel discards the temp file. It is a no-op once cancelled and an error
// once installed.
func (w *Writer) Cancel() error {
	switch w.state {
	case WriterCancelled:
		return nil
	case WriterInstalled:
		return fmt.Errorf("cancel in %s state: %w", w.state, ErrWriterState)
	}
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
	w.state = WriterCancelled
	if err := os.Remove(w.tmpPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove temp blob: %w", err)
	}
	return nil
}

// State returns the current lifecycle state.
func (w *Writer) State() WriterState { return w.state }

// Length returns the number of bytes appended so far.
func (w *Writer) Length() int64 { return w.length }

// Key returns the addressing key. Empty until finished.
func (w *Writer) Key() Key { return w.key }

// DigestString returns the addressing digest as "<algo>-<base64>".
func (w *Writer) DigestString() string { return string(w.key) }

// MD5DigestString returns the MD5 digest as "md5-<base64>". Empty until finished.
func (w *Writer) MD5DigestString() string {
	if w.md5Sum == nil {
		return ""
	}
	return "md5-" + base64.StdEncoding.EncodeToString(w.md5Sum)
}

// MatchesDigest reports whether digest (in either supported form) equals one
// of this writer's digests.
func (w *Writer) MatchesDigest(digest string) bool {
	return digest != "" && (digest == w.DigestString() || digest == w.MD5DigestString())
}

// TempPath returns the path of the in-flight file.
func (w *Writer) TempPath() string { return w.tmpPath }
