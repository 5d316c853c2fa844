// Package blobstore provides content-addressable file storage for
// attachment bodies.
package blobstore

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"
)

// ErrBlobNotFound is returned when a requested blob does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// ErrWriterState is returned when a Writer method is called in a state that
// does not allow it.
var ErrWriterState = errors.New("invalid blob writer state")

// ErrInvalidKey is returned by ParseKey for malformed digest strings.
var ErrInvalidKey = errors.New("invalid blob key")

// Digester is a named hash algorithm used to address blobs.
type Digester interface {
	// Name is the algorithm prefix used in digest strings, e.g. "sha1".
	Name() string
	New() hash.Hash
}

type digester struct {
	name string
	fn   func() hash.Hash
}

func (d digester) Name() string { return d.name }
func (d digester) New() hash.Hash { return d.fn() }

var (
	// SHA1 is the default digest. Its keys interoperate with CouchDB-style peers.
	SHA1 Digester = digester{name: "sha1", fn: sha1.New}
	// SHA256 may be selected for new databases.
	SHA256 Digester = digester{name: "sha256", fn: sha256.New}
)

// DigesterByName returns the digester registered under name. An empty name
// selects SHA1.
func DigesterByName(name string) (Digester, error) {
	switch name {
	case "", SHA1.Name():
		return SHA1, nil
	case SHA256.Name():
		return SHA256, nil
	}
	return nil, fmt.Errorf("unsupported digest algorithm %q", name)
}

// Key addresses a blob. Its text form is "<algo>-<base64 digest>", the same
// form that appears as an attachment's "digest" property.
type Key string

// NewKey builds a key from an algorithm name and raw digest bytes.
func NewKey(algorithm string, sum []byte) Key {
	return Key(algorithm + "-" + base64.StdEncoding.EncodeToString(sum))
}

// ParseKey validates a digest string.
func ParseKey(s string) (Key, error) {
	k := Key(s)
	if _, err := k.Sum(); err != nil {
		return "", err
	}
	return k, nil
}

// Algorithm returns the algorithm prefix.
func (k Key) Algorithm() string {
	algo, _, _ := strings.Cut(string(k), "-")
	return algo
}

// Sum decodes the raw digest bytes.
func (k Key) Sum() ([]byte, error) {
	algo, enc, ok := strings.Cut(string(k), "-")
	if !ok || algo == "" || enc == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, string(k))
	}
	sum, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidKey, string(k), err)
	}
	return sum, nil
}

// Hex returns the digest as lowercase hex, or "" for a malformed key.
func (k Key) Hex() string {
	sum, err := k.Sum()
	if err != nil {
		return ""
	}
	return hex.EncodeToString(sum)
}

func (k Key) String() string { return string(k) }
