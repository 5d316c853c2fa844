package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

// CatalogFileName is the catalog's file name inside the server directory.
const CatalogFileName = "catalog.bolt"

var bucketDatabases = []byte("databases")

// ErrNotInCatalog is returned when the catalog has no record for a database.
var ErrNotInCatalog = errors.New("database not in catalog")

// DatabaseInfo is the catalog record of one database.
type DatabaseInfo struct {
	Name       string    `json:"name"`
	Created    time.Time `json:"created"`
	LastOpened time.Time `json:"last_opened"`
	OpenCount  int       `json:"open_count"`
}

// Catalog records which databases a server has created and how they have
// been used. It is advisory: the database files themselves are the source
// of truth for what exists.
type Catalog struct {
	db *bolt.DB
}

// OpenCatalog opens or creates a catalog at the given path.
func OpenCatalog(path string) (*Catalog, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create catalog directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDatabases)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket %s: %w", bucketDatabases, err)
	}

	return &Catalog{db: db}, nil
}

// Close releases the catalog file.
func (c *Catalog) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// RecordOpen notes that name was opened at now, creating its record on
// first use.
func (c *Catalog) RecordOpen(name string, now time.Time) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDatabases)
		info := DatabaseInfo{Name: name, Created: now}
		if data := b.Get([]byte(name)); data != nil {
			if err := json.Unmarshal(data, &info); err != nil {
				return fmt.Errorf("unmarshal catalog record %s: %w", name, err)
			}
		}
		info.LastOpened = now
		info.OpenCount++

		data, err := json.Marshal(info)
		if err != nil {
			return fmt.Errorf("marshal catalog record: %w", err)
		}
		return b.Put([]byte(name), data)
	})
}

// Get returns the record for name. Returns ErrNotInCatalog if missing.
func (c *Catalog) Get(name string) (*DatabaseInfo, error) {
	var info *DatabaseInfo
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDatabases).Get([]byte(name))
		if data == nil {
			return ErrNotInCatalog
		}
		info = &DatabaseInfo{}
		return json.Unmarshal(data, info)
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Delete removes the record for name. Deleting a missing record is a no-op.
func (c *Catalog) Delete(name string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDatabases).Delete([]byte(name))
	})
}

// Names returns every recorded name, sorted.
func (c *Catalog) Names() ([]string, error) {
	var names []string
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDatabases).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	sort.Strings(names)
	return names, err
}
