package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kilupskalvis/revdb/internal/models"
	"github.com/kilupskalvis/revdb/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServer creates a server in a temp directory.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(t.TempDir(), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func putDoc(t *testing.T, db *store.Database, docID, data string) *models.Revision {
	t.Helper()
	body, err := models.NewBodyFromJSON([]byte(data))
	require.NoError(t, err)
	rev, _, err := db.PutRevision(&models.Revision{DocID: docID, Body: body}, "", false)
	require.NoError(t, err)
	return rev
}

func TestIsValidDatabaseName(t *testing.T) {
	for _, name := range []string{"a", "db1", "my_db", "a-b", "a/b", "x$()+"} {
		assert.True(t, IsValidDatabaseName(name), name)
	}
	for _, name := range []string{"", "1db", "Db", "_users", "a b", "../etc", "a.b"} {
		assert.False(t, IsValidDatabaseName(name), name)
	}
}

func TestServer_CreateAndReuse(t *testing.T) {
	s := newTestServer(t)

	db, err := s.Database("notes", true)
	require.NoError(t, err)
	assert.True(t, db.IsOpen())
	assert.Equal(t, "notes", db.Name())

	again, err := s.ExistingDatabase("notes")
	require.NoError(t, err)
	assert.Same(t, db, again)

	assert.Equal(t, []string{"notes"}, s.OpenDatabases())
	_, err = os.Stat(filepath.Join(s.Dir(), "notes"+DatabaseSuffix))
	assert.NoError(t, err)
}

func TestServer_MissingDatabase(t *testing.T) {
	s := newTestServer(t)

	_, err := s.ExistingDatabase("nope")
	assert.True(t, models.IsStatus(err, models.StatusNotFound))

	err = s.Do(context.Background(), "nope", func(*store.Database) error { return nil })
	assert.True(t, models.IsStatus(err, models.StatusNotFound))

	assert.True(t, models.IsStatus(s.DeleteDatabase("nope"), models.StatusNotFound))
}

func TestServer_InvalidName(t *testing.T) {
	s := newTestServer(t)

	_, err := s.Database("Bad Name", true)
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.ErrorIs(t, s.DeleteDatabase("../x"), ErrInvalidName)
}

func TestServer_SlashNamesMapToColons(t *testing.T) {
	s := newTestServer(t)

	_, err := s.Database("team/notes", true)
	require.NoError(t, err)
	_, err = s.Database("alpha", true)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(s.Dir(), "team:notes"+DatabaseSuffix))
	assert.NoError(t, err)

	names, err := s.AllDatabaseNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "team/notes"}, names)
}

func TestServer_DeleteDatabase(t *testing.T) {
	s := newTestServer(t)
	db, err := s.Database("notes", true)
	require.NoError(t, err)
	putDoc(t, db, "doc1", `{}`)

	require.NoError(t, s.DeleteDatabase("notes"))

	assert.False(t, db.IsOpen())
	assert.Empty(t, s.OpenDatabases())
	names, err := s.AllDatabaseNames()
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = s.Info("notes")
	assert.True(t, models.IsStatus(err, models.StatusNotFound))
}

func TestServer_DoRunsOnDatabase(t *testing.T) {
	s := newTestServer(t)
	_, err := s.Database("notes", true)
	require.NoError(t, err)

	var rev *models.Revision
	err = s.Do(context.Background(), "notes", func(db *store.Database) error {
		rev = putDoc(t, db, "doc1", `{"x":1}`)
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, rev)

	boom := errors.New("boom")
	err = s.Do(context.Background(), "notes", func(*store.Database) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestServer_DoSerializesWork(t *testing.T) {
	s := newTestServer(t)
	_, err := s.Database("notes", true)
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		running int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Do(context.Background(), "notes", func(db *store.Database) error {
				mu.Lock()
				running++
				maxSeen = max(maxSeen, running)
				mu.Unlock()

				body := models.NewBody(map[string]models.Value{"i": models.Int(int64(i))})
				_, _, err := db.PutRevision(&models.Revision{Body: body}, "", false)

				mu.Lock()
				running--
				mu.Unlock()
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	err = s.Do(context.Background(), "notes", func(db *store.Database) error {
		n, err := db.DocumentCount()
		assert.Equal(t, 8, n)
		return err
	})
	require.NoError(t, err)
}

func TestServer_DoRecoversPanics(t *testing.T) {
	s := newTestServer(t)
	_, err := s.Database("notes", true)
	require.NoError(t, err)

	err = s.Do(context.Background(), "notes", func(*store.Database) error {
		panic("boom")
	})
	assert.True(t, models.IsStatus(err, models.StatusInternalServerError))

	// The worker survives and keeps serving the database.
	require.NoError(t, s.Do(context.Background(), "notes", func(db *store.Database) error {
		_, err := db.DocumentCount()
		return err
	}))
}

func TestServer_DoHonorsContext(t *testing.T) {
	s := newTestServer(t)
	_, err := s.Database("notes", true)
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	go s.Do(context.Background(), "notes", func(*store.Database) error {
		close(started)
		<-release
		return nil
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := false
	err = s.Do(ctx, "notes", func(*store.Database) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)

	// A later job proves the queue is still alive and the cancelled job
	// never ran.
	require.NoError(t, s.Do(context.Background(), "notes", func(*store.Database) error { return nil }))
	assert.False(t, ran)
}

func TestServer_CatalogTracksOpens(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, Options{})
	require.NoError(t, err)
	_, err = s.Database("notes", true)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = New(dir, Options{})
	require.NoError(t, err)
	defer s.Close()
	_, err = s.ExistingDatabase("notes")
	require.NoError(t, err)

	info, err := s.Info("notes")
	require.NoError(t, err)
	assert.Equal(t, "notes", info.Name)
	assert.Equal(t, 2, info.OpenCount)
	assert.False(t, info.LastOpened.Before(info.Created))
}

func TestServer_CloseClosesDatabases(t *testing.T) {
	s, err := New(t.TempDir(), Options{})
	require.NoError(t, err)
	a, err := s.Database("a", true)
	require.NoError(t, err)
	b, err := s.Database("b", true)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.False(t, a.IsOpen())
	assert.False(t, b.IsOpen())

	assert.ErrorIs(t, s.Close(), ErrClosed)
	_, err = s.Database("a", false)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCatalog_RecordGetDelete(t *testing.T) {
	c, err := OpenCatalog(filepath.Join(t.TempDir(), CatalogFileName))
	require.NoError(t, err)
	defer c.Close()

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.RecordOpen("b", t0))
	require.NoError(t, c.RecordOpen("a", t0))
	require.NoError(t, c.RecordOpen("a", t0.Add(time.Hour)))

	info, err := c.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 2, info.OpenCount)
	assert.True(t, info.Created.Equal(t0))
	assert.True(t, info.LastOpened.Equal(t0.Add(time.Hour)))

	names, err := c.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	require.NoError(t, c.Delete("a"))
	_, err = c.Get("a")
	assert.ErrorIs(t, err, ErrNotInCatalog)
}

func TestDatabaseNames_WithoutServer(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b"+DatabaseSuffix), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a:x"+DatabaseSuffix), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Bad"+DatabaseSuffix), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0644))

	names, err := DatabaseNames(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a/x", "b"}, names)
}
