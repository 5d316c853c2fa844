package blobstore

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/base64"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_AppendFinishInstall(t *testing.T) {
	s := newTestStore(t)
	w, err := s.NewWriter()
	require.NoError(t, err)
	assert.Equal(t, WriterOpen, w.State())

	require.NoError(t, w.Append([]byte("hello, ")))
	require.NoError(t, w.Append([]byte("world")))
	require.NoError(t, w.Finish())
	assert.Equal(t, WriterFinished, w.State())

	data := []byte("hello, world")
	sha := sha1.Sum(data)
	sum := md5.Sum(data)
	assert.Equal(t, "sha1-"+base64.StdEncoding.EncodeToString(sha[:]), w.DigestString())
	assert.Equal(t, "md5-"+base64.StdEncoding.EncodeToString(sum[:]), w.MD5DigestString())
	assert.Equal(t, int64(len(data)), w.Length())
	assert.True(t, w.MatchesDigest(w.MD5DigestString()))

	has, err := s.Has(w.Key())
	require.NoError(t, err)
	assert.False(t, has, "not visible before install")

	require.NoError(t, w.Install())
	assert.Equal(t, WriterInstalled, w.State())

	got, err := s.Get(w.Key())
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = os.Stat(w.TempPath())
	assert.True(t, os.IsNotExist(err))
}

func TestWriter_FinishIdempotent(t *testing.T) {
	s := newTestStore(t)
	w, err := s.NewWriter()
	require.NoError(t, err)
	require.NoError(t, w.Append([]byte("x")))
	require.NoError(t, w.Finish())
	require.NoError(t, w.Finish())
}

func TestWriter_AppendAfterFinish(t *testing.T) {
	s := newTestStore(t)
	w, err := s.NewWriter()
	require.NoError(t, err)
	require.NoError(t, w.Finish())

	err = w.Append([]byte("late"))
	assert.ErrorIs(t, err, ErrWriterState)
}

func TestWriter_InstallTwice(t *testing.T) {
	s := newTestStore(t)
	w, err := s.NewWriter()
	require.NoError(t, err)
	require.NoError(t, w.Append([]byte("twice")))
	require.NoError(t, w.Finish())
	require.NoError(t, w.Install())
	require.NoError(t, w.Install())

	count, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestWriter_InstallDuplicateContent(t *testing.T) {
	s := newTestStore(t)
	data := []byte("already here")
	_, err := s.Store(data)
	require.NoError(t, err)

	w, err := s.NewWriter()
	require.NoError(t, err)
	require.NoError(t, w.Append(data))
	require.NoError(t, w.Finish())
	require.NoError(t, w.Install())

	count, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	_, err = os.Stat(w.TempPath())
	assert.True(t, os.IsNotExist(err))
}

func TestWriter_InstallBeforeFinish(t *testing.T) {
	s := newTestStore(t)
	w, err := s.NewWriter()
	require.NoError(t, err)
	assert.ErrorIs(t, w.Install(), ErrWriterState)
}

func TestWriter_Cancel(t *testing.T) {
	s := newTestStore(t)
	w, err := s.NewWriter()
	require.NoError(t, err)
	require.NoError(t, w.Append([]byte("discard me")))

	require.NoError(t, w.Cancel())
	assert.Equal(t, WriterCancelled, w.State())
	require.NoError(t, w.Cancel())

	_, err = os.Stat(w.TempPath())
	assert.True(t, os.IsNotExist(err))
	assert.ErrorIs(t, w.Append([]byte("x")), ErrWriterState)
	assert.ErrorIs(t, w.Install(), ErrWriterState)

	count, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestWriter_CancelAfterInstall(t *testing.T) {
	s := newTestStore(t)
	w, err := s.NewWriter()
	require.NoError(t, err)
	require.NoError(t, w.Finish())
	require.NoError(t, w.Install())
	assert.ErrorIs(t, w.Cancel(), ErrWriterState)
}
