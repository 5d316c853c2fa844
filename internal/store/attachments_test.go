package store

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"testing"

	"github.com/kilupskalvis/revdb/internal/blobstore"
	"github.com/kilupskalvis/revdb/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inlineAttachmentBody(t *testing.T, extra string, files map[string]string) *models.Body {
	t.Helper()
	atts := ""
	for name, content := range files {
		if atts != "" {
			atts += ","
		}
		atts += fmt.Sprintf(`%q:{"content_type":"text/plain","data":%q}`,
			name, base64.StdEncoding.EncodeToString([]byte(content)))
	}
	return mustBody(t, fmt.Sprintf(`{%s"_attachments":{%s}}`, extra, atts))
}

func readAttachment(t *testing.T, db *Database, docID, revID, name string) string {
	t.Helper()
	r, _, err := db.GetAttachment(docID, revID, name)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func TestAttachments_InlineRoundTrip(t *testing.T) {
	db := newTestDB(t)
	rev, _, err := db.PutRevision(&models.Revision{
		DocID: "doc1",
		Body:  inlineAttachmentBody(t, `"x":1,`, map[string]string{"hello.txt": "hello world"}),
	}, "", false)
	require.NoError(t, err)

	atts, err := db.AttachmentsForSequence(rev.Sequence)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "hello.txt", atts[0].Name)
	assert.Equal(t, "text/plain", atts[0].ContentType)
	assert.Equal(t, int64(11), atts[0].Length)
	assert.Equal(t, 1, atts[0].RevPos)
	assert.Equal(t, string(db.Attachments().KeyFor([]byte("hello world"))), atts[0].Digest)

	got, err := db.GetDocument("doc1", "", models.IncludeAttachments)
	require.NoError(t, err)
	entry := got.Attachments()["hello.txt"]
	data, _ := entry.Get("data")
	encoded, _ := data.AsString()
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(decoded))

	stubbed, err := db.GetDocument("doc1", "", 0)
	require.NoError(t, err)
	entry = stubbed.Attachments()["hello.txt"]
	stub, _ := entry.Get("stub")
	assert.True(t, stub.Truthy())
	_, hasData := entry.Get("data")
	assert.False(t, hasData)

	assert.Equal(t, "hello world", readAttachment(t, db, "doc1", "", "hello.txt"))
}

func TestAttachments_StubInheritedFromParent(t *testing.T) {
	db := newTestDB(t)
	first, _, err := db.PutRevision(&models.Revision{
		DocID: "doc1",
		Body:  inlineAttachmentBody(t, "", map[string]string{"a.txt": "aaa"}),
	}, "", false)
	require.NoError(t, err)

	stubbed, err := db.GetDocument("doc1", "", 0)
	require.NoError(t, err)
	body := stubbed.Body.With(map[string]models.Value{"x": models.Int(2)})

	second, _, err := db.PutRevision(&models.Revision{DocID: "doc1", Body: body}, first.RevID, false)
	require.NoError(t, err)

	atts, err := db.AttachmentsForSequence(second.Sequence)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, 1, atts[0].RevPos)
	assert.Equal(t, "aaa", readAttachment(t, db, "doc1", second.RevID, "a.txt"))
}

func TestAttachments_StubWithoutParentAttachmentFails(t *testing.T) {
	db := newTestDB(t)
	first := putDoc(t, db, "doc1", "", `{}`)

	body := mustBody(t, `{"_attachments":{"ghost.txt":{"stub":true,"revpos":1}}}`)
	_, status, err := db.PutRevision(&models.Revision{DocID: "doc1", Body: body}, first.RevID, false)
	assert.Equal(t, models.StatusNotFound, status)
	require.Error(t, err)

	current, err := db.GetDocument("doc1", "", models.NoBody)
	require.NoError(t, err)
	assert.Equal(t, first.RevID, current.RevID, "failed put must roll back")
}

func TestAttachments_BadInput(t *testing.T) {
	db := newTestDB(t)

	body := mustBody(t, `{"_attachments":{"a":{"data":"not base64!!"}}}`)
	_, status, _ := db.PutRevision(&models.Revision{DocID: "doc1", Body: body}, "", false)
	assert.Equal(t, models.StatusBadRequest, status)

	body = mustBody(t, `{"_attachments":{"a":{"data":"aGk=","revpos":5}}}`)
	_, status, _ = db.PutRevision(&models.Revision{DocID: "doc1", Body: body}, "", false)
	assert.Equal(t, models.StatusBadRequest, status)

	body = mustBody(t, `{"_attachments":{"a":{"data":"aGk=","digest":"sha1-AAAAAAAAAAAAAAAAAAAAAAAAAAA="}}}`)
	_, status, _ = db.PutRevision(&models.Revision{DocID: "doc1", Body: body}, "", false)
	assert.Equal(t, models.StatusBadRequest, status)
}

func TestAttachments_BigAttachmentsFollow(t *testing.T) {
	db := newTestDBWithOptions(t, Options{BigAttachmentLength: 8})
	_, _, err := db.PutRevision(&models.Revision{
		DocID: "doc1",
		Body:  inlineAttachmentBody(t, "", map[string]string{"small": "tiny", "big": "0123456789"}),
	}, "", false)
	require.NoError(t, err)

	got, err := db.GetDocument("doc1", "", models.IncludeAttachments|models.BigAttachmentsFollow)
	require.NoError(t, err)
	atts := got.Attachments()

	_, hasData := atts["small"].Get("data")
	assert.True(t, hasData)

	follows, _ := atts["big"].Get("follows")
	assert.True(t, follows.Truthy())
	_, hasData = atts["big"].Get("data")
	assert.False(t, hasData)
}

func TestAttachments_PendingWriterInstalledByFollows(t *testing.T) {
	db := newTestDB(t)
	w, err := db.NewAttachmentWriter()
	require.NoError(t, err)
	require.NoError(t, w.Append([]byte("streamed ")))
	require.NoError(t, w.Append([]byte("content")))
	require.NoError(t, w.Finish())

	db.RememberPendingWriters(map[string]*blobstore.Writer{w.DigestString(): w})

	body := mustBody(t, fmt.Sprintf(
		`{"_attachments":{"s.bin":{"content_type":"application/octet-stream","follows":true,"digest":%q}}}`,
		w.DigestString()))
	rev, status, err := db.PutRevision(&models.Revision{DocID: "doc1", Body: body}, "", false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, status)
	assert.Equal(t, blobstore.WriterInstalled, w.State())

	atts, err := db.AttachmentsForSequence(rev.Sequence)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, int64(len("streamed content")), atts[0].Length)
	assert.Equal(t, "streamed content", readAttachment(t, db, "doc1", "", "s.bin"))

	_, err = db.InstallPendingAttachment(w.DigestString())
	assert.True(t, models.IsStatus(err, models.StatusBadRequest))
}

func TestAttachments_FollowsWithoutWriterInheritsFromParent(t *testing.T) {
	db := newTestDB(t)
	first, _, err := db.PutRevision(&models.Revision{
		DocID: "doc1",
		Body:  inlineAttachmentBody(t, "", map[string]string{"a.txt": "aaa"}),
	}, "", false)
	require.NoError(t, err)
	digest := string(db.Attachments().KeyFor([]byte("aaa")))

	body := mustBody(t, fmt.Sprintf(
		`{"x":2,"_attachments":{"a.txt":{"follows":true,"digest":%q,"revpos":1}}}`, digest))
	second, status, err := db.PutRevision(&models.Revision{DocID: "doc1", Body: body}, first.RevID, false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, status)

	atts, err := db.AttachmentsForSequence(second.Sequence)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, digest, atts[0].Digest)
	assert.Equal(t, 1, atts[0].RevPos)
	assert.Equal(t, "aaa", readAttachment(t, db, "doc1", second.RevID, "a.txt"))

	body = mustBody(t, fmt.Sprintf(
		`{"_attachments":{"b.txt":{"follows":true,"digest":%q,"revpos":1}}}`, digest))
	_, status, err = db.PutRevision(&models.Revision{DocID: "doc1", Body: body}, second.RevID, false)
	require.Error(t, err)
	assert.Equal(t, models.StatusNotFound, status)
}

func TestUpdateAttachment_AddReplaceRemove(t *testing.T) {
	db := newTestDB(t)
	first := putDoc(t, db, "doc1", "", `{"title":"t"}`)

	second, status, err := db.UpdateAttachment("a.txt", bytes.NewReader([]byte("one")), "text/plain", "doc1", first.RevID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, status)
	assert.Equal(t, 2, second.Generation())
	title, _ := second.Property("title")
	assert.Equal(t, models.String("t"), title)

	third, _, err := db.UpdateAttachment("b.txt", bytes.NewReader([]byte("two")), "text/plain", "doc1", second.RevID)
	require.NoError(t, err)
	assert.Equal(t, "one", readAttachment(t, db, "doc1", third.RevID, "a.txt"))
	assert.Equal(t, "two", readAttachment(t, db, "doc1", third.RevID, "b.txt"))

	atts, err := db.AttachmentsForSequence(third.Sequence)
	require.NoError(t, err)
	require.Len(t, atts, 2)
	assert.Equal(t, 2, atts[0].RevPos)
	assert.Equal(t, 3, atts[1].RevPos)

	fourth, status, err := db.UpdateAttachment("a.txt", nil, "", "doc1", third.RevID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOK, status)
	atts, err = db.AttachmentsForSequence(fourth.Sequence)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "b.txt", atts[0].Name)
}

func TestUpdateAttachment_Errors(t *testing.T) {
	db := newTestDB(t)
	first := putDoc(t, db, "doc1", "", `{}`)
	putDoc(t, db, "doc1", first.RevID, `{}`)

	_, status, _ := db.UpdateAttachment("", bytes.NewReader(nil), "text/plain", "doc1", first.RevID)
	assert.Equal(t, models.StatusBadRequest, status)

	_, status, _ = db.UpdateAttachment("a", bytes.NewReader([]byte("x")), "text/plain", "doc1", first.RevID)
	assert.Equal(t, models.StatusConflict, status)

	_, status, _ = db.UpdateAttachment("a", bytes.NewReader([]byte("x")), "text/plain", "doc1", "9-nope")
	assert.Equal(t, models.StatusConflict, status)

	_, status, _ = db.UpdateAttachment("a", bytes.NewReader([]byte("x")), "text/plain", "ghost", "1-abc")
	assert.Equal(t, models.StatusNotFound, status)

	_, status, _ = db.UpdateAttachment("missing", nil, "", "ghost", "")
	assert.Equal(t, models.StatusNotFound, status)
}

func TestStubOutAttachments(t *testing.T) {
	body := mustBody(t, `{"_attachments":{
		"old":{"data":"aGk=","revpos":1},
		"mid":{"follows":true,"revpos":2},
		"new":{"data":"aGk=","revpos":3}}}`)
	rev := &models.Revision{DocID: "d", RevID: "3-x", Body: body}

	assert.Same(t, rev, StubOutAttachments(rev, 1))

	out := StubOutAttachments(rev, 3)
	atts := out.Attachments()
	for _, name := range []string{"old", "mid"} {
		stub, _ := atts[name].Get("stub")
		assert.True(t, stub.Truthy(), name)
		_, hasData := atts[name].Get("data")
		assert.False(t, hasData, name)
		_, hasFollows := atts[name].Get("follows")
		assert.False(t, hasFollows, name)
	}
	_, hasData := atts["new"].Get("data")
	assert.True(t, hasData)

	_, hasData = rev.Attachments()["old"].Get("data")
	assert.True(t, hasData, "input revision must be unchanged")
}

// ==================== Compaction Tests ====================

func TestCompact_PreservesAncestry(t *testing.T) {
	db := newTestDB(t)
	rev := putDoc(t, db, "doc1", "", `{"n":0}`)
	var revIDs []string
	revIDs = append(revIDs, rev.RevID)
	for i := 1; i <= 5; i++ {
		rev = putDoc(t, db, "doc1", rev.RevID, fmt.Sprintf(`{"n":%d}`, i))
		revIDs = append(revIDs, rev.RevID)
	}

	_, err := db.Compact()
	require.NoError(t, err)

	var nulls int
	require.NoError(t, db.db.QueryRow("SELECT COUNT(*) FROM revs WHERE json IS NULL").Scan(&nulls))
	assert.Equal(t, 5, nulls)

	history, err := db.RevisionHistory(rev)
	require.NoError(t, err)
	assert.Len(t, history, 6)
	assert.Equal(t, revIDs[0], history[5].RevID)

	got, err := db.GetDocument("doc1", "", 0)
	require.NoError(t, err)
	n, _ := got.Property("n")
	assert.Equal(t, models.Int(5), n)
}

func TestCompact_CollectsUnreferencedBlobs(t *testing.T) {
	db := newTestDB(t)
	first, _, err := db.PutRevision(&models.Revision{
		DocID: "doc1",
		Body:  inlineAttachmentBody(t, "", map[string]string{"a.txt": "version one"}),
	}, "", false)
	require.NoError(t, err)
	_, _, err = db.PutRevision(&models.Revision{
		DocID: "doc1",
		Body:  inlineAttachmentBody(t, "", map[string]string{"a.txt": "version two"}),
	}, first.RevID, false)
	require.NoError(t, err)

	count, err := db.Attachments().Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	result, err := db.Compact()
	require.NoError(t, err)
	assert.Equal(t, 1, result.BlobsDeleted)
	assert.Equal(t, 1, result.ReferencedBlobs)

	assert.Equal(t, "version two", readAttachment(t, db, "doc1", "", "a.txt"))
	has, err := db.Attachments().Has(db.Attachments().KeyFor([]byte("version one")))
	require.NoError(t, err)
	assert.False(t, has)
}

func TestCompact_InsideTransactionFails(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.BeginTransaction())
	defer db.EndTransaction(false)

	_, err := db.Compact()
	assert.Error(t, err)
}
