package store

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/kilupskalvis/revdb/internal/blobstore"
	"github.com/kilupskalvis/revdb/internal/models"
)

// InsertAttachment records att as belonging to the revision at sequence.
// The blob must already be in the store.
func (d *Database) InsertAttachment(sequence int64, att models.Attachment) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	_, err := d.q().Exec(
		`INSERT INTO attachments (sequence, filename, key, type, length, revpos)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sequence, att.Name, att.Digest, att.ContentType, att.Length, att.RevPos,
	)
	if err != nil {
		return fmt.Errorf("insert attachment %q: %w", att.Name, err)
	}
	return nil
}

// CopyAttachment copies the metadata of name from one revision to another.
// It fails with NotFound if the source revision has no such attachment.
func (d *Database) CopyAttachment(name string, fromSequence, toSequence int64) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if fromSequence <= 0 {
		return models.Errorf(models.StatusNotFound, "attachment %q has no parent revision to inherit from", name)
	}
	res, err := d.q().Exec(
		`INSERT INTO attachments (sequence, filename, key, type, length, revpos)
		SELECT ?, filename, key, type, length, revpos
		FROM attachments WHERE sequence = ? AND filename = ?`,
		toSequence, fromSequence, name,
	)
	if err != nil {
		return fmt.Errorf("copy attachment %q: %w", name, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return models.Errorf(models.StatusNotFound, "attachment %q not found in parent revision", name)
	}
	return nil
}

// AttachmentsForSequence returns the attachment metadata of one revision,
// ordered by name.
func (d *Database) AttachmentsForSequence(sequence int64) ([]models.Attachment, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := d.q().Query(
		`SELECT filename, key, COALESCE(type, ''), length, COALESCE(revpos, 0)
		FROM attachments WHERE sequence = ? ORDER BY filename`, sequence)
	if err != nil {
		return nil, fmt.Errorf("query attachments: %w", err)
	}
	defer rows.Close()

	var atts []models.Attachment
	for rows.Next() {
		var a models.Attachment
		if err := rows.Scan(&a.Name, &a.Digest, &a.ContentType, &a.Length, &a.RevPos); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		atts = append(atts, a)
	}
	return atts, rows.Err()
}

// GetAttachment opens the body of an attachment of the given revision (the
// winning one when revID is empty). The caller closes the reader.
func (d *Database) GetAttachment(docID, revID, filename string) (io.ReadCloser, *models.Attachment, error) {
	rev, err := d.GetDocument(docID, revID, models.NoBody)
	if err != nil {
		return nil, nil, err
	}
	atts, err := d.AttachmentsForSequence(rev.Sequence)
	if err != nil {
		return nil, nil, err
	}
	i := slices.IndexFunc(atts, func(a models.Attachment) bool { return a.Name == filename })
	if i < 0 {
		return nil, nil, models.Errorf(models.StatusNotFound, "attachment %q not found on %s", filename, rev)
	}
	att := atts[i]
	r, err := d.blobs.Open(blobstore.Key(att.Digest))
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return nil, nil, models.Errorf(models.StatusInternalServerError, "attachment %q body %s is missing: %w", filename, att.Digest, err)
	}
	if err != nil {
		return nil, nil, err
	}
	return r, &att, nil
}

// attachmentsDict builds the _attachments object of the revision at
// sequence, or nil when it has none.
func (d *Database) attachmentsDict(sequence int64, opts models.ContentOptions) (map[string]models.Value, error) {
	if sequence <= 0 {
		return nil, nil
	}
	atts, err := d.AttachmentsForSequence(sequence)
	if err != nil || len(atts) == 0 {
		return nil, err
	}

	dict := make(map[string]models.Value, len(atts))
	for _, a := range atts {
		entry := map[string]models.Value{
			"digest": models.String(a.Digest),
			"length": models.Int(a.Length),
			"revpos": models.Int(int64(a.RevPos)),
		}
		if a.ContentType != "" {
			entry["content_type"] = models.String(a.ContentType)
		}

		withData := opts.Has(models.IncludeAttachments)
		if opts.Has(models.BigAttachmentsFollow) && a.Length >= d.opts.BigAttachmentLength {
			entry["follows"] = models.Bool(true)
			withData = false
		}
		if withData {
			data, err := d.blobs.Get(blobstore.Key(a.Digest))
			if err != nil {
				return nil, fmt.Errorf("read attachment %q: %w", a.Name, err)
			}
			entry["data"] = models.String(base64.StdEncoding.EncodeToString(data))
		} else {
			entry["stub"] = models.Bool(true)
		}
		dict[a.Name] = models.Object(entry)
	}
	return dict, nil
}

// processAttachments stores the attachments named in rev's body against
// rev.Sequence. Entries with inline data are decoded and stored; "follows"
// entries with a pending writer for their digest install it; anything else
// is a stub inherited from the parent revision.
func (d *Database) processAttachments(rev *models.Revision, parentSeq int64) error {
	if rev.Deleted {
		return nil
	}
	atts := rev.Attachments()
	if len(atts) == 0 {
		return nil
	}
	gen := rev.Generation()

	names := make([]string, 0, len(atts))
	for name := range atts {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		meta, ok := atts[name].AsObject()
		if !ok {
			return models.Errorf(models.StatusBadRequest, "attachment %q is not an object", name)
		}
		contentType, _ := meta["content_type"].AsString()
		digest, _ := meta["digest"].AsString()

		revpos, err := attachmentRevPos(name, meta, gen)
		if err != nil {
			return err
		}

		att := models.Attachment{Name: name, ContentType: contentType, RevPos: revpos}
		switch {
		case meta["data"].Kind() != models.KindNull:
			encoded, ok := meta["data"].AsString()
			if !ok {
				return models.Errorf(models.StatusBadRequest, "attachment %q data is not a string", name)
			}
			data, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return models.Errorf(models.StatusBadRequest, "attachment %q data is not valid base64", name)
			}
			key := d.blobs.KeyFor(data)
			if digest != "" && blobstore.Key(digest).Algorithm() == key.Algorithm() && digest != string(key) {
				return models.Errorf(models.StatusBadRequest, "attachment %q digest %s does not match its data", name, digest)
			}
			if _, err := d.blobs.Store(data); err != nil {
				return fmt.Errorf("store attachment %q: %w", name, err)
			}
			att.Digest = string(key)
			att.Length = int64(len(data))

		case meta["follows"].Truthy() && d.pendingWriters[digest] != nil:
			w, err := d.InstallPendingAttachment(digest)
			if err != nil {
				return err
			}
			att.Digest = w.DigestString()
			att.Length = w.Length()

		default:
			if err := d.CopyAttachment(name, parentSeq, rev.Sequence); err != nil {
				if models.IsStatus(err, models.StatusNotFound) {
					d.logger.Warn("missing inherited attachment", "doc", rev.DocID, "rev", rev.RevID, "attachment", name)
				}
				return err
			}
			continue
		}

		if err := d.InsertAttachment(rev.Sequence, att); err != nil {
			return err
		}
	}
	return nil
}

func attachmentRevPos(name string, meta map[string]models.Value, gen int) (int, error) {
	v, ok := meta["revpos"]
	if !ok || v.IsNull() {
		return gen, nil
	}
	n, ok := v.AsInt64()
	if !ok {
		return 0, models.Errorf(models.StatusBadRequest, "attachment %q has a non-integer revpos", name)
	}
	if n <= 0 {
		return gen, nil
	}
	if n > int64(gen) {
		return 0, models.Errorf(models.StatusBadRequest, "attachment %q revpos %d is after generation %d", name, n, gen)
	}
	return int(n), nil
}

// StubOutAttachments returns rev with every attachment whose revpos is
// below minRevPos reduced to a stub, dropping its data. Used when the
// receiver is known to hold every revision before minRevPos.
func StubOutAttachments(rev *models.Revision, minRevPos int) *models.Revision {
	if minRevPos <= 1 {
		return rev
	}
	atts := rev.Attachments()
	if len(atts) == 0 {
		return rev
	}

	changed := false
	stubbed := make(map[string]models.Value, len(atts))
	for name, v := range atts {
		stubbed[name] = v
		meta, ok := v.AsObject()
		if !ok {
			continue
		}
		revpos, _ := meta["revpos"].AsInt64()
		if revpos <= 0 || revpos >= int64(minRevPos) || meta["stub"].Truthy() {
			continue
		}
		entry := make(map[string]models.Value, len(meta))
		for k, mv := range meta {
			if k != "data" && k != "follows" {
				entry[k] = mv
			}
		}
		entry["stub"] = models.Bool(true)
		stubbed[name] = models.Object(entry)
		changed = true
	}
	if !changed {
		return rev
	}
	return rev.WithBody(rev.Body.With(map[string]models.Value{"_attachments": models.Object(stubbed)}))
}

// UpdateAttachment adds, replaces or (with a nil body) removes one
// attachment by creating a new revision of docID on top of oldRevID. The
// other attachments carry over. Returns Created, or OK for a removal.
func (d *Database) UpdateAttachment(filename string, body io.Reader, contentType, docID, oldRevID string) (*models.Revision, models.Status, error) {
	if err := d.checkOpen(); err != nil {
		return nil, models.StatusInternalServerError, err
	}
	if filename == "" || (body != nil && contentType == "") || docID == "" {
		return nil, models.StatusBadRequest, models.NewStatusError(models.StatusBadRequest, "attachment name, content type and document ID are required")
	}

	var (
		result *models.Revision
		status models.Status
	)
	err := d.InTransaction(func() error {
		var (
			oldRev *models.Revision
			err    error
		)
		if oldRevID != "" {
			oldRev, err = d.GetDocument(docID, oldRevID, 0)
			if models.IsStatus(err, models.StatusNotFound) {
				if exists, xerr := d.ExistsDocument(docID, ""); xerr != nil {
					return xerr
				} else if exists {
					return models.Errorf(models.StatusConflict, "%s is not a revision of %q", oldRevID, docID)
				}
			}
			if err != nil {
				return err
			}
		} else {
			oldRev = &models.Revision{DocID: docID, Body: models.NewBody(nil)}
		}

		if body == nil {
			if _, ok := oldRev.Attachments()[filename]; !ok {
				return models.Errorf(models.StatusNotFound, "attachment %q not found", filename)
			}
		}

		newRev := &models.Revision{DocID: docID, Body: oldRev.Body.Without("_attachments")}
		if result, _, err = d.putRevision(newRev, oldRevID, false); err != nil {
			return err
		}

		if oldRev.Sequence > 0 {
			if _, err := d.q().Exec(
				`INSERT INTO attachments (sequence, filename, key, type, length, revpos)
				SELECT ?, filename, key, type, length, revpos
				FROM attachments WHERE sequence = ? AND filename != ?`,
				result.Sequence, oldRev.Sequence, filename,
			); err != nil {
				return fmt.Errorf("carry over attachments: %w", err)
			}
		}

		if body == nil {
			status = models.StatusOK
			return nil
		}
		key, length, err := d.blobs.StoreStream(body)
		if err != nil {
			return fmt.Errorf("store attachment %q: %w", filename, err)
		}
		status = models.StatusCreated
		return d.InsertAttachment(result.Sequence, models.Attachment{
			Name:        filename,
			ContentType: contentType,
			Digest:      string(key),
			Length:      length,
			RevPos:      result.Generation(),
		})
	})
	if err != nil {
		return nil, models.StatusOf(err), err
	}
	return result, status, nil
}

// NewAttachmentWriter starts a streaming write into the attachment store.
func (d *Database) NewAttachmentWriter() (*blobstore.Writer, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	return d.blobs.NewWriter()
}

// RememberPendingWriters hands over writers for attachments whose bodies
// arrived separately from their document, keyed by digest. A later
// revision naming one of these digests with "follows" installs it.
func (d *Database) RememberPendingWriters(byDigest map[string]*blobstore.Writer) {
	for digest, w := range byDigest {
		d.pendingWriters[digest] = w
	}
}

// InstallPendingAttachment finishes and installs the pending writer for
// digest and forgets it.
func (d *Database) InstallPendingAttachment(digest string) (*blobstore.Writer, error) {
	w, ok := d.pendingWriters[digest]
	if !ok {
		return nil, models.Errorf(models.StatusBadRequest, "no pending attachment with digest %s", digest)
	}
	if err := w.Finish(); err != nil {
		return nil, err
	}
	if !w.MatchesDigest(digest) {
		return nil, models.Errorf(models.StatusBadRequest, "pending attachment does not match digest %s", digest)
	}
	if err := w.Install(); err != nil {
		return nil, err
	}
	delete(d.pendingWriters, digest)
	return w, nil
}
