package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kilupskalvis/revdb/internal/models"
)

// IsValidDocumentID reports whether id may name a replicated document.
// Only the _design/ namespace may start with an underscore.
func IsValidDocumentID(id string) bool {
	if id == "" {
		return false
	}
	if id[0] == '_' {
		return strings.HasPrefix(id, "_design/") && len(id) > len("_design/")
	}
	return true
}

// GenerateDocumentID returns a fresh random document ID.
func GenerateDocumentID() string {
	return uuid.NewString()
}

// GenerateNextRevisionID returns a new rev ID one generation after prevRevID
// ("" for a first revision) with a random suffix.
func GenerateNextRevisionID(prevRevID string) (string, error) {
	gen := 0
	if prevRevID != "" {
		var ok bool
		if gen, _, ok = models.ParseRevID(prevRevID); !ok {
			return "", models.Errorf(models.StatusBadRequest, "malformed revision ID %q", prevRevID)
		}
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%d-%s", gen+1, suffix), nil
}

// EncodeDocumentJSON returns the bytes stored for rev: its body minus the
// reserved properties, which are rebuilt on read. Any other top-level key
// starting with an underscore is rejected. Tombstones store nothing.
func EncodeDocumentJSON(rev *models.Revision) ([]byte, error) {
	if rev.Deleted && rev.Body == nil {
		return nil, nil
	}
	props := rev.Properties()
	stored := make(map[string]models.Value, len(props))
	for key, v := range props {
		if models.IsSpecialKey(key) {
			continue
		}
		if strings.HasPrefix(key, "_") {
			return nil, models.Errorf(models.StatusBadRequest, "reserved property %q in document body", key)
		}
		stored[key] = v
	}
	if rev.Deleted && len(stored) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(models.Object(stored))
	if err != nil {
		return nil, fmt.Errorf("encode document body: %w", err)
	}
	return data, nil
}

// PutRevision stores rev as a new revision whose parent is prevRevID, or as
// the first revision of a document when prevRevID is empty. A document
// whose only leaves are tombstones is resurrected on top of the winning
// tombstone. allowConflict lets the parent be a non-leaf and lets a new
// root coexist with live leaves.
//
// The returned status is Created, or OK for a deletion. Failures carry their
// status in a *models.StatusError.
func (d *Database) PutRevision(rev *models.Revision, prevRevID string, allowConflict bool) (*models.Revision, models.Status, error) {
	if err := d.checkOpen(); err != nil {
		return nil, models.StatusInternalServerError, err
	}
	docID := rev.DocID
	switch {
	case docID == "" && prevRevID != "":
		return nil, models.StatusBadRequest, models.NewStatusError(models.StatusBadRequest, "parent revision given without a document ID")
	case docID == "" && rev.Deleted:
		return nil, models.StatusBadRequest, models.NewStatusError(models.StatusBadRequest, "deletion without a document ID")
	case docID != "" && !IsValidDocumentID(docID):
		return nil, models.StatusBadRequest, models.Errorf(models.StatusBadRequest, "invalid document ID %q", docID)
	case !rev.Deleted && rev.Body == nil:
		return nil, models.StatusBadRequest, models.NewStatusError(models.StatusBadRequest, "missing document body")
	}

	var (
		result *models.Revision
		status models.Status
	)
	err := d.InTransaction(func() error {
		var err error
		result, status, err = d.putRevision(rev, prevRevID, allowConflict)
		return err
	})
	if err != nil {
		return nil, models.StatusOf(err), err
	}
	return result, status, nil
}

func (d *Database) putRevision(rev *models.Revision, prevRevID string, allowConflict bool) (*models.Revision, models.Status, error) {
	docID := rev.DocID
	var (
		docNumericID int64
		parentSeq    int64
		err          error
	)

	if prevRevID != "" {
		if docNumericID, err = d.docNumericID(docID); err != nil {
			return nil, 0, err
		}
		if docNumericID == 0 {
			return nil, 0, models.Errorf(models.StatusNotFound, "document %q not found", docID)
		}
		if parentSeq, err = d.sequenceOfRevision(docNumericID, prevRevID, !allowConflict); err != nil {
			return nil, 0, err
		}
		if parentSeq == 0 {
			if !allowConflict {
				hasCurrent, err := d.hasCurrentRevision(docNumericID)
				if err != nil {
					return nil, 0, err
				}
				if hasCurrent {
					return nil, 0, models.Errorf(models.StatusConflict, "%s is not the current revision of %q", prevRevID, docID)
				}
			}
			return nil, 0, models.Errorf(models.StatusNotFound, "revision %s of %q not found", prevRevID, docID)
		}
	} else if rev.Deleted {
		exists, err := d.ExistsDocument(docID, "")
		if err != nil {
			return nil, 0, err
		}
		if exists {
			return nil, 0, models.Errorf(models.StatusConflict, "deleting %q requires its current revision", docID)
		}
		return nil, 0, models.Errorf(models.StatusNotFound, "document %q not found", docID)
	} else if docID != "" {
		if docNumericID, err = d.getOrInsertDocNumericID(docID); err != nil {
			return nil, 0, err
		}
		current, err := d.revRows(docNumericID, true)
		if err != nil {
			return nil, 0, err
		}
		if winner := winningRow(current); winner != nil {
			switch {
			case winner.deleted:
				prevRevID = winner.revID
				parentSeq = winner.sequence
			case !allowConflict:
				return nil, 0, models.Errorf(models.StatusConflict, "document %q already exists", docID)
			}
		}
	} else {
		docID = GenerateDocumentID()
		if docNumericID, err = d.insertDocNumericID(docID); err != nil {
			return nil, 0, err
		}
	}

	newRevID, err := GenerateNextRevisionID(prevRevID)
	if err != nil {
		return nil, 0, err
	}
	newRev := rev.CopyWithDocID(docID, newRevID)

	if err := d.validateRevision(newRev, prevRevID); err != nil {
		return nil, 0, err
	}

	if parentSeq > 0 {
		if err := d.demoteRevision(parentSeq); err != nil {
			return nil, 0, err
		}
	}

	data, err := EncodeDocumentJSON(newRev)
	if err != nil {
		return nil, 0, err
	}
	seq, err := d.insertRevision(newRev, docNumericID, parentSeq, true, data)
	if err != nil {
		return nil, 0, err
	}
	newRev.Sequence = seq

	if err := d.processAttachments(newRev, parentSeq); err != nil {
		return nil, 0, err
	}

	d.postChange(newRev, "")
	if newRev.Deleted {
		return newRev, models.StatusOK, nil
	}
	return newRev, models.StatusCreated, nil
}

// ForceInsert adds a revision received from elsewhere together with its
// ancestry, newest first in history (history[0] must be rev's own ID; an
// empty history means rev has no known ancestors). Ancestors missing locally
// become bodyless phantom rows. The new leaf never replaces other leaves, so
// divergent histories become conflicts. Inserting a revision that already
// exists is a no-op.
func (d *Database) ForceInsert(rev *models.Revision, history []string, source string) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if !IsValidDocumentID(rev.DocID) {
		return models.Errorf(models.StatusBadRequest, "invalid document ID %q", rev.DocID)
	}
	if rev.RevID == "" {
		return models.NewStatusError(models.StatusBadRequest, "missing revision ID")
	}
	if len(history) == 0 {
		history = []string{rev.RevID}
	} else if history[0] != rev.RevID {
		return models.Errorf(models.StatusBadRequest, "history does not start with %s", rev.RevID)
	}
	if err := checkHistory(history); err != nil {
		return err
	}

	return d.InTransaction(func() error {
		docNumericID, err := d.getOrInsertDocNumericID(rev.DocID)
		if err != nil {
			return err
		}
		rows, err := d.revRows(docNumericID, false)
		if err != nil {
			return err
		}
		known := make(map[string]int64, len(rows))
		for _, r := range rows {
			known[r.revID] = r.sequence
		}
		if _, ok := known[rev.RevID]; ok {
			return nil
		}

		var (
			sequence       int64
			localParentSeq int64
			localParentRev string
			leaf           *models.Revision
		)
		for i := len(history) - 1; i >= 0; i-- {
			revID := history[i]
			if seq, ok := known[revID]; ok {
				sequence = seq
				localParentSeq = seq
				localParentRev = revID
				continue
			}

			if i > 0 {
				phantom := &models.Revision{DocID: rev.DocID, RevID: revID}
				if sequence, err = d.insertRevision(phantom, docNumericID, sequence, false, nil); err != nil {
					return err
				}
				continue
			}

			leaf = rev.CopyWithDocID(rev.DocID, rev.RevID)
			if err := d.validateRevision(leaf, localParentRev); err != nil {
				return err
			}
			data, err := EncodeDocumentJSON(leaf)
			if err != nil {
				return err
			}
			if sequence, err = d.insertRevision(leaf, docNumericID, sequence, true, data); err != nil {
				return err
			}
			leaf.Sequence = sequence
			if err := d.processAttachments(leaf, localParentSeq); err != nil {
				return err
			}
		}

		if localParentSeq > 0 && localParentSeq != sequence {
			if err := d.demoteRevision(localParentSeq); err != nil {
				return err
			}
		}
		d.postChange(leaf, source)
		return nil
	})
}

// checkHistory requires every entry to be a well-formed revision ID whose
// generation is one more than the next (older) entry's.
func checkHistory(history []string) error {
	prevGen := 0
	for i, revID := range history {
		gen, _, ok := models.ParseRevID(revID)
		if !ok {
			return models.Errorf(models.StatusBadRequest, "malformed revision ID %q", revID)
		}
		if i > 0 && gen != prevGen-1 {
			return models.Errorf(models.StatusBadRequest, "history skips from %s to %s", history[i-1], revID)
		}
		prevGen = gen
	}
	return nil
}

// validateRevision runs the validation hooks. The previous revision is
// loaded only if a hook asks for it.
func (d *Database) validateRevision(newRev *models.Revision, prevRevID string) error {
	if !d.hooks.HasValidations() {
		return nil
	}
	docID := newRev.DocID
	return d.hooks.Validate(newRev, func() (*models.Revision, error) {
		if prevRevID == "" {
			return nil, nil
		}
		return d.GetDocument(docID, prevRevID, 0)
	})
}

func (d *Database) insertRevision(rev *models.Revision, docNumericID, parentSeq int64, current bool, data []byte) (int64, error) {
	var parent any
	if parentSeq > 0 {
		parent = parentSeq
	}
	res, err := d.q().Exec(
		`INSERT INTO revs (doc_id, revid, parent, current, deleted, json) VALUES (?, ?, ?, ?, ?, ?)`,
		docNumericID, rev.RevID, parent, current, rev.Deleted, data,
	)
	if err != nil {
		return 0, fmt.Errorf("insert revision %s: %w", rev, err)
	}
	return res.LastInsertId()
}

func (d *Database) demoteRevision(sequence int64) error {
	if _, err := d.q().Exec("UPDATE revs SET current = 0 WHERE sequence = ?", sequence); err != nil {
		return fmt.Errorf("demote revision %d: %w", sequence, err)
	}
	return nil
}

// sequenceOfRevision returns the sequence of revID, 0 if absent.
func (d *Database) sequenceOfRevision(docNumericID int64, revID string, onlyCurrent bool) (int64, error) {
	query := "SELECT sequence FROM revs WHERE doc_id = ? AND revid = ?"
	if onlyCurrent {
		query += " AND current = 1"
	}
	var seq int64
	err := d.q().QueryRow(query+" LIMIT 1", docNumericID, revID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("look up revision %s: %w", revID, err)
	}
	return seq, nil
}

func (d *Database) hasCurrentRevision(docNumericID int64) (bool, error) {
	var n int
	err := d.q().QueryRow("SELECT COUNT(*) FROM revs WHERE doc_id = ? AND current = 1", docNumericID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count current revisions: %w", err)
	}
	return n > 0, nil
}
