package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/kilupskalvis/revdb/internal/models"
)

// LocalPrefix marks documents that are never replicated.
const LocalPrefix = "_local/"

func checkLocalDocID(docID string) error {
	if !strings.HasPrefix(docID, LocalPrefix) || len(docID) == len(LocalPrefix) {
		return models.Errorf(models.StatusBadRequest, "%q is not a local document ID", docID)
	}
	return nil
}

// GetLocalDocument returns a local document. A non-empty revID must match
// the stored revision.
func (d *Database) GetLocalDocument(docID, revID string) (*models.Revision, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if err := checkLocalDocID(docID); err != nil {
		return nil, err
	}

	var (
		gotRevID string
		data     []byte
	)
	err := d.q().QueryRow("SELECT revid, json FROM localdocs WHERE docid = ?", docID).Scan(&gotRevID, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.Errorf(models.StatusNotFound, "local document %q not found", docID)
	}
	if err != nil {
		return nil, fmt.Errorf("get local document: %w", err)
	}
	if revID != "" && revID != gotRevID {
		return nil, models.Errorf(models.StatusNotFound, "revision %s of %q not found", revID, docID)
	}

	body := models.NewBody(nil)
	if len(data) > 0 {
		if body, err = models.NewBodyFromJSON(data); err != nil {
			return nil, fmt.Errorf("decode local document %q: %w", docID, err)
		}
	}
	body = body.With(map[string]models.Value{
		"_id":  models.String(docID),
		"_rev": models.String(gotRevID),
	})
	return &models.Revision{DocID: docID, RevID: gotRevID, Body: body}, nil
}

// PutLocalRevision creates a local document (prevRevID empty) or replaces
// revision prevRevID of one. Local revisions are numbered "<n>-local".
// Deleting goes through DeleteLocalDocument when rev is a tombstone.
func (d *Database) PutLocalRevision(rev *models.Revision, prevRevID string) (*models.Revision, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if err := checkLocalDocID(rev.DocID); err != nil {
		return nil, err
	}
	if rev.Deleted {
		if err := d.DeleteLocalDocument(rev.DocID, prevRevID); err != nil {
			return nil, err
		}
		return rev, nil
	}

	data, err := EncodeDocumentJSON(rev)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte("{}")
	}

	var newRevID string
	if prevRevID != "" {
		gen, _, ok := models.ParseRevID(prevRevID)
		if !ok {
			return nil, models.Errorf(models.StatusBadRequest, "malformed revision ID %q", prevRevID)
		}
		newRevID = fmt.Sprintf("%d-local", gen+1)
		res, err := d.q().Exec(
			"UPDATE localdocs SET revid = ?, json = ? WHERE docid = ? AND revid = ?",
			newRevID, data, rev.DocID, prevRevID,
		)
		if err != nil {
			return nil, fmt.Errorf("update local document: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return nil, err
		} else if n == 0 {
			return nil, models.Errorf(models.StatusConflict, "%s is not the current revision of %q", prevRevID, rev.DocID)
		}
	} else {
		newRevID = "1-local"
		res, err := d.q().Exec(
			"INSERT OR IGNORE INTO localdocs (docid, revid, json) VALUES (?, ?, ?)",
			rev.DocID, newRevID, data,
		)
		if err != nil {
			return nil, fmt.Errorf("insert local document: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return nil, err
		} else if n == 0 {
			return nil, models.Errorf(models.StatusConflict, "local document %q already exists", rev.DocID)
		}
	}
	return rev.CopyWithDocID(rev.DocID, newRevID), nil
}

// DeleteLocalDocument removes revision revID of a local document.
func (d *Database) DeleteLocalDocument(docID, revID string) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := checkLocalDocID(docID); err != nil {
		return err
	}
	if revID != "" {
		res, err := d.q().Exec("DELETE FROM localdocs WHERE docid = ? AND revid = ?", docID, revID)
		if err != nil {
			return fmt.Errorf("delete local document: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
	}

	if _, err := d.GetLocalDocument(docID, ""); err == nil {
		return models.Errorf(models.StatusConflict, "deleting %q requires its current revision", docID)
	} else if !models.IsStatus(err, models.StatusNotFound) {
		return err
	}
	return models.Errorf(models.StatusNotFound, "local document %q not found", docID)
}
