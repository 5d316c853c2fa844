package store

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/kilupskalvis/revdb/internal/models"
)

// revRow is one row of the revs table without its body.
type revRow struct {
	sequence int64
	parent   int64
	revID    string
	deleted  bool
	current  bool
	missing  bool // json IS NULL
}

// winningRow picks the default revision among current rows: live revisions
// beat tombstones, then the greatest rev ID wins. Returns nil for no rows.
func winningRow(rows []revRow) *revRow {
	var best *revRow
	for i := range rows {
		if best == nil || compareWinner(rows[i], *best) < 0 {
			best = &rows[i]
		}
	}
	return best
}

// sortRowsByWinner orders rows winner first.
func sortRowsByWinner(rows []revRow) {
	slices.SortStableFunc(rows, compareWinner)
}

// docNumericID returns the surrogate key for docID, 0 if unknown.
func (d *Database) docNumericID(docID string) (int64, error) {
	if v, ok := d.docIDs.Get(docID); ok {
		return v.(int64), nil
	}
	var id int64
	err := d.q().QueryRow("SELECT doc_id FROM docs WHERE docid = ?", docID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("look up doc id %q: %w", docID, err)
	}
	d.docIDs.Add(docID, id)
	return id, nil
}

func (d *Database) insertDocNumericID(docID string) (int64, error) {
	res, err := d.q().Exec("INSERT INTO docs (docid) VALUES (?)", docID)
	if err != nil {
		return 0, fmt.Errorf("insert doc %q: %w", docID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	d.docIDs.Add(docID, id)
	return id, nil
}

func (d *Database) getOrInsertDocNumericID(docID string) (int64, error) {
	id, err := d.docNumericID(docID)
	if err != nil || id > 0 {
		return id, err
	}
	return d.insertDocNumericID(docID)
}

func (d *Database) purgeDocIDCache() {
	if d.docIDs != nil {
		d.docIDs.Purge()
	}
}

// revRows loads the revision rows of one document, newest first.
func (d *Database) revRows(docNumericID int64, onlyCurrent bool) ([]revRow, error) {
	query := `SELECT sequence, COALESCE(parent, 0), revid, deleted, current, json IS NULL
		FROM revs WHERE doc_id = ?`
	if onlyCurrent {
		query += " AND current = 1"
	}
	query += " ORDER BY sequence DESC"

	rows, err := d.q().Query(query, docNumericID)
	if err != nil {
		return nil, fmt.Errorf("query revisions: %w", err)
	}
	defer rows.Close()

	var result []revRow
	for rows.Next() {
		var r revRow
		if err := rows.Scan(&r.sequence, &r.parent, &r.revID, &r.deleted, &r.current, &r.missing); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (d *Database) loadJSON(sequence int64) ([]byte, error) {
	var data []byte
	err := d.q().QueryRow("SELECT json FROM revs WHERE sequence = ?", sequence).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("load revision body: %w", err)
	}
	return data, nil
}

// GetDocument returns a revision of docID: the given revID, or the winning
// revision when revID is empty. A deleted winner is reported as NotFound.
func (d *Database) GetDocument(docID, revID string, opts models.ContentOptions) (*models.Revision, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	numericID, err := d.docNumericID(docID)
	if err != nil {
		return nil, err
	}
	if numericID == 0 {
		return nil, models.Errorf(models.StatusNotFound, "document %q not found", docID)
	}

	var row *revRow
	if revID != "" {
		r := revRow{revID: revID}
		err := d.q().QueryRow(
			"SELECT sequence, deleted FROM revs WHERE doc_id = ? AND revid = ? LIMIT 1",
			numericID, revID,
		).Scan(&r.sequence, &r.deleted)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.Errorf(models.StatusNotFound, "revision %s of %q not found", revID, docID)
		}
		if err != nil {
			return nil, fmt.Errorf("get revision: %w", err)
		}
		row = &r
	} else {
		current, err := d.revRows(numericID, true)
		if err != nil {
			return nil, err
		}
		row = winningRow(current)
		if row == nil || row.deleted {
			return nil, models.Errorf(models.StatusNotFound, "document %q is deleted", docID)
		}
	}

	rev := &models.Revision{DocID: docID, RevID: row.revID, Deleted: row.deleted, Sequence: row.sequence}
	if opts == models.NoBody {
		return rev, nil
	}
	var data []byte
	if !opts.Has(models.NoBody) {
		if data, err = d.loadJSON(row.sequence); err != nil {
			return nil, err
		}
	}
	body, err := d.expandStoredJSON(data, rev, opts)
	if err != nil {
		return nil, err
	}
	rev.Body = body
	return rev, nil
}

// ExistsDocument reports whether docID has revID, or any live revision when
// revID is empty.
func (d *Database) ExistsDocument(docID, revID string) (bool, error) {
	_, err := d.GetDocument(docID, revID, models.NoBody)
	if err == nil {
		return true, nil
	}
	if models.IsStatus(err, models.StatusNotFound) {
		return false, nil
	}
	return false, err
}

// LoadRevisionBody returns rev with its stored body expanded. A revision that
// already has a body is returned unchanged.
func (d *Database) LoadRevisionBody(rev *models.Revision, opts models.ContentOptions) (*models.Revision, error) {
	if rev.Body != nil {
		return rev, nil
	}
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	var (
		seq  int64
		data []byte
	)
	err := d.q().QueryRow(`SELECT sequence, json FROM revs, docs
		WHERE revid = ? AND docs.docid = ? AND revs.doc_id = docs.doc_id LIMIT 1`,
		rev.RevID, rev.DocID,
	).Scan(&seq, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.Errorf(models.StatusNotFound, "revision %s of %q not found", rev.RevID, rev.DocID)
	}
	if err != nil {
		return nil, fmt.Errorf("load revision body: %w", err)
	}
	out := rev.Copy()
	out.Sequence = seq
	body, err := d.expandStoredJSON(data, out, opts)
	if err != nil {
		return nil, err
	}
	out.Body = body
	return out, nil
}

// expandStoredJSON merges the stored body with the synthesized properties.
func (d *Database) expandStoredJSON(data []byte, rev *models.Revision, opts models.ContentOptions) (*models.Body, error) {
	extra, err := d.ExtraPropertiesForRevision(rev, opts)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return models.NewBody(extra), nil
	}
	stored, err := models.NewBodyFromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("decode stored body of %s: %w", rev, err)
	}
	return stored.With(extra), nil
}

// ExtraPropertiesForRevision builds the reserved properties (_id, _rev,
// _deleted, _attachments and whichever of _local_seq, _revisions,
// _revs_info and _conflicts opts selects). rev must have a sequence.
func (d *Database) ExtraPropertiesForRevision(rev *models.Revision, opts models.ContentOptions) (map[string]models.Value, error) {
	extra := map[string]models.Value{
		"_id":  models.String(rev.DocID),
		"_rev": models.String(rev.RevID),
	}
	if rev.Deleted {
		extra["_deleted"] = models.Bool(true)
	}

	atts, err := d.attachmentsDict(rev.Sequence, opts)
	if err != nil {
		return nil, err
	}
	if atts != nil {
		extra["_attachments"] = models.Object(atts)
	}

	if opts.Has(models.IncludeLocalSeq) {
		extra["_local_seq"] = models.Int(rev.Sequence)
	}

	if opts.Has(models.IncludeRevs) || opts.Has(models.IncludeRevsInfo) {
		history, err := d.revisionHistoryRows(rev)
		if err != nil {
			return nil, err
		}
		if opts.Has(models.IncludeRevs) {
			ids := make([]string, len(history))
			for i, h := range history {
				ids[i] = h.revID
			}
			extra["_revisions"] = models.MakeRevisionHistoryDict(ids)
		}
		if opts.Has(models.IncludeRevsInfo) {
			info := make([]models.Value, len(history))
			for i, h := range history {
				status := "available"
				switch {
				case h.deleted:
					status = "deleted"
				case h.missing:
					status = "missing"
				}
				info[i] = models.Object(map[string]models.Value{
					"rev":    models.String(h.revID),
					"status": models.String(status),
				})
			}
			extra["_revs_info"] = models.Array(info...)
		}
	}

	if opts.Has(models.IncludeConflicts) {
		current, err := d.AllRevisionsOfDocument(rev.DocID, true)
		if err != nil {
			return nil, err
		}
		var conflicts []string
		for _, r := range current {
			if !r.Deleted && r.RevID != rev.RevID {
				conflicts = append(conflicts, r.RevID)
			}
		}
		if len(conflicts) > 0 {
			slices.SortFunc(conflicts, func(a, b string) int { return models.CompareRevIDs(b, a) })
			extra["_conflicts"] = models.Strings(conflicts)
		}
	}
	return extra, nil
}

// AllRevisionsOfDocument returns every known revision of docID (or only the
// current leaves), newest sequence first. Bodies are not loaded.
func (d *Database) AllRevisionsOfDocument(docID string, onlyCurrent bool) (models.RevisionList, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	numericID, err := d.docNumericID(docID)
	if err != nil || numericID == 0 {
		return nil, err
	}
	rows, err := d.revRows(numericID, onlyCurrent)
	if err != nil {
		return nil, err
	}
	list := make(models.RevisionList, len(rows))
	for i, r := range rows {
		list[i] = &models.Revision{DocID: docID, RevID: r.revID, Deleted: r.deleted, Sequence: r.sequence}
	}
	return list, nil
}

// ConflictingRevisionIDs returns the rev IDs of all current revisions except
// the winner, in descending rev ID order.
func (d *Database) ConflictingRevisionIDs(docID string) ([]string, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	numericID, err := d.docNumericID(docID)
	if err != nil || numericID == 0 {
		return nil, err
	}
	rows, err := d.revRows(numericID, true)
	if err != nil {
		return nil, err
	}
	sortRowsByWinner(rows)
	ids := make([]string, 0, len(rows))
	for _, r := range rows[min(1, len(rows)):] {
		ids = append(ids, r.revID)
	}
	return ids, nil
}

// FindCommonAncestor returns the greatest of revIDs known locally for
// rev's document that does not sort after rev itself, or "" if none is known.
func (d *Database) FindCommonAncestor(rev *models.Revision, revIDs []string) (string, error) {
	if len(revIDs) == 0 {
		return "", nil
	}
	if err := d.checkOpen(); err != nil {
		return "", err
	}
	numericID, err := d.docNumericID(rev.DocID)
	if err != nil || numericID == 0 {
		return "", err
	}

	args := make([]any, 0, len(revIDs)+1)
	args = append(args, numericID)
	for _, id := range revIDs {
		args = append(args, id)
	}
	rows, err := d.q().Query(
		"SELECT revid FROM revs WHERE doc_id = ? AND revid IN ("+placeholders(len(revIDs))+")",
		args...,
	)
	if err != nil {
		return "", fmt.Errorf("find common ancestor: %w", err)
	}
	defer rows.Close()

	best := ""
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		if models.CompareRevIDs(id, rev.RevID) > 0 {
			continue
		}
		if best == "" || models.CompareRevIDs(id, best) > 0 {
			best = id
		}
	}
	return best, rows.Err()
}

// revisionHistoryRows walks parent links from rev back to the root. The
// document's rows are loaded once and the walk is iterative, so deep
// histories cost no stack.
func (d *Database) revisionHistoryRows(rev *models.Revision) ([]revRow, error) {
	numericID, err := d.docNumericID(rev.DocID)
	if err != nil || numericID == 0 {
		return nil, err
	}
	rows, err := d.revRows(numericID, false)
	if err != nil {
		return nil, err
	}

	bySeq := make(map[int64]*revRow, len(rows))
	var start *revRow
	for i := range rows {
		r := &rows[i]
		bySeq[r.sequence] = r
		if r.revID == rev.RevID && start == nil {
			start = r
		}
	}
	if start == nil {
		return nil, nil
	}

	var history []revRow
	seen := make(map[int64]bool)
	for r := start; r != nil && !seen[r.sequence]; r = bySeq[r.parent] {
		seen[r.sequence] = true
		history = append(history, *r)
	}
	return history, nil
}

// RevisionHistory returns rev and its ancestors, newest first.
func (d *Database) RevisionHistory(rev *models.Revision) (models.RevisionList, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := d.revisionHistoryRows(rev)
	if err != nil {
		return nil, err
	}
	list := make(models.RevisionList, len(rows))
	for i, r := range rows {
		list[i] = &models.Revision{DocID: rev.DocID, RevID: r.revID, Deleted: r.deleted, Sequence: r.sequence}
	}
	return list, nil
}

// RevisionHistoryDict returns the history as a _revisions object.
func (d *Database) RevisionHistoryDict(rev *models.Revision) (models.Value, error) {
	history, err := d.RevisionHistory(rev)
	if err != nil {
		return models.Null(), err
	}
	return models.MakeRevisionHistoryDict(history.AllRevIDs()), nil
}

// DocumentCount returns the number of documents with a live current revision.
func (d *Database) DocumentCount() (int, error) {
	if err := d.checkOpen(); err != nil {
		return 0, err
	}
	var n int
	err := d.q().QueryRow("SELECT COUNT(DISTINCT doc_id) FROM revs WHERE current = 1 AND deleted = 0").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// LastSequence returns the highest sequence ever assigned, 0 for an empty
// database.
func (d *Database) LastSequence() (int64, error) {
	if err := d.checkOpen(); err != nil {
		return 0, err
	}
	var seq int64
	err := d.q().QueryRow("SELECT COALESCE(MAX(seq), 0) FROM sqlite_sequence WHERE name = 'revs'").Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last sequence: %w", err)
	}
	return seq, nil
}

// placeholders returns "?,?,...,?" with n marks.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
