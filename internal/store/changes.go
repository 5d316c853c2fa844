package store

import (
	"fmt"
	"slices"

	"github.com/kilupskalvis/revdb/internal/hooks"
	"github.com/kilupskalvis/revdb/internal/models"
)

type docRevRow struct {
	revRow
	docNumericID int64
	docID        string
}

// ChangesSince returns the current revisions with a sequence above since.
// Rows are grouped by document with the winner first; unless
// IncludeConflicts is set only the winner of each document is kept. Bodies
// are loaded when IncludeDocs is set or filter is non-nil. SortBySequence
// and Limit are applied last.
func (d *Database) ChangesSince(since int64, opts models.ChangesOptions, filter hooks.FilterFunc) (models.RevisionList, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := d.q().Query(`SELECT sequence, revs.doc_id, docid, revid, deleted
		FROM revs, docs
		WHERE sequence > ? AND current = 1 AND revs.doc_id = docs.doc_id
		ORDER BY revs.doc_id, sequence DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	var scanned []docRevRow
	for rows.Next() {
		var r docRevRow
		if err := rows.Scan(&r.sequence, &r.docNumericID, &r.docID, &r.revID, &r.deleted); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan change: %w", err)
		}
		scanned = append(scanned, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}

	var changes models.RevisionList
	for group := range groupByDoc(scanned) {
		slices.SortStableFunc(group, func(a, b docRevRow) int {
			return compareWinner(a.revRow, b.revRow)
		})
		if !opts.IncludeConflicts {
			group = group[:1]
		}
		for _, r := range group {
			changes = append(changes, &models.Revision{
				DocID: r.docID, RevID: r.revID, Deleted: r.deleted, Sequence: r.sequence,
			})
		}
	}

	if opts.IncludeDocs || filter != nil {
		kept := changes[:0]
		for _, rev := range changes {
			data, err := d.loadJSON(rev.Sequence)
			if err != nil {
				return nil, err
			}
			if rev.Body, err = d.expandStoredJSON(data, rev, opts.Content); err != nil {
				return nil, err
			}
			if filter != nil && !filter(rev) {
				continue
			}
			if !opts.IncludeDocs {
				rev.Body = nil
			}
			kept = append(kept, rev)
		}
		changes = kept
	}

	if opts.SortBySequence {
		changes.SortBySequence()
	}
	return changes.Limit(opts.Limit), nil
}

// groupByDoc yields runs of rows sharing a document. rows must be ordered
// by document.
func groupByDoc(rows []docRevRow) func(yield func([]docRevRow) bool) {
	return func(yield func([]docRevRow) bool) {
		for start := 0; start < len(rows); {
			end := start + 1
			for end < len(rows) && rows[end].docNumericID == rows[start].docNumericID {
				end++
			}
			if !yield(rows[start:end]) {
				return
			}
			start = end
		}
	}
}

// compareWinner orders live revisions before tombstones, then by descending
// rev ID.
func compareWinner(a, b revRow) int {
	if a.deleted != b.deleted {
		if a.deleted {
			return 1
		}
		return -1
	}
	return models.CompareRevIDs(b.revID, a.revID)
}

// AllDocs returns the winning revision of every live document in doc ID
// order, restricted to the key range in opts. When opts.Keys is set the
// rows follow the keys instead (see GetDocsWithIDs).
func (d *Database) AllDocs(opts models.QueryOptions) (*models.QueryResult, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if err := checkPaging(opts); err != nil {
		return nil, err
	}
	if opts.Keys != nil {
		return d.GetDocsWithIDs(opts.Keys, opts)
	}

	query := `SELECT sequence, revs.doc_id, docid, revid, deleted
		FROM revs, docs
		WHERE current = 1 AND revs.doc_id = docs.doc_id`
	var args []any

	lower, upper := opts.StartKey, opts.EndKey
	lowerOp, upperOp := ">=", "<="
	if !opts.InclusiveEnd {
		upperOp = "<"
	}
	if opts.Descending {
		lower, upper = opts.EndKey, opts.StartKey
		lowerOp, upperOp = ">=", "<="
		if !opts.InclusiveEnd {
			lowerOp = ">"
		}
	}
	if lower != "" {
		query += " AND docid " + lowerOp + " ?"
		args = append(args, lower)
	}
	if upper != "" {
		query += " AND docid " + upperOp + " ?"
		args = append(args, upper)
	}
	order := "ASC"
	if opts.Descending {
		order = "DESC"
	}
	query += " ORDER BY docid " + order + ", sequence DESC"

	rows, err := d.q().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query all docs: %w", err)
	}
	var scanned []docRevRow
	for rows.Next() {
		var r docRevRow
		if err := rows.Scan(&r.sequence, &r.docNumericID, &r.docID, &r.revID, &r.deleted); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan all docs: %w", err)
		}
		scanned = append(scanned, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query all docs: %w", err)
	}

	var winners []docRevRow
	for group := range groupByDoc(scanned) {
		best := group[0]
		for _, r := range group[1:] {
			if compareWinner(r.revRow, best.revRow) < 0 {
				best = r
			}
		}
		if !best.deleted {
			winners = append(winners, best)
		}
	}

	winners = winners[min(opts.Skip, len(winners)):]
	if opts.Limit > 0 && len(winners) > opts.Limit {
		winners = winners[:opts.Limit]
	}

	result := &models.QueryResult{Rows: make([]models.QueryRow, 0, len(winners))}
	for _, w := range winners {
		row, err := d.queryRow(w, opts)
		if err != nil {
			return nil, err
		}
		result.Rows = append(result.Rows, row)
	}
	return d.finishQueryResult(result, opts)
}

func checkPaging(opts models.QueryOptions) error {
	if opts.Skip < 0 {
		return models.Errorf(models.StatusBadRequest, "skip must not be negative, got %d", opts.Skip)
	}
	return nil
}

// GetDocsWithIDs returns one row per requested ID, in request order. Unknown
// IDs get a row whose Error is "not_found"; deleted documents are reported
// with Deleted set and no doc.
func (d *Database) GetDocsWithIDs(docIDs []string, opts models.QueryOptions) (*models.QueryResult, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if err := checkPaging(opts); err != nil {
		return nil, err
	}
	result := &models.QueryResult{Rows: make([]models.QueryRow, 0, len(docIDs))}
	for _, docID := range docIDs {
		numericID, err := d.docNumericID(docID)
		if err != nil {
			return nil, err
		}
		var current []revRow
		if numericID > 0 {
			if current, err = d.revRows(numericID, true); err != nil {
				return nil, err
			}
		}
		winner := winningRow(current)
		if winner == nil {
			result.Rows = append(result.Rows, models.QueryRow{Key: docID, Error: "not_found"})
			continue
		}
		row, err := d.queryRow(docRevRow{revRow: *winner, docNumericID: numericID, docID: docID}, opts)
		if err != nil {
			return nil, err
		}
		result.Rows = append(result.Rows, row)
	}

	skip := min(opts.Skip, len(result.Rows))
	result.Rows = result.Rows[skip:]
	if opts.Limit > 0 && len(result.Rows) > opts.Limit {
		result.Rows = result.Rows[:opts.Limit]
	}
	return d.finishQueryResult(result, opts)
}

func (d *Database) queryRow(r docRevRow, opts models.QueryOptions) (models.QueryRow, error) {
	row := models.QueryRow{
		Key:      r.docID,
		DocID:    r.docID,
		RevID:    r.revID,
		Deleted:  r.deleted,
		Sequence: r.sequence,
	}
	if opts.IncludeDocs && !r.deleted {
		data, err := d.loadJSON(r.sequence)
		if err != nil {
			return row, err
		}
		rev := &models.Revision{DocID: r.docID, RevID: r.revID, Sequence: r.sequence}
		if row.Doc, err = d.expandStoredJSON(data, rev, opts.Content); err != nil {
			return row, err
		}
	}
	return row, nil
}

func (d *Database) finishQueryResult(result *models.QueryResult, opts models.QueryOptions) (*models.QueryResult, error) {
	total, err := d.DocumentCount()
	if err != nil {
		return nil, err
	}
	result.TotalRows = total
	if opts.UpdateSeq {
		if result.UpdateSeq, err = d.LastSequence(); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// FindMissingRevisions returns the revisions of revs not stored locally, in
// input order.
func (d *Database) FindMissingRevisions(revs models.RevisionList) (models.RevisionList, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	byDoc := make(map[string][]string)
	var order []string
	for _, rev := range revs {
		if _, ok := byDoc[rev.DocID]; !ok {
			order = append(order, rev.DocID)
		}
		byDoc[rev.DocID] = append(byDoc[rev.DocID], rev.RevID)
	}

	present := make(map[string]map[string]bool, len(order))
	for _, docID := range order {
		numericID, err := d.docNumericID(docID)
		if err != nil {
			return nil, err
		}
		if numericID == 0 {
			continue
		}
		revIDs := byDoc[docID]
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
			return nil, fmt.Errorf("find missing revisions: %w", err)
		}
		found := make(map[string]bool)
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			found[id] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		present[docID] = found
	}

	var missing models.RevisionList
	for _, rev := range revs {
		if !present[rev.DocID][rev.RevID] {
			missing = append(missing, rev)
		}
	}
	return missing, nil
}
