package store

import (
	"fmt"

	"github.com/kilupskalvis/revdb/internal/blobstore"
)

// GCResult contains the outcome of an attachment garbage collection run.
type GCResult struct {
	RowsDeleted     int64
	BlobsScanned    int
	BlobsDeleted    int
	ReferencedBlobs int
}

// GarbageCollectAttachments drops attachment rows of revisions whose bodies
// are gone, then deletes every blob no remaining row references. Blob
// deletion is best effort: failures are logged and the blob is left for a
// later run.
func (d *Database) GarbageCollectAttachments() (*GCResult, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	result := &GCResult{}

	referenced := make(map[blobstore.Key]bool)
	err := d.InTransaction(func() error {
		res, err := d.q().Exec(
			`DELETE FROM attachments WHERE sequence IN (SELECT sequence FROM revs WHERE json IS NULL)`)
		if err != nil {
			return fmt.Errorf("delete orphaned attachment rows: %w", err)
		}
		if result.RowsDeleted, err = res.RowsAffected(); err != nil {
			return err
		}

		rows, err := d.q().Query(`SELECT DISTINCT key FROM attachments`)
		if err != nil {
			return fmt.Errorf("get referenced keys: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				return err
			}
			referenced[blobstore.Key(key)] = true
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	result.ReferencedBlobs = len(referenced)

	if result.BlobsScanned, err = d.blobs.Count(); err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	if result.BlobsDeleted, err = d.blobs.DeleteAllExcept(referenced); err != nil {
		return nil, err
	}

	d.logger.Info("gc complete",
		"rows_deleted", result.RowsDeleted,
		"scanned", result.BlobsScanned,
		"referenced", result.ReferencedBlobs,
		"deleted", result.BlobsDeleted,
	)
	return result, nil
}

// Compact discards the bodies of non-current revisions, keeping the tree
// itself, then collects unreferenced attachments and vacuums the file.
// It must not be called inside a transaction.
func (d *Database) Compact() (*GCResult, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if d.txn.depth > 0 {
		return nil, fmt.Errorf("compact inside a transaction")
	}

	res, err := d.db.Exec(`UPDATE revs SET json = NULL WHERE current = 0 AND json IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("prune revision bodies: %w", err)
	}
	pruned, _ := res.RowsAffected()

	result, err := d.GarbageCollectAttachments()
	if err != nil {
		return nil, err
	}

	if _, err := d.db.Exec("VACUUM"); err != nil {
		return nil, fmt.Errorf("vacuum: %w", err)
	}
	d.logger.Info("compaction complete", "bodies_pruned", pruned)
	return result, nil
}
