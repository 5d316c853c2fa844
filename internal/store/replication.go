package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// LastSequenceWithRemote returns the checkpoint stored for a replication
// with remote in the given direction, or "" if none was saved.
func (d *Database) LastSequenceWithRemote(remote string, push bool) (string, error) {
	if err := d.checkOpen(); err != nil {
		return "", err
	}
	var seq sql.NullString
	err := d.q().QueryRow(
		"SELECT last_sequence FROM replicators WHERE remote = ? AND push = ?", remote, push,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read checkpoint for %s: %w", remote, err)
	}
	return seq.String, nil
}

// SetLastSequence saves the checkpoint for remote, replacing any previous one.
func (d *Database) SetLastSequence(lastSequence, remote string, push bool) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	_, err := d.q().Exec(
		"INSERT OR REPLACE INTO replicators (remote, push, last_sequence) VALUES (?, ?, ?)",
		remote, push, lastSequence,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint for %s: %w", remote, err)
	}
	d.logger.Debug("checkpoint saved", "remote", remote, "push", push, "last_sequence", lastSequence)
	return nil
}
