package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	infoPrivateUUID = "privateUUID"
	infoPublicUUID  = "publicUUID"
)

// PrivateUUID identifies this database file to its owner. It is created
// with the file and never shared with peers.
func (d *Database) PrivateUUID() (string, error) {
	return d.infoValue(infoPrivateUUID)
}

// PublicUUID identifies this database to replication peers.
func (d *Database) PublicUUID() (string, error) {
	return d.infoValue(infoPublicUUID)
}

// ReplaceUUIDs assigns fresh UUIDs, as after copying a database file.
func (d *Database) ReplaceUUIDs() error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.InTransaction(func() error {
		for _, key := range []string{infoPrivateUUID, infoPublicUUID} {
			if _, err := d.q().Exec(
				"INSERT OR REPLACE INTO info (key, value) VALUES (?, ?)", key, uuid.NewString(),
			); err != nil {
				return fmt.Errorf("replace %s: %w", key, err)
			}
		}
		return nil
	})
}

func (d *Database) infoValue(key string) (string, error) {
	if err := d.checkOpen(); err != nil {
		return "", err
	}
	var value string
	err := d.q().QueryRow("SELECT value FROM info WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("info key %q missing", key)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return value, nil
}
