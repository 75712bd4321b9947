package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// MaxPluginStorage is the per-plugin ceiling on the total size of a
// plugin's key/value namespace, keys and values combined.
const MaxPluginStorage = 1 << 20 // 1 MiB

// KVSet writes a value into the plugin's namespace. It returns false
// without writing when the namespace would exceed MaxPluginStorage; the
// size check and the write happen in one transaction, so concurrent
// writers cannot slip past the ceiling together.
func (s *Store) KVSet(pluginID, key, value string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Size of everything in the namespace except the key being written.
	var used int64
	err = tx.QueryRow(
		`SELECT COALESCE(SUM(LENGTH(CAST(key AS BLOB)) + LENGTH(CAST(value AS BLOB))), 0) FROM plugin_kv WHERE plugin_id = ? AND key <> ?`,
		pluginID, key,
	).Scan(&used)
	if err != nil {
		return false, fmt.Errorf("failed to measure namespace: %w", err)
	}

	if used+int64(len(key)+len(value)) > MaxPluginStorage {
		return false, nil
	}

	_, err = tx.Exec(
		`INSERT OR REPLACE INTO plugin_kv (plugin_id, key, value, updated_at) VALUES (?, ?, ?, ?)`,
		pluginID, key, value, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to write value: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}
	return true, nil
}

// KVGet reads a value. The second return is false when the key is
// absent.
func (s *Store) KVGet(pluginID, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM plugin_kv WHERE plugin_id = ? AND key = ?`,
		pluginID, key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// KVRemove deletes one key. Removing an absent key is not an error.
func (s *Store) KVRemove(pluginID, key string) error {
	_, err := s.db.Exec(
		`DELETE FROM plugin_kv WHERE plugin_id = ? AND key = ?`,
		pluginID, key,
	)
	return err
}

// KVClear empties the plugin's namespace.
func (s *Store) KVClear(pluginID string) error {
	_, err := s.db.Exec(`DELETE FROM plugin_kv WHERE plugin_id = ?`, pluginID)
	return err
}

// KVAll returns every key/value pair in the plugin's namespace.
func (s *Store) KVAll(pluginID string) (map[string]string, error) {
	rows, err := s.db.Query(
		`SELECT key, value FROM plugin_kv WHERE plugin_id = ?`,
		pluginID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pairs := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			continue
		}
		pairs[k] = v
	}

	return pairs, rows.Err()
}

// KVUsed returns the namespace's current size in bytes.
func (s *Store) KVUsed(pluginID string) (int64, error) {
	var used int64
	err := s.db.QueryRow(
		`SELECT COALESCE(SUM(LENGTH(CAST(key AS BLOB)) + LENGTH(CAST(value AS BLOB))), 0) FROM plugin_kv WHERE plugin_id = ?`,
		pluginID,
	).Scan(&used)
	return used, err
}
