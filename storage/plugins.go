package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// InstalledPlugin is one row of the plugin registry. Manifest holds the
// plugin's descriptor JSON verbatim; SettingsValues holds the user's
// current values as a JSON object. The loader parses both.
type InstalledPlugin struct {
	ID             string
	Version        string
	SourceURL      string
	Enabled        bool
	Manifest       string
	SettingsValues string
	LastError      string
	InstalledAt    time.Time
	UpdatedAt      time.Time
}

// SavePlugin inserts or replaces a plugin record.
func (s *Store) SavePlugin(p InstalledPlugin) error {
	if p.SettingsValues == "" {
		p.SettingsValues = "{}"
	}
	query := `
	INSERT OR REPLACE INTO plugins (id, version, source_url, enabled, manifest, settings_values, last_error, installed_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		p.ID,
		p.Version,
		p.SourceURL,
		boolToInt(p.Enabled),
		p.Manifest,
		p.SettingsValues,
		p.LastError,
		p.InstalledAt,
		p.UpdatedAt,
	)

	return err
}

// LoadPlugin returns the record for id, or nil if not installed.
func (s *Store) LoadPlugin(id string) (*InstalledPlugin, error) {
	query := `
	SELECT id, version, source_url, enabled, manifest, settings_values, last_error, installed_at, updated_at
	FROM plugins
	WHERE id = ?
	`

	var p InstalledPlugin
	var enabled int
	err := s.db.QueryRow(query, id).Scan(
		&p.ID,
		&p.Version,
		&p.SourceURL,
		&enabled,
		&p.Manifest,
		&p.SettingsValues,
		&p.LastError,
		&p.InstalledAt,
		&p.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	p.Enabled = enabled != 0
	return &p, nil
}

// ListPlugins returns all installed plugins, newest first.
func (s *Store) ListPlugins() ([]InstalledPlugin, error) {
	query := `
	SELECT id, version, source_url, enabled, manifest, settings_values, last_error, installed_at, updated_at
	FROM plugins
	ORDER BY installed_at DESC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plugins []InstalledPlugin
	for rows.Next() {
		var p InstalledPlugin
		var enabled int
		err := rows.Scan(
			&p.ID,
			&p.Version,
			&p.SourceURL,
			&enabled,
			&p.Manifest,
			&p.SettingsValues,
			&p.LastError,
			&p.InstalledAt,
			&p.UpdatedAt,
		)
		if err != nil {
			continue
		}
		p.Enabled = enabled != 0
		plugins = append(plugins, p)
	}

	return plugins, rows.Err()
}

// DeletePlugin removes a plugin record along with its KV namespace.
func (s *Store) DeletePlugin(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM plugins WHERE id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM plugin_kv WHERE plugin_id = ?`, id); err != nil {
		return err
	}

	return tx.Commit()
}

// SetPluginEnabled flips the enabled flag without touching the rest of
// the record.
func (s *Store) SetPluginEnabled(id string, enabled bool) error {
	result, err := s.db.Exec(
		`UPDATE plugins SET enabled = ?, updated_at = ? WHERE id = ?`,
		boolToInt(enabled), time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update plugin: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("plugin %s not found in database", id)
	}

	return nil
}

// SetPluginError records the most recent load failure, or clears it.
func (s *Store) SetPluginError(id, errText string) error {
	_, err := s.db.Exec(
		`UPDATE plugins SET last_error = ?, updated_at = ? WHERE id = ?`,
		errText, time.Now(), id,
	)
	return err
}

// SetPluginSettings replaces the stored settings values JSON.
func (s *Store) SetPluginSettings(id, valuesJSON string) error {
	if valuesJSON == "" {
		valuesJSON = "{}"
	}
	_, err := s.db.Exec(
		`UPDATE plugins SET settings_values = ?, updated_at = ? WHERE id = ?`,
		valuesJSON, time.Now(), id,
	)
	return err
}

// IsInstalled reports whether the plugin has a record.
func (s *Store) IsInstalled(id string) bool {
	p, err := s.LoadPlugin(id)
	return err == nil && p != nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
