package storage

import (
	"chatraw/model"
)

// CacheChats replaces the cached chat list with the server's current
// one. The cache exists so the sidebar has something to show before the
// first fetch completes (and when the server is unreachable).
func (s *Store) CacheChats(chats []model.Chat) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cached_chats`); err != nil {
		return err
	}
	for _, c := range chats {
		_, err := tx.Exec(
			`INSERT INTO cached_chats (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			c.ID, c.Title, c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// CachedChats returns the cached chat list, most recently updated first.
func (s *Store) CachedChats() ([]model.Chat, error) {
	rows, err := s.db.Query(
		`SELECT id, title, created_at, updated_at FROM cached_chats ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []model.Chat
	for rows.Next() {
		var c model.Chat
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			continue
		}
		chats = append(chats, c)
	}

	return chats, rows.Err()
}

// CacheDocuments replaces the cached document list.
func (s *Store) CacheDocuments(docs []model.Document) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cached_documents`); err != nil {
		return err
	}
	for _, d := range docs {
		_, err := tx.Exec(
			`INSERT INTO cached_documents (id, filename, created_at) VALUES (?, ?, ?)`,
			d.ID, d.Filename, d.CreatedAt,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// CachedDocuments returns the cached document list, newest first.
func (s *Store) CachedDocuments() ([]model.Document, error) {
	rows, err := s.db.Query(
		`SELECT id, filename, created_at FROM cached_documents ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var d model.Document
		if err := rows.Scan(&d.ID, &d.Filename, &d.CreatedAt); err != nil {
			continue
		}
		docs = append(docs, d)
	}

	return docs, rows.Err()
}
