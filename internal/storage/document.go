package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"doodlegrid/internal/domain"
)

func (t *sqlTx) CreateDocument(d *domain.Document) error {
	history, err := json.Marshal(d.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	_, err = t.exec(
		`INSERT INTO documents (id, created_at, modified_at, thumbnail, state_cursor, history) VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.CreatedAt.UTC(), d.ModifiedAt.UTC(), d.Thumbnail, d.Cursor, string(history),
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (t *sqlTx) GetDocument(id string) (*domain.Document, error) {
	d := &domain.Document{}
	var history string
	err := t.queryRow(
		`SELECT id, created_at, modified_at, thumbnail, state_cursor, history FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.CreatedAt, &d.ModifiedAt, &d.Thumbnail, &d.Cursor, &history)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("document", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if err := json.Unmarshal([]byte(history), &d.History); err != nil {
		return nil, fmt.Errorf("decode history of %s: %w", id, err)
	}
	return d, nil
}

func (t *sqlTx) PutDocument(d *domain.Document) error {
	history, err := json.Marshal(d.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	ok, err := t.exists("documents", "id", d.ID)
	if err != nil {
		return fmt.Errorf("put document: %w", err)
	}
	if !ok {
		return notFound("document", d.ID)
	}
	_, err = t.exec(
		`UPDATE documents SET modified_at = ?, thumbnail = ?, state_cursor = ?, history = ? WHERE id = ?`,
		d.ModifiedAt.UTC(), d.Thumbnail, d.Cursor, string(history), d.ID,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return nil
}

func (t *sqlTx) ListDocuments() ([]domain.DocumentInfo, error) {
	rows, err := t.query(
		`SELECT id, created_at, modified_at, thumbnail IS NOT NULL, history FROM documents ORDER BY modified_at DESC, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.DocumentInfo
	for rows.Next() {
		var (
			info    domain.DocumentInfo
			history string
		)
		if err := rows.Scan(&info.ID, &info.CreatedAt, &info.ModifiedAt, &info.HasThumbnail, &history); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		var states []json.RawMessage
		if err := json.Unmarshal([]byte(history), &states); err == nil {
			info.Versions = len(states)
		}
		docs = append(docs, info)
	}
	return docs, rows.Err()
}

func (t *sqlTx) DeleteDocument(id string) error {
	res, err := t.exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound("document", id)
	}
	return nil
}
