package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"doodlegrid/internal/domain"
)

func (t *sqlTx) InsertAsset(a *domain.Asset) error {
	a.CreatedAt = time.Now().UTC()
	a.Refcount = 1

	const q = `INSERT INTO assets (created_at, refcount, media_type, width, height, data) VALUES (?, ?, ?, ?, ?, ?)`
	args := []any{a.CreatedAt, a.Refcount, a.MediaType, a.Width, a.Height, a.Data}

	if t.d.returning {
		var id int64
		if err := t.queryRow(q+` RETURNING id`, args...).Scan(&id); err != nil {
			return fmt.Errorf("insert asset: %w", err)
		}
		a.ID = domain.AssetID(id)
		return nil
	}

	res, err := t.exec(q, args...)
	if err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert asset id: %w", err)
	}
	a.ID = domain.AssetID(id)
	return nil
}

func (t *sqlTx) GetAsset(id domain.AssetID) (*domain.Asset, error) {
	a := &domain.Asset{}
	err := t.queryRow(
		`SELECT id, created_at, refcount, media_type, width, height, data FROM assets WHERE id = ?`, int64(id),
	).Scan(&a.ID, &a.CreatedAt, &a.Refcount, &a.MediaType, &a.Width, &a.Height, &a.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("asset", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return a, nil
}

func (t *sqlTx) DecrementAsset(id domain.AssetID) (int64, error) {
	res, err := t.exec(`UPDATE assets SET refcount = refcount - 1 WHERE id = ? AND refcount > 0`, int64(id))
	if err != nil {
		return 0, fmt.Errorf("decrement asset: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("decrement asset: %w", err)
	}
	if n == 0 {
		ok, err := t.exists("assets", "id", int64(id))
		if err != nil {
			return 0, fmt.Errorf("decrement asset: %w", err)
		}
		if !ok {
			return 0, notFound("asset", id)
		}
		return 0, fmt.Errorf("asset %v at zero: %w", id, domain.ErrInconsistentRefcount)
	}

	var remaining int64
	if err := t.queryRow(`SELECT refcount FROM assets WHERE id = ?`, int64(id)).Scan(&remaining); err != nil {
		return 0, fmt.Errorf("read refcount: %w", err)
	}
	return remaining, nil
}

func (t *sqlTx) DeleteAsset(id domain.AssetID) error {
	res, err := t.exec(`DELETE FROM assets WHERE id = ?`, int64(id))
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound("asset", id)
	}
	return nil
}

func (t *sqlTx) ListAssets() ([]domain.AssetInfo, error) {
	rows, err := t.query(
		`SELECT id, created_at, refcount, media_type, width, height, LENGTH(data) FROM assets ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var assets []domain.AssetInfo
	for rows.Next() {
		var a domain.AssetInfo
		if err := rows.Scan(&a.ID, &a.CreatedAt, &a.Refcount, &a.MediaType, &a.Width, &a.Height, &a.Size); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}
