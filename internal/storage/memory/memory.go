// Package memory is an in-process domain.Backend. Each Update works on a copy
// of the tables that replaces the live copy only when the callback succeeds.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"doodlegrid/internal/domain"
)

var errReadOnly = errors.New("read-only transaction")

type tables struct {
	assets    map[domain.AssetID]domain.Asset
	docs      map[string]domain.Document
	lastAsset domain.AssetID
}

func (t *tables) clone() *tables {
	cp := &tables{
		assets:    make(map[domain.AssetID]domain.Asset, len(t.assets)),
		docs:      make(map[string]domain.Document, len(t.docs)),
		lastAsset: t.lastAsset,
	}
	for id, a := range t.assets {
		cp.assets[id] = a
	}
	for id, d := range t.docs {
		cp.docs[id] = d
	}
	return cp
}

// Store implements domain.Backend in memory.
type Store struct {
	mu     sync.RWMutex
	data   *tables
	closed bool
}

var _ domain.Backend = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{data: &tables{
		assets: map[domain.AssetID]domain.Asset{},
		docs:   map[string]domain.Document{},
	}}
}

func (s *Store) Update(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("memory store closed")
	}

	work := s.data.clone()
	if err := fn(&tx{t: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *Store) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("memory store closed")
	}
	return fn(&tx{t: s.data, readOnly: true})
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type tx struct {
	t        *tables
	readOnly bool
}

func (x *tx) writable() error {
	if x.readOnly {
		return errReadOnly
	}
	return nil
}

func notFound(what string, id any) error {
	return fmt.Errorf("%s %v: %w", what, id, domain.ErrNotFound)
}

func (x *tx) InsertAsset(a *domain.Asset) error {
	if err := x.writable(); err != nil {
		return err
	}
	x.t.lastAsset++
	a.ID = x.t.lastAsset
	a.CreatedAt = time.Now().UTC()
	a.Refcount = 1
	x.t.assets[a.ID] = *a
	return nil
}

func (x *tx) GetAsset(id domain.AssetID) (*domain.Asset, error) {
	a, ok := x.t.assets[id]
	if !ok {
		return nil, notFound("asset", id)
	}
	return &a, nil
}

func (x *tx) DecrementAsset(id domain.AssetID) (int64, error) {
	if err := x.writable(); err != nil {
		return 0, err
	}
	a, ok := x.t.assets[id]
	if !ok {
		return 0, notFound("asset", id)
	}
	if a.Refcount <= 0 {
		return 0, fmt.Errorf("asset %v at zero: %w", id, domain.ErrInconsistentRefcount)
	}
	a.Refcount--
	x.t.assets[id] = a
	return a.Refcount, nil
}

func (x *tx) DeleteAsset(id domain.AssetID) error {
	if err := x.writable(); err != nil {
		return err
	}
	if _, ok := x.t.assets[id]; !ok {
		return notFound("asset", id)
	}
	delete(x.t.assets, id)
	return nil
}

func (x *tx) ListAssets() ([]domain.AssetInfo, error) {
	out := make([]domain.AssetInfo, 0, len(x.t.assets))
	for _, a := range x.t.assets {
		out = append(out, a.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneDocument(d domain.Document) *domain.Document {
	d.History = append([]domain.DocState(nil), d.History...)
	return &d
}

func (x *tx) CreateDocument(d *domain.Document) error {
	if err := x.writable(); err != nil {
		return err
	}
	if _, ok := x.t.docs[d.ID]; ok {
		return fmt.Errorf("document %s already exists", d.ID)
	}
	x.t.docs[d.ID] = *cloneDocument(*d)
	return nil
}

func (x *tx) GetDocument(id string) (*domain.Document, error) {
	d, ok := x.t.docs[id]
	if !ok {
		return nil, notFound("document", id)
	}
	return cloneDocument(d), nil
}

func (x *tx) PutDocument(d *domain.Document) error {
	if err := x.writable(); err != nil {
		return err
	}
	prev, ok := x.t.docs[d.ID]
	if !ok {
		return notFound("document", d.ID)
	}
	next := *cloneDocument(*d)
	next.CreatedAt = prev.CreatedAt
	x.t.docs[d.ID] = next
	return nil
}

func (x *tx) ListDocuments() ([]domain.DocumentInfo, error) {
	out := make([]domain.DocumentInfo, 0, len(x.t.docs))
	for _, d := range x.t.docs {
		out = append(out, d.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModifiedAt.Equal(out[j].ModifiedAt) {
			return out[i].ModifiedAt.After(out[j].ModifiedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (x *tx) DeleteDocument(id string) error {
	if err := x.writable(); err != nil {
		return err
	}
	if _, ok := x.t.docs[id]; !ok {
		return notFound("document", id)
	}
	delete(x.t.docs, id)
	return nil
}
