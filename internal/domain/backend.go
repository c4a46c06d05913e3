package domain

import "context"

// AssetTx holds the asset-table primitives available inside a transaction.
type AssetTx interface {
	// InsertAsset stores a with refcount 1 and fills in ID and CreatedAt.
	InsertAsset(a *Asset) error
	GetAsset(id AssetID) (*Asset, error)
	// DecrementAsset lowers the refcount by one and returns the new value.
	// Returns ErrNotFound for an unknown id.
	DecrementAsset(id AssetID) (int64, error)
	DeleteAsset(id AssetID) error
	ListAssets() ([]AssetInfo, error)
}

// DocumentTx holds the document-table primitives available inside a transaction.
type DocumentTx interface {
	// CreateDocument inserts d; ID must already be set.
	CreateDocument(d *Document) error
	GetDocument(id string) (*Document, error)
	PutDocument(d *Document) error
	// ListDocuments returns every document, most recently modified first.
	ListDocuments() ([]DocumentInfo, error)
	DeleteDocument(id string) error
}

// Tx is one transactional unit across both tables.
type Tx interface {
	AssetTx
	DocumentTx
}

// Backend is the abstract persistence port. Update commits only if fn
// returns nil; View is read-only.
type Backend interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}
