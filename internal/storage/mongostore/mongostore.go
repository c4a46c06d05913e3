// Package mongostore implements domain.Backend on MongoDB. Update runs inside a
// multi-document transaction, so the server must be a replica set.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"doodlegrid/internal/domain"
)

const (
	assetsColl    = "assets"
	documentsColl = "documents"
	countersColl  = "counters"
)

// Store implements domain.Backend.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ domain.Backend = (*Store)(nil)

// Open connects to uri and uses database. An empty database defaults to "doodlegrid".
func Open(ctx context.Context, uri, database string) (*Store, error) {
	if database == "" {
		database = "doodlegrid"
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := &Store{client: client, db: client.Database(database)}
	_, err = s.db.Collection(documentsColl).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "modified_at", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create index: %w", err)
	}
	return s, nil
}

// Drop removes every collection. Used by tests.
func (s *Store) Drop(ctx context.Context) error {
	return s.db.Drop(ctx)
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) Update(ctx context.Context, fn func(tx domain.Tx) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(&tx{ctx: ctx, db: s.db})
	})
	return err
}

func (s *Store) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	return fn(&tx{ctx: ctx, db: s.db, readOnly: true})
}

type assetRecord struct {
	ID        int64     `bson:"_id"`
	CreatedAt time.Time `bson:"created_at"`
	Refcount  int64     `bson:"refcount"`
	MediaType string    `bson:"media_type"`
	Width     int       `bson:"width"`
	Height    int       `bson:"height"`
	Size      int64     `bson:"size"`
	Data      []byte    `bson:"data,omitempty"`
}

func (r *assetRecord) info() domain.AssetInfo {
	return domain.AssetInfo{
		ID:        domain.AssetID(r.ID),
		CreatedAt: r.CreatedAt,
		Refcount:  r.Refcount,
		MediaType: r.MediaType,
		Width:     r.Width,
		Height:    r.Height,
		Size:      r.Size,
	}
}

type documentRecord struct {
	ID           string            `bson:"_id"`
	CreatedAt    time.Time         `bson:"created_at"`
	ModifiedAt   time.Time         `bson:"modified_at"`
	Thumbnail    []byte            `bson:"thumbnail,omitempty"`
	HasThumbnail bool              `bson:"has_thumbnail"`
	Cursor       int               `bson:"cursor"`
	Versions     int               `bson:"versions"`
	History      []domain.DocState `bson:"history,omitempty"`
}

func toRecord(d *domain.Document) documentRecord {
	return documentRecord{
		ID:           d.ID,
		CreatedAt:    d.CreatedAt.UTC(),
		ModifiedAt:   d.ModifiedAt.UTC(),
		Thumbnail:    d.Thumbnail,
		HasThumbnail: len(d.Thumbnail) > 0,
		Cursor:       d.Cursor,
		Versions:     len(d.History),
		History:      d.History,
	}
}

type tx struct {
	ctx      context.Context
	db       *mongo.Database
	readOnly bool
}

var errReadOnly = errors.New("read-only transaction")

func (t *tx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func notFound(what string, id any) error {
	return fmt.Errorf("%s %v: %w", what, id, domain.ErrNotFound)
}

func (t *tx) nextAssetID() (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := t.db.Collection(countersColl).FindOneAndUpdate(t.ctx,
		bson.M{"_id": assetsColl},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("next asset id: %w", err)
	}
	return counter.Seq, nil
}

func (t *tx) InsertAsset(a *domain.Asset) error {
	if err := t.writable(); err != nil {
		return err
	}
	id, err := t.nextAssetID()
	if err != nil {
		return err
	}
	a.ID = domain.AssetID(id)
	a.CreatedAt = time.Now().UTC()
	a.Refcount = 1

	_, err = t.db.Collection(assetsColl).InsertOne(t.ctx, assetRecord{
		ID:        id,
		CreatedAt: a.CreatedAt,
		Refcount:  a.Refcount,
		MediaType: a.MediaType,
		Width:     a.Width,
		Height:    a.Height,
		Size:      int64(len(a.Data)),
		Data:      a.Data,
	})
	if err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}
	return nil
}

func (t *tx) GetAsset(id domain.AssetID) (*domain.Asset, error) {
	var r assetRecord
	err := t.db.Collection(assetsColl).FindOne(t.ctx, bson.M{"_id": int64(id)}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound("asset", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return &domain.Asset{
		ID:        domain.AssetID(r.ID),
		CreatedAt: r.CreatedAt,
		Refcount:  r.Refcount,
		MediaType: r.MediaType,
		Width:     r.Width,
		Height:    r.Height,
		Data:      r.Data,
	}, nil
}

func (t *tx) DecrementAsset(id domain.AssetID) (int64, error) {
	if err := t.writable(); err != nil {
		return 0, err
	}
	coll := t.db.Collection(assetsColl)

	var r assetRecord
	err := coll.FindOneAndUpdate(t.ctx,
		bson.M{"_id": int64(id), "refcount": bson.M{"$gt": 0}},
		bson.M{"$inc": bson.M{"refcount": int64(-1)}},
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{"data": 0}),
	).Decode(&r)
	if err == nil {
		return r.Refcount, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, fmt.Errorf("decrement asset: %w", err)
	}

	n, err := coll.CountDocuments(t.ctx, bson.M{"_id": int64(id)})
	if err != nil {
		return 0, fmt.Errorf("decrement asset: %w", err)
	}
	if n == 0 {
		return 0, notFound("asset", id)
	}
	return 0, fmt.Errorf("asset %v at zero: %w", id, domain.ErrInconsistentRefcount)
}

func (t *tx) DeleteAsset(id domain.AssetID) error {
	if err := t.writable(); err != nil {
		return err
	}
	res, err := t.db.Collection(assetsColl).DeleteOne(t.ctx, bson.M{"_id": int64(id)})
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	if res.DeletedCount == 0 {
		return notFound("asset", id)
	}
	return nil
}

func (t *tx) ListAssets() ([]domain.AssetInfo, error) {
	cur, err := t.db.Collection(assetsColl).Find(t.ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetProjection(bson.M{"data": 0}),
	)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	var records []assetRecord
	if err := cur.All(t.ctx, &records); err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	out := make([]domain.AssetInfo, 0, len(records))
	for i := range records {
		out = append(out, records[i].info())
	}
	return out, nil
}

func (t *tx) CreateDocument(d *domain.Document) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, err := t.db.Collection(documentsColl).InsertOne(t.ctx, toRecord(d)); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (t *tx) GetDocument(id string) (*domain.Document, error) {
	var r documentRecord
	err := t.db.Collection(documentsColl).FindOne(t.ctx, bson.M{"_id": id}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound("document", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &domain.Document{
		ID:         r.ID,
		CreatedAt:  r.CreatedAt,
		ModifiedAt: r.ModifiedAt,
		Thumbnail:  r.Thumbnail,
		Cursor:     r.Cursor,
		History:    r.History,
	}, nil
}

func (t *tx) PutDocument(d *domain.Document) error {
	if err := t.writable(); err != nil {
		return err
	}
	r := toRecord(d)
	res, err := t.db.Collection(documentsColl).UpdateOne(t.ctx, bson.M{"_id": d.ID}, bson.M{"$set": bson.M{
		"modified_at":   r.ModifiedAt,
		"thumbnail":     r.Thumbnail,
		"has_thumbnail": r.HasThumbnail,
		"cursor":        r.Cursor,
		"versions":      r.Versions,
		"history":       r.History,
	}})
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if res.MatchedCount == 0 {
		return notFound("document", d.ID)
	}
	return nil
}

func (t *tx) ListDocuments() ([]domain.DocumentInfo, error) {
	cur, err := t.db.Collection(documentsColl).Find(t.ctx, bson.M{},
		options.Find().
			SetSort(bson.D{{Key: "modified_at", Value: -1}, {Key: "_id", Value: 1}}).
			SetProjection(bson.M{"history": 0, "thumbnail": 0}),
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	var records []documentRecord
	if err := cur.All(t.ctx, &records); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	out := make([]domain.DocumentInfo, 0, len(records))
	for _, r := range records {
		out = append(out, domain.DocumentInfo{
			ID:           r.ID,
			CreatedAt:    r.CreatedAt,
			ModifiedAt:   r.ModifiedAt,
			HasThumbnail: r.HasThumbnail,
			Versions:     r.Versions,
		})
	}
	return out, nil
}

func (t *tx) DeleteDocument(id string) error {
	if err := t.writable(); err != nil {
		return err
	}
	res, err := t.db.Collection(documentsColl).DeleteOne(t.ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if res.DeletedCount == 0 {
		return notFound("document", id)
	}
	return nil
}
