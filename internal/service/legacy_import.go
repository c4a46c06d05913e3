package service

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"doodlegrid/internal/domain"
	"doodlegrid/internal/geometry"
)

//go:embed legacy_schema.json
var legacySchemaJSON []byte

const legacySchemaURL = "legacy_schema.json"

var (
	legacySchemaOnce sync.Once
	legacySchema     *jsonschema.Schema
	legacySchemaErr  error
)

func compiledLegacySchema() (*jsonschema.Schema, error) {
	legacySchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(legacySchemaURL, bytes.NewReader(legacySchemaJSON)); err != nil {
			legacySchemaErr = err
			return
		}
		legacySchema, legacySchemaErr = compiler.Compile(legacySchemaURL)
	})
	return legacySchema, legacySchemaErr
}

// LegacyLayout is the single-layout format saved by early versions: two
// images as data URLs and two (sc, ss, tx, ty) transforms.
type LegacyLayout struct {
	Background   string     `json:"input-bg"`
	Reference    string     `json:"input-ref"`
	BackgroundTf [4]float64 `json:"tf-bg"`
	ReferenceTf  [4]float64 `json:"tf-ref"`
}

// ParseLegacyLayout validates payload against the legacy schema and decodes it.
func ParseLegacyLayout(payload []byte) (*LegacyLayout, error) {
	schema, err := compiledLegacySchema()
	if err != nil {
		return nil, fmt.Errorf("legacy schema: %w", err)
	}
	var raw any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("legacy layout: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("legacy layout: %w", err)
	}
	var l LegacyLayout
	if err := json.Unmarshal(payload, &l); err != nil {
		return nil, fmt.Errorf("legacy layout: %w", err)
	}
	return &l, nil
}

func legacyMatrix(tf [4]float64) geometry.Matrix {
	return geometry.Similarity{Sc: tf[0], Ss: tf[1], Tx: tf[2], Ty: tf[3]}.Matrix()
}

// decodeDataURL returns the bytes of a data: URL.
func decodeDataURL(s string) ([]byte, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, fmt.Errorf("not a data URL")
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("data URL without payload")
	}
	if strings.HasSuffix(meta, ";base64") {
		return base64.StdEncoding.DecodeString(data)
	}
	decoded, err := url.PathUnescape(data)
	if err != nil {
		return nil, err
	}
	return []byte(decoded), nil
}

// ImportLegacy creates a document from a legacy layout. Both assets, the
// document and its thumbnail are written in one transaction.
func (s *DocumentService) ImportLegacy(ctx context.Context, payload []byte) (*domain.Document, error) {
	l, err := ParseLegacyLayout(payload)
	if err != nil {
		return nil, err
	}

	prepared := make([]*domain.Asset, 2)
	for i, src := range []string{l.Background, l.Reference} {
		data, err := decodeDataURL(src)
		if err != nil {
			return nil, fmt.Errorf("legacy layout image %d: %w", i, err)
		}
		if prepared[i], err = s.assets.Prepare(data); err != nil {
			return nil, fmt.Errorf("legacy layout image %d: %w", i, err)
		}
	}

	now := time.Now().UTC()
	doc := &domain.Document{
		ID:         uuid.NewString(),
		CreatedAt:  now,
		ModifiedAt: now,
	}
	err = s.backend.Update(ctx, func(tx domain.Tx) error {
		for _, a := range prepared {
			if err := s.assets.Insert(tx, a); err != nil {
				return err
			}
		}
		st := domain.InitialState()
		st.Background.Transform = legacyMatrix(l.BackgroundTf)
		st.Background.AssetID = prepared[0].ID
		st.Reference.Transform = legacyMatrix(l.ReferenceTf)
		st.Reference.AssetID = prepared[1].ID
		doc.History = []domain.DocState{st}

		if s.renderer != nil {
			layers, err := loadLayers(tx, st, nil)
			if err != nil {
				return err
			}
			if doc.Thumbnail, err = s.renderer.Thumbnail(layers...); err != nil {
				return err
			}
		}
		return tx.CreateDocument(doc)
	})
	if err != nil {
		return nil, fmt.Errorf("import legacy layout: %w", err)
	}
	s.log.InfoContext(ctx, "legacy layout imported", "document_id", doc.ID,
		"background", prepared[0].ID, "reference", prepared[1].ID)
	return doc, nil
}
