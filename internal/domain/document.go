package domain

import "time"

// Document is a persisted editing session: its full history and cursor.
type Document struct {
	ID         string     `json:"id"`
	CreatedAt  time.Time  `json:"createdAt"`
	ModifiedAt time.Time  `json:"modifiedAt"`
	Thumbnail  []byte     `json:"-"`
	Cursor     int        `json:"cursor"`
	History    []DocState `json:"history"`
}

// Current returns the state under the cursor.
func (d *Document) Current() DocState {
	return d.History[d.Cursor]
}

// Info drops history and thumbnail bytes.
func (d *Document) Info() DocumentInfo {
	return DocumentInfo{
		ID:           d.ID,
		CreatedAt:    d.CreatedAt,
		ModifiedAt:   d.ModifiedAt,
		HasThumbnail: len(d.Thumbnail) > 0,
		Versions:     len(d.History),
	}
}

// DocumentInfo is a catalog entry.
type DocumentInfo struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	ModifiedAt   time.Time `json:"modifiedAt"`
	HasThumbnail bool      `json:"hasThumbnail"`
	Versions     int       `json:"versions"`
}
