package domain

import (
	"strconv"
	"time"
)

// AssetID identifies an image blob. Ids are assigned by the backend, strictly
// increasing and never reused.
type AssetID int64

// NoAsset marks an empty slot.
const NoAsset AssetID = 0

// ParseAssetID parses the decimal form used in URLs and CLI arguments.
func ParseAssetID(s string) (AssetID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return NoAsset, err
	}
	return AssetID(n), nil
}

func (id AssetID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Asset is a stored image with its reference count.
type Asset struct {
	ID        AssetID   `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Refcount  int64     `json:"refcount"`
	MediaType string    `json:"mediaType"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Data      []byte    `json:"-"`
}

// Info drops the blob.
func (a *Asset) Info() AssetInfo {
	return AssetInfo{
		ID:        a.ID,
		CreatedAt: a.CreatedAt,
		Refcount:  a.Refcount,
		MediaType: a.MediaType,
		Width:     a.Width,
		Height:    a.Height,
		Size:      int64(len(a.Data)),
	}
}

// AssetInfo is an asset record without its bytes.
type AssetInfo struct {
	ID        AssetID   `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Refcount  int64     `json:"refcount"`
	MediaType string    `json:"mediaType"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Size      int64     `json:"size"`
}
