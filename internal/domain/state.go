package domain

import (
	"fmt"

	"doodlegrid/internal/geometry"
)

// Slot names one of the two layers of a document.
type Slot string

const (
	SlotBackground Slot = "background"
	SlotReference  Slot = "reference"
)

// ParseSlot accepts "background"/"bg" and "reference"/"ref".
func ParseSlot(s string) (Slot, error) {
	switch s {
	case "background", "bg":
		return SlotBackground, nil
	case "reference", "ref":
		return SlotReference, nil
	}
	return "", fmt.Errorf("unknown slot %q", s)
}

// ImgState is one layer: where it sits, how opaque it is and which asset it shows.
type ImgState struct {
	Transform geometry.Matrix `json:"transform"`
	Alpha     float64         `json:"alpha"`
	AssetID   AssetID         `json:"assetId"` // NoAsset when empty
}

// Equal compares every field. Floats compare with geometry.SameFloat, so a
// state carrying NaN still equals itself.
func (s ImgState) Equal(other ImgState) bool {
	return s.Transform.Equal(other.Transform) &&
		geometry.SameFloat(s.Alpha, other.Alpha) &&
		s.AssetID == other.AssetID
}

// DocState is one immutable history entry. The With* helpers return copies.
type DocState struct {
	Background ImgState `json:"background"`
	Reference  ImgState `json:"reference"`
}

// InitialState is the state of a freshly created document.
func InitialState() DocState {
	return DocState{
		Background: ImgState{Transform: geometry.IdentityMatrix(), Alpha: 1},
		Reference:  ImgState{Transform: geometry.IdentityMatrix(), Alpha: 0.5},
	}
}

// Equal is the structural equality used to suppress no-op pushes.
func (s DocState) Equal(other DocState) bool {
	return s.Background.Equal(other.Background) && s.Reference.Equal(other.Reference)
}

// Layer returns the state of slot.
func (s DocState) Layer(slot Slot) ImgState {
	if slot == SlotReference {
		return s.Reference
	}
	return s.Background
}

// WithLayer returns a copy with slot replaced.
func (s DocState) WithLayer(slot Slot, img ImgState) DocState {
	if slot == SlotReference {
		s.Reference = img
	} else {
		s.Background = img
	}
	return s
}

// WithTransforms returns a copy with both transforms replaced.
func (s DocState) WithTransforms(bg, ref geometry.Matrix) DocState {
	s.Background.Transform = bg
	s.Reference.Transform = ref
	return s
}

// WithAlpha returns a copy with the alpha of slot replaced.
func (s DocState) WithAlpha(slot Slot, alpha float64) DocState {
	img := s.Layer(slot)
	img.Alpha = alpha
	return s.WithLayer(slot, img)
}

// WithAsset returns a copy with the asset of slot replaced.
func (s DocState) WithAsset(slot Slot, id AssetID) DocState {
	img := s.Layer(slot)
	img.AssetID = id
	return s.WithLayer(slot, img)
}

// Assets returns the non-null asset ids referenced by s.
func (s DocState) Assets() []AssetID {
	ids := make([]AssetID, 0, 2)
	for _, id := range []AssetID{s.Background.AssetID, s.Reference.AssetID} {
		if id != NoAsset {
			ids = append(ids, id)
		}
	}
	return ids
}
