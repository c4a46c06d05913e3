package gesture

import (
	"errors"

	"doodlegrid/internal/geometry"
)

// PseudoPointerID is the id used for the synthetic pivot pointer.
const PseudoPointerID = -1

// PivotMinDistance is how close (in screen pixels) a real pointer may get to
// the pivot before the pivot is skipped.
const PivotMinDistance = 50.0

// Rig drives the background and reference engines from a single stream of
// pointer samples.
type Rig struct {
	Background *Engine
	Reference  *Engine

	// BackgroundSize and ReferenceSize are the image dimensions in image
	// space. The pivot is placed at the centre of the moving layer.
	BackgroundSize geometry.Point
	ReferenceSize  geometry.Point

	// LockBackground pins the background; only the reference follows input.
	LockBackground bool
}

// NewRig returns a rig over the two engines with both layers unlocked.
func NewRig(background, reference *Engine) *Rig {
	return &Rig{Background: background, Reference: reference}
}

func (r *Rig) engines() []*Engine {
	if r.LockBackground {
		return []*Engine{r.Reference}
	}
	return []*Engine{r.Background, r.Reference}
}

// Start begins tracking p on every moving layer.
func (r *Rig) Start(p Pointer) error {
	var errs []error
	for _, e := range r.engines() {
		if err := e.Start(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pivot starts a pseudo pointer at the centre of the leading moving layer so
// a single real pointer can rotate and scale. It reports false when the real
// pointer at near is too close to the centre for a stable solve.
func (r *Rig) Pivot(near geometry.Point) (bool, error) {
	lead, size := r.Background, r.BackgroundSize
	if r.LockBackground {
		lead, size = r.Reference, r.ReferenceSize
	}

	centre := lead.ImageToScreen(geometry.Pt(size.X/2, size.Y/2))
	if centre.Distance(near) < PivotMinDistance {
		return false, nil
	}

	pseudo := Pointer{ID: PseudoPointerID, X: centre.X, Y: centre.Y}
	var errs []error
	for _, e := range r.engines() {
		e.End(PseudoPointerID)
		if err := e.Start(pseudo); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return false, err
	}
	return true, nil
}

// Move forwards p to every moving layer.
func (r *Rig) Move(p Pointer) error {
	var errs []error
	for _, e := range r.engines() {
		if err := e.Move(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// End stops tracking id and any pivot on both layers, including one that was
// locked after the pointer went down.
func (r *Rig) End(id int) {
	for _, e := range []*Engine{r.Background, r.Reference} {
		e.End(id)
		e.End(PseudoPointerID)
	}
}

// EndAll drops every pointer on both layers.
func (r *Rig) EndAll() {
	r.Background.Reset()
	r.Reference.Reset()
}

// Zoom scales every moving layer about centre.
func (r *Rig) Zoom(centre geometry.Point, ratio float64) {
	for _, e := range r.engines() {
		e.Zoom(centre, ratio)
	}
}

// WheelRatio converts a wheel delta to a zoom ratio.
func WheelRatio(deltaY float64) float64 {
	return 1.0 - deltaY/2000
}
