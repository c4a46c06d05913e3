package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bep/debounce"

	"doodlegrid/internal/domain"
	"doodlegrid/internal/geometry"
	"doodlegrid/internal/gesture"
)

// Gestures binds a gesture.Rig to an open session. Pointer input moves the
// engines immediately; the resulting transforms are pushed to history once
// input has been quiet for the session's debounce interval, so a whole drag
// is one undo step.
//
// Changes that reach the session from elsewhere (undo, redo, a direct
// PushTransforms) are copied back into the engines and cancel any pointers
// still down.
type Gestures struct {
	sess     *Session
	schedule func(func())

	mu  sync.Mutex
	rig *gesture.Rig

	pending atomic.Bool
	syncing atomic.Bool
	closed  atomic.Bool
	unsubs  []func()
}

func newGestures(s *Session, st domain.DocState, quiet time.Duration) *Gestures {
	g := &Gestures{
		sess:     s,
		schedule: debounce.New(quiet),
		rig: gesture.NewRig(
			gesture.NewEngine(similarityOf(st.Background.Transform)),
			gesture.NewEngine(similarityOf(st.Reference.Transform)),
		),
	}
	for _, e := range []*gesture.Engine{g.rig.Background, g.rig.Reference} {
		g.unsubs = append(g.unsubs, e.Subscribe(g.changed))
	}
	return g
}

// similarityOf seeds an engine from a stored matrix. Matrices that are not a
// similarity keep their first column and translation.
func similarityOf(m geometry.Matrix) geometry.Similarity {
	if t, ok := m.Similarity(); ok {
		return t
	}
	return geometry.Similarity{Sc: m[0], Ss: m[1], Tx: m[4], Ty: m[5]}
}

func (g *Gestures) changed(geometry.Similarity) {
	if g.syncing.Load() || g.closed.Load() {
		return
	}
	g.pending.Store(true)
	g.schedule(g.commitDebounced)
}

func (g *Gestures) commitDebounced() {
	if _, err := g.Commit(); err != nil {
		g.sess.log.Warn("gesture not saved", "err", err)
	}
}

// Start puts a pointer down on every moving layer.
func (g *Gestures) Start(p gesture.Pointer) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed.Load() {
		return domain.ErrSessionClosed
	}
	return g.rig.Start(p)
}

// Move updates a pointer that is down.
func (g *Gestures) Move(p gesture.Pointer) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed.Load() {
		return domain.ErrSessionClosed
	}
	return g.rig.Move(p)
}

// End lifts a pointer and the pivot.
func (g *Gestures) End(id int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rig.End(id)
}

// Zoom scales the moving layers about centre.
func (g *Gestures) Zoom(centre geometry.Point, ratio float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed.Load() {
		return domain.ErrSessionClosed
	}
	g.rig.Zoom(centre, ratio)
	return nil
}

// Pivot adds the synthetic pointer at the centre of the leading layer so a
// single pointer near will rotate and scale. It reports false when the
// leading layer has no image or near is too close to its centre.
func (g *Gestures) Pivot(ctx context.Context, near geometry.Point) (bool, error) {
	g.mu.Lock()
	slot := domain.SlotBackground
	if g.rig.LockBackground {
		slot = domain.SlotReference
	}
	g.mu.Unlock()

	id := g.sess.Current().Layer(slot).AssetID
	if id == domain.NoAsset {
		return false, nil
	}
	a, err := g.sess.assets.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("pivot on %s: %w", slot, err)
	}
	size := geometry.Pt(float64(a.Width), float64(a.Height))

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed.Load() {
		return false, domain.ErrSessionClosed
	}
	if slot == domain.SlotReference {
		g.rig.ReferenceSize = size
	} else {
		g.rig.BackgroundSize = size
	}
	return g.rig.Pivot(near)
}

// SetLockBackground pins or releases the background layer. Pointers already
// down are dropped.
func (g *Gestures) SetLockBackground(locked bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rig.LockBackground == locked {
		return
	}
	g.rig.EndAll()
	g.rig.LockBackground = locked
}

// LockBackground reports whether the background is pinned.
func (g *Gestures) LockBackground() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rig.LockBackground
}

// Transforms returns the live transforms of both layers.
func (g *Gestures) Transforms() (bg, ref geometry.Similarity) {
	return g.rig.Background.Transform(), g.rig.Reference.Transform()
}

// Pending reports whether pointer input has not been pushed to history yet.
func (g *Gestures) Pending() bool {
	return g.pending.Load()
}

// Commit pushes the live transforms now instead of waiting for input to go
// quiet. Returns whether history changed; a gesture that ends where it
// started adds nothing.
func (g *Gestures) Commit() (bool, error) {
	if !g.pending.Swap(false) {
		return false, nil
	}
	g.mu.Lock()
	bg, ref := g.Transforms()
	g.mu.Unlock()
	return g.sess.pushTransformsFrom(g, bg.Matrix(), ref.Matrix())
}

// follow moves the engines to st without pushing it back.
func (g *Gestures) follow(st domain.DocState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	bg, ref := g.Transforms()
	if bg.Matrix().Equal(st.Background.Transform) && ref.Matrix().Equal(st.Reference.Transform) {
		return
	}
	g.syncing.Store(true)
	g.rig.EndAll()
	g.rig.Background.SetTransform(similarityOf(st.Background.Transform))
	g.rig.Reference.SetTransform(similarityOf(st.Reference.Transform))
	g.syncing.Store(false)
	g.pending.Store(false)
}

func (g *Gestures) stop() {
	if g.closed.Swap(true) {
		return
	}
	for _, unsub := range g.unsubs {
		unsub()
	}
}
