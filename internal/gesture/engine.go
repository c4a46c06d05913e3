// Package gesture converts normalized pointer samples into similarity
// transforms for one positioned layer.
package gesture

import (
	"errors"
	"fmt"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"doodlegrid/internal/geometry"
)

// ErrPointerActive is returned by Start for an id that is already tracked.
var ErrPointerActive = errors.New("pointer already active")

// Pointer is a normalized pointer/touch sample in screen space.
type Pointer struct {
	ID int     `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// Point returns the sample position.
func (p Pointer) Point() geometry.Point {
	return geometry.Point{X: p.X, Y: p.Y}
}

// activePointer pins an image-space anchor to the pointer's latest screen position.
type activePointer struct {
	anchor geometry.Point
	screen geometry.Point
}

// Listener is invoked with the new transform after every recompute.
type Listener func(geometry.Similarity)

type subscription struct {
	id int
	fn Listener
}

// Engine tracks the active pointers over one layer and keeps its transform.
// Non-finite coordinates are not validated; they propagate into the transform.
type Engine struct {
	mu        sync.Mutex
	pointers  *orderedmap.OrderedMap[int, *activePointer]
	transform geometry.Similarity

	subs   []subscription
	nextID int
}

// NewEngine creates an Engine starting at the given transform.
func NewEngine(initial geometry.Similarity) *Engine {
	return &Engine{
		pointers:  orderedmap.New[int, *activePointer](),
		transform: initial,
	}
}

// Subscribe registers l for transform-changed events. The returned func
// removes the subscription.
func (e *Engine) Subscribe(l Listener) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.subs = append(e.subs, subscription{id: id, fn: l})
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.subs {
			if s.id == id {
				e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
				return
			}
		}
	}
}

// Transform returns the current transform.
func (e *Engine) Transform() geometry.Similarity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transform
}

// SetTransform replaces the transform (undo/redo, initial load) and notifies.
func (e *Engine) SetTransform(t geometry.Similarity) {
	e.mu.Lock()
	e.transform = t
	e.mu.Unlock()
	e.notify(t)
}

// Start begins tracking p, anchoring it at the image point currently under it.
func (e *Engine) Start(p Pointer) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.pointers.Get(p.ID); ok {
		return fmt.Errorf("start pointer %d: %w", p.ID, ErrPointerActive)
	}
	anchor, err := e.transform.Invert(p.Point())
	if err != nil {
		return fmt.Errorf("start pointer %d: %w", p.ID, err)
	}
	e.pointers.Set(p.ID, &activePointer{anchor: anchor, screen: p.Point()})
	return nil
}

// Move records the new screen position of a tracked pointer and recomputes the
// transform. Unknown ids are ignored. If the recompute is singular the
// transform is left untouched and the error is returned.
func (e *Engine) Move(p Pointer) error {
	e.mu.Lock()
	ap, ok := e.pointers.Get(p.ID)
	if !ok {
		e.mu.Unlock()
		return nil
	}
	ap.screen = p.Point()
	err := e.recomputeLocked()
	t := e.transform
	e.mu.Unlock()

	if err != nil {
		return fmt.Errorf("move pointer %d: %w", p.ID, err)
	}
	e.notify(t)
	return nil
}

// End stops tracking the pointer. Unknown ids are ignored.
func (e *Engine) End(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pointers.Delete(id)
}

// Reset drops every tracked pointer.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pointers = orderedmap.New[int, *activePointer]()
}

// Active returns the number of tracked pointers.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pointers.Len()
}

// Zoom scales the transform by ratio about the screen point center and notifies.
func (e *Engine) Zoom(center geometry.Point, ratio float64) {
	e.mu.Lock()
	e.transform = e.transform.ZoomAbout(center, ratio)
	t := e.transform
	e.mu.Unlock()
	e.notify(t)
}

// Scale returns the uniform scale factor of the transform.
func (e *Engine) Scale() float64 {
	return e.Transform().Scale()
}

// ImageToScreen maps an image-space point to screen space.
func (e *Engine) ImageToScreen(p geometry.Point) geometry.Point {
	return e.Transform().Apply(p)
}

// ScreenToImage maps a screen-space point to image space.
func (e *Engine) ScreenToImage(p geometry.Point) (geometry.Point, error) {
	return e.Transform().Invert(p)
}

func (e *Engine) recomputeLocked() error {
	first := e.pointers.Oldest()
	if first == nil {
		return nil
	}
	second := first.Next()
	if second == nil {
		e.transform = SolveTranslation(e.transform, Correspondence{
			Start: first.Value.anchor,
			End:   first.Value.screen,
		})
		return nil
	}

	// Extra pointers beyond the two oldest are tracked but ignored.
	t, err := SolveSimilarity(
		Correspondence{Start: first.Value.anchor, End: first.Value.screen},
		Correspondence{Start: second.Value.anchor, End: second.Value.screen},
	)
	if err != nil {
		return err
	}
	e.transform = t
	return nil
}

func (e *Engine) notify(t geometry.Similarity) {
	e.mu.Lock()
	subs := make([]subscription, len(e.subs))
	copy(subs, e.subs)
	e.mu.Unlock()

	for _, s := range subs {
		s.fn(t)
	}
}
