package gesture_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doodlegrid/internal/geometry"
	"doodlegrid/internal/gesture"
)

func newRig() *gesture.Rig {
	r := gesture.NewRig(gesture.NewEngine(geometry.Identity()), gesture.NewEngine(geometry.Identity()))
	r.BackgroundSize = geometry.Pt(100, 100)
	r.ReferenceSize = geometry.Pt(40, 40)
	return r
}

func TestRig_DragMovesBothLayers(t *testing.T) {
	r := newRig()

	require.NoError(t, r.Start(gesture.Pointer{ID: 1, X: 10, Y: 10}))
	require.NoError(t, r.Move(gesture.Pointer{ID: 1, X: 25, Y: 5}))
	r.End(1)

	for _, e := range []*gesture.Engine{r.Background, r.Reference} {
		got := e.Transform()
		assert.InDelta(t, 15, got.Tx, eps)
		assert.InDelta(t, -5, got.Ty, eps)
		assert.Zero(t, e.Active())
	}
}

func TestRig_LockBackground(t *testing.T) {
	r := newRig()
	r.LockBackground = true

	require.NoError(t, r.Start(gesture.Pointer{ID: 1, X: 10, Y: 10}))
	require.NoError(t, r.Move(gesture.Pointer{ID: 1, X: 30, Y: 10}))
	r.Zoom(geometry.Pt(0, 0), 2)

	assert.Equal(t, geometry.Identity(), r.Background.Transform())
	assert.InDelta(t, 2, r.Reference.Scale(), eps)
}

func TestRig_EndAfterLockClearsBackground(t *testing.T) {
	r := newRig()

	require.NoError(t, r.Start(gesture.Pointer{ID: 1, X: 10, Y: 10}))
	r.LockBackground = true
	r.End(1)

	assert.Zero(t, r.Background.Active())
	assert.Zero(t, r.Reference.Active())

	// The next gesture on the background starts from a fresh anchor.
	r.LockBackground = false
	require.NoError(t, r.Start(gesture.Pointer{ID: 1, X: 50, Y: 50}))
	require.NoError(t, r.Move(gesture.Pointer{ID: 1, X: 60, Y: 50}))
	assert.InDelta(t, 10, r.Background.Transform().Tx, eps)
}

func TestRig_PivotRotatesAboutCentre(t *testing.T) {
	r := newRig()

	require.NoError(t, r.Start(gesture.Pointer{ID: 1, X: 150, Y: 50}))
	ok, err := r.Pivot(geometry.Pt(150, 50))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, r.Background.Active())

	require.NoError(t, r.Move(gesture.Pointer{ID: 1, X: 50, Y: 150}))

	assertPoint(t, geometry.Pt(50, 50), r.Background.ImageToScreen(geometry.Pt(50, 50)))
	got := r.Background.Transform()
	assert.InDelta(t, 0, got.Sc, eps)
	assert.InDelta(t, 1, got.Ss, eps)

	r.End(1)
	assert.Zero(t, r.Background.Active())
	assert.Zero(t, r.Reference.Active())
}

func TestRig_PivotSkippedNearCentre(t *testing.T) {
	r := newRig()

	ok, err := r.Pivot(geometry.Pt(60, 60))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, r.Background.Active())
}

func TestRig_PivotUsesReferenceWhenLocked(t *testing.T) {
	r := newRig()
	r.LockBackground = true

	ok, err := r.Pivot(geometry.Pt(200, 200))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Zero(t, r.Background.Active())
	assert.Equal(t, 1, r.Reference.Active())

	r.EndAll()
	assert.Zero(t, r.Reference.Active())
}

func TestWheelRatio(t *testing.T) {
	assert.InDelta(t, 0.95, gesture.WheelRatio(100), eps)
	assert.InDelta(t, 1.05, gesture.WheelRatio(-100), eps)
}
