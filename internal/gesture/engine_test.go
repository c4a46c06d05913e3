package gesture_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doodlegrid/internal/geometry"
	"doodlegrid/internal/gesture"
)

// ─────────────────────────────────────────────────────────────
// Engine
// ─────────────────────────────────────────────────────────────

func recorder(e *gesture.Engine) *[]geometry.Similarity {
	var got []geometry.Similarity
	e.Subscribe(func(t geometry.Similarity) { got = append(got, t) })
	return &got
}

func TestEngine_SingleDragRoundTrip(t *testing.T) {
	before := geometry.Similarity{Sc: 2, Ss: 0.5, Tx: 10, Ty: -3}
	e := gesture.NewEngine(before)

	start := geometry.Pt(100, 50)
	anchor, err := before.Invert(start)
	require.NoError(t, err)

	require.NoError(t, e.Start(gesture.Pointer{ID: 7, X: start.X, Y: start.Y}))
	require.NoError(t, e.Move(gesture.Pointer{ID: 7, X: 130, Y: 80}))

	assertPoint(t, geometry.Pt(130, 80), e.ImageToScreen(anchor))
	assert.InDelta(t, before.Scale(), e.Scale(), eps)
}

func TestEngine_TwoFingerRotation(t *testing.T) {
	e := gesture.NewEngine(geometry.Identity())
	events := recorder(e)

	require.NoError(t, e.Start(gesture.Pointer{ID: 1, X: 0, Y: 0}))
	require.NoError(t, e.Start(gesture.Pointer{ID: 2, X: 10, Y: 0}))
	assert.Empty(t, *events, "start does not notify")

	require.NoError(t, e.Move(gesture.Pointer{ID: 2, X: 0, Y: 10}))

	got := e.Transform()
	assert.InDelta(t, 0, got.Sc, eps)
	assert.InDelta(t, 1, got.Ss, eps)
	assert.InDelta(t, 0, got.Tx, eps)
	assert.InDelta(t, 0, got.Ty, eps)
	require.Len(t, *events, 1)
	assert.Equal(t, got, (*events)[0])
}

func TestEngine_ThirdPointerIgnoredByMath(t *testing.T) {
	e := gesture.NewEngine(geometry.Identity())

	require.NoError(t, e.Start(gesture.Pointer{ID: 1, X: 0, Y: 0}))
	require.NoError(t, e.Start(gesture.Pointer{ID: 2, X: 10, Y: 0}))
	require.NoError(t, e.Start(gesture.Pointer{ID: 3, X: 50, Y: 50}))
	assert.Equal(t, 3, e.Active())

	events := recorder(e)
	require.NoError(t, e.Move(gesture.Pointer{ID: 3, X: 400, Y: -90}))

	got := e.Transform()
	assert.InDelta(t, 1, got.Sc, eps)
	assert.InDelta(t, 0, got.Ss, eps)
	assert.InDelta(t, 0, got.Tx, eps)
	assert.InDelta(t, 0, got.Ty, eps)
	assert.Len(t, *events, 1, "move always notifies")

	e.End(1)
	require.NoError(t, e.Move(gesture.Pointer{ID: 3, X: 60, Y: 50}))
	// pointers 2 and 3 are now the active pair
	assertPoint(t, geometry.Pt(10, 0), e.ImageToScreen(geometry.Pt(10, 0)))
	assertPoint(t, geometry.Pt(60, 50), e.ImageToScreen(geometry.Pt(50, 50)))
}

func TestEngine_UnknownPointer(t *testing.T) {
	e := gesture.NewEngine(geometry.Identity())
	events := recorder(e)

	assert.NoError(t, e.Move(gesture.Pointer{ID: 42, X: 1, Y: 1}))
	e.End(42)

	assert.Empty(t, *events)
	assert.Equal(t, geometry.Identity(), e.Transform())
}

func TestEngine_DuplicateStart(t *testing.T) {
	e := gesture.NewEngine(geometry.Identity())

	require.NoError(t, e.Start(gesture.Pointer{ID: 1, X: 0, Y: 0}))
	err := e.Start(gesture.Pointer{ID: 1, X: 5, Y: 5})
	assert.ErrorIs(t, err, gesture.ErrPointerActive)
	assert.Equal(t, 1, e.Active())
}

func TestEngine_SingularMoveLeavesTransform(t *testing.T) {
	e := gesture.NewEngine(geometry.Identity())
	events := recorder(e)

	require.NoError(t, e.Start(gesture.Pointer{ID: 1, X: 5, Y: 5}))
	require.NoError(t, e.Start(gesture.Pointer{ID: 2, X: 5, Y: 5}))

	err := e.Move(gesture.Pointer{ID: 2, X: 20, Y: 20})
	assert.ErrorIs(t, err, geometry.ErrSingular)
	assert.Equal(t, geometry.Identity(), e.Transform())
	assert.Empty(t, *events)
}

func TestEngine_StartOnDegenerateTransform(t *testing.T) {
	e := gesture.NewEngine(geometry.Similarity{})

	err := e.Start(gesture.Pointer{ID: 1, X: 5, Y: 5})
	assert.ErrorIs(t, err, geometry.ErrSingular)
	assert.Zero(t, e.Active())

	_, err = e.ScreenToImage(geometry.Pt(1, 1))
	assert.ErrorIs(t, err, geometry.ErrSingular)
}

func TestEngine_ZoomFixesCentre(t *testing.T) {
	e := gesture.NewEngine(geometry.Similarity{Sc: 1.2, Ss: -0.4, Tx: 30, Ty: 12})
	events := recorder(e)
	centre := geometry.Pt(320, 240)

	img, err := e.ScreenToImage(centre)
	require.NoError(t, err)
	before := e.Scale()

	e.Zoom(centre, 1.25)

	assertPoint(t, centre, e.ImageToScreen(img))
	assert.InDelta(t, before*1.25, e.Scale(), eps)
	assert.Len(t, *events, 1)
}

func TestEngine_SetTransformNotifies(t *testing.T) {
	e := gesture.NewEngine(geometry.Identity())
	events := recorder(e)

	next := geometry.Similarity{Sc: 0, Ss: 2, Tx: 1, Ty: 1}
	e.SetTransform(next)

	assert.Equal(t, next, e.Transform())
	assert.Equal(t, []geometry.Similarity{next}, *events)
}

func TestEngine_Unsubscribe(t *testing.T) {
	e := gesture.NewEngine(geometry.Identity())
	calls := 0
	cancel := e.Subscribe(func(geometry.Similarity) { calls++ })

	e.Zoom(geometry.Pt(0, 0), 2)
	cancel()
	e.Zoom(geometry.Pt(0, 0), 2)

	assert.Equal(t, 1, calls)
}

func TestEngine_NonFiniteInputPropagates(t *testing.T) {
	e := gesture.NewEngine(geometry.Identity())

	require.NoError(t, e.Start(gesture.Pointer{ID: 1, X: 0, Y: 0}))
	require.NoError(t, e.Move(gesture.Pointer{ID: 1, X: math.Inf(1), Y: 0}))

	assert.False(t, e.Transform().IsFinite())
}
