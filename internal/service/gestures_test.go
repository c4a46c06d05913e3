package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doodlegrid/internal/domain"
	"doodlegrid/internal/geometry"
	"doodlegrid/internal/gesture"
	"doodlegrid/internal/service"
)

func translation(x, y float64) geometry.Matrix {
	return geometry.Matrix{1, 0, 0, 1, x, y}
}

func drag(t *testing.T, g *service.Gestures, path ...geometry.Point) {
	t.Helper()
	require.NoError(t, g.Start(gesture.Pointer{X: path[0].X, Y: path[0].Y}))
	for _, p := range path[1:] {
		require.NoError(t, g.Move(gesture.Pointer{X: p.X, Y: p.Y}))
	}
	g.End(0)
}

func TestGestures_DragIsOneHistoryStep(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	sess := f.open(t)
	g, err := sess.Gestures()
	require.NoError(t, err)

	drag(t, g, geometry.Pt(0, 0), geometry.Pt(5, 0), geometry.Pt(10, 2), geometry.Pt(30, 40))
	assert.Equal(t, 1, sess.Snapshot().Versions, "nothing is pushed while input is live")

	require.Eventually(t, func() bool {
		return sess.Snapshot().Versions == 2 && !g.Pending()
	}, 2*time.Second, 10*time.Millisecond)

	cur := sess.Current()
	assert.True(t, cur.Background.Transform.Equal(translation(30, 40)), "%v", cur.Background.Transform)
	assert.True(t, cur.Reference.Transform.Equal(translation(30, 40)), "%v", cur.Reference.Transform)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, sess.Snapshot().Versions)
}

func TestGestures_ReturnToStartAddsNothing(t *testing.T) {
	f := newFixture(t, manual)
	sess := f.open(t)
	g, err := sess.Gestures()
	require.NoError(t, err)

	drag(t, g, geometry.Pt(3, 3), geometry.Pt(13, 23), geometry.Pt(3, 3))
	assert.True(t, g.Pending())

	changed, err := g.Commit()
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, g.Pending())
	assert.Equal(t, 1, sess.Snapshot().Versions)
	assert.False(t, sess.Dirty())
}

func TestGestures_UndoMovesEnginesBack(t *testing.T) {
	f := newFixture(t, manual)
	sess := f.open(t)
	g, err := sess.Gestures()
	require.NoError(t, err)

	drag(t, g, geometry.Pt(0, 0), geometry.Pt(10, 0))
	changed, err := g.Commit()
	require.NoError(t, err)
	require.True(t, changed)

	ok, err := sess.Undo()
	require.NoError(t, err)
	require.True(t, ok)
	bg, ref := g.Transforms()
	assert.True(t, bg.Matrix().Equal(geometry.IdentityMatrix()))
	assert.True(t, ref.Matrix().Equal(geometry.IdentityMatrix()))
	assert.False(t, g.Pending(), "following undo is not new input")

	snap := sess.Snapshot()
	assert.Equal(t, 0, snap.Cursor)
	assert.Equal(t, 2, snap.Versions)

	ok, err = sess.Redo()
	require.NoError(t, err)
	require.True(t, ok)
	bg, _ = g.Transforms()
	assert.True(t, bg.Matrix().Equal(translation(10, 0)))
	assert.Equal(t, 2, sess.Snapshot().Versions)
}

func TestGestures_UndoCommitsPendingDrag(t *testing.T) {
	f := newFixture(t, manual)
	sess := f.open(t)
	g, err := sess.Gestures()
	require.NoError(t, err)

	drag(t, g, geometry.Pt(0, 0), geometry.Pt(0, 8))
	ok, err := sess.Undo()
	require.NoError(t, err)
	require.True(t, ok)

	snap := sess.Snapshot()
	assert.Equal(t, 2, snap.Versions)
	assert.Equal(t, 0, snap.Cursor)
	bg, _ := g.Transforms()
	assert.True(t, bg.Matrix().Equal(geometry.IdentityMatrix()))
}

func TestGestures_SeededFromCurrentState(t *testing.T) {
	f := newFixture(t, manual)
	sess := f.open(t)
	ref := geometry.Matrix{2, 0, 0, 2, 5, 5}
	_, err := sess.PushTransforms(geometry.IdentityMatrix(), ref)
	require.NoError(t, err)

	g, err := sess.Gestures()
	require.NoError(t, err)
	_, got := g.Transforms()
	assert.True(t, got.Matrix().Equal(ref))

	_, err = sess.PushTransforms(translation(1, 1), ref)
	require.NoError(t, err)
	bg, _ := g.Transforms()
	assert.True(t, bg.Matrix().Equal(translation(1, 1)), "direct pushes are followed")
	assert.False(t, g.Pending())
	assert.Equal(t, 3, sess.Snapshot().Versions)
}

func TestGestures_LockBackground(t *testing.T) {
	f := newFixture(t, manual)
	sess := f.open(t)
	g, err := sess.Gestures()
	require.NoError(t, err)

	g.SetLockBackground(true)
	drag(t, g, geometry.Pt(0, 0), geometry.Pt(6, 4))
	_, err = g.Commit()
	require.NoError(t, err)

	cur := sess.Current()
	assert.True(t, cur.Background.Transform.Equal(geometry.IdentityMatrix()))
	assert.True(t, cur.Reference.Transform.Equal(translation(6, 4)))
}

func TestGestures_PivotNeedsImage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, manual)
	sess := f.open(t)
	g, err := sess.Gestures()
	require.NoError(t, err)

	ok, err := g.Pivot(ctx, geometry.Pt(100, 100))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = sess.UploadAsset(ctx, redPNG(t), domain.SlotBackground)
	require.NoError(t, err)
	ok, err = g.Pivot(ctx, geometry.Pt(100, 100))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Pivot(ctx, geometry.Pt(5, 5))
	require.NoError(t, err)
	assert.False(t, ok, "too close to the centre")
}

func TestGestures_CloseSavesPendingDrag(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, manual)
	sess := f.open(t)
	g, err := sess.Gestures()
	require.NoError(t, err)

	drag(t, g, geometry.Pt(0, 0), geometry.Pt(7, 0))
	require.NoError(t, f.docs.CloseDocument(ctx, sess.ID()))

	doc, err := f.docs.Get(ctx, sess.ID())
	require.NoError(t, err)
	assert.Len(t, doc.History, 2)
	assert.True(t, doc.Current().Background.Transform.Equal(translation(7, 0)))

	_, err = sess.Gestures()
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
	assert.ErrorIs(t, g.Start(gesture.Pointer{}), domain.ErrSessionClosed)
}
