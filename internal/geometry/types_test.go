package geometry_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"doodlegrid/internal/geometry"
)

const eps = 1e-9

func TestSimilarity_ApplyInvertRoundTrip(t *testing.T) {
	tf := geometry.Similarity{Sc: 0.6, Ss: -1.3, Tx: 42, Ty: -7}
	for _, p := range []geometry.Point{
		geometry.Pt(0, 0),
		geometry.Pt(12.5, -3),
		geometry.Pt(-800, 1200),
	} {
		back, err := tf.Invert(tf.Apply(p))
		require.NoError(t, err)
		assert.InDelta(t, p.X, back.X, eps)
		assert.InDelta(t, p.Y, back.Y, eps)
	}
}

func TestSimilarity_InvertSingular(t *testing.T) {
	_, err := geometry.Similarity{Tx: 5, Ty: 5}.Invert(geometry.Pt(1, 1))
	assert.ErrorIs(t, err, geometry.ErrSingular)
}

func TestSimilarity_ZoomAboutKeepsCentre(t *testing.T) {
	tf := geometry.Similarity{Sc: 1.2, Ss: 0.4, Tx: 30, Ty: 15}
	c := geometry.Pt(200, 120)
	imagePt, err := tf.Invert(c)
	require.NoError(t, err)

	zoomed := tf.ZoomAbout(c, 1.5)
	got := zoomed.Apply(imagePt)
	assert.InDelta(t, c.X, got.X, eps)
	assert.InDelta(t, c.Y, got.Y, eps)
	assert.InDelta(t, tf.Scale()*1.5, zoomed.Scale(), eps)
}

func TestSimilarity_Scale(t *testing.T) {
	assert.Equal(t, 5.0, geometry.Similarity{Sc: 3, Ss: 4}.Scale())
	assert.Equal(t, 1.0, geometry.Identity().Scale())
}

func TestSimilarity_IsFinite(t *testing.T) {
	assert.True(t, geometry.Identity().IsFinite())
	assert.False(t, geometry.Similarity{Sc: math.NaN()}.IsFinite())
	assert.False(t, geometry.Similarity{Sc: 1, Ty: math.Inf(-1)}.IsFinite())
}

func TestMatrix_SimilarityConversion(t *testing.T) {
	tf := geometry.Similarity{Sc: 2, Ss: 1, Tx: -4, Ty: 9}
	m := tf.Matrix()
	assert.Equal(t, geometry.Matrix{2, 1, -1, 2, -4, 9}, m)

	back, ok := m.Similarity()
	require.True(t, ok)
	assert.Equal(t, tf, back)

	p := geometry.Pt(3, -2)
	assert.Equal(t, tf.Apply(p), m.Apply(p))
	assert.InDelta(t, tf.Scale(), m.Scale(), eps)
}

func TestMatrix_RejectsShear(t *testing.T) {
	_, ok := geometry.Matrix{1, 0, 0.5, 1, 0, 0}.Similarity()
	assert.False(t, ok)
	_, ok = geometry.Matrix{2, 0, 0, 1, 0, 0}.Similarity()
	assert.False(t, ok)
}

func TestMatrix_Prescale(t *testing.T) {
	m := geometry.Matrix{1, 0, 0, 1, 10, 20}.Prescale(3)
	assert.Equal(t, geometry.Pt(33, 63), m.Apply(geometry.Pt(1, 1)))
}

func TestSolveError(t *testing.T) {
	assert.NoError(t, geometry.SolveError(nil))
	assert.NoError(t, geometry.SolveError(mat.Condition(1e17)))
	assert.ErrorIs(t, geometry.SolveError(mat.Condition(math.Inf(1))), geometry.ErrSingular)
	assert.ErrorIs(t, geometry.SolveError(errors.New("boom")), geometry.ErrSingular)
}

func TestMatrix_EqualTreatsNaNAsSame(t *testing.T) {
	nan := math.NaN()
	m := geometry.Matrix{nan, 0, 0, 1, 0, 0}
	assert.True(t, m.Equal(m))
	assert.False(t, m.Equal(geometry.IdentityMatrix()))
	assert.True(t, geometry.SameFloat(0, math.Copysign(0, -1)))
	assert.False(t, geometry.SameFloat(nan, 1))
}
