package gesture

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"doodlegrid/internal/geometry"
)

// Correspondence pairs an image-space anchor with the screen position it must
// land on.
type Correspondence struct {
	Start geometry.Point
	End   geometry.Point
}

// SolveTranslation keeps the linear part of current and solves only for the
// translation that maps c.Start onto c.End.
func SolveTranslation(current geometry.Similarity, c Correspondence) geometry.Similarity {
	return geometry.Similarity{
		Sc: current.Sc,
		Ss: current.Ss,
		Tx: c.End.X - (current.Sc*c.Start.X - current.Ss*c.Start.Y),
		Ty: c.End.Y - (current.Ss*c.Start.X + current.Sc*c.Start.Y),
	}
}

// SolveSimilarity returns the unique similarity transform mapping a.Start to
// a.End and b.Start to b.End. Coincident start points yield ErrSingular.
func SolveSimilarity(a, b Correspondence) (geometry.Similarity, error) {
	if a.Start == b.Start {
		return geometry.Similarity{}, geometry.ErrSingular
	}

	// Unknowns: [sc, ss, tx, ty]
	A := mat.NewDense(4, 4, []float64{
		a.Start.X, -a.Start.Y, 1, 0,
		a.Start.Y, a.Start.X, 0, 1,
		b.Start.X, -b.Start.Y, 1, 0,
		b.Start.Y, b.Start.X, 0, 1,
	})
	B := mat.NewVecDense(4, []float64{a.End.X, a.End.Y, b.End.X, b.End.Y})

	var params mat.VecDense
	if err := geometry.SolveError(params.SolveVec(A, B)); err != nil {
		return geometry.Similarity{}, fmt.Errorf("solve correspondences: %w", err)
	}

	return geometry.Similarity{
		Sc: params.AtVec(0),
		Ss: params.AtVec(1),
		Tx: params.AtVec(2),
		Ty: params.AtVec(3),
	}, nil
}
