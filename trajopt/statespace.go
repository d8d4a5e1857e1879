package trajopt

import (
	"gonum.org/v1/gonum/mat"
)

// mptMatrix unrolls the discretized state equation over the horizon so that
// the stacked state is an affine function of the decision vector:
//
//	Xex = Bex*U + Wex
//
// where U is [x0; u0; u1; ...] with x0 the initial state.
type mptMatrix struct {
	bex *mat.Dense
	wex *mat.VecDense
}

// generateMPTMatrix chains the per-segment state equation matrices. The
// curvature entering segment i is taken at point i-1 and the arc step at
// point i.
func (o *Optimizer) generateMPTMatrix(refPoints []ReferencePoint) *mptMatrix {
	n := len(refPoints)
	dimX := o.model.StateDim()
	dimU := o.model.InputDim()
	dimV := dimX + dimU*(n-1)

	bex := mat.NewDense(dimX*n, dimV, nil)
	wex := mat.NewVecDense(dimX*n, nil)

	ad := mat.NewDense(dimX, dimX, nil)
	bd := mat.NewDense(dimX, dimU, nil)
	wd := mat.NewDense(dimX, 1, nil)

	blockX := mat.NewDense(dimX, dimX, nil)
	blockU := mat.NewDense(dimX, dimU, nil)

	for j := 0; j < dimX; j++ {
		bex.Set(j, j, 1)
	}

	for i := 1; i < n; i++ {
		ds := refPoints[i].DeltaArcLength
		curvature := refPoints[i-1].Curvature
		o.model.StateEquation(curvature, ds, ad, bd, wd)

		rowPrev := (i - 1) * dimX
		row := i * dimX

		// initial-state columns
		blockX.Mul(ad, bex.Slice(rowPrev, rowPrev+dimX, 0, dimX))
		bex.Slice(row, row+dimX, 0, dimX).(*mat.Dense).Copy(blockX)

		// earlier inputs propagate through Ad
		for j := 0; j < i-1; j++ {
			col := dimX + j*dimU
			blockU.Mul(ad, bex.Slice(rowPrev, rowPrev+dimX, col, col+dimU))
			bex.Slice(row, row+dimX, col, col+dimU).(*mat.Dense).Copy(blockU)
		}

		// this segment's input
		col := dimX + (i-1)*dimU
		bex.Slice(row, row+dimX, col, col+dimU).(*mat.Dense).Copy(bd)

		for r := 0; r < dimX; r++ {
			sum := wd.At(r, 0)
			for c := 0; c < dimX; c++ {
				sum += ad.At(r, c) * wex.AtVec(rowPrev+c)
			}
			wex.SetVec(row+r, sum)
		}
	}

	return &mptMatrix{bex: bex, wex: wex}
}
