//go:build !darwin || !cgo

package blas

import (
	gblas "gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
)

// Dgemm performs C = alpha*op(A)*op(B) + beta*C through gonum's native BLAS.
// All matrices are row-major. op(X) = X if trans=false, X^T if trans=true.
// A is (m x k) or (k x m) if transA, B is (k x n) or (n x k) if transB, C is (m x n).
func Dgemm(transA, transB bool, m, n, k int,
	alpha float64, a []float64, lda int,
	b []float64, ldb int,
	beta float64, c []float64, ldc int) {

	if m == 0 || n == 0 {
		return
	}
	ta, aRows, aCols := gblas.NoTrans, m, k
	if transA {
		ta, aRows, aCols = gblas.Trans, k, m
	}
	tb, bRows, bCols := gblas.NoTrans, k, n
	if transB {
		tb, bRows, bCols = gblas.Trans, n, k
	}
	blas64.Gemm(ta, tb, alpha,
		blas64.General{Rows: aRows, Cols: aCols, Data: a, Stride: lda},
		blas64.General{Rows: bRows, Cols: bCols, Data: b, Stride: ldb},
		beta,
		blas64.General{Rows: m, Cols: n, Data: c, Stride: ldc})
}

// HasAccelerate returns false on non-darwin platforms.
func HasAccelerate() bool { return false }
