package autodiff

import (
	"fmt"
	"math"
)

// Sequence ops work on [B, T, C] tensors (batch, time, channels).

func seqDims(x *Tensor, op string) (B, T, C int) {
	if len(x.Shape) != 3 {
		panic(fmt.Sprintf("autodiff: %s wants [B,T,C], got %v", op, x.Shape))
	}
	return x.Shape[0], x.Shape[1], x.Shape[2]
}

// CausalWindow gathers, for every step t, the k frames t-k+1..t into one
// vector of k·C values, zero-filling steps before the start. Followed by
// Linear it is a causal 1-D convolution with kernel size k.
func (tp *Tape) CausalWindow(x *Tensor, k int) *Tensor {
	B, T, C := seqDims(x, "CausalWindow")
	W := k * C
	y, track := tp.out([]int{B, T, W}, x)
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			dst := y.Data[(b*T+t)*W : (b*T+t+1)*W]
			for j := 0; j < k; j++ {
				src := t - (k - 1) + j
				if src < 0 {
					continue
				}
				copy(dst[j*C:(j+1)*C], x.Data[(b*T+src)*C:(b*T+src+1)*C])
			}
		}
	}
	if track {
		tp.push(func() {
			for b := 0; b < B; b++ {
				for t := 0; t < T; t++ {
					g := y.Grad[(b*T+t)*W : (b*T+t+1)*W]
					for j := 0; j < k; j++ {
						src := t - (k - 1) + j
						if src < 0 {
							continue
						}
						dx := x.Grad[(b*T+src)*C : (b*T+src+1)*C]
						for c := range dx {
							dx[c] += g[j*C+c]
						}
					}
				}
			}
		})
	}
	return y
}

// PooledLen returns the output length of a valid max-pool over n steps.
func PooledLen(n, pool, stride int) int {
	if n < pool {
		return 0
	}
	return (n-pool)/stride + 1
}

// MaxPool takes the maximum over windows of pool steps advanced by stride
// (valid padding) independently per channel.
func (tp *Tape) MaxPool(x *Tensor, pool, stride int) *Tensor {
	B, T, C := seqDims(x, "MaxPool")
	To := PooledLen(T, pool, stride)
	if To == 0 {
		panic(fmt.Sprintf("autodiff: MaxPool(%d) over %d steps", pool, T))
	}
	y, track := tp.out([]int{B, To, C}, x)
	argmax := make([]int, y.Size())
	for b := 0; b < B; b++ {
		for o := 0; o < To; o++ {
			for c := 0; c < C; c++ {
				best := math.Inf(-1)
				bestIdx := 0
				for p := 0; p < pool; p++ {
					idx := (b*T+o*stride+p)*C + c
					if x.Data[idx] > best {
						best = x.Data[idx]
						bestIdx = idx
					}
				}
				oi := (b*To+o)*C + c
				y.Data[oi] = best
				argmax[oi] = bestIdx
			}
		}
	}
	if track {
		tp.push(func() {
			for oi, g := range y.Grad {
				x.Grad[argmax[oi]] += g
			}
		})
	}
	return y
}

// MeanTime averages over the time axis: [B, T, C] -> [B, C].
func (tp *Tape) MeanTime(x *Tensor) *Tensor {
	B, T, C := seqDims(x, "MeanTime")
	y, track := tp.out([]int{B, C}, x)
	inv := 1.0 / float64(T)
	for b := 0; b < B; b++ {
		dst := y.Data[b*C : (b+1)*C]
		for t := 0; t < T; t++ {
			src := x.Data[(b*T+t)*C : (b*T+t+1)*C]
			for c, v := range src {
				dst[c] += v * inv
			}
		}
	}
	if track {
		tp.push(func() {
			for b := 0; b < B; b++ {
				g := y.Grad[b*C : (b+1)*C]
				for t := 0; t < T; t++ {
					dx := x.Grad[(b*T+t)*C : (b*T+t+1)*C]
					for c := range dx {
						dx[c] += g[c] * inv
					}
				}
			}
		})
	}
	return y
}

// Attention is multi-head scaled dot-product self-attention.
// q, k, v: [B, T, D] with D divisible by heads; head h owns channels
// h·D/heads..(h+1)·D/heads. The [T, T] weight matrices are recomputed in
// the backward pass rather than kept for every batch and head.
func (tp *Tape) Attention(q, k, v *Tensor, heads int) *Tensor {
	B, T, D := seqDims(q, "Attention")
	if k.Size() != q.Size() || v.Size() != q.Size() {
		panic(fmt.Sprintf("autodiff: Attention shapes %v %v %v", q.Shape, k.Shape, v.Shape))
	}
	if heads <= 0 || D%heads != 0 {
		panic(fmt.Sprintf("autodiff: %d heads do not divide width %d", heads, D))
	}
	dh := D / heads
	scale := 1.0 / math.Sqrt(float64(dh))
	y, track := tp.out(q.Shape, q, k, v)

	A := make([]float64, T*T)
	for b := 0; b < B; b++ {
		base := b * T * D
		for h := 0; h < heads; h++ {
			off := base + h*dh
			attnWeights(q.Data, k.Data, off, T, D, dh, scale, A)
			for i := 0; i < T; i++ {
				dst := y.Data[off+i*D : off+i*D+dh]
				for j := 0; j < T; j++ {
					a := A[i*T+j]
					src := v.Data[off+j*D : off+j*D+dh]
					for d, vv := range src {
						dst[d] += a * vv
					}
				}
			}
		}
	}

	if track {
		tp.push(func() {
			A := make([]float64, T*T)
			dA := make([]float64, T*T)
			for b := 0; b < B; b++ {
				base := b * T * D
				for h := 0; h < heads; h++ {
					off := base + h*dh
					attnWeights(q.Data, k.Data, off, T, D, dh, scale, A)
					for i := 0; i < T; i++ {
						g := y.Grad[off+i*D : off+i*D+dh]
						for j := 0; j < T; j++ {
							vr := v.Data[off+j*D : off+j*D+dh]
							s := 0.0
							for d, gv := range g {
								s += gv * vr[d]
							}
							dA[i*T+j] = s
							if tp.tracks(v) {
								a := A[i*T+j]
								dv := v.Grad[off+j*D : off+j*D+dh]
								for d, gv := range g {
									dv[d] += a * gv
								}
							}
						}
					}
					if !tp.tracks(q) && !tp.tracks(k) {
						continue
					}
					for i := 0; i < T; i++ {
						row := A[i*T : (i+1)*T]
						drow := dA[i*T : (i+1)*T]
						dot := 0.0
						for j, a := range row {
							dot += a * drow[j]
						}
						qi := q.Data[off+i*D : off+i*D+dh]
						for j, a := range row {
							ds := a * (drow[j] - dot) * scale
							if ds == 0 {
								continue
							}
							kj := k.Data[off+j*D : off+j*D+dh]
							if tp.tracks(q) {
								dq := q.Grad[off+i*D : off+i*D+dh]
								for d, kv := range kj {
									dq[d] += ds * kv
								}
							}
							if tp.tracks(k) {
								dk := k.Grad[off+j*D : off+j*D+dh]
								for d, qv := range qi {
									dk[d] += ds * qv
								}
							}
						}
					}
				}
			}
		})
	}
	return y
}

// attnWeights fills A[i*T+j] = softmax_j(q_i·k_j·scale) for one batch item and head.
func attnWeights(q, k []float64, off, T, D, dh int, scale float64, A []float64) {
	for i := 0; i < T; i++ {
		qi := q[off+i*D : off+i*D+dh]
		row := A[i*T : (i+1)*T]
		for j := 0; j < T; j++ {
			kj := k[off+j*D : off+j*D+dh]
			s := 0.0
			for d, qv := range qi {
				s += qv * kj[d]
			}
			row[j] = s * scale
		}
		softmaxRow(row, row)
	}
}
