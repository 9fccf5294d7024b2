// Package crossval repeats training runs over K-fold partitions and
// hyperparameter grids and collects their results.
package crossval

import (
	"fmt"

	"github.com/ieee0824/vatformer/dataset"
	"github.com/ieee0824/vatformer/train"
)

// Range is the half-open example range [Lo, Hi).
type Range struct {
	Lo, Hi int
}

// Len returns Hi - Lo.
func (r Range) Len() int { return r.Hi - r.Lo }

// KFold splits n examples into k contiguous, unshuffled test folds. The
// first n%k folds hold one extra example.
func KFold(n, k int) ([]Range, error) {
	if k < 2 || k > n {
		return nil, fmt.Errorf("crossval: cannot split %d examples into %d folds", n, k)
	}
	folds := make([]Range, k)
	lo := 0
	for i := range folds {
		size := n / k
		if i < n%k {
			size++
		}
		folds[i] = Range{Lo: lo, Hi: lo + size}
		lo += size
	}
	return folds, nil
}

// FoldSplit holds out test as the test set. The remaining examples, in
// order, form the training part; its last valSize examples are the
// validation set.
func FoldSplit(d *dataset.Dataset, test Range, valSize int) (train.Split, error) {
	if test.Lo < 0 || test.Hi > d.Len() || test.Lo >= test.Hi {
		return train.Split{}, fmt.Errorf("crossval: test range [%d, %d) outside %d examples", test.Lo, test.Hi, d.Len())
	}
	rest, err := dataset.Concat(d.Slice(0, test.Lo), d.Slice(test.Hi, d.Len()))
	if err != nil {
		return train.Split{}, err
	}
	if valSize <= 0 || valSize >= rest.Len() {
		return train.Split{}, fmt.Errorf("crossval: validation size %d for %d training examples", valSize, rest.Len())
	}
	cut := rest.Len() - valSize
	return train.Split{
		Train: rest.Slice(0, cut),
		Val:   rest.Slice(cut, rest.Len()),
		Test:  d.Slice(test.Lo, test.Hi),
	}, nil
}
