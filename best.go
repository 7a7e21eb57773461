package styletransfer

import (
	"math"

	"github.com/wbrown/styletransfer/imageutil"
)

// BestState tracks the lowest total loss seen and the image that went
// with it. Loss starts at +Inf and Image at nil; both change only on a
// strict improvement, so Loss never increases.
type BestState struct {
	Loss      float64
	Iteration int
	Image     *imageutil.RGBAImage
}

// NewBestState returns an empty tracker.
func NewBestState() *BestState {
	return &BestState{Loss: math.Inf(1), Iteration: -1}
}

// Observe records loss for iteration iter. When loss beats the current
// best, snapshot is called for the image to keep and Observe reports
// true. NaN losses never replace the best state.
func (b *BestState) Observe(
	iter int,
	loss float64,
	snapshot func() (*imageutil.RGBAImage, error),
) (bool, error) {
	if math.IsNaN(loss) || !(loss < b.Loss) {
		return false, nil
	}
	img, err := snapshot()
	if err != nil {
		return false, err
	}
	b.Loss = loss
	b.Iteration = iter
	b.Image = img
	return true, nil
}

// HasImage reports whether any iteration improved on the initial state.
func (b *BestState) HasImage() bool {
	return b.Image != nil
}
