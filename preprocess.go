package styletransfer

import (
	"errors"
	"fmt"
	"math"

	"github.com/wbrown/styletransfer/imageutil"
	"gorgonia.org/tensor"
)

// MeanBGR holds the per-channel means subtracted by Preprocess, in the
// network's blue, green, red channel order.
var MeanBGR = [3]float32{103.939, 116.779, 123.68}

// ErrInvalidShape is returned when a tensor is neither [3,H,W] nor
// [1,3,H,W].
var ErrInvalidShape = errors.New("invalid image tensor shape")

// Preprocess converts an RGB image into the network input convention:
// channels reversed to BGR, per-channel means subtracted, and batched as
// a float32 tensor of shape [1, 3, H, W].
func Preprocess(img *imageutil.RGBAImage) *tensor.Dense {
	w, h := img.Width(), img.Height()
	plane := w * h
	data := make([]float32, 3*plane)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.RGBAAt(x, y)
			i := y*w + x
			data[i] = float32(c.B) - MeanBGR[0]
			data[plane+i] = float32(c.G) - MeanBGR[1]
			data[2*plane+i] = float32(c.R) - MeanBGR[2]
		}
	}

	return tensor.New(tensor.WithShape(1, 3, h, w), tensor.WithBacking(data))
}

// Deprocess is the inverse of Preprocess. It accepts a [3,H,W] or
// [1,3,H,W] float32 tensor, adds the means back, restores RGB order and
// clamps every channel to [0,255].
func Deprocess(t tensor.Tensor) (*imageutil.RGBAImage, error) {
	shape := t.Shape()
	var h, w int
	switch {
	case len(shape) == 4 && shape[0] == 1 && shape[1] == 3:
		h, w = shape[2], shape[3]
	case len(shape) == 3 && shape[0] == 3:
		h, w = shape[1], shape[2]
	default:
		return nil, fmt.Errorf("%w: %v, want [1,3,H,W] or [3,H,W]", ErrInvalidShape, shape)
	}

	data, ok := t.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("%w: dtype %v, want float32", ErrInvalidShape, t.Dtype())
	}

	plane := w * h
	img := imageutil.NewRGBAImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			img.SetRGB(x, y, imageutil.RGB{
				R: quantize(data[2*plane+i] + MeanBGR[2]),
				G: quantize(data[plane+i] + MeanBGR[1]),
				B: quantize(data[i] + MeanBGR[0]),
			})
		}
	}
	return img, nil
}

func quantize(v float32) uint8 {
	r := math.Round(float64(v))
	switch {
	case math.IsNaN(r), r < 0:
		return 0
	case r > 255:
		return 255
	}
	return uint8(r)
}

// PixelBounds returns the valid preprocessed range of a BGR channel.
func PixelBounds(channel int) (lo, hi float32) {
	return -MeanBGR[channel], 255 - MeanBGR[channel]
}

// ClipPixels clamps the channel planes of a preprocessed [1,3,H,W] buffer
// into the range a real image can produce.
func ClipPixels(data []float32, h, w int) {
	plane := h * w
	for c := 0; c < 3; c++ {
		lo, hi := PixelBounds(c)
		ch := data[c*plane : (c+1)*plane]
		for i, v := range ch {
			switch {
			case v < lo:
				ch[i] = lo
			case v > hi:
				ch[i] = hi
			case v != v:
				ch[i] = lo
			}
		}
	}
}
