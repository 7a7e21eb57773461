package styletransfer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// LossWeights scales the two halves of the total loss.
type LossWeights struct {
	Style   float64
	Content float64
}

// DefaultLossWeights favors content heavily; Gram matrix errors are
// several orders of magnitude larger than activation errors.
var DefaultLossWeights = LossWeights{Style: 1e-2, Content: 1e3}

// featureDims returns channels and spatial size of a [1,C,H,W] or
// [C,H,W] shape.
func featureDims(shape tensor.Shape) (c, h, w int, err error) {
	switch {
	case len(shape) == 4 && shape[0] == 1:
		return shape[1], shape[2], shape[3], nil
	case len(shape) == 3:
		return shape[0], shape[1], shape[2], nil
	}
	return 0, 0, 0, fmt.Errorf("%w: feature map %v", ErrInvalidShape, shape)
}

// GramMatrix computes F·Fᵀ / (H·W) for a feature map viewed as a C×(H·W)
// matrix F. The result is C×C.
func GramMatrix(features *tensor.Dense) (*mat.Dense, error) {
	c, h, w, err := featureDims(features.Shape())
	if err != nil {
		return nil, err
	}
	n := h * w
	if c == 0 || n == 0 {
		return nil, fmt.Errorf("%w: empty feature map %v", ErrInvalidShape, features.Shape())
	}
	data, ok := features.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("%w: dtype %v, want float32", ErrInvalidShape, features.Dtype())
	}

	f := mat.NewDense(c, n, nil)
	for i := 0; i < c; i++ {
		row := f.RawRowView(i)
		for j, v := range data[i*n : (i+1)*n] {
			row[j] = float64(v)
		}
	}

	gram := mat.NewDense(c, c, nil)
	gram.Mul(f, f.T())
	gram.Scale(1/float64(n), gram)
	return gram, nil
}

// denseFromMat converts a gonum matrix to a float32 tensor.
func denseFromMat(m *mat.Dense) *tensor.Dense {
	r, c := m.Dims()
	data := make([]float32, 0, r*c)
	for i := 0; i < r; i++ {
		for _, v := range m.RawRowView(i) {
			data = append(data, float32(v))
		}
	}
	return tensor.New(tensor.WithShape(r, c), tensor.WithBacking(data))
}

// gramNode is the graph form of GramMatrix for a [1,C,H,W] node.
func gramNode(f *gorgonia.Node) (*gorgonia.Node, error) {
	c, h, w, err := featureDims(f.Shape())
	if err != nil {
		return nil, err
	}
	n := h * w
	flat, err := gorgonia.Reshape(f, tensor.Shape{c, n})
	if err != nil {
		return nil, err
	}
	flatT, err := gorgonia.Transpose(flat)
	if err != nil {
		return nil, err
	}
	prod, err := gorgonia.Mul(flat, flatT)
	if err != nil {
		return nil, err
	}
	return gorgonia.Div(prod, gorgonia.NewConstant(float32(n)))
}

// meanSquaredError is mean((a-b)²) as a scalar node.
func meanSquaredError(a, b *gorgonia.Node) (*gorgonia.Node, error) {
	diff, err := gorgonia.Sub(a, b)
	if err != nil {
		return nil, err
	}
	sq, err := gorgonia.Square(diff)
	if err != nil {
		return nil, err
	}
	return gorgonia.Mean(sq)
}

// styleLayerLoss compares the Gram matrix of a candidate activation with
// a fixed target Gram. With normalize set the error is further divided by
// 4·C²·(H·W)².
func styleLayerLoss(out, gramTarget *gorgonia.Node, normalize bool) (*gorgonia.Node, error) {
	gram, err := gramNode(out)
	if err != nil {
		return nil, err
	}
	loss, err := meanSquaredError(gram, gramTarget)
	if err != nil || !normalize {
		return loss, err
	}
	c, h, w, _ := featureDims(out.Shape())
	size := float64(h * w)
	div := 4 * float64(c*c) * size * size
	return gorgonia.Div(loss, gorgonia.NewConstant(float32(div)))
}

// lossGraph holds the scalar loss nodes of one optimization graph.
type lossGraph struct {
	total   *gorgonia.Node
	style   *gorgonia.Node
	content *gorgonia.Node
}

// buildLoss wires the weighted style and content losses. Each style layer
// contributes 1/len(styleOut) and each content layer 1/len(contentOut)
// before the LossWeights are applied.
func buildLoss(
	g *gorgonia.ExprGraph,
	styleOut, contentOut gorgonia.Nodes,
	gramTargets, contentTargets []*tensor.Dense,
	weights LossWeights,
	normalize bool,
) (*lossGraph, error) {
	if len(styleOut) != len(gramTargets) || len(contentOut) != len(contentTargets) {
		return nil, fmt.Errorf("have %d/%d style and %d/%d content targets",
			len(gramTargets), len(styleOut), len(contentTargets), len(contentOut))
	}

	var styleScore, contentScore *gorgonia.Node
	perStyle := gorgonia.NewConstant(float32(1 / float64(len(styleOut))))
	for i, out := range styleOut {
		target := gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(gramTargets[i].Shape()...),
			gorgonia.WithValue(gramTargets[i]),
			gorgonia.WithName(fmt.Sprintf("gram_target_%d", i)))
		l, err := styleLayerLoss(out, target, normalize)
		if err != nil {
			return nil, fmt.Errorf("style layer %d: %w", i, err)
		}
		if styleScore, err = accumulate(styleScore, perStyle, l); err != nil {
			return nil, err
		}
	}

	perContent := gorgonia.NewConstant(float32(1 / float64(len(contentOut))))
	for i, out := range contentOut {
		target := gorgonia.NewTensor(g, tensor.Float32, contentTargets[i].Dims(),
			gorgonia.WithShape(contentTargets[i].Shape()...),
			gorgonia.WithValue(contentTargets[i]),
			gorgonia.WithName(fmt.Sprintf("content_target_%d", i)))
		l, err := meanSquaredError(out, target)
		if err != nil {
			return nil, fmt.Errorf("content layer %d: %w", i, err)
		}
		if contentScore, err = accumulate(contentScore, perContent, l); err != nil {
			return nil, err
		}
	}

	var err error
	lg := &lossGraph{}
	if lg.style, err = gorgonia.Mul(styleScore, gorgonia.NewConstant(float32(weights.Style))); err != nil {
		return nil, err
	}
	if lg.content, err = gorgonia.Mul(contentScore, gorgonia.NewConstant(float32(weights.Content))); err != nil {
		return nil, err
	}
	if lg.total, err = gorgonia.Add(lg.style, lg.content); err != nil {
		return nil, err
	}
	return lg, nil
}

// accumulate returns acc + w·l, treating a nil acc as zero.
func accumulate(acc, w, l *gorgonia.Node) (*gorgonia.Node, error) {
	term, err := gorgonia.Mul(w, l)
	if err != nil || acc == nil {
		return term, err
	}
	return gorgonia.Add(acc, term)
}

// scalarValue unwraps a scalar gorgonia value.
func scalarValue(v gorgonia.Value) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("value not computed")
	}
	switch d := v.Data().(type) {
	case float32:
		return float64(d), nil
	case float64:
		return d, nil
	case []float32:
		if len(d) == 1 {
			return float64(d[0]), nil
		}
	case []float64:
		if len(d) == 1 {
			return d[0], nil
		}
	}
	return 0, fmt.Errorf("not a scalar: %v", v.Shape())
}
