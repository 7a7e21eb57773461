package styletransfer

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var (
	// DefaultStyleLayers are the layers whose Gram matrices define style.
	DefaultStyleLayers = []string{
		"block1_conv1",
		"block2_conv1",
		"block3_conv1",
		"block4_conv1",
		"block5_conv1",
	}
	// DefaultContentLayers are the layers whose activations define content.
	DefaultContentLayers = []string{"block5_conv2"}
)

// Extractor exposes the activations of a fixed set of style and content
// layers of a Network.
type Extractor struct {
	net           *Network
	styleLayers   []string
	contentLayers []string
	depth         int // index of the deepest requested layer
}

// NewExtractor checks that every requested layer exists in net and has
// weights. At least one style and one content layer are required.
func NewExtractor(net *Network, styleLayers, contentLayers []string) (*Extractor, error) {
	if len(styleLayers) == 0 || len(contentLayers) == 0 {
		return nil, fmt.Errorf("%w: need at least one style and one content layer", ErrUnknownLayer)
	}
	e := &Extractor{
		net:           net,
		styleLayers:   append([]string(nil), styleLayers...),
		contentLayers: append([]string(nil), contentLayers...),
		depth:         -1,
	}
	for _, name := range append(e.StyleLayers(), e.contentLayers...) {
		i := net.Arch.Index(name)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownLayer, name)
		}
		if net.Arch[i].Kind == LayerConv {
			if _, ok := net.Weights[name]; !ok {
				return nil, fmt.Errorf("%w: %s", ErrMissingWeights, name)
			}
		}
		e.depth = max(e.depth, i)
	}
	return e, nil
}

// StyleLayers returns the style layer names in output order.
func (e *Extractor) StyleLayers() []string {
	return append([]string(nil), e.styleLayers...)
}

// ContentLayers returns the content layer names in output order.
func (e *Extractor) ContentLayers() []string {
	return append([]string(nil), e.contentLayers...)
}

// Build adds the forward pass of x through the network to g, stopping at
// the deepest requested layer. x must be a [1,3,H,W] float32 node. The
// weights enter the graph as plain valued leaves; only the nodes passed
// to gorgonia.Grad receive gradients, so they stay frozen.
func (e *Extractor) Build(g *gorgonia.ExprGraph, x *gorgonia.Node) (style, content gorgonia.Nodes, err error) {
	outputs := make(map[string]*gorgonia.Node, e.depth+1)
	h := x
	for _, l := range e.net.Arch[:e.depth+1] {
		switch l.Kind {
		case LayerConv:
			w := e.net.Weights[l.Name]
			kernel := gorgonia.NewTensor(g, tensor.Float32, 4,
				gorgonia.WithShape(w.Kernel.Shape()...),
				gorgonia.WithValue(w.Kernel),
				gorgonia.WithName(l.Name+"_kernel"))
			bias := gorgonia.NewTensor(g, tensor.Float32, 4,
				gorgonia.WithShape(w.Bias.Shape()...),
				gorgonia.WithValue(w.Bias),
				gorgonia.WithName(l.Name+"_bias"))

			if h, err = gorgonia.Conv2d(h, kernel, tensor.Shape{3, 3}, []int{1, 1}, []int{1, 1}, []int{1, 1}); err != nil {
				return nil, nil, fmt.Errorf("%s: conv: %w", l.Name, err)
			}
			if h, err = gorgonia.BroadcastAdd(h, bias, nil, []byte{2, 3}); err != nil {
				return nil, nil, fmt.Errorf("%s: bias: %w", l.Name, err)
			}
			if h, err = gorgonia.Rectify(h); err != nil {
				return nil, nil, fmt.Errorf("%s: relu: %w", l.Name, err)
			}
		case LayerPool:
			if h, err = gorgonia.MaxPool2D(h, tensor.Shape{2, 2}, []int{0, 0}, []int{2, 2}); err != nil {
				return nil, nil, fmt.Errorf("%s: pool: %w", l.Name, err)
			}
		}
		outputs[l.Name] = h
	}

	for _, name := range e.styleLayers {
		style = append(style, outputs[name])
	}
	for _, name := range e.contentLayers {
		content = append(content, outputs[name])
	}
	return style, content, nil
}

// Extract runs an inference-only forward pass of a preprocessed
// [1,3,H,W] image and returns copies of the style activations followed
// by the content activations.
func (e *Extractor) Extract(x *tensor.Dense) (style, content []*tensor.Dense, err error) {
	g := gorgonia.NewGraph()
	in := gorgonia.NewTensor(g, tensor.Float32, 4,
		gorgonia.WithShape(x.Shape()...),
		gorgonia.WithValue(x),
		gorgonia.WithName("input"))

	styleNodes, contentNodes, err := e.Build(g, in)
	if err != nil {
		return nil, nil, err
	}

	outs := append(append(gorgonia.Nodes{}, styleNodes...), contentNodes...)
	vals := make([]gorgonia.Value, len(outs))
	for i, n := range outs {
		gorgonia.Read(n, &vals[i])
	}

	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return nil, nil, fmt.Errorf("forward pass: %w", err)
	}

	copies := make([]*tensor.Dense, len(vals))
	for i, v := range vals {
		d, ok := v.(*tensor.Dense)
		if !ok {
			return nil, nil, fmt.Errorf("layer output %d: unexpected value %T", i, v)
		}
		copies[i] = d.Clone().(*tensor.Dense)
	}
	return copies[:len(styleNodes)], copies[len(styleNodes):], nil
}
