package styletransfer

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"gorgonia.org/tensor"
)

// LayerKind distinguishes the two layer types of a VGG feature stack.
type LayerKind int

const (
	// LayerConv is a 3x3, stride 1, same-padded convolution followed by ReLU.
	LayerConv LayerKind = iota
	// LayerPool is a 2x2, stride 2 max pool.
	LayerPool
)

func (k LayerKind) String() string {
	if k == LayerPool {
		return "maxpool2x2"
	}
	return "conv3x3+relu"
}

// Layer is one entry of an Architecture. In and Out are channel counts
// and are only meaningful for convolutions.
type Layer struct {
	Name    string
	Kind    LayerKind
	In, Out int
}

// Architecture is an ordered feature stack.
type Architecture []Layer

var (
	// ErrUnknownLayer is returned when a requested layer is not part of
	// the architecture.
	ErrUnknownLayer = errors.New("unknown layer")
	// ErrMissingWeights is returned when a convolution has no usable
	// kernel or bias.
	ErrMissingWeights = errors.New("missing weights")
)

// vgg19Blocks lists the conv count and width of each VGG19 block.
var vgg19Blocks = []struct{ convs, width int }{
	{2, 64}, {2, 128}, {4, 256}, {4, 512}, {4, 512},
}

// VGG19Architecture returns the convolutional part of VGG19 (no
// classifier head), using the Keras layer names.
func VGG19Architecture() Architecture {
	return vggArchitecture(1)
}

// vggArchitecture builds the VGG19 layer table with every width divided
// by div.
func vggArchitecture(div int) Architecture {
	var arch Architecture
	in := 3
	for b, block := range vgg19Blocks {
		out := max(1, block.width/div)
		for c := 1; c <= block.convs; c++ {
			arch = append(arch, Layer{
				Name: fmt.Sprintf("block%d_conv%d", b+1, c),
				Kind: LayerConv,
				In:   in,
				Out:  out,
			})
			in = out
		}
		arch = append(arch, Layer{Name: fmt.Sprintf("block%d_pool", b+1), Kind: LayerPool})
	}
	return arch
}

// Index returns the position of the named layer, or -1.
func (a Architecture) Index(name string) int {
	for i, l := range a {
		if l.Name == name {
			return i
		}
	}
	return -1
}

// ConvWeights holds one convolution's frozen parameters: an OIHW kernel
// of shape [out, in, 3, 3] and a bias of shape [1, out, 1, 1].
type ConvWeights struct {
	Kernel *tensor.Dense
	Bias   *tensor.Dense
}

// Network is a VGG feature stack with pretrained weights. It is never
// trained; the weights are only read.
type Network struct {
	Arch    Architecture
	Weights map[string]ConvWeights
}

// LoadVGG19 reads VGG19 weights from a safetensors file.
func LoadVGG19(path string) (*Network, error) {
	tensors, err := LoadSafetensors(path)
	if err != nil {
		return nil, err
	}
	return NewNetwork(VGG19Architecture(), tensors)
}

// NewNetwork matches named tensors against arch. Kernels are accepted as
// OIHW or as Keras HWIO and stored as OIHW. Names may use either the
// "<layer>.weight"/"<layer>.bias" or "<layer>/kernel"/"<layer>/bias"
// convention.
func NewNetwork(arch Architecture, tensors map[string]*tensor.Dense) (*Network, error) {
	net := &Network{Arch: arch, Weights: make(map[string]ConvWeights)}
	for _, l := range arch {
		if l.Kind != LayerConv {
			continue
		}
		kernel := lookup(tensors, l.Name+".weight", l.Name+"/kernel", l.Name+"/kernel:0")
		bias := lookup(tensors, l.Name+".bias", l.Name+"/bias", l.Name+"/bias:0")
		if kernel == nil || bias == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingWeights, l.Name)
		}

		k, err := toOIHW(kernel, l)
		if err != nil {
			return nil, err
		}
		bv, ok := bias.Data().([]float32)
		if !ok || len(bv) != l.Out {
			return nil, fmt.Errorf("%w: %s bias has shape %v, want [%d] float32",
				ErrMissingWeights, l.Name, bias.Shape(), l.Out)
		}
		b := tensor.New(
			tensor.WithShape(1, l.Out, 1, 1),
			tensor.WithBacking(append([]float32(nil), bv...)))
		net.Weights[l.Name] = ConvWeights{Kernel: k, Bias: b}
	}
	return net, nil
}

func lookup(tensors map[string]*tensor.Dense, names ...string) *tensor.Dense {
	for _, n := range names {
		if t, ok := tensors[n]; ok {
			return t
		}
	}
	return nil
}

func toOIHW(k *tensor.Dense, l Layer) (*tensor.Dense, error) {
	src, ok := k.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("%w: %s kernel is %v, want float32", ErrMissingWeights, l.Name, k.Dtype())
	}
	shape := k.Shape()
	oihw := tensor.Shape{l.Out, l.In, 3, 3}
	hwio := tensor.Shape{3, 3, l.In, l.Out}

	switch {
	case shape.Eq(oihw):
		return tensor.New(tensor.WithShape(oihw...), tensor.WithBacking(append([]float32(nil), src...))), nil
	case shape.Eq(hwio):
		dst := make([]float32, len(src))
		for ky := 0; ky < 3; ky++ {
			for kx := 0; kx < 3; kx++ {
				for i := 0; i < l.In; i++ {
					for o := 0; o < l.Out; o++ {
						dst[((o*l.In+i)*3+ky)*3+kx] = src[((ky*3+kx)*l.In+i)*l.Out+o]
					}
				}
			}
		}
		return tensor.New(tensor.WithShape(oihw...), tensor.WithBacking(dst)), nil
	}
	return nil, fmt.Errorf("%w: %s kernel has shape %v, want %v or %v",
		ErrMissingWeights, l.Name, shape, oihw, hwio)
}

// Summary writes the layer table with parameter counts to w.
func (n *Network) Summary(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Layer\tType\tChannels\tParams")
	total := 0
	for _, l := range n.Arch {
		if l.Kind == LayerPool {
			fmt.Fprintf(tw, "%s\t%s\t-\t0\n", l.Name, l.Kind)
			continue
		}
		params := l.Out*l.In*9 + l.Out
		total += params
		fmt.Fprintf(tw, "%s\t%s\t%d -> %d\t%d\n", l.Name, l.Kind, l.In, l.Out, params)
	}
	fmt.Fprintf(tw, "Total\t\t\t%d\n", total)
	return tw.Flush()
}
