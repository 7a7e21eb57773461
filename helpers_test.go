package styletransfer

import (
	"io"
	"log/slog"
	"math"
	"math/rand"
	"testing"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// tinyWidthDiv shrinks every VGG19 block so tests run in milliseconds.
const tinyWidthDiv = 32

// randomWeights returns He-initialized OIHW kernels and small biases for
// every convolution of arch.
func randomWeights(arch Architecture, seed int64) map[string]*tensor.Dense {
	rng := rand.New(rand.NewSource(seed))
	out := make(map[string]*tensor.Dense)
	for _, l := range arch {
		if l.Kind != LayerConv {
			continue
		}
		std := math.Sqrt(2 / float64(9*l.In))
		kernel := make([]float32, l.Out*l.In*9)
		for i := range kernel {
			kernel[i] = float32(rng.NormFloat64() * std)
		}
		bias := make([]float32, l.Out)
		for i := range bias {
			bias[i] = float32(rng.Float64() * 0.01)
		}
		out[l.Name+".weight"] = tensor.New(tensor.WithShape(l.Out, l.In, 3, 3), tensor.WithBacking(kernel))
		out[l.Name+".bias"] = tensor.New(tensor.WithShape(l.Out), tensor.WithBacking(bias))
	}
	return out
}

func tinyNetwork(t testing.TB) *Network {
	t.Helper()
	arch := vggArchitecture(tinyWidthDiv)
	net, err := NewNetwork(arch, randomWeights(arch, 1))
	if err != nil {
		t.Fatalf("NewNetwork failed: %v", err)
	}
	return net
}

func tinyExtractor(t testing.TB) *Extractor {
	t.Helper()
	e, err := NewExtractor(tinyNetwork(t), DefaultStyleLayers, DefaultContentLayers)
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}
	return e
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// evalScalar runs a graph whose output is the scalar node n.
func evalScalar(t *testing.T, g *gorgonia.ExprGraph, n *gorgonia.Node) float64 {
	t.Helper()
	var v gorgonia.Value
	gorgonia.Read(n, &v)
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}
	f, err := scalarValue(v)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

// constNode adds a valued float32 leaf to g.
func constNode(g *gorgonia.ExprGraph, name string, t *tensor.Dense) *gorgonia.Node {
	return gorgonia.NewTensor(g, tensor.Float32, t.Dims(),
		gorgonia.WithShape(t.Shape()...),
		gorgonia.WithValue(t),
		gorgonia.WithName(name))
}
