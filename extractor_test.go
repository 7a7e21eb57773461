package styletransfer

import (
	"errors"
	"testing"

	"github.com/wbrown/styletransfer/imageutil"
	"gorgonia.org/tensor"
)

func TestNewExtractorValidation(t *testing.T) {
	net := tinyNetwork(t)

	tests := []struct {
		name    string
		style   []string
		content []string
		want    error
	}{
		{"no style", nil, DefaultContentLayers, ErrUnknownLayer},
		{"no content", DefaultStyleLayers, nil, ErrUnknownLayer},
		{"unknown style", []string{"block9_conv1"}, DefaultContentLayers, ErrUnknownLayer},
		{"unknown content", DefaultStyleLayers, []string{"fc2"}, ErrUnknownLayer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewExtractor(net, tt.style, tt.content); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	partial := &Network{Arch: net.Arch, Weights: map[string]ConvWeights{}}
	if _, err := NewExtractor(partial, DefaultStyleLayers, DefaultContentLayers); !errors.Is(err, ErrMissingWeights) {
		t.Errorf("Expected ErrMissingWeights, got %v", err)
	}
}

func TestExtractorLayerListsAreCopies(t *testing.T) {
	style := []string{"block1_conv1", "block2_conv1"}
	e, err := NewExtractor(tinyNetwork(t), style, DefaultContentLayers)
	if err != nil {
		t.Fatal(err)
	}
	style[0] = "mutated"
	got := e.StyleLayers()
	if got[0] != "block1_conv1" {
		t.Errorf("Extractor should keep its own layer list, got %v", got)
	}
	got[1] = "mutated"
	if e.StyleLayers()[1] != "block2_conv1" {
		t.Error("StyleLayers should return a copy")
	}
}

func TestExtractShapes(t *testing.T) {
	e := tinyExtractor(t)
	x := Preprocess(imageutil.CreateGradientImage(32, 32))

	style, content, err := e.Extract(x)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(style) != len(DefaultStyleLayers) || len(content) != len(DefaultContentLayers) {
		t.Fatalf("Expected %d style and %d content outputs, got %d and %d",
			len(DefaultStyleLayers), len(DefaultContentLayers), len(style), len(content))
	}

	// Each block halves the spatial size; widths are the tiny VGG widths.
	wantStyle := []tensor.Shape{
		{1, 2, 32, 32},
		{1, 4, 16, 16},
		{1, 8, 8, 8},
		{1, 16, 4, 4},
		{1, 16, 2, 2},
	}
	for i, want := range wantStyle {
		if !style[i].Shape().Eq(want) {
			t.Errorf("%s: expected %v, got %v", DefaultStyleLayers[i], want, style[i].Shape())
		}
	}
	if want := (tensor.Shape{1, 16, 2, 2}); !content[0].Shape().Eq(want) {
		t.Errorf("content: expected %v, got %v", want, content[0].Shape())
	}
}

func TestExtractActivationsAreNonNegative(t *testing.T) {
	e := tinyExtractor(t)
	x := Preprocess(imageutil.CreateCheckerboardImage(16, 16, 4,
		imageutil.RGB{R: 255, G: 128, B: 0}, imageutil.RGB{R: 0, G: 64, B: 255}))

	style, content, err := e.Extract(x)
	if err != nil {
		t.Fatal(err)
	}
	for i, f := range append(style, content...) {
		for j, v := range f.Data().([]float32) {
			if v < 0 {
				t.Fatalf("output %d[%d] = %f after ReLU", i, j, v)
			}
		}
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	e := tinyExtractor(t)
	x := Preprocess(imageutil.CreateStripesImage(16, 16, 3,
		imageutil.RGB{R: 200, G: 30, B: 30}, imageutil.RGB{R: 20, G: 20, B: 220}))

	_, a, err := e.Extract(x)
	if err != nil {
		t.Fatal(err)
	}
	_, b, err := e.Extract(x)
	if err != nil {
		t.Fatal(err)
	}
	ad, bd := a[0].Data().([]float32), b[0].Data().([]float32)
	for i := range ad {
		if ad[i] != bd[i] {
			t.Fatalf("Output %d differs between runs: %f vs %f", i, ad[i], bd[i])
		}
	}
}
