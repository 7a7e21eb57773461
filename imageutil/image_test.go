package imageutil

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

func TestNewRGBAImage(t *testing.T) {
	img := NewRGBAImage(100, 50)
	if img.Width() != 100 {
		t.Errorf("Expected width 100, got %d", img.Width())
	}
	if img.Height() != 50 {
		t.Errorf("Expected height 50, got %d", img.Height())
	}
}

func TestRGBAImageGetSetRGB(t *testing.T) {
	img := NewRGBAImage(10, 10)
	c := RGB{R: 100, G: 150, B: 200}
	img.SetRGB(5, 5, c)

	got := img.GetRGB(5, 5)
	if got != c {
		t.Errorf("Expected %v, got %v", c, got)
	}
}

func TestRGBAImageClone(t *testing.T) {
	img := NewRGBAImage(10, 10)
	img.SetRGB(5, 5, RGB{R: 255, G: 0, B: 0})

	clone := img.Clone()
	if clone.GetRGB(5, 5) != img.GetRGB(5, 5) {
		t.Error("Clone should have same pixel values")
	}

	// Modify clone, original should be unchanged
	clone.SetRGB(5, 5, RGB{R: 0, G: 255, B: 0})
	if img.GetRGB(5, 5).G != 0 {
		t.Error("Modifying clone should not affect original")
	}
}

func TestRGBAImageFromImageOffsetBounds(t *testing.T) {
	src := image.NewNRGBA(image.Rect(10, 20, 14, 23))
	src.SetNRGBA(10, 20, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	src.SetNRGBA(13, 22, color.NRGBA{R: 200, G: 100, B: 50, A: 255})

	img := RGBAImageFromImage(src)
	if img.Width() != 4 || img.Height() != 3 {
		t.Fatalf("Expected 4x3, got %dx%d", img.Width(), img.Height())
	}
	if got := img.GetRGB(0, 0); got != (RGB{10, 20, 30}) {
		t.Errorf("Top-left pixel: got %v", got)
	}
	if got := img.GetRGB(3, 2); got != (RGB{200, 100, 50}) {
		t.Errorf("Bottom-right pixel: got %v", got)
	}
	// Fully transparent pixels composite over black.
	if got := img.GetRGB(1, 1); got != (RGB{}) {
		t.Errorf("Transparent pixel should be black, got %v", got)
	}
	if a := img.RGBAAt(1, 1).A; a != 255 {
		t.Errorf("Expected opaque alpha, got %d", a)
	}
}

func TestResize(t *testing.T) {
	img := CreateGradientImage(100, 100)

	// Downscale
	resized := Resize(img, 50, 50, InterpolationArea)
	if resized.Width() != 50 || resized.Height() != 50 {
		t.Errorf("Expected 50x50, got %dx%d", resized.Width(), resized.Height())
	}

	// Upscale
	resized = Resize(img, 200, 200, InterpolationLinear)
	if resized.Width() != 200 || resized.Height() != 200 {
		t.Errorf("Expected 200x200, got %dx%d", resized.Width(), resized.Height())
	}
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		maxDim        int
		wantW, wantH  int
	}{
		{"disabled", 640, 480, 0, 640, 480},
		{"already fits", 64, 32, 128, 64, 32},
		{"landscape", 640, 480, 320, 320, 240},
		{"portrait", 300, 900, 90, 30, 90},
		{"sliver", 1000, 1, 10, 10, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := CreateGradientImage(tt.width, tt.height)
			got := FitWithin(img, tt.maxDim, InterpolationArea)
			if got.Width() != tt.wantW || got.Height() != tt.wantH {
				t.Errorf("Expected %dx%d, got %dx%d",
					tt.wantW, tt.wantH, got.Width(), got.Height())
			}
		})
	}
}

func TestResizeSolidColorPreserved(t *testing.T) {
	c := RGB{R: 12, G: 200, B: 99}
	img := CreateSolidImage(40, 40, c)
	for _, interp := range []Interpolation{InterpolationArea, InterpolationLinear, InterpolationNearest} {
		resized := Resize(img, 17, 23, interp)
		if d := CalculateMaxDiff(resized, CreateSolidImage(17, 23, c)); d > 1 {
			t.Errorf("Interpolation %d: solid color drifted by %d", interp, d)
		}
	}
}

func TestLoadSaveImage(t *testing.T) {
	tmpDir := t.TempDir()
	img := CreateCheckerboardImage(64, 64, 8, RGB{255, 0, 0}, RGB{0, 0, 255})

	// Nested directory is created on save
	pngPath := filepath.Join(tmpDir, "out", "test.png")
	if err := SaveImage(img.RGBA, pngPath); err != nil {
		t.Fatalf("Failed to save PNG: %v", err)
	}

	loaded, err := LoadImage(pngPath)
	if err != nil {
		t.Fatalf("Failed to load PNG: %v", err)
	}

	// PNG should be lossless
	if mse := CalculateMSE(img, loaded); mse > 0.01 {
		t.Errorf("PNG should be lossless, MSE=%f", mse)
	}

	jpgPath := filepath.Join(tmpDir, "test.jpg")
	if err := SaveImage(CreateSolidImage(32, 32, RGB{128, 64, 32}).RGBA, jpgPath); err != nil {
		t.Fatalf("Failed to save JPEG: %v", err)
	}
	loaded, err = LoadImage(jpgPath)
	if err != nil {
		t.Fatalf("Failed to load JPEG: %v", err)
	}
	if loaded.Width() != 32 || loaded.Height() != 32 {
		t.Errorf("JPEG dimensions changed: %dx%d", loaded.Width(), loaded.Height())
	}
}

func TestLoadImageErrors(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := LoadImage(filepath.Join(tmpDir, "missing.png")); err == nil {
		t.Error("Expected error for missing file")
	}

	garbage := filepath.Join(tmpDir, "garbage.png")
	if err := os.WriteFile(garbage, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadImage(garbage); err == nil {
		t.Error("Expected error for undecodable file")
	}
}

func TestCalculateMSE(t *testing.T) {
	img1 := NewRGBAImage(10, 10)
	img2 := NewRGBAImage(10, 10)

	// Same images should have MSE of 0
	if mse := CalculateMSE(img1, img2); mse != 0 {
		t.Errorf("Identical images should have MSE=0, got %f", mse)
	}

	img1 = CreateSolidImage(10, 10, RGB{0, 0, 0})
	img2 = CreateSolidImage(10, 10, RGB{10, 10, 10})
	if mse := CalculateMSE(img1, img2); mse != 100.0 {
		t.Errorf("Expected MSE=100, got %f", mse)
	}
}
