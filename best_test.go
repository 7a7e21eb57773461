package styletransfer

import (
	"errors"
	"math"
	"testing"

	"github.com/wbrown/styletransfer/imageutil"
	"pgregory.net/rapid"
)

func solidSnapshot() (*imageutil.RGBAImage, error) {
	return imageutil.CreateSolidImage(2, 2, imageutil.RGB{R: 1, G: 2, B: 3}), nil
}

func TestBestStateStartsEmpty(t *testing.T) {
	b := NewBestState()
	if !math.IsInf(b.Loss, 1) {
		t.Errorf("Expected +Inf, got %f", b.Loss)
	}
	if b.HasImage() {
		t.Error("New state should have no image")
	}
}

func TestBestStateNeverRegresses(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		losses := rapid.SliceOfN(rapid.Float64Range(-1e6, 1e6), 0, 50).Draw(t, "losses")
		b := NewBestState()
		prev := b.Loss
		lowest := math.Inf(1)
		for i, l := range losses {
			improved, err := b.Observe(i, l, solidSnapshot)
			if err != nil {
				t.Fatal(err)
			}
			if improved != (l < lowest) {
				t.Fatalf("Iteration %d: improved=%v for loss %f vs best %f", i, improved, l, lowest)
			}
			lowest = min(lowest, l)
			if b.Loss > prev {
				t.Fatalf("Best loss increased from %f to %f", prev, b.Loss)
			}
			prev = b.Loss
		}
		if b.Loss != lowest {
			t.Fatalf("Expected best %f, got %f", lowest, b.Loss)
		}
		if b.HasImage() != (len(losses) > 0) {
			t.Fatalf("HasImage=%v after %d observations", b.HasImage(), len(losses))
		}
	})
}

func TestBestStateIgnoresNaNAndTies(t *testing.T) {
	b := NewBestState()
	if improved, _ := b.Observe(0, math.NaN(), solidSnapshot); improved {
		t.Error("NaN should not improve")
	}
	if improved, _ := b.Observe(1, 5, solidSnapshot); !improved {
		t.Error("5 should improve on +Inf")
	}
	calls := 0
	tie := func() (*imageutil.RGBAImage, error) {
		calls++
		return solidSnapshot()
	}
	if improved, _ := b.Observe(2, 5, tie); improved {
		t.Error("Equal loss should not improve")
	}
	if calls != 0 {
		t.Error("Snapshot should only be taken on improvement")
	}
	if b.Iteration != 1 {
		t.Errorf("Expected best iteration 1, got %d", b.Iteration)
	}
}

func TestBestStateSnapshotError(t *testing.T) {
	b := NewBestState()
	boom := errors.New("boom")
	_, err := b.Observe(0, 1, func() (*imageutil.RGBAImage, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Expected snapshot error, got %v", err)
	}
	if !math.IsInf(b.Loss, 1) || b.HasImage() {
		t.Error("Failed snapshot should leave state unchanged")
	}
}
