package frame_test

import (
	"testing"

	"github.com/AllenNeuralDynamics/voxel-client/internal/frame"
	"github.com/AllenNeuralDynamics/voxel-client/internal/transport"
)

type fakeBitmap struct{ released bool }

func (f *fakeBitmap) Bounds() (int, int) { return 4, 4 }
func (f *fakeBitmap) Pix() []byte        { return nil }
func (f *fakeBitmap) Release()           { f.released = true }

func TestGetLatestFramesReturnsNilWhenIncomplete(t *testing.T) {
	c := frame.New(2)
	if got := c.GetLatestFrames(transport.Crop{}, []int{0, 1}); got != nil {
		t.Fatalf("GetLatestFrames() = %v, want nil before any frame arrives", got)
	}
}

// TestFrameSelectionMatchesRequestedCrop checks that the collector returns
// the cropped set when the requested crop matches it, and falls back to
// the original set when the caller asks for {0,0,0} during pan/zoom.
func TestFrameSelectionMatchesRequestedCrop(t *testing.T) {
	c := frame.New(2)
	crop := transport.Crop{X: 0.1, Y: 0.1, K: 0.2}

	c.CollectFrame(0, transport.PreviewFrameInfo{FrameIdx: 1, Crop: transport.Crop{}}, &fakeBitmap{})
	c.CollectFrame(1, transport.PreviewFrameInfo{FrameIdx: 1, Crop: transport.Crop{}}, &fakeBitmap{})
	c.CollectFrame(0, transport.PreviewFrameInfo{Crop: crop}, &fakeBitmap{})
	c.CollectFrame(1, transport.PreviewFrameInfo{Crop: crop}, &fakeBitmap{})

	// isPanZoomActive=false, user crop == crop: expect the cropped set.
	got := c.GetLatestFrames(crop, []int{0, 1})
	if got == nil {
		t.Fatal("GetLatestFrames() = nil, want cropped set")
	}
	if got.Crop != crop {
		t.Errorf("Crop = %+v, want %+v", got.Crop, crop)
	}
	for i, d := range got.Frames {
		if d == nil {
			t.Errorf("Frames[%d] = nil, want non-nil", i)
		}
	}

	// Pointer-down: pan/zoom active, render loop asks for {0,0,0}.
	original := c.GetLatestFrames(transport.Crop{}, []int{0, 1})
	if original == nil {
		t.Fatal("GetLatestFrames({0,0,0}) = nil, want original set")
	}
	if !original.Crop.IsZero() {
		t.Errorf("Crop = %+v, want zero", original.Crop)
	}
}

// TestGetLatestFramesFallsBackOnInconsistentCroppedBuffer covers the case
// where channels arrive with mismatched crops mid-transition.
func TestGetLatestFramesFallsBackOnInconsistentCroppedBuffer(t *testing.T) {
	c := frame.New(2)
	cropA := transport.Crop{X: 0.1, Y: 0.1, K: 0.2}
	cropB := transport.Crop{X: 0.2, Y: 0.2, K: 0.3}

	c.CollectFrame(0, transport.PreviewFrameInfo{Crop: transport.Crop{}}, &fakeBitmap{})
	c.CollectFrame(1, transport.PreviewFrameInfo{Crop: transport.Crop{}}, &fakeBitmap{})
	c.CollectFrame(0, transport.PreviewFrameInfo{Crop: cropA}, &fakeBitmap{})
	c.CollectFrame(1, transport.PreviewFrameInfo{Crop: cropB}, &fakeBitmap{})

	got := c.GetLatestFrames(cropA, []int{0, 1})
	if got == nil {
		t.Fatal("GetLatestFrames() = nil, want fallback to original")
	}
	if !got.Crop.IsZero() {
		t.Errorf("Crop = %+v, want zero (fallback to original)", got.Crop)
	}
}

func TestCollectFrameReleasesReplacedBitmap(t *testing.T) {
	c := frame.New(1)
	first := &fakeBitmap{}
	second := &fakeBitmap{}

	c.CollectFrame(0, transport.PreviewFrameInfo{Crop: transport.Crop{}}, first)
	c.CollectFrame(0, transport.PreviewFrameInfo{Crop: transport.Crop{}}, second)

	if !first.released {
		t.Error("replaced original bitmap was not released")
	}
	if second.released {
		t.Error("current bitmap should not be released")
	}
}

func TestCollectFrameIgnoresOutOfRangeChannel(t *testing.T) {
	c := frame.New(1)
	bmp := &fakeBitmap{}
	c.CollectFrame(5, transport.PreviewFrameInfo{}, bmp)
	if !bmp.released {
		t.Error("out-of-range channel frame should be released immediately")
	}
}
