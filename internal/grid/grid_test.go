package grid_test

import (
	"math"
	"testing"

	"github.com/AllenNeuralDynamics/voxel-client/internal/grid"
)

func approxEqual(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestFOVDefaultMagnification(t *testing.T) {
	w, h := grid.FOV(grid.CameraInfo{PixelSizeUm: 6.5, FrameWidthPx: 2048, FrameHeightPx: 2048})
	wantW := 2048 * 6.5 / 1000.0
	if !approxEqual(w, wantW) || !approxEqual(h, wantW) {
		t.Errorf("FOV = (%v, %v), want (%v, %v)", w, h, wantW, wantW)
	}
}

func TestFOVWithMagnification(t *testing.T) {
	w, _ := grid.FOV(grid.CameraInfo{PixelSizeUm: 6.5, FrameWidthPx: 2048, FrameHeightPx: 2048, Magnification: 10})
	want := 2048 * 6.5 / (1000.0 * 10)
	if !approxEqual(w, want) {
		t.Errorf("FOV width = %v, want %v", w, want)
	}
}

func TestTileSpacingAppliesOverlap(t *testing.T) {
	dx, dy := grid.TileSpacing(1.0, 2.0, 0.1)
	if !approxEqual(dx, 0.9) || !approxEqual(dy, 1.8) {
		t.Errorf("spacing = (%v, %v), want (0.9, 1.8)", dx, dy)
	}
}

func TestGenerateTilesFromFOVClampsToStageExtent(t *testing.T) {
	cfg := grid.Config{Overlap: 0}
	extent := grid.StageExtent{XMinUm: 0, XMaxUm: 2000, YMinUm: 0, YMaxUm: 1000}
	tiles := grid.GenerateTilesFromFOV(cfg, 1.0, 1.0, extent) // 1mm FOV -> 1000um spacing

	for _, tile := range tiles {
		if tile.XUm > extent.XMaxUm || tile.YUm > extent.YMaxUm {
			t.Errorf("tile %+v exceeds stage extent %+v", tile, extent)
		}
	}
	if len(tiles) == 0 {
		t.Fatal("expected at least one tile")
	}
}

func TestGenerateTilesFromFOVZeroSpacingReturnsNil(t *testing.T) {
	cfg := grid.Config{Overlap: 1} // spacing collapses to 0
	extent := grid.StageExtent{XMaxUm: 1000, YMaxUm: 1000}
	tiles := grid.GenerateTilesFromFOV(cfg, 1.0, 1.0, extent)
	if tiles != nil {
		t.Errorf("tiles = %v, want nil for zero spacing", tiles)
	}
}

func TestStatusSummaryFormatsAcquiring(t *testing.T) {
	s := grid.Stack{Tile: grid.Tile{Row: 1, Col: 2}, Status: grid.StatusAcquiring, NumFrames: 3, ZStartUm: 0, ZEndUm: 40, ZStepUm: 10}
	got := grid.StatusSummary(s, 0)
	want := "acquiring tile (1,2): 3/5 frames"
	if got != want {
		t.Errorf("StatusSummary() = %q, want %q", got, want)
	}
}

func TestStatusSummaryIncludesHumanizedSize(t *testing.T) {
	s := grid.Stack{Tile: grid.Tile{Row: 0, Col: 0}, Status: grid.StatusCompleted}
	got := grid.StatusSummary(s, 1536)
	if got == "" {
		t.Fatal("expected non-empty summary")
	}
	if got[:len("completed (0,0): ")] != "completed (0,0): " {
		t.Errorf("StatusSummary() = %q, want prefix %q", got, "completed (0,0): ")
	}
}

func TestCanTransitionAllowsDocumentedPath(t *testing.T) {
	cases := []struct {
		from, to grid.Status
		want     bool
	}{
		{grid.StatusPlanned, grid.StatusCommitted, true},
		{grid.StatusCommitted, grid.StatusAcquiring, true},
		{grid.StatusAcquiring, grid.StatusCompleted, true},
		{grid.StatusAcquiring, grid.StatusFailed, true},
		{grid.StatusPlanned, grid.StatusSkipped, true},
		{grid.StatusCommitted, grid.StatusSkipped, true},
	}
	for _, c := range cases {
		if got := grid.CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestCanTransitionRejectsSkippedStages(t *testing.T) {
	cases := []struct{ from, to grid.Status }{
		{grid.StatusPlanned, grid.StatusAcquiring},
		{grid.StatusPlanned, grid.StatusCompleted},
		{grid.StatusCommitted, grid.StatusCompleted},
		{grid.StatusCompleted, grid.StatusAcquiring},
		{grid.StatusFailed, grid.StatusAcquiring},
		{grid.StatusSkipped, grid.StatusCommitted},
	}
	for _, c := range cases {
		if grid.CanTransition(c.from, c.to) {
			t.Errorf("CanTransition(%s, %s) = true, want false", c.from, c.to)
		}
	}
}
