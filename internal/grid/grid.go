// Package grid implements the Grid/Stage Model: FOV math, tile generation,
// and stack lifecycle proxied to the rig server.
package grid

import (
	"context"
	"fmt"
	"math"

	"github.com/dustin/go-humanize"

	"github.com/AllenNeuralDynamics/voxel-client/internal/transport"
)

// Status is a stack's acquisition lifecycle state.
type Status string

const (
	StatusPlanned   Status = "planned"
	StatusCommitted Status = "committed"
	StatusAcquiring Status = "acquiring"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// validTransitions enumerates the legal next states for each stack status:
// planned -> committed -> acquiring -> {completed, failed}, and either
// planned or committed can be skipped directly.
var validTransitions = map[Status][]Status{
	StatusPlanned:   {StatusCommitted, StatusSkipped},
	StatusCommitted: {StatusAcquiring, StatusSkipped},
	StatusAcquiring: {StatusCompleted, StatusFailed},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusSkipped:   {},
}

// CanTransition reports whether a stack may move from 'from' to 'to'.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition is returned when a caller requests a status change
// that skips over a required intermediate stage.
type ErrInvalidTransition struct {
	From, To Status
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("grid: invalid stack status transition %s -> %s", e.From, e.To)
}

// Tile is one grid cell; center position is authoritative.
type Tile struct {
	Row, Col     int
	XUm, YUm     float64
	WUm, HUm     float64
}

// Stack is a Tile plus its acquisition parameters and status.
type Stack struct {
	Tile
	ZStartUm   float64
	ZEndUm     float64
	ZStepUm    float64
	ProfileID  string
	Status     Status
	NumFrames  int
	OutputPath string
}

// Config holds the grid's spacing and default acquisition parameters.
type Config struct {
	XOffsetUm        float64
	YOffsetUm        float64
	Overlap          float64// [0, 0.5]
	ZStepUm          float64
	DefaultZStartUm  float64
	DefaultZEndUm    float64
}

// CameraInfo is the detection camera parameters FOV is derived from.
type CameraInfo struct {
	PixelSizeUm    float64
	FrameWidthPx   int
	FrameHeightPx  int
	Magnification  float64 // 1 unless configured
}

// FOV returns the field of view in millimeters for cam:
// fov = frame*pixel/(1000*magnification).
func FOV(cam CameraInfo) (widthMM, heightMM float64) {
	mag := cam.Magnification
	if mag <= 0 {
		mag = 1
	}
	widthMM = float64(cam.FrameWidthPx) * cam.PixelSizeUm / (1000 * mag)
	heightMM = float64(cam.FrameHeightPx) * cam.PixelSizeUm / (1000 * mag)
	return widthMM, heightMM
}

// TileSpacing returns the center-to-center spacing in millimeters for a
// grid with the given FOV and overlap fraction.
func TileSpacing(fovWidthMM, fovHeightMM, overlap float64) (dx, dy float64) {
	return fovWidthMM * (1 - overlap), fovHeightMM * (1 - overlap)
}

// StageExtent bounds the physical travel range, in micrometers, available
// for tile generation.
type StageExtent struct {
	XMinUm, XMaxUm float64
	YMinUm, YMaxUm float64
}

// GenerateTilesFromFOV lays out a grid of tiles covering extent, spaced by
// TileSpacing of the given FOV (in millimeters) and cfg.Overlap, converted
// to micrometers, anchored at cfg.XOffsetUm/YOffsetUm. Tile centers are
// authoritative. Returns nil when the spacing is not positive.
func GenerateTilesFromFOV(cfg Config, fovWidthMM, fovHeightMM float64, extent StageExtent) []Tile {
	spacingXUm, spacingYUm := TileSpacing(fovWidthMM, fovHeightMM, cfg.Overlap)
	spacingXUm *= 1000
	spacingYUm *= 1000
	fovWUm := fovWidthMM * 1000
	fovHUm := fovHeightMM * 1000

	if spacingXUm <= 0 || spacingYUm <= 0 {
		return nil
	}

	width := extent.XMaxUm - extent.XMinUm
	height := extent.YMaxUm - extent.YMinUm
	cols := int(math.Max(1, math.Floor(width/spacingXUm)+1))
	rows := int(math.Max(1, math.Floor(height/spacingYUm)+1))

	tiles := make([]Tile, 0, rows*cols)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			x := extent.XMinUm + cfg.XOffsetUm + float64(col)*spacingXUm
			y := extent.YMinUm + cfg.YOffsetUm + float64(row)*spacingYUm
			if x > extent.XMaxUm || y > extent.YMaxUm {
				continue
			}
			tiles = append(tiles, Tile{
				Row: row, Col: col,
				XUm: x, YUm: y,
				WUm: fovWUm, HUm: fovHUm,
			})
		}
	}
	return tiles
}

// Model owns tile/stack bookkeeping and proxies stack CRUD to the server;
// it does not itself track authoritative acquisition state beyond what the
// server has echoed back.
type Model struct {
	cfg Config
	tr  *transport.Transport

	xDevice, yDevice string
}

// New creates a Model bound to the rig's X/Y stage device ids.
func New(cfg Config, tr *transport.Transport, xDevice, yDevice string) *Model {
	return &Model{cfg: cfg, tr: tr, xDevice: xDevice, yDevice: yDevice}
}

// MoveToTile sends move_abs to the X and Y stage devices with wait=false.
func (m *Model) MoveToTile(t Tile) error {
	if err := m.tr.Send("device/command", map[string]any{
		"device": m.xDevice, "command": "move_abs", "args": []any{t.XUm},
	}); err != nil {
		return fmt.Errorf("grid: move X: %w", err)
	}
	return m.tr.Send("device/command", map[string]any{
		"device": m.yDevice, "command": "move_abs", "args": []any{t.YUm},
	})
}

// CreateStack proxies stack creation to the server; the returned Stack
// reflects only the request, not yet the server's authoritative state.
func (m *Model) CreateStack(ctx context.Context, t Tile, zStart, zEnd float64, profileID string) (*Stack, error) {
	s := &Stack{
		Tile:      t,
		ZStartUm:  zStart,
		ZEndUm:    zEnd,
		ZStepUm:   m.cfg.ZStepUm,
		ProfileID: profileID,
		Status:    StatusPlanned,
	}
	if err := m.tr.Send("stacks/create", map[string]any{
		"row": t.Row, "col": t.Col,
		"x_um": t.XUm, "y_um": t.YUm,
		"z_start_um": zStart, "z_end_um": zEnd,
		"z_step_um": m.cfg.ZStepUm, "profile_id": profileID,
	}); err != nil {
		return nil, fmt.Errorf("grid: create stack: %w", err)
	}
	return s, nil
}

// EditStack proxies a stack edit to the server by (row, col) identity.
func (m *Model) EditStack(row, col int, fields map[string]any) error {
	fields["row"] = row
	fields["col"] = col
	return m.tr.Send("stacks/edit", fields)
}

// DeleteStack proxies a stack deletion to the server.
func (m *Model) DeleteStack(row, col int) error {
	return m.tr.Send("stacks/delete", map[string]any{"row": row, "col": col})
}

// RequestStatusChange validates that from -> to is a legal stack status
// transition before proxying the change to the server; the UI uses this to
// decide which status-change actions to enable for a given stack.
func (m *Model) RequestStatusChange(row, col int, from, to Status) error {
	if !CanTransition(from, to) {
		return &ErrInvalidTransition{From: from, To: to}
	}
	return m.EditStack(row, col, map[string]any{"status": string(to)})
}

// StatusSummary renders a human-readable one-line summary of a stack's
// acquisition progress, using humanize for the output size.
func StatusSummary(s Stack, outputBytes uint64) string {
	if s.Status == StatusAcquiring {
		return fmt.Sprintf("acquiring tile (%d,%d): %d/%d frames", s.Row, s.Col, s.NumFrames, expectedFrames(s))
	}
	if outputBytes == 0 {
		return fmt.Sprintf("%s (%d,%d)", s.Status, s.Row, s.Col)
	}
	return fmt.Sprintf("%s (%d,%d): %s", s.Status, s.Row, s.Col, humanize.Bytes(outputBytes))
}

func expectedFrames(s Stack) int {
	if s.ZStepUm <= 0 {
		return 0
	}
	return int(math.Round((s.ZEndUm-s.ZStartUm)/s.ZStepUm)) + 1
}
