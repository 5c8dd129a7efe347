package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	wailsrt "github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/AllenNeuralDynamics/voxel-client/internal/catalog"
	"github.com/AllenNeuralDynamics/voxel-client/internal/compositor"
	"github.com/AllenNeuralDynamics/voxel-client/internal/config"
	"github.com/AllenNeuralDynamics/voxel-client/internal/frame"
	"github.com/AllenNeuralDynamics/voxel-client/internal/grid"
	"github.com/AllenNeuralDynamics/voxel-client/internal/preview"
	"github.com/AllenNeuralDynamics/voxel-client/internal/transport"
)

// App bridges the Go backend with the Wails/Vue frontend. Wails-bound
// methods (Connect, Get*, Set*) are callable from JS. Keep this struct
// thin — delegate to Transport, Catalog, Preview Controller, and Grid
// Model.
type App struct {
	ctx context.Context
	log zerolog.Logger

	startupAddr string // host:port extracted from a voxel:// CLI argument, if any

	mu      sync.Mutex
	cfg     config.Config
	tr      *transport.Transport
	cat     CatalogAPI
	preview *preview.Controller
	grid    *grid.Model
}

var (
	buildCommit = "dev"
	buildTime   = ""
)

// BuildInfo contains local app build/runtime details shown in Settings > About.
type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	GOOS      string `json:"goos"`
	GOARCH    string `json:"goarch"`
	Dirty     bool   `json:"dirty"`
}

// NewApp creates a new App with defaults loaded from disk.
func NewApp() *App {
	return &App{
		log: zerolog.New(os.Stderr).With().Timestamp().Str("component", "app").Logger(),
		cfg: config.Load(),
	}
}

// startup is called when the Wails app starts.
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	wailsrt.OnFileDrop(ctx, func(x, y int, paths []string) {
		// Grid profile files may be dropped onto the stage view; the Vue
		// layer decides what to do with them.
		if len(paths) == 0 {
			return
		}
		wailsrt.EventsEmit(ctx, "file:dropped", map[string]any{"paths": paths})
	})
}

// shutdown is called when the Wails app is closing.
func (a *App) shutdown(_ context.Context) {
	a.Disconnect()
}

// Connect dials the rig server at addr, bootstraps the device catalog, and
// wires up the preview controller and grid model. addr may be a bare host,
// host:port, or voxel:// link.
func (a *App) Connect(addr string) string {
	normalized, err := normalizeServerAddr(addr)
	if err != nil {
		return err.Error()
	}

	a.mu.Lock()
	if a.tr != nil {
		a.mu.Unlock()
		a.Disconnect()
		a.mu.Lock()
	}

	url := "ws://" + normalized + "/ws"
	tr := transport.New(url, transport.Config{
		AutoReconnect:           a.cfg.AutoReconnect,
		InitialReconnectDelayMs: a.cfg.InitialReconnectDelayMs,
		MaxReconnectDelayMs:     a.cfg.MaxReconnectDelayMs,
		MaxReconnectAttempts:    a.cfg.MaxReconnectAttempts,
	}, a.log)

	cat := catalog.New("http://"+normalized, tr, a.log)
	coll := frame.New(a.cfg.MaxChannels)

	// The Wails runtime does not currently expose a native window handle to
	// Go, so the device comes up with no bound display surface (see
	// compositor.NewDefaultDevice). Every other GPU resource — pipeline,
	// buffers, per-channel textures and LUTs, bind groups — is live and
	// driven by the render loop regardless; only the final present is
	// deferred until compositor.BindSurface is wired to a real handle.
	var comp *compositor.Compositor
	dev, err := compositor.NewDefaultDevice()
	if err != nil {
		a.log.Warn().Err(err).Msg("GPU device unavailable; preview will run without compositing")
	} else if comp, err = compositor.New(dev, a.cfg.MaxChannels, a.log); err != nil {
		a.log.Warn().Err(err).Msg("failed to build compositor; preview will run without compositing")
		comp = nil
	}

	pv := preview.New(preview.Config{
		MaxChannels:      a.cfg.MaxChannels,
		DebounceDelayMs:  a.cfg.DebounceDelayMs,
		WheelIdleDelayMs: a.cfg.WheelIdleDelayMs,
		RenderIntervalMs: 33,
	}, tr, coll, comp, a.log)

	gm := grid.New(grid.Config{
		XOffsetUm:       a.cfg.XOffsetUm,
		YOffsetUm:       a.cfg.YOffsetUm,
		Overlap:         a.cfg.Overlap,
		ZStepUm:         a.cfg.ZStepUm,
		DefaultZStartUm: a.cfg.DefaultZStartUm,
		DefaultZEndUm:   a.cfg.DefaultZEndUm,
	}, tr, a.cfg.XStageDevice, a.cfg.YStageDevice)

	a.tr = tr
	a.cat = cat
	a.preview = pv
	a.grid = gm
	a.mu.Unlock()

	tr.OnConnectionChange(func(connected bool) {
		wailsrt.EventsEmit(a.ctx, "connection:state", map[string]any{"connected": connected})
	})
	tr.OnError(func(err error) {
		a.log.Warn().Err(err).Msg("transport error")
		wailsrt.EventsEmit(a.ctx, "connection:error", map[string]any{"message": err.Error()})
	})
	cat.Devices().Subscribe(func(ids []string) {
		wailsrt.EventsEmit(a.ctx, "catalog:devices", ids)
	})

	ctx := context.Background()
	if err := pv.Init(ctx); err != nil {
		return fmt.Sprintf("connect: %v", err)
	}
	if err := cat.Initialize(ctx); err != nil {
		return fmt.Sprintf("catalog init: %v", err)
	}
	return ""
}

// Disconnect tears down the active rig connection, if any.
func (a *App) Disconnect() {
	a.mu.Lock()
	pv := a.preview
	a.tr = nil
	a.cat = nil
	a.preview = nil
	a.grid = nil
	a.mu.Unlock()

	if pv != nil {
		pv.Shutdown()
	}
}

// GetStartupAddr returns the host:port extracted from a voxel:// command-line
// argument passed when the app was launched. Returns "" if none was provided.
func (a *App) GetStartupAddr() string {
	return a.startupAddr
}

// DefaultRigAddr returns the rig address to pre-populate the connect dialog
// with: the VOXEL_RIG_ADDR environment variable, falling back to the saved
// config.
func (a *App) DefaultRigAddr() string {
	if addr := os.Getenv("VOXEL_RIG_ADDR"); addr != "" {
		return addr
	}
	return a.cfg.RigAddr
}

// GetBuildInfo returns application build/runtime details for diagnostics.
func (a *App) GetBuildInfo() BuildInfo {
	info := BuildInfo{
		Commit:    buildCommit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
		GOOS:      runtime.GOOS,
		GOARCH:    runtime.GOARCH,
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		if bi.GoVersion != "" {
			info.GoVersion = bi.GoVersion
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" || info.Commit == "dev" {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.BuildTime == "" {
					info.BuildTime = s.Value
				}
			case "vcs.modified":
				info.Dirty = s.Value == "true"
			}
		}
	}
	return info
}

// GetConfig returns the current persisted configuration.
func (a *App) GetConfig() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ApplyConfig updates the in-memory config without persisting it.
func (a *App) ApplyConfig(cfg Config) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
}

// SaveConfig persists cfg to disk and applies it in-memory.
func (a *App) SaveConfig(cfg Config) string {
	a.ApplyConfig(cfg)
	if err := SaveConfig(cfg); err != nil {
		return err.Error()
	}
	return ""
}

// --- Device catalog ---

// ListDevices returns the ids of all devices currently known to the catalog.
func (a *App) ListDevices() []string {
	cat := a.catalogOrNil()
	if cat == nil {
		return nil
	}
	return cat.Devices().Get()
}

type devicePropertyView struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
	Step  *float64 `json:"step,omitempty"`
}

type deviceView struct {
	ID         string                `json:"id"`
	Connected  bool                  `json:"connected"`
	Interface  catalog.DeviceInterface `json:"interface"`
	Properties []devicePropertyView  `json:"properties"`
}

// GetDevice returns a snapshot view of one device's properties.
func (a *App) GetDevice(id string) *deviceView {
	cat := a.catalogOrNil()
	if cat == nil {
		return nil
	}
	dev := cat.Device(id)
	if dev == nil {
		return nil
	}
	view := &deviceView{ID: dev.ID, Connected: dev.Connected, Interface: dev.Interface}
	for name, model := range dev.Values {
		value, min, max, step, _ := model.Snapshot()
		view.Properties = append(view.Properties, devicePropertyView{Name: name, Value: value, Min: min, Max: max, Step: step})
	}
	return view
}

// SetProperty requests a single property change on a device.
func (a *App) SetProperty(device, name string, value any) string {
	cat := a.catalogOrNil()
	if cat == nil {
		return "not connected"
	}
	if err := cat.SetProperty(device, name, value); err != nil {
		return err.Error()
	}
	return ""
}

// ExecuteCommand dispatches a named command on a device.
func (a *App) ExecuteCommand(device, command string, args []any, wait bool) string {
	cat := a.catalogOrNil()
	if cat == nil {
		return "not connected"
	}
	if err := cat.ExecuteCommand(device, command, args, catalog.CommandOptions{Wait: wait}); err != nil {
		return err.Error()
	}
	return ""
}

func (a *App) catalogOrNil() CatalogAPI {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cat
}

// --- Preview ---

func (a *App) previewOrNil() *preview.Controller {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.preview
}

// StartPreview requests the rig start streaming preview frames.
func (a *App) StartPreview() string {
	pv := a.previewOrNil()
	if pv == nil {
		return "not connected"
	}
	if err := pv.StartPreview(); err != nil {
		return err.Error()
	}
	return ""
}

// StopPreview requests the rig stop streaming preview frames.
func (a *App) StopPreview() string {
	pv := a.previewOrNil()
	if pv == nil {
		return "not connected"
	}
	if err := pv.StopPreview(); err != nil {
		return err.Error()
	}
	return ""
}

// GetChannels returns the current preview channel slots.
func (a *App) GetChannels() []preview.Channel {
	pv := a.previewOrNil()
	if pv == nil {
		return nil
	}
	return pv.Channels()
}

// SetChannelVisibility toggles a channel's visibility by name.
func (a *App) SetChannelVisibility(name string, visible bool) {
	if pv := a.previewOrNil(); pv != nil {
		pv.SetChannelVisibility(name, visible)
	}
}

// SetChannelColormap sets a channel's colormap by name.
func (a *App) SetChannelColormap(name, colormap string) {
	if pv := a.previewOrNil(); pv != nil {
		pv.SetChannelColormap(name, colormap)
	}
}

// SetChannelIntensity sets a channel's intensity window by name.
func (a *App) SetChannelIntensity(name string, min, max float64) {
	if pv := a.previewOrNil(); pv != nil {
		pv.SetChannelIntensity(name, min, max)
	}
}

// ResetCrop resets the preview crop to the full frame.
func (a *App) ResetCrop() {
	if pv := a.previewOrNil(); pv != nil {
		pv.ResetCrop()
	}
}

// PointerDown begins a pan gesture at the given viewport-relative coordinates.
func (a *App) PointerDown(x, y float64) {
	if pv := a.previewOrNil(); pv != nil {
		pv.PointerDown(x, y)
	}
}

// PointerMove continues a pan gesture.
func (a *App) PointerMove(x, y float64) {
	if pv := a.previewOrNil(); pv != nil {
		pv.PointerMove(x, y)
	}
}

// PointerUp ends a pan gesture.
func (a *App) PointerUp() {
	if pv := a.previewOrNil(); pv != nil {
		pv.PointerUp()
	}
}

// WheelZoom applies a mouse-anchored zoom step.
func (a *App) WheelZoom(deltaY, mouseX, mouseY float64, previewWidth, fullWidth int) {
	if pv := a.previewOrNil(); pv != nil {
		pv.WheelZoom(deltaY, mouseX, mouseY, previewWidth, fullWidth)
	}
}

// --- Grid / Stage ---

func (a *App) gridOrNil() *grid.Model {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.grid
}

// GenerateTiles lays out a grid of tiles covering the given stage extent
// using the active camera's field of view.
func (a *App) GenerateTiles(cam grid.CameraInfo, extent grid.StageExtent) []grid.Tile {
	a.mu.Lock()
	cfg := a.cfg
	a.mu.Unlock()
	w, h := grid.FOV(cam)
	return grid.GenerateTilesFromFOV(grid.Config{
		XOffsetUm: cfg.XOffsetUm,
		YOffsetUm: cfg.YOffsetUm,
		Overlap:   cfg.Overlap,
	}, w, h, extent)
}

// MoveToTile commands the X/Y stage to the given tile's center.
func (a *App) MoveToTile(t grid.Tile) string {
	gm := a.gridOrNil()
	if gm == nil {
		return "not connected"
	}
	if err := gm.MoveToTile(t); err != nil {
		return err.Error()
	}
	return ""
}

// CreateStack requests creation of an acquisition stack at tile t.
func (a *App) CreateStack(t grid.Tile, zStart, zEnd float64, profileID string) string {
	gm := a.gridOrNil()
	if gm == nil {
		return "not connected"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := gm.CreateStack(ctx, t, zStart, zEnd, profileID); err != nil {
		return err.Error()
	}
	return ""
}

// EditStack requests a field update on an existing stack.
func (a *App) EditStack(row, col int, fields map[string]any) string {
	gm := a.gridOrNil()
	if gm == nil {
		return "not connected"
	}
	if err := gm.EditStack(row, col, fields); err != nil {
		return err.Error()
	}
	return ""
}

// DeleteStack requests deletion of a stack.
func (a *App) DeleteStack(row, col int) string {
	gm := a.gridOrNil()
	if gm == nil {
		return "not connected"
	}
	if err := gm.DeleteStack(row, col); err != nil {
		return err.Error()
	}
	return ""
}

// RequestStackStatusChange validates and proxies a stack status transition.
func (a *App) RequestStackStatusChange(row, col int, from, to grid.Status) string {
	gm := a.gridOrNil()
	if gm == nil {
		return "not connected"
	}
	if err := gm.RequestStatusChange(row, col, from, to); err != nil {
		return err.Error()
	}
	return ""
}

