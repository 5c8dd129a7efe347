package main

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/AllenNeuralDynamics/voxel-client/internal/catalog"
	"github.com/AllenNeuralDynamics/voxel-client/internal/grid"
	"github.com/AllenNeuralDynamics/voxel-client/internal/reactive"
)

// fakeCatalog implements CatalogAPI for App tests that don't need a live rig.
type fakeCatalog struct {
	devices         *reactive.Cell[[]string]
	deviceByID      map[string]*catalog.Device
	setPropertyErr  error
	setPropertiesErr error
	executeErr      error

	lastSetDevice, lastSetName string
	lastSetValue                any
	lastCommandDevice, lastCommand string
	lastCommandArgs              []any
	lastCommandOpts              catalog.CommandOptions
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		devices:    reactive.NewCell([]string{}),
		deviceByID: make(map[string]*catalog.Device),
	}
}

func (f *fakeCatalog) Initialize(ctx context.Context) error { return nil }
func (f *fakeCatalog) Devices() *reactive.Cell[[]string]     { return f.devices }
func (f *fakeCatalog) Device(id string) *catalog.Device      { return f.deviceByID[id] }

func (f *fakeCatalog) SetProperty(device, name string, value any) error {
	f.lastSetDevice, f.lastSetName, f.lastSetValue = device, name, value
	return f.setPropertyErr
}

func (f *fakeCatalog) SetProperties(device string, properties map[string]any) error {
	return f.setPropertiesErr
}

func (f *fakeCatalog) ExecuteCommand(device, command string, args []any, opts catalog.CommandOptions) error {
	f.lastCommandDevice, f.lastCommand, f.lastCommandArgs, f.lastCommandOpts = device, command, args, opts
	return f.executeErr
}

func TestGetBuildInfoPopulatesRuntimeFields(t *testing.T) {
	a := NewApp()
	info := a.GetBuildInfo()
	if info.GoVersion == "" {
		t.Error("expected non-empty GoVersion")
	}
	if info.GOOS == "" || info.GOARCH == "" {
		t.Error("expected non-empty GOOS/GOARCH")
	}
}

func TestDefaultRigAddrPrefersEnvVar(t *testing.T) {
	a := NewApp()
	a.cfg.RigAddr = "fromconfig:8080"

	os.Unsetenv("VOXEL_RIG_ADDR")
	if got := a.DefaultRigAddr(); got != "fromconfig:8080" {
		t.Errorf("expected config fallback, got %q", got)
	}

	os.Setenv("VOXEL_RIG_ADDR", "fromenv:9000")
	defer os.Unsetenv("VOXEL_RIG_ADDR")
	if got := a.DefaultRigAddr(); got != "fromenv:9000" {
		t.Errorf("expected env override, got %q", got)
	}
}

func TestGetStartupAddrReturnsParsedValue(t *testing.T) {
	a := NewApp()
	a.startupAddr = "10.0.0.5:8080"
	if got := a.GetStartupAddr(); got != "10.0.0.5:8080" {
		t.Errorf("expected '10.0.0.5:8080', got %q", got)
	}
}

func TestApplyConfigUpdatesInMemoryOnly(t *testing.T) {
	a := NewApp()
	before := a.GetConfig()
	updated := before
	updated.Theme = "light"
	updated.MaxChannels = 8

	a.ApplyConfig(updated)

	got := a.GetConfig()
	if got.Theme != "light" || got.MaxChannels != 8 {
		t.Errorf("ApplyConfig did not update in-memory config: %+v", got)
	}
}

func TestConnectedOnlyMethodsFailWithoutConnection(t *testing.T) {
	a := NewApp()

	if msg := a.SetProperty("cam0", "exposure_ms", 10.0); msg != "not connected" {
		t.Errorf("SetProperty: expected 'not connected', got %q", msg)
	}
	if msg := a.ExecuteCommand("cam0", "start", nil, false); msg != "not connected" {
		t.Errorf("ExecuteCommand: expected 'not connected', got %q", msg)
	}
	if msg := a.StartPreview(); msg != "not connected" {
		t.Errorf("StartPreview: expected 'not connected', got %q", msg)
	}
	if msg := a.StopPreview(); msg != "not connected" {
		t.Errorf("StopPreview: expected 'not connected', got %q", msg)
	}
	if msg := a.MoveToTile(grid.Tile{}); msg != "not connected" {
		t.Errorf("MoveToTile: expected 'not connected', got %q", msg)
	}
	if msg := a.CreateStack(grid.Tile{}, 0, 100, "default"); msg != "not connected" {
		t.Errorf("CreateStack: expected 'not connected', got %q", msg)
	}
	if msg := a.EditStack(0, 0, map[string]any{"status": "committed"}); msg != "not connected" {
		t.Errorf("EditStack: expected 'not connected', got %q", msg)
	}
	if msg := a.DeleteStack(0, 0); msg != "not connected" {
		t.Errorf("DeleteStack: expected 'not connected', got %q", msg)
	}

	if got := a.ListDevices(); got != nil {
		t.Errorf("ListDevices: expected nil without a catalog, got %v", got)
	}
	if got := a.GetDevice("cam0"); got != nil {
		t.Errorf("GetDevice: expected nil without a catalog, got %v", got)
	}
	if got := a.GetChannels(); got != nil {
		t.Errorf("GetChannels: expected nil without a preview controller, got %v", got)
	}

	// Pointer/wheel/visibility/colormap/intensity methods are no-ops when
	// disconnected and must not panic.
	a.PointerDown(0, 0)
	a.PointerMove(1, 1)
	a.PointerUp()
	a.WheelZoom(-1, 0.5, 0.5, 512, 2048)
	a.SetChannelVisibility("488", true)
	a.SetChannelColormap("488", "viridis")
	a.SetChannelIntensity("488", 0, 1)
	a.ResetCrop()
}

func TestListDevicesDelegatesToCatalog(t *testing.T) {
	a := NewApp()
	cat := newFakeCatalog()
	cat.devices.Set([]string{"cam0", "stage-x"})
	a.cat = cat

	got := a.ListDevices()
	if len(got) != 2 || got[0] != "cam0" || got[1] != "stage-x" {
		t.Errorf("expected [cam0 stage-x], got %v", got)
	}
}

func TestSetPropertyDelegatesToCatalog(t *testing.T) {
	a := NewApp()
	cat := newFakeCatalog()
	a.cat = cat

	if msg := a.SetProperty("cam0", "exposure_ms", 12.5); msg != "" {
		t.Fatalf("unexpected error message: %q", msg)
	}
	if cat.lastSetDevice != "cam0" || cat.lastSetName != "exposure_ms" {
		t.Errorf("SetProperty did not reach the catalog with the right args: %+v", cat)
	}
}

func TestSetPropertySurfacesCatalogError(t *testing.T) {
	a := NewApp()
	cat := newFakeCatalog()
	cat.setPropertyErr = errors.New("device rejected value")
	a.cat = cat

	if msg := a.SetProperty("cam0", "exposure_ms", -1.0); msg != "device rejected value" {
		t.Errorf("expected the catalog's error message, got %q", msg)
	}
}

func TestExecuteCommandPassesWaitOption(t *testing.T) {
	a := NewApp()
	cat := newFakeCatalog()
	a.cat = cat

	a.ExecuteCommand("stage-x", "home", []any{}, true)
	if !cat.lastCommandOpts.Wait {
		t.Error("expected Wait:true to be forwarded to the catalog")
	}
	if cat.lastCommandDevice != "stage-x" || cat.lastCommand != "home" {
		t.Errorf("unexpected command dispatch: %+v", cat)
	}
}

func TestGetDeviceReturnsNilForUnknownID(t *testing.T) {
	a := NewApp()
	cat := newFakeCatalog()
	a.cat = cat

	if got := a.GetDevice("nonexistent"); got != nil {
		t.Errorf("expected nil for unknown device, got %+v", got)
	}
}
