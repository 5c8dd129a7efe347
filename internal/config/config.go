// Package config manages persistent user preferences for the voxel preview
// client. Settings are stored as JSON at os.UserConfigDir()/voxel-client/config.json.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds all persistent user preferences: rig connection, reconnect
// policy, channel/debounce tuning, and grid/stage defaults.
type Config struct {
	Theme string `json:"theme"`

	RigAddr string `json:"rig_addr"`

	AutoReconnect           bool `json:"auto_reconnect"`
	InitialReconnectDelayMs int  `json:"initial_reconnect_delay_ms"`
	MaxReconnectDelayMs     int  `json:"max_reconnect_delay_ms"`
	MaxReconnectAttempts    int  `json:"max_reconnect_attempts"`

	MaxChannels      int `json:"max_channels"`
	DebounceDelayMs  int `json:"debounce_delay_ms"`
	WheelIdleDelayMs int `json:"wheel_idle_delay_ms"`

	XOffsetUm       float64 `json:"x_offset_um"`
	YOffsetUm       float64 `json:"y_offset_um"`
	Overlap         float64 `json:"overlap"`
	ZStepUm         float64 `json:"z_step_um"`
	DefaultZStartUm float64 `json:"default_z_start_um"`
	DefaultZEndUm   float64 `json:"default_z_end_um"`

	PixelSizeUm   float64 `json:"pixel_size_um"`
	FrameWidthPx  int     `json:"frame_width_px"`
	FrameHeightPx int     `json:"frame_height_px"`
	Magnification float64 `json:"magnification"`

	XStageDevice string `json:"x_stage_device"`
	YStageDevice string `json:"y_stage_device"`

	Servers []ServerEntry `json:"servers"`
}

// ServerEntry is a saved rig address shown in the server browser.
type ServerEntry struct {
	Name string `json:"name"`
	Addr string `json:"addr"`
}

// Default returns a Config populated with sensible defaults for a
// freshly installed client.
func Default() Config {
	return Config{
		Theme:                   "dark",
		RigAddr:                 "localhost:8080",
		AutoReconnect:           true,
		InitialReconnectDelayMs: 1000,
		MaxReconnectDelayMs:     15000,
		MaxReconnectAttempts:    10,
		MaxChannels:             2,
		DebounceDelayMs:         100,
		WheelIdleDelayMs:        250,
		Overlap:                 0.1,
		ZStepUm:                 1.0,
		DefaultZStartUm:         0,
		DefaultZEndUm:           100,
		PixelSizeUm:             6.5,
		FrameWidthPx:            2048,
		FrameHeightPx:           2048,
		Magnification:           1,
		XStageDevice:            "stage_x",
		YStageDevice:            "stage_y",
		Servers: []ServerEntry{
			{Name: "Local Dev Rig", Addr: "localhost:8080"},
		},
	}
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "voxel-client", "config.json"), nil
}

// Load reads the config file and returns it. If the file is missing or
// unreadable, the default config is returned — never an error.
func Load() Config {
	path, err := Path()
	if err != nil {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default()
	}
	return cfg
}

// Save writes cfg to disk, creating the directory if needed.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
