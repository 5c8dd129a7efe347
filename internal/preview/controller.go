// Package preview implements the Preview Controller: channel slots, crop
// state, pan/zoom input handling, and debounced publish of crop/intensity
// changes to the rig server.
package preview

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/rs/zerolog"

	"github.com/AllenNeuralDynamics/voxel-client/internal/compositor"
	"github.com/AllenNeuralDynamics/voxel-client/internal/frame"
	"github.com/AllenNeuralDynamics/voxel-client/internal/reactive"
	"github.com/AllenNeuralDynamics/voxel-client/internal/transport"
)

// wheelIdleDelay is the default time without a wheel event before pan/zoom
// is considered finished, used when Config.WheelIdleDelayMs is not positive.
const wheelIdleDelay = 250 * time.Millisecond

// debounceDelay is the default intensity publish debounce window, used when
// Config.DebounceDelayMs is not positive.
const debounceDelay = 100 * time.Millisecond

// defaultColormaps is the fixed palette indexed by slot assigned on
// preview/status channel assignment. colormapLUT renders the name to the
// RGBA bytes the compositor uploads as a texture.
var defaultColormaps = []string{"viridis", "magma", "inferno", "cividis", "plasma", "turbo"}

// Channel is the controller's view of one preview slot.
type Channel struct {
	Name          string
	Visible       bool
	IntensityMin  float64
	IntensityMax  float64
	Colormap      string
	LatestInfo    *transport.PreviewFrameInfo
}

// Config holds Controller options.
type Config struct {
	MaxChannels      int
	DebounceDelayMs  int
	WheelIdleDelayMs int
	RenderIntervalMs int
}

// DefaultConfig matches defaults (MAX_CHANNELS defaults to 2).
func DefaultConfig() Config {
	return Config{MaxChannels: 2, DebounceDelayMs: 100, WheelIdleDelayMs: 250, RenderIntervalMs: 33}
}

// Controller owns the channel list, crop, and pan/zoom state, and
// orchestrates Transport + Collector + Compositor
type Controller struct {
	cfg  Config
	tr   *transport.Transport
	coll *frame.Collector
	comp *compositor.Compositor
	log  zerolog.Logger

	mu               sync.Mutex
	channels         []Channel
	crop             transport.Crop
	isPreviewing     bool
	isPanZoomActive  bool

	panStartCrop transport.Crop
	panStartX    float64
	panStartY    float64

	wheelIdleTimer *time.Timer

	cropDebounce      func(func())
	intensityDebounce map[string]func(func())

	statusMessage   *reactive.Cell[string]
	connectionState *reactive.Cell[string]

	unsubscribers []func()

	renderRunning bool
}

// New wires a Controller to an already-constructed Transport, Collector,
// and Compositor.
func New(cfg Config, tr *transport.Transport, coll *frame.Collector, comp *compositor.Compositor, log zerolog.Logger) *Controller {
	if cfg.MaxChannels <= 0 {
		cfg.MaxChannels = 2
	}
	return &Controller{
		cfg:               cfg,
		tr:                tr,
		coll:              coll,
		comp:              comp,
		log:               log,
		channels:          make([]Channel, cfg.MaxChannels),
		intensityDebounce: make(map[string]func(func())),
		statusMessage:     reactive.NewCell(""),
		connectionState:   reactive.NewCell("disconnected"),
	}
}

// Init connects the transport, subscribes to preview/status, and prepares
// the debounced publishers.
func (c *Controller) Init(ctx context.Context) error {
	c.mu.Lock()
	c.cropDebounce = debounce.New(time.Duration(c.cfg.DebounceDelayMs) * time.Millisecond)
	c.mu.Unlock()

	unsub := c.tr.Subscribe("preview/status", c.handlePreviewStatus)
	c.unsubscribers = append(c.unsubscribers, unsub)

	unsubFrame := c.tr.Subscribe("preview/frame", c.handlePreviewFrame)
	c.unsubscribers = append(c.unsubscribers, unsubFrame)

	if c.comp != nil {
		c.startRenderLoop()
	}

	return c.tr.Connect(ctx)
}

// Shutdown stops rendering, clears timers, disconnects, and tears down GPU
// resources.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	c.renderRunning = false
	if c.wheelIdleTimer != nil {
		c.wheelIdleTimer.Stop()
	}
	for _, unsub := range c.unsubscribers {
		unsub()
	}
	c.unsubscribers = nil
	c.channels = make([]Channel, c.cfg.MaxChannels)
	c.mu.Unlock()

	c.tr.Disconnect()
	if c.comp != nil {
		c.comp.Destroy()
	}
}

// startRenderLoop launches the render-tick goroutine driving
// compositor.RenderTick at a fixed interval (the desktop analogue of
// requestAnimationFrame), for as long as renderRunning stays true.
func (c *Controller) startRenderLoop() {
	c.renderRunning = true
	interval := time.Duration(c.cfg.RenderIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 33 * time.Millisecond
	}
	go compositor.RenderLoop(interval, c.isRenderRunning, c.renderTick)
}

func (c *Controller) isRenderRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.renderRunning
}

// activeChannelIndices returns the contiguous prefix of slot indices
// assigned a channel name by the last preview/status message — exactly the
// set handlePreviewStatus fills front-to-back.
func activeChannelIndices(channels []Channel) []int {
	indices := make([]int, 0, len(channels))
	for i, ch := range channels {
		if ch.Name == "" {
			break
		}
		indices = append(indices, i)
	}
	return indices
}

// renderTick implements the per-tick sequence (steps b-f): compute the
// desired crop, ask the collector for the latest consistent frame set,
// derive the delta between the desired crop and whatever crop the frame
// set actually carries, and hand it all to the compositor.
func (c *Controller) renderTick() {
	c.mu.Lock()
	comp := c.comp
	channels := make([]Channel, len(c.channels))
	copy(channels, c.channels)
	c.mu.Unlock()

	if comp == nil {
		return
	}

	required := activeChannelIndices(channels)
	if len(required) == 0 {
		return
	}

	desired := c.DesiredCropForRenderTick()
	result := c.coll.GetLatestFrames(desired, required)

	frameCrop := transport.Crop{}
	var frameSet *frame.Set
	if result != nil {
		frameCrop = result.Crop
		frameSet = &frame.Set{Crop: result.Crop, Frames: make([]*frame.Data, len(channels))}
		for i, slotIdx := range required {
			frameSet.Frames[slotIdx] = result.Frames[i]
		}
	}

	delta := compositor.DeltaCrop{
		X: desired.X - frameCrop.X,
		Y: desired.Y - frameCrop.Y,
		K: desired.K - frameCrop.K,
	}

	states := make([]compositor.ChannelState, len(channels))
	for i, ch := range channels {
		states[i] = compositor.ChannelState{
			Visible:  ch.Visible,
			Min:      ch.IntensityMin,
			Max:      ch.IntensityMax,
			Colormap: colormapLUT(ch.Colormap),
		}
	}

	comp.RenderTick(frameSet, states, delta)
}

// StartPreview requests the server start streaming frames.
func (c *Controller) StartPreview() error {
	c.mu.Lock()
	c.isPreviewing = true
	c.mu.Unlock()
	return c.tr.Send("preview/start", nil)
}

// StopPreview requests the server stop streaming frames.
func (c *Controller) StopPreview() error {
	c.mu.Lock()
	c.isPreviewing = false
	c.mu.Unlock()
	return c.tr.Send("preview/stop", nil)
}

// Channels returns a snapshot copy of the current channel slots.
func (c *Controller) Channels() []Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Channel, len(c.channels))
	copy(out, c.channels)
	return out
}

// Crop returns the current user crop.
func (c *Controller) Crop() transport.Crop {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.crop
}

type previewStatusPayload struct {
	Channels []string `json:"channels"`
}

// handlePreviewStatus implements channel assignment: slots
// 0..min(n,MaxChannels) get names, become visible, reset intensity to
// [0,1], and are given a default colormap by slot index; extra slots are
// disposed.
func (c *Controller) handlePreviewStatus(msg transport.Message) {
	var payload previewStatusPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.log.Warn().Err(err).Msg("malformed preview/status payload")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(payload.Channels)
	if n > c.cfg.MaxChannels {
		n = c.cfg.MaxChannels
	}
	for i := range c.channels {
		if i < n {
			c.channels[i] = Channel{
				Name:         payload.Channels[i],
				Visible:      true,
				IntensityMin: 0,
				IntensityMax: 1,
				Colormap:     defaultColormaps[i%len(defaultColormaps)],
			}
		} else {
			c.channels[i] = Channel{}
		}
	}
}

func (c *Controller) handlePreviewFrame(msg transport.Message) {
	if msg.Frame == nil {
		return
	}
	c.mu.Lock()
	idx := c.channelIndex(msg.Frame.Channel)
	if idx >= 0 {
		c.channels[idx].LatestInfo = &msg.Frame.Info
	}
	c.mu.Unlock()

	if idx < 0 {
		msg.Frame.Bitmap.Release()
		return
	}
	c.coll.CollectFrame(idx, msg.Frame.Info, msg.Frame.Bitmap)
}

func (c *Controller) channelIndex(name string) int {
	for i, ch := range c.channels {
		if ch.Name == name {
			return i
		}
	}
	return -1
}

// SetChannelVisibility toggles a channel's visibility by name.
func (c *Controller) SetChannelVisibility(name string, visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx := c.channelIndex(name); idx >= 0 {
		c.channels[idx].Visible = visible
	}
}

// SetChannelColormap sets a channel's colormap by name.
func (c *Controller) SetChannelColormap(name, cmap string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx := c.channelIndex(name); idx >= 0 {
		c.channels[idx].Colormap = cmap
	}
}

// SetChannelIntensity updates a channel's intensity window locally and
// queues a debounced publish.
func (c *Controller) SetChannelIntensity(name string, min, max float64) {
	c.mu.Lock()
	idx := c.channelIndex(name)
	if idx >= 0 {
		c.channels[idx].IntensityMin = min
		c.channels[idx].IntensityMax = max
	}
	fn, ok := c.intensityDebounce[name]
	if !ok {
		delay := time.Duration(c.cfg.DebounceDelayMs) * time.Millisecond
		if delay <= 0 {
			delay = debounceDelay
		}
		fn = debounce.New(delay)
		c.intensityDebounce[name] = fn
	}
	c.mu.Unlock()

	fn(func() {
		if err := c.tr.Send("preview/levels", map[string]any{"channel": name, "min": min, "max": max}); err != nil {
			c.log.Warn().Err(err).Str("channel", name).Msg("failed to publish intensity")
		}
	})
}

// ResetCrop sets the crop back to {0,0,0} and publishes it immediately
// (no debounce — an explicit user action, not a rapid-fire input stream).
func (c *Controller) ResetCrop() {
	c.mu.Lock()
	c.crop = transport.Crop{}
	c.mu.Unlock()
	if err := c.tr.Send("preview/crop", transport.Crop{}); err != nil {
		c.log.Warn().Err(err).Msg("failed to publish crop reset")
	}
}
