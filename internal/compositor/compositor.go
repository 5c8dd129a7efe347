// Package compositor implements the GPU-side render pipeline: per-channel
// textures and LUTs, a single uniform buffer, and a render tick that
// composites the frame collector's latest frames.
package compositor

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/AllenNeuralDynamics/voxel-client/internal/frame"
)

// lutResolution is the fixed LUT texture width.
const lutResolution = 256

// ChannelState is the compositor's per-slot view of channel configuration,
// supplied by the Preview Controller on every tick.
type ChannelState struct {
	Visible     bool
	Min, Max    float64
	Colormap    []byte // lutResolution*4 RGBA bytes, or nil for passthrough grayscale
}

// slot holds the GPU resources for one channel.
type slot struct {
	tex       Texture
	lut       Texture
	texW      int
	texH      int
	lutLoaded bool
}

// Compositor owns every GPU resource for the preview pipeline: one render
// pipeline, one uniform buffer, one sampler, per-slot frame+LUT textures,
// and a dummy texture standing in for slots that have no texture yet.
type Compositor struct {
	dev         Device
	log         zerolog.Logger
	maxChannels int

	pipeline RenderPipeline
	sampler  Sampler
	uniforms Buffer
	dummy    Texture

	mu        sync.Mutex
	slots     []*slot
	bindGroup BindGroup
	bindDirty bool

	lossHandler func(reason string)
}

// New acquires pipeline, sampler, uniform buffer, and dummy texture from
// dev, and builds the initial bind group. Per-slot frame and LUT textures
// are created later, on the first RenderTick that needs them.
func New(dev Device, maxChannels int, log zerolog.Logger) (*Compositor, error) {
	pipeline, err := dev.CreateRenderPipeline(FormatShaderConstants(maxChannels))
	if err != nil {
		return nil, fmt.Errorf("compositor: create pipeline: %w", err)
	}
	sampler, err := dev.CreateSampler()
	if err != nil {
		return nil, fmt.Errorf("compositor: create sampler: %w", err)
	}
	uniforms, err := dev.CreateUniformBuffer(UniformSize(maxChannels))
	if err != nil {
		return nil, fmt.Errorf("compositor: create uniform buffer: %w", err)
	}
	dummy, err := dev.CreateTexture(TextureDesc{Width: 1, Height: 1, Format: FormatRGBA8Unorm, Label: "dummy"})
	if err != nil {
		return nil, fmt.Errorf("compositor: create dummy texture: %w", err)
	}
	if err := dummy.Write([]byte{0, 0, 0, 0}); err != nil {
		return nil, fmt.Errorf("compositor: init dummy texture: %w", err)
	}

	c := &Compositor{
		dev:         dev,
		log:         log,
		maxChannels: maxChannels,
		pipeline:    pipeline,
		sampler:     sampler,
		uniforms:    uniforms,
		dummy:       dummy,
		slots:       make([]*slot, maxChannels),
		bindDirty:   true,
	}

	dev.OnLost(c.handleDeviceLost)

	if err := c.rebuildBindGroup(); err != nil {
		return nil, err
	}
	return c, nil
}

// OnDeviceLost registers fn as the caller-provided loss handler invoked
// when the GPU device is lost for a reason other than "destroyed". There is
// no automatic reinitialization.
func (c *Compositor) OnDeviceLost(fn func(reason string)) {
	c.mu.Lock()
	c.lossHandler = fn
	c.mu.Unlock()
}

func (c *Compositor) handleDeviceLost(reason string) {
	if reason == "destroyed" {
		return
	}
	c.mu.Lock()
	fn := c.lossHandler
	c.mu.Unlock()
	if fn != nil {
		fn(reason)
	}
}

// RenderTick executes the per-tick sequence: upload textures for every
// frame in set (skipping nils), recompute uniform state from channel
// configuration and deltaCrop, write the uniform buffer, and draw.
//
// A nil set means the collector had nothing consistent to offer; the
// caller (Preview Controller) is expected to have already decided whether
// to retry original frames before calling RenderTick. RenderTick itself
// never errors the caller out of its render loop — failures are logged and
// the tick is simply skipped.
func (c *Compositor) RenderTick(set *frame.Set, channels []ChannelState, delta DeltaCrop) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if set != nil {
		c.uploadFrames(set)
	}

	uf := UniformFrame{Delta: delta, Channels: make([]ChannelUniform, c.maxChannels)}
	for i := 0; i < c.maxChannels && i < len(channels); i++ {
		ch := channels[i]
		uf.Channels[i] = ChannelUniform{
			Min:      float32(ch.Min),
			Max:      float32(ch.Max),
			ApplyLUT: ch.Colormap != nil,
			Enabled:  ch.Visible && c.slots[i] != nil && c.slots[i].tex != nil,
		}
		if uf.Channels[i].Enabled {
			uf.ActiveCount++
		}
		if ch.Colormap != nil {
			c.ensureLUT(i, ch.Colormap)
		}
	}

	if c.bindDirty {
		if err := c.rebuildBindGroup(); err != nil {
			c.log.Error().Err(err).Msg("failed to rebuild bind group; skipping render tick")
			return
		}
	}

	if err := c.uniforms.Write(0, uf.Pack(c.maxChannels)); err != nil {
		c.log.Error().Err(err).Msg("failed to write uniform buffer; skipping render tick")
		return
	}
	if err := c.dev.Draw(c.pipeline, c.bindGroup); err != nil {
		c.log.Error().Err(err).Msg("render pass failed; skipping this tick")
	}
}

func (c *Compositor) uploadFrames(set *frame.Set) {
	for slotIdx, data := range set.Frames {
		if data == nil || slotIdx >= c.maxChannels {
			continue
		}
		c.uploadFrame(slotIdx, data)
	}
}

// uploadFrame copies one decoded bitmap into its slot's texture, recreating
// the texture (and flagging the bind group dirty) if dimensions changed.
func (c *Compositor) uploadFrame(slotIdx int, data *frame.Data) {
	w, h := data.Bitmap.Bounds()
	s := c.slots[slotIdx]

	if s == nil || s.texW != w || s.texH != h {
		if s != nil && s.tex != nil {
			s.tex.Destroy()
		}
		tex, err := c.dev.CreateTexture(TextureDesc{
			Width: w, Height: h, Format: FormatRGBA8Unorm,
			Label: fmt.Sprintf("channel-%d", slotIdx),
		})
		if err != nil {
			c.log.Error().Err(err).Int("slot", slotIdx).Msg("failed to (re)create channel texture")
			return
		}
		if s == nil {
			s = &slot{}
			c.slots[slotIdx] = s
		}
		s.tex, s.texW, s.texH = tex, w, h
		c.bindDirty = true
	}

	if err := s.tex.Write(data.Bitmap.Pix()); err != nil {
		c.log.Error().Err(err).Int("slot", slotIdx).Msg("failed to upload frame texture")
	}
}

func (c *Compositor) ensureLUT(slotIdx int, palette []byte) {
	s := c.slots[slotIdx]
	if s == nil {
		s = &slot{}
		c.slots[slotIdx] = s
	}
	if s.lut == nil {
		tex, err := c.dev.CreateTexture(TextureDesc{
			Width: lutResolution, Height: 1, Format: FormatRGBA8Unorm,
			Label: fmt.Sprintf("lut-%d", slotIdx),
		})
		if err != nil {
			c.log.Error().Err(err).Int("slot", slotIdx).Msg("failed to create LUT texture")
			return
		}
		s.lut = tex
		c.bindDirty = true
	}
	if err := s.lut.Write(palette); err != nil {
		c.log.Error().Err(err).Int("slot", slotIdx).Msg("failed to upload LUT")
		return
	}
	s.lutLoaded = true
}

// rebuildBindGroup constructs entries per the bind-group layout: uniform at
// 0, sampler at 1, then (frame, LUT) pairs per slot, using the dummy
// texture for any slot whose frame or LUT texture does not exist yet.
// Visibility is not consulted: an invisible slot keeps its texture bound,
// and the shader skips it through its enabled flag. The bind group is
// rebuilt only when a texture is created or recreated.
func (c *Compositor) rebuildBindGroup() error {
	entries := make([]BindGroupEntry, 0, 2+2*c.maxChannels)
	entries = append(entries, BindGroupEntry{Binding: 0, Buffer: c.uniforms})
	entries = append(entries, BindGroupEntry{Binding: 1, Sampler: c.sampler})

	for i := 0; i < c.maxChannels; i++ {
		frameTex := c.dummy
		lutTex := c.dummy
		if s := c.slots[i]; s != nil {
			if s.tex != nil {
				frameTex = s.tex
			}
			if s.lut != nil && s.lutLoaded {
				lutTex = s.lut
			}
		}
		base := firstTextureBinding + 2*i
		entries = append(entries, BindGroupEntry{Binding: base, Texture: frameTex})
		entries = append(entries, BindGroupEntry{Binding: base + 1, Texture: lutTex})
	}

	bg, err := c.dev.CreateBindGroup(c.pipeline, entries)
	if err != nil {
		return fmt.Errorf("compositor: rebuild bind group: %w", err)
	}
	c.bindGroup = bg
	c.bindDirty = false
	return nil
}

// Destroy releases the compositor's textures: every slot's frame and LUT
// texture and the dummy texture. The uniform buffer, sampler, pipeline and
// bind group are not released here. Safe to call once, during Preview
// Controller shutdown.
func (c *Compositor) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.slots {
		if s == nil {
			continue
		}
		if s.tex != nil {
			s.tex.Destroy()
		}
		if s.lut != nil {
			s.lut.Destroy()
		}
	}
	if c.dummy != nil {
		c.dummy.Destroy()
	}
}

// RenderLoop runs RenderTick on a fixed-interval ticker while active
// returns true. Unlike the browser's requestAnimationFrame, a desktop Wails
// app has no compositor-driven frame clock, so the ticker is the vsync
// analogue. tick is called once per interval with fresh frame/channel/delta
// state; a false return from active stops the loop.
func RenderLoop(interval time.Duration, active func() bool, tick func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for active() {
		<-ticker.C
		if !active() {
			return
		}
		tick()
	}
}
