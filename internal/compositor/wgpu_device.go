package compositor

import (
	"fmt"

	"github.com/gogpu/wgpu"
)

// wgpuDevice is the real Device backed by github.com/gogpu/wgpu. It owns
// the adapter/device/queue triple acquired by NewWGPUDevice (App.Connect
// reaches it through NewDefaultDevice). Compositor.Destroy releases the
// textures created on it; the device itself is not released.
type wgpuDevice struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	surface  *wgpu.Surface
}

// NewWGPUDevice requests an adapter/device compatible with surface and
// wraps it as a compositor.Device. surface may be nil: every resource
// except surface acquisition/present (pipeline, buffers, textures, LUTs,
// bind groups) is independent of the native window handle, so a nil
// surface only defers Draw's ability to actually present a frame — see
// BindSurface.
func NewWGPUDevice(instance *wgpu.Instance, surface *wgpu.Surface) (Device, error) {
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, fmt.Errorf("compositor: request adapter: %w", err)
	}

	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{Label: "preview-compositor"})
	if err != nil {
		return nil, fmt.Errorf("compositor: request device: %w", err)
	}

	return &wgpuDevice{
		instance: instance,
		adapter:  adapter,
		device:   device,
		queue:    device.Queue(),
		surface:  surface,
	}, nil
}

// NewDefaultDevice creates a wgpu instance and requests an adapter/device
// with no bound surface. This is the path used by hosts (Wails included)
// that cannot hand over a native window handle at startup: every compositor
// resource other than surface present becomes live immediately, and a real
// surface can be attached later with BindSurface once the host exposes one.
func NewDefaultDevice() (Device, error) {
	instance := wgpu.CreateInstance(&wgpu.InstanceDescriptor{})
	return NewWGPUDevice(instance, nil)
}

// BindSurface attaches a native display surface to dev, confined to the one
// platform-specific gap NewDefaultDevice leaves open. Until this is called,
// Draw returns an error instead of presenting. Panics if dev was not created
// by NewWGPUDevice/NewDefaultDevice.
func BindSurface(dev Device, surface *wgpu.Surface) {
	wd, ok := dev.(*wgpuDevice)
	if !ok {
		panic("compositor: BindSurface called on a non-wgpu Device")
	}
	wd.surface = surface
}

func wgpuFormat(f TextureFormat) wgpu.TextureFormat {
	switch f {
	case FormatR8Unorm:
		return wgpu.TextureFormatR8Unorm
	default:
		return wgpu.TextureFormatRGBA8Unorm
	}
}

func (d *wgpuDevice) CreateTexture(desc TextureDesc) (Texture, error) {
	tex, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: desc.Label,
		Size: wgpu.Extent3D{
			Width:  uint32(desc.Width),
			Height: uint32(desc.Height),
			DepthOrArrayLayers: 1,
		},
		Format: wgpuFormat(desc.Format),
		Usage:  wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageCopyDst | wgpu.TextureUsageTextureBinding,
	})
	if err != nil {
		return nil, err
	}
	return &wgpuTexture{tex: tex, queue: d.queue, width: desc.Width, height: desc.Height, format: desc.Format}, nil
}

func (d *wgpuDevice) CreateSampler() (Sampler, error) {
	return d.device.CreateSampler(&wgpu.SamplerDescriptor{
		AddressModeU: wgpu.AddressModeClampToEdge,
		AddressModeV: wgpu.AddressModeClampToEdge,
		MagFilter:    wgpu.FilterModeLinear,
		MinFilter:    wgpu.FilterModeLinear,
	})
}

func (d *wgpuDevice) CreateUniformBuffer(size int) (Buffer, error) {
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "compositor-uniforms",
		Size:  uint64(size),
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, err
	}
	return &wgpuBuffer{buf: buf, queue: d.queue}, nil
}

func (d *wgpuDevice) CreateRenderPipeline(shaderWGSL string) (RenderPipeline, error) {
	module, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: "compositor-shader",
		Code:  shaderWGSL,
	})
	if err != nil {
		return nil, err
	}
	return d.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:   "compositor-pipeline",
		Layout:  nil, // auto layout
		Vertex:  wgpu.VertexState{Module: module, EntryPoint: "vs_main"},
		Fragment: &wgpu.FragmentState{
			Module:     module,
			EntryPoint: "fs_main",
			Targets:    []wgpu.ColorTargetState{{Format: wgpu.TextureFormatRGBA8Unorm}},
		},
		Primitive: wgpu.PrimitiveState{Topology: wgpu.PrimitiveTopologyTriangleList},
	})
}

func (d *wgpuDevice) CreateBindGroup(pipeline RenderPipeline, entries []BindGroupEntry) (BindGroup, error) {
	pl, ok := pipeline.(*wgpu.RenderPipeline)
	if !ok {
		return nil, fmt.Errorf("compositor: pipeline is not a *wgpu.RenderPipeline")
	}
	wgpuEntries := make([]wgpu.BindGroupEntry, 0, len(entries))
	for _, e := range entries {
		entry := wgpu.BindGroupEntry{Binding: uint32(e.Binding)}
		switch {
		case e.Buffer != nil:
			if b, ok := e.Buffer.(*wgpuBuffer); ok {
				entry.Buffer = b.buf
			}
		case e.Sampler != nil:
			if s, ok := e.Sampler.(*wgpu.Sampler); ok {
				entry.Sampler = s
			}
		case e.Texture != nil:
			if t, ok := e.Texture.(*wgpuTexture); ok {
				entry.TextureView = t.tex.CreateView(nil)
			}
		}
		wgpuEntries = append(wgpuEntries, entry)
	}
	return d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   "compositor-bind-group",
		Layout:  pl.GetBindGroupLayout(0),
		Entries: wgpuEntries,
	})
}

func (d *wgpuDevice) Draw(pipeline RenderPipeline, bg BindGroup) error {
	pl, ok := pipeline.(*wgpu.RenderPipeline)
	if !ok {
		return fmt.Errorf("compositor: pipeline is not a *wgpu.RenderPipeline")
	}
	bindGroup, ok := bg.(*wgpu.BindGroup)
	if !ok {
		return fmt.Errorf("compositor: bind group is not a *wgpu.BindGroup")
	}

	if d.surface == nil {
		return fmt.Errorf("compositor: no display surface bound yet")
	}

	view, err := d.surface.GetCurrentTextureView()
	if err != nil {
		return fmt.Errorf("compositor: acquire surface texture: %w", err)
	}

	encoder, err := d.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: "compositor-encoder"})
	if err != nil {
		return err
	}
	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:    view,
			LoadOp:  wgpu.LoadOpClear,
			StoreOp: wgpu.StoreOpStore,
		}},
	})
	pass.SetPipeline(pl)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.Draw(6, 1, 0, 0)
	pass.End()

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return err
	}
	d.queue.Submit([]*wgpu.CommandBuffer{cmd})
	d.surface.Present()
	return nil
}

func (d *wgpuDevice) OnLost(fn func(reason string)) {
	d.device.SetLostCallback(func(reason wgpu.DeviceLostReason, message string) {
		fn(reason.String())
	})
}

type wgpuTexture struct {
	tex    *wgpu.Texture
	queue  *wgpu.Queue
	width  int
	height int
	format TextureFormat
}

func (t *wgpuTexture) Width() int  { return t.width }
func (t *wgpuTexture) Height() int { return t.height }

func (t *wgpuTexture) Write(pix []byte) error {
	bytesPerPixel := 4
	if t.format == FormatR8Unorm {
		bytesPerPixel = 1
	}
	t.queue.WriteTexture(
		&wgpu.ImageCopyTexture{Texture: t.tex},
		pix,
		&wgpu.TextureDataLayout{
			BytesPerRow:  uint32(t.width * bytesPerPixel),
			RowsPerImage: uint32(t.height),
		},
		&wgpu.Extent3D{Width: uint32(t.width), Height: uint32(t.height), DepthOrArrayLayers: 1},
	)
	return nil
}

func (t *wgpuTexture) Destroy() {
	t.tex.Destroy()
}

type wgpuBuffer struct {
	buf   *wgpu.Buffer
	queue *wgpu.Queue
}

func (b *wgpuBuffer) Write(offset int, data []byte) error {
	b.queue.WriteBuffer(b.buf, uint64(offset), data)
	return nil
}
