package compositor

// This package talks to the GPU through a small seam (Device, Texture,
// Sampler, Buffer, BindGroup, RenderPipeline) rather than calling
// github.com/gogpu/wgpu directly everywhere, so the compositor and the
// preview controller can be tested with a double. wgpuDevice
// (wgpu_device.go) is the real implementation; fakeDevice in the test file
// exercises the compositor's bookkeeping without a GPU.

// TextureFormat mirrors the wgpu texture formats this package uses.
type TextureFormat int

const (
	FormatRGBA8Unorm TextureFormat = iota
	FormatR8Unorm                  // single-channel 8-bit; LUTs use FormatRGBA8Unorm, not this
)

// TextureDesc describes a texture to allocate.
type TextureDesc struct {
	Width, Height int
	Format        TextureFormat
	Label         string
}

// Texture is a GPU image resource.
type Texture interface {
	Width() int
	Height() int
	// Write uploads pix (tightly packed, row-major) into the texture.
	Write(pix []byte) error
	// Destroy releases the underlying GPU resource. Safe to call once.
	Destroy()
}

// Sampler is a filtering/addressing configuration bound once and reused.
type Sampler interface{}

// Buffer is a GPU buffer resource, here used only for the single uniform
// buffer.
type Buffer interface {
	Write(offset int, data []byte) error
}

// BindGroupEntry pairs a binding index with the resource bound there.
type BindGroupEntry struct {
	Binding  int
	Buffer   Buffer
	Sampler  Sampler
	Texture  Texture
}

// BindGroup is an opaque, rebuildable set of resource bindings.
type BindGroup interface{}

// RenderPipeline is the compiled vertex+fragment pipeline.
type RenderPipeline interface{}

// Device is the subset of a wgpu device/queue the compositor needs. A real
// implementation wraps github.com/gogpu/wgpu's Device/Queue/Adapter; tests
// use an in-memory fake.
type Device interface {
	CreateTexture(desc TextureDesc) (Texture, error)
	CreateSampler() (Sampler, error)
	CreateUniformBuffer(size int) (Buffer, error)
	CreateBindGroup(pipeline RenderPipeline, entries []BindGroupEntry) (BindGroup, error)
	CreateRenderPipeline(shaderWGSL string) (RenderPipeline, error)
	// Draw executes one render pass: bind bg, draw 6 vertices (two
	// triangles covering the viewport), present.
	Draw(pipeline RenderPipeline, bg BindGroup) error
	// OnLost registers a device-loss callback; reason is the wgpu loss
	// reason string (e.g. "destroyed", "unknown").
	OnLost(fn func(reason string))
}
