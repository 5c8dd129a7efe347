// Package bitmap defines the decoded-image handle shared by the transport
// (which produces bitmaps from JPEG/PNG frame payloads), the frame collector
// (which stores and releases them), and the GPU compositor (which uploads
// them to a texture). Keeping this as its own leaf package avoids a import
// cycle between those three.
package bitmap

import (
	"image"
	"sync"
)

// Bitmap is a decoded, GPU-uploadable image plus explicit release. The
// frame collector must call close/destroy on bitmaps it replaces — Release
// is that hook. Release is idempotent and safe to call more than once.
type Bitmap interface {
	// Bounds returns the pixel dimensions.
	Bounds() (width, height int)
	// Pix returns the underlying RGBA8 pixel buffer in row-major order,
	// stride == width*4. Valid until Release is called.
	Pix() []byte
	// Release returns any pooled backing storage. Safe to call multiple
	// times; a no-op after the first call.
	Release()
}

// pooledBitmap wraps an *image.NRGBA whose Pix buffer was drawn from a
// sync.Pool, so repeated frame arrivals at a steady resolution don't
// allocate on every decode.
type pooledBitmap struct {
	mu       sync.Mutex
	img      *image.NRGBA
	released bool
	pool     *sync.Pool
}

// New wraps an already-decoded *image.NRGBA as a releasable Bitmap. If pool
// is non-nil, Release returns img.Pix to it instead of letting the GC
// collect it.
func New(img *image.NRGBA, pool *sync.Pool) Bitmap {
	return &pooledBitmap{img: img, pool: pool}
}

func (b *pooledBitmap) Bounds() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.img == nil {
		return 0, 0
	}
	r := b.img.Bounds()
	return r.Dx(), r.Dy()
}

func (b *pooledBitmap) Pix() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.img == nil {
		return nil
	}
	return b.img.Pix
}

func (b *pooledBitmap) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released || b.img == nil {
		return
	}
	b.released = true
	if b.pool != nil {
		buf := b.img.Pix
		b.pool.Put(&buf)
	}
	b.img = nil
}

// PixelPool returns a sync.Pool of byte-slice pointers sized for decoding at
// the given approximate frame area; Get may return a shorter buffer that the
// caller should grow via append if the decoded frame turns out larger.
func PixelPool(hintArea int) *sync.Pool {
	return &sync.Pool{
		New: func() any {
			buf := make([]byte, 0, hintArea*4)
			return &buf
		},
	}
}
