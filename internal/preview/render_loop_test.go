package preview_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/AllenNeuralDynamics/voxel-client/internal/bitmap"
	"github.com/AllenNeuralDynamics/voxel-client/internal/compositor"
	"github.com/AllenNeuralDynamics/voxel-client/internal/frame"
	"github.com/AllenNeuralDynamics/voxel-client/internal/preview"
	"github.com/AllenNeuralDynamics/voxel-client/internal/transport"
)

// fakeRenderDevice is a minimal compositor.Device double, just enough to
// let a real *compositor.Compositor run a render tick and record what it
// was asked to draw.
type fakeRenderDevice struct {
	draws int
}

func (d *fakeRenderDevice) CreateTexture(desc compositor.TextureDesc) (compositor.Texture, error) {
	return &fakeRenderTexture{w: desc.Width, h: desc.Height}, nil
}
func (d *fakeRenderDevice) CreateSampler() (compositor.Sampler, error) { return struct{}{}, nil }
func (d *fakeRenderDevice) CreateUniformBuffer(size int) (compositor.Buffer, error) {
	return &fakeRenderBuffer{}, nil
}
func (d *fakeRenderDevice) CreateBindGroup(pipeline compositor.RenderPipeline, entries []compositor.BindGroupEntry) (compositor.BindGroup, error) {
	return entries, nil
}
func (d *fakeRenderDevice) CreateRenderPipeline(shaderWGSL string) (compositor.RenderPipeline, error) {
	return shaderWGSL, nil
}
func (d *fakeRenderDevice) Draw(pipeline compositor.RenderPipeline, bg compositor.BindGroup) error {
	d.draws++
	return nil
}
func (d *fakeRenderDevice) OnLost(fn func(reason string)) {}

type fakeRenderTexture struct{ w, h int }

func (t *fakeRenderTexture) Width() int             { return t.w }
func (t *fakeRenderTexture) Height() int            { return t.h }
func (t *fakeRenderTexture) Write(pix []byte) error { return nil }
func (t *fakeRenderTexture) Destroy()               {}

type fakeRenderBuffer struct{}

func (b *fakeRenderBuffer) Write(offset int, data []byte) error { return nil }

type fakeRenderBitmap struct{ w, h int }

func (b *fakeRenderBitmap) Bounds() (int, int) { return b.w, b.h }
func (b *fakeRenderBitmap) Pix() []byte        { return make([]byte, b.w*b.h*4) }
func (b *fakeRenderBitmap) Release()           {}

// previewStatusServer is a one-shot websocket server that pushes a single
// preview/status text message announcing one channel, then idles.
func previewStatusServer(t *testing.T) *httptest.Server {
	t.Helper()
	var upgrader websocket.Upgrader
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		msg := `{"topic":"preview/status","payload":{"channels":["green"]}}`
		conn.WriteMessage(websocket.TextMessage, []byte(msg))
		time.Sleep(500 * time.Millisecond)
	}))
}

// TestRenderLoopDrivesCompositorOnChannelAssignment checks that once a
// channel slot is assigned from a real preview/status push and a frame is
// available, the controller's render-tick goroutine actually calls through
// to the compositor — this is the path a maintainer review flagged as
// entirely unwired (nothing outside tests ever started a render tick).
func TestRenderLoopDrivesCompositorOnChannelAssignment(t *testing.T) {
	dev := &fakeRenderDevice{}
	comp, err := compositor.New(dev, 2, zerolog.Nop())
	if err != nil {
		t.Fatalf("compositor.New() error = %v", err)
	}

	srv := previewStatusServer(t)
	defer srv.Close()

	tr := transport.New("ws"+strings.TrimPrefix(srv.URL, "http"), transport.Config{AutoReconnect: false}, zerolog.Nop())
	coll := frame.New(2)
	cfg := preview.DefaultConfig()
	cfg.RenderIntervalMs = 5
	c := preview.New(cfg, tr, coll, comp, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer c.Shutdown()

	// Wait for the pushed preview/status message to populate slot 0, then
	// seed a frame directly into the collector (bypassing decode, which
	// needs real image bytes this test doesn't care about).
	deadline := time.After(time.Second)
	for {
		if chans := c.Channels(); chans[0].Name == "green" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for preview/status to assign slot 0")
		case <-time.After(10 * time.Millisecond):
		}
	}
	coll.CollectFrame(0, transport.PreviewFrameInfo{}, bitmap.Bitmap(&fakeRenderBitmap{w: 4, h: 4}))

	deadline = time.After(time.Second)
	for dev.draws == 0 {
		select {
		case <-deadline:
			t.Fatal("render loop never invoked Draw")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
