package preview

import (
	"time"

	"github.com/AllenNeuralDynamics/voxel-client/internal/transport"
)

// clamp restricts v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clampCrop enforces viewport invariant: 0 <= k < 1 and
// 0 <= x,y <= k.
func clampCrop(c transport.Crop) transport.Crop {
	k := clamp(c.K, 0, 0.999999)
	return transport.Crop{
		X: clamp(c.X, 0, k),
		Y: clamp(c.Y, 0, k),
		K: k,
	}
}

// PointerDown begins a pan gesture: captures the starting crop and pointer
// position, marks pan/zoom active.
func (c *Controller) PointerDown(x, y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.panStartCrop = c.crop
	c.panStartX = x
	c.panStartY = y
	c.isPanZoomActive = true
}

// PointerMove updates the crop from the current drag delta, clamping so
// the viewport stays inside the unit square.
func (c *Controller) PointerMove(x, y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dx := x - c.panStartX
	dy := y - c.panStartY
	c.crop = clampCrop(transport.Crop{
		X: c.panStartCrop.X - dx,
		Y: c.panStartCrop.Y - dy,
		K: c.panStartCrop.K,
	})
}

// PointerUp ends a pan gesture: clears pan/zoom active and queues a
// debounced crop publish.
func (c *Controller) PointerUp() {
	c.mu.Lock()
	c.isPanZoomActive = false
	crop := c.crop
	publish := c.cropDebounce
	c.mu.Unlock()

	if publish == nil {
		return
	}
	publish(func() {
		if err := c.tr.Send("preview/crop", crop); err != nil {
			c.log.Warn().Err(err).Msg("failed to publish crop")
		}
	})
}

// maxKFallback is used when the active channel's full/preview dimensions
// are unknown.
const maxKFallback = 0.95

// WheelZoom implements the zoom formula: a new k derived from deltaY, with
// the viewport's top-left adjusted so the point under the
// mouse stays fixed, then clamped. previewWidth/fullWidth come from the
// active channel's latest frame info and set maxK = 1 - previewWidth/fullWidth;
// pass 0 for either to fall back to maxKFallback.
func (c *Controller) WheelZoom(deltaY, mouseX, mouseY float64, previewWidth, fullWidth int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	maxK := maxKFallback
	if fullWidth > 0 && previewWidth > 0 {
		maxK = 1 - float64(previewWidth)/float64(fullWidth)
	}

	oldK := c.crop.K
	newK := clamp(oldK+(-deltaY)*0.001, 0, maxK)

	var newX, newY float64
	if 1-oldK != 0 {
		newX = mouseX - (mouseX-c.crop.X)*(1-newK)/(1-oldK)
		newY = mouseY - (mouseY-c.crop.Y)*(1-newK)/(1-oldK)
	}

	c.crop = clampCrop(transport.Crop{X: newX, Y: newY, K: newK})
	c.isPanZoomActive = true

	if c.wheelIdleTimer != nil {
		c.wheelIdleTimer.Stop()
	}
	idle := time.Duration(c.cfg.WheelIdleDelayMs) * time.Millisecond
	if idle <= 0 {
		idle = wheelIdleDelay
	}
	c.wheelIdleTimer = time.AfterFunc(idle, func() {
		c.mu.Lock()
		c.isPanZoomActive = false
		c.mu.Unlock()
	})

	publish := c.cropDebounce
	crop := c.crop
	if publish != nil {
		publish(func() {
			if err := c.tr.Send("preview/crop", crop); err != nil {
				c.log.Warn().Err(err).Msg("failed to publish crop")
			}
		})
	}
}

// IsPanZoomActive reports whether a pan or zoom gesture is in progress.
func (c *Controller) IsPanZoomActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isPanZoomActive
}

// DesiredCropForRenderTick implements render-loop step (b):
// the desired crop is the user's crop, unless pan/zoom is currently
// active, in which case it is {0,0,0}.
func (c *Controller) DesiredCropForRenderTick() transport.Crop {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isPanZoomActive {
		return transport.Crop{}
	}
	return c.crop
}
