// Package frame implements the per-channel frame store: it remembers the
// latest "original" and "cropped" bitmap per channel slot and picks a
// consistent set for the compositor to render.
package frame

import (
	"sync"

	"github.com/AllenNeuralDynamics/voxel-client/internal/bitmap"
	"github.com/AllenNeuralDynamics/voxel-client/internal/transport"
)

// Data pairs a decoded frame with the metadata the server sent alongside
// it.
type Data struct {
	Info   transport.PreviewFrameInfo
	Bitmap bitmap.Bitmap
}

// Set is what GetLatestFrames returns: a consistent crop plus one Data per
// entry of the requiredChannels argument, in that order. Frames[i] belongs
// to requiredChannels[i]; Frames is not indexed by channel slot and has no
// entries for slots that were not required.
type Set struct {
	Crop   transport.Crop
	Frames []*Data
}

// Collector maintains exactly two arrays of length maxChannels: the last
// original (crop=={0,0,0}) frame per channel, and the last cropped frame
// per channel.
type Collector struct {
	mu            sync.Mutex
	maxChannels   int
	originalFrames []*Data
	croppedFrames  []*Data
	croppedCrop    []transport.Crop // per-slot crop paired with croppedFrames[i]
	croppedSet     []bool
}

// New creates a Collector with maxChannels pre-allocated slots.
func New(maxChannels int) *Collector {
	return &Collector{
		maxChannels:    maxChannels,
		originalFrames: make([]*Data, maxChannels),
		croppedFrames:  make([]*Data, maxChannels),
		croppedCrop:    make([]transport.Crop, maxChannels),
		croppedSet:     make([]bool, maxChannels),
	}
}

// CollectFrame stores an incoming frame in the original or cropped buffer
// per its crop, releasing whatever bitmap it replaces.
func (c *Collector) CollectFrame(channelIdx int, info transport.PreviewFrameInfo, bmp bitmap.Bitmap) {
	if channelIdx < 0 || channelIdx >= c.maxChannels {
		bmp.Release()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data := &Data{Info: info, Bitmap: bmp}
	if info.Crop.IsZero() {
		if old := c.originalFrames[channelIdx]; old != nil {
			old.Bitmap.Release()
		}
		c.originalFrames[channelIdx] = data
		return
	}

	if old := c.croppedFrames[channelIdx]; old != nil {
		old.Bitmap.Release()
	}
	c.croppedFrames[channelIdx] = data
	c.croppedCrop[channelIdx] = info.Crop
	c.croppedSet[channelIdx] = true
}

// GetLatestFrames implements the selection rule: prefer a consistent
// cropped set matching desiredCrop when every required channel has one;
// otherwise fall back to the original set if complete; otherwise return
// nil.
func (c *Collector) GetLatestFrames(desiredCrop transport.Crop, requiredChannels []int) *Set {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !desiredCrop.IsZero() && c.croppedBufferConsistent(desiredCrop, requiredChannels) {
		frames := make([]*Data, len(requiredChannels))
		for i, ch := range requiredChannels {
			frames[i] = c.croppedFrames[ch]
		}
		return &Set{Crop: desiredCrop, Frames: frames}
	}

	if c.originalComplete(requiredChannels) {
		frames := make([]*Data, len(requiredChannels))
		for i, ch := range requiredChannels {
			frames[i] = c.originalFrames[ch]
		}
		return &Set{Crop: transport.Crop{}, Frames: frames}
	}

	return nil
}

// croppedBufferConsistent reports whether every required channel has a
// cropped entry, all sharing the same crop, and that crop matches desired.
func (c *Collector) croppedBufferConsistent(desired transport.Crop, required []int) bool {
	for _, ch := range required {
		if !c.croppedSet[ch] || c.croppedFrames[ch] == nil {
			return false
		}
		if c.croppedCrop[ch] != desired {
			return false
		}
	}
	return true
}

func (c *Collector) originalComplete(required []int) bool {
	for _, ch := range required {
		if c.originalFrames[ch] == nil {
			return false
		}
	}
	return true
}
