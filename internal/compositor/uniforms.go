package compositor

import (
	"encoding/binary"
	"math"
)

// channelUniformSize is sizeof({min:f32, max:f32, applyLUT:u32, enabled:u32})
// = 16 bytes
const channelUniformSize = 16

// headerSize is sizeof({delta_crop:{x,y,k,_pad}, display_mode:u32,
// active_count:u32, _pad0, _pad1}) = 32 bytes.
const headerSize = 32

// UniformSize returns the total uniform buffer size for maxChannels slots:
// 32 + 16*maxChannels bytes.
func UniformSize(maxChannels int) int {
	return headerSize + channelUniformSize*maxChannels
}

// ChannelUniform is one slot's contribution to the uniform buffer.
type ChannelUniform struct {
	Min      float32
	Max      float32
	ApplyLUT bool
	Enabled  bool
}

// DeltaCrop is the per-tick difference between the user's intended crop and
// the crop actually baked into the frames currently on the GPU: the shader
// digitally translates the still-original frame to approximate the target
// view.
type DeltaCrop struct {
	X, Y, K float64
}

// UniformFrame is everything packed into the uniform buffer on one render
// tick.
type UniformFrame struct {
	Delta       DeltaCrop
	DisplayMode uint32
	ActiveCount uint32
	Channels    []ChannelUniform // length == maxChannels
}

// Pack serializes f into a std140-style layout: a 32-byte header then one
// 16-byte record per channel slot.
func (f UniformFrame) Pack(maxChannels int) []byte {
	buf := make([]byte, UniformSize(maxChannels))

	binary.LittleEndian.PutUint32(buf[0:4], float32bits(float32(f.Delta.X)))
	binary.LittleEndian.PutUint32(buf[4:8], float32bits(float32(f.Delta.Y)))
	binary.LittleEndian.PutUint32(buf[8:12], float32bits(float32(f.Delta.K)))
	// buf[12:16] is _pad, left zero.
	binary.LittleEndian.PutUint32(buf[16:20], f.DisplayMode)
	binary.LittleEndian.PutUint32(buf[20:24], f.ActiveCount)
	// buf[24:32] is _pad0/_pad1, left zero.

	for i := 0; i < maxChannels; i++ {
		off := headerSize + i*channelUniformSize
		var c ChannelUniform
		if i < len(f.Channels) {
			c = f.Channels[i]
		}
		binary.LittleEndian.PutUint32(buf[off:off+4], float32bits(c.Min))
		binary.LittleEndian.PutUint32(buf[off+4:off+8], float32bits(c.Max))
		binary.LittleEndian.PutUint32(buf[off+8:off+12], boolToU32(c.ApplyLUT))
		binary.LittleEndian.PutUint32(buf[off+12:off+16], boolToU32(c.Enabled))
	}
	return buf
}

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func float32bits(f float32) uint32 {
	return math.Float32bits(f)
}
