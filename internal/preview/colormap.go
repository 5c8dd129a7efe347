package preview

// lutResolution matches compositor.lutResolution; duplicated here rather
// than imported so this package doesn't need a compile-time dependency on
// compositor's unexported constant.
const lutResolution = 256

// colormapStops are evenly-spaced RGB control points for each named
// colormap, interpolated up to lutResolution entries by colormapLUT. Stops
// approximate the well-known perceptually-uniform map of the same name.
var colormapStops = map[string][][3]byte{
	"viridis": {
		{68, 1, 84}, {72, 40, 120}, {62, 74, 137}, {49, 104, 142},
		{38, 130, 142}, {31, 158, 137}, {53, 183, 121}, {109, 205, 89},
		{180, 222, 44}, {253, 231, 37},
	},
	"magma": {
		{0, 0, 4}, {28, 16, 68}, {79, 18, 123}, {129, 37, 129},
		{181, 54, 122}, {229, 80, 100}, {251, 135, 97}, {254, 194, 135},
		{253, 253, 191},
	},
	"inferno": {
		{0, 0, 4}, {40, 11, 84}, {101, 21, 110}, {159, 42, 99},
		{212, 72, 66}, {245, 125, 21}, {250, 193, 39}, {252, 255, 164},
	},
	"cividis": {
		{0, 32, 76}, {0, 54, 102}, {62, 74, 108}, {105, 96, 108},
		{143, 119, 104}, {184, 144, 94}, {226, 172, 69}, {255, 234, 70},
	},
	"plasma": {
		{13, 8, 135}, {84, 2, 163}, {139, 10, 165}, {185, 50, 137},
		{219, 92, 104}, {244, 136, 73}, {254, 188, 43}, {240, 249, 33},
	},
	"turbo": {
		{48, 18, 59}, {70, 107, 227}, {41, 187, 223}, {76, 232, 120},
		{187, 240, 38}, {252, 185, 22}, {230, 74, 18}, {122, 4, 3},
	},
}

// colormapLUT renders name's stops into a lutResolution*4 RGBA byte slice
// suitable for compositor.ChannelState.Colormap, linearly interpolating
// between adjacent stops. Returns nil for an unrecognized name, which the
// compositor treats as passthrough grayscale.
func colormapLUT(name string) []byte {
	stops, ok := colormapStops[name]
	if !ok || len(stops) < 2 {
		return nil
	}

	lut := make([]byte, lutResolution*4)
	segments := len(stops) - 1
	for i := 0; i < lutResolution; i++ {
		t := float64(i) / float64(lutResolution-1)
		pos := t * float64(segments)
		seg := int(pos)
		if seg >= segments {
			seg = segments - 1
		}
		frac := pos - float64(seg)

		a, b := stops[seg], stops[seg+1]
		off := i * 4
		lut[off+0] = lerpByte(a[0], b[0], frac)
		lut[off+1] = lerpByte(a[1], b[1], frac)
		lut[off+2] = lerpByte(a[2], b[2], frac)
		lut[off+3] = 255
	}
	return lut
}

func lerpByte(a, b byte, t float64) byte {
	return byte(float64(a) + (float64(b)-float64(a))*t)
}
