package transport

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	jsoniter "github.com/json-iterator/go"

	"github.com/AllenNeuralDynamics/voxel-client/internal/bitmap"
)

// json is configured to behave like encoding/json (field tags, map
// ordering) but with jsoniter's faster reflection-free fast paths — this
// package is on the hot path for one binary frame per visible channel per
// render tick.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// binarySeparator delimits the JSON envelope from the packed payload in a
// binary frame.
const binarySeparator = '\n'

// envelope is the JSON preamble of every message, text or binary.
type envelope struct {
	Topic   string             `json:"topic"`
	Payload stdjson.RawMessage `json:"payload,omitempty"`
	Channel string             `json:"channel,omitempty"`
}

// FrameFormat identifies how a preview frame's pixel payload is encoded.
type FrameFormat string

const (
	FormatJPEG   FrameFormat = "jpeg"
	FormatPNG    FrameFormat = "png"
	FormatUint16 FrameFormat = "uint16"
)

// Crop is a normalized viewport: top-left corner (X, Y) and zoom K, all in
// [0,1], with the invariant 0 <= X,Y <= K.
type Crop struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	K float64 `json:"k"`
}

// zeroCropEpsilon is the tolerance for "original" frames: a crop within
// this distance of {0,0,0} counts as uncropped.
const zeroCropEpsilon = 1e-3

// IsZero reports whether c is within zeroCropEpsilon of {0,0,0}.
func (c Crop) IsZero() bool {
	return absf(c.X) < zeroCropEpsilon && absf(c.Y) < zeroCropEpsilon && absf(c.K) < zeroCropEpsilon
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// IntensityRange is the server-reported display intensity window for a
// frame, distinct from the client-controlled per-channel windowing.
type IntensityRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// PreviewFrameInfo is the metadata the server attaches to every preview
// frame.
type PreviewFrameInfo struct {
	FrameIdx      int            `json:"frame_idx"`
	PreviewWidth  int            `json:"preview_width"`
	PreviewHeight int            `json:"preview_height"`
	FullWidth     int            `json:"full_width"`
	FullHeight    int            `json:"full_height"`
	Crop          Crop           `json:"crop"`
	Intensity     IntensityRange `json:"intensity"`
	Fmt           FrameFormat    `json:"fmt"`
}

// FrameMessage is a decoded preview frame ready for the collector.
type FrameMessage struct {
	Channel string
	Info    PreviewFrameInfo
	Bitmap  bitmap.Bitmap
}

// packedHeaderLenBytes sizes the self-delimited header of a binary frame's
// packed payload: a 4-byte big-endian length, followed by that many bytes of JSON
// info, followed by the remaining bytes verbatim as the pixel payload. This
// needs no length prefix for the pixel payload itself — it is simply
// whatever remains in the message, i.e. "length-prefix-free, self-delimited".
const packedHeaderLenBytes = 4

func packPayload(info PreviewFrameInfo, data []byte) ([]byte, error) {
	infoJSON, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("marshal frame info: %w", err)
	}
	buf := make([]byte, packedHeaderLenBytes+len(infoJSON)+len(data))
	putUint32(buf[:packedHeaderLenBytes], uint32(len(infoJSON)))
	copy(buf[packedHeaderLenBytes:], infoJSON)
	copy(buf[packedHeaderLenBytes+len(infoJSON):], data)
	return buf, nil
}

func unpackPayload(packed []byte) (info PreviewFrameInfo, data []byte, err error) {
	if len(packed) < packedHeaderLenBytes {
		return info, nil, fmt.Errorf("packed payload too short")
	}
	infoLen := int(getUint32(packed[:packedHeaderLenBytes]))
	rest := packed[packedHeaderLenBytes:]
	if infoLen < 0 || infoLen > len(rest) {
		return info, nil, fmt.Errorf("packed payload info length out of range")
	}
	if err := json.Unmarshal(rest[:infoLen], &info); err != nil {
		return info, nil, fmt.Errorf("unmarshal frame info: %w", err)
	}
	return info, rest[infoLen:], nil
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// decodeBinaryFrame splits a raw binary websocket message into its envelope
// and packed payload, then decodes the pixel payload per info.Fmt.
//
// Malformed frames (missing separator or empty payload) return an error; the
// caller logs and drops them. A frame with fmt=="uint16" returns (nil, nil)
// — a known-unsupported format that is dropped silently, without being
// treated as malformed.
func decodeBinaryFrame(raw []byte) (topic string, frame *FrameMessage, err error) {
	sep := bytes.IndexByte(raw, binarySeparator)
	if sep < 0 {
		return "", nil, fmt.Errorf("binary frame missing envelope separator")
	}
	envJSON := raw[:sep]
	packed := raw[sep+1:]
	if len(packed) == 0 {
		return "", nil, fmt.Errorf("binary frame has empty packed payload")
	}

	var env envelope
	if err := json.Unmarshal(envJSON, &env); err != nil {
		return "", nil, fmt.Errorf("unmarshal binary envelope: %w", err)
	}

	info, data, err := unpackPayload(packed)
	if err != nil {
		return "", nil, fmt.Errorf("unpack payload: %w", err)
	}

	bmp, err := decodeBitmap(info.Fmt, data)
	if err != nil {
		return "", nil, fmt.Errorf("decode bitmap: %w", err)
	}
	if bmp == nil {
		// Unsupported format (uint16): drop without error.
		return env.Topic, nil, nil
	}

	return env.Topic, &FrameMessage{Channel: env.Channel, Info: info, Bitmap: bmp}, nil
}

// decodeBitmap decodes data per format. uint16 is explicitly unimplemented:
// it returns (nil, nil) rather than an error so the caller can distinguish
// "drop, log a warning" from "malformed, log and drop".
func decodeBitmap(format FrameFormat, data []byte) (bitmap.Bitmap, error) {
	var img image.Image
	var err error

	switch format {
	case FormatJPEG:
		img, err = jpeg.Decode(bytes.NewReader(data))
	case FormatPNG:
		img, err = png.Decode(bytes.NewReader(data))
	case FormatUint16:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown frame format %q", format)
	}
	if err != nil {
		return nil, err
	}

	nrgba := toNRGBA(img)
	return bitmap.New(nrgba, nil), nil
}

// toNRGBA converts any decoded image.Image to *image.NRGBA, the format the
// compositor uploads directly as rgba8unorm texture data. Each pixel is
// copied through img.At and NRGBA.Set, which converts only the color model
// (e.g. YCbCr to RGB) with no gamma or profile adjustment.
func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x, y, img.At(x, y))
		}
	}
	return out
}
