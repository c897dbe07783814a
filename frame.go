// Raw and encoded frame types shared by the compositor, mixer and encoders.
package studio

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatI420 PixelFormat = iota // YUV 4:2:0 planar (Y + U + V)
	PixelFormatNV12                    // YUV 4:2:0 semi-planar; DrawScaled rejects it
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	case PixelFormatNV12:
		return "NV12"
	default:
		return "Unknown"
	}
}

// AudioFormat represents audio sample formats.
type AudioFormat int

const (
	AudioFormatS16 AudioFormat = iota // Signed 16-bit little-endian PCM, interleaved
	AudioFormatF32                    // 32-bit float, interleaved
)

func (a AudioFormat) String() string {
	switch a {
	case AudioFormatS16:
		return "S16"
	case AudioFormatF32:
		return "F32"
	default:
		return "Unknown"
	}
}

// BytesPerSample returns the number of bytes per sample for this format.
func (a AudioFormat) BytesPerSample() int {
	switch a {
	case AudioFormatS16:
		return 2
	case AudioFormatF32:
		return 4
	default:
		return 0
	}
}

// VideoFrame is a raw I420 video frame.
// Data may point to decoder-owned memory; Clone before keeping it.
type VideoFrame struct {
	Data      [][]byte    // Y, U, V planes
	Stride    []int       // Stride for each plane in bytes
	Width     int         // Frame width in pixels
	Height    int         // Frame height in pixels
	Format    PixelFormat // Pixel format
	Timestamp int64       // Capture timestamp in nanoseconds
	Duration  int64       // Frame duration in nanoseconds (optional)
}

// NewI420Frame allocates a tightly packed I420 frame.
func NewI420Frame(width, height int) *VideoFrame {
	width = (width + 1) &^ 1
	height = (height + 1) &^ 1
	cw, ch := width/2, height/2
	return &VideoFrame{
		Data: [][]byte{
			make([]byte, width*height),
			make([]byte, cw*ch),
			make([]byte, cw*ch),
		},
		Stride: []int{width, cw, cw},
		Width:  width,
		Height: height,
		Format: PixelFormatI420,
	}
}

// Fill paints the whole frame with one YUV color.
func (f *VideoFrame) Fill(y, u, v byte) {
	fillPlane(f.Data[0], f.Stride[0], f.Width, f.Height, y)
	fillPlane(f.Data[1], f.Stride[1], f.Width/2, f.Height/2, u)
	fillPlane(f.Data[2], f.Stride[2], f.Width/2, f.Height/2, v)
}

func fillPlane(plane []byte, stride, w, h int, value byte) {
	if h <= 0 || w <= 0 {
		return
	}
	row := plane[:w]
	for i := range row {
		row[i] = value
	}
	for y := 1; y < h; y++ {
		copy(plane[y*stride:y*stride+w], row)
	}
}

// Valid reports whether the frame carries enough plane data for its size.
func (f *VideoFrame) Valid() bool {
	if f == nil || f.Width <= 0 || f.Height <= 0 || len(f.Data) < 3 || len(f.Stride) < 3 {
		return false
	}
	cw, ch := f.Width/2, f.Height/2
	return len(f.Data[0]) >= (f.Height-1)*f.Stride[0]+f.Width &&
		len(f.Data[1]) >= (ch-1)*f.Stride[1]+cw &&
		len(f.Data[2]) >= (ch-1)*f.Stride[2]+cw
}

// Clone creates a deep copy of the video frame.
func (f *VideoFrame) Clone() *VideoFrame {
	clone := &VideoFrame{
		Data:      make([][]byte, len(f.Data)),
		Stride:    make([]int, len(f.Stride)),
		Width:     f.Width,
		Height:    f.Height,
		Format:    f.Format,
		Timestamp: f.Timestamp,
		Duration:  f.Duration,
	}
	copy(clone.Stride, f.Stride)
	for i, plane := range f.Data {
		if plane != nil {
			clone.Data[i] = make([]byte, len(plane))
			copy(clone.Data[i], plane)
		}
	}
	return clone
}

// I420Size returns the total buffer size needed for an I420 frame.
func I420Size(width, height int) int {
	ySize := width * height
	uvSize := (width / 2) * (height / 2)
	return ySize + uvSize*2
}

// AudioSamples holds interleaved PCM.
type AudioSamples struct {
	Data        []byte      // Sample data
	SampleRate  int         // Sample rate (e.g., 48000)
	Channels    int         // Number of channels (1 = mono, 2 = stereo)
	SampleCount int         // Number of samples (per channel)
	Format      AudioFormat // Sample format
	Timestamp   int64       // Capture timestamp in nanoseconds
}

// Clone creates a deep copy of the audio samples.
func (s *AudioSamples) Clone() *AudioSamples {
	clone := *s
	if s.Data != nil {
		clone.Data = make([]byte, len(s.Data))
		copy(clone.Data, s.Data)
	}
	return &clone
}

// FrameType indicates whether a frame is a keyframe or delta frame.
type FrameType int

const (
	FrameTypeUnknown FrameType = iota
	FrameTypeKey               // I-frame, can be decoded independently
	FrameTypeDelta             // P-frame, requires previous frames
)

func (f FrameType) String() string {
	switch f {
	case FrameTypeKey:
		return "Key"
	case FrameTypeDelta:
		return "Delta"
	default:
		return "Unknown"
	}
}

// EncodedFrame holds one encoded video frame.
// Data is owned by the encoder and valid until the next Encode call.
type EncodedFrame struct {
	Data      []byte
	FrameType FrameType
	Timestamp int64 // Presentation time in nanoseconds since session start
}

// IsKeyframe returns true if this is a keyframe.
func (f *EncodedFrame) IsKeyframe() bool {
	return f.FrameType == FrameTypeKey
}

// EncodedAudio holds one encoded audio packet (e.g. 20 ms of Opus).
type EncodedAudio struct {
	Data      []byte
	Timestamp int64 // Presentation time in nanoseconds since session start
	Duration  int64 // Nanoseconds
}
