//go:build (darwin || linux) && !novpx

// VP8/VP9 support via libmedia_vpx, a thin primitive-only wrapper around
// libvpx, loaded at runtime with purego.

package studio

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/purego"
)

var vpxLib = nativeLib{base: "libmedia_vpx", envVars: []string{"MEDIA_VPX_LIB_PATH"}}

var (
	vpxOnce    sync.Once
	vpxHandle  uintptr
	vpxInitErr error
)

// libmedia_vpx function pointers
var (
	vpxEncoderCreate        func(codec, width, height, fps, bitrateKbps, threads int32) uint64
	vpxEncoderEncode        func(encoder uint64, yPlane, uPlane, vPlane uintptr, yStride, uvStride, forceKeyframe int32, outData uintptr, outCapacity int32, outFrameType, outPts uintptr) int32
	vpxEncoderMaxOutputSize func(encoder uint64) int32
	vpxEncoderRequestKF     func(encoder uint64)
	vpxEncoderDestroy       func(encoder uint64)

	vpxDecoderCreate   func(codec, threads int32) uint64
	vpxDecoderDecodeV2 func(decoder uint64, data uintptr, dataLen int32, resultOut uintptr) int32
	vpxDecoderDestroy  func(decoder uint64)

	vpxGetError       func() uintptr
	vpxCodecAvailable func(codec int32) int32
)

// vpxDecodeResult matches media_vpx_decode_result_t in C.
// It must be heap-allocated for purego to work correctly on arm64.
type vpxDecodeResult struct {
	YPtr     uint64
	UPtr     uint64
	VPtr     uint64
	YStride  int32
	UVStride int32
	Width    int32
	Height   int32
	Result   int32 // 1=decoded, 0=buffering, <0=error
	Reserved int32
}

// Constants from media_vpx.h
const (
	vpxCodecVP8 = 0
	vpxCodecVP9 = 1

	vpxFrameKey = 0
)

func loadVPX() error {
	vpxOnce.Do(func() {
		handle, err := vpxLib.open()
		if err != nil {
			vpxInitErr = err
			return
		}
		vpxHandle = handle
		purego.RegisterLibFunc(&vpxEncoderCreate, handle, "media_vpx_encoder_create")
		purego.RegisterLibFunc(&vpxEncoderEncode, handle, "media_vpx_encoder_encode")
		purego.RegisterLibFunc(&vpxEncoderMaxOutputSize, handle, "media_vpx_encoder_max_output_size")
		purego.RegisterLibFunc(&vpxEncoderRequestKF, handle, "media_vpx_encoder_request_keyframe")
		purego.RegisterLibFunc(&vpxEncoderDestroy, handle, "media_vpx_encoder_destroy")
		purego.RegisterLibFunc(&vpxDecoderCreate, handle, "media_vpx_decoder_create")
		purego.RegisterLibFunc(&vpxDecoderDecodeV2, handle, "media_vpx_decoder_decode_v2")
		purego.RegisterLibFunc(&vpxDecoderDestroy, handle, "media_vpx_decoder_destroy")
		purego.RegisterLibFunc(&vpxGetError, handle, "media_vpx_get_error")
		purego.RegisterLibFunc(&vpxCodecAvailable, handle, "media_vpx_codec_available")
	})
	return vpxInitErr
}

func vpxError() string {
	if msg := goStringFromPtr(vpxGetError()); msg != "" {
		return msg
	}
	return "unknown error"
}

func vpxCodecType(codec VideoCodec) (int32, error) {
	switch codec {
	case VideoCodecVP8:
		return vpxCodecVP8, nil
	case VideoCodecVP9:
		return vpxCodecVP9, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrCodecNotSupported, codec)
	}
}

// VPXEncoder implements VideoEncoder using libmedia_vpx.
type VPXEncoder struct {
	config VideoEncoderConfig

	mu        sync.Mutex
	handle    uint64
	outputBuf []byte
	frames    int

	keyframeReq atomic.Bool
}

// NewVPXEncoder creates a VP8 or VP9 encoder.
func NewVPXEncoder(config VideoEncoderConfig) (*VPXEncoder, error) {
	if err := loadVPX(); err != nil {
		return nil, fmt.Errorf("%s encoder not available: %w", config.Codec, err)
	}
	codecType, err := vpxCodecType(config.Codec)
	if err != nil {
		return nil, err
	}

	threads := config.Threads
	if threads <= 0 {
		threads = 4
	}
	bitrateKbps := config.BitrateBps / 1000
	if bitrateKbps <= 0 {
		bitrateKbps = RecordingVideoBitrate / 1000
	}
	fps := config.FPS
	if fps <= 0 {
		fps = 30
	}

	handle := vpxEncoderCreate(codecType, int32(config.Width), int32(config.Height),
		int32(fps), int32(bitrateKbps), int32(threads))
	if handle == 0 {
		return nil, fmt.Errorf("create %s encoder: %s", config.Codec, vpxError())
	}

	maxOutput := vpxEncoderMaxOutputSize(handle)
	if maxOutput <= 0 {
		maxOutput = int32(config.Width * config.Height * 3 / 2)
	}

	enc := &VPXEncoder{
		config:    config,
		handle:    handle,
		outputBuf: make([]byte, maxOutput),
	}
	enc.keyframeReq.Store(true)
	return enc, nil
}

// Encode implements VideoEncoder.
func (e *VPXEncoder) Encode(frame *VideoFrame) (*EncodedFrame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle == 0 {
		return nil, errors.New("encoder closed")
	}
	if !frame.Valid() || frame.Width != e.config.Width || frame.Height != e.config.Height {
		return nil, ErrInvalidFrame
	}

	force := int32(0)
	if e.keyframeReq.Swap(false) ||
		(e.config.KeyframeInterval > 0 && e.frames%e.config.KeyframeInterval == 0) {
		force = 1
	}

	var frameType int32
	var pts int64
	n := vpxEncoderEncode(
		e.handle,
		uintptr(unsafe.Pointer(&frame.Data[0][0])),
		uintptr(unsafe.Pointer(&frame.Data[1][0])),
		uintptr(unsafe.Pointer(&frame.Data[2][0])),
		int32(frame.Stride[0]),
		int32(frame.Stride[1]),
		force,
		uintptr(unsafe.Pointer(&e.outputBuf[0])),
		int32(len(e.outputBuf)),
		uintptr(unsafe.Pointer(&frameType)),
		uintptr(unsafe.Pointer(&pts)),
	)
	runtime.KeepAlive(frame)

	if n < 0 {
		return nil, fmt.Errorf("encode failed: %s", vpxError())
	}
	e.frames++
	if n == 0 {
		return nil, nil
	}

	ft := FrameTypeDelta
	if frameType == vpxFrameKey {
		ft = FrameTypeKey
	}
	return &EncodedFrame{
		Data:      e.outputBuf[:n],
		FrameType: ft,
		Timestamp: frame.Timestamp,
	}, nil
}

// RequestKeyframe implements VideoEncoder.
func (e *VPXEncoder) RequestKeyframe() {
	e.keyframeReq.Store(true)
}

// Codec implements VideoEncoder.
func (e *VPXEncoder) Codec() VideoCodec {
	return e.config.Codec
}

// Close implements VideoEncoder.
func (e *VPXEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != 0 {
		vpxEncoderDestroy(e.handle)
		e.handle = 0
	}
	return nil
}

// VPXDecoder implements VideoDecoder using libmedia_vpx.
type VPXDecoder struct {
	codec VideoCodec

	mu     sync.Mutex
	handle uint64
	result *vpxDecodeResult
	frame  *VideoFrame
}

// NewVPXDecoder creates a VP8 or VP9 decoder.
func NewVPXDecoder(codec VideoCodec) (*VPXDecoder, error) {
	if err := loadVPX(); err != nil {
		return nil, fmt.Errorf("%s decoder not available: %w", codec, err)
	}
	codecType, err := vpxCodecType(codec)
	if err != nil {
		return nil, err
	}
	handle := vpxDecoderCreate(codecType, 2)
	if handle == 0 {
		return nil, fmt.Errorf("create %s decoder: %s", codec, vpxError())
	}
	return &VPXDecoder{
		codec:  codec,
		handle: handle,
		result: &vpxDecodeResult{},
	}, nil
}

// Decode implements VideoDecoder.
func (d *VPXDecoder) Decode(data []byte, timestamp int64) (*VideoFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle == 0 {
		return nil, errors.New("decoder closed")
	}
	if len(data) == 0 {
		return nil, errors.New("empty encoded data")
	}

	out := d.result
	rc := vpxDecoderDecodeV2(d.handle, uintptr(unsafe.Pointer(&data[0])), int32(len(data)), uintptr(unsafe.Pointer(out)))
	runtime.KeepAlive(data)
	runtime.KeepAlive(out)

	if rc < 0 {
		return nil, fmt.Errorf("decode failed: %s", vpxError())
	}
	if rc == 0 {
		return nil, nil // Buffering
	}

	w, h := int(out.Width), int(out.Height)
	if w <= 0 || h <= 0 || out.YPtr == 0 || out.YStride <= 0 || out.UVStride <= 0 {
		return nil, fmt.Errorf("invalid decoder output: stride=%d/%d, size=%dx%d",
			out.YStride, out.UVStride, w, h)
	}

	if d.frame == nil || d.frame.Width != (w+1)&^1 || d.frame.Height != (h+1)&^1 {
		d.frame = NewI420Frame(w, h)
	}
	f := d.frame
	copyPlane(f.Data[0], f.Stride[0], uintptr(out.YPtr), int(out.YStride), w, h)
	copyPlane(f.Data[1], f.Stride[1], uintptr(out.UPtr), int(out.UVStride), (w+1)/2, (h+1)/2)
	copyPlane(f.Data[2], f.Stride[2], uintptr(out.VPtr), int(out.UVStride), (w+1)/2, (h+1)/2)
	f.Timestamp = timestamp
	return f, nil
}

// Codec implements VideoDecoder.
func (d *VPXDecoder) Codec() VideoCodec {
	return d.codec
}

// Close implements VideoDecoder.
func (d *VPXDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle != 0 {
		vpxDecoderDestroy(d.handle)
		d.handle = 0
	}
	return nil
}

func init() {
	if err := loadVPX(); err != nil {
		return
	}
	for _, codec := range []VideoCodec{VideoCodecVP8, VideoCodecVP9} {
		codecType, _ := vpxCodecType(codec)
		if vpxCodecAvailable(codecType) == 0 {
			continue
		}
		setProviderAvailable(ProviderLibvpx, true)
		registerVideoEncoder(codec, ProviderLibvpx, func(config VideoEncoderConfig) (VideoEncoder, error) {
			return NewVPXEncoder(config)
		})
		registerVideoDecoder(codec, ProviderLibvpx, func(codec VideoCodec) (VideoDecoder, error) {
			return NewVPXDecoder(codec)
		})
	}
}
