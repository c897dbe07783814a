//go:build (darwin || linux) && !noopus

// Opus support via libstream_opus, loaded at runtime with purego.

package studio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"github.com/ebitengine/purego"
)

var opusLib = nativeLib{base: "libstream_opus", envVars: []string{"STREAM_OPUS_LIB_PATH"}}

var (
	opusOnce    sync.Once
	opusInitErr error
)

// libstream_opus function pointers
var (
	opusEncoderCreate        func(sampleRate, channels, application int32) uint64
	opusEncoderEncode        func(encoder uint64, pcm uintptr, frameSize int32, outData uintptr, outCapacity int32) int32
	opusEncoderSetBitrate    func(encoder uint64, bitrate int32) int32
	opusEncoderSetComplexity func(encoder uint64, complexity int32) int32
	opusEncoderDestroy       func(encoder uint64)

	opusDecoderCreate  func(sampleRate, channels int32) uint64
	opusDecoderDecode  func(decoder uint64, data uintptr, dataLen int32, pcm uintptr, frameSize, decodeFEC int32) int32
	opusDecoderDestroy func(decoder uint64)

	opusGetError func() uintptr
)

// opusApplicationAudio favors fidelity over latency, suited to recordings.
const opusApplicationAudio = 1

// maxOpusPacket is the largest packet libopus produces.
const maxOpusPacket = 4000

func loadOpus() error {
	opusOnce.Do(func() {
		handle, err := opusLib.open()
		if err != nil {
			opusInitErr = err
			return
		}
		purego.RegisterLibFunc(&opusEncoderCreate, handle, "stream_opus_encoder_create")
		purego.RegisterLibFunc(&opusEncoderEncode, handle, "stream_opus_encoder_encode")
		purego.RegisterLibFunc(&opusEncoderSetBitrate, handle, "stream_opus_encoder_set_bitrate")
		purego.RegisterLibFunc(&opusEncoderSetComplexity, handle, "stream_opus_encoder_set_complexity")
		purego.RegisterLibFunc(&opusEncoderDestroy, handle, "stream_opus_encoder_destroy")
		purego.RegisterLibFunc(&opusDecoderCreate, handle, "stream_opus_decoder_create")
		purego.RegisterLibFunc(&opusDecoderDecode, handle, "stream_opus_decoder_decode")
		purego.RegisterLibFunc(&opusDecoderDestroy, handle, "stream_opus_decoder_destroy")
		purego.RegisterLibFunc(&opusGetError, handle, "stream_opus_get_error")
	})
	return opusInitErr
}

func opusError() string {
	if msg := goStringFromPtr(opusGetError()); msg != "" {
		return msg
	}
	return "unknown error"
}

// OpusEncoder implements AudioEncoder using libstream_opus.
type OpusEncoder struct {
	config AudioEncoderConfig

	mu        sync.Mutex
	handle    uint64
	pcmBuf    []int16
	outputBuf []byte
}

// NewOpusEncoder creates an Opus encoder.
func NewOpusEncoder(config AudioEncoderConfig) (*OpusEncoder, error) {
	if err := loadOpus(); err != nil {
		return nil, fmt.Errorf("opus encoder not available: %w", err)
	}
	if config.SampleRate <= 0 {
		config.SampleRate = MixSampleRate
	}
	if config.Channels <= 0 {
		config.Channels = MixChannels
	}
	if config.Channels > 2 {
		return nil, fmt.Errorf("opus supports max 2 channels, got %d", config.Channels)
	}

	handle := opusEncoderCreate(int32(config.SampleRate), int32(config.Channels), opusApplicationAudio)
	if handle == 0 {
		return nil, fmt.Errorf("create opus encoder: %s", opusError())
	}
	if config.BitrateBps > 0 {
		opusEncoderSetBitrate(handle, int32(config.BitrateBps))
	}
	if config.Complexity > 0 {
		opusEncoderSetComplexity(handle, int32(config.Complexity))
	}

	return &OpusEncoder{
		config:    config,
		handle:    handle,
		outputBuf: make([]byte, maxOpusPacket),
	}, nil
}

// Encode implements AudioEncoder. samples must hold exactly one Opus
// frame of S16 PCM in the encoder's channel layout.
func (e *OpusEncoder) Encode(samples *AudioSamples) (*EncodedAudio, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle == 0 {
		return nil, errors.New("encoder closed")
	}
	if samples.Format != AudioFormatS16 || samples.Channels != e.config.Channels {
		return nil, fmt.Errorf("%w: want S16 with %d channels", ErrCodecNotSupported, e.config.Channels)
	}

	n := len(samples.Data) / 2
	if n == 0 {
		return nil, errors.New("empty audio samples")
	}
	if cap(e.pcmBuf) < n {
		e.pcmBuf = make([]int16, n)
	}
	e.pcmBuf = e.pcmBuf[:n]
	for i := range e.pcmBuf {
		e.pcmBuf[i] = int16(binary.LittleEndian.Uint16(samples.Data[i*2:]))
	}

	frameSize := n / e.config.Channels
	rc := opusEncoderEncode(
		e.handle,
		uintptr(unsafe.Pointer(&e.pcmBuf[0])),
		int32(frameSize),
		uintptr(unsafe.Pointer(&e.outputBuf[0])),
		int32(len(e.outputBuf)),
	)
	runtime.KeepAlive(e.pcmBuf)
	if rc < 0 {
		return nil, fmt.Errorf("encode failed: %s", opusError())
	}

	data := make([]byte, rc)
	copy(data, e.outputBuf[:rc])
	return &EncodedAudio{
		Data:      data,
		Timestamp: samples.Timestamp,
		Duration:  int64(frameSize) * int64(time.Second) / int64(e.config.SampleRate),
	}, nil
}

// Codec implements AudioEncoder.
func (e *OpusEncoder) Codec() AudioCodec {
	return AudioCodecOpus
}

// Close implements AudioEncoder.
func (e *OpusEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != 0 {
		opusEncoderDestroy(e.handle)
		e.handle = 0
	}
	return nil
}

// OpusDecoder implements AudioDecoder using libstream_opus.
type OpusDecoder struct {
	sampleRate int
	channels   int

	mu     sync.Mutex
	handle uint64
	pcm    []int16
}

// NewOpusDecoder creates an Opus decoder producing S16 PCM.
func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	if err := loadOpus(); err != nil {
		return nil, fmt.Errorf("opus decoder not available: %w", err)
	}
	if sampleRate <= 0 {
		sampleRate = MixSampleRate
	}
	if channels <= 0 {
		channels = MixChannels
	}
	handle := opusDecoderCreate(int32(sampleRate), int32(channels))
	if handle == 0 {
		return nil, fmt.Errorf("create opus decoder: %s", opusError())
	}
	// 120 ms is the longest Opus packet.
	maxFrame := sampleRate * 120 / 1000
	return &OpusDecoder{
		sampleRate: sampleRate,
		channels:   channels,
		handle:     handle,
		pcm:        make([]int16, maxFrame*channels),
	}, nil
}

// Decode implements AudioDecoder.
func (d *OpusDecoder) Decode(data []byte, timestamp int64) (*AudioSamples, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle == 0 {
		return nil, errors.New("decoder closed")
	}
	if len(data) == 0 {
		return nil, errors.New("empty opus packet")
	}

	frameSize := len(d.pcm) / d.channels
	n := opusDecoderDecode(d.handle,
		uintptr(unsafe.Pointer(&data[0])), int32(len(data)),
		uintptr(unsafe.Pointer(&d.pcm[0])), int32(frameSize), 0)
	runtime.KeepAlive(data)
	if n < 0 {
		return nil, fmt.Errorf("decode failed: %s", opusError())
	}

	out := make([]byte, int(n)*d.channels*2)
	for i := 0; i < int(n)*d.channels; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(d.pcm[i]))
	}
	return &AudioSamples{
		Data:        out,
		SampleRate:  d.sampleRate,
		Channels:    d.channels,
		SampleCount: int(n),
		Format:      AudioFormatS16,
		Timestamp:   timestamp,
	}, nil
}

// Codec implements AudioDecoder.
func (d *OpusDecoder) Codec() AudioCodec {
	return AudioCodecOpus
}

// Close implements AudioDecoder.
func (d *OpusDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle != 0 {
		opusDecoderDestroy(d.handle)
		d.handle = 0
	}
	return nil
}

func init() {
	if err := loadOpus(); err != nil {
		return
	}
	setProviderAvailable(ProviderLibopus, true)
	registerAudioEncoder(AudioCodecOpus, ProviderLibopus, func(config AudioEncoderConfig) (AudioEncoder, error) {
		return NewOpusEncoder(config)
	})
	registerAudioDecoder(AudioCodecOpus, ProviderLibopus, func(sampleRate, channels int) (AudioDecoder, error) {
		return NewOpusDecoder(sampleRate, channels)
	})
}
