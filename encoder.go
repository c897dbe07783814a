package studio

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// Common errors
var (
	ErrBufferTooSmall    = errors.New("buffer too small")
	ErrProviderNotFound  = errors.New("provider not available")
	ErrCodecNotSupported = errors.New("codec not supported by provider")
)

// VideoEncoderConfig configures a video encoder.
type VideoEncoderConfig struct {
	Codec      VideoCodec
	Width      int // Frame width
	Height     int // Frame height
	FPS        int // Target framerate
	BitrateBps int // Target bitrate in bits per second
	Threads    int // Encoder threads (0 = auto)

	// KeyframeInterval forces a keyframe every N frames so recordings
	// stay seekable (0 = encoder default).
	KeyframeInterval int
}

// RecordingVideoBitrate is the target bitrate of composited recordings.
const RecordingVideoBitrate = 8_000_000

// DefaultVideoEncoderConfig returns the recording encoder configuration.
func DefaultVideoEncoderConfig(codec VideoCodec, width, height int) VideoEncoderConfig {
	return VideoEncoderConfig{
		Codec:            codec,
		Width:            width,
		Height:           height,
		FPS:              30,
		BitrateBps:       RecordingVideoBitrate,
		KeyframeInterval: 60,
	}
}

// VideoEncoder encodes raw video frames to compressed bitstream.
type VideoEncoder interface {
	io.Closer

	// Encode encodes a video frame.
	// Returns nil if the encoder is buffering and no output is ready.
	// The returned EncodedFrame data is valid until the next Encode() call.
	Encode(frame *VideoFrame) (*EncodedFrame, error)

	// RequestKeyframe forces the next frame to be a keyframe.
	RequestKeyframe()

	Codec() VideoCodec
}

// AudioEncoderConfig configures an audio encoder.
type AudioEncoderConfig struct {
	Codec       AudioCodec
	SampleRate  int // Sample rate (e.g., 48000)
	Channels    int // Number of channels (1 or 2)
	BitrateBps  int // Target bitrate in bps
	FrameSizeMs int // Frame size in milliseconds
	Complexity  int // Opus complexity (0-10)
}

// DefaultAudioEncoderConfig returns the recording audio configuration:
// 48 kHz stereo at 128 kbps in 20 ms frames.
func DefaultAudioEncoderConfig(codec AudioCodec) AudioEncoderConfig {
	return AudioEncoderConfig{
		Codec:       codec,
		SampleRate:  MixSampleRate,
		Channels:    MixChannels,
		BitrateBps:  128000,
		FrameSizeMs: 20,
		Complexity:  10,
	}
}

// AudioEncoder encodes raw audio samples to compressed bitstream.
type AudioEncoder interface {
	io.Closer
	Encode(samples *AudioSamples) (*EncodedAudio, error)
	Codec() AudioCodec
}

// VideoDecoder decodes one compressed frame at a time. The returned frame
// is valid until the next Decode call; nil means no picture yet.
type VideoDecoder interface {
	io.Closer
	Decode(data []byte, timestamp int64) (*VideoFrame, error)
	Codec() VideoCodec
}

// AudioDecoder decodes compressed audio packets to S16 PCM.
type AudioDecoder interface {
	io.Closer
	Decode(data []byte, timestamp int64) (*AudioSamples, error)
	Codec() AudioCodec
}

// CodecFactory creates the codecs a recording uses. The native registry
// is the default; tests substitute their own.
type CodecFactory interface {
	SupportsVideo(codec VideoCodec) bool
	SupportsAudio(codec AudioCodec) bool
	NewVideoEncoder(config VideoEncoderConfig) (VideoEncoder, error)
	NewAudioEncoder(config AudioEncoderConfig) (AudioEncoder, error)
}

// --- Registry ---

type videoEncoderFactory func(VideoEncoderConfig) (VideoEncoder, error)
type audioEncoderFactory func(AudioEncoderConfig) (AudioEncoder, error)
type videoDecoderFactory func(VideoCodec) (VideoDecoder, error)
type audioDecoderFactory func(sampleRate, channels int) (AudioDecoder, error)

type codecEntry[F any] struct {
	provider Provider
	factory  F
}

type codecRegistry struct {
	mu sync.RWMutex

	videoEncoders map[VideoCodec]codecEntry[videoEncoderFactory]
	audioEncoders map[AudioCodec]codecEntry[audioEncoderFactory]
	videoDecoders map[VideoCodec]codecEntry[videoDecoderFactory]
	audioDecoders map[AudioCodec]codecEntry[audioDecoderFactory]
}

var globalCodecRegistry = &codecRegistry{
	videoEncoders: make(map[VideoCodec]codecEntry[videoEncoderFactory]),
	audioEncoders: make(map[AudioCodec]codecEntry[audioEncoderFactory]),
	videoDecoders: make(map[VideoCodec]codecEntry[videoDecoderFactory]),
	audioDecoders: make(map[AudioCodec]codecEntry[audioDecoderFactory]),
}

func registerVideoEncoder(codec VideoCodec, provider Provider, factory videoEncoderFactory) {
	globalCodecRegistry.mu.Lock()
	defer globalCodecRegistry.mu.Unlock()
	globalCodecRegistry.videoEncoders[codec] = codecEntry[videoEncoderFactory]{provider, factory}
}

func registerAudioEncoder(codec AudioCodec, provider Provider, factory audioEncoderFactory) {
	globalCodecRegistry.mu.Lock()
	defer globalCodecRegistry.mu.Unlock()
	globalCodecRegistry.audioEncoders[codec] = codecEntry[audioEncoderFactory]{provider, factory}
}

func registerVideoDecoder(codec VideoCodec, provider Provider, factory videoDecoderFactory) {
	globalCodecRegistry.mu.Lock()
	defer globalCodecRegistry.mu.Unlock()
	globalCodecRegistry.videoDecoders[codec] = codecEntry[videoDecoderFactory]{provider, factory}
}

func registerAudioDecoder(codec AudioCodec, provider Provider, factory audioDecoderFactory) {
	globalCodecRegistry.mu.Lock()
	defer globalCodecRegistry.mu.Unlock()
	globalCodecRegistry.audioDecoders[codec] = codecEntry[audioDecoderFactory]{provider, factory}
}

// NativeCodecs returns the factory backed by the native libraries found
// at runtime.
func NativeCodecs() CodecFactory {
	return globalCodecRegistry
}

func (r *codecRegistry) SupportsVideo(codec VideoCodec) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.videoEncoders[codec]
	return ok && e.provider.Available()
}

func (r *codecRegistry) SupportsAudio(codec AudioCodec) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.audioEncoders[codec]
	return ok && e.provider.Available()
}

func (r *codecRegistry) NewVideoEncoder(config VideoEncoderConfig) (VideoEncoder, error) {
	r.mu.RLock()
	e, ok := r.videoEncoders[config.Codec]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no encoder for %s", ErrCodecNotSupported, config.Codec)
	}
	if !e.provider.Available() {
		return nil, fmt.Errorf("%w: %s for %s", ErrProviderNotFound, e.provider, config.Codec)
	}
	return e.factory(config)
}

func (r *codecRegistry) NewAudioEncoder(config AudioEncoderConfig) (AudioEncoder, error) {
	r.mu.RLock()
	e, ok := r.audioEncoders[config.Codec]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no encoder for %s", ErrCodecNotSupported, config.Codec)
	}
	if !e.provider.Available() {
		return nil, fmt.Errorf("%w: %s for %s", ErrProviderNotFound, e.provider, config.Codec)
	}
	return e.factory(config)
}

// NewVideoDecoder creates a native decoder for codec.
func NewVideoDecoder(codec VideoCodec) (VideoDecoder, error) {
	globalCodecRegistry.mu.RLock()
	e, ok := globalCodecRegistry.videoDecoders[codec]
	globalCodecRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no decoder for %s", ErrCodecNotSupported, codec)
	}
	if !e.provider.Available() {
		return nil, fmt.Errorf("%w: %s for %s", ErrProviderNotFound, e.provider, codec)
	}
	return e.factory(codec)
}

// NewAudioDecoder creates a native decoder for codec.
func NewAudioDecoder(codec AudioCodec, sampleRate, channels int) (AudioDecoder, error) {
	globalCodecRegistry.mu.RLock()
	e, ok := globalCodecRegistry.audioDecoders[codec]
	globalCodecRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no decoder for %s", ErrCodecNotSupported, codec)
	}
	if !e.provider.Available() {
		return nil, fmt.Errorf("%w: %s for %s", ErrProviderNotFound, e.provider, codec)
	}
	return e.factory(sampleRate, channels)
}
