package studio

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCodecs is a CodecFactory producing deterministic payloads, so
// recordings can be compared byte for byte without native libraries.
type fakeCodecs struct {
	video map[VideoCodec]bool
	audio bool

	newVideoErr error
	failVideoAt int // Encode call that fails, 0 = never

	mu       sync.Mutex
	encoders []*fakeVideoEncoder
	closed   atomic.Int32
}

func newFakeCodecs(video ...VideoCodec) *fakeCodecs {
	f := &fakeCodecs{video: make(map[VideoCodec]bool), audio: true}
	for _, c := range video {
		f.video[c] = true
	}
	return f
}

func (f *fakeCodecs) SupportsVideo(codec VideoCodec) bool { return f.video[codec] }
func (f *fakeCodecs) SupportsAudio(codec AudioCodec) bool {
	return f.audio && codec == AudioCodecOpus
}

func (f *fakeCodecs) NewVideoEncoder(config VideoEncoderConfig) (VideoEncoder, error) {
	if f.newVideoErr != nil {
		return nil, f.newVideoErr
	}
	enc := &fakeVideoEncoder{codecs: f, config: config, failAt: f.failVideoAt}
	f.mu.Lock()
	f.encoders = append(f.encoders, enc)
	f.mu.Unlock()
	return enc, nil
}

func (f *fakeCodecs) NewAudioEncoder(config AudioEncoderConfig) (AudioEncoder, error) {
	return &fakeAudioEncoder{codecs: f, config: config}, nil
}

var errFakeEncode = errors.New("fake encoder failure")

type fakeVideoEncoder struct {
	codecs *fakeCodecs
	config VideoEncoderConfig
	failAt int

	calls    int
	keyframe bool
	frames   []int64 // timestamps seen
}

func (e *fakeVideoEncoder) Encode(frame *VideoFrame) (*EncodedFrame, error) {
	e.calls++
	if e.failAt > 0 && e.calls >= e.failAt {
		return nil, errFakeEncode
	}
	e.frames = append(e.frames, frame.Timestamp)
	ft := FrameTypeDelta
	if e.calls == 1 || e.keyframe {
		ft = FrameTypeKey
		e.keyframe = false
	}
	return &EncodedFrame{
		Data:      []byte{byte(e.calls), frame.Data[0][0], 0xAA, 0xBB},
		FrameType: ft,
		Timestamp: frame.Timestamp,
	}, nil
}

func (e *fakeVideoEncoder) RequestKeyframe() { e.keyframe = true }
func (e *fakeVideoEncoder) Codec() VideoCodec { return e.config.Codec }
func (e *fakeVideoEncoder) Close() error {
	e.codecs.closed.Add(1)
	return nil
}

type fakeAudioEncoder struct {
	codecs *fakeCodecs
	config AudioEncoderConfig
	calls  int
}

func (e *fakeAudioEncoder) Encode(samples *AudioSamples) (*EncodedAudio, error) {
	e.calls++
	return &EncodedAudio{
		Data:      []byte{0xF8, byte(e.calls), samples.Data[0]},
		Timestamp: samples.Timestamp,
		Duration:  int64(MixFrameDuration),
	}, nil
}

func (e *fakeAudioEncoder) Codec() AudioCodec { return e.config.Codec }
func (e *fakeAudioEncoder) Close() error {
	e.codecs.closed.Add(1)
	return nil
}

func TestVideoCodec_String(t *testing.T) {
	tests := []struct {
		codec VideoCodec
		want  string
		mime  string
		webm  string
	}{
		{VideoCodecVP8, "VP8", "video/VP8", "V_VP8"},
		{VideoCodecVP9, "VP9", "video/VP9", "V_VP9"},
		{VideoCodecAV1, "AV1", "video/AV1", "V_AV1"},
		{VideoCodecUnknown, "Unknown", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.codec.String())
			assert.Equal(t, tt.mime, tt.codec.MimeType())
			assert.Equal(t, tt.webm, tt.codec.WebMCodecID())
			assert.Equal(t, uint32(90000), tt.codec.ClockRate())
		})
	}
}

func TestAudioCodec(t *testing.T) {
	assert.Equal(t, "Opus", AudioCodecOpus.String())
	assert.Equal(t, "audio/opus", AudioCodecOpus.MimeType())
	assert.Equal(t, "A_OPUS", AudioCodecOpus.WebMCodecID())
	assert.Equal(t, "", AudioCodecUnknown.WebMCodecID())
}

func TestParseRecordingFormat(t *testing.T) {
	tests := []struct {
		mime    string
		want    CodecPair
		wantErr bool
	}{
		{MimeTypeWebMVP9Opus, CodecPair{Video: VideoCodecVP9, Audio: AudioCodecOpus, MimeType: MimeTypeWebMVP9Opus}, false},
		{MimeTypeWebMVP8Opus, CodecPair{Video: VideoCodecVP8, Audio: AudioCodecOpus, MimeType: MimeTypeWebMVP8Opus}, false},
		{MimeTypeWebM, CodecPair{Video: VideoCodecUnknown, Audio: AudioCodecOpus, MimeType: MimeTypeWebM}, false},
		{`video/webm; codecs="av01,opus"`, CodecPair{Video: VideoCodecAV1, Audio: AudioCodecOpus, MimeType: `video/webm; codecs="av01,opus"`}, false},
		{"video/mp4;codecs=avc1", CodecPair{}, true},
		{"video/webm;codecs=h264", CodecPair{}, true},
		{"video/webm;bitrate=1", CodecPair{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			got, err := ParseRecordingFormat(tt.mime)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectCodecs(t *testing.T) {
	tests := []struct {
		name    string
		factory *fakeCodecs
		formats []string
		want    VideoCodec
		wantErr error
	}{
		{"vp9 preferred", newFakeCodecs(VideoCodecVP8, VideoCodecVP9), DefaultRecordingFormats(), VideoCodecVP9, nil},
		{"vp8 fallback", newFakeCodecs(VideoCodecVP8), DefaultRecordingFormats(), VideoCodecVP8, nil},
		{"bare webm picks vp8 first", newFakeCodecs(VideoCodecVP8, VideoCodecVP9), []string{MimeTypeWebM}, VideoCodecVP8, nil},
		{"bare webm falls to av1", newFakeCodecs(VideoCodecAV1), DefaultRecordingFormats(), VideoCodecAV1, nil},
		{"nothing supported", newFakeCodecs(), DefaultRecordingFormats(), VideoCodecUnknown, ErrNoSupportedCodec},
		{"unparseable skipped", newFakeCodecs(VideoCodecVP8), []string{"audio/ogg", MimeTypeWebMVP8Opus}, VideoCodecVP8, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair, err := SelectCodecs(tt.factory, tt.formats)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, pair.Video)
			assert.Equal(t, AudioCodecOpus, pair.Audio)
		})
	}
}

func TestSelectCodecs_NoAudio(t *testing.T) {
	f := newFakeCodecs(VideoCodecVP8)
	f.audio = false
	_, err := SelectCodecs(f, DefaultRecordingFormats())
	assert.ErrorIs(t, err, ErrNoSupportedCodec)
}

func TestNativeCodecsMatchProviders(t *testing.T) {
	native := NativeCodecs()
	// Support is only reported for libraries that actually loaded.
	if !ProviderLibvpx.Available() {
		assert.False(t, native.SupportsVideo(VideoCodecVP8))
		_, err := native.NewVideoEncoder(DefaultVideoEncoderConfig(VideoCodecVP8, 64, 64))
		assert.Error(t, err)
	}
	if !ProviderLibopus.Available() {
		assert.False(t, native.SupportsAudio(AudioCodecOpus))
	}
	assert.False(t, native.SupportsVideo(VideoCodecUnknown))
}
