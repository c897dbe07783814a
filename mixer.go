package studio

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Mixer output format: 20 ms of 48 kHz stereo S16, the Opus frame size.
const (
	MixSampleRate    = 48000
	MixChannels      = 2
	MixFrameDuration = 20 * time.Millisecond
	MixFrameSamples  = MixSampleRate / 50
)

// MixerOption customizes an AudioMixer.
type MixerOption func(*AudioMixer)

// WithMixerLogger sets the mixer logger.
func WithMixerLogger(logger *zap.Logger) MixerOption {
	return func(m *AudioMixer) {
		m.logger = logger
	}
}

// WithMixerBuffer sets how many input blocks each source may queue
// before its reader waits for Mix to catch up.
func WithMixerBuffer(blocks int) MixerOption {
	return func(m *AudioMixer) {
		if blocks > 0 {
			m.bufferBlocks = blocks
		}
	}
}

// AudioMixer sums every microphone present when it was created into one
// stereo stream. Each input has a reader goroutine and a bounded queue;
// Mix never blocks and treats a starved input as silence.
type AudioMixer struct {
	logger       *zap.Logger
	bufferBlocks int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	inputs []*mixerInput
	pts    int64
	closed bool
}

type mixerInput struct {
	id      string
	queue   chan []int16 // interleaved stereo at MixSampleRate
	pending []int16
}

// NewAudioMixer connects the live microphones among sources. Sources of
// other kinds are ignored.
func NewAudioMixer(sources []SourceHandle, opts ...MixerOption) *AudioMixer {
	m := &AudioMixer{
		logger:       zap.NewNop(),
		bufferBlocks: 10,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	for _, h := range sources {
		track, ok := h.Audio()
		if !ok || !h.Live() {
			continue
		}
		in := &mixerInput{id: h.ID(), queue: make(chan []int16, m.bufferBlocks)}
		m.inputs = append(m.inputs, in)
		m.wg.Add(1)
		go m.readLoop(track, in)
	}
	m.logger.Debug("audio mixer created", zap.Int("inputs", len(m.inputs)))
	return m
}

// Inputs returns the number of connected sources.
func (m *AudioMixer) Inputs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

func (m *AudioMixer) readLoop(track AudioTrack, in *mixerInput) {
	defer m.wg.Done()
	for {
		samples, err := track.ReadSamples(m.ctx)
		if err != nil {
			if m.ctx.Err() == nil && !errors.Is(err, ErrTrackEnded) {
				m.logger.Warn("audio input failed", zap.String("source", in.id), zap.Error(err))
			}
			return
		}
		block := toMixFormat(samples)
		if len(block) == 0 {
			continue
		}
		select {
		case in.queue <- block:
		case <-m.ctx.Done():
			return
		}
	}
}

// Mix returns the next 20 ms output frame. After Close it returns nil.
func (m *AudioMixer) Mix() *AudioSamples {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}

	const want = MixFrameSamples * MixChannels
	acc := make([]int32, want)
	for _, in := range m.inputs {
		n := 0
		for n < want {
			if len(in.pending) == 0 {
				select {
				case block := <-in.queue:
					in.pending = block
				default:
				}
				if len(in.pending) == 0 {
					break
				}
			}
			c := copy16to32(acc[n:], in.pending)
			in.pending = in.pending[c:]
			n += c
		}
	}

	mixed := make([]int16, want)
	for i, v := range acc {
		mixed[i] = saturate16(v)
	}
	out := pcmBlock(mixed)
	out.Timestamp = m.pts
	m.pts += int64(MixFrameDuration)
	return out
}

// pcmBlock wraps interleaved stereo samples at MixSampleRate.
func pcmBlock(pcm []int16) *AudioSamples {
	data := make([]byte, len(pcm)*2)
	for i, v := range pcm {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	return &AudioSamples{
		Data:        data,
		SampleRate:  MixSampleRate,
		Channels:    MixChannels,
		SampleCount: len(pcm) / MixChannels,
		Format:      AudioFormatS16,
	}
}

// Close stops every reader and releases the graph. Safe to call twice.
func (m *AudioMixer) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.inputs = nil
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

// copy16to32 adds src into dst and returns how many samples were used.
func copy16to32(dst []int32, src []int16) int {
	n := min(len(dst), len(src))
	for i := 0; i < n; i++ {
		dst[i] += int32(src[i])
	}
	return n
}

func saturate16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// toMixFormat converts samples to interleaved stereo S16 at MixSampleRate.
func toMixFormat(s *AudioSamples) []int16 {
	if s == nil || s.Channels <= 0 || s.SampleRate <= 0 {
		return nil
	}
	frames := len(s.Data) / (s.Format.BytesPerSample() * s.Channels)
	if s.SampleCount > 0 && s.SampleCount < frames {
		frames = s.SampleCount
	}
	if frames == 0 {
		return nil
	}

	stereo := make([]int16, frames*2)
	for i := 0; i < frames; i++ {
		l := sampleAt(s, i*s.Channels)
		r := l
		if s.Channels > 1 {
			r = sampleAt(s, i*s.Channels+1)
		}
		stereo[i*2] = l
		stereo[i*2+1] = r
	}

	if s.SampleRate == MixSampleRate {
		return stereo
	}
	return resampleStereo(stereo, s.SampleRate, MixSampleRate)
}

func sampleAt(s *AudioSamples, idx int) int16 {
	switch s.Format {
	case AudioFormatF32:
		f := math.Float32frombits(binary.LittleEndian.Uint32(s.Data[idx*4:]))
		return saturate16(int32(f * 32767))
	default:
		return int16(binary.LittleEndian.Uint16(s.Data[idx*2:]))
	}
}

// resampleStereo converts interleaved stereo between rates by linear
// interpolation.
func resampleStereo(in []int16, fromRate, toRate int) []int16 {
	inFrames := len(in) / 2
	outFrames := inFrames * toRate / fromRate
	if outFrames == 0 {
		return nil
	}
	out := make([]int16, outFrames*2)
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * float64(fromRate) / float64(toRate)
		i0 := int(pos)
		frac := pos - float64(i0)
		i1 := i0 + 1
		if i1 >= inFrames {
			i1 = inFrames - 1
		}
		for c := 0; c < 2; c++ {
			a := float64(in[i0*2+c])
			b := float64(in[i1*2+c])
			out[i*2+c] = int16(a + (b-a)*frac)
		}
	}
	return out
}
