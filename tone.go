package studio

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// TonePattern selects the waveform of a ToneTrack.
type TonePattern int

const (
	TonePatternSilence TonePattern = iota // Silence
	TonePatternSine                       // Sine wave tone
	TonePatternSquare                     // Square wave tone
	TonePatternLevel                      // Constant sample value
)

func (p TonePattern) String() string {
	switch p {
	case TonePatternSilence:
		return "silence"
	case TonePatternSine:
		return "sine"
	case TonePatternSquare:
		return "square"
	case TonePatternLevel:
		return "level"
	default:
		return "unknown"
	}
}

// ToneConfig configures a synthetic microphone.
type ToneConfig struct {
	SampleRate int         // Sample rate (default: 48000)
	Channels   int         // Number of channels (default: 2)
	FrameSize  int         // Samples per frame (default: 960 = 20ms at 48kHz)
	Pattern    TonePattern // Waveform
	Frequency  float64     // Tone frequency in Hz (default: 440)
	Amplitude  float64     // Amplitude 0.0-1.0 (default: 0.5)
	Level      int16       // Sample value for TonePatternLevel
	Realtime   bool        // Pace ReadSamples to the frame duration
}

// DefaultToneConfig returns a 440 Hz stereo tone at 48 kHz.
func DefaultToneConfig() ToneConfig {
	return ToneConfig{
		SampleRate: 48000,
		Channels:   2,
		FrameSize:  960,
		Pattern:    TonePatternSine,
		Frequency:  440.0, // A4
		Amplitude:  0.5,
	}
}

// ToneTrack is an AudioTrack generating S16 samples on demand.
type ToneTrack struct {
	*BaseTrack
	config ToneConfig

	mu     sync.Mutex
	phase  float64
	count  uint64
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

// NewToneTrack creates a live tone track.
func NewToneTrack(id string, config ToneConfig) *ToneTrack {
	if config.SampleRate <= 0 {
		config.SampleRate = 48000
	}
	if config.Channels <= 0 {
		config.Channels = 2
	}
	if config.FrameSize <= 0 {
		config.FrameSize = config.SampleRate / 50
	}
	if config.Frequency <= 0 {
		config.Frequency = 440.0
	}
	if config.Amplitude <= 0 {
		config.Amplitude = 0.5
	}
	if config.Amplitude > 1.0 {
		config.Amplitude = 1.0
	}
	t := &ToneTrack{
		BaseTrack: NewBaseTrack(id),
		config:    config,
		done:      make(chan struct{}),
	}
	if config.Realtime {
		t.ticker = time.NewTicker(t.FrameDuration())
	}
	return t
}

// FrameDuration returns the duration of one ReadSamples result.
func (t *ToneTrack) FrameDuration() time.Duration {
	return time.Duration(t.config.FrameSize) * time.Second / time.Duration(t.config.SampleRate)
}

// ReadSamples implements AudioTrack.
func (t *ToneTrack) ReadSamples(ctx context.Context) (*AudioSamples, error) {
	if t.ticker != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.done:
			return nil, ErrTrackEnded
		case <-t.ticker.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.State() == TrackStateEnded {
		return nil, ErrTrackEnded
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	data := make([]byte, t.config.FrameSize*t.config.Channels*2)
	step := 2.0 * math.Pi * t.config.Frequency / float64(t.config.SampleRate)
	amplitude := t.config.Amplitude * 32767.0
	muted := t.State() == TrackStateMuted

	idx := 0
	for i := 0; i < t.config.FrameSize; i++ {
		var sample int16
		switch {
		case muted:
		case t.config.Pattern == TonePatternSine:
			sample = int16(amplitude * math.Sin(t.phase))
		case t.config.Pattern == TonePatternSquare:
			sample = int16(amplitude)
			if math.Sin(t.phase) < 0 {
				sample = -sample
			}
		case t.config.Pattern == TonePatternLevel:
			sample = t.config.Level
		}
		t.phase += step
		if t.phase > 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
		for c := 0; c < t.config.Channels; c++ {
			binary.LittleEndian.PutUint16(data[idx:], uint16(sample))
			idx += 2
		}
	}

	samples := &AudioSamples{
		Data:        data,
		SampleRate:  t.config.SampleRate,
		Channels:    t.config.Channels,
		SampleCount: t.config.FrameSize,
		Format:      AudioFormatS16,
		Timestamp:   int64(t.count) * int64(time.Second) / int64(t.config.SampleRate),
	}
	t.count += uint64(t.config.FrameSize)
	return samples, nil
}

// Stop ends the track and unblocks pending reads.
func (t *ToneTrack) Stop() {
	t.once.Do(func() {
		close(t.done)
		if t.ticker != nil {
			t.ticker.Stop()
		}
	})
	t.SetState(TrackStateEnded)
}
