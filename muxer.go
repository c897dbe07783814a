package studio

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"
)

// ErrMuxerClosed is returned by writes after Close.
var ErrMuxerClosed = errors.New("muxer closed")

// MuxerConfig describes the tracks of a WebM recording.
type MuxerConfig struct {
	Video      VideoCodec
	Width      int
	Height     int
	Audio      AudioCodec
	SampleRate int
	Channels   int

	// WritingApp is stored in the segment info.
	WritingApp string

	// MaxDelayedBlocks bounds how many blocks the interleaver holds back
	// to put audio and video in timestamp order.
	MaxDelayedBlocks int
}

// DefaultMuxerConfig returns the muxer configuration for a codec pair.
func DefaultMuxerConfig(pair CodecPair, width, height int) MuxerConfig {
	return MuxerConfig{
		Video:            pair.Video,
		Width:            width,
		Height:           height,
		Audio:            pair.Audio,
		SampleRate:       MixSampleRate,
		Channels:         MixChannels,
		WritingApp:       "studio",
		MaxDelayedBlocks: 64,
	}
}

// WebMMuxer writes encoded audio and video into a WebM stream held in
// memory. Callers drain the produced bytes with TakeChunk.
type WebMMuxer struct {
	out *chunkBuffer

	mu     sync.Mutex
	video  webm.BlockWriteCloser
	audio  webm.BlockWriteCloser
	closed bool
}

// NewWebMMuxer writes the WebM header and prepares one video and one
// audio track.
func NewWebMMuxer(config MuxerConfig) (*WebMMuxer, error) {
	if config.Video.WebMCodecID() == "" {
		return nil, fmt.Errorf("%w: %s in webm", ErrCodecNotSupported, config.Video)
	}
	if config.Audio.WebMCodecID() == "" {
		return nil, fmt.Errorf("%w: %s in webm", ErrCodecNotSupported, config.Audio)
	}
	if config.MaxDelayedBlocks <= 0 {
		config.MaxDelayedBlocks = 64
	}

	tracks := []webm.TrackEntry{
		{
			Name:        "Video",
			TrackNumber: 1,
			TrackUID:    1,
			CodecID:     config.Video.WebMCodecID(),
			TrackType:   1,
			Video: &webm.Video{
				PixelWidth:  uint64(config.Width),
				PixelHeight: uint64(config.Height),
			},
		},
		{
			Name:        "Audio",
			TrackNumber: 2,
			TrackUID:    2,
			CodecID:     config.Audio.WebMCodecID(),
			TrackType:   2,
			Audio: &webm.Audio{
				SamplingFrequency: float64(config.SampleRate),
				Channels:          uint64(config.Channels),
			},
		},
	}

	interceptor, err := mkvcore.NewMultiTrackBlockSorter(
		mkvcore.WithMaxDelayedPackets(config.MaxDelayedBlocks),
		mkvcore.WithSortRule(mkvcore.BlockSorterWriteOutdated),
	)
	if err != nil {
		return nil, fmt.Errorf("create block sorter: %w", err)
	}

	out := &chunkBuffer{}
	writers, err := webm.NewSimpleBlockWriter(out, tracks,
		mkvcore.WithSegmentInfo(&webm.Info{
			TimecodeScale: 1000000, // 1ms
			MuxingApp:     config.WritingApp,
			WritingApp:    config.WritingApp,
		}),
		mkvcore.WithBlockInterceptor(interceptor),
	)
	if err != nil {
		return nil, fmt.Errorf("create webm writer: %w", err)
	}
	if len(writers) != 2 {
		return nil, fmt.Errorf("create webm writer: got %d track writers", len(writers))
	}

	return &WebMMuxer{out: out, video: writers[0], audio: writers[1]}, nil
}

// WriteVideo appends an encoded video frame. Timestamps are nanoseconds
// since the start of the recording.
func (m *WebMMuxer) WriteVideo(frame *EncodedFrame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrMuxerClosed
	}
	if _, err := m.video.Write(frame.IsKeyframe(), frame.Timestamp/1e6, frame.Data); err != nil {
		return fmt.Errorf("write video block: %w", err)
	}
	return nil
}

// WriteAudio appends an encoded audio packet.
func (m *WebMMuxer) WriteAudio(packet *EncodedAudio) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrMuxerClosed
	}
	if _, err := m.audio.Write(true, packet.Timestamp/1e6, packet.Data); err != nil {
		return fmt.Errorf("write audio block: %w", err)
	}
	return nil
}

// TakeChunk returns the bytes produced since the previous call.
func (m *WebMMuxer) TakeChunk() []byte {
	return m.out.take()
}

// Close flushes pending blocks and ends the stream. The final bytes
// remain available to TakeChunk.
func (m *WebMMuxer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return errors.Join(m.video.Close(), m.audio.Close())
}

// chunkBuffer collects muxer output between drains.
type chunkBuffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (b *chunkBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrMuxerClosed
	}
	return b.buf.Write(p)
}

func (b *chunkBuffer) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (b *chunkBuffer) take() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() == 0 {
		return nil
	}
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	b.buf.Reset()
	return out
}
