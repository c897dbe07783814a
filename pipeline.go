package studio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PipelineState represents the state of a recording pipeline.
type PipelineState int

const (
	PipelineStateIdle    PipelineState = iota // Created, not started
	PipelineStateRunning                      // Capturing and encoding
	PipelineStateStopped                      // Closed
)

func (s PipelineState) String() string {
	switch s {
	case PipelineStateIdle:
		return "idle"
	case PipelineStateRunning:
		return "running"
	case PipelineStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DefaultTimeslice is how often encoded output is handed to the sink.
const DefaultTimeslice = time.Second

// FrameSource supplies canvas frames to encode.
type FrameSource interface {
	Snapshot() *VideoFrame
}

// SampleSource supplies mixed audio frames to encode. Mix returns nil
// once the source is closed.
type SampleSource interface {
	Mix() *AudioSamples
}

// PipelineConfig configures a recording pipeline.
type PipelineConfig struct {
	Codecs       CodecPair
	Width        int
	Height       int
	FPS          int           // Canvas capture rate (default: 30)
	VideoBitrate int           // Default: RecordingVideoBitrate
	AudioBitrate int           // Default: 128 kbps
	Timeslice    time.Duration // Chunk interval (default: 1s)

	// Schedulers drive capture; nil means real-time tickers.
	VideoScheduler FrameScheduler
	AudioScheduler FrameScheduler
	ChunkScheduler FrameScheduler
}

// DefaultPipelineConfig returns a 30 fps pipeline for a canvas.
func DefaultPipelineConfig(codecs CodecPair, width, height int) PipelineConfig {
	return PipelineConfig{
		Codecs:       codecs,
		Width:        width,
		Height:       height,
		FPS:          30,
		VideoBitrate: RecordingVideoBitrate,
		AudioBitrate: 128000,
		Timeslice:    DefaultTimeslice,
	}
}

// PipelineStats provides pipeline statistics.
type PipelineStats struct {
	FramesEncoded  uint64
	KeyframesSent  uint64
	AudioPackets   uint64
	ChunksEmitted  uint64
	BytesEmitted   uint64
	EncodeErrors   uint64
	DroppedSamples uint64
}

// RecordingPipeline captures canvas frames and mixed audio, encodes and
// muxes them to WebM, and streams timeslice chunks to a Sink through a
// single writer goroutine so chunks arrive in order.
type RecordingPipeline struct {
	config  PipelineConfig
	logger  *zap.Logger
	metrics *Metrics
	onError func(error)

	video VideoEncoder
	audio AudioEncoder
	muxer *WebMMuxer

	// mu serializes encoder and muxer access across capture callbacks.
	mu       sync.Mutex
	state    PipelineState
	frames   FrameSource
	samples  SampleSource
	clock    mediaClock
	videoPTS int64
	audioPTS int64
	stats    PipelineStats

	sink     *Sink
	chunks   chan []byte
	sinkDone chan struct{}
	sinkErr  error

	errOnce   sync.Once
	closeOnce sync.Once
	closeErr  error
}

// PipelineOption customizes a RecordingPipeline.
type PipelineOption func(*RecordingPipeline)

// WithPipelineLogger sets the pipeline logger.
func WithPipelineLogger(logger *zap.Logger) PipelineOption {
	return func(p *RecordingPipeline) {
		p.logger = logger
	}
}

// WithPipelineMetrics records chunk counters on m.
func WithPipelineMetrics(m *Metrics) PipelineOption {
	return func(p *RecordingPipeline) {
		p.metrics = m
	}
}

// WithPipelineErrorHandler sets the callback for fatal mid-recording
// errors. It is called at most once, on its own goroutine.
func WithPipelineErrorHandler(fn func(error)) PipelineOption {
	return func(p *RecordingPipeline) {
		p.onError = fn
	}
}

// NewRecordingPipeline creates the encoders and muxer. Nothing is
// captured until Start.
func NewRecordingPipeline(factory CodecFactory, config PipelineConfig, opts ...PipelineOption) (*RecordingPipeline, error) {
	if config.FPS <= 0 {
		config.FPS = 30
	}
	if config.VideoBitrate <= 0 {
		config.VideoBitrate = RecordingVideoBitrate
	}
	if config.AudioBitrate <= 0 {
		config.AudioBitrate = 128000
	}
	if config.Timeslice <= 0 {
		config.Timeslice = DefaultTimeslice
	}
	if config.VideoScheduler == nil {
		config.VideoScheduler = NewTickerScheduler(config.FPS)
	}
	if config.AudioScheduler == nil {
		config.AudioScheduler = NewTickerScheduler(int(time.Second / MixFrameDuration))
	}
	if config.ChunkScheduler == nil {
		config.ChunkScheduler = &TickerScheduler{interval: config.Timeslice}
	}

	p := &RecordingPipeline{
		config: config,
		logger: zap.NewNop(),
		state:  PipelineStateIdle,
	}
	for _, opt := range opts {
		opt(p)
	}

	vcfg := DefaultVideoEncoderConfig(config.Codecs.Video, config.Width, config.Height)
	vcfg.FPS = config.FPS
	vcfg.BitrateBps = config.VideoBitrate
	video, err := factory.NewVideoEncoder(vcfg)
	if err != nil {
		return nil, fmt.Errorf("create %s encoder: %w", config.Codecs.Video, err)
	}

	acfg := DefaultAudioEncoderConfig(config.Codecs.Audio)
	acfg.BitrateBps = config.AudioBitrate
	audio, err := factory.NewAudioEncoder(acfg)
	if err != nil {
		video.Close()
		return nil, fmt.Errorf("create %s encoder: %w", config.Codecs.Audio, err)
	}

	muxer, err := NewWebMMuxer(DefaultMuxerConfig(config.Codecs, config.Width, config.Height))
	if err != nil {
		video.Close()
		audio.Close()
		return nil, err
	}

	p.video, p.audio, p.muxer = video, audio, muxer
	return p, nil
}

// Start begins capture into sink.
func (p *RecordingPipeline) Start(frames FrameSource, samples SampleSource, sink *Sink) error {
	p.mu.Lock()
	if p.state != PipelineStateIdle {
		p.mu.Unlock()
		return fmt.Errorf("pipeline %s", p.state)
	}
	p.state = PipelineStateRunning
	p.frames, p.samples, p.sink = frames, samples, sink
	p.chunks = make(chan []byte, 16)
	p.sinkDone = make(chan struct{})
	p.videoPTS = -int64(time.Millisecond)
	p.audioPTS = -int64(MixFrameDuration)
	p.mu.Unlock()

	go p.sinkLoop()

	starts := []struct {
		s  FrameScheduler
		fn func(time.Time)
	}{
		{p.config.VideoScheduler, p.captureVideo},
		{p.config.AudioScheduler, p.captureAudio},
		{p.config.ChunkScheduler, p.emitChunk},
	}
	for i, st := range starts {
		if err := st.s.Start(st.fn); err != nil {
			for _, prev := range starts[:i] {
				prev.s.Stop()
			}
			p.mu.Lock()
			p.state = PipelineStateStopped
			close(p.chunks)
			p.mu.Unlock()
			<-p.sinkDone
			return fmt.Errorf("start capture: %w", err)
		}
	}
	return nil
}

// State returns the pipeline state.
func (p *RecordingPipeline) State() PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats returns pipeline statistics.
func (p *RecordingPipeline) Stats() PipelineStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Codecs returns the codec pair in use.
func (p *RecordingPipeline) Codecs() CodecPair {
	return p.config.Codecs
}

func (p *RecordingPipeline) captureVideo(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PipelineStateRunning || p.frames == nil {
		return
	}

	frame := p.frames.Snapshot()
	if frame == nil {
		return
	}
	frame.Timestamp = p.clock.next(now, &p.videoPTS, int64(time.Millisecond))

	encoded, err := p.video.Encode(frame)
	if err != nil {
		p.stats.EncodeErrors++
		p.fail(fmt.Errorf("encode video: %w", err))
		return
	}
	if encoded == nil {
		return // Encoder buffering
	}
	if err := p.muxer.WriteVideo(encoded); err != nil {
		p.fail(err)
		return
	}
	p.stats.FramesEncoded++
	if encoded.IsKeyframe() {
		p.stats.KeyframesSent++
	}
}

func (p *RecordingPipeline) captureAudio(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PipelineStateRunning || p.samples == nil {
		return
	}

	samples := p.samples.Mix()
	if samples == nil {
		return
	}
	samples.Timestamp = p.clock.next(now, &p.audioPTS, int64(MixFrameDuration))

	packet, err := p.audio.Encode(samples)
	if err != nil {
		p.stats.EncodeErrors++
		p.fail(fmt.Errorf("encode audio: %w", err))
		return
	}
	if packet == nil || len(packet.Data) == 0 {
		p.stats.DroppedSamples++
		return
	}
	packet.Timestamp = samples.Timestamp
	if err := p.muxer.WriteAudio(packet); err != nil {
		p.fail(err)
		return
	}
	p.stats.AudioPackets++
}

func (p *RecordingPipeline) emitChunk(time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PipelineStateRunning {
		return
	}
	p.sendChunkLocked(p.muxer.TakeChunk())
}

func (p *RecordingPipeline) sendChunkLocked(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	p.stats.ChunksEmitted++
	p.stats.BytesEmitted += uint64(len(chunk))
	p.chunks <- chunk
}

// sinkLoop is the only writer to the sink.
func (p *RecordingPipeline) sinkLoop() {
	defer close(p.sinkDone)
	for chunk := range p.chunks {
		if p.sinkErr != nil {
			continue
		}
		if err := p.sink.Write(chunk); err != nil {
			p.sinkErr = err
			p.fail(err)
			continue
		}
		p.metrics.chunkWritten(p.sink.Mode(), len(chunk))
	}
}

func (p *RecordingPipeline) fail(err error) {
	p.errOnce.Do(func() {
		p.logger.Error("recording pipeline failed", zap.Error(err))
		if p.onError != nil {
			go p.onError(err)
		}
	})
}

// Close stops capture, flushes the muxer as one last chunk and waits for
// the sink to consume every chunk. The sink itself is not finalized.
func (p *RecordingPipeline) Close() error {
	p.closeOnce.Do(func() {
		p.config.VideoScheduler.Stop()
		p.config.AudioScheduler.Stop()
		p.config.ChunkScheduler.Stop()

		p.mu.Lock()
		wasRunning := p.state == PipelineStateRunning
		p.state = PipelineStateStopped
		muxErr := p.muxer.Close()
		if wasRunning {
			p.sendChunkLocked(p.muxer.TakeChunk())
			close(p.chunks)
		}
		p.mu.Unlock()

		if wasRunning {
			<-p.sinkDone
		}
		p.closeErr = errors.Join(muxErr, p.sinkErr, p.video.Close(), p.audio.Close())
	})
	return p.closeErr
}

// mediaClock maps scheduler times to stream timestamps relative to the
// first captured sample. Each track's timestamps strictly increase.
type mediaClock struct {
	base    time.Time
	started bool
}

func (c *mediaClock) next(now time.Time, last *int64, minStep int64) int64 {
	if !c.started {
		c.base = now
		c.started = true
	}
	pts := now.Sub(c.base).Nanoseconds()
	if pts < *last+minStep {
		pts = *last + minStep
	}
	*last = pts
	return pts
}
