package studio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultProductName prefixes recording filenames.
const DefaultProductName = "streamside"

// SessionState is the lifecycle state of the recorder.
type SessionState int

const (
	SessionIdle       SessionState = iota // No recording
	SessionPreparing                      // Acquiring sink and sources
	SessionActive                         // Compositing and encoding
	SessionFinalizing                     // Flushing and closing the sink
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionPreparing:
		return "preparing"
	case SessionActive:
		return "active"
	case SessionFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Notifier shows blocking alerts to the user.
type Notifier interface {
	Alert(err error)
}

// LogNotifier reports alerts to a logger. It suits headless recorders.
type LogNotifier struct {
	Logger *zap.Logger
}

// Alert implements Notifier.
func (n LogNotifier) Alert(err error) {
	if n.Logger != nil {
		n.Logger.Error("recording failed", zap.Error(err))
	}
}

type nopNotifier struct{}

func (nopNotifier) Alert(error) {}

// RecorderConfig configures recording sessions.
type RecorderConfig struct {
	Product string   // Filename prefix (default: DefaultProductName)
	Formats []string // Container/codec preference (default: DefaultRecordingFormats)

	Compositor   CompositorConfig
	FPS          int // Encoded frame rate (default: 30)
	VideoBitrate int
	AudioBitrate int
	Timeslice    time.Duration

	// Capture schedulers; nil means real-time tickers.
	VideoScheduler FrameScheduler
	AudioScheduler FrameScheduler
	ChunkScheduler FrameScheduler

	// FinalizeTimeout bounds finalization after a fatal error, when no
	// caller context is available.
	FinalizeTimeout time.Duration
}

// DefaultRecorderConfig returns a 1920x1080 30 fps VP9/VP8 recording.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		Product:         DefaultProductName,
		Formats:         DefaultRecordingFormats(),
		Compositor:      DefaultCompositorConfig(),
		FPS:             30,
		VideoBitrate:    RecordingVideoBitrate,
		AudioBitrate:    128000,
		Timeslice:       DefaultTimeslice,
		FinalizeTimeout: 30 * time.Second,
	}
}

// RecordingResult describes a finished recording.
type RecordingResult struct {
	SessionID    string
	Filename     string
	Mode         SinkMode
	Codecs       CodecPair
	Bytes        int64
	StartedAt    time.Time
	Duration     time.Duration
	AudioSources []string
	Stats        PipelineStats

	// Err is the fatal error that ended the recording, if any.
	Err error
}

// RecorderOption customizes a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the logger.
func WithRecorderLogger(logger *zap.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithRecorderMetrics records session, frame and chunk metrics on m.
func WithRecorderMetrics(m *Metrics) RecorderOption {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// WithFilePicker sets how the direct file destination is chosen.
// Without a picker every recording is buffered.
func WithFilePicker(picker FilePicker) RecorderOption {
	return func(r *Recorder) {
		r.picker = picker
	}
}

// WithDownloader sets where buffered recordings are delivered. The
// default saves them into os.TempDir().
func WithDownloader(d Downloader) RecorderOption {
	return func(r *Recorder) {
		r.downloader = d
	}
}

// WithNotifier sets who is alerted about fatal recording errors.
func WithNotifier(n Notifier) RecorderOption {
	return func(r *Recorder) {
		r.notifier = n
	}
}

// WithCodecFactory replaces the native codec registry.
func WithCodecFactory(f CodecFactory) RecorderOption {
	return func(r *Recorder) {
		r.factory = f
	}
}

// WithRecorderClock sets the clock used for filenames and durations.
func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		r.now = now
	}
}

// Recorder owns the recording lifecycle: Idle -> Preparing -> Active ->
// Finalizing -> Idle. At most one session exists at a time.
type Recorder struct {
	registry   SourceRegistry
	config     RecorderConfig
	factory    CodecFactory
	picker     FilePicker
	downloader Downloader
	notifier   Notifier
	logger     *zap.Logger
	metrics    *Metrics
	now        func() time.Time

	mu        sync.Mutex
	state     SessionState
	session   *recordingSession
	preparing chan struct{} // closed when Preparing ends
}

type recordingSession struct {
	id           string
	startedAt    time.Time
	codecs       CodecPair
	audioSources []string

	sink       *Sink
	compositor *Compositor
	mixer      *AudioMixer
	pipeline   *RecordingPipeline

	errMu sync.Mutex
	err   error
}

func (s *recordingSession) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *recordingSession) failure() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// NewRecorder creates an idle recorder over registry.
func NewRecorder(registry SourceRegistry, config RecorderConfig, opts ...RecorderOption) *Recorder {
	if config.Product == "" {
		config.Product = DefaultProductName
	}
	if len(config.Formats) == 0 {
		config.Formats = DefaultRecordingFormats()
	}
	if config.FinalizeTimeout <= 0 {
		config.FinalizeTimeout = 30 * time.Second
	}
	r := &Recorder{
		registry: registry,
		config:   config,
		notifier: nopNotifier{},
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.factory == nil {
		r.factory = NativeCodecs()
	}
	if r.downloader == nil {
		r.downloader = DirDownloader{Dir: os.TempDir()}
	}
	return r
}

// State returns the current session state.
func (r *Recorder) State() SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// IsRecording reports whether a session is active.
func (r *Recorder) IsRecording() bool {
	return r.State() == SessionActive
}

// Busy reports whether a session is being prepared or is active.
func (r *Recorder) Busy() bool {
	s := r.State()
	return s == SessionPreparing || s == SessionActive
}

// Start begins a recording. It does nothing unless the recorder is idle,
// so concurrent calls produce one session. On failure the recorder is
// idle again and nothing is left on disk.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != SessionIdle {
		state := r.state
		r.mu.Unlock()
		r.logger.Debug("start ignored", zap.Stringer("state", state))
		return nil
	}
	r.state = SessionPreparing
	preparing := make(chan struct{})
	r.preparing = preparing
	r.mu.Unlock()

	s, err := r.prepare(ctx)
	if err != nil {
		r.mu.Lock()
		r.state = SessionIdle
		r.preparing = nil
		r.mu.Unlock()
		close(preparing)
		r.metrics.sessionFailedToStart()
		r.logger.Warn("recording failed to start", zap.Error(err))
		return err
	}

	r.mu.Lock()
	r.state = SessionActive
	r.session = s
	r.preparing = nil
	r.mu.Unlock()
	close(preparing)
	r.metrics.sessionStarted()
	r.logger.Info("recording started",
		zap.String("session", s.id),
		zap.String("codecs", s.codecs.String()),
		zap.Stringer("sink", s.sink.Mode()),
		zap.String("filename", s.sink.Filename()),
		zap.Int("audio_sources", len(s.audioSources)),
	)

	// An error raised before the session became active is handled here.
	if err := s.failure(); err != nil {
		go r.forceStop(s, err)
	}
	return nil
}

func (r *Recorder) prepare(ctx context.Context) (*recordingSession, error) {
	codecs, err := SelectCodecs(r.factory, r.config.Formats)
	if err != nil {
		return nil, err
	}

	s := &recordingSession{
		id:        uuid.NewString(),
		startedAt: r.now(),
		codecs:    codecs,
	}
	logger := r.logger.With(zap.String("session", s.id))

	// Audio sources are fixed for the whole session.
	sources := r.registry.ActiveSources()
	for _, h := range SourcesOfKind(sources, SourceKindMicrophone) {
		if h.Live() {
			s.audioSources = append(s.audioSources, h.ID())
		}
	}

	s.sink = OpenSink(ctx, r.picker, r.downloader, RecordingFilename(r.config.Product, s.startedAt), logger)

	s.compositor = NewCompositor(r.registry, r.config.Compositor,
		WithCompositorLogger(logger),
		WithCompositorMetrics(r.metrics),
	)

	pcfg := DefaultPipelineConfig(codecs, s.compositor.Width(), s.compositor.Height())
	if r.config.FPS > 0 {
		pcfg.FPS = r.config.FPS
	}
	if r.config.VideoBitrate > 0 {
		pcfg.VideoBitrate = r.config.VideoBitrate
	}
	if r.config.AudioBitrate > 0 {
		pcfg.AudioBitrate = r.config.AudioBitrate
	}
	if r.config.Timeslice > 0 {
		pcfg.Timeslice = r.config.Timeslice
	}
	pcfg.VideoScheduler = r.config.VideoScheduler
	pcfg.AudioScheduler = r.config.AudioScheduler
	pcfg.ChunkScheduler = r.config.ChunkScheduler

	s.pipeline, err = NewRecordingPipeline(r.factory, pcfg,
		WithPipelineLogger(logger),
		WithPipelineMetrics(r.metrics),
		WithPipelineErrorHandler(func(err error) { r.handlePipelineError(s, err) }),
	)
	if err != nil {
		s.sink.Abort()
		return nil, fmt.Errorf("start recording: %w", err)
	}

	s.mixer = NewAudioMixer(sources, WithMixerLogger(logger))

	if err := s.compositor.Start(); err != nil {
		s.abort()
		return nil, fmt.Errorf("start recording: %w", err)
	}
	if err := s.pipeline.Start(s.compositor, s.mixer, s.sink); err != nil {
		s.abort()
		return nil, fmt.Errorf("start recording: %w", err)
	}
	return s, nil
}

// abort tears down a session that never became active.
func (s *recordingSession) abort() {
	s.compositor.Stop()
	s.pipeline.Close()
	s.mixer.Close()
	s.sink.Abort()
}

// Stop ends the active recording and finalizes its output. A session
// still being prepared is waited for first. Otherwise Stop does nothing,
// and returns a nil result, unless a session is active.
func (r *Recorder) Stop(ctx context.Context) (*RecordingResult, error) {
	r.mu.Lock()
	if preparing := r.preparing; preparing != nil {
		r.mu.Unlock()
		select {
		case <-preparing:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		r.mu.Lock()
	}
	if r.state != SessionActive {
		r.mu.Unlock()
		return nil, nil
	}
	s := r.session
	r.state = SessionFinalizing
	r.mu.Unlock()

	return r.finish(ctx, s)
}

func (r *Recorder) finish(ctx context.Context, s *recordingSession) (*RecordingResult, error) {
	s.compositor.Stop()
	closeErr := s.pipeline.Close()
	finalizeErr := s.sink.Finalize(ctx)
	s.mixer.Close()

	r.mu.Lock()
	r.state = SessionIdle
	r.session = nil
	r.mu.Unlock()

	failure := s.failure()
	result := &RecordingResult{
		SessionID:    s.id,
		Filename:     s.sink.Filename(),
		Mode:         s.sink.Mode(),
		Codecs:       s.codecs,
		Bytes:        s.sink.Size(),
		StartedAt:    s.startedAt,
		Duration:     r.now().Sub(s.startedAt),
		AudioSources: s.audioSources,
		Stats:        s.pipeline.Stats(),
		Err:          failure,
	}

	err := errors.Join(closeErr, finalizeErr)
	r.metrics.sessionEnded(failure != nil || err != nil)
	if err != nil {
		r.logger.Error("recording finalized with errors", zap.String("session", s.id), zap.Error(err))
		return result, fmt.Errorf("stop recording: %w", err)
	}
	r.logger.Info("recording finalized",
		zap.String("session", s.id),
		zap.String("filename", result.Filename),
		zap.Stringer("sink", result.Mode),
		zap.Int64("bytes", result.Bytes),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (r *Recorder) handlePipelineError(s *recordingSession, err error) {
	s.setErr(err)
	r.mu.Lock()
	active := r.state == SessionActive && r.session == s
	r.mu.Unlock()
	if active {
		r.forceStop(s, err)
	}
}

// forceStop finalizes s after a fatal error and alerts the user once.
func (r *Recorder) forceStop(s *recordingSession, cause error) {
	r.mu.Lock()
	if r.state != SessionActive || r.session != s {
		r.mu.Unlock()
		return
	}
	r.state = SessionFinalizing
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.config.FinalizeTimeout)
	defer cancel()
	alert := cause
	if _, err := r.finish(ctx, s); err != nil && !errors.Is(err, cause) {
		alert = errors.Join(cause, err)
	}
	r.notifier.Alert(alert)
}
