package studio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []error
}

func (n *recordingNotifier) Alert(err error) {
	n.mu.Lock()
	n.alerts = append(n.alerts, err)
	n.mu.Unlock()
}

func (n *recordingNotifier) Alerts() []error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]error(nil), n.alerts...)
}

// recorderHarness wires a recorder to manual schedulers so tests decide
// exactly how many frames, audio blocks and chunks are produced.
type recorderHarness struct {
	room       *MemoryRoom
	codecs     *fakeCodecs
	compositor *ManualScheduler
	video      *ManualScheduler
	audio      *ManualScheduler
	chunk      *ManualScheduler
	config     RecorderConfig
}

func newRecorderHarness(t *testing.T) *recorderHarness {
	t.Helper()
	h := &recorderHarness{
		room:       NewMemoryRoom("me", "Me"),
		codecs:     newFakeCodecs(VideoCodecVP8, VideoCodecVP9),
		compositor: NewManualScheduler(time.Second / 60),
		video:      NewManualScheduler(time.Second / 30),
		audio:      NewManualScheduler(MixFrameDuration),
		chunk:      NewManualScheduler(time.Second),
	}
	require.NoError(t, h.room.Publish("me", SourceKindCamera, NewTestCardTrack("me-cam", DefaultTestCardConfig())))

	h.config = DefaultRecorderConfig()
	h.config.Compositor.Layout.Width = 320
	h.config.Compositor.Layout.Height = 180
	h.config.Compositor.Scheduler = h.compositor
	h.config.VideoScheduler = h.video
	h.config.AudioScheduler = h.audio
	h.config.ChunkScheduler = h.chunk
	return h
}

func (h *recorderHarness) newRecorder(opts ...RecorderOption) *Recorder {
	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	opts = append([]RecorderOption{
		WithCodecFactory(h.codecs),
		WithRecorderClock(func() time.Time { return clock }),
	}, opts...)
	return NewRecorder(NewRoomSourceRegistry(h.room), h.config, opts...)
}

// record runs one second of media through the active session.
func (h *recorderHarness) record() {
	h.compositor.Tick(60)
	h.video.Tick(30)
	h.audio.Tick(50)
	h.chunk.Tick(1)
}

func TestRecorder_StopWhileIdleIsNoop(t *testing.T) {
	h := newRecorderHarness(t)
	picker := &stubPicker{file: &memFile{}}
	r := h.newRecorder(WithFilePicker(picker))

	res, err := r.Stop(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, SessionIdle, r.State())
	assert.Empty(t, picker.asked)
}

func TestRecorder_DirectFileSession(t *testing.T) {
	h := newRecorderHarness(t)
	mic := NewToneTrack("me-mic", DefaultToneConfig())
	defer mic.Stop()
	require.NoError(t, h.room.Publish("me", SourceKindMicrophone, mic))

	file := &memFile{}
	picker := &stubPicker{file: file}
	r := h.newRecorder(WithFilePicker(picker))

	require.NoError(t, r.Start(context.Background()))
	assert.True(t, r.IsRecording())
	assert.Equal(t, []string{"streamside-recording-2024-06-01T12-00-00.webm"}, picker.asked)

	h.record()
	h.record()

	res, err := r.Stop(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, SessionIdle, r.State())

	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, SinkModeDirectFile, res.Mode)
	assert.Equal(t, VideoCodecVP9, res.Codecs.Video)
	assert.Equal(t, []string{"me/microphone"}, res.AudioSources)
	assert.Equal(t, int64(file.Len()), res.Bytes)
	assert.Equal(t, uint64(60), res.Stats.FramesEncoded)
	assert.NoError(t, res.Err)
	assert.True(t, file.closed)
	assert.False(t, h.compositor.Running())

	doc := parseWebM(t, file.Bytes())
	assert.Equal(t, "V_VP9", doc.Segment.Tracks.TrackEntry[0].CodecID)
	assert.Equal(t, 60, blockCounts(doc)[1])
}

func TestRecorder_DirectAndBufferedProduceSameBytes(t *testing.T) {
	run := func(opts ...RecorderOption) *RecordingResult {
		h := newRecorderHarness(t)
		r := h.newRecorder(opts...)
		require.NoError(t, r.Start(context.Background()))
		h.record()
		h.record()
		res, err := r.Stop(context.Background())
		require.NoError(t, err)
		return res
	}

	file := &memFile{}
	direct := run(WithFilePicker(&stubPicker{file: file}))

	downloader := &memDownloader{}
	buffered := run(WithFilePicker(&stubPicker{err: ErrPickerCancelled}), WithDownloader(downloader))

	assert.Equal(t, SinkModeDirectFile, direct.Mode)
	assert.Equal(t, SinkModeBuffered, buffered.Mode)
	require.NotEmpty(t, file.Bytes())
	assert.Equal(t, file.Bytes(), downloader.File(buffered.Filename))
	assert.Equal(t, 1, downloader.Calls())
}

func TestRecorder_DefaultDownloaderSavesBufferedRecording(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)

	h := newRecorderHarness(t)
	r := h.newRecorder()
	require.NoError(t, r.Start(context.Background()))
	h.record()
	res, err := r.Stop(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, SinkModeBuffered, res.Mode)
	data, err := os.ReadFile(filepath.Join(dir, res.Filename))
	require.NoError(t, err)
	assert.Len(t, data, int(res.Bytes))
	assert.Positive(t, res.Bytes)
}

// countingAudioTrack counts how often a track is read.
type countingAudioTrack struct {
	*ToneTrack
	reads atomic.Int64
}

func (c *countingAudioTrack) ReadSamples(ctx context.Context) (*AudioSamples, error) {
	c.reads.Add(1)
	return c.ToneTrack.ReadSamples(ctx)
}

func TestRecorder_LateMicrophoneIsNotMixed(t *testing.T) {
	h := newRecorderHarness(t)
	early := NewToneTrack("me-mic", DefaultToneConfig())
	defer early.Stop()
	require.NoError(t, h.room.Publish("me", SourceKindMicrophone, early))

	r := h.newRecorder(WithDownloader(&memDownloader{}))
	require.NoError(t, r.Start(context.Background()))

	h.room.AddParticipant("bob", "Bob")
	late := &countingAudioTrack{ToneTrack: NewToneTrack("bob-mic", DefaultToneConfig())}
	defer late.Stop()
	require.NoError(t, h.room.Publish("bob", SourceKindMicrophone, late))
	assert.Equal(t, []string{"me/microphone", "bob/microphone"},
		handleKeys(SourcesOfKind(NewRoomSourceRegistry(h.room).ActiveSources(), SourceKindMicrophone)))

	h.record()
	r.mu.Lock()
	inputs := r.session.mixer.Inputs()
	r.mu.Unlock()
	assert.Equal(t, 1, inputs)

	res, err := r.Stop(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, []string{"me/microphone"}, res.AudioSources)
	assert.Zero(t, late.reads.Load())
}

func TestRecorder_ConcurrentStartYieldsOneSession(t *testing.T) {
	h := newRecorderHarness(t)
	picker := &stubPicker{file: &memFile{}}
	r := h.newRecorder(WithFilePicker(picker))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Start(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, SessionActive, r.State())
	assert.Len(t, picker.asked, 1)

	res, err := r.Stop(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)

	res, err = r.Stop(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, res, "second stop is a no-op")
}

func TestRecorder_StartFailures(t *testing.T) {
	t.Run("no codec", func(t *testing.T) {
		h := newRecorderHarness(t)
		h.codecs = newFakeCodecs()
		picker := &stubPicker{file: &memFile{}}
		r := h.newRecorder(WithFilePicker(picker))

		assert.ErrorIs(t, r.Start(context.Background()), ErrNoSupportedCodec)
		assert.Equal(t, SessionIdle, r.State())
		assert.Empty(t, picker.asked, "no file requested")
	})

	t.Run("encoder unavailable", func(t *testing.T) {
		h := newRecorderHarness(t)
		h.codecs.newVideoErr = ErrProviderNotFound
		file := &memFile{}
		r := h.newRecorder(WithFilePicker(&stubPicker{file: file}))

		assert.ErrorIs(t, r.Start(context.Background()), ErrProviderNotFound)
		assert.Equal(t, SessionIdle, r.State())
		assert.True(t, file.aborted, "partial file discarded")
		assert.False(t, h.compositor.Running())
	})

	t.Run("scheduler busy", func(t *testing.T) {
		h := newRecorderHarness(t)
		require.NoError(t, h.chunk.Start(func(time.Time) {}))
		file := &memFile{}
		r := h.newRecorder(WithFilePicker(&stubPicker{file: file}))

		assert.ErrorIs(t, r.Start(context.Background()), ErrSchedulerRunning)
		assert.Equal(t, SessionIdle, r.State())
		assert.True(t, file.aborted)
		assert.Equal(t, 0, h.compositor.Tick(1), "compositor stopped")
	})
}

func TestRecorder_FatalErrorStopsAndAlertsOnce(t *testing.T) {
	h := newRecorderHarness(t)
	h.codecs.failVideoAt = 2
	notifier := &recordingNotifier{}
	file := &memFile{}
	r := h.newRecorder(WithFilePicker(&stubPicker{file: file}), WithNotifier(notifier))

	require.NoError(t, r.Start(context.Background()))
	h.video.Tick(5)

	require.Eventually(t, func() bool { return len(notifier.Alerts()) > 0 }, time.Second, time.Millisecond)
	assert.Equal(t, SessionIdle, r.State())
	alerts := notifier.Alerts()
	require.Len(t, alerts, 1)
	assert.ErrorIs(t, alerts[0], errFakeEncode)

	// The file is kept and closed, not discarded.
	assert.True(t, file.closed)
	assert.False(t, file.aborted)

	res, err := r.Stop(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, res)

	// A new session can start afterwards.
	h.codecs.failVideoAt = 0
	require.NoError(t, r.Start(context.Background()))
	_, err = r.Stop(context.Background())
	require.NoError(t, err)
	assert.Len(t, notifier.Alerts(), 1)
}

func TestRecorder_SinkFailureAlertsCauseOnce(t *testing.T) {
	h := newRecorderHarness(t)
	diskFull := errors.New("disk full")
	file := &memFile{writeErr: diskFull}
	notifier := &recordingNotifier{}
	r := h.newRecorder(WithFilePicker(&stubPicker{file: file}), WithNotifier(notifier))

	require.NoError(t, r.Start(context.Background()))
	h.record()

	require.Eventually(t, func() bool { return len(notifier.Alerts()) > 0 }, time.Second, time.Millisecond)
	assert.Equal(t, SessionIdle, r.State())
	alerts := notifier.Alerts()
	require.Len(t, alerts, 1)
	assert.ErrorIs(t, alerts[0], diskFull)
	assert.Equal(t, 1, strings.Count(alerts[0].Error(), "disk full"), alerts[0].Error())
	assert.True(t, file.closed, "partial file kept")
}

func TestRecorder_Metrics(t *testing.T) {
	h := newRecorderHarness(t)
	m := NewMetrics(prometheus.NewRegistry())
	r := h.newRecorder(WithRecorderMetrics(m), WithDownloader(&memDownloader{}))

	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Recording))
	h.record()
	_, err := r.Stop(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsStarted))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Recording))
	assert.Equal(t, 60.0, testutil.ToFloat64(m.FramesComposited))
	assert.Positive(t, testutil.ToFloat64(m.ChunksWritten.WithLabelValues("buffered")))
}

func TestSessionState_String(t *testing.T) {
	assert.Equal(t, "idle", SessionIdle.String())
	assert.Equal(t, "preparing", SessionPreparing.String())
	assert.Equal(t, "active", SessionActive.String())
	assert.Equal(t, "finalizing", SessionFinalizing.String())
}
