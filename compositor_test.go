package studio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRegistry []SourceHandle

func (r staticRegistry) ActiveSources() []SourceHandle { return r }

// stubVideoTrack returns a fixed frame, nothing, or panics.
type stubVideoTrack struct {
	*BaseTrack
	frame  *VideoFrame
	panics bool
}

func (t *stubVideoTrack) LatestFrame() (*VideoFrame, bool) {
	if t.panics {
		panic("decoder released")
	}
	return t.frame, t.frame != nil
}

func camera(owner string, frame *VideoFrame) SourceHandle {
	return SourceHandle{
		OwnerID: owner,
		Kind:    SourceKindCamera,
		Track:   &stubVideoTrack{BaseTrack: NewBaseTrack(owner + "-cam"), frame: frame},
	}
}

func smallCompositorConfig() CompositorConfig {
	cfg := DefaultCompositorConfig()
	cfg.Layout.Width = 640
	cfg.Layout.Height = 360
	cfg.Layout.ThumbWidth = 160
	cfg.Layout.ThumbHeight = 60
	cfg.Layout.Margin = 10
	cfg.Scheduler = NewManualScheduler(time.Second / 60)
	return cfg
}

func TestCompositor_EmptyRegistryDrawsPlaceholder(t *testing.T) {
	cfg := smallCompositorConfig()
	c := NewCompositor(staticRegistry(nil), cfg)

	c.RenderFrame(time.Unix(1, 0))

	layout := c.Layout()
	require.Len(t, layout.Cells, 1)
	assert.True(t, layout.Cells[0].Placeholder)

	snap := c.Snapshot()
	assert.Equal(t, cfg.Background[0], lumaAt(snap, 0, 0), "corner is background")
	assert.NotEqual(t, cfg.Background[0], lumaAt(snap, 320, 180), "center has the placeholder card")
	assert.Equal(t, uint64(1), c.Frames())
	assert.Equal(t, time.Unix(1, 0).UnixNano(), snap.Timestamp)
}

func TestCompositor_SkipsUnreadySources(t *testing.T) {
	cfg := smallCompositorConfig()
	ready := camera("a", solidFrame(320, 180, 200, 128, 128))
	notReady := camera("b", nil)
	c := NewCompositor(staticRegistry{ready, notReady}, cfg)

	c.RenderFrame(time.Now())

	layout := c.Layout()
	require.Len(t, layout.Cells, 2)
	assert.Equal(t, 2, layout.Cols)

	snap := c.Snapshot()
	assert.Equal(t, byte(200), lumaAt(snap, 160, 180), "ready source drawn in its cell")
	assert.Equal(t, cfg.Background[0], lumaAt(snap, 480, 180), "unready source leaves background")
}

func TestCompositor_ContainsSourcePanics(t *testing.T) {
	cfg := smallCompositorConfig()
	good := camera("a", solidFrame(320, 180, 200, 128, 128))
	bad := SourceHandle{
		OwnerID: "b",
		Kind:    SourceKindCamera,
		Track:   &stubVideoTrack{BaseTrack: NewBaseTrack("b-cam"), panics: true},
	}
	c := NewCompositor(staticRegistry{bad, good}, cfg)

	require.NotPanics(t, func() { c.RenderFrame(time.Now()) })

	snap := c.Snapshot()
	assert.Equal(t, byte(200), lumaAt(snap, 480, 180))
	assert.Equal(t, cfg.Background[0], lumaAt(snap, 160, 180))
}

func TestCompositor_InvalidFrameDoesNotAbortFrame(t *testing.T) {
	cfg := smallCompositorConfig()
	broken := &VideoFrame{
		Data:   [][]byte{make([]byte, 4), make([]byte, 1), make([]byte, 1)},
		Stride: []int{2, 1, 1},
		Width:  2,
		Height: 2,
		Format: PixelFormatNV12,
	}
	c := NewCompositor(staticRegistry{
		camera("a", broken),
		camera("b", solidFrame(320, 180, 200, 128, 128)),
	}, cfg)

	c.RenderFrame(time.Now())
	assert.Equal(t, byte(200), lumaAt(c.Snapshot(), 480, 180))
}

func TestCompositor_EndedTrackTreatedAsStale(t *testing.T) {
	cfg := smallCompositorConfig()
	h := camera("a", solidFrame(320, 180, 200, 128, 128))
	h.Track.(*stubVideoTrack).SetState(TrackStateEnded)
	c := NewCompositor(staticRegistry{h}, cfg)

	c.RenderFrame(time.Now())
	assert.Equal(t, cfg.Background[0], lumaAt(c.Snapshot(), 320, 180))
}

func TestCompositor_LocalShareWithRemoteCamera(t *testing.T) {
	room := NewMemoryRoom("me", "Me")
	room.AddParticipant("bob", "Bob")

	share := NewTestCardTrack("me-screen", TestCardConfig{Width: 1280, Height: 720, Pattern: TestCardSolid, R: 255, G: 255, B: 255})
	localCam := NewTestCardTrack("me-cam", DefaultTestCardConfig())
	bobCam := NewTestCardTrack("bob-cam", DefaultTestCardConfig())
	require.NoError(t, room.Publish("me", SourceKindScreen, share))
	require.NoError(t, room.Publish("me", SourceKindCamera, localCam))
	require.NoError(t, room.Publish("bob", SourceKindCamera, bobCam))

	cfg := smallCompositorConfig()
	c := NewCompositor(NewRoomSourceRegistry(room), cfg)
	c.RenderFrame(time.Now())

	layout := c.Layout()
	require.Equal(t, LayoutModeScreenShare, layout.Mode)
	require.Len(t, layout.Cells, 3)
	assert.True(t, layout.Cells[0].Primary)
	assert.Equal(t, "me/screen_share", layout.Cells[0].SourceID)
	assert.Equal(t, "me/camera", layout.Cells[1].SourceID)
	assert.Equal(t, "bob/camera", layout.Cells[2].SourceID)

	y, _, _ := rgbToYUV(255, 255, 255)
	assert.Equal(t, y, lumaAt(c.Snapshot(), 320, 130), "share fills the top region")
}

func TestCompositor_SourcesChangeBetweenFrames(t *testing.T) {
	room := NewMemoryRoom("me", "Me")
	require.NoError(t, room.Publish("me", SourceKindCamera, NewTestCardTrack("me-cam", DefaultTestCardConfig())))

	c := NewCompositor(NewRoomSourceRegistry(room), smallCompositorConfig())
	c.RenderFrame(time.Now())
	assert.Equal(t, 1, c.Layout().Cols)

	room.AddParticipant("bob", "Bob")
	require.NoError(t, room.Publish("bob", SourceKindCamera, NewTestCardTrack("bob-cam", DefaultTestCardConfig())))
	c.RenderFrame(time.Now())
	assert.Equal(t, 2, c.Layout().Cols)

	room.RemoveParticipant("bob")
	c.RenderFrame(time.Now())
	assert.Len(t, c.Layout().Cells, 1)
}

func TestCompositor_StartStop(t *testing.T) {
	cfg := smallCompositorConfig()
	sched := cfg.Scheduler.(*ManualScheduler)
	c := NewCompositor(staticRegistry(nil), cfg)

	require.NoError(t, c.Start())
	require.NoError(t, c.Start(), "second start is a no-op")
	assert.True(t, c.Running())
	assert.Equal(t, 5, sched.Tick(5))
	assert.Equal(t, uint64(5), c.Frames())

	c.Stop()
	assert.False(t, c.Running())
	assert.Equal(t, 0, sched.Tick(5))
	assert.Equal(t, uint64(5), c.Frames())

	assert.ErrorIs(t, c.Start(), ErrCompositorStopped)
}

func TestCompositor_OddCanvasRoundedEven(t *testing.T) {
	cfg := smallCompositorConfig()
	cfg.Layout.Width = 641
	cfg.Layout.Height = 361
	c := NewCompositor(staticRegistry(nil), cfg)

	assert.Equal(t, 642, c.Width())
	assert.Equal(t, 362, c.Height())
}
