package studio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
	"go.uber.org/zap"
)

// PacketReader returns the next RTP packet of a remote track. It returns
// an error once the track is gone.
type PacketReader func() (*rtp.Packet, error)

// maxLatePackets is how long the sample builder waits for a missing
// packet before dropping the partial sample.
const maxLatePackets = 128

// VideoCodecFromMime maps an RTP MIME type such as "video/VP8".
func VideoCodecFromMime(mime string) VideoCodec {
	for _, c := range []VideoCodec{VideoCodecVP8, VideoCodecVP9, VideoCodecAV1} {
		if strings.EqualFold(mime, c.MimeType()) {
			return c
		}
	}
	return VideoCodecUnknown
}

func videoDepacketizer(codec VideoCodec) (rtp.Depacketizer, error) {
	switch codec {
	case VideoCodecVP8:
		return &codecs.VP8Packet{}, nil
	case VideoCodecVP9:
		return &codecs.VP9Packet{}, nil
	default:
		return nil, fmt.Errorf("%w: %s depacketizer", ErrCodecNotSupported, codec)
	}
}

// RemoteVideoTrack decodes a remote participant's RTP video and keeps
// the latest frame for the compositor.
type RemoteVideoTrack struct {
	*BaseTrack
	codec   VideoCodec
	read    PacketReader
	decoder VideoDecoder
	builder *samplebuilder.SampleBuilder
	logger  *zap.Logger

	slot    frameSlot
	decoded atomic.Uint64
	skipped atomic.Uint64
	done    chan struct{}
}

// NewRemoteVideoTrack starts reading packets from read and decoding them
// with decoder. The track takes ownership of decoder.
func NewRemoteVideoTrack(id string, codec VideoCodec, read PacketReader, decoder VideoDecoder, logger *zap.Logger) (*RemoteVideoTrack, error) {
	depacketizer, err := videoDepacketizer(codec)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &RemoteVideoTrack{
		BaseTrack: NewBaseTrack(id),
		codec:     codec,
		read:      read,
		decoder:   decoder,
		builder:   samplebuilder.New(maxLatePackets, depacketizer, codec.ClockRate()),
		logger:    logger.With(zap.String("track", id), zap.Stringer("codec", codec)),
		done:      make(chan struct{}),
	}
	go t.run()
	return t, nil
}

func (t *RemoteVideoTrack) run() {
	defer close(t.done)
	defer t.decoder.Close()
	defer t.SetState(TrackStateEnded)

	var pts rtpClock
	needKeyframe := true
	for {
		pkt, err := t.read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Debug("remote video ended", zap.Error(err))
			}
			return
		}
		t.builder.Push(pkt)
		for sample := t.builder.Pop(); sample != nil; sample = t.builder.Pop() {
			ts := pts.next(sample.PacketTimestamp, t.codec.ClockRate())
			if needKeyframe {
				if !IsVideoKeyframe(t.codec, sample.Data) {
					t.skipped.Add(1)
					continue
				}
				needKeyframe = false
			}
			if !t.decode(sample, ts) {
				needKeyframe = true
			}
		}
		if t.State() == TrackStateEnded {
			return
		}
	}
}

// decode reports false when the decoder rejected the sample, after
// which frames are skipped until the next keyframe.
func (t *RemoteVideoTrack) decode(sample *media.Sample, ts int64) bool {
	frame, err := t.decoder.Decode(sample.Data, ts)
	if err != nil {
		t.logger.Debug("decode failed", zap.Error(err))
		return false
	}
	if frame != nil {
		t.slot.store(frame)
		t.decoded.Add(1)
	}
	return true
}

// LatestFrame implements VideoTrack.
func (t *RemoteVideoTrack) LatestFrame() (*VideoFrame, bool) {
	if t.State() != TrackStateLive {
		return nil, false
	}
	return t.slot.load()
}

// FramesDecoded returns the number of frames decoded so far.
func (t *RemoteVideoTrack) FramesDecoded() uint64 {
	return t.decoded.Load()
}

// FramesSkipped returns the number of frames dropped while waiting for
// a keyframe.
func (t *RemoteVideoTrack) FramesSkipped() uint64 {
	return t.skipped.Load()
}

// Done is closed once the reader has stopped.
func (t *RemoteVideoTrack) Done() <-chan struct{} {
	return t.done
}

// RemoteAudioTrack decodes a remote participant's Opus audio.
type RemoteAudioTrack struct {
	*BaseTrack
	read    PacketReader
	decoder AudioDecoder
	builder *samplebuilder.SampleBuilder
	logger  *zap.Logger

	samples chan *AudioSamples
	dropped atomic.Uint64
	done    chan struct{}
}

// NewRemoteAudioTrack starts reading Opus packets from read. buffer is
// how many decoded blocks are kept for ReadSamples before the oldest
// are dropped.
func NewRemoteAudioTrack(id string, read PacketReader, decoder AudioDecoder, buffer int, logger *zap.Logger) *RemoteAudioTrack {
	if buffer <= 0 {
		buffer = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &RemoteAudioTrack{
		BaseTrack: NewBaseTrack(id),
		read:      read,
		decoder:   decoder,
		builder:   samplebuilder.New(maxLatePackets, &codecs.OpusPacket{}, AudioCodecOpus.ClockRate()),
		logger:    logger.With(zap.String("track", id)),
		samples:   make(chan *AudioSamples, buffer),
		done:      make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *RemoteAudioTrack) run() {
	defer close(t.done)
	defer t.decoder.Close()
	defer t.SetState(TrackStateEnded)

	var pts rtpClock
	for {
		pkt, err := t.read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Debug("remote audio ended", zap.Error(err))
			}
			return
		}
		t.builder.Push(pkt)
		for sample := t.builder.Pop(); sample != nil; sample = t.builder.Pop() {
			ts := pts.next(sample.PacketTimestamp, AudioCodecOpus.ClockRate())
			pcm, err := t.decoder.Decode(sample.Data, ts)
			if err != nil {
				t.logger.Debug("decode failed", zap.Error(err))
				continue
			}
			t.deliver(pcm)
		}
		if t.State() == TrackStateEnded {
			return
		}
	}
}

// deliver queues pcm, dropping the oldest block when the reader lags.
func (t *RemoteAudioTrack) deliver(pcm *AudioSamples) {
	for {
		select {
		case t.samples <- pcm:
			return
		default:
		}
		select {
		case <-t.samples:
			t.dropped.Add(1)
		default:
		}
	}
}

// ReadSamples implements AudioTrack.
func (t *RemoteAudioTrack) ReadSamples(ctx context.Context) (*AudioSamples, error) {
	select {
	case s := <-t.samples:
		return s, nil
	case <-t.done:
		select {
		case s := <-t.samples:
			return s, nil
		default:
			return nil, ErrTrackEnded
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dropped returns how many decoded blocks were discarded.
func (t *RemoteAudioTrack) Dropped() uint64 {
	return t.dropped.Load()
}

// Done is closed once the reader has stopped.
func (t *RemoteAudioTrack) Done() <-chan struct{} {
	return t.done
}

// rtpClock unwraps 32-bit RTP timestamps into nanoseconds since the
// first sample.
type rtpClock struct {
	started bool
	last    uint32
	elapsed int64 // ticks
}

func (c *rtpClock) next(ts, clockRate uint32) int64 {
	if !c.started {
		c.started = true
		c.last = ts
		return 0
	}
	c.elapsed += int64(int32(ts - c.last))
	c.last = ts
	return c.elapsed * 1e9 / int64(clockRate)
}
