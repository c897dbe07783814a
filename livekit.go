package studio

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
)

// ChatTopic is the data packet topic carrying chat messages.
const ChatTopic = "chat"

// LiveKitConfig configures a LiveKit connection.
type LiveKitConfig struct {
	URL   string // e.g. wss://example.livekit.cloud
	Token string // Access token with room join grant

	// PublishFPS is the frame rate of published local video (default: 30).
	PublishFPS int
}

// LiveKitOption customizes a LiveKitRoom.
type LiveKitOption func(*LiveKitRoom)

// WithLiveKitLogger sets the logger.
func WithLiveKitLogger(logger *zap.Logger) LiveKitOption {
	return func(r *LiveKitRoom) {
		r.logger = logger
	}
}

// WithLiveKitCodecs sets the codecs used to publish local tracks.
func WithLiveKitCodecs(f CodecFactory) LiveKitOption {
	return func(r *LiveKitRoom) {
		r.codecs = f
	}
}

// LiveKitRoom is a Room backed by a LiveKit connection. Subscribed remote
// tracks are decoded so they can be composited; local tracks are encoded
// and published.
type LiveKitRoom struct {
	roster

	config LiveKitConfig
	logger *zap.Logger
	codecs CodecFactory
	room   *lksdk.Room
	chat   *liveKitChat

	pubMu sync.Mutex
	pubs  map[SourceKind]*localPublication
}

// ConnectLiveKit joins the room named in the token.
func ConnectLiveKit(ctx context.Context, config LiveKitConfig, opts ...LiveKitOption) (*LiveKitRoom, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if config.PublishFPS <= 0 {
		config.PublishFPS = 30
	}
	r := &LiveKitRoom{
		config: config,
		logger: zap.NewNop(),
		pubs:   make(map[SourceKind]*localPublication),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.codecs == nil {
		r.codecs = NativeCodecs()
	}
	r.chat = &liveKitChat{room: r}

	room, err := lksdk.ConnectToRoomWithToken(config.URL, config.Token, r.callbacks(), lksdk.WithAutoSubscribe(true))
	if err != nil {
		return nil, fmt.Errorf("connect to livekit: %w", err)
	}
	r.room = room

	local := room.LocalParticipant
	r.setLocal(newRosterParticipant(local.Identity(), local.Name(), true))
	for _, rp := range room.GetRemoteParticipants() {
		r.join(rp.Identity(), rp.Name())
	}
	r.logger.Info("connected to room",
		zap.String("room", room.Name()),
		zap.String("identity", local.Identity()),
		zap.Int("remote_participants", len(room.GetRemoteParticipants())),
	)
	return r, nil
}

// Name returns the room name.
func (r *LiveKitRoom) Name() string {
	return r.room.Name()
}

// ChatRelay returns the chat relay carried over this room's data channel.
func (r *LiveKitRoom) ChatRelay() ChatRelay {
	return r.chat
}

func (r *LiveKitRoom) callbacks() *lksdk.RoomCallback {
	cb := lksdk.NewRoomCallback()
	cb.OnParticipantConnected = func(rp *lksdk.RemoteParticipant) {
		r.join(rp.Identity(), rp.Name())
	}
	cb.OnParticipantDisconnected = func(rp *lksdk.RemoteParticipant) {
		if p := r.leave(rp.Identity()); p != nil {
			for _, kind := range registryKinds {
				endTrack(p.setTrack(kind, nil))
			}
		}
	}
	cb.OnDisconnected = func() {
		r.logger.Info("disconnected from room")
	}
	cb.ParticipantCallback.OnTrackSubscribed = r.trackSubscribed
	cb.ParticipantCallback.OnTrackUnsubscribed = func(_ *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
		kind := sourceKindOf(pub.Source())
		if kind == SourceKindUnknown {
			return
		}
		prev, _ := r.setTrack(rp.Identity(), kind, nil)
		endTrack(prev)
	}
	cb.ParticipantCallback.OnTrackMuted = func(pub lksdk.TrackPublication, p lksdk.Participant) {
		r.setRemoteState(pub, p, TrackStateMuted)
	}
	cb.ParticipantCallback.OnTrackUnmuted = func(pub lksdk.TrackPublication, p lksdk.Participant) {
		r.setRemoteState(pub, p, TrackStateLive)
	}
	cb.ParticipantCallback.OnConnectionQualityChanged = func(update *livekit.ConnectionQualityInfo, p lksdk.Participant) {
		r.setQuality(p.Identity(), ConnectionQualityFromLiveKit(update.Quality))
	}
	cb.ParticipantCallback.OnDataPacket = func(data lksdk.DataPacket, params lksdk.DataReceiveParams) {
		user, ok := data.(*lksdk.UserDataPacket)
		if !ok || user.Topic != ChatTopic {
			return
		}
		var msg ChatMessage
		if err := json.Unmarshal(user.Payload, &msg); err != nil {
			r.logger.Warn("invalid chat message", zap.String("sender", params.SenderIdentity), zap.Error(err))
			return
		}
		r.events.emit(RoomEvent{Kind: RoomEventChatMessage, ParticipantID: params.SenderIdentity, Message: msg})
		r.chat.receive(msg)
	}
	return cb
}

func (r *LiveKitRoom) trackSubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	kind := sourceKindOf(pub.Source())
	if kind == SourceKindUnknown {
		return
	}
	logger := r.logger.With(zap.String("participant", rp.Identity()), zap.Stringer("source", kind))
	read := func() (*rtp.Packet, error) {
		pkt, _, err := track.ReadRTP()
		return pkt, err
	}

	var mt MediaTrack
	if kind.IsVideo() {
		codec := VideoCodecFromMime(track.Codec().MimeType)
		decoder, err := NewVideoDecoder(codec)
		if err != nil {
			logger.Warn("cannot decode remote video", zap.String("mime", track.Codec().MimeType), zap.Error(err))
			return
		}
		vt, err := NewRemoteVideoTrack(pub.SID(), codec, read, decoder, logger)
		if err != nil {
			decoder.Close()
			logger.Warn("cannot read remote video", zap.Error(err))
			return
		}
		mt = vt
	} else {
		decoder, err := NewAudioDecoder(AudioCodecOpus, MixSampleRate, MixChannels)
		if err != nil {
			logger.Warn("cannot decode remote audio", zap.Error(err))
			return
		}
		mt = NewRemoteAudioTrack(pub.SID(), read, decoder, 0, logger)
	}

	prev, err := r.setTrack(rp.Identity(), kind, mt)
	if err != nil {
		// Subscribed before the participant callback arrived
		r.join(rp.Identity(), rp.Name())
		prev, _ = r.setTrack(rp.Identity(), kind, mt)
	}
	endTrack(prev)
	logger.Debug("remote track subscribed", zap.String("track", pub.SID()))
}

func (r *LiveKitRoom) setRemoteState(pub lksdk.TrackPublication, p lksdk.Participant, state TrackState) {
	participant := r.find(p.Identity())
	if participant == nil {
		return
	}
	kind := sourceKindOf(pub.Source())
	if s, ok := participant.Track(kind).(stateSetter); ok {
		s.SetState(state)
		r.events.emit(RoomEvent{Kind: RoomEventTrackChanged, ParticipantID: p.Identity(), IsLocal: participant.local})
	}
}

func endTrack(t MediaTrack) {
	if s, ok := t.(stateSetter); ok {
		s.SetState(TrackStateEnded)
	}
}

func sourceKindOf(src livekit.TrackSource) SourceKind {
	switch src {
	case livekit.TrackSource_CAMERA:
		return SourceKindCamera
	case livekit.TrackSource_SCREEN_SHARE:
		return SourceKindScreen
	case livekit.TrackSource_MICROPHONE:
		return SourceKindMicrophone
	default:
		return SourceKindUnknown
	}
}

func trackSourceOf(kind SourceKind) livekit.TrackSource {
	switch kind {
	case SourceKindCamera:
		return livekit.TrackSource_CAMERA
	case SourceKindScreen:
		return livekit.TrackSource_SCREEN_SHARE
	case SourceKindMicrophone:
		return livekit.TrackSource_MICROPHONE
	default:
		return livekit.TrackSource_UNKNOWN
	}
}

// localPublication is a local track being encoded and sent to the room.
type localPublication struct {
	track  MediaTrack
	pub    *lksdk.LocalTrackPublication
	cancel context.CancelFunc
	done   chan struct{}
}

// Publish encodes track and publishes it as the local participant's
// source of the given kind. Video is sent as VP8, audio as Opus.
func (r *LiveKitRoom) Publish(ctx context.Context, kind SourceKind, track MediaTrack) error {
	var capability webrtc.RTPCodecCapability
	switch {
	case kind.IsVideo():
		if _, ok := track.(VideoTrack); !ok {
			return fmt.Errorf("%s needs a video track", kind)
		}
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: VideoCodecVP8.ClockRate()}
	case kind == SourceKindMicrophone:
		if _, ok := track.(AudioTrack); !ok {
			return fmt.Errorf("%s needs an audio track", kind)
		}
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: MixSampleRate, Channels: MixChannels}
	default:
		return fmt.Errorf("cannot publish %s", kind)
	}

	local, err := lksdk.NewLocalSampleTrack(capability)
	if err != nil {
		return fmt.Errorf("create %s track: %w", kind, err)
	}
	pub, err := r.room.LocalParticipant.PublishTrack(local, &lksdk.TrackPublicationOptions{
		Name:   track.ID(),
		Source: trackSourceOf(kind),
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &localPublication{track: track, pub: pub, cancel: cancel, done: make(chan struct{})}
	if kind.IsVideo() {
		go r.sendVideo(loopCtx, p, local)
	} else {
		go r.sendAudio(loopCtx, p, local)
	}

	r.pubMu.Lock()
	old := r.pubs[kind]
	r.pubs[kind] = p
	r.pubMu.Unlock()
	if old != nil {
		r.unpublish(old)
	}

	_, err = r.setTrack(r.room.LocalParticipant.Identity(), kind, track)
	return err
}

func (r *LiveKitRoom) sendVideo(ctx context.Context, p *localPublication, out *lksdk.LocalSampleTrack) {
	defer close(p.done)
	track := p.track.(VideoTrack)
	interval := time.Second / time.Duration(r.config.PublishFPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var enc VideoEncoder
	var w, h int
	defer func() {
		if enc != nil {
			enc.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		frame, ok := track.LatestFrame()
		if !ok {
			continue
		}
		if enc == nil || frame.Width != w || frame.Height != h {
			if enc != nil {
				enc.Close()
			}
			cfg := DefaultVideoEncoderConfig(VideoCodecVP8, frame.Width, frame.Height)
			cfg.FPS = r.config.PublishFPS
			cfg.BitrateBps = 2_000_000
			var err error
			if enc, err = r.codecs.NewVideoEncoder(cfg); err != nil {
				r.logger.Error("cannot publish video", zap.Error(err))
				return
			}
			w, h = frame.Width, frame.Height
		}
		encoded, err := enc.Encode(frame)
		if err != nil {
			r.logger.Warn("encode local video", zap.Error(err))
			continue
		}
		if encoded == nil {
			continue
		}
		if err := out.WriteSample(media.Sample{Data: encoded.Data, Duration: interval}, nil); err != nil {
			r.logger.Debug("write local video", zap.Error(err))
		}
	}
}

func (r *LiveKitRoom) sendAudio(ctx context.Context, p *localPublication, out *lksdk.LocalSampleTrack) {
	defer close(p.done)
	track := p.track.(AudioTrack)

	cfg := DefaultAudioEncoderConfig(AudioCodecOpus)
	enc, err := r.codecs.NewAudioEncoder(cfg)
	if err != nil {
		r.logger.Error("cannot publish audio", zap.Error(err))
		return
	}
	defer enc.Close()

	const frame = MixFrameSamples * MixChannels
	var pending []int16
	for {
		samples, err := track.ReadSamples(ctx)
		if err != nil {
			return
		}
		pending = append(pending, toMixFormat(samples)...)
		for len(pending) >= frame {
			block := pcmBlock(pending[:frame])
			pending = pending[frame:]
			packet, err := enc.Encode(block)
			if err != nil {
				r.logger.Warn("encode local audio", zap.Error(err))
				continue
			}
			if packet == nil || len(packet.Data) == 0 {
				continue
			}
			if err := out.WriteSample(media.Sample{Data: packet.Data, Duration: MixFrameDuration}, nil); err != nil {
				r.logger.Debug("write local audio", zap.Error(err))
			}
		}
	}
}

func (r *LiveKitRoom) unpublish(p *localPublication) {
	p.cancel()
	<-p.done
	if err := r.room.LocalParticipant.UnpublishTrack(p.pub.SID()); err != nil {
		r.logger.Debug("unpublish", zap.Error(err))
	}
}

// SourceEnabled implements TrackPublisher.
func (r *LiveKitRoom) SourceEnabled(kind SourceKind) bool {
	r.pubMu.Lock()
	p := r.pubs[kind]
	r.pubMu.Unlock()
	return p != nil && p.track.State() == TrackStateLive
}

// SetSourceEnabled implements TrackPublisher by muting or unmuting a
// published local track.
func (r *LiveKitRoom) SetSourceEnabled(ctx context.Context, kind SourceKind, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.pubMu.Lock()
	p := r.pubs[kind]
	r.pubMu.Unlock()
	if p == nil {
		if !enabled {
			return nil
		}
		return ErrNoDevice
	}
	s, ok := p.track.(stateSetter)
	if !ok {
		return fmt.Errorf("%s track cannot be muted", kind)
	}
	if p.track.State() == TrackStateEnded {
		return ErrTrackEnded
	}
	p.pub.SetMuted(!enabled)
	if enabled {
		s.SetState(TrackStateLive)
	} else {
		s.SetState(TrackStateMuted)
	}
	r.events.emit(RoomEvent{Kind: RoomEventTrackChanged, ParticipantID: r.room.LocalParticipant.Identity(), IsLocal: true})
	return nil
}

// Disconnect unpublishes local tracks and leaves the room.
func (r *LiveKitRoom) Disconnect() {
	r.pubMu.Lock()
	pubs := r.pubs
	r.pubs = make(map[SourceKind]*localPublication)
	r.pubMu.Unlock()
	for _, p := range pubs {
		r.unpublish(p)
	}
	r.room.Disconnect()

	for _, p := range r.RemoteParticipants() {
		if rp := r.leave(p.Identity()); rp != nil {
			for _, kind := range registryKinds {
				endTrack(rp.setTrack(kind, nil))
			}
		}
	}
}

// liveKitChat relays chat over reliable data packets.
type liveKitChat struct {
	room      *LiveKitRoom
	listeners chatListeners

	mu     sync.Mutex
	joined bool
}

func (c *liveKitChat) Join(ctx context.Context, room string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name := c.room.Name(); room != "" && room != name {
		return fmt.Errorf("connected to room %q, not %q", name, room)
	}
	c.mu.Lock()
	c.joined = true
	c.mu.Unlock()
	return nil
}

func (c *liveKitChat) Leave(context.Context) error {
	c.mu.Lock()
	c.joined = false
	c.mu.Unlock()
	return nil
}

func (c *liveKitChat) Send(ctx context.Context, msg ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	joined := c.joined
	c.mu.Unlock()
	if !joined {
		return ErrNotConnected
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.room.room.LocalParticipant.PublishDataPacket(
		&lksdk.UserDataPacket{Payload: payload, Topic: ChatTopic},
		lksdk.WithDataPublishReliable(true),
	)
}

func (c *liveKitChat) Subscribe(fn func(ChatMessage)) func() {
	return c.listeners.Subscribe(fn)
}

func (c *liveKitChat) receive(msg ChatMessage) {
	c.mu.Lock()
	joined := c.joined
	c.mu.Unlock()
	if joined {
		c.listeners.emitChat(msg)
	}
}
