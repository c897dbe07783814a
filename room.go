package studio

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Room errors.
var (
	ErrNotConnected = errors.New("room not connected")
	ErrNoDevice     = errors.New("no capture device")
)

// RosterParticipant is a Participant whose tracks are maintained by a
// room implementation.
type RosterParticipant struct {
	identity string
	name     string
	local    bool

	mu     sync.RWMutex
	tracks map[SourceKind]MediaTrack
}

func newRosterParticipant(identity, name string, local bool) *RosterParticipant {
	return &RosterParticipant{
		identity: identity,
		name:     name,
		local:    local,
		tracks:   make(map[SourceKind]MediaTrack),
	}
}

func (p *RosterParticipant) Identity() string { return p.identity }
func (p *RosterParticipant) Name() string     { return p.name }
func (p *RosterParticipant) IsLocal() bool    { return p.local }

// Track implements Participant.
func (p *RosterParticipant) Track(kind SourceKind) MediaTrack {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tracks[kind]
}

func (p *RosterParticipant) setTrack(kind SourceKind, track MediaTrack) MediaTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.tracks[kind]
	if track == nil {
		delete(p.tracks, kind)
	} else {
		p.tracks[kind] = track
	}
	return prev
}

// roster keeps the participants of a room in join order and publishes
// roster changes as room events.
type roster struct {
	events eventHub

	mu      sync.RWMutex
	local   *RosterParticipant
	remotes []*RosterParticipant
}

func (r *roster) Subscribe(fn func(RoomEvent)) func() {
	return r.events.Subscribe(fn)
}

func (r *roster) LocalParticipant() Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.local == nil {
		return nil
	}
	return r.local
}

func (r *roster) RemoteParticipants() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Participant, len(r.remotes))
	for i, p := range r.remotes {
		out[i] = p
	}
	return out
}

func (r *roster) setLocal(p *RosterParticipant) {
	r.mu.Lock()
	r.local = p
	r.mu.Unlock()
}

func (r *roster) find(identity string) *RosterParticipant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.local != nil && r.local.identity == identity {
		return r.local
	}
	for _, p := range r.remotes {
		if p.identity == identity {
			return p
		}
	}
	return nil
}

func (r *roster) join(identity, name string) *RosterParticipant {
	r.mu.Lock()
	for _, p := range r.remotes {
		if p.identity == identity {
			r.mu.Unlock()
			return p
		}
	}
	p := newRosterParticipant(identity, name, false)
	r.remotes = append(r.remotes, p)
	r.mu.Unlock()

	r.events.emit(RoomEvent{Kind: RoomEventParticipantJoined, ParticipantID: identity})
	return p
}

func (r *roster) leave(identity string) *RosterParticipant {
	r.mu.Lock()
	var left *RosterParticipant
	for i, p := range r.remotes {
		if p.identity == identity {
			left = p
			r.remotes = append(r.remotes[:i:i], r.remotes[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	if left != nil {
		r.events.emit(RoomEvent{Kind: RoomEventParticipantLeft, ParticipantID: identity})
	}
	return left
}

func (r *roster) setTrack(identity string, kind SourceKind, track MediaTrack) (MediaTrack, error) {
	p := r.find(identity)
	if p == nil {
		return nil, fmt.Errorf("participant %q not in room", identity)
	}
	prev := p.setTrack(kind, track)
	r.events.emit(RoomEvent{Kind: RoomEventTrackChanged, ParticipantID: identity, IsLocal: p.local})
	return prev, nil
}

func (r *roster) setQuality(identity string, q ConnectionQuality) {
	p := r.find(identity)
	if p == nil {
		return
	}
	r.events.emit(RoomEvent{Kind: RoomEventConnectionQuality, ParticipantID: identity, IsLocal: p.local, Quality: q})
}

// stateSetter is implemented by tracks embedding BaseTrack.
type stateSetter interface {
	SetState(TrackState)
}

// LocalTrackFactory opens a capture source for the local participant.
type LocalTrackFactory func(ctx context.Context, kind SourceKind) (MediaTrack, error)

// MemoryRoom is an in-process Room for tests and offline renders. Remote
// participants and their tracks are added directly.
type MemoryRoom struct {
	roster

	factory LocalTrackFactory
}

// NewMemoryRoom creates a room containing only the local participant.
func NewMemoryRoom(localID, localName string) *MemoryRoom {
	r := &MemoryRoom{}
	r.setLocal(newRosterParticipant(localID, localName, true))
	return r
}

// SetLocalTrackFactory sets how local sources are opened when first
// enabled.
func (r *MemoryRoom) SetLocalTrackFactory(f LocalTrackFactory) {
	r.mu.Lock()
	r.factory = f
	r.mu.Unlock()
}

// AddParticipant adds a remote participant after those already present.
func (r *MemoryRoom) AddParticipant(identity, name string) *RosterParticipant {
	return r.join(identity, name)
}

// RemoveParticipant removes a remote participant. Its tracks are left
// to the caller.
func (r *MemoryRoom) RemoveParticipant(identity string) {
	r.leave(identity)
}

// Publish sets a participant's track of the given kind.
func (r *MemoryRoom) Publish(identity string, kind SourceKind, track MediaTrack) error {
	_, err := r.setTrack(identity, kind, track)
	return err
}

// Unpublish removes a participant's track of the given kind.
func (r *MemoryRoom) Unpublish(identity string, kind SourceKind) error {
	_, err := r.setTrack(identity, kind, nil)
	return err
}

// SetConnectionQuality reports a quality change for a participant.
func (r *MemoryRoom) SetConnectionQuality(identity string, q ConnectionQuality) {
	r.setQuality(identity, q)
}

// SourceEnabled implements TrackPublisher.
func (r *MemoryRoom) SourceEnabled(kind SourceKind) bool {
	local := r.LocalParticipant()
	if local == nil {
		return false
	}
	track := local.Track(kind)
	return track != nil && track.State() == TrackStateLive
}

// SetSourceEnabled implements TrackPublisher. Disabling mutes the local
// track; enabling unmutes it or opens it through the factory.
func (r *MemoryRoom) SetSourceEnabled(ctx context.Context, kind SourceKind, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.RLock()
	local, factory := r.local, r.factory
	r.mu.RUnlock()

	track := local.Track(kind)
	if track != nil && track.State() == TrackStateEnded {
		track = nil
	}
	if !enabled {
		if s, ok := track.(stateSetter); ok {
			s.SetState(TrackStateMuted)
			r.events.emit(RoomEvent{Kind: RoomEventTrackChanged, ParticipantID: local.identity, IsLocal: true})
		}
		return nil
	}

	if track != nil {
		s, ok := track.(stateSetter)
		if !ok {
			return fmt.Errorf("%s track cannot be unmuted", kind)
		}
		s.SetState(TrackStateLive)
		r.events.emit(RoomEvent{Kind: RoomEventTrackChanged, ParticipantID: local.identity, IsLocal: true})
		return nil
	}

	if factory == nil {
		return ErrNoDevice
	}
	track, err := factory(ctx, kind)
	if err != nil {
		return err
	}
	_, err = r.setTrack(local.identity, kind, track)
	return err
}

// Disconnect ends every local track and removes all remote participants.
func (r *MemoryRoom) Disconnect() {
	r.mu.Lock()
	local := r.local
	remotes := r.remotes
	r.mu.Unlock()

	for _, kind := range registryKinds {
		if s, ok := local.Track(kind).(stateSetter); ok {
			s.SetState(TrackStateEnded)
		}
	}
	for _, p := range remotes {
		r.leave(p.identity)
	}
}
