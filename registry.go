package studio

import (
	"sync"
)

// Participant is one member of the call roster.
type Participant interface {
	Identity() string
	Name() string
	IsLocal() bool

	// Track returns the participant's published track of the given kind,
	// or nil when nothing is published or subscribed.
	Track(kind SourceKind) MediaTrack
}

// Room exposes the call roster of the real-time SDK.
type Room interface {
	// LocalParticipant returns nil before the room is connected.
	LocalParticipant() Participant

	// RemoteParticipants returns remote participants in join order.
	RemoteParticipants() []Participant
}

// RoomEventKind enumerates roster and room notifications.
type RoomEventKind int

const (
	RoomEventParticipantJoined RoomEventKind = iota
	RoomEventParticipantLeft
	RoomEventConnectionQuality
	RoomEventChatMessage
	RoomEventTrackChanged
)

func (k RoomEventKind) String() string {
	switch k {
	case RoomEventParticipantJoined:
		return "participant_joined"
	case RoomEventParticipantLeft:
		return "participant_left"
	case RoomEventConnectionQuality:
		return "connection_quality"
	case RoomEventChatMessage:
		return "chat_message"
	case RoomEventTrackChanged:
		return "track_changed"
	default:
		return "unknown"
	}
}

// RoomEvent is a notification from the room.
type RoomEvent struct {
	Kind          RoomEventKind
	ParticipantID string
	IsLocal       bool
	Quality       ConnectionQuality // RoomEventConnectionQuality
	Message       ChatMessage       // RoomEventChatMessage
}

// RoomEventSource delivers room notifications to subscribers.
type RoomEventSource interface {
	// Subscribe registers fn and returns a function that removes it.
	Subscribe(fn func(RoomEvent)) (unsubscribe func())
}

// RoomSourceRegistry implements SourceRegistry by querying a Room on
// every call. Nothing is cached between calls.
type RoomSourceRegistry struct {
	room Room
}

// NewRoomSourceRegistry creates a registry backed by room.
func NewRoomSourceRegistry(room Room) *RoomSourceRegistry {
	return &RoomSourceRegistry{room: room}
}

var registryKinds = [...]SourceKind{SourceKindCamera, SourceKindScreen, SourceKindMicrophone}

// ActiveSources implements SourceRegistry.
func (r *RoomSourceRegistry) ActiveSources() []SourceHandle {
	var participants []Participant
	if local := r.room.LocalParticipant(); local != nil {
		participants = append(participants, local)
	}
	for _, p := range r.room.RemoteParticipants() {
		if p != nil && !p.IsLocal() {
			participants = append(participants, p)
		}
	}

	handles := make([]SourceHandle, 0, len(participants)*2)
	for _, p := range participants {
		for _, kind := range registryKinds {
			track := p.Track(kind)
			if track == nil || track.State() != TrackStateLive {
				continue
			}
			handles = append(handles, SourceHandle{
				OwnerID:   p.Identity(),
				OwnerName: p.Name(),
				Kind:      kind,
				Track:     track,
				IsLocal:   p.IsLocal(),
			})
		}
	}
	return handles
}

// eventHub fans room events out to subscribers in subscription order.
type eventHub struct {
	mu     sync.RWMutex
	nextID int
	subs   []eventSub
}

type eventSub struct {
	id int
	fn func(RoomEvent)
}

func (h *eventHub) Subscribe(fn func(RoomEvent)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs = append(h.subs, eventSub{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, sub := range h.subs {
				if sub.id == id {
					h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (h *eventHub) emit(ev RoomEvent) {
	h.mu.RLock()
	subs := h.subs
	h.mu.RUnlock()
	for _, sub := range subs {
		sub.fn(ev)
	}
}
