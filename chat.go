package studio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrEmptyMessage is returned when a chat message has no text.
var ErrEmptyMessage = errors.New("empty chat message")

// ChatMessage is one message of the call chat.
type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

// ChatRelay carries chat messages between the participants of a room.
// Delivery is at least once and may include the sender's own messages.
type ChatRelay interface {
	Join(ctx context.Context, room string) error
	Leave(ctx context.Context) error
	Send(ctx context.Context, msg ChatMessage) error

	// Subscribe registers fn for received messages and returns a function
	// that removes it.
	Subscribe(fn func(ChatMessage)) (unsubscribe func())
}

// ChatOption customizes a Chat.
type ChatOption func(*Chat)

// WithChatLogger sets the logger.
func WithChatLogger(logger *zap.Logger) ChatOption {
	return func(c *Chat) {
		c.logger = logger
	}
}

// WithChatClock sets the clock used to stamp outgoing messages.
func WithChatClock(now func() time.Time) ChatOption {
	return func(c *Chat) {
		c.now = now
	}
}

// Chat keeps the local transcript of a room's chat. Messages are
// identified by ID, so a relay echo of a local message is dropped.
type Chat struct {
	relay      ChatRelay
	senderID   string
	senderName string
	logger     *zap.Logger
	now        func() time.Time

	mu          sync.Mutex
	messages    []ChatMessage
	seen        map[string]struct{}
	listeners   []func(ChatMessage)
	unsubscribe func()
}

// NewChat creates a chat for the local participant.
func NewChat(relay ChatRelay, senderID, senderName string, opts ...ChatOption) *Chat {
	c := &Chat{
		relay:      relay,
		senderID:   senderID,
		senderName: senderName,
		logger:     zap.NewNop(),
		now:        time.Now,
		seen:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Join joins the room's chat and starts receiving messages.
func (c *Chat) Join(ctx context.Context, room string) error {
	c.mu.Lock()
	if c.unsubscribe == nil {
		c.unsubscribe = c.relay.Subscribe(func(msg ChatMessage) { c.Receive(msg) })
	}
	c.mu.Unlock()

	if err := c.relay.Join(ctx, room); err != nil {
		return fmt.Errorf("join chat %q: %w", room, err)
	}
	return nil
}

// Leave stops receiving messages and leaves the room's chat.
func (c *Chat) Leave(ctx context.Context) error {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	if err := c.relay.Leave(ctx); err != nil {
		return fmt.Errorf("leave chat: %w", err)
	}
	return nil
}

// Send appends text to the transcript and publishes it. The returned
// message is in the transcript even when publishing fails.
func (c *Chat) Send(ctx context.Context, text string) (ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ChatMessage{}, ErrEmptyMessage
	}
	msg := ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   c.senderID,
		SenderName: c.senderName,
		Text:       text,
		Timestamp:  c.now(),
	}
	c.Receive(msg)

	if err := c.relay.Send(ctx, msg); err != nil {
		c.logger.Warn("chat message not delivered", zap.String("id", msg.ID), zap.Error(err))
		return msg, fmt.Errorf("send chat message: %w", err)
	}
	return msg, nil
}

// Receive appends msg unless a message with the same ID is already in
// the transcript. It reports whether msg was appended.
func (c *Chat) Receive(msg ChatMessage) bool {
	if msg.ID == "" {
		return false
	}
	c.mu.Lock()
	if _, ok := c.seen[msg.ID]; ok {
		c.mu.Unlock()
		return false
	}
	c.seen[msg.ID] = struct{}{}
	c.messages = append(c.messages, msg)
	listeners := c.listeners
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(msg)
	}
	return true
}

// OnMessage registers fn for every message appended to the transcript.
func (c *Chat) OnMessage(fn func(ChatMessage)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Messages returns the transcript in arrival order.
func (c *Chat) Messages() []ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChatMessage(nil), c.messages...)
}

// ChatHub is an in-process relay shared by several participants. Every
// message, including the sender's own, is delivered to each member of
// the room.
type ChatHub struct {
	mu    sync.Mutex
	rooms map[string]map[*hubRelay]struct{}
}

// NewChatHub creates an empty hub.
func NewChatHub() *ChatHub {
	return &ChatHub{rooms: make(map[string]map[*hubRelay]struct{})}
}

// Relay returns a new relay endpoint for one participant.
func (h *ChatHub) Relay() ChatRelay {
	return &hubRelay{hub: h}
}

func (h *ChatHub) broadcast(room string, msg ChatMessage) {
	h.mu.Lock()
	members := make([]*hubRelay, 0, len(h.rooms[room]))
	for r := range h.rooms[room] {
		members = append(members, r)
	}
	h.mu.Unlock()
	for _, r := range members {
		r.events.emitChat(msg)
	}
}

type hubRelay struct {
	hub    *ChatHub
	events chatListeners

	mu   sync.Mutex
	room string
}

func (r *hubRelay) Join(ctx context.Context, room string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.Leave(ctx)
	r.hub.mu.Lock()
	members, ok := r.hub.rooms[room]
	if !ok {
		members = make(map[*hubRelay]struct{})
		r.hub.rooms[room] = members
	}
	members[r] = struct{}{}
	r.hub.mu.Unlock()

	r.mu.Lock()
	r.room = room
	r.mu.Unlock()
	return nil
}

func (r *hubRelay) Leave(context.Context) error {
	r.mu.Lock()
	room := r.room
	r.room = ""
	r.mu.Unlock()
	if room == "" {
		return nil
	}
	r.hub.mu.Lock()
	delete(r.hub.rooms[room], r)
	if len(r.hub.rooms[room]) == 0 {
		delete(r.hub.rooms, room)
	}
	r.hub.mu.Unlock()
	return nil
}

func (r *hubRelay) Send(ctx context.Context, msg ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	room := r.room
	r.mu.Unlock()
	if room == "" {
		return ErrNotConnected
	}
	r.hub.broadcast(room, msg)
	return nil
}

func (r *hubRelay) Subscribe(fn func(ChatMessage)) func() {
	return r.events.Subscribe(fn)
}

// chatListeners fans received chat messages out to subscribers.
type chatListeners struct {
	events eventHub
}

func (h *chatListeners) Subscribe(fn func(ChatMessage)) func() {
	return h.events.Subscribe(func(ev RoomEvent) {
		if ev.Kind == RoomEventChatMessage {
			fn(ev.Message)
		}
	})
}

func (h *chatListeners) emitChat(msg ChatMessage) {
	h.events.emit(RoomEvent{Kind: RoomEventChatMessage, ParticipantID: msg.SenderID, Message: msg})
}
