package studio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// LeavePrompt asks for confirmation before leaving during a recording.
const LeavePrompt = "Recording is in progress. Are you sure you want to leave?"

// Confirmer asks the user a yes/no question.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

// Confirm implements Confirmer.
func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

// CallRoom is the room a call runs in.
type CallRoom interface {
	Room
	RoomEventSource
	TrackPublisher
	Disconnect()
}

// InviteLink returns "<origin>/invite/<code>", or "" without a code.
func InviteLink(origin, code string) string {
	if code == "" {
		return ""
	}
	return strings.TrimRight(origin, "/") + "/invite/" + code
}

// CallConfig configures a call.
type CallConfig struct {
	RoomName   string
	InviteCode string
	Origin     string // Base URL for invite links
	Recorder   RecorderConfig
}

// CallOption customizes a Call.
type CallOption func(*callOptions)

type callOptions struct {
	logger   *zap.Logger
	notifier Notifier
	recorder []RecorderOption
}

// WithCallLogger sets the logger for the call and its components.
func WithCallLogger(logger *zap.Logger) CallOption {
	return func(o *callOptions) {
		o.logger = logger
	}
}

// WithCallNotifier sets who is alerted about failures.
func WithCallNotifier(n Notifier) CallOption {
	return func(o *callOptions) {
		o.notifier = n
	}
}

// WithRecorderOptions passes options to the call's recorder.
func WithRecorderOptions(opts ...RecorderOption) CallOption {
	return func(o *callOptions) {
		o.recorder = append(o.recorder, opts...)
	}
}

// Call ties together what a participant does in a room: recording, chat,
// media toggles and connection quality.
type Call struct {
	config   CallConfig
	room     CallRoom
	logger   *zap.Logger
	notifier Notifier

	Recorder *Recorder
	Chat     *Chat
	Controls *MediaControls
	Quality  *QualityMonitor

	mu   sync.Mutex
	left bool
}

// NewCall creates a call in room with chat carried by relay.
func NewCall(room CallRoom, relay ChatRelay, config CallConfig, opts ...CallOption) *Call {
	o := callOptions{logger: zap.NewNop(), notifier: nopNotifier{}}
	for _, opt := range opts {
		opt(&o)
	}

	var senderID, senderName string
	if local := room.LocalParticipant(); local != nil {
		senderID, senderName = local.Identity(), local.Name()
	}
	recorderOpts := append([]RecorderOption{
		WithRecorderLogger(o.logger.Named("recorder")),
		WithNotifier(o.notifier),
	}, o.recorder...)

	return &Call{
		config:   config,
		room:     room,
		logger:   o.logger,
		notifier: o.notifier,
		Recorder: NewRecorder(NewRoomSourceRegistry(room), config.Recorder, recorderOpts...),
		Chat:     NewChat(relay, senderID, senderName, WithChatLogger(o.logger.Named("chat"))),
		Controls: NewMediaControls(room, o.logger.Named("controls")),
		Quality:  NewQualityMonitor(room),
	}
}

// Join joins the room's chat.
func (c *Call) Join(ctx context.Context) error {
	return c.Chat.Join(ctx, c.config.RoomName)
}

// InviteLink returns the call's invite link.
func (c *Call) InviteLink() string {
	return InviteLink(c.config.Origin, c.config.InviteCode)
}

// ToggleRecording starts a recording, or stops the active one and
// returns its result. Failures are also shown to the user.
func (c *Call) ToggleRecording(ctx context.Context) (*RecordingResult, error) {
	if c.Recorder.IsRecording() {
		res, err := c.Recorder.Stop(ctx)
		if err != nil {
			c.notifier.Alert(err)
		}
		return res, err
	}
	if err := c.Recorder.Start(ctx); err != nil {
		c.notifier.Alert(fmt.Errorf("failed to start recording: %w", err))
		return nil, err
	}
	return nil, nil
}

// Leave leaves the call. While a recording is active or starting,
// confirm is asked first; if the user declines, Leave returns false and
// the call continues. Otherwise the recording is finalized before
// disconnecting.
func (c *Call) Leave(ctx context.Context, confirm Confirmer) (bool, error) {
	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return true, nil
	}
	c.mu.Unlock()

	if c.Recorder.Busy() {
		if confirm == nil {
			return false, errors.New("leaving during a recording needs confirmation")
		}
		ok, err := confirm.Confirm(ctx, LeavePrompt)
		if err != nil {
			return false, fmt.Errorf("confirm leave: %w", err)
		}
		if !ok {
			return false, nil
		}
	}

	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return true, nil
	}
	c.left = true
	c.mu.Unlock()

	var errs []error
	if res, err := c.Recorder.Stop(ctx); err != nil {
		errs = append(errs, err)
	} else if res != nil {
		c.logger.Info("recording saved on leave", zap.String("filename", res.Filename))
	}
	if err := c.Chat.Leave(ctx); err != nil {
		errs = append(errs, err)
	}
	c.Quality.Close()
	c.room.Disconnect()
	return true, errors.Join(errs...)
}
