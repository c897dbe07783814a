package studio

import (
	"errors"
	"sync"
	"time"
)

// ErrSchedulerRunning is returned when Start is called twice.
var ErrSchedulerRunning = errors.New("scheduler already running")

// FrameScheduler invokes a callback once per frame until stopped.
// Stop must guarantee that no callback starts after it returns.
type FrameScheduler interface {
	Start(callback func(now time.Time)) error
	Stop()
}

// DefaultRefreshRate approximates a display refresh for the compositor loop.
const DefaultRefreshRate = 60

// TickerScheduler fires callbacks from a time.Ticker on its own goroutine.
// A slow callback delays the next one; ticks are never queued.
type TickerScheduler struct {
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewTickerScheduler creates a scheduler firing fps times per second.
func NewTickerScheduler(fps int) *TickerScheduler {
	if fps <= 0 {
		fps = DefaultRefreshRate
	}
	return &TickerScheduler{interval: time.Second / time.Duration(fps)}
}

// Interval returns the time between frames.
func (s *TickerScheduler) Interval() time.Duration {
	return s.interval
}

// Start implements FrameScheduler.
func (s *TickerScheduler) Start(callback func(now time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.loop(callback, s.stopCh, s.doneCh)
	return nil
}

func (s *TickerScheduler) loop(callback func(time.Time), stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case now := <-ticker.C:
			select {
			case <-stopCh:
				return
			default:
			}
			callback(now)
		}
	}
}

// Stop implements FrameScheduler. It waits for an in-flight callback.
func (s *TickerScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// ManualScheduler fires frames only when Tick is called. It makes frame
// loops deterministic in tests and offline renders.
type ManualScheduler struct {
	mu       sync.Mutex
	callback func(time.Time)
	now      time.Time
	step     time.Duration
}

// NewManualScheduler creates a manual scheduler whose clock advances by
// step on every tick.
func NewManualScheduler(step time.Duration) *ManualScheduler {
	return &ManualScheduler{now: time.Unix(0, 0), step: step}
}

// Start implements FrameScheduler.
func (s *ManualScheduler) Start(callback func(now time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callback != nil {
		return ErrSchedulerRunning
	}
	s.callback = callback
	return nil
}

// Stop implements FrameScheduler.
func (s *ManualScheduler) Stop() {
	s.mu.Lock()
	s.callback = nil
	s.mu.Unlock()
}

// Running reports whether a callback is installed.
func (s *ManualScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callback != nil
}

// Tick fires n frames synchronously and returns how many actually ran.
func (s *ManualScheduler) Tick(n int) int {
	fired := 0
	for i := 0; i < n; i++ {
		s.mu.Lock()
		cb := s.callback
		s.now = s.now.Add(s.step)
		now := s.now
		s.mu.Unlock()
		if cb == nil {
			return fired
		}
		cb(now)
		fired++
	}
	return fired
}
