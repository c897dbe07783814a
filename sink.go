package studio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Picker errors. Any picker error makes the recording fall back to
// buffered mode.
var (
	ErrPickerCancelled   = errors.New("file picker cancelled")
	ErrPickerUnsupported = errors.New("file picker unsupported")
	ErrSinkFinalized     = errors.New("sink already finalized")
)

// SinkMode is where encoded chunks go during a recording.
type SinkMode int

const (
	SinkModeDirectFile SinkMode = iota // Streamed to a user-chosen file
	SinkModeBuffered                   // Kept in memory, downloaded at the end
)

func (m SinkMode) String() string {
	switch m {
	case SinkModeDirectFile:
		return "direct_file"
	case SinkModeBuffered:
		return "buffered"
	default:
		return "unknown"
	}
}

// FileHandle is a writable file chosen by the user.
type FileHandle interface {
	io.WriteCloser

	// Abort discards whatever was written.
	Abort() error
}

// FilePicker asks the user where to save a recording.
type FilePicker interface {
	PickFile(ctx context.Context, suggestedName string) (FileHandle, error)
}

// Downloader delivers a buffered recording once it is complete.
type Downloader interface {
	Download(ctx context.Context, filename string, r io.Reader, size int64) error
}

// RecordingFilename returns "<product>-recording-<UTC timestamp>.webm"
// with the timestamp in ISO 8601 to the second, ':' replaced by '-'.
func RecordingFilename(product string, t time.Time) string {
	if product == "" {
		product = DefaultProductName
	}
	stamp := strings.ReplaceAll(t.UTC().Format("2006-01-02T15:04:05"), ":", "-")
	return fmt.Sprintf("%s-recording-%s.webm", product, stamp)
}

// Sink receives the ordered chunk stream of one recording. The mode is
// chosen once when the sink is opened.
type Sink struct {
	mode       SinkMode
	filename   string
	downloader Downloader

	mu        sync.Mutex
	file      FileHandle
	chunks    [][]byte
	size      int64
	finalized bool
}

// OpenSink asks picker for a destination file. A nil picker or any picker
// error selects buffered mode.
func OpenSink(ctx context.Context, picker FilePicker, downloader Downloader, filename string, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sink{mode: SinkModeBuffered, filename: filename, downloader: downloader}
	if picker == nil {
		return s
	}

	file, err := picker.PickFile(ctx, filename)
	switch {
	case err == nil && file != nil:
		s.mode = SinkModeDirectFile
		s.file = file
	case errors.Is(err, ErrPickerCancelled):
		logger.Info("file picker cancelled, buffering recording", zap.String("filename", filename))
	default:
		logger.Warn("file picker failed, buffering recording", zap.String("filename", filename), zap.Error(err))
	}
	return s
}

// Mode returns the sink mode.
func (s *Sink) Mode() SinkMode { return s.mode }

// Filename returns the suggested recording filename.
func (s *Sink) Filename() string { return s.filename }

// Size returns the number of bytes written so far.
func (s *Sink) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Write consumes one chunk. Chunks must arrive in order.
func (s *Sink) Write(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return ErrSinkFinalized
	}

	switch s.mode {
	case SinkModeDirectFile:
		if _, err := s.file.Write(chunk); err != nil {
			return fmt.Errorf("write recording file: %w", err)
		}
	default:
		c := make([]byte, len(chunk))
		copy(c, chunk)
		s.chunks = append(s.chunks, c)
	}
	s.size += int64(len(chunk))
	return nil
}

// Finalize completes the recording exactly once: a direct file is
// closed, a buffer is handed to the downloader and released. Later
// calls return ErrSinkFinalized.
func (s *Sink) Finalize(ctx context.Context) error {
	s.mu.Lock()
	if s.finalized {
		s.mu.Unlock()
		return ErrSinkFinalized
	}
	s.finalized = true
	file, chunks, size := s.file, s.chunks, s.size
	s.file, s.chunks = nil, nil
	s.mu.Unlock()

	if s.mode == SinkModeDirectFile {
		if err := file.Close(); err != nil {
			return fmt.Errorf("close recording file: %w", err)
		}
		return nil
	}

	if s.downloader == nil {
		return errors.New("no downloader for buffered recording")
	}
	data := bytes.Join(chunks, nil)
	if err := s.downloader.Download(ctx, s.filename, bytes.NewReader(data), size); err != nil {
		return fmt.Errorf("download recording: %w", err)
	}
	return nil
}

// Abort discards the recording. Nothing is delivered.
func (s *Sink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return nil
	}
	s.finalized = true
	s.chunks = nil
	if s.file != nil {
		err := s.file.Abort()
		s.file = nil
		return err
	}
	return nil
}

// PathPicker picks files in a fixed directory without asking. It is the
// direct file mode of headless recorders.
type PathPicker struct {
	Dir string
}

// PickFile implements FilePicker.
func (p PathPicker) PickFile(ctx context.Context, suggestedName string) (FileHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Dir == "" {
		return nil, ErrPickerUnsupported
	}
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	path := filepath.Join(p.Dir, filepath.Base(suggestedName))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open recording file: %w", err)
	}
	return &pathFile{File: f}, nil
}

type pathFile struct {
	*os.File
}

func (f *pathFile) Abort() error {
	name := f.Name()
	f.File.Close()
	return os.Remove(name)
}

// NoPicker never offers a file, so every recording is buffered.
type NoPicker struct{}

// PickFile implements FilePicker.
func (NoPicker) PickFile(context.Context, string) (FileHandle, error) {
	return nil, ErrPickerUnsupported
}
