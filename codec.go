package studio

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoSupportedCodec is returned when no recording format can be encoded.
var ErrNoSupportedCodec = errors.New("no supported recording codec")

// VideoCodec identifies the video codec type.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecVP8
	VideoCodecVP9
	VideoCodecAV1
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecVP8:
		return "VP8"
	case VideoCodecVP9:
		return "VP9"
	case VideoCodecAV1:
		return "AV1"
	default:
		return "Unknown"
	}
}

// MimeType returns the RTP MIME type for this codec.
func (c VideoCodec) MimeType() string {
	switch c {
	case VideoCodecVP8:
		return "video/VP8"
	case VideoCodecVP9:
		return "video/VP9"
	case VideoCodecAV1:
		return "video/AV1"
	default:
		return ""
	}
}

// WebMCodecID returns the Matroska codec ID for this codec.
func (c VideoCodec) WebMCodecID() string {
	switch c {
	case VideoCodecVP8:
		return "V_VP8"
	case VideoCodecVP9:
		return "V_VP9"
	case VideoCodecAV1:
		return "V_AV1"
	default:
		return ""
	}
}

// ClockRate returns the RTP clock rate for this codec.
func (c VideoCodec) ClockRate() uint32 {
	// All video codecs use 90kHz clock
	return 90000
}

// AudioCodec identifies the audio codec type.
type AudioCodec int

const (
	AudioCodecUnknown AudioCodec = iota
	AudioCodecOpus
)

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecOpus:
		return "Opus"
	default:
		return "Unknown"
	}
}

// MimeType returns the RTP MIME type for this codec.
func (c AudioCodec) MimeType() string {
	if c == AudioCodecOpus {
		return "audio/opus"
	}
	return ""
}

// WebMCodecID returns the Matroska codec ID for this codec.
func (c AudioCodec) WebMCodecID() string {
	if c == AudioCodecOpus {
		return "A_OPUS"
	}
	return ""
}

// ClockRate returns the RTP clock rate for this codec.
func (c AudioCodec) ClockRate() uint32 {
	return 48000
}

// Recording container formats in preference order.
const (
	MimeTypeWebMVP9Opus = "video/webm;codecs=vp9,opus"
	MimeTypeWebMVP8Opus = "video/webm;codecs=vp8,opus"
	MimeTypeWebM        = "video/webm"
)

// DefaultRecordingFormats returns the formats tried when a recording
// starts, best first.
func DefaultRecordingFormats() []string {
	return []string{MimeTypeWebMVP9Opus, MimeTypeWebMVP8Opus, MimeTypeWebM}
}

// CodecPair is the video and audio codec of one recording.
type CodecPair struct {
	Video    VideoCodec
	Audio    AudioCodec
	MimeType string
}

func (p CodecPair) String() string {
	return fmt.Sprintf("%s+%s", p.Video, p.Audio)
}

// webmDefaultVideo is the order tried for a bare "video/webm" format.
var webmDefaultVideo = []VideoCodec{VideoCodecVP8, VideoCodecVP9, VideoCodecAV1}

// ParseRecordingFormat parses a container MIME type such as
// "video/webm;codecs=vp9,opus". A bare "video/webm" yields an unknown
// video codec, meaning any codec WebM can carry.
func ParseRecordingFormat(mime string) (CodecPair, error) {
	base, params, _ := strings.Cut(mime, ";")
	if !strings.EqualFold(strings.TrimSpace(base), "video/webm") {
		return CodecPair{}, fmt.Errorf("unsupported container %q", base)
	}

	pair := CodecPair{Audio: AudioCodecOpus, MimeType: mime}
	params = strings.TrimSpace(params)
	if params == "" {
		return pair, nil
	}

	key, value, ok := strings.Cut(params, "=")
	if !ok || !strings.EqualFold(strings.TrimSpace(key), "codecs") {
		return CodecPair{}, fmt.Errorf("unsupported format parameters %q", params)
	}
	value = strings.Trim(strings.TrimSpace(value), `"`)
	for _, name := range strings.Split(value, ",") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "vp8":
			pair.Video = VideoCodecVP8
		case "vp9", "vp09":
			pair.Video = VideoCodecVP9
		case "av1", "av01":
			pair.Video = VideoCodecAV1
		case "opus":
			pair.Audio = AudioCodecOpus
		default:
			return CodecPair{}, fmt.Errorf("unsupported codec %q", name)
		}
	}
	return pair, nil
}

// SelectCodecs returns the first format in formats the factory can encode.
func SelectCodecs(factory CodecFactory, formats []string) (CodecPair, error) {
	for _, mime := range formats {
		pair, err := ParseRecordingFormat(mime)
		if err != nil || !factory.SupportsAudio(pair.Audio) {
			continue
		}
		if pair.Video != VideoCodecUnknown {
			if factory.SupportsVideo(pair.Video) {
				return pair, nil
			}
			continue
		}
		for _, codec := range webmDefaultVideo {
			if factory.SupportsVideo(codec) {
				pair.Video = codec
				return pair, nil
			}
		}
	}
	return CodecPair{}, ErrNoSupportedCodec
}
