package studio

// IsVideoKeyframe reports whether data, one depacketized VP8 or VP9
// frame, can be decoded without earlier frames. Other codecs report
// true so callers never stall on them.
func IsVideoKeyframe(codec VideoCodec, data []byte) bool {
	switch codec {
	case VideoCodecVP8:
		return isVP8Keyframe(data)
	case VideoCodecVP9:
		return isVP9Keyframe(data)
	default:
		return true
	}
}

// isVP8Keyframe checks the frame tag and start code of RFC 6386 section
// 9.1: bit 0 of the tag is 0 for key frames, which carry 0x9D 0x01 0x2A
// after the three tag bytes.
func isVP8Keyframe(data []byte) bool {
	if len(data) < 10 {
		return false
	}
	if data[0]&0x01 != 0 {
		return false
	}
	return data[3] == 0x9D && data[4] == 0x01 && data[5] == 0x2A
}

// isVP9Keyframe reads the uncompressed header: frame_marker (2 bits,
// always 0b10), profile (2 bits, plus a reserved zero bit for profile
// 3), show_existing_frame, then frame_type (0 = key frame).
func isVP9Keyframe(data []byte) bool {
	if len(data) < 3 {
		return false
	}
	b := data[0]
	if b>>6 != 0x02 {
		return false
	}
	profile := (b>>5)&0x01 | (b>>4)&0x01<<1
	showExisting := uint(3)
	if profile == 3 {
		showExisting = 2
	}
	if (b>>showExisting)&0x01 == 1 {
		return false
	}
	return (b>>(showExisting-1))&0x01 == 0
}
