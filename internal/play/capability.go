package play

import (
	"net/url"
	"strconv"
	"strings"
)

// ParseCapabilityDescriptor reads the common query parameters shared by
// /hls/* and /request-media into a CapabilityDescriptor. List-valued
// parameters accept either comma-separated values in one
// parameter or the parameter repeated.
func ParseCapabilityDescriptor(q url.Values) CapabilityDescriptor {
	return CapabilityDescriptor{
		PlayID:      q.Get("play_id"),
		Session:     q.Get("session"),
		SourceIndex: atoiDefault(q.Get("source_index"), 0),
		Format:      StreamFormat(firstNonEmpty(q.Get("format"), string(FormatHLS))),

		TranscodeVideoCodec: q.Get("transcode_video_codec"),
		TranscodeAudioCodec: q.Get("transcode_audio_codec"),

		SupportedVideoCodecs:        listParam(q, "supported_video_codecs"),
		SupportedAudioCodecs:        listParam(q, "supported_audio_codecs"),
		SupportedVideoContainers:    listParam(q, "supported_video_containers"),
		SupportedHDRFormats:        hdrListParam(q, "supported_hdr_formats"),
		SupportedVideoColorBitDepth: atoiDefault(q.Get("supported_video_color_bit_depth"), 8),

		StartTime:    atofDefault(q.Get("start_time"), 0),
		StartSegment: atoiDefault(q.Get("start_segment"), 0),

		AudioLang:                 q.Get("audio_lang"),
		MaxAudioChannels:          atoiDefault(q.Get("max_audio_channels"), 0),
		MaxWidth:                  atoiDefault(q.Get("max_width"), 0),
		MaxVideoBitrate:           atoi64Default(q.Get("max_video_bitrate"), 0),
		ClientCanSwitchAudioTrack: q.Get("client_can_switch_audio_track") == "true",
		ForceTranscode:            q.Get("force_transcode") == "true",
	}
}

// MinSessionIDLength enforces the "opaque string, min length enforced"
// requirement on a caller-supplied session id.
const MinSessionIDLength = 8

// ValidSessionID reports whether id meets the minimum length requirement.
func ValidSessionID(id string) bool {
	return len(id) >= MinSessionIDLength
}

func listParam(q url.Values, key string) []string {
	if vs, ok := q[key]; ok && len(vs) > 1 {
		return vs
	}
	raw := q.Get(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func hdrListParam(q url.Values, key string) []HDRFormat {
	raw := listParam(q, key)
	out := make([]HDRFormat, 0, len(raw))
	for _, r := range raw {
		out = append(out, HDRFormat(r))
	}
	return out
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func atoi64Default(s string, def int64) int64 {
	if s == "" {
		return def
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func atofDefault(s string, def float64) float64 {
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}

func firstNonEmpty(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
