package hls

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/mantonx/playserver/internal/play"
)

// MediaPlaylist renders the #EXTM3U media playlist for a session's plan, in
// the exact line order and field set the ported transcoder produced.
func MediaPlaylist(plan play.SegmentPlan, queryParams string) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:7\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", TargetDuration(plan))
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	fmt.Fprintf(&b, "#EXT-X-MAP:URI=\"/hls/init.mp4?%s\"\n", queryParams)

	for i, d := range plan.Durations {
		fmt.Fprintf(&b, "#EXTINF:%s,\n", formatDuration(d))
		fmt.Fprintf(&b, "/hls/media%d.m4s?%s\n", i, queryParams)
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

func formatDuration(d float64) string {
	s := strconv.FormatFloat(d, 'f', -1, 64)
	return s
}

// VariantInfo carries the fields MainPlaylist needs to render the one
// variant line this server ever produces — a single quality per session;
// adaptive bitrate ladders are out of scope.
type VariantInfo struct {
	Bitrate        int64
	VideoColor     play.VideoColor
	CopyVideo      bool
	VideoCodec     string // output codec: h264, hevc, vp9
	VideoProfile   string
	VideoLevel     int
	Bit10          bool
	AudioCodec     string // aac, opus, dts, flac, mp3, ac3, eac3
	AudioHE        bool
	QueryParams    string
}

// MainPlaylist renders the master playlist: a single variant stream whose
// CODECS/BANDWIDTH/VIDEO-RANGE attributes describe the negotiated output.
func MainPlaylist(v VariantInfo) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:7\n")

	videoRange := "SDR"
	if v.CopyVideo {
		switch v.VideoColor {
		case play.ColorHDR10:
			videoRange = "PQ"
		case play.ColorHLG:
			videoRange = "HLG"
		case play.ColorDOVI:
			videoRange = "PQ"
		}
	}

	codecs := CodecsString(v)

	fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,AVERAGE-BANDWIDTH=%d,VIDEO-RANGE=%s,CODECS=%q\n",
		v.Bitrate, v.Bitrate, videoRange, codecs)
	fmt.Fprintf(&b, "/hls/media.m3u8?%s\n", v.QueryParams)
	return b.String()
}

// CodecsString assembles the HLS CODECS attribute value for the negotiated
// output video+audio codecs.
func CodecsString(v VariantInfo) string {
	video := videoCodecString(v)
	audio := audioCodecString(v)
	if video == "" {
		return audio
	}
	if audio == "" {
		return video
	}
	return video + "," + audio
}

func videoCodecString(v VariantInfo) string {
	switch v.VideoCodec {
	case "h264":
		// avc1.PPCCLL: profile, constraint flags (0), level, all hex.
		profile := 0x64 // High
		level := v.VideoLevel
		if level == 0 {
			level = 31
		}
		return fmt.Sprintf("avc1.%02X00%02X", profile, level)
	case "hevc":
		level := v.VideoLevel
		if level == 0 {
			level = 120 // 4.0
		}
		if v.Bit10 {
			return fmt.Sprintf("hvc1.2.4.L%d.B0", level)
		}
		return fmt.Sprintf("hvc1.1.4.L%d.B0", level)
	case "vp9":
		return "vp09.00.10.08"
	default:
		return ""
	}
}

func audioCodecString(v VariantInfo) string {
	switch v.AudioCodec {
	case "aac":
		if v.AudioHE {
			return "mp4a.40.5"
		}
		return "mp4a.40.2"
	case "ac3":
		return "mp4a.a5"
	case "eac3":
		return "mp4a.a6"
	case "opus":
		return "Opus"
	case "flac":
		return "fLaC"
	case "mp3":
		return "mp4a.40.34"
	default:
		return ""
	}
}

// PreserveQuery re-encodes a capability descriptor's query values so every
// playlist/segment URL this server emits carries the full capability
// descriptor forward, the way the ported implementation's
// settings.to_args_dict()/urlencode() round-trip worked.
func PreserveQuery(values url.Values) string {
	return values.Encode()
}

// RoundTargetDuration is exposed for callers that need the same rounding the
// header line applies to an explicitly-empty plan (round, not ceil).
func RoundTargetDuration(f float64) int {
	return int(math.Round(f))
}
