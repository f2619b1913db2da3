// Package ffmpeg builds the ffmpeg argument vector for one transcode session
// and supervises the resulting subprocess.
package ffmpeg

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mantonx/playserver/internal/play"
	"github.com/mantonx/playserver/internal/play/hls"
	"github.com/mantonx/playserver/internal/play/negotiate"
)

// codecLibrary maps the client-facing codec name to the encoder/decoder
// library ffmpeg expects after -c:v/-c:a.
var codecLibrary = map[string]string{
	"h264": "libx264",
	"hevc": "libx265",
	"vp9":  "libvpx-vp9",
	"opus": "libopus",
	"aac":  "libfdk_aac",
	"dts":  "dca",
	"flac": "flac",
	"mp3":  "libmp3lame",
}

// BuildParams carries everything the argument builder needs. It is
// deliberately a flat struct of already-negotiated values rather than the
// Session type, so the builder can be unit tested without constructing a
// live session.
type BuildParams struct {
	InputPath string
	StartTime float64

	HWAccel       hwAccelKind
	HWAccelDevice string
	HWAccelLowPowerMode bool

	Decision play.Decision
	Video    play.Stream

	AudioStream      play.Stream
	AudioStreamIndex int
	RequestedAudioChannels int // 0 = unset

	SegmentTime  float64
	StartSegment int
	OutputPath   string

	Preset string // ffmpeg -preset value, e.g. "veryfast"
}

// hwAccelKind is a local alias so this package doesn't import the hardware
// package just for its enum; callers pass hardware.AccelKind values, which
// have the same underlying string values ("none", "vaapi", "qsv", "nvenc").
type hwAccelKind string

const (
	hwAccelNone  hwAccelKind = "none"
	hwAccelVAAPI hwAccelKind = "vaapi"
	hwAccelQSV   hwAccelKind = "qsv"
	hwAccelNVENC hwAccelKind = "nvenc"
)

// NewHWAccelKind converts an external accel-kind string (e.g. from
// hardware.Info.Accel) into the builder's own vocabulary.
func NewHWAccelKind(s string) hwAccelKind {
	switch s {
	case "vaapi":
		return hwAccelVAAPI
	case "qsv":
		return hwAccelQSV
	case "nvenc":
		return hwAccelNVENC
	default:
		return hwAccelNone
	}
}

// BuildArgs renders the full ffmpeg argument vector (excluding the ffmpeg
// binary path itself) for one HLS transcode session.
func BuildArgs(p BuildParams) []string {
	var args []string

	args = append(args, "-analyzeduration", "200M")
	args = append(args, hwAccelDecoderArgs(p.HWAccel, p.HWAccelDevice)...)

	args = append(args,
		"-ss", formatSeconds(p.StartTime),
		"-autorotate", "0",
		"-i", p.InputPath,
		"-y",
		"-copyts",
		"-start_at_zero",
		"-avoid_negative_ts", "disabled",
		"-muxdelay", "0",
	)

	args = append(args, "-map_metadata", "-1", "-map_chapters", "-1", "-threads", "0")

	videoCodecLib := codecLibrary[p.Decision.OutputVideoCodec]
	if p.Decision.CanCopyVideo {
		videoCodecLib = "copy"
		args = append([]string{"-noaccurate_seek"}, args...)
	} else if p.HWAccel != hwAccelNone {
		videoCodecLib = p.Decision.OutputVideoCodec + "_" + string(p.HWAccel)
	}

	args = append(args, "-map", "0:v:0", "-c:v", videoCodecLib)

	if videoCodecLib != "copy" {
		if p.HWAccel != hwAccelNone {
			args = append(args, "-autoscale", "0")
			if p.HWAccelLowPowerMode {
				args = append(args, "-low_power", "1")
			}
		}
		if vf := videoFilter(p); vf != "" {
			args = append(args, "-vf", vf)
		}
		args = append(args, qualityParams(p.Decision.OutputWidth, videoCodecLib)...)
		args = append(args, bitrateParams(videoCodecLib, p.Decision.OutputBitrate)...)
	}

	args = append(args, audioArgs(p)...)

	if videoCodecLib != "copy" {
		args = append(args, keyframeParams(videoCodecLib, p.Video, p.SegmentTime)...)
	}

	args = append(args,
		"-f", "hls",
		"-hls_playlist_type", "event",
		"-hls_segment_type", "fmp4",
		"-hls_time", formatSeconds(p.SegmentTime),
		"-hls_list_size", "0",
		"-start_number", strconv.Itoa(p.StartSegment),
		"-y",
	)

	if p.Decision.CanCopyVideo {
		switch p.Decision.OutputVideoCodec {
		case "h264":
			args = append(args, "-bsf:v", "h264_mp4toannexb")
		case "hevc":
			args = append(args, "-bsf:v", "hevc_mp4toannexb")
		}
	}

	args = append(args, p.OutputPath)
	return args
}

func hwAccelDecoderArgs(kind hwAccelKind, device string) []string {
	switch kind {
	case hwAccelQSV:
		return []string{
			"-init_hw_device", "vaapi=va:",
			"-init_hw_device", "qsv=qs@va",
			"-filter_hw_device", "qs",
			"-hwaccel", "vaapi",
			"-hwaccel_output_format", "vaapi",
		}
	case hwAccelVAAPI:
		return []string{
			"-init_hw_device", fmt.Sprintf("vaapi=va:%s", device),
			"-hwaccel", "vaapi",
			"-hwaccel_output_format", "vaapi",
		}
	default:
		return nil
	}
}

// videoFilter builds the -vf chain: a setparams line establishing the output
// color tags, a scale/format line (software) or a hardware scale chain.
func videoFilter(p BuildParams) string {
	var vf []string

	hdr := p.Decision.VideoColor == play.ColorHDR10 || p.Decision.VideoColor == play.ColorDOVI
	outIsHDR := p.Decision.OutputPixelFormat == "yuv420p10le" && hdr

	if outIsHDR || (p.Decision.Tonemap.Required && hdr) {
		vf = append(vf, "setparams=color_primaries=bt2020:color_trc=smpte2084:colorspace=bt2020nc")
	} else {
		vf = append(vf, "setparams=color_primaries=bt709:color_trc=bt709:colorspace=bt709")
	}

	width := p.Decision.OutputWidth

	if p.HWAccel == hwAccelNone {
		if width > 0 {
			vf = append(vf, fmt.Sprintf("scale=width=%d:height=-2", width))
		}
		vf = append(vf, fmt.Sprintf("format=%s", p.Decision.OutputPixelFormat))
		return strings.Join(vf, ",")
	}

	format := "nv12"
	if outIsHDR {
		if p.Decision.OutputVideoCodec != "h264" {
			format = "p010le"
		}
	}

	if p.Decision.Tonemap.Required && (p.HWAccel == hwAccelQSV || p.HWAccel == hwAccelVAAPI) {
		vf = append(vf, "tonemap_vaapi=format=nv12:p=bt709:t=bt709:m=bt709")
		vf = append(vf, "procamp_vaapi=b=0:c=1.2:extra_hw_frames=16")
	}

	widthFilter := ""
	if width != p.Video.Width {
		widthFilter = fmt.Sprintf("w=%d:h=-2:", width)
	}

	if p.HWAccel == hwAccelQSV {
		vf = append(vf, fmt.Sprintf("scale_vaapi=%sformat=%s,hwmap=derive_device=qsv,format=qsv", widthFilter, format))
	} else {
		vf = append(vf, fmt.Sprintf("scale_%s=%sformat=%s", p.HWAccel, widthFilter, format))
	}
	return strings.Join(vf, ",")
}

// qualityParams returns the per-codec preset/CRF ladder. The libx265 branch
// reproduces the ladder exactly as it was ported: the >=3840 rung is listed
// twice (18 then 20), so the second, tighter value for that bucket can never
// be reached — 4K HEVC always gets CRF 18. Left as-is rather than silently
// renumbered.
func qualityParams(width int, codecLib string) []string {
	var params []string
	params = append(params, "-preset", "veryfast")

	switch codecLib {
	case "libx264":
		params = append(params, "-x264opts", "subme=0:me_range=4:rc_lookahead=10:me=hex:8x8dct=0:partitions=none")
		switch {
		case width >= 3840:
			params = append(params, "-crf", "18")
		case width >= 1920:
			params = append(params, "-crf", "19")
		default:
			params = append(params, "-crf", "26")
		}
	case "libx265":
		params = append(params, "-tag:v", "hvc1", "-x265-params", "keyint=24:min-keyint=24")
		switch {
		case width >= 3840:
			params = append(params, "-crf", "18")
		case width >= 3840:
			params = append(params, "-crf", "20")
		case width >= 1920:
			params = append(params, "-crf", "22")
		default:
			params = append(params, "-crf", "31")
		}
	case "libvpx-vp9":
		params = append(params, "-g", "24")
		switch {
		case width >= 3840:
			params = append(params, "-crf", "15")
		case width >= 2560:
			params = append(params, "-crf", "24")
		case width >= 1920:
			params = append(params, "-crf", "31")
		default:
			params = append(params, "-crf", "34")
		}
	case "h264_qsv":
		params = append(params, "-look_ahead", "0")
	case "hevc_qsv":
		params = append(params, "-tag:v", "hvc1")
	}
	return params
}

func bitrateParams(codecLib string, bitrate int64) []string {
	if bitrate <= 0 {
		return nil
	}
	switch codecLib {
	case "libx264", "libx265", "libvpx-vp9":
		return []string{"-maxrate", strconv.FormatInt(bitrate, 10), "-bufsize", strconv.FormatInt(bitrate*2, 10)}
	default:
		return []string{"-b:v", strconv.FormatInt(bitrate, 10), "-maxrate", strconv.FormatInt(bitrate, 10), "-bufsize", strconv.FormatInt(bitrate*2, 10)}
	}
}

func audioArgs(p BuildParams) []string {
	var args []string
	codecLib := codecLibrary[p.Decision.OutputAudioCodec]

	if p.Decision.CanCopyAudio {
		codecLib = "copy"
	} else if codecLib == "" {
		codecLib = codecLibrary["aac"]
	}

	if !p.Decision.CanCopyAudio {
		bitrate := p.AudioStream.BitRate
		if bitrate <= 0 {
			bitrate = int64(p.AudioStream.Channels) * 128000
		}
		channels := p.AudioStream.Channels
		if p.RequestedAudioChannels > 0 && p.RequestedAudioChannels < p.AudioStream.Channels {
			channels = p.RequestedAudioChannels
			bitrate = int64(channels) * 128000
		}
		args = append(args, "-ac", strconv.Itoa(channels))
		args = append(args, "-ab", strconv.FormatInt(bitrate, 10))
	}

	args = append(args, "-map", fmt.Sprintf("0:%d", p.AudioStreamIndex), "-c:a", codecLib)
	return args
}

// keyframeParams forces encoder keyframes at segment boundaries so the HLS
// muxer can cut exactly there. The strategy differs per encoder family:
// hardware encoders that ignore -force_key_frames get a GOP-size forcing
// instead; a couple of software encoders get both for safety.
func keyframeParams(codecLib string, video play.Stream, segmentTime float64) []string {
	forceExpr := []string{"-force_key_frames:0", fmt.Sprintf("expr:gte(t,n_forced*%s)", formatSeconds(segmentTime))}

	var gopArgs []string
	if fps := parseFrameRate(video.RFrameRate); fps > 0 {
		g := int(segmentTime*fps + 0.999999) // ceil without importing math for one call site
		gopArgs = []string{"-g:v:0", strconv.Itoa(g), "-keyint_min:v:0", strconv.Itoa(g)}
	}

	var args []string
	switch codecLib {
	case "h264_qsv", "h264_nvenc", "h264_amf", "hevc_qsv", "hevc_nvenc", "av1_qsv", "av1_nvenc", "av1_amf", "libsvtav1":
		args = gopArgs
	case "libx264", "libx265", "h264_vaapi", "hevc_vaapi", "av1_vaapi":
		args = append([]string{}, forceExpr...)
		if codecLib == "libx264" {
			args = append(args, "-sc_threshold:v:0", "0")
		}
	default:
		args = append([]string{}, forceExpr...)
		args = append(args, gopArgs...)
	}

	// AMD's HEVC VAAPI encoder additionally needs the global header flag
	// regardless of which branch above supplied its keyframe-forcing args.
	if codecLib == "hevc_vaapi" {
		args = append(args, "-flags:v", "+global_header")
	}
	return args
}

func parseFrameRate(rFrameRate string) float64 {
	parts := strings.SplitN(rFrameRate, "/", 2)
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

func formatSeconds(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// SegmentTime resolves the target segment duration for this decision, a
// thin wrapper kept here so callers building BuildParams don't need to
// import the hls package just for this one value.
func SegmentTime(decision play.Decision) float64 {
	return hls.SegmentTime(decision.CanCopyVideo)
}

// ResolveAudioSelection is a thin re-export so callers assembling
// BuildParams can pick the audio stream without importing negotiate
// directly in the http layer.
func ResolveAudioSelection(meta play.SourceMetadata, langReq string) play.AudioSelection {
	return negotiate.SelectAudioStream(meta, langReq)
}

// ScratchDirFromArgs recovers the scratch directory backing a built argument
// vector from its final element, the HLS muxer's output path (always
// "{scratch}/media.m3u8" — see BuildArgs' last append). Both Transcoder
// implementations use this so a launch's FFREPORT path doesn't need the
// scratch directory threaded through the Transcoder interface itself.
func ScratchDirFromArgs(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return filepath.Dir(args[len(args)-1])
}

// ReportLogPath is the on-disk path ffmpeg's FFREPORT diagnostic dump is
// written to for one session.
func ReportLogPath(scratchDir, session string) string {
	return filepath.Join(scratchDir, fmt.Sprintf("ffmpeg_%s_transcode.log", session))
}

// ReportEnv builds the FFREPORT environment variable entry that makes
// ffmpeg write its diagnostic report to ReportLogPath, independent of the
// stdout/stderr streams the supervising process already captures.
func ReportEnv(scratchDir, session string) string {
	return fmt.Sprintf("FFREPORT=file='%s':level=32", ReportLogPath(scratchDir, session))
}
