// Package negotiate implements the Capability Negotiator: given probed
// source metadata and a client's capability descriptor, it decides whether
// the client can direct-play, copy the video or audio tracks, or must
// transcode, and resolves the concrete output parameters for whichever path
// is chosen.
package negotiate

import (
	"strconv"
	"strings"

	"github.com/mantonx/playserver/internal/play"
)

// ClassifyVideoColor classifies a stream's color into SDR, HDR10, or Dolby
// Vision based on its probed color metadata.
func ClassifyVideoColor(s play.Stream) play.VideoColor {
	if isDolbyVision(s) {
		return play.ColorDOVI
	}
	if s.ColorTransfer == "smpte2084" && s.ColorPrimaries == "bt2020" {
		return play.ColorHDR10
	}
	if s.ColorTransfer == "arib-std-b67" {
		return play.ColorHLG
	}
	return play.ColorSDR
}

var dolbyVisionTags = map[string]bool{
	"dovi": true, "dvh1": true, "dvhe": true, "dav1": true,
}

func isDolbyVision(s play.Stream) bool {
	if dolbyVisionTags[strings.ToLower(s.CodecTag)] {
		return true
	}
	if s.DolbyVision != nil {
		switch s.DolbyVision.Profile {
		case 5, 7, 8:
			return true
		}
	}
	return false
}

// BitDepth classifies pixel format into the bit depth the negotiator cares
// about.
func BitDepth(pixFmt string) int {
	switch pixFmt {
	case "yuv420p10le", "yuv444p10le":
		return 10
	case "yuv420p12le", "yuv444p12le":
		return 12
	default:
		return 8
	}
}

// Options carries the server-side configuration the negotiator needs beyond
// the source metadata and capability descriptor: whether tonemapping is
// enabled at all.
type Options struct {
	TonemapEnabled bool
}

// Negotiate runs the full capability-negotiation rule chain and returns a
// Decision.
func Negotiate(meta play.SourceMetadata, cap play.CapabilityDescriptor, opts Options) (play.Decision, error) {
	video, err := meta.VideoStream()
	if err != nil {
		return play.Decision{}, err
	}

	color := ClassifyVideoColor(video)
	bitDepth := BitDepth(video.PixFmt)

	canCopyVideo := evalCanCopyVideo(meta, video, cap, color, bitDepth, opts)

	audio := SelectAudioStream(meta, cap.AudioLang)

	canCopyAudio := false
	if audio.Index >= 0 {
		canCopyAudio = evalCanCopyAudio(meta.Streams[audio.Index], cap)
	}

	canDirectPlay := evalCanDirectPlay(meta, cap, video, canCopyVideo, canCopyAudio)

	outVideoCodec := resolveVideoCodec(video, canCopyVideo, cap)
	outAudioCodec := "aac"
	if audio.Index >= 0 {
		outAudioCodec = resolveAudioCodec(meta.Streams[audio.Index], canCopyAudio, cap)
	}

	outWidth := resolveOutputWidth(video.Width, cap.MaxWidth)
	outPixFmt := resolveOutputPixelFormat(video.PixFmt, bitDepth, cap)

	tonemap := planTonemap(color, outPixFmt, opts.TonemapEnabled, bitDepth, video.CodecName)

	bitrate := BitratePolicy(meta.Format.BitRate, cap.MaxVideoBitrate, outWidth > video.Width, outVideoCodec, video.CodecName)

	d := play.Decision{
		CanDirectPlay: canDirectPlay,
		CanCopyVideo:  canCopyVideo,
		CanCopyAudio:  canCopyAudio,
		VideoColor:    color,
		BitDepth:      bitDepth,

		OutputVideoCodec:  outVideoCodec,
		OutputAudioCodec:  outAudioCodec,
		OutputPixelFormat: outPixFmt,
		OutputWidth:       outWidth,
		OutputBitrate:     bitrate,

		Tonemap: tonemap,
		Audio:   audio,
	}
	return d, nil
}

// evalCanCopyVideo requires, in addition to canCopyVideoCore's checks, that
// the source has a keyframe list available — without one the HLS Planner
// can't build a keyframe-aligned copy-mode segment plan.
func evalCanCopyVideo(meta play.SourceMetadata, video play.Stream, cap play.CapabilityDescriptor, color play.VideoColor, bitDepth int, opts Options) bool {
	if !meta.HasKeyframes() {
		return false
	}
	return canCopyVideoCore(video, cap, color, bitDepth, opts)
}

func canCopyVideoCore(video play.Stream, cap play.CapabilityDescriptor, color play.VideoColor, bitDepth int, opts Options) bool {
	if cap.ForceTranscode {
		return false
	}
	if !cap.SupportsVideoCodec(video.CodecName) {
		return false
	}
	if bitDepth > cap.SupportedVideoColorBitDepth {
		return false
	}
	if color != play.ColorSDR && opts.TonemapEnabled {
		if !cap.SupportsHDR(HDRFormatFor(color)) {
			return false
		}
	}
	if cap.MaxWidth > 0 && cap.MaxWidth < video.Width {
		return false
	}
	if cap.MaxVideoBitrate > 0 && cap.MaxVideoBitrate < video.BitRate {
		return false
	}
	return true
}

// HDRFormatFor maps a classified VideoColor onto the client-facing
// HDRFormat vocabulary.
func HDRFormatFor(c play.VideoColor) play.HDRFormat {
	switch c {
	case play.ColorHDR10:
		return play.HDRFormatHDR10
	case play.ColorHLG:
		return play.HDRFormatHLG
	case play.ColorDOVI:
		return play.HDRFormatDOVI
	default:
		return ""
	}
}

func evalCanDirectPlay(meta play.SourceMetadata, cap play.CapabilityDescriptor, video play.Stream, canCopyVideoIgnoringKeyframes, canCopyAudio bool) bool {
	// can_copy_video "ignoring the keyframe-list clause": re-derive without
	// that one clause rather than reusing canCopyVideo, since that value may
	// have been forced false purely by missing keyframes. The re-derivation
	// always evaluates the HDR clause as if tonemapping were enabled,
	// whatever Options the caller passed to Negotiate.
	copyVideoIgnoringKeyframes := evalCanCopyVideoIgnoringKeyframes(video, cap)
	if !copyVideoIgnoringKeyframes {
		return false
	}
	if !formatsIntersect(meta.Format.FormatName, cap.SupportedVideoContainers) {
		return false
	}
	if !canCopyAudio {
		return false
	}
	audio := SelectAudioStream(meta, cap.AudioLang)
	if audio.Index < 0 {
		return false
	}
	stream := meta.Streams[audio.Index]
	if stream.Tags.Default && uniquelyDefaultAudio(meta, audio.Index) {
		return true
	}
	return cap.ClientCanSwitchAudioTrack
}

func evalCanCopyVideoIgnoringKeyframes(video play.Stream, cap play.CapabilityDescriptor) bool {
	return canCopyVideoCore(video, cap, ClassifyVideoColor(video), BitDepth(video.PixFmt), Options{TonemapEnabled: true})
}

func uniquelyDefaultAudio(meta play.SourceMetadata, index int) bool {
	count := 0
	for _, s := range meta.Streams {
		if s.Kind == play.StreamAudio && s.Tags.Default {
			count++
		}
	}
	return count == 1
}

func formatsIntersect(sourceFormats string, clientFormats []string) bool {
	for _, sf := range strings.Split(sourceFormats, ",") {
		sf = strings.TrimSpace(sf)
		for _, cf := range clientFormats {
			if strings.EqualFold(sf, cf) {
				return true
			}
		}
	}
	return false
}

// SelectAudioStream implements stream_index_by_lang: iterate audio streams
// in order, tracking a group index; honor an
// absolute-index request form ("lang:absolute_index") only if that stream is
// audio and its language/title matches; otherwise match by language/title;
// with no request, prefer the first default-flagged audio, else the first
// audio stream. Returns {Index: -1} if there is no audio stream at all.
func SelectAudioStream(meta play.SourceMetadata, langReq string) play.AudioSelection {
	lang := langReq
	var absIndex = -1
	if idx := strings.LastIndex(langReq, ":"); idx >= 0 {
		if n, err := strconv.Atoi(langReq[idx+1:]); err == nil {
			absIndex = n
			lang = langReq[:idx]
		}
	}

	group := 0
	firstAudio := -1
	firstAudioGroup := -1
	firstDefault := -1
	firstDefaultGroup := -1
	for _, s := range meta.Streams {
		if s.Kind != play.StreamAudio {
			continue
		}
		if firstAudio < 0 {
			firstAudio = s.Index
			firstAudioGroup = group
		}
		if s.Tags.Default && firstDefault < 0 {
			firstDefault = s.Index
			firstDefaultGroup = group
		}
		if absIndex >= 0 && s.Index == absIndex {
			if matchesLang(s, lang) || lang == "" {
				return play.AudioSelection{Index: s.Index, GroupIndex: group}
			}
		}
		if lang != "" && matchesLang(s, lang) {
			return play.AudioSelection{Index: s.Index, GroupIndex: group}
		}
		group++
	}

	if lang == "" {
		if firstDefault >= 0 {
			return play.AudioSelection{Index: firstDefault, GroupIndex: firstDefaultGroup}
		}
	}
	if firstAudio >= 0 {
		return play.AudioSelection{Index: firstAudio, GroupIndex: firstAudioGroup}
	}
	return play.AudioSelection{Index: -1, GroupIndex: -1}
}

func matchesLang(s play.Stream, lang string) bool {
	return strings.EqualFold(s.Tags.Language, lang) || strings.EqualFold(s.Tags.Title, lang)
}

// evalCanCopyAudio decides whether the audio track can be stream-copied
// unchanged for the given client capabilities.
func evalCanCopyAudio(stream play.Stream, cap play.CapabilityDescriptor) bool {
	if cap.MaxAudioChannels > 0 && cap.MaxAudioChannels < stream.Channels {
		return false
	}
	return cap.SupportsAudioCodec(stream.CodecName)
}

func resolveVideoCodec(video play.Stream, canCopy bool, cap play.CapabilityDescriptor) string {
	if canCopy {
		return video.CodecName
	}
	codec := cap.TranscodeVideoCodec
	if codec == "" {
		codec = "h264"
	}
	// HLS mode forces h264 regardless of client preference, a
	// player-compatibility workaround.
	if cap.Format == play.FormatHLS {
		return "h264"
	}
	return codec
}

func resolveAudioCodec(stream play.Stream, canCopy bool, cap play.CapabilityDescriptor) string {
	if canCopy {
		return stream.CodecName
	}
	if cap.TranscodeAudioCodec != "" {
		return cap.TranscodeAudioCodec
	}
	return "aac"
}

func resolveOutputWidth(sourceWidth, maxWidth int) int {
	if maxWidth > 0 && maxWidth < sourceWidth {
		return maxWidth
	}
	return sourceWidth
}

func resolveOutputPixelFormat(sourcePixFmt string, bitDepth int, cap play.CapabilityDescriptor) string {
	if bitDepth >= 10 && cap.SupportedVideoColorBitDepth >= 10 {
		return "yuv420p10le"
	}
	return "yuv420p"
}

func planTonemap(color play.VideoColor, outPixFmt string, enabled bool, bitDepth int, inputCodec string) play.TonemapPlan {
	if !enabled {
		return play.TonemapPlan{}
	}
	if color == play.ColorSDR {
		return play.TonemapPlan{}
	}
	targetIsHDR := outPixFmt == "yuv420p10le" // stays 10-bit => stays HDR-capable
	if targetIsHDR {
		return play.TonemapPlan{}
	}
	if bitDepth != 10 {
		return play.TonemapPlan{}
	}
	if color == play.ColorDOVI {
		return play.TonemapPlan{Required: true, FromDolbyVision: strings.EqualFold(inputCodec, "hevc")}
	}
	return play.TonemapPlan{Required: true}
}
