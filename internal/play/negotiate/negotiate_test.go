package negotiate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/playserver/internal/play"
)

func TestClassifyVideoColor(t *testing.T) {
	t.Run("dolby vision via codec tag", func(t *testing.T) {
		got := ClassifyVideoColor(play.Stream{CodecTag: "dvh1"})
		assert.Equal(t, play.ColorDOVI, got)
	})

	t.Run("dolby vision via side data profile", func(t *testing.T) {
		got := ClassifyVideoColor(play.Stream{DolbyVision: &play.DolbyVisionSideData{Profile: 8}})
		assert.Equal(t, play.ColorDOVI, got)
	})

	t.Run("profile 6 is not recognized as dolby vision", func(t *testing.T) {
		got := ClassifyVideoColor(play.Stream{
			DolbyVision:   &play.DolbyVisionSideData{Profile: 6},
			ColorTransfer: "smpte2084", ColorPrimaries: "bt2020",
		})
		assert.Equal(t, play.ColorHDR10, got)
	})

	t.Run("hdr10", func(t *testing.T) {
		got := ClassifyVideoColor(play.Stream{ColorTransfer: "smpte2084", ColorPrimaries: "bt2020"})
		assert.Equal(t, play.ColorHDR10, got)
	})

	t.Run("hlg", func(t *testing.T) {
		got := ClassifyVideoColor(play.Stream{ColorTransfer: "arib-std-b67"})
		assert.Equal(t, play.ColorHLG, got)
	})

	t.Run("smpte2084 without bt2020 primaries is plain sdr", func(t *testing.T) {
		got := ClassifyVideoColor(play.Stream{ColorTransfer: "smpte2084", ColorPrimaries: "bt709"})
		assert.Equal(t, play.ColorSDR, got)
	})

	t.Run("sdr", func(t *testing.T) {
		got := ClassifyVideoColor(play.Stream{ColorTransfer: "bt709", ColorPrimaries: "bt709"})
		assert.Equal(t, play.ColorSDR, got)
	})
}

func TestBitDepth(t *testing.T) {
	assert.Equal(t, 10, BitDepth("yuv420p10le"))
	assert.Equal(t, 10, BitDepth("yuv444p10le"))
	assert.Equal(t, 12, BitDepth("yuv420p12le"))
	assert.Equal(t, 12, BitDepth("yuv444p12le"))
	assert.Equal(t, 8, BitDepth("yuv420p"))
	assert.Equal(t, 8, BitDepth(""))
}

func baseVideo() play.Stream {
	return play.Stream{
		Index: 0, Kind: play.StreamVideo,
		CodecName: "h264", PixFmt: "yuv420p",
		Width: 1920, Height: 1080, BitRate: 5_000_000,
	}
}

func baseCap() play.CapabilityDescriptor {
	return play.CapabilityDescriptor{
		Format:                      play.FormatHLS,
		SupportedVideoCodecs:        []string{"h264"},
		SupportedAudioCodecs:        []string{"aac"},
		SupportedVideoContainers:    []string{"mp4"},
		SupportedVideoColorBitDepth: 8,
	}
}

func TestCanCopyVideoCore(t *testing.T) {
	cases := []struct {
		name  string
		video play.Stream
		cap   play.CapabilityDescriptor
		opts  Options
		want  bool
	}{
		{
			name:  "matches all clauses",
			video: baseVideo(),
			cap:   baseCap(),
			want:  true,
		},
		{
			name:  "force transcode always wins",
			video: baseVideo(),
			cap:   func() play.CapabilityDescriptor { c := baseCap(); c.ForceTranscode = true; return c }(),
			want:  false,
		},
		{
			name:  "codec not supported",
			video: play.Stream{CodecName: "hevc", PixFmt: "yuv420p"},
			cap:   baseCap(),
			want:  false,
		},
		{
			name:  "bit depth exceeds client support",
			video: play.Stream{CodecName: "h264", PixFmt: "yuv420p10le"},
			cap:   baseCap(),
			want:  false,
		},
		{
			name:  "hdr without client support, tonemap enabled blocks copy",
			video: play.Stream{CodecName: "h264", PixFmt: "yuv420p10le", ColorTransfer: "smpte2084", ColorPrimaries: "bt2020"},
			cap:   func() play.CapabilityDescriptor { c := baseCap(); c.SupportedVideoColorBitDepth = 10; return c }(),
			opts:  Options{TonemapEnabled: true},
			want:  false,
		},
		{
			name:  "hdr without client support, tonemap disabled skips the hdr clause",
			video: play.Stream{CodecName: "h264", PixFmt: "yuv420p10le", ColorTransfer: "smpte2084", ColorPrimaries: "bt2020"},
			cap:   func() play.CapabilityDescriptor { c := baseCap(); c.SupportedVideoColorBitDepth = 10; return c }(),
			opts:  Options{TonemapEnabled: false},
			want:  true,
		},
		{
			name:  "hdr with client support, tonemap enabled allows copy",
			video: play.Stream{CodecName: "h264", PixFmt: "yuv420p10le", ColorTransfer: "smpte2084", ColorPrimaries: "bt2020"},
			cap: func() play.CapabilityDescriptor {
				c := baseCap()
				c.SupportedVideoColorBitDepth = 10
				c.SupportedHDRFormats = []play.HDRFormat{play.HDRFormatHDR10}
				return c
			}(),
			opts: Options{TonemapEnabled: true},
			want: true,
		},
		{
			name:  "max width exceeded",
			video: baseVideo(),
			cap:   func() play.CapabilityDescriptor { c := baseCap(); c.MaxWidth = 1280; return c }(),
			want:  false,
		},
		{
			name:  "max width not exceeded",
			video: baseVideo(),
			cap:   func() play.CapabilityDescriptor { c := baseCap(); c.MaxWidth = 1920; return c }(),
			want:  true,
		},
		{
			name:  "max bitrate exceeded",
			video: baseVideo(),
			cap:   func() play.CapabilityDescriptor { c := baseCap(); c.MaxVideoBitrate = 1_000_000; return c }(),
			want:  false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			color := ClassifyVideoColor(tc.video)
			bitDepth := BitDepth(tc.video.PixFmt)
			got := canCopyVideoCore(tc.video, tc.cap, color, bitDepth, tc.opts)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvalCanCopyVideoRequiresKeyframes(t *testing.T) {
	video := baseVideo()
	cap := baseCap()
	color := ClassifyVideoColor(video)
	bitDepth := BitDepth(video.PixFmt)

	withKeyframes := play.SourceMetadata{Keyframes: []float64{0, 2, 4}}
	assert.True(t, evalCanCopyVideo(withKeyframes, video, cap, color, bitDepth, Options{}))

	withoutKeyframes := play.SourceMetadata{}
	assert.False(t, evalCanCopyVideo(withoutKeyframes, video, cap, color, bitDepth, Options{}))
}

func audioStream(index int, lang string, isDefault bool) play.Stream {
	return play.Stream{
		Index: index, Kind: play.StreamAudio,
		CodecName: "aac", Channels: 2,
		Tags: play.StreamTags{Language: lang, Default: isDefault},
	}
}

func TestSelectAudioStream(t *testing.T) {
	t.Run("no audio streams", func(t *testing.T) {
		got := SelectAudioStream(play.SourceMetadata{Streams: []play.Stream{baseVideo()}}, "")
		assert.Equal(t, -1, got.Index)
		assert.Equal(t, -1, got.GroupIndex)
	})

	t.Run("no request prefers default audio", func(t *testing.T) {
		meta := play.SourceMetadata{Streams: []play.Stream{
			baseVideo(),
			audioStream(1, "eng", false),
			audioStream(2, "fre", true),
		}}
		got := SelectAudioStream(meta, "")
		assert.Equal(t, 2, got.Index)
		assert.Equal(t, 1, got.GroupIndex)
	})

	t.Run("no request and no default falls back to first audio", func(t *testing.T) {
		meta := play.SourceMetadata{Streams: []play.Stream{
			baseVideo(),
			audioStream(1, "eng", false),
			audioStream(2, "fre", false),
		}}
		got := SelectAudioStream(meta, "")
		assert.Equal(t, 1, got.Index)
		assert.Equal(t, 0, got.GroupIndex)
	})

	t.Run("matches by language", func(t *testing.T) {
		meta := play.SourceMetadata{Streams: []play.Stream{
			baseVideo(),
			audioStream(1, "eng", true),
			audioStream(2, "fre", false),
		}}
		got := SelectAudioStream(meta, "fre")
		assert.Equal(t, 2, got.Index)
		assert.Equal(t, 1, got.GroupIndex)
	})

	t.Run("unmatched language falls back to the first audio stream, not necessarily the default one", func(t *testing.T) {
		meta := play.SourceMetadata{Streams: []play.Stream{
			baseVideo(),
			audioStream(1, "fre", false),
			audioStream(2, "ger", true),
		}}
		got := SelectAudioStream(meta, "spa")
		assert.Equal(t, 1, got.Index)
		assert.Equal(t, 0, got.GroupIndex)
	})

	t.Run("absolute index form selects that stream when it matches", func(t *testing.T) {
		// the generic language match fires on the first same-language stream
		// it sees, so exercising the absolute-index clause needs the earlier
		// stream to carry a different language.
		meta := play.SourceMetadata{Streams: []play.Stream{
			baseVideo(),
			audioStream(1, "jpn", false),
			audioStream(2, "eng", false),
		}}
		got := SelectAudioStream(meta, "eng:2")
		assert.Equal(t, 2, got.Index)
		assert.Equal(t, 1, got.GroupIndex)
	})

	t.Run("absolute index form falls through when language doesn't match that stream", func(t *testing.T) {
		meta := play.SourceMetadata{Streams: []play.Stream{
			baseVideo(),
			audioStream(1, "eng", true),
			audioStream(2, "fre", false),
		}}
		got := SelectAudioStream(meta, "eng:2")
		assert.Equal(t, 1, got.Index)
	})

	t.Run("matches by title when language tag absent", func(t *testing.T) {
		meta := play.SourceMetadata{Streams: []play.Stream{
			baseVideo(),
			{Index: 1, Kind: play.StreamAudio, CodecName: "aac", Tags: play.StreamTags{Title: "Commentary"}},
		}}
		got := SelectAudioStream(meta, "Commentary")
		assert.Equal(t, 1, got.Index)
	})
}

func TestEvalCanCopyAudio(t *testing.T) {
	cap := baseCap()

	t.Run("matches", func(t *testing.T) {
		assert.True(t, evalCanCopyAudio(play.Stream{CodecName: "aac", Channels: 2}, cap))
	})

	t.Run("codec not supported", func(t *testing.T) {
		assert.False(t, evalCanCopyAudio(play.Stream{CodecName: "dts", Channels: 2}, cap))
	})

	t.Run("channel count exceeds client max", func(t *testing.T) {
		c := cap
		c.MaxAudioChannels = 2
		assert.False(t, evalCanCopyAudio(play.Stream{CodecName: "aac", Channels: 6}, c))
	})

	t.Run("channel count within client max", func(t *testing.T) {
		c := cap
		c.MaxAudioChannels = 6
		assert.True(t, evalCanCopyAudio(play.Stream{CodecName: "aac", Channels: 6}, c))
	})
}

func TestEvalCanDirectPlay(t *testing.T) {
	meta := func(audioDefault bool) play.SourceMetadata {
		return play.SourceMetadata{
			Format:  play.Format{FormatName: "mov,mp4,m4a,3gp,3g2,mj2"},
			Streams: []play.Stream{baseVideo(), audioStream(1, "eng", audioDefault)},
		}
	}

	t.Run("eligible with a uniquely default audio track", func(t *testing.T) {
		m := meta(true)
		got := evalCanDirectPlay(m, baseCap(), baseVideo(), true, true)
		assert.True(t, got)
	})

	t.Run("non-default audio requires client track switching", func(t *testing.T) {
		m := meta(false)
		got := evalCanDirectPlay(m, baseCap(), baseVideo(), true, true)
		assert.False(t, got)

		c := baseCap()
		c.ClientCanSwitchAudioTrack = true
		got = evalCanDirectPlay(m, c, baseVideo(), true, true)
		assert.True(t, got)
	})

	t.Run("container not in client's supported list", func(t *testing.T) {
		m := meta(true)
		c := baseCap()
		c.SupportedVideoContainers = []string{"webm"}
		got := evalCanDirectPlay(m, c, baseVideo(), true, true)
		assert.False(t, got)
	})

	t.Run("audio copy not possible blocks direct play", func(t *testing.T) {
		m := meta(true)
		got := evalCanDirectPlay(m, baseCap(), baseVideo(), true, false)
		assert.False(t, got)
	})

	t.Run("force transcode blocks direct play even if copy would otherwise work", func(t *testing.T) {
		m := meta(true)
		c := baseCap()
		c.ForceTranscode = true
		got := evalCanDirectPlay(m, c, baseVideo(), true, true)
		assert.False(t, got)
	})
}

func TestResolveVideoCodec(t *testing.T) {
	t.Run("copy returns the source codec even in hls mode", func(t *testing.T) {
		v := play.Stream{CodecName: "hevc"}
		c := baseCap()
		c.Format = play.FormatHLS
		assert.Equal(t, "hevc", resolveVideoCodec(v, true, c))
	})

	t.Run("transcode with no preference defaults to h264", func(t *testing.T) {
		v := play.Stream{CodecName: "hevc"}
		c := play.CapabilityDescriptor{Format: play.FormatPipe}
		assert.Equal(t, "h264", resolveVideoCodec(v, false, c))
	})

	t.Run("transcode honors client preference outside hls", func(t *testing.T) {
		v := play.Stream{CodecName: "hevc"}
		c := play.CapabilityDescriptor{Format: play.FormatPipe, TranscodeVideoCodec: "vp9"}
		assert.Equal(t, "vp9", resolveVideoCodec(v, false, c))
	})

	t.Run("hls mode forces h264 regardless of client preference when transcoding", func(t *testing.T) {
		v := play.Stream{CodecName: "hevc"}
		c := play.CapabilityDescriptor{Format: play.FormatHLS, TranscodeVideoCodec: "vp9"}
		assert.Equal(t, "h264", resolveVideoCodec(v, false, c))
	})
}

func TestResolveAudioCodec(t *testing.T) {
	t.Run("copy returns the source codec", func(t *testing.T) {
		s := play.Stream{CodecName: "flac"}
		assert.Equal(t, "flac", resolveAudioCodec(s, true, play.CapabilityDescriptor{}))
	})

	t.Run("transcode with no preference defaults to aac", func(t *testing.T) {
		s := play.Stream{CodecName: "flac"}
		assert.Equal(t, "aac", resolveAudioCodec(s, false, play.CapabilityDescriptor{}))
	})

	t.Run("transcode honors client preference", func(t *testing.T) {
		s := play.Stream{CodecName: "flac"}
		c := play.CapabilityDescriptor{TranscodeAudioCodec: "opus"}
		assert.Equal(t, "opus", resolveAudioCodec(s, false, c))
	})
}

func TestResolveOutputWidth(t *testing.T) {
	assert.Equal(t, 1920, resolveOutputWidth(1920, 0))
	assert.Equal(t, 1280, resolveOutputWidth(1920, 1280))
	assert.Equal(t, 1920, resolveOutputWidth(1920, 3840))
}

func TestResolveOutputPixelFormat(t *testing.T) {
	t.Run("10-bit with client support stays 10-bit", func(t *testing.T) {
		c := play.CapabilityDescriptor{SupportedVideoColorBitDepth: 10}
		assert.Equal(t, "yuv420p10le", resolveOutputPixelFormat("yuv420p10le", 10, c))
	})

	t.Run("10-bit without client support downconverts", func(t *testing.T) {
		c := play.CapabilityDescriptor{SupportedVideoColorBitDepth: 8}
		assert.Equal(t, "yuv420p", resolveOutputPixelFormat("yuv420p10le", 10, c))
	})

	t.Run("8-bit stays 8-bit", func(t *testing.T) {
		c := play.CapabilityDescriptor{SupportedVideoColorBitDepth: 10}
		assert.Equal(t, "yuv420p", resolveOutputPixelFormat("yuv420p", 8, c))
	})
}

func TestPlanTonemap(t *testing.T) {
	t.Run("disabled never requires tonemap", func(t *testing.T) {
		got := planTonemap(play.ColorHDR10, "yuv420p", false, 10, "hevc")
		assert.Equal(t, play.TonemapPlan{}, got)
	})

	t.Run("sdr never requires tonemap", func(t *testing.T) {
		got := planTonemap(play.ColorSDR, "yuv420p", true, 8, "h264")
		assert.Equal(t, play.TonemapPlan{}, got)
	})

	t.Run("output staying 10-bit means no tonemap needed", func(t *testing.T) {
		got := planTonemap(play.ColorHDR10, "yuv420p10le", true, 10, "hevc")
		assert.Equal(t, play.TonemapPlan{}, got)
	})

	t.Run("12-bit source is outside the planner's tonemap coverage", func(t *testing.T) {
		got := planTonemap(play.ColorHDR10, "yuv420p", true, 12, "hevc")
		assert.Equal(t, play.TonemapPlan{}, got)
	})

	t.Run("hdr10 downconvert requires tonemap without dolby vision flag", func(t *testing.T) {
		got := planTonemap(play.ColorHDR10, "yuv420p", true, 10, "hevc")
		assert.Equal(t, play.TonemapPlan{Required: true}, got)
	})

	t.Run("hlg downconvert requires tonemap without dolby vision flag", func(t *testing.T) {
		got := planTonemap(play.ColorHLG, "yuv420p", true, 10, "hevc")
		assert.Equal(t, play.TonemapPlan{Required: true}, got)
	})

	t.Run("dolby vision downconvert from hevc sets the dolby vision flag", func(t *testing.T) {
		got := planTonemap(play.ColorDOVI, "yuv420p", true, 10, "hevc")
		assert.Equal(t, play.TonemapPlan{Required: true, FromDolbyVision: true}, got)
	})

	t.Run("dolby vision downconvert from a non-hevc codec leaves the flag unset", func(t *testing.T) {
		got := planTonemap(play.ColorDOVI, "yuv420p", true, 10, "av1")
		assert.Equal(t, play.TonemapPlan{Required: true, FromDolbyVision: false}, got)
	})
}

func TestHDRFormatFor(t *testing.T) {
	assert.Equal(t, play.HDRFormatHDR10, HDRFormatFor(play.ColorHDR10))
	assert.Equal(t, play.HDRFormatHLG, HDRFormatFor(play.ColorHLG))
	assert.Equal(t, play.HDRFormatDOVI, HDRFormatFor(play.ColorDOVI))
	assert.Equal(t, play.HDRFormat(""), HDRFormatFor(play.ColorSDR))
}

func TestNegotiateDirectPlayEligible(t *testing.T) {
	meta := play.SourceMetadata{
		Format: play.Format{FormatName: "mov,mp4,m4a,3gp,3g2,mj2", BitRate: 6_000_000},
		Streams: []play.Stream{
			baseVideo(),
			audioStream(1, "eng", true),
		},
		Keyframes: []float64{0, 2, 4},
	}

	d, err := Negotiate(meta, baseCap(), Options{TonemapEnabled: true})
	require.NoError(t, err)

	assert.True(t, d.CanCopyVideo)
	assert.True(t, d.CanCopyAudio)
	assert.True(t, d.CanDirectPlay)
	assert.Equal(t, "h264", d.OutputVideoCodec)
	assert.Equal(t, "aac", d.OutputAudioCodec)
	assert.Equal(t, play.ColorSDR, d.VideoColor)
	assert.False(t, d.Tonemap.Required)
	assert.Equal(t, 1, d.Audio.Index)
}

func TestNegotiateCopyVideoOnly(t *testing.T) {
	meta := play.SourceMetadata{
		Format: play.Format{FormatName: "mov,mp4,m4a,3gp,3g2,mj2"},
		Streams: []play.Stream{
			baseVideo(),
			audioStream(1, "eng", true),
		},
		Keyframes: []float64{0, 2, 4},
	}
	cap := baseCap()
	cap.SupportedAudioCodecs = []string{"opus"} // source audio is aac, unsupported

	d, err := Negotiate(meta, cap, Options{TonemapEnabled: true})
	require.NoError(t, err)

	assert.True(t, d.CanCopyVideo)
	assert.False(t, d.CanCopyAudio)
	assert.False(t, d.CanDirectPlay)
	assert.Equal(t, "h264", d.OutputVideoCodec)
	assert.Equal(t, "aac", d.OutputAudioCodec) // transcode fallback default
}

func TestNegotiateCopyAudioOnly(t *testing.T) {
	meta := play.SourceMetadata{
		Format: play.Format{FormatName: "mov,mp4,m4a,3gp,3g2,mj2"},
		Streams: []play.Stream{
			baseVideo(),
			audioStream(1, "eng", true),
		},
	}
	cap := baseCap()
	cap.SupportedVideoCodecs = []string{"hevc"} // source video is h264, unsupported
	cap.TranscodeVideoCodec = "vp9"

	d, err := Negotiate(meta, cap, Options{TonemapEnabled: true})
	require.NoError(t, err)

	assert.False(t, d.CanCopyVideo)
	assert.True(t, d.CanCopyAudio)
	assert.False(t, d.CanDirectPlay)
	// hls mode forces h264 on the transcode path regardless of client preference
	assert.Equal(t, "h264", d.OutputVideoCodec)
	assert.Equal(t, "aac", d.OutputAudioCodec)
}

func TestNegotiateWithoutKeyframesForcesTranscode(t *testing.T) {
	// Otherwise copy-eligible source, but the probe produced no keyframe
	// list (e.g. a non-Matroska container) — can_copy_video must be false
	// since the HLS Planner can't build a keyframe-aligned copy-mode plan,
	// even though can_direct_play ignores this clause and still succeeds.
	meta := play.SourceMetadata{
		Format: play.Format{FormatName: "mov,mp4,m4a,3gp,3g2,mj2", BitRate: 6_000_000},
		Streams: []play.Stream{
			baseVideo(),
			audioStream(1, "eng", true),
		},
	}

	d, err := Negotiate(meta, baseCap(), Options{TonemapEnabled: true})
	require.NoError(t, err)

	assert.False(t, d.CanCopyVideo)
	assert.True(t, d.CanDirectPlay)
}

func TestNegotiateForceTranscode(t *testing.T) {
	meta := play.SourceMetadata{
		Format: play.Format{FormatName: "mov,mp4,m4a,3gp,3g2,mj2"},
		Streams: []play.Stream{
			baseVideo(),
			audioStream(1, "eng", true),
		},
	}
	cap := baseCap()
	cap.ForceTranscode = true

	d, err := Negotiate(meta, cap, Options{TonemapEnabled: true})
	require.NoError(t, err)

	assert.False(t, d.CanCopyVideo)
	assert.False(t, d.CanDirectPlay)
}

func TestNegotiateHDRTonemapRequired(t *testing.T) {
	meta := play.SourceMetadata{
		Format: play.Format{FormatName: "mov,mp4,m4a,3gp,3g2,mj2"},
		Streams: []play.Stream{
			{
				Index: 0, Kind: play.StreamVideo,
				CodecName: "hevc", PixFmt: "yuv420p10le",
				ColorTransfer: "smpte2084", ColorPrimaries: "bt2020",
				Width: 1920, Height: 1080, BitRate: 8_000_000,
			},
			audioStream(1, "eng", true),
		},
	}
	cap := baseCap()
	cap.SupportedVideoCodecs = []string{"hevc"}
	cap.SupportedVideoColorBitDepth = 8 // client can't take 10-bit, forcing a downconvert

	d, err := Negotiate(meta, cap, Options{TonemapEnabled: true})
	require.NoError(t, err)

	assert.False(t, d.CanCopyVideo)
	assert.Equal(t, play.ColorHDR10, d.VideoColor)
	assert.Equal(t, "yuv420p", d.OutputPixelFormat)
	assert.True(t, d.Tonemap.Required)
	assert.False(t, d.Tonemap.FromDolbyVision)
}

func TestNegotiateNoVideoStreamErrors(t *testing.T) {
	meta := play.SourceMetadata{Streams: []play.Stream{audioStream(0, "eng", true)}}
	_, err := Negotiate(meta, baseCap(), Options{})
	assert.ErrorIs(t, err, play.ErrNoVideoStream)
}
