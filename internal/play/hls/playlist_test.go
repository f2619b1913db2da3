package hls

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mantonx/playserver/internal/play"
)

func TestMediaPlaylist(t *testing.T) {
	plan := play.SegmentPlan{Durations: []float64{6, 6, 5.8}, TargetDuration: CopySegmentTarget}
	body := MediaPlaylist(plan, "session=abc123de")

	assert.Contains(t, body, "#EXTM3U\n")
	assert.Contains(t, body, "#EXT-X-TARGETDURATION:6\n")
	assert.Contains(t, body, `#EXT-X-MAP:URI="/hls/init.mp4?session=abc123de"`)
	assert.Contains(t, body, "#EXTINF:6,\n/hls/media0.m4s?session=abc123de\n")
	assert.Contains(t, body, "#EXTINF:5.8,\n/hls/media2.m4s?session=abc123de\n")
	assert.Contains(t, body, "#EXT-X-ENDLIST\n")
}

func TestMainPlaylistVideoRange(t *testing.T) {
	cases := []struct {
		name      string
		copyVideo bool
		color     play.VideoColor
		want      string
	}{
		{"transcoded output is always SDR", false, play.ColorHDR10, "SDR"},
		{"copied HDR10 stays PQ", true, play.ColorHDR10, "PQ"},
		{"copied HLG stays HLG", true, play.ColorHLG, "HLG"},
		{"copied Dolby Vision maps to PQ", true, play.ColorDOVI, "PQ"},
		{"copied SDR stays SDR", true, play.ColorSDR, "SDR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := MainPlaylist(VariantInfo{
				Bitrate:    4_000_000,
				VideoColor: tc.color,
				CopyVideo:  tc.copyVideo,
				VideoCodec: "h264",
				AudioCodec: "aac",
			})
			assert.Contains(t, body, "VIDEO-RANGE="+tc.want+",")
		})
	}
}

func TestCodecsString(t *testing.T) {
	t.Run("h264 + aac", func(t *testing.T) {
		got := CodecsString(VariantInfo{VideoCodec: "h264", AudioCodec: "aac"})
		assert.Equal(t, "avc1.64001F,mp4a.40.2", got)
	})

	t.Run("he-aac", func(t *testing.T) {
		got := CodecsString(VariantInfo{VideoCodec: "h264", AudioCodec: "aac", AudioHE: true})
		assert.Equal(t, "avc1.64001F,mp4a.40.5", got)
	})

	t.Run("10-bit hevc", func(t *testing.T) {
		got := CodecsString(VariantInfo{VideoCodec: "hevc", AudioCodec: "eac3", Bit10: true, VideoLevel: 120})
		assert.Equal(t, "hvc1.2.4.L120.B0,mp4a.a6", got)
	})

	t.Run("audio-only omits the video codec", func(t *testing.T) {
		got := CodecsString(VariantInfo{AudioCodec: "flac"})
		assert.Equal(t, "fLaC", got)
	})

	t.Run("video-only omits the audio codec", func(t *testing.T) {
		got := CodecsString(VariantInfo{VideoCodec: "vp9"})
		assert.Equal(t, "vp09.00.10.08", got)
	})
}

func TestPreserveQueryRoundTrips(t *testing.T) {
	v := map[string][]string{
		"session": {"abc123de"},
		"supported_video_codecs": {"h264", "hevc"},
	}
	encoded := PreserveQuery(v)
	assert.Contains(t, encoded, "session=abc123de")
	assert.Contains(t, encoded, "supported_video_codecs=h264")
}

func TestRoundTargetDuration(t *testing.T) {
	assert.Equal(t, 6, RoundTargetDuration(6.4))
	assert.Equal(t, 7, RoundTargetDuration(6.5))
}
