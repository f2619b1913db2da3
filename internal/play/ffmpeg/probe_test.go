package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mantonx/playserver/internal/play"
)

func TestConvertProbeOutputFormat(t *testing.T) {
	out := probeOutput{
		Format: probeFormat{
			FormatName: "mov,mp4,m4a,3gp,3g2,mj2",
			Duration:   "120.5",
			BitRate:    "5000000",
			Filename:   "/media/movie.mp4",
			Size:       "750000000",
		},
	}
	meta := convertProbeOutput(out)

	assert.Equal(t, "mov,mp4,m4a,3gp,3g2,mj2", meta.Format.FormatName)
	assert.Equal(t, 120.5, meta.Format.Duration)
	assert.Equal(t, int64(5000000), meta.Format.BitRate)
	assert.Equal(t, "/media/movie.mp4", meta.Format.Filename)
	assert.Equal(t, int64(750000000), meta.Format.Size)
}

func TestConvertProbeOutputVideoStream(t *testing.T) {
	out := probeOutput{Streams: []probeStream{
		{
			Index: 0, CodecType: "video", CodecName: "h264", CodecTagString: "avc1",
			Profile: "High", Level: 40, PixFmt: "yuv420p", Width: 1920, Height: 1080,
			ColorSpace: "bt709", ColorTransfer: "bt709", ColorPrimaries: "bt709",
			BitRate: "5000000", RFrameRate: "30000/1001",
			Disposition: map[string]int{"default": 1},
		},
	}}
	meta := convertProbeOutput(out)

	require := assert.New(t)
	require.Len(meta.Streams, 1)
	v := meta.Streams[0]
	require.Equal(play.StreamVideo, v.Kind)
	require.Equal("h264", v.CodecName)
	require.Equal("avc1", v.CodecTag)
	require.Equal(1920, v.Width)
	require.Equal(1080, v.Height)
	require.Equal(int64(5000000), v.BitRate)
	require.True(v.Tags.Default)
	require.False(v.Tags.Forced)
}

func TestConvertProbeOutputAudioStreamTagsAndDisposition(t *testing.T) {
	out := probeOutput{Streams: []probeStream{
		{
			Index: 1, CodecType: "audio", CodecName: "aac", Channels: 2, SampleRate: "48000",
			Tags:        map[string]string{"language": "eng", "title": "Stereo"},
			Disposition: map[string]int{"forced": 1},
		},
	}}
	meta := convertProbeOutput(out)

	assert.Len(t, meta.Streams, 1)
	a := meta.Streams[0]
	assert.Equal(t, play.StreamAudio, a.Kind)
	assert.Equal(t, "eng", a.Tags.Language)
	assert.Equal(t, "Stereo", a.Tags.Title)
	assert.False(t, a.Tags.Default)
	assert.True(t, a.Tags.Forced)
	assert.Equal(t, 2, a.Channels)
	assert.Equal(t, 48000, a.SampleRate)
}

func TestConvertProbeOutputSkipsUnknownCodecType(t *testing.T) {
	out := probeOutput{Streams: []probeStream{
		{Index: 2, CodecType: "data"},
		{Index: 0, CodecType: "video", CodecName: "h264"},
	}}
	meta := convertProbeOutput(out)
	assert.Len(t, meta.Streams, 1)
	assert.Equal(t, "h264", meta.Streams[0].CodecName)
}

func TestConvertProbeOutputDolbyVisionSideData(t *testing.T) {
	out := probeOutput{Streams: []probeStream{
		{
			Index: 0, CodecType: "video", CodecName: "hevc",
			SideDataList: []probeSideData{
				{SideDataType: "Something else"},
				{SideDataType: "DOVI configuration record", DVProfile: 8, BLCompatID: 1},
			},
		},
	}}
	meta := convertProbeOutput(out)
	require := assert.New(t)
	require.NotNil(meta.Streams[0].DolbyVision)
	require.Equal(8, meta.Streams[0].DolbyVision.Profile)
	require.Equal(1, meta.Streams[0].DolbyVision.BLCompatID)
}

func TestConvertProbeOutputSubtitleStreamIsKept(t *testing.T) {
	out := probeOutput{Streams: []probeStream{{Index: 2, CodecType: "subtitle", CodecName: "subrip"}}}
	meta := convertProbeOutput(out)
	require := assert.New(t)
	require.Len(meta.Streams, 1)
	require.Equal(play.StreamSubtitle, meta.Streams[0].Kind)
}

func TestNumericHelpersToleratesEmptyOrInvalid(t *testing.T) {
	assert.Equal(t, 0.0, atof(""))
	assert.Equal(t, 0.0, atof("not-a-number"))
	assert.Equal(t, 12.5, atof("12.5"))

	assert.Equal(t, 0, atoi(""))
	assert.Equal(t, 48000, atoi("48000"))

	assert.Equal(t, int64(0), atoi64("N/A"))
	assert.Equal(t, int64(5000000), atoi64("5000000"))
}

func TestNewProberDefaultsPath(t *testing.T) {
	p := NewProber("")
	assert.Equal(t, "ffprobe", p.FFprobePath)

	p2 := NewProber("/usr/local/bin/ffprobe")
	assert.Equal(t, "/usr/local/bin/ffprobe", p2.FFprobePath)
}
