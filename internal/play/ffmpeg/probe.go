package ffmpeg

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mantonx/playserver/internal/play"
)

// Prober wraps ffprobe invocations: container/stream metadata and the
// keyframe timestamp list used to build copy-mode segment plans.
type Prober struct {
	FFprobePath string
}

// NewProber returns a Prober, defaulting to "ffprobe" on $PATH.
func NewProber(path string) *Prober {
	if path == "" {
		path = "ffprobe"
	}
	return &Prober{FFprobePath: path}
}

type probeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
	Filename   string `json:"filename"`
	Size       string `json:"size"`
}

type probeSideData struct {
	SideDataType string `json:"side_data_type"`
	DVProfile    int    `json:"dv_profile"`
	BLCompatID   int    `json:"bl_signal_compatibility_id"`
}

type probeStream struct {
	Index          int             `json:"index"`
	CodecType      string          `json:"codec_type"`
	CodecName      string          `json:"codec_name"`
	CodecTagString string          `json:"codec_tag_string"`
	Profile        string          `json:"profile"`
	Level          int             `json:"level"`
	PixFmt         string          `json:"pix_fmt"`
	Width          int             `json:"width"`
	Height         int             `json:"height"`
	ColorSpace     string          `json:"color_space"`
	ColorTransfer  string          `json:"color_transfer"`
	ColorPrimaries string          `json:"color_primaries"`
	BitRate        string          `json:"bit_rate"`
	Channels       int             `json:"channels"`
	SampleRate     string          `json:"sample_rate"`
	RFrameRate     string          `json:"r_frame_rate"`
	Disposition    map[string]int  `json:"disposition"`
	Tags           map[string]string `json:"tags"`
	SideDataList   []probeSideData `json:"side_data_list"`
}

type probeOutput struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

// Probe runs ffprobe -show_format -show_streams -show_entries
// stream_side_data and returns the parsed SourceMetadata. It does not
// populate Keyframes; call ProbeKeyframes separately since that scan is
// much more expensive (it decodes the whole file's packet index).
func (p *Prober) Probe(ctx context.Context, path string) (play.SourceMetadata, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-show_entries", "stream_side_data",
		path,
	}
	cmd := exec.CommandContext(ctx, p.FFprobePath, args...)
	out, err := cmd.Output()
	if err != nil {
		return play.SourceMetadata{}, fmt.Errorf("ffprobe: %w", err)
	}

	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return play.SourceMetadata{}, fmt.Errorf("ffprobe: parse output: %w", err)
	}

	return convertProbeOutput(parsed), nil
}

func convertProbeOutput(p probeOutput) play.SourceMetadata {
	meta := play.SourceMetadata{
		Format: play.Format{
			FormatName: p.Format.FormatName,
			Duration:   atof(p.Format.Duration),
			BitRate:    atoi64(p.Format.BitRate),
			Filename:   p.Format.Filename,
			Size:       atoi64(p.Format.Size),
		},
	}

	for _, s := range p.Streams {
		stream := play.Stream{
			Index:          s.Index,
			CodecName:      s.CodecName,
			CodecTag:       s.CodecTagString,
			Profile:        s.Profile,
			Level:          s.Level,
			PixFmt:         s.PixFmt,
			Width:          s.Width,
			Height:         s.Height,
			ColorSpace:     s.ColorSpace,
			ColorTransfer:  s.ColorTransfer,
			ColorPrimaries: s.ColorPrimaries,
			BitRate:        atoi64(s.BitRate),
			Channels:       s.Channels,
			SampleRate:     atoi(s.SampleRate),
			RFrameRate:     s.RFrameRate,
		}

		switch s.CodecType {
		case "video":
			stream.Kind = play.StreamVideo
		case "audio":
			stream.Kind = play.StreamAudio
		case "subtitle":
			stream.Kind = play.StreamSubtitle
		default:
			continue
		}

		if s.Tags != nil {
			stream.Tags = play.StreamTags{
				Language: s.Tags["language"],
				Title:    s.Tags["title"],
			}
		}
		stream.Tags.Default = s.Disposition["default"] == 1
		stream.Tags.Forced = s.Disposition["forced"] == 1

		for _, sd := range s.SideDataList {
			if sd.SideDataType == "DOVI configuration record" {
				stream.DolbyVision = &play.DolbyVisionSideData{
					Profile:    sd.DVProfile,
					BLCompatID: sd.BLCompatID,
				}
			}
		}

		meta.Streams = append(meta.Streams, stream)
	}

	return meta
}

// ProbeKeyframes runs ffprobe's packet scan restricted to the video stream's
// keyframe (flags=K) packets and returns their presentation timestamps in
// ascending order. This is a full-file scan and is only needed for
// copy-mode sessions; transcode-mode sessions never call it.
func (p *Prober) ProbeKeyframes(ctx context.Context, path string) ([]float64, error) {
	cmd := exec.CommandContext(ctx, p.FFprobePath,
		"-v", "quiet",
		"-select_streams", "v:0",
		"-skip_frame", "nokey",
		"-show_entries", "packet=pts_time,flags",
		"-of", "csv=print_section=0",
		path,
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffprobe keyframes: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffprobe keyframes: %w", err)
	}

	var keyframes []float64
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 2 || !strings.HasPrefix(fields[1], "K") {
			continue
		}
		if t, err := strconv.ParseFloat(fields[0], 64); err == nil {
			keyframes = append(keyframes, t)
		}
	}

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("ffprobe keyframes: %w", err)
	}
	return keyframes, nil
}

// ProbeTimeout bounds how long a probe invocation may run before the caller
// should give up and surface a failure to the client.
const ProbeTimeout = 30 * time.Second

func atof(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
