// Package hardware detects available hardware-accelerated encoders and basic
// host capacity so the Encoder Controller can decide whether to launch a
// software or hardware encode.
package hardware

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// AccelKind is the hardware acceleration family this host supports, in the
// same vocabulary the Encoder Controller's argument builder switches on.
type AccelKind string

const (
	AccelNone   AccelKind = "none"
	AccelVAAPI  AccelKind = "vaapi"
	AccelQSV    AccelKind = "qsv"
	AccelNVENC  AccelKind = "nvenc"
)

// Info is a snapshot of host capability.
type Info struct {
	Accel        AccelKind
	AccelDevice  string // e.g. "/dev/dri/renderD128"
	NumCPU       int
	CPUPercent   float64
	MemPercent   float64
	DetectedAt   time.Time
}

// Detector caches hardware detection results; probing ffmpeg's encoder list
// and the GPU device nodes on every request would add latency to every
// session start for information that essentially never changes at runtime.
type Detector struct {
	mu         sync.Mutex
	cached     *Info
	ttl        time.Duration
	ffmpegPath string
}

// New returns a Detector that re-probes at most once per ttl.
func New(ffmpegPath string, ttl time.Duration) *Detector {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Detector{ttl: ttl, ffmpegPath: ffmpegPath}
}

// Detect returns the current hardware info, using the cache when fresh.
func (d *Detector) Detect(ctx context.Context) Info {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cached != nil && time.Since(d.cached.DetectedAt) < d.ttl {
		return *d.cached
	}

	info := Info{Accel: AccelNone, NumCPU: cpuCount(), DetectedAt: time.Now()}

	if percents, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false); err == nil && len(percents) > 0 {
		info.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemPercent = vm.UsedPercent
	}

	switch {
	case d.hasVAAPIDevice():
		info.Accel = AccelVAAPI
		info.AccelDevice = "/dev/dri/renderD128"
	case d.hasNVENC(ctx):
		info.Accel = AccelNVENC
	case d.hasQSV(ctx):
		info.Accel = AccelQSV
		info.AccelDevice = "/dev/dri/renderD128"
	}

	d.cached = &info
	return info
}

func cpuCount() int {
	n, err := cpu.Counts(true)
	if err != nil || n == 0 {
		return 1
	}
	return n
}

func (d *Detector) hasVAAPIDevice() bool {
	cmd := exec.Command("ls", "/dev/dri/renderD128")
	return cmd.Run() == nil
}

func (d *Detector) hasNVENC(ctx context.Context) bool {
	cmd := exec.Command("nvidia-smi", "--query-gpu=name", "--format=csv,noheader")
	if cmd.Run() != nil {
		return false
	}
	return d.encoderAvailable(ctx, "h264_nvenc")
}

func (d *Detector) hasQSV(ctx context.Context) bool {
	if !d.hasVAAPIDevice() {
		return false
	}
	return d.encoderAvailable(ctx, "h264_qsv")
}

func (d *Detector) encoderAvailable(ctx context.Context, encoder string) bool {
	path := d.ffmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, path, "-hide_banner", "-encoders")
	out, err := cmd.Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), encoder)
}
