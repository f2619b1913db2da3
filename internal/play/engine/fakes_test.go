package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/mantonx/playserver/internal/play"
)

// fakeResolver is a stub catalog.Resolver backed by a fixed source list, so
// engine tests never need a real catalog-store collaborator.
type fakeResolver struct {
	sources []play.SourceMetadata
	err     error
}

func (f *fakeResolver) Sources(ctx context.Context, id play.PlayID) ([]play.SourceMetadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sources, nil
}

// fakeTranscoder is a stub ffmpeg.Transcoder recording launch/stop calls
// instead of spawning a real ffmpeg process.
type fakeTranscoder struct {
	mu        sync.Mutex
	launched  map[string][]string
	launches  int
	stopped   []string
	launchErr error
}

func newFakeTranscoder() *fakeTranscoder {
	return &fakeTranscoder{launched: make(map[string][]string)}
}

func (f *fakeTranscoder) Launch(ctx context.Context, session string, args []string) error {
	if f.launchErr != nil {
		return f.launchErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launched[session] = args
	f.launches++
	return nil
}

func (f *fakeTranscoder) Stop(session string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, session)
	delete(f.launched, session)
	return nil
}

func (f *fakeTranscoder) Running(session string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.launched[session]
	return ok
}

// launchCount is the number of successful Launch calls, relaunches of an
// already-launched session id included.
func (f *fakeTranscoder) launchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches
}

// liveCount is the number of session ids with a launched, not yet stopped
// encoder.
func (f *fakeTranscoder) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.launched)
}

func (f *fakeTranscoder) wasStopped(session string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.stopped {
		if s == session {
			return true
		}
	}
	return false
}

var errResolverUnavailable = errors.New("resolver unavailable")

func sampleSource() play.SourceMetadata {
	return play.SourceMetadata{
		Format: play.Format{FormatName: "mov,mp4", Duration: 120, Filename: "/media/movie.mp4"},
		Streams: []play.Stream{
			{Index: 0, Kind: play.StreamVideo, CodecName: "h264", PixFmt: "yuv420p", Width: 1920, Height: 1080, BitRate: 5_000_000},
			{Index: 1, Kind: play.StreamAudio, CodecName: "aac", Channels: 2, Tags: play.StreamTags{Language: "eng", Default: true}},
		},
		Keyframes: []float64{0, 6, 12, 18, 24},
	}
}

func baseCapability() play.CapabilityDescriptor {
	return play.CapabilityDescriptor{
		Format:                   play.FormatHLS,
		SupportedVideoCodecs:     []string{"h264"},
		SupportedAudioCodecs:     []string{"aac"},
		SupportedVideoContainers: []string{"mp4"},
	}
}
