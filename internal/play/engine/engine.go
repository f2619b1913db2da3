// Package engine wires the Session Registry, Capability Negotiator, HLS
// Planner, Encoder Controller, and the catalog/history collaborators into
// the single service internal/server's handlers call into. None of the
// component packages (session, negotiate, hls, ffmpeg, catalog, history)
// import each other for this purpose — engine is where they meet, so none
// of them have to know about the others.
package engine

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mantonx/playserver/internal/logger"
	"github.com/mantonx/playserver/internal/play"
	"github.com/mantonx/playserver/internal/play/catalog"
	"github.com/mantonx/playserver/internal/play/ffmpeg"
	"github.com/mantonx/playserver/internal/play/ffmpeg/hardware"
	"github.com/mantonx/playserver/internal/play/hls"
	"github.com/mantonx/playserver/internal/play/history"
	"github.com/mantonx/playserver/internal/play/negotiate"
	"github.com/mantonx/playserver/internal/play/session"
)

// Config carries the play-server-tunable knobs an Engine needs, narrowed
// from config.PlayConfig so this package doesn't import internal/config
// (which would make every config test drag the whole play domain in).
type Config struct {
	ScratchRoot     string
	FFmpegPath      string
	FFprobePath     string
	SessionTimeout  time.Duration
	HWAccelEnabled  bool
	HWAccelCacheTTL time.Duration
	TonemapEnabled  bool
}

// Engine is the play server's core service.
type Engine struct {
	cfg Config

	resolver   catalog.Resolver
	prober     *ffmpeg.Prober
	transcoder ffmpeg.Transcoder
	hwDetector *hardware.Detector
	registry   *session.Registry
	history    *history.Store
}

// New wires an Engine. history may be nil (history recording becomes a
// no-op) for deployments that don't care about session history persistence.
func New(cfg Config, resolver catalog.Resolver, transcoder ffmpeg.Transcoder, store *history.Store) *Engine {
	e := &Engine{
		cfg:        cfg,
		resolver:   resolver,
		prober:     ffmpeg.NewProber(cfg.FFprobePath),
		transcoder: transcoder,
		hwDetector: hardware.New(cfg.FFmpegPath, cfg.HWAccelCacheTTL),
		history:    store,
	}
	e.registry = session.New(cfg.SessionTimeout, e.teardown)
	return e
}

func (e *Engine) teardown(s *play.Session) {
	_ = e.transcoder.Stop(s.ID)
	if e.history != nil {
		if err := e.history.RecordClose(s.ID, "closed"); err != nil {
			logger.Warn("[%s] history: record close: %v", s.ID, err)
		}
	}
}

// Shutdown tears down every live session, for graceful process exit.
func (e *Engine) Shutdown() {
	e.registry.Shutdown()
}

// Registry exposes the session registry for the cleanup sweep's LiveIDs
// callback and the operator-facing /sessions endpoint.
func (e *Engine) Registry() *session.Registry { return e.registry }

// History exposes the history store (nil if none configured) for the
// /sessions endpoint.
func (e *Engine) History() *history.Store { return e.history }

// ResolvePlayID decodes a play_id token. Signature verification is the
// excluded auth-token-decoder collaborator's job (catalog.DecodeInsecure
// documents this); the engine only ever sees the decoded shape.
func (e *Engine) ResolvePlayID(token string) (play.PlayID, error) {
	return catalog.DecodeInsecure(token)
}

// SourceInfo is one entry of the /sources listing.
type SourceInfo struct {
	Index      int
	Width      int
	Height     int
	VideoCodec string
	AudioCodec string
	Duration   float64
}

// ListSources resolves every known source variant for id.
func (e *Engine) ListSources(ctx context.Context, id play.PlayID) ([]SourceInfo, error) {
	sources, err := e.resolver.Sources(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]SourceInfo, 0, len(sources))
	for i, src := range sources {
		info := SourceInfo{Index: i, Duration: src.Format.Duration}
		if v, err := src.VideoStream(); err == nil {
			info.Width, info.Height, info.VideoCodec = v.Width, v.Height, v.CodecName
		}
		for _, s := range src.Streams {
			if s.Kind == play.StreamAudio {
				info.AudioCodec = s.CodecName
				break
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// sourceMetadata resolves the source and, when it carries no keyframe list
// but has a filename, probes its keyframes (a full packet-index scan). The
// probe runs on every such call; a failed probe is logged and the metadata
// is returned without keyframes.
func (e *Engine) sourceMetadata(ctx context.Context, id play.PlayID, index int) (play.SourceMetadata, error) {
	meta, err := catalog.Source(ctx, e.resolver, id, index)
	if err != nil {
		return play.SourceMetadata{}, err
	}
	if !meta.HasKeyframes() && meta.Format.Filename != "" {
		if kfs, err := e.prober.ProbeKeyframes(ctx, meta.Format.Filename); err == nil {
			meta.Keyframes = kfs
		} else {
			logger.Debug("engine: keyframe probe failed for %s: %v", meta.Format.Filename, err)
		}
	}
	return meta, nil
}

// NegotiationResult is the outcome of /request-media.
type NegotiationResult struct {
	Decision       play.Decision
	DirectPlayURL  string
	HLSURL         string
	CanDirectPlay  bool
}

// RequestMedia runs the full negotiation for one capability descriptor and
// resolves the URLs the client should use next.
func (e *Engine) RequestMedia(ctx context.Context, id play.PlayID, cap play.CapabilityDescriptor) (NegotiationResult, error) {
	if cap.Session == "" {
		cap.Session = session.NewID()
	}

	meta, err := e.sourceMetadata(ctx, id, cap.SourceIndex)
	if err != nil {
		return NegotiationResult{}, err
	}

	decision, err := negotiate.Negotiate(meta, cap, negotiate.Options{TonemapEnabled: e.cfg.TonemapEnabled})
	if err != nil {
		return NegotiationResult{}, err
	}

	query := capabilityQuery(cap)
	return NegotiationResult{
		Decision:      decision,
		DirectPlayURL: "/source?" + query,
		HLSURL:        "/hls/main.m3u8?" + query,
		CanDirectPlay: decision.CanDirectPlay,
	}, nil
}

// SourceFilePath resolves the on-disk path /source should stream for a
// direct-play or copy request.
func (e *Engine) SourceFilePath(ctx context.Context, id play.PlayID, index int) (string, error) {
	meta, err := catalog.Source(ctx, e.resolver, id, index)
	if err != nil {
		return "", err
	}
	if meta.Format.Filename == "" {
		return "", play.ErrNoMetadata
	}
	return meta.Format.Filename, nil
}

// scratchDir is the per-session directory path under the scratch root.
func (e *Engine) scratchDir(sessionID string) string {
	return filepath.Join(e.cfg.ScratchRoot, sessionID)
}

// buildSession builds the segment plan, decision and metadata for a fresh
// session at the given start segment/time, without touching the registry or
// launching an encoder — the caller (cold-start or reseek path) decides
// when to actually register.
func (e *Engine) buildSession(ctx context.Context, id play.PlayID, sessionID string, cap play.CapabilityDescriptor, startSegment int) (*play.Session, error) {
	meta, err := e.sourceMetadata(ctx, id, cap.SourceIndex)
	if err != nil {
		return nil, err
	}
	decision, err := negotiate.Negotiate(meta, cap, negotiate.Options{TonemapEnabled: e.cfg.TonemapEnabled})
	if err != nil {
		return nil, err
	}
	plan := hls.BuildPlan(meta.Format.Duration, meta.Keyframes, decision.CanCopyVideo)

	return &play.Session{
		ID:           sessionID,
		ScratchDir:   e.scratchDir(sessionID),
		Plan:         plan,
		StartSegment: startSegment,
		Decision:     decision,
		Metadata:     meta,
		Capability:   cap,
		CreatedAt:    time.Now(),
	}, nil
}

// launch builds the ffmpeg argument vector for s (starting at s.StartSegment)
// and hands it to the transcoder, then registers s with the registry so
// concurrent requests see it immediately.
func (e *Engine) launch(ctx context.Context, s *play.Session) error {
	video, _ := s.Metadata.VideoStream()
	audio := s.Decision.Audio

	hw := hardware.AccelNone
	var hwDevice string
	if e.cfg.HWAccelEnabled && !s.Decision.CanCopyVideo {
		info := e.hwDetector.Detect(ctx)
		hw = info.Accel
		hwDevice = info.AccelDevice
	}

	params := ffmpeg.BuildParams{
		InputPath:        s.Metadata.Format.Filename,
		StartTime:        hls.StartTimeFromSegment(s.Plan, s.StartSegment),
		HWAccel:          ffmpeg.NewHWAccelKind(string(hw)),
		HWAccelDevice:    hwDevice,
		Decision:         s.Decision,
		Video:            video,
		AudioStreamIndex: audio.Index,
		SegmentTime:      hls.SegmentTime(s.Decision.CanCopyVideo),
		StartSegment:     s.StartSegment,
		OutputPath:       filepath.Join(s.ScratchDir, "media.m3u8"),
	}
	if audio.Index >= 0 && audio.Index < len(s.Metadata.Streams) {
		params.AudioStream = s.Metadata.Streams[audio.Index]
	}
	if s.Capability.MaxAudioChannels > 0 {
		params.RequestedAudioChannels = s.Capability.MaxAudioChannels
	}

	args := ffmpeg.BuildArgs(params)
	if err := e.transcoder.Launch(ctx, s.ID, args); err != nil {
		return fmt.Errorf("%w: %v", play.ErrEncoderLaunchFailure, err)
	}

	e.registry.Register(s)
	if e.history != nil {
		playID := s.Capability.PlayID
		if err := e.history.RecordStart(s, playID); err != nil {
			logger.Warn("[%s] history: record start: %v", s.ID, err)
		}
	}
	return nil
}

// StartupTimeout bounds how long the first segment/playlist request for a
// freshly launched encoder may wait before the caller gives up.
const StartupTimeout = 60 * time.Second

// StartupTimeoutDebug is the shortened startup wait used in debug mode.
const StartupTimeoutDebug = 20 * time.Second

// EnsureSession returns the live session for sessionID, cold-starting one at
// startSegment if none exists yet. Concurrent cold starts for the same id
// collapse via the registry's singleflight group.
func (e *Engine) EnsureSession(ctx context.Context, id play.PlayID, sessionID string, cap play.CapabilityDescriptor, startSegment int) (*play.Session, error) {
	return e.registry.Ensure(ctx, sessionID, func(ctx context.Context) (*play.Session, error) {
		s, err := e.buildSession(ctx, id, sessionID, cap, startSegment)
		if err != nil {
			return nil, err
		}
		if err := e.launch(ctx, s); err != nil {
			return nil, err
		}
		return s, nil
	})
}

// Restart relaunches the encoder for an existing session at a new start
// segment, superseding the old process under the same session id. This is
// the re-seek path.
func (e *Engine) Restart(ctx context.Context, id play.PlayID, sessionID string, cap play.CapabilityDescriptor, startSegment int) (*play.Session, error) {
	s, err := e.buildSession(ctx, id, sessionID, cap, startSegment)
	if err != nil {
		return nil, err
	}
	if err := e.launch(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// MediaPlaylist renders the media playlist for a session's plan.
func (e *Engine) MediaPlaylist(s *play.Session, queryParams string) string {
	return hls.MediaPlaylist(s.Plan, queryParams)
}

// MainPlaylist renders the master playlist for a negotiated decision.
func (e *Engine) MainPlaylist(decision play.Decision, bitrate int64, queryParams string) string {
	return hls.MainPlaylist(hls.VariantInfo{
		Bitrate:     bitrate,
		VideoColor:  decision.VideoColor,
		CopyVideo:   decision.CanCopyVideo,
		VideoCodec:  decision.OutputVideoCodec,
		Bit10:       decision.OutputPixelFormat == "yuv420p10le",
		AudioCodec:  decision.OutputAudioCodec,
		QueryParams: queryParams,
	})
}

// InitSegmentPath is the on-disk path of a session's fMP4 init segment.
func (e *Engine) InitSegmentPath(s *play.Session) string {
	return hls.InitSegmentPath(s.ScratchDir)
}

// ServeSegment resolves the on-disk path for segment n of sessionID,
// launching or restarting the encoder and waiting for readiness as needed,
// applying the re-seek policy when the request falls outside the currently
// produced range.
func (e *Engine) ServeSegment(ctx context.Context, id play.PlayID, sessionID string, cap play.CapabilityDescriptor, n int) (string, error) {
	s, err := e.registry.Get(sessionID)
	if err != nil {
		s, err = e.EnsureSession(ctx, id, sessionID, cap, n)
		if err != nil {
			return "", err
		}
		if !hls.WaitForSegment(ctx, s.ScratchDir, n) {
			return "", play.ErrSegmentWaitTimeout
		}
		return hls.SegmentPath(s.ScratchDir, n), nil
	}

	first, last := hls.FirstLastTranscodedSegment(s.ScratchDir)
	if n >= first && n <= last {
		return hls.SegmentPath(s.ScratchDir, n), nil
	}

	if !hls.NeedsReseek(first, last, n) {
		if !hls.WaitForSegment(ctx, s.ScratchDir, n) {
			return "", play.ErrSegmentWaitTimeout
		}
		return hls.SegmentPath(s.ScratchDir, n), nil
	}

	s, err = e.Restart(ctx, id, sessionID, cap, n)
	if err != nil {
		return "", err
	}
	if !hls.WaitForSegment(ctx, s.ScratchDir, n) {
		return "", play.ErrSegmentWaitTimeout
	}
	return hls.SegmentPath(s.ScratchDir, n), nil
}

// KeepAlive extends a session's idle-eviction deadline.
func (e *Engine) KeepAlive(sessionID string) error {
	return e.registry.Touch(sessionID)
}

// CloseSession forces a session's teardown.
func (e *Engine) CloseSession(sessionID string) error {
	return e.registry.Close(sessionID)
}

// SessionSummary is one entry of the operator-facing /sessions listing.
type SessionSummary struct {
	ID        string
	Live      bool
	StartedAt time.Time
	VideoCodec string
	AudioCodec string
}

// ListSessions merges the in-memory live set with recent history-backed
// rows, the registry always taking precedence for liveness.
func (e *Engine) ListSessions() []SessionSummary {
	live := e.registry.List()
	out := make([]SessionSummary, 0, len(live))
	seen := make(map[string]bool, len(live))
	for _, s := range live {
		seen[s.ID] = true
		out = append(out, SessionSummary{
			ID:         s.ID,
			Live:       true,
			StartedAt:  s.CreatedAt,
			VideoCodec: s.Decision.OutputVideoCodec,
			AudioCodec: s.Decision.OutputAudioCodec,
		})
	}
	if e.history == nil {
		return out
	}
	records, err := e.history.List(history.ListFilter{Limit: 50})
	if err != nil {
		logger.Warn("engine: list session history: %v", err)
		return out
	}
	for _, r := range records {
		if seen[r.ID] {
			continue
		}
		out = append(out, SessionSummary{
			ID:         r.ID,
			Live:       false,
			StartedAt:  r.StartedAt,
			VideoCodec: r.VideoCodec,
			AudioCodec: r.AudioCodec,
		})
	}
	return out
}

// capabilityQuery re-encodes a capability descriptor back into a query
// string so every URL this server hands back to a client carries it
// forward for subsequent playlist rendering.
func capabilityQuery(cap play.CapabilityDescriptor) string {
	v := url.Values{}
	v.Set("play_id", cap.PlayID)
	v.Set("session", cap.Session)
	v.Set("source_index", strconv.Itoa(cap.SourceIndex))
	v.Set("format", string(cap.Format))
	if cap.TranscodeVideoCodec != "" {
		v.Set("transcode_video_codec", cap.TranscodeVideoCodec)
	}
	if cap.TranscodeAudioCodec != "" {
		v.Set("transcode_audio_codec", cap.TranscodeAudioCodec)
	}
	for _, c := range cap.SupportedVideoCodecs {
		v.Add("supported_video_codecs", c)
	}
	for _, c := range cap.SupportedAudioCodecs {
		v.Add("supported_audio_codecs", c)
	}
	for _, c := range cap.SupportedVideoContainers {
		v.Add("supported_video_containers", c)
	}
	for _, f := range cap.SupportedHDRFormats {
		v.Add("supported_hdr_formats", string(f))
	}
	if cap.SupportedVideoColorBitDepth > 0 {
		v.Set("supported_video_color_bit_depth", strconv.Itoa(cap.SupportedVideoColorBitDepth))
	}
	if cap.AudioLang != "" {
		v.Set("audio_lang", cap.AudioLang)
	}
	if cap.MaxAudioChannels > 0 {
		v.Set("max_audio_channels", strconv.Itoa(cap.MaxAudioChannels))
	}
	if cap.MaxWidth > 0 {
		v.Set("max_width", strconv.Itoa(cap.MaxWidth))
	}
	if cap.MaxVideoBitrate > 0 {
		v.Set("max_video_bitrate", strconv.FormatInt(cap.MaxVideoBitrate, 10))
	}
	if cap.ClientCanSwitchAudioTrack {
		v.Set("client_can_switch_audio_track", "true")
	}
	if cap.ForceTranscode {
		v.Set("force_transcode", "true")
	}
	return hls.PreserveQuery(v)
}
