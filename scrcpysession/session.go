// Package scrcpysession implements the ScrcpySession top-level
// coordinator: it owns the launcher, the socket acceptor,
// both stream parsers, both decoders, the audio regulator/synchronizer
// and frame pipeline, drives the documented state machine, and wires
// every callback between them. Grounded on the general connect/capture/
// disconnect lifecycle common to every scrcpy client reference reader
// (other_examples/cd4a796a_cowby123-scrcpy and
// other_examples/ebca4876_babelcloud-gbox), and on this pipeline's
// single-goroutine-owns-everything style in CamWindow (src/video.go) —
// generalized here from one hardcoded RTSP camera into an explicit,
// inspectable state machine with typed transitions.
package scrcpysession

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/anothermirror/scrcpy-core/audiodecoder"
	"github.com/anothermirror/scrcpy-core/audioregulator"
	"github.com/anothermirror/scrcpy-core/audiostream"
	"github.com/anothermirror/scrcpy-core/audiosync"
	"github.com/anothermirror/scrcpy-core/errorhelper"
	"github.com/anothermirror/scrcpy-core/frame"
	"github.com/anothermirror/scrcpy-core/launcher"
	"github.com/anothermirror/scrcpy-core/power"
	"github.com/anothermirror/scrcpy-core/transport"
	"github.com/anothermirror/scrcpy-core/videodecoder"
	"github.com/anothermirror/scrcpy-core/videostream"
)

// State is the session's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateCapturing
	StatePaused
	StateDisconnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateCapturing:
		return "Capturing"
	case StatePaused:
		return "Paused"
	case StateDisconnected:
		return "Disconnected"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

const defaultConnectTimeout = 10 * time.Second
const defaultInitialWidth, defaultInitialHeight = 1080, 1920
const audioPullFrameSize = 480 // 10ms @ 48kHz audio pull worker cadence

// AudioSink is the pull-driven consumer that plays regulated PCM; the
// default implementation is sink.Sink (oto/v2-backed), narrowed to this
// interface so tests can substitute a fake.
type AudioSink interface {
	Start(framesPerPull int)
	Stop()
}

// Config holds the per-connection configuration for a session.
type Config struct {
	Serial           string
	ServerPath       string
	DeviceServerPath string
	Port             int
	ConnectionMode   transport.Mode
	MaxSize          int
	BitrateBps       int
	MaxFPS           int
	ShowTouches      bool
	TurnScreenOff    bool
	StayAwake        bool
	AudioEnabled     bool
	VideoCodec       videostream.Codec
	VideoFraming     videostream.FramingMode
	AudioSampleRate  int
	AudioChannels    int
	TargetBufferMs   int
	ConnectTimeout   time.Duration
}

// Deps bundles every collaborator the session needs but does not itself
// construct, so tests can substitute fakes without a real device, ffmpeg
// build, or audio output.
type Deps struct {
	Adb launcher.AdbService

	// NewVideoDecoder constructs the codec-specific video decoder, wired
	// to publish into the given pipeline.
	NewVideoDecoder func(pipeline *frame.Pipeline) videodecoder.Decoder
	// NewAudioDecoder constructs the codec-specific audio decoder for the
	// codec id observed at the head of the audio stream.
	NewAudioDecoder func(codec audiostream.CodecID) (audiodecoder.Decoder, error)
	// NewSink constructs the audio sink bound to the regulator's Pull.
	NewSink func(pull func(n int) []float32) AudioSink

	// Dispatcher posts frame delivery to the consumer's thread of choice.
	Dispatcher frame.Dispatcher
	// Power, if non-nil, is held open for the duration of every capture.
	Power *power.Coordinator
}

// Session is the top-level coordinator. State and LastError are safe to
// call concurrently; the internal mutex guards the state, last error and
// frame geometry only, so Connect, StartCapture, StopCapture and
// Disconnect are not serialized against one another.
type Session struct {
	cfg  Config
	deps Deps

	mu       sync.Mutex
	state    State
	lastErr  *errorhelper.SessionError
	videoW   int
	videoH   int
	watching chan power.WakeEvent

	launcher *launcher.Launcher
	acceptor *transport.Acceptor

	videoParser  *videostream.Parser
	videoDecoder videodecoder.Decoder
	audioParser  *audiostream.Parser
	audioDecoder audiodecoder.Decoder
	regulator    *audioregulator.Regulator
	sync         *audiosync.Synchronizer
	pipeline     *frame.Pipeline
	sink         AudioSink

	// OnStateChange, if set, fires after every transition (new state).
	OnStateChange func(State)
	// OnFrame, if set, fires for every frame forwarded by the pipeline.
	OnFrame func(*frame.Frame)
}

// New creates a Session in the Idle state.
func New(cfg Config, deps Deps) *Session {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.AudioSampleRate <= 0 {
		cfg.AudioSampleRate = 48000
	}
	if cfg.AudioChannels <= 0 {
		cfg.AudioChannels = 2
	}
	return &Session{cfg: cfg, deps: deps, state: StateIdle, videoW: defaultInitialWidth, videoH: defaultInitialHeight}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the error associated with the most recent transition
// into StateError, if any.
func (s *Session) LastError() *errorhelper.SessionError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	cb := s.OnStateChange
	s.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}

func (s *Session) fail(kind errorhelper.Kind, err error) error {
	se := errorhelper.New(kind, err)
	s.mu.Lock()
	s.lastErr = se
	s.state = StateError
	cb := s.OnStateChange
	s.mu.Unlock()
	if cb != nil {
		cb(StateError)
	}
	return se
}

// Connect constructs every parser/decoder, wires their callbacks, and
// transitions Idle|Disconnected -> Connected. It does not yet talk to a
// device; StartCapture does that.
func (s *Session) Connect() error {
	st := s.State()
	if st != StateIdle && st != StateDisconnected {
		return fmt.Errorf("scrcpysession: Connect invalid from state %s", st)
	}
	s.setState(StateConnecting)

	if s.cfg.Serial == "" {
		return s.fail(errorhelper.KindAgentStartFailed, errors.New("scrcpysession: Serial is required"))
	}

	s.pipeline = &frame.Pipeline{}
	s.pipeline.SetFrameHandler(func(f *frame.Frame) { s.handleDecodedFrame(f) })

	if s.deps.NewVideoDecoder == nil {
		return s.fail(errorhelper.KindAgentStartFailed, errors.New("scrcpysession: NewVideoDecoder dependency is required"))
	}
	s.videoDecoder = s.deps.NewVideoDecoder(s.pipeline)
	s.videoParser = videostream.NewParser(s.cfg.VideoCodec, s.cfg.VideoFraming)
	s.videoParser.OnSPSChanged = func(newSPS []byte) { s.handleSPSChanged(newSPS) }

	if s.cfg.AudioEnabled {
		s.audioParser = audiostream.NewParser()
		s.regulator = audioregulator.New(audioregulator.Options{
			SampleRate: s.cfg.AudioSampleRate,
			Channels:   s.cfg.AudioChannels,
			TargetMs:   s.cfg.TargetBufferMs,
		})
		s.sync = audiosync.New(s.cfg.AudioSampleRate)

		s.audioParser.OnCodecIDParsed = func(id audiostream.CodecID) {
			s.handleAudioCodecID(id)
		}
		s.audioParser.OnConfigPacket = func(payload []byte, codec audiostream.CodecID) {
			s.routeAudioConfig(payload)
		}
		s.audioParser.OnAudioPacket = func(p audiostream.Packet) {
			s.routeAudioPacket(p)
		}
	}

	lcfg := launcher.Config{
		Serial:           s.cfg.Serial,
		Port:             s.cfg.Port,
		ConnectionMode:   mapConnectionMode(s.cfg.ConnectionMode),
		MaxSize:          s.cfg.MaxSize,
		BitrateBps:       s.cfg.BitrateBps,
		MaxFPS:           s.cfg.MaxFPS,
		ShowTouches:      s.cfg.ShowTouches,
		TurnScreenOff:    s.cfg.TurnScreenOff,
		StayAwake:        s.cfg.StayAwake,
		AudioEnabled:     s.cfg.AudioEnabled,
		VideoCodec:       mapCodec(s.cfg.VideoCodec),
		ServerPath:       s.cfg.ServerPath,
		DeviceServerPath: s.cfg.DeviceServerPath,
	}
	s.launcher = launcher.New(s.deps.Adb, lcfg)
	s.launcher.OnExit = s.handleAgentExit

	if s.deps.Power != nil {
		s.watching = make(chan power.WakeEvent, 1)
		s.deps.Power.Subscribe(s.watching)
		go s.watchWake()
	}

	s.setState(StateConnected)
	return nil
}

// watchWake logs wake-from-sleep notifications for the life of the
// session; a host application may use this as the trigger to tear down
// and reconnect a capture that the OS silently stalled during sleep.
func (s *Session) watchWake() {
	for range s.watching {
		log.Printf("scrcpysession: machine woke from sleep; connection may need to be re-established")
	}
}

func mapConnectionMode(m transport.Mode) launcher.ConnectionMode {
	if m == transport.Forward {
		return launcher.Forward
	}
	return launcher.Reverse
}

func mapCodec(c videostream.Codec) launcher.Codec {
	if c == videostream.H265 {
		return launcher.CodecH265
	}
	return launcher.CodecH264
}

// StartCapture prepares the device environment, starts the acceptor
// before the agent so reverse mode has a listener ready, sets state to
// Capturing before the agent launches (so early frames are never
// dropped), then launches the agent and waits for the video connection.
func (s *Session) StartCapture(ctx context.Context) error {
	st := s.State()
	if st != StateConnected && st != StatePaused {
		return fmt.Errorf("scrcpysession: StartCapture invalid from state %s", st)
	}

	if err := s.launcher.PrepareEnvironment(ctx); err != nil {
		return s.fail(errorhelper.KindAgentStartFailed, err)
	}

	s.acceptor = transport.New(transport.Options{
		Mode:         s.cfg.ConnectionMode,
		Port:         s.cfg.Port,
		AudioEnabled: s.cfg.AudioEnabled,
		OnVideoData:  func(b []byte) { s.handleVideoData(b) },
		OnAudioData:  func(b []byte) { s.handleAudioData(b) },
	})
	if err := s.acceptor.Start(); err != nil {
		return s.fail(errorhelper.KindAgentStartFailed, fmt.Errorf("scrcpysession: acceptor start: %w", err))
	}

	if s.deps.Power != nil {
		if err := s.deps.Power.BeginCapture(); err != nil {
			log.Printf("scrcpysession: idle-sleep hold failed: %v", err)
		}
	}

	// Set Capturing before the agent launches so any frame arriving on the
	// network worker the instant the socket connects is not dropped by
	// handleDecodedFrame's state gate.
	s.setState(StateCapturing)

	if err := s.launcher.StartServer(ctx); err != nil {
		s.setState(StateConnected)
		if s.deps.Power != nil {
			s.deps.Power.EndCapture()
		}
		return s.fail(errorhelper.KindAgentStartFailed, err)
	}

	if err := s.acceptor.WaitForVideoConnection(ctx, s.cfg.ConnectTimeout); err != nil {
		s.setState(StateConnected)
		if s.deps.Power != nil {
			s.deps.Power.EndCapture()
		}
		return s.fail(errorhelper.KindConnectionTimeout, err)
	}

	s.pipeline.Start(s.deps.Dispatcher)

	if s.cfg.AudioEnabled && s.deps.NewSink != nil {
		s.sink = s.deps.NewSink(s.regulator.Pull)
		s.sink.Start(audioPullFrameSize)
	}

	return nil
}

// StopCapture tears down the acceptor, launcher, and pipeline, but keeps
// the session's Connected collaborators alive for a subsequent
// StartCapture.
func (s *Session) StopCapture(ctx context.Context) error {
	if s.State() != StateCapturing {
		return fmt.Errorf("scrcpysession: StopCapture invalid from state %s", s.State())
	}

	if s.sink != nil {
		s.sink.Stop()
		s.sink = nil
	}
	s.pipeline.Stop()
	if s.acceptor != nil {
		s.acceptor.Stop()
	}
	if s.launcher != nil {
		s.launcher.Stop(ctx)
	}
	if s.deps.Power != nil {
		s.deps.Power.EndCapture()
	}

	s.videoParser.Reset()
	if s.videoDecoder != nil {
		s.videoDecoder.Reset()
	}
	if s.audioParser != nil {
		s.audioParser.Reset()
	}
	if s.audioDecoder != nil {
		s.audioDecoder.Close()
		s.audioDecoder = nil
	}
	if s.regulator != nil {
		s.regulator.Reset()
	}
	if s.sync != nil {
		s.sync.Reset()
	}

	s.setState(StateConnected)
	return nil
}

// Disconnect performs unconditional cleanup regardless of current state
// and transitions to Disconnected.
func (s *Session) Disconnect(ctx context.Context) {
	if s.State() == StateCapturing {
		_ = s.StopCapture(ctx)
	}
	if s.videoDecoder != nil {
		s.videoDecoder.Close()
	}
	s.setState(StateDisconnected)
}

// handleSPSChanged resets the decoder (making it "not ready") and
// restarts the frame pipeline to purge pre-rotation frames.
func (s *Session) handleSPSChanged(newSPS []byte) {
	log.Printf("scrcpysession: SPS changed, resetting video decoder")
	if s.videoDecoder != nil {
		s.videoDecoder.Reset()
	}
	if s.pipeline != nil {
		s.pipeline.Stop()
		s.pipeline.Start(s.deps.Dispatcher)
	}
}

// handleDecodedFrame drops frames received outside Capturing, tracks
// geometry changes (landscape/portrait swap), and forwards to the
// pipeline's registered consumer.
func (s *Session) handleDecodedFrame(f *frame.Frame) {
	if s.State() != StateCapturing {
		return
	}

	s.mu.Lock()
	if f.Width != s.videoW || f.Height != s.videoH {
		log.Printf("scrcpysession: frame geometry changed %dx%d -> %dx%d", s.videoW, s.videoH, f.Width, f.Height)
		s.videoW, s.videoH = f.Width, f.Height
	}
	cb := s.OnFrame
	s.mu.Unlock()

	if cb != nil {
		cb(f)
	}
}

func (s *Session) handleVideoData(b []byte) {
	nals := s.videoParser.Append(b)
	for _, nal := range nals {
		if nal.IsParameterSet {
			s.maybeInitializeVideoDecoder()
			continue
		}
		if !nal.IsVCL {
			continue
		}
		if !s.videoDecoder.IsReady() {
			s.maybeInitializeVideoDecoder()
		}
		if s.videoDecoder.IsReady() {
			if err := s.videoDecoder.Decode(nal.Data, nal.PTSMicros, nal.IsConfig); err != nil {
				log.Printf("scrcpysession: video decode error: %v", err)
				_ = s.fail(errorhelper.KindDecodeFailed, err)
			}
		}
	}
}

func (s *Session) maybeInitializeVideoDecoder() {
	if s.videoDecoder.IsReady() || !s.videoParser.HasCompleteParameterSets() {
		return
	}
	sps, pps, vps := s.videoParser.ParameterSets()
	var err error
	if s.cfg.VideoCodec == videostream.H265 {
		err = s.videoDecoder.InitializeH265(vps, sps, pps)
	} else {
		err = s.videoDecoder.InitializeH264(sps, pps)
	}
	if err != nil {
		log.Printf("scrcpysession: video decoder init failed: %v", err)
	}
}

func (s *Session) handleAudioData(b []byte) {
	s.audioParser.Append(b)
}

func (s *Session) handleAudioCodecID(id audiostream.CodecID) {
	if s.deps.NewAudioDecoder == nil {
		return
	}
	dec, err := s.deps.NewAudioDecoder(id)
	if err != nil {
		log.Printf("scrcpysession: audio decoder construction failed for %s: %v", id, err)
		return
	}
	s.audioDecoder = dec
	if id != audiostream.CodecAAC {
		// AAC is initialized from its config packet's AudioSpecificConfig;
		// every other codec has nothing to configure up front.
		if err := s.audioDecoder.Initialize(nil, s.cfg.AudioChannels); err != nil {
			log.Printf("scrcpysession: audio decoder initialize failed: %v", err)
		}
	}
}

func (s *Session) routeAudioConfig(payload []byte) {
	if s.audioDecoder == nil {
		return
	}
	if err := s.audioDecoder.Initialize(payload, s.cfg.AudioChannels); err != nil {
		log.Printf("scrcpysession: audio decoder initialize from config packet failed: %v", err)
	}
}

// routeAudioPacket decodes one audio packet and pushes the PCM into the
// regulator. Audio decode failures are logged and
// swallowed — audio is best-effort relative to video and must never
// transition the session to Error.
func (s *Session) routeAudioPacket(p audiostream.Packet) {
	if s.audioDecoder == nil || p.IsConfig {
		return
	}
	pcm, err := s.audioDecoder.Decode(p.Payload)
	if err != nil {
		log.Printf("scrcpysession: audio decode error (ignored): %v", err)
		return
	}
	if len(pcm) == 0 {
		return
	}

	decision := s.sync.ProcessAudioPTS(int64(p.PTSMicros), len(pcm)/s.cfg.AudioChannels)
	if !decision.ShouldPlay {
		return
	}
	s.regulator.Push(pcm)
}

// handleAgentExit implements the agent-exit failure model: exit code
// 0 or 15 (SIGTERM-induced) is normal and produces no error transition;
// any other exit is ProcessTerminated.
func (s *Session) handleAgentExit(ev launcher.ExitEvent) {
	if ev.Normal {
		return
	}
	_ = s.fail(errorhelper.KindProcessTerminated, fmt.Errorf("scrcpysession: agent exited with code %d: %w", ev.Code, ev.Err))
}
