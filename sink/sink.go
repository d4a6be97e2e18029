// Package sink implements the default AudioSink collaborator: it pulls regulated PCM from an AudioRegulator at a
// steady cadence and feeds it to the system audio device.
//
// Grounded on this pipeline's GlobalAudioContext/InitGlobalAudio singleton and
// the per-camera io.Pipe+oto.Player wiring in src/audio.go and src/video.go,
// generalized from packed S16 mono/8kHz to this pipeline's interleaved
// float32 PCM at arbitrary rate/channel count.
package sink

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"math"
	"sync"

	"github.com/hajimehoshi/oto/v2"
)

// PullFunc matches audioregulator.Regulator.Pull's signature: given a frame
// count, it returns that many frames of interleaved, silence-padded
// float32 PCM.
type PullFunc func(frames int) []float32

// NewContext wraps oto.NewContext for interleaved float32 PCM, draining the
// readiness channel asynchronously the same way this pipeline's
// InitGlobalAudio does for its S16 context.
func NewContext(sampleRate, channels int) (*oto.Context, error) {
	ctx, ready, err := oto.NewContext(sampleRate, channels, oto.FormatFloat32LE)
	if err != nil {
		return nil, fmt.Errorf("sink: oto.NewContext: %w", err)
	}
	go func() {
		<-ready
		log.Printf("sink: audio context ready")
	}()
	return ctx, nil
}

// playerContext is the slice of *oto.Context's API that Sink depends on,
// narrowed so tests can substitute a fake in place of a real audio device.
type playerContext interface {
	NewPlayer(r io.Reader) oto.Player
}

// Sink pulls regulated PCM and plays it through an oto/v2 player created
// lazily on Start, mirroring this pipeline's "create an Oto Player once per
// camera" comment in src/video.go.
type Sink struct {
	ctx      playerContext
	channels int
	pull     PullFunc

	mu      sync.Mutex
	started bool
	player  oto.Player
	pipeW   *io.PipeWriter
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Sink bound to an already-initialized Oto context (see
// NewContext) and a pull callback, typically *audioregulator.Regulator.Pull.
func New(ctx *oto.Context, channels int, pull PullFunc) *Sink {
	return &Sink{ctx: ctx, channels: channels, pull: pull}
}

// Start begins the pull-and-play loop. framesPerPull controls how many
// sample frames are pulled (and blocking-written into the player's pipe)
// per iteration; the pipe's natural backpressure paces the loop to
// playback speed, same as this pipeline's fire-and-forget pipe writes.
func (s *Sink) Start(framesPerPull int) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	pr, pw := io.Pipe()
	player := s.ctx.NewPlayer(pr)
	player.Play()
	s.player = player
	s.pipeW = pw
	s.stopCh = make(chan struct{})
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(framesPerPull)
}

func (s *Sink) loop(frames int) {
	defer s.wg.Done()
	buf := make([]byte, frames*s.channels*4)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		pcm := s.pull(frames)
		n := encodeFloat32LE(buf, pcm)
		if _, err := s.pipeW.Write(buf[:n]); err != nil {
			return
		}
	}
}

func encodeFloat32LE(dst []byte, samples []float32) int {
	n := 0
	for _, v := range samples {
		binary.LittleEndian.PutUint32(dst[n:], math.Float32bits(v))
		n += 4
	}
	return n
}

// Stop halts the pull loop and releases the player and pipe, mirroring the
// deferred aPlayer.Close()/aPipeW.Close() cleanup in src/video.go.
func (s *Sink) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	player, pipeW := s.player, s.pipeW
	s.started = false
	s.mu.Unlock()

	s.wg.Wait()
	if player != nil {
		_ = player.Close()
	}
	if pipeW != nil {
		_ = pipeW.Close()
	}
}
