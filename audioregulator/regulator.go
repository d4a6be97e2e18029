// Package audioregulator implements the AudioRegulator jitter buffer: a
// producer/consumer buffer sitting between the audio decoder and the
// audio sink, absorbing network jitter while correcting sustained drift
// a sample at a time rather than by resampling pitch. Built directly on
// ringbuffer.RingBuffer[float32], grounded on the mutex-guarded counter
// style (frameBuf in src/video.go) generalized to an interleaved PCM ring.
package audioregulator

import (
	"sync"

	"github.com/anothermirror/scrcpy-core/ringbuffer"
)

const (
	defaultTargetMs    = 50
	defaultMaxMs       = 200
	defaultResyncMs    = 100
	avgBufferingAlpha  = 0.05
	compensationPeriod = 960 // samples per channel; 20ms @ 48kHz
)

// Regulator is a jitter buffer over interleaved float32 PCM samples for a
// fixed channel count.
type Regulator struct {
	mu sync.Mutex

	channels int

	targetBufSamples int // per-channel frame count
	maxBufSamples    int
	resyncThreshSamp int

	ring *ringbuffer.RingBuffer[float32]

	hasReceived bool
	hasPlayed   bool

	avgBuffering      float64
	compensationPend  float64
	sinceCompensation int

	underflowSamples uint64
	overflowSamples  uint64
}

// Options configures a Regulator's buffering targets, in milliseconds.
type Options struct {
	SampleRate int
	Channels   int
	TargetMs   int
	MaxMs      int
	ResyncMs   int
}

// New creates a Regulator. Zero-valued Ms fields fall back to the
// package defaults (target=50ms, max=200ms, resync=100ms).
func New(opts Options) *Regulator {
	if opts.TargetMs <= 0 {
		opts.TargetMs = defaultTargetMs
	}
	if opts.MaxMs <= 0 {
		opts.MaxMs = defaultMaxMs
	}
	if opts.ResyncMs <= 0 {
		opts.ResyncMs = defaultResyncMs
	}
	if opts.Channels <= 0 {
		opts.Channels = 1
	}

	target := msToSamples(opts.TargetMs, opts.SampleRate)
	max := msToSamples(opts.MaxMs, opts.SampleRate)
	resync := msToSamples(opts.ResyncMs, opts.SampleRate)

	// Capacity in individual interleaved samples, exactly max_buf frames
	// plus the one slot ringbuffer always reserves.
	capSamples := max*opts.Channels + 1

	return &Regulator{
		channels:         opts.Channels,
		targetBufSamples: target,
		maxBufSamples:    max,
		resyncThreshSamp: resync,
		ring:             ringbuffer.New[float32](capSamples),
	}
}

func msToSamples(ms, sampleRate int) int {
	return ms * sampleRate / 1000
}

// bufferedFrames returns the number of fully-buffered per-channel frames.
func (r *Regulator) bufferedFramesLocked() int {
	return r.ring.Count() / r.channels
}

// Push appends interleaved PCM samples (length must be a multiple of the
// channel count). If the buffer would exceed max_buf frames, the oldest
// frames are dropped to make room and counted as overflow.
func (r *Regulator) Push(pcm []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hasReceived = true
	nFrames := len(pcm) / r.channels

	incoming := pcm
	total := r.bufferedFramesLocked() + nFrames
	if total > r.maxBufSamples {
		overflowFrames := total - r.maxBufSamples

		skippedFrames := r.ring.Skip(overflowFrames*r.channels) / r.channels
		r.overflowSamples += uint64(skippedFrames * r.channels)

		remaining := overflowFrames - skippedFrames
		if remaining > 0 {
			if remaining > nFrames {
				remaining = nFrames
			}
			r.overflowSamples += uint64(remaining * r.channels)
			incoming = incoming[remaining*r.channels:]
		}
	}

	written := r.ring.WriteBulk(incoming)
	if written < len(incoming) {
		r.overflowSamples += uint64(len(incoming) - written)
	}

	r.avgBuffering = avgBufferingAlpha*float64(r.bufferedFramesLocked()) + (1-avgBufferingAlpha)*r.avgBuffering
}

// Pull returns n frames (n*channels samples) of interleaved PCM. Before
// the buffer has ever reached target_buf, silence is returned. Once
// playing has started, shortfalls are padded with zeros and counted as
// underflow. Every 960 consumed samples, drift against the target
// buffering level is evaluated and corrected by skipping or tolerating
// padding, not by resampling.
func (r *Regulator) Pull(n int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasPlayed {
		if r.bufferedFramesLocked() < r.targetBufSamples {
			return make([]float32, n*r.channels) // silence until primed
		}
		r.hasPlayed = true
	}

	out, got := r.ring.ReadBulk(n*r.channels, 0)
	r.underflowSamples += uint64(n*r.channels - got)

	r.sinceCompensation += n
	for r.sinceCompensation >= compensationPeriod {
		r.sinceCompensation -= compensationPeriod
		r.runCompensationLocked()
	}

	return out
}

func (r *Regulator) runCompensationLocked() {
	deviation := r.avgBuffering - float64(r.targetBufSamples)
	r.compensationPend += deviation

	if r.compensationPend > float64(r.resyncThreshSamp) {
		skip := r.resyncThreshSamp / 2
		r.ring.Skip(skip * r.channels)
		r.compensationPend = 0
	} else if r.compensationPend < -float64(r.resyncThreshSamp) {
		// Too empty: tolerate the silence padding Pull already performs on
		// shortfall; just clear the accumulator so it doesn't keep growing.
		r.compensationPend = 0
	}
}

// Reset restores the regulator to its initial, unprimed state.
func (r *Regulator) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ring.Clear()
	r.hasReceived = false
	r.hasPlayed = false
	r.avgBuffering = 0
	r.compensationPend = 0
	r.sinceCompensation = 0
	r.underflowSamples = 0
	r.overflowSamples = 0
}

// Stats reports the regulator's current accounting counters.
type Stats struct {
	BufferedFrames   int
	AvgBuffering     float64
	UnderflowSamples uint64
	OverflowSamples  uint64
	HasReceived      bool
	HasPlayed        bool
}

// Stats returns a snapshot of the regulator's counters.
func (r *Regulator) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		BufferedFrames:   r.bufferedFramesLocked(),
		AvgBuffering:     r.avgBuffering,
		UnderflowSamples: r.underflowSamples,
		OverflowSamples:  r.overflowSamples,
		HasReceived:      r.hasReceived,
		HasPlayed:        r.hasPlayed,
	}
}
