package audiodecoder

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// scrcpy's audio framing always carries 48 kHz audio.
const opusSampleRate = 48000

// Opus decodes the Opus audio codec via the genuine libopus Cgo binding,
// grounded on the opusDecoder usage in rustyguts-bken/client/audio.go,
// generalized from int16 output to the float32 PCM this pipeline uses
// throughout (DecodeFloat32 produces interleaved float32 directly, no
// separate int16-to-float conversion pass needed).
type Opus struct {
	dec      *opus.Decoder
	channels int
}

// NewOpus creates an Opus decoder.
func NewOpus() *Opus { return &Opus{} }

// Initialize creates the libopus decoder for the given channel count.
// Opus carries its own internal config; the packet's config bytes (if
// any) are informational only and not required to construct the decoder.
func (o *Opus) Initialize(config []byte, channels int) error {
	dec, err := opus.NewDecoder(opusSampleRate, channels)
	if err != nil {
		return fmt.Errorf("audiodecoder: opus.NewDecoder: %w", err)
	}
	o.dec = dec
	o.channels = channels
	return nil
}

// Decode decompresses one Opus packet to interleaved float32 PCM.
func (o *Opus) Decode(payload []byte) ([]float32, error) {
	if o.dec == nil {
		return nil, ErrNotInitialized
	}
	// 120ms at 48kHz is the largest legal Opus frame; allocate generously
	// and let DecodeFloat32 report the actual sample count per channel.
	pcm := make([]float32, 120*48*o.channels)
	n, err := o.dec.DecodeFloat32(payload, pcm)
	if err != nil {
		return nil, fmt.Errorf("audiodecoder: DecodeFloat32: %w", err)
	}
	return pcm[:n*o.channels], nil
}

// Close releases the decoder; libopus frees its own state on GC, so this
// only clears the reference.
func (o *Opus) Close() {
	o.dec = nil
}
