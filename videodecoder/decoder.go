// Package videodecoder implements the VideoDecoder interface: feed raw
// Annex-B NAL units extracted by videostream.Parser to an ffmpeg software
// decoder and deliver BGRA frames. Grounded directly on the
// decodeLoop/openAndDecode SendPacket/ReceiveFrame/swscale loop in
// src/video.go, generalized from a demuxed RTSP input to a raw
// elementary-stream input built from the accumulated SPS/PPS extradata.
package videodecoder

import (
	"errors"
	"fmt"
	"sync"

	astiav "github.com/asticode/go-astiav"

	"github.com/anothermirror/scrcpy-core/frame"
	"github.com/anothermirror/scrcpy-core/videostream"
)

// Decoder is the common interface every codec-specific video decoder
// implements, so ScrcpySession can swap in a different backend without
// caring which one is in effect.
type Decoder interface {
	InitializeH264(sps, pps []byte) error
	InitializeH265(vps, sps, pps []byte) error
	IsReady() bool
	Decode(nalPayload []byte, ptsMicros int64, isConfig bool) error
	Reset()
	Close()
}

// Default is the astiav-backed software decoder. It forces software
// decode exactly like the prior design (hwaccel="none"), runs every decoded
// frame through swscale to packed BGRA, and pushes the result onto a
// frame.Pipeline for hand-off to whatever UI thread is consuming frames.
type Default struct {
	mu      sync.Mutex
	codec   videostream.Codec
	ctx     *astiav.CodecContext
	frm     *astiav.Frame
	scaler  bgraScaler
	ready   bool
	started bool

	annexBPrefix []byte

	// Pipeline receives every successfully decoded, scaled frame.
	Pipeline *frame.Pipeline
}

var annexBStartCode = []byte{0, 0, 0, 1}

// NewDefault creates a Default decoder that publishes decoded frames to
// the given pipeline (may be nil, in which case frames are dropped).
func NewDefault(pipeline *frame.Pipeline) *Default {
	return &Default{Pipeline: pipeline, annexBPrefix: annexBStartCode}
}

// InitializeH264 opens the decoder once the first complete SPS/PPS pair
// is available, building extradata the way a container demuxer would so
// astiav.CodecContext.Open sees legal AVCC-less Annex-B config data.
func (d *Default) InitializeH264(sps, pps []byte) error {
	return d.initialize(astiav.CodecIDH264, annexBExtradata(sps, pps))
}

// InitializeH265 opens the decoder once VPS/SPS/PPS are all available.
func (d *Default) InitializeH265(vps, sps, pps []byte) error {
	return d.initialize(astiav.CodecIDHevc, annexBExtradata(vps, sps, pps))
}

func annexBExtradata(nals ...[]byte) []byte {
	var out []byte
	for _, n := range nals {
		out = append(out, annexBStartCode...)
		out = append(out, n...)
	}
	return out
}

func (d *Default) initialize(codecID astiav.CodecID, extradata []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ready {
		return nil
	}

	dec := astiav.FindDecoder(codecID)
	if dec == nil {
		return fmt.Errorf("videodecoder: FindDecoder(%v) nil", codecID)
	}
	ctx := astiav.AllocCodecContext(dec)
	if ctx == nil {
		return errors.New("videodecoder: AllocCodecContext nil")
	}
	if len(extradata) > 0 {
		ctx.SetExtradata(extradata)
	}

	opts := astiav.NewDictionary()
	defer opts.Free()
	_ = opts.Set("hwaccel", "none", 0)
	_ = opts.Set("err_detect", "careful", 0)
	_ = opts.Set("flags2", "+showall", 0)

	if err := ctx.Open(dec, opts); err != nil {
		ctx.Free()
		return fmt.Errorf("videodecoder: open: %w", err)
	}

	d.ctx = ctx
	d.frm = astiav.AllocFrame()
	d.ready = true
	return nil
}

// IsReady reports whether InitializeH264/InitializeH265 has succeeded.
// Decode calls made before this gate opens are dropped, mirroring the
// requirement that video frames received before the parameter sets
// arrive carry no displayable information yet.
func (d *Default) IsReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

// Decode submits one complete NAL unit (without its start code; Decode
// prepends the Annex-B start code) to the decoder and publishes every
// frame it yields.
func (d *Default) Decode(nalPayload []byte, ptsMicros int64, isConfig bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.ready || isConfig {
		return nil
	}

	pkt := astiav.AllocPacket()
	defer pkt.Free()
	pkt.SetData(append(append([]byte(nil), d.annexBPrefix...), nalPayload...))
	pkt.SetPts(int64(ptsMicros))

	if err := d.ctx.SendPacket(pkt); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return fmt.Errorf("videodecoder: SendPacket: %w", err)
	}

	for {
		err := d.ctx.ReceiveFrame(d.frm)
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("videodecoder: ReceiveFrame: %w", err)
		}

		w, h, bgra, err := d.scaler.toBGRA(d.frm)
		d.frm.Unref()
		if err != nil {
			return fmt.Errorf("videodecoder: toBGRA: %w", err)
		}

		if d.Pipeline != nil {
			d.Pipeline.PushFrame(&frame.Frame{
				Width: w, Height: h, PixelFormat: "BGRA",
				PresentedAt: ptsMicros, Pixels: bgra,
			})
		}
	}
}

// Reset tears down the decoder so the next Initialize call starts clean,
// used when the codec or resolution changes mid-session (a new SPS).
func (d *Default) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeLocked()
}

// Close releases all ffmpeg resources.
func (d *Default) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeLocked()
}

func (d *Default) closeLocked() {
	if d.frm != nil {
		d.frm.Free()
		d.frm = nil
	}
	if d.ctx != nil {
		d.ctx.Free()
		d.ctx = nil
	}
	d.scaler.close()
	d.ready = false
}
