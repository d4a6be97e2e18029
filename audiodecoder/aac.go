package audiodecoder

import (
	"errors"
	"fmt"
	"math"

	astiav "github.com/asticode/go-astiav"
)

// AAC decodes the AAC audio codec via astiav/ffmpeg, grounded on the
// teacher's aCtx.SendPacket/ReceiveFrame decode loop and aSwr
// SoftwareResampleContext conversion in src/video.go, adapted from a
// recording-encoder path to a decode path and from muxed-container input
// to scrcpy's raw AAC packets plus an out-of-band AudioSpecificConfig.
//
// The AudioSpecificConfig bytes from the stream's config packet are set
// as the codec context's extradata before Open, which is ffmpeg's
// equivalent of a platform decoder's "magic cookie": without it the
// decoder cannot determine sample rate and channel configuration from
// raw AAC frames that lack an ADTS header.
type AAC struct {
	ctx      *astiav.CodecContext
	frm      *astiav.Frame
	swr      *astiav.SoftwareResampleContext
	outFrame *astiav.Frame
	channels int
}

// NewAAC creates an AAC decoder.
func NewAAC() *AAC { return &AAC{} }

// Initialize opens the astiav AAC decoder with the given
// AudioSpecificConfig as extradata.
func (a *AAC) Initialize(config []byte, channels int) error {
	dec := astiav.FindDecoder(astiav.CodecIDAac)
	if dec == nil {
		return errors.New("audiodecoder: FindDecoder(aac) nil")
	}
	ctx := astiav.AllocCodecContext(dec)
	if ctx == nil {
		return errors.New("audiodecoder: AllocCodecContext nil")
	}
	if len(config) > 0 {
		ctx.SetExtradata(config)
	}
	if err := ctx.Open(dec, nil); err != nil {
		ctx.Free()
		return fmt.Errorf("audiodecoder: aac open: %w", err)
	}

	a.ctx = ctx
	a.frm = astiav.AllocFrame()
	a.swr = astiav.AllocSoftwareResampleContext()
	a.outFrame = astiav.AllocFrame()
	a.channels = channels
	return nil
}

// Decode submits one AAC packet and returns the resampled float32 PCM
// for every frame it produced.
func (a *AAC) Decode(payload []byte) ([]float32, error) {
	if a.ctx == nil {
		return nil, ErrNotInitialized
	}

	pkt := astiav.AllocPacket()
	defer pkt.Free()
	pkt.SetData(payload)

	if err := a.ctx.SendPacket(pkt); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return nil, fmt.Errorf("audiodecoder: SendPacket: %w", err)
	}

	var out []float32
	for {
		err := a.ctx.ReceiveFrame(a.frm)
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("audiodecoder: ReceiveFrame: %w", err)
		}

		a.outFrame.SetSampleFormat(astiav.SampleFormatFlt)
		a.outFrame.SetChannelLayout(a.frm.ChannelLayout())
		a.outFrame.SetSampleRate(a.frm.SampleRate())

		if err := a.swr.ConvertFrame(a.frm, a.outFrame); err != nil {
			a.frm.Unref()
			return out, fmt.Errorf("audiodecoder: swr ConvertFrame: %w", err)
		}

		n, err := a.outFrame.SamplesBufferSize(1)
		if err == nil {
			buf := make([]byte, n)
			if _, err := a.outFrame.SamplesCopyToBuffer(buf, 1); err == nil {
				out = append(out, bytesToFloat32(buf)...)
			}
		}

		a.frm.Unref()
		a.outFrame.Unref()
	}
}

// Close releases all ffmpeg resources held by the decoder.
func (a *AAC) Close() {
	if a.outFrame != nil {
		a.outFrame.Free()
		a.outFrame = nil
	}
	if a.frm != nil {
		a.frm.Free()
		a.frm = nil
	}
	if a.swr != nil {
		a.swr.Free()
		a.swr = nil
	}
	if a.ctx != nil {
		a.ctx.Free()
		a.ctx = nil
	}
}

func bytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
