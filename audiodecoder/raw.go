package audiodecoder

import "encoding/binary"

// Raw decodes the scrcpy "raw" audio codec: plain interleaved signed
// 16-bit little-endian PCM, no config packet, converted to float32 by a
// straight division (the same int16-to-float32 scaling this pipeline's
// oto playback path expects).
type Raw struct {
	channels int
}

// NewRaw creates a Raw decoder.
func NewRaw() *Raw { return &Raw{} }

// Initialize records the channel count; raw PCM has no config bytes.
func (r *Raw) Initialize(config []byte, channels int) error {
	r.channels = channels
	return nil
}

// Decode converts a little-endian int16 PCM payload to float32 in [-1, 1].
func (r *Raw) Decode(payload []byte) ([]float32, error) {
	n := len(payload) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(payload[i*2 : i*2+2]))
		out[i] = float32(s) / 32768.0
	}
	return out, nil
}

// Close is a no-op; Raw holds no external resources.
func (r *Raw) Close() {}
