package audiodecoder

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestRawDecodeScalesInt16ToFloat32(t *testing.T) {
	r := NewRaw()
	if err := r.Initialize(nil, 1); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:2], uint16(int16(16384)))
	binary.LittleEndian.PutUint16(payload[2:4], uint16(int16(-32768)))

	out, err := r.Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(out))
	}
	if math.Abs(float64(out[0])-0.5) > 1e-4 {
		t.Fatalf("sample 0 = %v, want ~0.5", out[0])
	}
	if math.Abs(float64(out[1])-(-1.0)) > 1e-4 {
		t.Fatalf("sample 1 = %v, want -1.0", out[1])
	}
}

func TestRawDecodeOddByteIsIgnored(t *testing.T) {
	r := NewRaw()
	_ = r.Initialize(nil, 1)
	out, err := r.Decode([]byte{0, 0, 0})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 full sample from 3 trailing bytes, got %d", len(out))
	}
}
