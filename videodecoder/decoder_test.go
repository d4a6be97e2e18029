package videodecoder

import (
	"bytes"
	"testing"
)

func TestAnnexBExtradataConcatenatesWithStartCodes(t *testing.T) {
	sps := []byte{0x67, 0x01}
	pps := []byte{0x68, 0x02}
	got := annexBExtradata(sps, pps)
	want := append(append(append([]byte{}, annexBStartCode...), sps...), append(annexBStartCode, pps...)...)
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x want %x", got, want)
	}
}

func TestNotReadyByDefault(t *testing.T) {
	d := NewDefault(nil)
	if d.IsReady() {
		t.Fatal("expected not ready before Initialize")
	}
}

func TestDecodeBeforeReadyIsNoop(t *testing.T) {
	d := NewDefault(nil)
	if err := d.Decode([]byte{0x65, 0xAA}, 1000, false); err != nil {
		t.Fatalf("expected nil error before decoder is initialized, got %v", err)
	}
}

func TestCloseOnUninitializedDecoderIsSafe(t *testing.T) {
	d := NewDefault(nil)
	d.Close()
	d.Reset()
	if d.IsReady() {
		t.Fatal("expected not ready after Close/Reset of an uninitialized decoder")
	}
}
