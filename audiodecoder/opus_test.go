package audiodecoder

import "testing"

func TestOpusDecodeBeforeInitializeErrors(t *testing.T) {
	o := NewOpus()
	if _, err := o.Decode([]byte{1, 2, 3}); err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}
