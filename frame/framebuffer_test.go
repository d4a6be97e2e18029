package frame

import "testing"

func TestPushConsumeSkipAccounting(t *testing.T) {
	var b Buffer

	b.Push(&Frame{Width: 1})
	b.Push(&Frame{Width: 2}) // overwrites frame 1 unconsumed -> skip
	if f := b.Consume(); f == nil || f.Width != 2 {
		t.Fatalf("expected to consume frame 2, got %+v", f)
	}
	if f := b.Consume(); f != nil {
		t.Fatalf("second consume should return nil, got %+v", f)
	}

	b.Push(&Frame{Width: 3})
	b.Push(&Frame{Width: 4})
	b.Push(&Frame{Width: 5})
	consumed := b.Consume()

	st := b.Stats()
	if consumed == nil || consumed.Width != 5 {
		t.Fatalf("expected latest frame 5, got %+v", consumed)
	}
	// pushed=5, consumed=2 (frame2, frame5), skipped = pushed-consumed-pendingUnconsumed(0)=3
	if st.Pushed-st.Consumed != st.Skipped {
		t.Fatalf("pushed-consumed != skipped: %+v", st)
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	var b Buffer
	b.Push(&Frame{Width: 10})
	if f := b.Peek(); f == nil || f.Width != 10 {
		t.Fatalf("peek failed: %+v", f)
	}
	if f := b.Consume(); f == nil || f.Width != 10 {
		t.Fatalf("consume after peek should still return the frame: %+v", f)
	}
}

func TestResetClearsState(t *testing.T) {
	var b Buffer
	b.Push(&Frame{Width: 1})
	b.Reset()
	if f := b.Consume(); f != nil {
		t.Fatalf("expected nil after reset, got %+v", f)
	}
	st := b.Stats()
	if st.Pushed != 0 || st.Consumed != 0 || st.Skipped != 0 {
		t.Fatalf("expected zeroed stats after reset, got %+v", st)
	}
}
