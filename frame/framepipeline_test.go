package frame

import "testing"

// syncDispatcher runs posted work immediately but only when the test calls
// flush, so we can push N frames before the consumer "runs" exactly once.
type syncDispatcher struct {
	queued []func()
}

func (d *syncDispatcher) dispatch(fn func()) {
	d.queued = append(d.queued, fn)
}

func (d *syncDispatcher) flush() {
	q := d.queued
	d.queued = nil
	for _, fn := range q {
		fn()
	}
}

func TestPipelineCoalescesBurst(t *testing.T) {
	var p Pipeline
	var sd syncDispatcher
	p.Start(sd.dispatch)

	var delivered []*Frame
	p.SetFrameHandler(func(f *Frame) { delivered = append(delivered, f) })

	const n = 5
	for i := 1; i <= n; i++ {
		p.PushFrame(&Frame{Width: i})
	}

	if len(sd.queued) != 1 {
		t.Fatalf("expected exactly one scheduled dispatch for a burst, got %d", len(sd.queued))
	}
	sd.flush()

	if len(delivered) != 1 {
		t.Fatalf("expected exactly one delivered frame, got %d", len(delivered))
	}
	if delivered[0].Width != n {
		t.Fatalf("expected the Nth frame (%d) delivered, got %d", n, delivered[0].Width)
	}

	st := p.Stats()
	if st.Skipped != n-1 {
		t.Fatalf("expected %d skipped, got %d", n-1, st.Skipped)
	}
}

func TestPipelineOrderAcrossDispatches(t *testing.T) {
	var p Pipeline
	var sd syncDispatcher
	p.Start(sd.dispatch)

	var delivered []int
	p.SetFrameHandler(func(f *Frame) { delivered = append(delivered, f.Width) })

	p.PushFrame(&Frame{Width: 1})
	sd.flush()
	p.PushFrame(&Frame{Width: 2})
	p.PushFrame(&Frame{Width: 3})
	sd.flush()

	want := []int{1, 3}
	if len(delivered) != len(want) {
		t.Fatalf("delivered = %v, want %v", delivered, want)
	}
	for i := range want {
		if delivered[i] != want[i] {
			t.Fatalf("delivered = %v, want %v", delivered, want)
		}
	}
}

func TestPipelineStopDropsPending(t *testing.T) {
	var p Pipeline
	var sd syncDispatcher
	p.Start(sd.dispatch)
	p.PushFrame(&Frame{Width: 1})
	p.Stop()

	called := false
	p.SetFrameHandler(func(f *Frame) { called = true })
	sd.flush()
	if called {
		t.Fatal("handler should not run for frames pushed before Stop")
	}
}
