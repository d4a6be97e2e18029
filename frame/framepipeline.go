package frame

import "sync"

// Dispatcher posts fn to run on the UI/main thread, the same role
// postToUI (helpers.go) fills with a single-shot Qt timer; since this
// module has no GUI of its own, callers supply
// their own Dispatcher — a channel send, an event-loop's PostEvent, or
// (in tests) direct synchronous invocation.
type Dispatcher func(fn func())

// Pipeline bridges the decoder ("network") thread to the UI thread. It
// coalesces pushes: while a dispatch is pending, further pushes only replace
// the single buffered frame and never enqueue an additional dispatch. This
// is backpressure by coalescing rather than by queueing.
type Pipeline struct {
	mu         sync.Mutex
	buf        Buffer
	dispatcher Dispatcher
	handler    func(*Frame)
	pending    bool
	running    bool
}

// Start begins accepting pushes, delivered through dispatcher, and clears
// the single slot. It takes no frame size: the pipeline has no backing
// store to preallocate beyond that slot.
func (p *Pipeline) Start(dispatcher Dispatcher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dispatcher = dispatcher
	p.running = true
	p.pending = false
	p.buf.Reset()
}

// Stop stops accepting dispatches. Frames already pushed but not yet
// delivered are dropped.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	p.buf.Reset()
}

// SetFrameHandler registers the function invoked on the UI thread with each
// coalesced frame.
func (p *Pipeline) SetFrameHandler(h func(*Frame)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// PushFrame hands a newly decoded frame to the pipeline. Called from the
// decoder/network thread.
func (p *Pipeline) PushFrame(f *Frame) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.buf.Push(f)
	needDispatch := !p.pending
	if needDispatch {
		p.pending = true
	}
	dispatcher := p.dispatcher
	p.mu.Unlock()

	if needDispatch && dispatcher != nil {
		dispatcher(p.deliver)
	}
}

// deliver runs on the UI thread: consume the freshest frame and forward it.
func (p *Pipeline) deliver() {
	p.mu.Lock()
	p.pending = false
	handler := p.handler
	p.mu.Unlock()

	f := p.buf.Consume()
	if f != nil && handler != nil {
		handler(f)
	}
}

// Stats exposes the underlying FrameBuffer's skip/consume accounting.
func (p *Pipeline) Stats() Stats {
	return p.buf.Stats()
}
