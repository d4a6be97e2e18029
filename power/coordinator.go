// Package power implements the PowerCoordinator: it asserts a "prevent system idle sleep" hold while any
// session is capturing, and notifies interested sessions when the
// machine wakes from sleep so they can recover stalled connections.
// Grounded on this pipeline's HandleSleep/mac-sleep-notifier usage and
// IgnoreSignum cgo pattern in src/darwin.go; the idle-sleep assertion
// itself is new (the prior design only observes wake events, it never holds
// one), implemented in platform-specific files the same way the prior design
// splits darwin.go from darwin_stub.go.
package power

import "sync"

// WakeEvent is delivered when the machine resumes from sleep.
type WakeEvent struct{}

// Coordinator tracks how many active capture sessions want idle sleep
// prevented, asserting/releasing the platform hold as that count
// transitions to/from zero, and fans out wake notifications.
type Coordinator struct {
	mu        sync.Mutex
	holders   int
	asserted  bool
	listeners []chan<- WakeEvent

	assertFn  func() error
	releaseFn func()
}

// New creates a Coordinator wired to the platform-specific assert/
// release functions (assertIdleSleepPrevention/releaseIdleSleepPrevention,
// defined per-OS in coordinator_darwin.go / coordinator_other.go).
func New() *Coordinator {
	return &Coordinator{
		assertFn:  assertIdleSleepPrevention,
		releaseFn: releaseIdleSleepPrevention,
	}
}

// BeginCapture registers one capturing session. The first caller across
// all sessions triggers the platform assertion.
func (c *Coordinator) BeginCapture() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.holders++
	if c.asserted {
		return nil
	}
	if err := c.assertFn(); err != nil {
		c.holders--
		return err
	}
	c.asserted = true
	return nil
}

// EndCapture unregisters one capturing session. The last caller releases
// the platform assertion.
func (c *Coordinator) EndCapture() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.holders > 0 {
		c.holders--
	}
	if c.holders == 0 && c.asserted {
		c.releaseFn()
		c.asserted = false
	}
}

// Subscribe registers a channel to receive wake notifications. The
// channel is never closed by the coordinator; callers own its lifetime.
func (c *Coordinator) Subscribe(ch chan<- WakeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, ch)
}

func (c *Coordinator) notifyWake() {
	c.mu.Lock()
	listeners := append([]chan<- WakeEvent(nil), c.listeners...)
	c.mu.Unlock()

	for _, ch := range listeners {
		select {
		case ch <- WakeEvent{}:
		default:
			// A slow subscriber does not block the others; it simply
			// misses this particular wake notification.
		}
	}
}

// Holders reports how many sessions currently hold the idle-sleep
// assertion open.
func (c *Coordinator) Holders() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holders
}
