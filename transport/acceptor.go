// Package transport implements the SocketAcceptor: the
// scrcpy TCP endpoint in both reverse (listen) and forward (dial) modes,
// ordering incoming/outgoing connections as video then audio. Grounded
// on the connection-ordering and per-connection read-loop style in
// other_examples/ebca4876_babelcloud-gbox__...-scrcpy-source.go.go and
// this pipeline's stop-channel based loop shutdown (src/video.go
// decodeLoop), generalized from this pipeline's outbound-only RTSP dial
// to both scrcpy connection modes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/anothermirror/scrcpy-core/errorhelper"
)

// Mode selects how the acceptor establishes its connections.
type Mode int

const (
	// Reverse listens on a local port and waits for the agent to connect
	// to it (scrcpy's default, via `adb reverse`).
	Reverse Mode = iota
	// Forward dials out to 127.0.0.1:port, in video-then-audio order (used
	// with `adb forward`).
	Forward
)

// State is the acceptor's connection lifecycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateError
)

const readChunkSize = 65536

// Options configures an Acceptor.
type Options struct {
	Mode         Mode
	Port         int
	AudioEnabled bool

	// OnVideoData and OnAudioData are invoked synchronously on the
	// network worker goroutine for this connection as bytes arrive.
	OnVideoData func([]byte)
	OnAudioData func([]byte)
}

// Acceptor owns the TCP endpoint(s) for one scrcpy session.
type Acceptor struct {
	opts Options

	mu    sync.Mutex
	state State
	err   error

	listener net.Listener
	conns    []net.Conn

	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	connected chan struct{}
	connOnce  sync.Once
}

// New creates an Acceptor in Idle state.
func New(opts Options) *Acceptor {
	return &Acceptor{
		opts:      opts,
		stopCh:    make(chan struct{}),
		connected: make(chan struct{}),
	}
}

// Start begins establishing the configured connections. In Reverse mode it
// returns once the listener is bound and accepts in the background; in
// Forward mode it dials the video (and, if enabled, audio) connection
// before returning.
func (a *Acceptor) Start() error {
	if a.opts.Port <= 0 {
		return errorhelper.New(errorhelper.KindReceiveError, errors.New("transport: invalid port"))
	}

	a.setState(StateConnecting)

	switch a.opts.Mode {
	case Reverse:
		return a.startReverse()
	default:
		return a.startForward()
	}
}

func (a *Acceptor) startReverse() error {
	addr := fmt.Sprintf("127.0.0.1:%d", a.opts.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		a.setState(StateError)
		return errorhelper.Classify(fmt.Errorf("transport: listen %s: %w", addr, err))
	}

	a.mu.Lock()
	a.listener = ln
	a.mu.Unlock()

	a.wg.Add(1)
	go a.acceptLoop(ln)
	return nil
}

func (a *Acceptor) acceptLoop(ln net.Listener) {
	defer a.wg.Done()

	accepted := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-a.stopCh:
				return
			default:
			}
			a.fail(errorhelper.Classify(fmt.Errorf("transport: accept: %w", err)))
			return
		}

		switch accepted {
		case 0:
			accepted++
			a.handleLeg(conn, legVideo)
		case 1:
			if !a.opts.AudioEnabled {
				conn.Close()
				continue
			}
			accepted++
			a.handleLeg(conn, legAudio)
		default:
			// Any further connection is closed immediately so the remote
			// server does not block waiting on us.
			conn.Close()
		}
	}
}

func (a *Acceptor) startForward() error {
	addr := fmt.Sprintf("127.0.0.1:%d", a.opts.Port)

	videoConn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		a.setState(StateError)
		return errorhelper.Classify(fmt.Errorf("transport: dial video %s: %w", addr, err))
	}
	a.handleLeg(videoConn, legVideo)

	if a.opts.AudioEnabled {
		audioConn, err := net.DialTimeout("tcp", addr, 5*time.Second)
		if err != nil {
			// Audio is non-fatal; video continues without it.
			return nil
		}
		a.handleLeg(audioConn, legAudio)
	}

	return nil
}

type leg int

const (
	legVideo leg = iota
	legAudio
)

func (a *Acceptor) handleLeg(conn net.Conn, l leg) {
	if l == legVideo {
		a.connOnce.Do(func() {
			a.setState(StateConnected)
			close(a.connected)
		})
	}

	a.mu.Lock()
	a.conns = append(a.conns, conn)
	a.mu.Unlock()

	a.wg.Add(1)
	go a.readLoop(conn, l)
}

func (a *Acceptor) readLoop(conn net.Conn, l leg) {
	defer a.wg.Done()
	defer conn.Close()

	buf := make([]byte, readChunkSize)
	for {
		select {
		case <-a.stopCh:
			return
		default:
		}

		n, err := conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			switch l {
			case legVideo:
				if a.opts.OnVideoData != nil {
					a.opts.OnVideoData(chunk)
				}
			case legAudio:
				if a.opts.OnAudioData != nil {
					a.opts.OnAudioData(chunk)
				}
			}
		}
		if err != nil {
			select {
			case <-a.stopCh:
				return
			default:
			}
			if l == legVideo {
				a.fail(errorhelper.Classify(fmt.Errorf("transport: video receive: %w", err)))
			}
			// Audio receive errors are non-fatal; video continues.
			return
		}
	}
}

func (a *Acceptor) fail(err *errorhelper.SessionError) {
	a.mu.Lock()
	a.err = err
	a.state = StateError
	a.mu.Unlock()
}

func (a *Acceptor) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// State returns the acceptor's current lifecycle state.
func (a *Acceptor) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Err returns the last fatal error, if any.
func (a *Acceptor) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// WaitForVideoConnection blocks until the video leg is connected, the
// acceptor enters Error, or the context/timeout expires, polling every
// 100ms.
func (a *Acceptor) WaitForVideoConnection(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-a.connected:
		return nil
	default:
	}

	for {
		select {
		case <-a.connected:
			return nil
		case <-ctx.Done():
			return errorhelper.New(errorhelper.KindConnectionCancelled, ctx.Err())
		case <-ticker.C:
			if a.State() == StateError {
				return a.Err()
			}
			if time.Now().After(deadline) {
				return errorhelper.New(errorhelper.KindConnectionTimeout, errors.New("transport: timed out waiting for video connection"))
			}
		}
	}
}

// Stop cancels the listener and all connections, unblocking any
// in-flight Accept/Read and waiting for their goroutines to return.
func (a *Acceptor) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
		a.mu.Lock()
		if a.listener != nil {
			a.listener.Close()
		}
		for _, c := range a.conns {
			c.Close()
		}
		a.mu.Unlock()
	})
	a.wg.Wait()
	a.setState(StateDisconnected)
}
