package scrcpysession

import (
	"context"
	"net"
	"os/exec"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/anothermirror/scrcpy-core/audiostream"
	"github.com/anothermirror/scrcpy-core/errorhelper"
	"github.com/anothermirror/scrcpy-core/frame"
	"github.com/anothermirror/scrcpy-core/launcher"
	"github.com/anothermirror/scrcpy-core/transport"
	"github.com/anothermirror/scrcpy-core/videodecoder"
)

type fakeAdb struct{}

func (fakeAdb) Push(ctx context.Context, serial, local, device string) error { return nil }
func (fakeAdb) Forward(ctx context.Context, serial string, port int, socket string) error {
	return nil
}
func (fakeAdb) Reverse(ctx context.Context, serial, socket string, port int) error { return nil }
func (fakeAdb) RemoveForward(ctx context.Context, serial string, port int) error   { return nil }
func (fakeAdb) RemoveReverse(ctx context.Context, serial, socket string) error     { return nil }
func (fakeAdb) Shell(ctx context.Context, serial string, args []string) (*exec.Cmd, error) {
	cmd := exec.Command("sleep", "5")
	if err := launcher.DrainAgentStderr(cmd); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

type fakeVideoDecoder struct {
	mu         sync.Mutex
	pipeline   *frame.Pipeline
	ready      bool
	resetCount int
}

var _ videodecoder.Decoder = (*fakeVideoDecoder)(nil)

func (d *fakeVideoDecoder) InitializeH264(sps, pps []byte) error {
	d.mu.Lock()
	d.ready = true
	d.mu.Unlock()
	return nil
}
func (d *fakeVideoDecoder) InitializeH265(vps, sps, pps []byte) error {
	d.mu.Lock()
	d.ready = true
	d.mu.Unlock()
	return nil
}
func (d *fakeVideoDecoder) IsReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}
func (d *fakeVideoDecoder) Decode(nal []byte, pts int64, isConfig bool) error {
	if d.pipeline != nil {
		d.pipeline.PushFrame(&frame.Frame{Width: 100, Height: 200, PresentedAt: pts})
	}
	return nil
}
func (d *fakeVideoDecoder) Reset() {
	d.mu.Lock()
	d.ready = false
	d.resetCount++
	d.mu.Unlock()
}
func (d *fakeVideoDecoder) Close() {}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func dialWithRetry(t *testing.T, addr string, timeout time.Duration) net.Conn {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			return conn
		}
		if time.Now().After(deadline) {
			t.Fatalf("dialWithRetry: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectRequiresSerial(t *testing.T) {
	s := New(Config{}, Deps{Adb: fakeAdb{}, NewVideoDecoder: func(p *frame.Pipeline) videodecoder.Decoder {
		return &fakeVideoDecoder{pipeline: p}
	}})
	if err := s.Connect(); err == nil {
		t.Fatal("expected error for missing Serial")
	}
	if s.State() != StateError {
		t.Fatalf("expected StateError, got %s", s.State())
	}
}

func TestConnectTransitionsToConnected(t *testing.T) {
	s := newTestSession(t, 0, false)
	if err := s.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if s.State() != StateConnected {
		t.Fatalf("expected StateConnected, got %s", s.State())
	}
}

func TestStartCaptureInvalidFromIdle(t *testing.T) {
	s := newTestSession(t, 0, false)
	if err := s.StartCapture(context.Background()); err == nil {
		t.Fatal("expected error starting capture before Connect")
	}
}

func newTestSession(t *testing.T, port int, audio bool) *Session {
	t.Helper()
	cfg := Config{
		Serial:           "X",
		ServerPath:       "a",
		DeviceServerPath: "b",
		Port:             port,
		ConnectionMode:   transport.Reverse,
		AudioEnabled:     audio,
		ConnectTimeout:   2 * time.Second,
	}
	deps := Deps{
		Adb: fakeAdb{},
		NewVideoDecoder: func(p *frame.Pipeline) videodecoder.Decoder {
			return &fakeVideoDecoder{pipeline: p}
		},
		Dispatcher: func(fn func()) { fn() },
	}
	return New(cfg, deps)
}

func TestFullCaptureLifecycleDeliversFrameAndStops(t *testing.T) {
	port := freePort(t)
	s := newTestSession(t, port, false)
	if err := s.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	frames := make(chan *frame.Frame, 4)
	s.OnFrame = func(f *frame.Frame) { frames <- f }

	startErrCh := make(chan error, 1)
	go func() { startErrCh <- s.StartCapture(context.Background()) }()

	conn := dialWithRetry(t, "127.0.0.1:"+strconv.Itoa(port), 2*time.Second)
	defer conn.Close()

	sps := append([]byte{0, 0, 0, 1}, 0x67, 0x01, 0x02)
	pps := append([]byte{0, 0, 0, 1}, 0x68, 0x01)
	vcl := append([]byte{0, 0, 0, 1}, 0x65, 0x01, 0x02, 0x03)
	trailer := []byte{0, 0, 0, 1}
	stream := append(append(append(sps, pps...), vcl...), trailer...)
	if _, err := conn.Write(stream); err != nil {
		t.Fatalf("write video stream: %v", err)
	}

	select {
	case err := <-startErrCh:
		if err != nil {
			t.Fatalf("StartCapture: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for StartCapture to return")
	}

	select {
	case f := <-frames:
		if f.Width != 100 || f.Height != 200 {
			t.Fatalf("unexpected frame geometry: %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for decoded frame")
	}

	if s.State() != StateCapturing {
		t.Fatalf("expected StateCapturing, got %s", s.State())
	}

	if err := s.StopCapture(context.Background()); err != nil {
		t.Fatalf("StopCapture: %v", err)
	}
	if s.State() != StateConnected {
		t.Fatalf("expected StateConnected after StopCapture, got %s", s.State())
	}

	s.Disconnect(context.Background())
	if s.State() != StateDisconnected {
		t.Fatalf("expected StateDisconnected, got %s", s.State())
	}
}

func TestHandleAgentExitAbnormalTransitionsToError(t *testing.T) {
	s := newTestSession(t, 0, false)
	s.handleAgentExit(launcher.ExitEvent{Code: 1, Normal: false})
	if s.State() != StateError {
		t.Fatalf("expected StateError, got %s", s.State())
	}
	if s.LastError() == nil || s.LastError().Kind != errorhelper.KindProcessTerminated {
		t.Fatalf("expected KindProcessTerminated, got %+v", s.LastError())
	}
}

func TestHandleAgentExitNormalDoesNotTransition(t *testing.T) {
	s := newTestSession(t, 0, false)
	if err := s.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	s.handleAgentExit(launcher.ExitEvent{Code: 0, Normal: true})
	if s.State() != StateConnected {
		t.Fatalf("expected state to remain Connected, got %s", s.State())
	}
}

type fakeAudioDecoder struct{ decodeErr error }

func (f *fakeAudioDecoder) Initialize(config []byte, channels int) error { return nil }
func (f *fakeAudioDecoder) Decode(payload []byte) ([]float32, error) {
	if f.decodeErr != nil {
		return nil, f.decodeErr
	}
	return make([]float32, len(payload)), nil
}
func (f *fakeAudioDecoder) Close() {}

func TestAudioDecodeErrorIsLoggedNotFatal(t *testing.T) {
	s := newTestSession(t, 0, true)
	if err := s.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	s.audioDecoder = &fakeAudioDecoder{decodeErr: errDecodeBoom}

	s.routeAudioPacket(audiostream.Packet{PTSMicros: 1000, Payload: []byte{1, 2, 3, 4}})

	if s.State() != StateConnected {
		t.Fatalf("expected audio decode failure to leave state untouched, got %s", s.State())
	}
}

var errDecodeBoom = &staticErr{"boom"}

type staticErr struct{ msg string }

func (e *staticErr) Error() string { return e.msg }
