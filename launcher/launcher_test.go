package launcher

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/anothermirror/scrcpy-core/errorhelper"
)

type fakeAdb struct {
	pushErr     error
	forwardErr  error
	reverseErr  error
	shellCmd    func() (*exec.Cmd, error)
	pushCalls   []string
	forwardPort int
}

func (f *fakeAdb) Push(ctx context.Context, serial, local, device string) error {
	f.pushCalls = append(f.pushCalls, local+"->"+device)
	return f.pushErr
}
func (f *fakeAdb) Forward(ctx context.Context, serial string, port int, socket string) error {
	f.forwardPort = port
	return f.forwardErr
}
func (f *fakeAdb) Reverse(ctx context.Context, serial, socket string, port int) error {
	f.forwardPort = port
	return f.reverseErr
}
func (f *fakeAdb) RemoveForward(ctx context.Context, serial string, port int) error { return nil }
func (f *fakeAdb) RemoveReverse(ctx context.Context, serial, socket string) error   { return nil }
func (f *fakeAdb) Shell(ctx context.Context, serial string, args []string) (*exec.Cmd, error) {
	var cmd *exec.Cmd
	var err error
	if f.shellCmd != nil {
		cmd, err = f.shellCmd()
	} else {
		cmd = exec.Command("true")
	}
	if err != nil {
		return nil, err
	}
	if err := DrainAgentStderr(cmd); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func TestPrepareEnvironmentPushesThenForwards(t *testing.T) {
	adb := &fakeAdb{}
	l := New(adb, Config{Serial: "X", Port: 27183, ServerPath: "a", DeviceServerPath: "b", ConnectionMode: Reverse})
	if err := l.PrepareEnvironment(context.Background()); err != nil {
		t.Fatalf("PrepareEnvironment: %v", err)
	}
	if len(adb.pushCalls) != 1 || adb.pushCalls[0] != "a->b" {
		t.Fatalf("expected one push call, got %v", adb.pushCalls)
	}
	if adb.forwardPort != 27183 {
		t.Fatalf("expected reverse port 27183, got %d", adb.forwardPort)
	}
}

func TestPrepareEnvironmentPushFailureClassified(t *testing.T) {
	adb := &fakeAdb{pushErr: errors.New("no such device")}
	l := New(adb, Config{Serial: "X", Port: 1})
	err := l.PrepareEnvironment(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var se *errorhelper.SessionError
	if !errors.As(err, &se) || se.Kind != errorhelper.KindAgentStartFailed {
		t.Fatalf("expected KindAgentStartFailed, got %v", err)
	}
}

func TestAgentArgsIncludeExpectedFlags(t *testing.T) {
	l := New(&fakeAdb{}, Config{
		Serial: "X", MaxSize: 1024, BitrateBps: 8_000_000, MaxFPS: 60,
		VideoCodec: CodecH265, AudioEnabled: false, StayAwake: true,
	})
	args := l.agentArgs()

	want := []string{
		"-s", "X",
		"--max-size=1024",
		"--video-bit-rate=8000000",
		"--max-fps=60",
		"--video-codec=h265",
		"--no-playback",
		"--no-audio",
		"--no-control", "--video-source=display",
		"--stay-awake",
	}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("args[%d] = %q, want %q (full: %v)", i, args[i], want[i], args)
		}
	}
}

func TestStartServerReportsNormalExit(t *testing.T) {
	adb := &fakeAdb{shellCmd: func() (*exec.Cmd, error) {
		return exec.Command("true"), nil
	}}
	l := New(adb, Config{Serial: "X"})

	done := make(chan ExitEvent, 1)
	l.OnExit = func(ev ExitEvent) { done <- ev }

	if err := l.StartServer(context.Background()); err != nil {
		t.Fatalf("StartServer: %v", err)
	}

	select {
	case ev := <-done:
		if !ev.Normal {
			t.Fatalf("expected normal exit, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exit event")
	}
}

func TestStopSignalsAndWaits(t *testing.T) {
	adb := &fakeAdb{shellCmd: func() (*exec.Cmd, error) {
		return exec.Command("sleep", "5"), nil
	}}
	l := New(adb, Config{Serial: "X"})
	done := make(chan ExitEvent, 1)
	l.OnExit = func(ev ExitEvent) { done <- ev }

	if err := l.StartServer(context.Background()); err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	l.Stop(context.Background())

	select {
	case ev := <-done:
		if !ev.Normal {
			t.Fatalf("expected Stop-induced exit to be marked normal, got %+v", ev)
		}
	case <-time.After(6 * time.Second):
		t.Fatal("timed out waiting for stopped process to exit")
	}
}
