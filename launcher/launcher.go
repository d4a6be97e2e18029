// Package launcher implements the ServerLauncher: pushes
// the scrcpy-server agent artifact to the device, sets up port
// forwarding, starts the remote agent, and owns the child process
// handle. Grounded on this pipeline's os/exec usage in src/helpers.go
// (exec.Command + Start(), restart-via-exec pattern) and the adb.Options
// device-targeting shape referenced by
// other_examples/cd4a796a_cowby123-scrcpy__goapp-streaming.go.go,
// generalized from a one-shot helper process to a supervised long-lived
// agent with termination reporting.
package launcher

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/anothermirror/scrcpy-core/errorhelper"
)

// ConnectionMode mirrors transport.Mode without importing it, so the
// launcher package has no dependency on transport (it only needs to
// know which adb command to run).
type ConnectionMode int

const (
	Reverse ConnectionMode = iota
	Forward
)

// Codec selects the remote video codec.
type Codec string

const (
	CodecH264 Codec = "h264"
	CodecH265 Codec = "h265"
)

// Config mirrors the server-side configurable options the agent accepts.
type Config struct {
	Serial         string
	Port           int
	ConnectionMode ConnectionMode
	MaxSize        int
	BitrateBps     int
	MaxFPS         int
	ShowTouches    bool
	TurnScreenOff  bool
	StayAwake      bool
	AudioEnabled   bool
	VideoCodec     Codec

	// ServerPath is the local path to the scrcpy-server jar/executable
	// artifact pushed to the device.
	ServerPath string
	// DeviceServerPath is where the artifact is pushed to on the device.
	DeviceServerPath string
}

// AdbService abstracts the device-management channel (push, port
// forwarding, remote shell invocation) so the launcher never shells out
// to `adb` directly; a real implementation wraps the adb binary or a
// pure-Go adb client, consumed here rather than reimplemented.
type AdbService interface {
	Push(ctx context.Context, serial, localPath, devicePath string) error
	Forward(ctx context.Context, serial string, localPort int, deviceSocket string) error
	Reverse(ctx context.Context, serial string, deviceSocket string, localPort int) error
	RemoveForward(ctx context.Context, serial string, localPort int) error
	RemoveReverse(ctx context.Context, serial string, deviceSocket string) error
	// Shell starts a remote command and returns a handle; used to launch
	// the scrcpy-server agent via `app_process`.
	Shell(ctx context.Context, serial string, args []string) (*exec.Cmd, error)
}

const agentSocketName = "scrcpy"

// ExitEvent reports the agent process's termination.
type ExitEvent struct {
	Code   int
	Normal bool // true for exit code 0 or 15 (SIGTERM)
	Err    error
}

// Launcher drives one agent process's full lifecycle.
type Launcher struct {
	adb AdbService
	cfg Config

	mu      sync.Mutex
	cmd     *exec.Cmd
	stopped bool
	exited  chan struct{}

	// OnExit is invoked exactly once, from the process monitor goroutine,
	// when the agent terminates for any reason.
	OnExit func(ExitEvent)
}

// New creates a Launcher bound to the given AdbService and config.
func New(adb AdbService, cfg Config) *Launcher {
	return &Launcher{adb: adb, cfg: cfg}
}

// PrepareEnvironment pushes the agent artifact and establishes port
// forwarding, and must complete before the SocketAcceptor starts
// listening in reverse mode.
func (l *Launcher) PrepareEnvironment(ctx context.Context) error {
	if err := l.adb.Push(ctx, l.cfg.Serial, l.cfg.ServerPath, l.cfg.DeviceServerPath); err != nil {
		return errorhelper.New(errorhelper.KindAgentStartFailed, fmt.Errorf("launcher: push: %w", err))
	}

	socket := "localabstract:" + agentSocketName
	var err error
	switch l.cfg.ConnectionMode {
	case Reverse:
		err = l.adb.Reverse(ctx, l.cfg.Serial, socket, l.cfg.Port)
	default:
		err = l.adb.Forward(ctx, l.cfg.Serial, l.cfg.Port, socket)
	}
	if err != nil {
		return errorhelper.New(errorhelper.KindPortForwardingFailed, fmt.Errorf("launcher: forwarding: %w", err))
	}
	return nil
}

// StartServer launches the remote agent with the CLI arguments derived
// from Config and starts a monitor goroutine
// that reports termination via OnExit. Shell is expected to have already
// started the returned *exec.Cmd (see AdbService.Shell's contract above);
// StartServer only takes ownership of the already-running handle.
func (l *Launcher) StartServer(ctx context.Context) error {
	args := l.agentArgs()

	cmd, err := l.adb.Shell(ctx, l.cfg.Serial, args)
	if err != nil {
		return errorhelper.New(errorhelper.KindAgentStartFailed, fmt.Errorf("launcher: shell: %w", err))
	}

	l.mu.Lock()
	l.cmd = cmd
	l.exited = make(chan struct{})
	l.mu.Unlock()

	go l.monitor(cmd)
	return nil
}

// DrainAgentStderr wires cmd's stderr to the launcher's logging so agent
// diagnostics are visible without a terminal attached to the child. It
// must be called by an AdbService.Shell implementation before cmd.Start(),
// since *exec.Cmd.StderrPipe is only valid on a not-yet-started command.
func DrainAgentStderr(cmd *exec.Cmd) error {
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	go drainLines(stderr)
	return nil
}

func (l *Launcher) agentArgs() []string {
	args := []string{"-s", l.cfg.Serial}
	if l.cfg.MaxSize > 0 {
		args = append(args, "--max-size="+strconv.Itoa(l.cfg.MaxSize))
	}
	if l.cfg.BitrateBps > 0 {
		args = append(args, "--video-bit-rate="+strconv.Itoa(l.cfg.BitrateBps))
	}
	if l.cfg.MaxFPS > 0 {
		args = append(args, "--max-fps="+strconv.Itoa(l.cfg.MaxFPS))
	}
	codec := l.cfg.VideoCodec
	if codec == "" {
		codec = CodecH264
	}
	args = append(args, "--video-codec="+string(codec))
	args = append(args, "--no-playback")
	if !l.cfg.AudioEnabled {
		args = append(args, "--no-audio")
	}
	args = append(args, "--no-control", "--video-source=display")
	if l.cfg.StayAwake {
		args = append(args, "--stay-awake")
	}
	return args
}

func (l *Launcher) monitor(cmd *exec.Cmd) {
	err := cmd.Wait()

	l.mu.Lock()
	stopped := l.stopped
	exited := l.exited
	l.mu.Unlock()
	if exited != nil {
		close(exited)
	}

	code := exitCode(cmd, err)
	ev := ExitEvent{Code: code, Normal: stopped || errorhelper.IsNormalExit(code), Err: err}
	if l.OnExit != nil {
		l.OnExit(ev)
	}
}

func drainLines(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		log.Printf("launcher: agent stderr: %s", sc.Text())
	}
}

func exitCode(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}
	if cmd.ProcessState != nil {
		if status, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return int(status.Signal())
			}
			return status.ExitStatus()
		}
	}
	return -1
}

// Stop signals the child process to terminate gracefully (SIGTERM),
// waits for the monitor goroutine to observe its exit, and releases the
// forwarded/reversed port.
func (l *Launcher) Stop(ctx context.Context) {
	l.mu.Lock()
	l.stopped = true
	cmd := l.cmd
	exited := l.exited
	l.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
		if exited != nil {
			select {
			case <-exited:
			case <-time.After(5 * time.Second):
				_ = cmd.Process.Kill()
			}
		}
	}

	socket := "localabstract:" + agentSocketName
	switch l.cfg.ConnectionMode {
	case Reverse:
		_ = l.adb.RemoveReverse(ctx, l.cfg.Serial, socket)
	default:
		_ = l.adb.RemoveForward(ctx, l.cfg.Serial, l.cfg.Port)
	}
}
