package main

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/anothermirror/scrcpy-core/launcher"
)

// realAdb wraps the `adb` binary on PATH, the same shell-out-and-wait
// style src/helpers.go uses for external process control,
// generalized from a one-shot helper invocation to the push/forward/
// reverse/shell sequence the agent launch requires.
type realAdb struct {
	binary string
}

func newRealAdb(binary string) *realAdb {
	if binary == "" {
		binary = "adb"
	}
	return &realAdb{binary: binary}
}

func (a *realAdb) run(ctx context.Context, serial string, args ...string) error {
	full := append([]string{"-s", serial}, args...)
	cmd := exec.CommandContext(ctx, a.binary, full...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("adb %v: %w (%s)", args, err, out)
	}
	return nil
}

func (a *realAdb) Push(ctx context.Context, serial, localPath, devicePath string) error {
	return a.run(ctx, serial, "push", localPath, devicePath)
}

func (a *realAdb) Forward(ctx context.Context, serial string, localPort int, deviceSocket string) error {
	return a.run(ctx, serial, "forward", "tcp:"+strconv.Itoa(localPort), deviceSocket)
}

func (a *realAdb) Reverse(ctx context.Context, serial string, deviceSocket string, localPort int) error {
	return a.run(ctx, serial, "reverse", deviceSocket, "tcp:"+strconv.Itoa(localPort))
}

func (a *realAdb) RemoveForward(ctx context.Context, serial string, localPort int) error {
	return a.run(ctx, serial, "forward", "--remove", "tcp:"+strconv.Itoa(localPort))
}

func (a *realAdb) RemoveReverse(ctx context.Context, serial string, deviceSocket string) error {
	return a.run(ctx, serial, "reverse", "--remove", deviceSocket)
}

func (a *realAdb) Shell(ctx context.Context, serial string, args []string) (*exec.Cmd, error) {
	full := append([]string{"-s", serial, "shell"}, args...)
	cmd := exec.CommandContext(ctx, a.binary, full...)
	if err := launcher.DrainAgentStderr(cmd); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}
