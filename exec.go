package main

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"
)

// tracedExecArg is the hidden argv[1] that turns this binary into the
// about-to-exec stub for launch-and-trace mode.
const tracedExecArg = "__traced-exec"

// handshakeTimeout bounds both directions of the arming handshake so a
// wedged peer never hangs the other side forever.
const handshakeTimeout = 5 * time.Second

// Stub-side handshake descriptors, assigned through ExtraFiles.
const (
	proceedFd = 3
	readyFd   = 4
)

// TracedChild is a launched target held just before exec. The child runs the
// stub, which signals readiness and then blocks until Proceed; that ordering
// guarantees no call before the capture points are armed is missed.
type TracedChild struct {
	cmd     *exec.Cmd
	proceed *os.File
	ready   *os.File
}

// LaunchStopped starts args as a stub process stopped at the exec gate and
// waits for its readiness signal. The caller arms instrumentation against
// the returned PID, then calls Proceed.
func LaunchStopped(args []string) (*TracedChild, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate own binary: %w", err)
	}
	proceedR, proceedW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create proceed pipe: %w", err)
	}
	readyR, readyW, err := os.Pipe()
	if err != nil {
		proceedR.Close()
		proceedW.Close()
		return nil, fmt.Errorf("create ready pipe: %w", err)
	}

	cmd := exec.Command(self, append([]string{tracedExecArg}, args...)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{proceedR, readyW}
	if err := cmd.Start(); err != nil {
		proceedR.Close()
		proceedW.Close()
		readyR.Close()
		readyW.Close()
		return nil, fmt.Errorf("start %s: %w", args[0], err)
	}
	proceedR.Close()
	readyW.Close()

	tc := &TracedChild{cmd: cmd, proceed: proceedW, ready: readyR}
	if err := tc.awaitReady(); err != nil {
		tc.Kill()
		return nil, err
	}
	return tc, nil
}

// awaitReady blocks until the stub reports it is about to exec, bounded by
// the handshake timeout.
func (t *TracedChild) awaitReady() error {
	defer func() {
		t.ready.Close()
		t.ready = nil
	}()
	if err := t.ready.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return fmt.Errorf("set handshake deadline: %w", err)
	}
	buf := make([]byte, 1)
	if _, err := t.ready.Read(buf); err != nil {
		return fmt.Errorf("stub never signalled readiness: %w", err)
	}
	return nil
}

// PID returns the stub's process id, which the exec preserves.
func (t *TracedChild) PID() uint32 { return uint32(t.cmd.Process.Pid) }

// Proceed releases the stub into the target program.
func (t *TracedChild) Proceed() error {
	defer func() {
		t.proceed.Close()
		t.proceed = nil
	}()
	if _, err := t.proceed.Write([]byte{'p'}); err != nil {
		return fmt.Errorf("release traced command: %w", err)
	}
	return nil
}

// Wait blocks until the target exits.
func (t *TracedChild) Wait() error { return t.cmd.Wait() }

// Kill tears the child down, for startup failure paths.
func (t *TracedChild) Kill() {
	if t.proceed != nil {
		t.proceed.Close()
		t.proceed = nil
	}
	_ = t.cmd.Process.Kill()
	_, _ = t.cmd.Process.Wait()
}

// runTracedStub is the child half of the handshake: signal readiness, block
// until released (bounded, so an abandoned stub exits instead of lingering),
// then replace ourselves with the target.
func runTracedStub(args []string) error {
	ready := os.NewFile(readyFd, "ready")
	proceed := os.NewFile(proceedFd, "proceed")
	if ready == nil || proceed == nil {
		return fmt.Errorf("handshake descriptors missing")
	}
	if _, err := ready.Write([]byte{'r'}); err != nil {
		return fmt.Errorf("signal readiness: %w", err)
	}
	ready.Close()

	if err := proceed.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return fmt.Errorf("set handshake deadline: %w", err)
	}
	buf := make([]byte, 1)
	if _, err := proceed.Read(buf); err != nil {
		return fmt.Errorf("launcher never signalled proceed: %w", err)
	}
	proceed.Close()

	path, err := exec.LookPath(args[0])
	if err != nil {
		return fmt.Errorf("resolve %s: %w", args[0], err)
	}
	return unix.Exec(path, args, os.Environ())
}
