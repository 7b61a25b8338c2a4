// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build !windows

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sys/unix"
)

// Execute runs source through PARSE_CHECK, SPAWN and STREAM_CAPTURE.
//
// # Outputs
//
//   - Result: always populated, including alongside an error.
//   - error: non-nil only when the sandbox itself failed (no interpreter, no
//     terminal, no temp file) or ctx was cancelled. Program failures are
//     reported through Result.Stderr, never here.
func (e *Executor) Execute(ctx context.Context, source string) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "sandbox.Execute")
	defer span.End()

	start := time.Now()
	res.ExitCode = -1
	defer func() {
		res.Duration = time.Since(start)
		span.SetAttributes(
			attribute.Bool("timed_out", res.TimedOut),
			attribute.Bool("syntax_invalid", res.SyntaxInvalid),
			attribute.Int("exit_code", res.ExitCode),
			attribute.Int("stderr_bytes", len(res.Stderr)),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	// PARSE_CHECK
	if checkErr := e.cfg.SyntaxChecker.Check(ctx, source); checkErr != nil {
		var synErr *SyntaxError
		if !errors.As(checkErr, &synErr) {
			return res, fmt.Errorf("syntax check: %w", checkErr)
		}
		res.SyntaxInvalid = true
		res.Stderr = CleanStderr(synErr.Error())
		e.cfg.Logger.Debug("Candidate rejected before spawn", "issues", len(synErr.Issues))
		return res, nil
	}

	python, err := e.cfg.Interpreter.Python(ctx)
	if err != nil {
		return res, fmt.Errorf("interpreter: %w", err)
	}

	// SPAWN
	script, err := writeScript(e.cfg.TempDir, source)
	if err != nil {
		return res, err
	}
	defer os.Remove(script)

	proc, err := e.spawn(python, script)
	if err != nil {
		return res, err
	}
	defer proc.close()

	// STREAM_CAPTURE
	// The budget covers the program only, not interpreter preparation.
	deadline := time.Now().Add(e.cfg.Timeout)
	outcome, ioErr := proc.capture(ctx, deadline)

	switch outcome {
	case captureEOF:
		// Both streams closed; the child may still be alive.
		select {
		case <-proc.exited:
		default:
			select {
			case <-proc.exited:
			case <-time.After(time.Until(deadline)):
				outcome = captureDeadline
			case <-ctx.Done():
				outcome = captureCancelled
			}
		}
	case captureIOError:
		proc.stderr.WriteString("\n" + ioErr.Error())
	}

	switch outcome {
	case captureDeadline:
		// TIMEOUT
		res.TimedOut = true
		proc.terminate(e.cfg.GracePeriod)
	case captureCancelled:
		proc.terminate(e.cfg.GracePeriod)
		err = ctx.Err()
	case captureIOError:
		proc.terminate(e.cfg.GracePeriod)
	default:
		// EXIT
		proc.reapGroup()
	}

	res.Stdout = CleanStdout(proc.stdout.String())
	if !res.TimedOut {
		res.Stderr = CleanStderr(proc.stderr.String())
		res.ExitCode = proc.exitCode()
	}

	e.cfg.Logger.Debug("Candidate executed",
		"exit_code", res.ExitCode,
		"timed_out", res.TimedOut,
		"stdout_bytes", len(res.Stdout),
		"stderr_bytes", len(res.Stderr),
		"duration", time.Since(start),
	)
	return res, err
}

func writeScript(dir, source string) (string, error) {
	f, err := os.CreateTemp(dir, "termite-*.py")
	if err != nil {
		return "", fmt.Errorf("create script file: %w", err)
	}
	name := f.Name()
	if _, err := f.WriteString(source); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("write script file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("close script file: %w", err)
	}
	return name, nil
}

// =============================================================================
// Child process
// =============================================================================

type captureOutcome int

const (
	captureEOF captureOutcome = iota
	captureDeadline
	captureCancelled
	captureIOError
)

// ptyStream is one master side and what has been read from it.
type ptyStream struct {
	master *os.File
	fd     int
	buf    *bytes.Buffer
	open   bool
}

// readReady reads whatever one ready descriptor holds. It returns false once
// the stream has nothing more to give. EIO is how Linux reports a master
// whose slave has been closed by every holder.
func (s *ptyStream) readReady(chunk []byte) (bool, error) {
	n, err := unix.Read(s.fd, chunk)
	if n > 0 {
		s.buf.Write(chunk[:n])
		return true, nil
	}
	switch {
	case err == nil, errors.Is(err, unix.EIO):
		return false, nil
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return true, nil
	default:
		return false, err
	}
}

type process struct {
	cmd     *exec.Cmd
	streams [2]*ptyStream
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
	exited  chan struct{}
	waitErr error
}

// spawn starts python on two fresh terminals: stdin and stdout share the
// first, stderr gets the second. The child leads a new session whose
// controlling terminal is the first.
func (e *Executor) spawn(python, script string) (*process, error) {
	outMaster, outSlave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("open stdout terminal: %w", err)
	}
	errMaster, errSlave, err := pty.Open()
	if err != nil {
		outMaster.Close()
		outSlave.Close()
		return nil, fmt.Errorf("open stderr terminal: %w", err)
	}

	size := &pty.Winsize{Rows: e.cfg.Rows, Cols: e.cfg.Cols}
	for _, t := range []*os.File{outSlave, errSlave} {
		if err := pty.Setsize(t, size); err != nil {
			e.cfg.Logger.Debug("Failed to size terminal", "error", err)
		}
	}

	cmd := exec.Command(python, script)
	cmd.Stdin = outSlave
	cmd.Stdout = outSlave
	cmd.Stderr = errSlave
	cmd.Env = append(os.Environ(), "TERM=xterm-256color", "PYTHONUNBUFFERED=1")
	cmd.Env = append(cmd.Env, e.cfg.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    0,
	}

	startErr := cmd.Start()

	// The child holds its own copies; the parent must not, or the masters
	// never see end-of-stream.
	outSlave.Close()
	errSlave.Close()

	if startErr != nil {
		outMaster.Close()
		errMaster.Close()
		return nil, fmt.Errorf("spawn %s: %w", python, startErr)
	}

	p := &process{
		cmd:    cmd,
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		exited: make(chan struct{}),
	}
	p.streams[0] = &ptyStream{master: outMaster, fd: int(outMaster.Fd()), buf: p.stdout, open: true}
	p.streams[1] = &ptyStream{master: errMaster, fd: int(errMaster.Fd()), buf: p.stderr, open: true}

	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()
	return p, nil
}

// capture blocks on both masters until each reports end-of-stream, the
// deadline passes, ctx is cancelled, or an I/O error occurs.
func (p *process) capture(ctx context.Context, deadline time.Time) (captureOutcome, error) {
	wakeR, wakeW, err := os.Pipe()
	if err != nil {
		return captureIOError, fmt.Errorf("create wake pipe: %w", err)
	}
	defer wakeR.Close()
	stop := context.AfterFunc(ctx, func() { wakeW.Close() })
	defer func() {
		if stop() {
			wakeW.Close()
		}
	}()
	wakeFd := int32(wakeR.Fd())

	chunk := make([]byte, readChunkSize)
	fds := make([]unix.PollFd, 0, 3)
	for p.streams[0].open || p.streams[1].open {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return captureDeadline, nil
		}

		fds = fds[:0]
		owners := make([]*ptyStream, 0, 2)
		for _, s := range p.streams {
			if s.open {
				fds = append(fds, unix.PollFd{Fd: int32(s.fd), Events: unix.POLLIN})
				owners = append(owners, s)
			}
		}
		fds = append(fds, unix.PollFd{Fd: wakeFd, Events: unix.POLLIN})

		timeoutMs := int(remaining / time.Millisecond)
		if remaining%time.Millisecond != 0 {
			timeoutMs++
		}
		n, err := unix.Poll(fds, timeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return captureIOError, fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			continue
		}
		if fds[len(fds)-1].Revents != 0 {
			return captureCancelled, nil
		}

		for i, s := range owners {
			rev := fds[i].Revents
			if rev == 0 {
				continue
			}
			if rev&unix.POLLNVAL != 0 {
				s.open = false
				continue
			}
			more, err := s.readReady(chunk)
			if err != nil {
				s.open = false
				return captureIOError, fmt.Errorf("read terminal: %w", err)
			}
			s.open = more
		}
	}
	return captureEOF, nil
}

// terminate sends SIGTERM to the child's process group, waits up to grace,
// then sends SIGKILL. Errors are ignored: the group may already be gone.
func (p *process) terminate(grace time.Duration) {
	pgid := -p.cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)

	select {
	case <-p.exited:
	case <-time.After(grace):
		_ = syscall.Kill(pgid, syscall.SIGKILL)
		<-p.exited
	}
	p.reapGroup()
}

// reapGroup kills whatever the child left behind in its process group.
func (p *process) reapGroup() {
	_ = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)
}

func (p *process) exitCode() int {
	select {
	case <-p.exited:
	default:
		return -1
	}
	if p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// close releases both masters. The child has been reaped or killed by now.
func (p *process) close() {
	select {
	case <-p.exited:
	default:
		_ = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)
		<-p.exited
	}
	for _, s := range p.streams {
		s.master.Close()
	}
}
