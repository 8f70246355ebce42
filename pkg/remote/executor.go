package remote

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// Executor runs a shell command on a single target and returns its
// captured output. A command that ran but exited non-zero must return an
// error implementing ExitStatus() int.
type Executor interface {
	Execute(env map[string]string, cmd string, stdin io.Reader) (stdout, stderr []byte, err error)
}

// CommandError is returned by Run when a backend command exited non-zero
// or could not be executed at all.
type CommandError struct {
	Host     string
	Cmd      string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	if e.ExitCode < 0 {
		return fmt.Sprintf("[%s] %q failed: %s", e.Host, e.Cmd, e.Err)
	}
	msg := fmt.Sprintf("[%s] %q exited with status %d", e.Host, e.Cmd, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Unreachable reports whether the command never ran, e.g. the SSH
// connection could not be established.
func (e *CommandError) Unreachable() bool {
	return e.ExitCode < 0
}

type exitStatuser interface {
	ExitStatus() int
}

// Run executes cmd on host and returns its stdout. Any failure, including
// a non-zero exit, is returned as *CommandError.
func Run(exr Executor, host, cmd string) (string, error) {
	return RunWithInput(exr, host, cmd, nil)
}

// RunWithInput is Run with stdin attached.
func RunWithInput(exr Executor, host, cmd string, stdin io.Reader) (string, error) {
	log.WithField("host", host).Debugf("run: %s", cmd)
	stdout, stderr, err := exr.Execute(nil, cmd, stdin)
	if err != nil {
		cerr := &CommandError{Host: host, Cmd: cmd, ExitCode: -1, Stderr: string(stderr), Err: err}
		var es exitStatuser
		if errors.As(err, &es) {
			cerr.ExitCode = es.ExitStatus()
		}
		return string(stdout), cerr
	}
	return string(stdout), nil
}

// RunWarnOnly executes cmd and logs, rather than returns, a failure.
// It is meant for cleanup steps such as removing a container that may
// not exist.
func RunWarnOnly(exr Executor, host, cmd string) string {
	out, err := Run(exr, host, cmd)
	if err != nil {
		log.WithField("host", host).Warnf("warn-only command failed: %s", err)
	}
	return out
}

// Local runs commands on this machine through sh -c.
type Local struct{}

func (Local) Execute(env map[string]string, cmd string, stdin io.Reader) ([]byte, []byte, error) {
	c := exec.Command("sh", "-c", cmd)
	if len(env) > 0 {
		c.Env = os.Environ()
		for k, v := range env {
			c.Env = append(c.Env, k+"="+v)
		}
	}
	var stdout, stderr bytes.Buffer
	c.Stdin = stdin
	c.Stdout = &stdout
	c.Stderr = &stderr
	err := c.Run()
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		err = localExitError{ee}
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

type localExitError struct {
	*exec.ExitError
}

// ExitStatus follows the shell convention of 128 plus the signal number
// for a process killed by a signal, as ssh.ExitError does.
func (e localExitError) ExitStatus() int {
	if ws, ok := e.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return e.ExitCode()
}

var _ exitStatuser = (*ssh.ExitError)(nil)
