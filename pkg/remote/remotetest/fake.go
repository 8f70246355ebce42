// Package remotetest provides a scripted remote.Executor for offline tests.
package remotetest

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// ExitError mimics the exit error an SSH session returns.
type ExitError struct {
	Status int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("Process exited with status %d", e.Status)
}

func (e *ExitError) ExitStatus() int {
	return e.Status
}

// Response is the canned result for one command.
type Response struct {
	Stdout string
	Stderr string
	Exit   int
	// Err, when set, is returned as is (e.g. a dial error).
	Err error
}

// Call records one Execute invocation.
type Call struct {
	Cmd   string
	Stdin []byte
}

// Executor answers commands from a table. Handlers are consulted in
// registration order; the first whose prefix matches the command wins.
// Unmatched commands succeed with empty output.
type Executor struct {
	mtx      sync.Mutex
	handlers []handler
	calls    []Call
}

type handler struct {
	prefix string
	fn     func(cmd string) Response
}

// On registers a fixed response for commands starting with prefix.
func (f *Executor) On(prefix string, r Response) *Executor {
	return f.OnFunc(prefix, func(string) Response { return r })
}

// OnFunc registers a dynamic response for commands starting with prefix.
func (f *Executor) OnFunc(prefix string, fn func(cmd string) Response) *Executor {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.handlers = append(f.handlers, handler{prefix: prefix, fn: fn})
	return f
}

func (f *Executor) Execute(env map[string]string, cmd string, stdin io.Reader) ([]byte, []byte, error) {
	var in []byte
	if stdin != nil {
		in, _ = io.ReadAll(stdin)
	}
	f.mtx.Lock()
	f.calls = append(f.calls, Call{Cmd: cmd, Stdin: in})
	var r Response
	for _, h := range f.handlers {
		if strings.HasPrefix(cmd, h.prefix) {
			f.mtx.Unlock()
			r = h.fn(cmd)
			f.mtx.Lock()
			break
		}
	}
	f.mtx.Unlock()
	if r.Err != nil {
		return nil, nil, r.Err
	}
	if r.Exit != 0 {
		return []byte(r.Stdout), []byte(r.Stderr), &ExitError{Status: r.Exit}
	}
	return []byte(r.Stdout), []byte(r.Stderr), nil
}

// Calls returns a copy of every recorded call.
func (f *Executor) Calls() []Call {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return append([]Call(nil), f.calls...)
}

// Commands returns the recorded command strings.
func (f *Executor) Commands() (cmds []string) {
	for _, c := range f.Calls() {
		cmds = append(cmds, c.Cmd)
	}
	return
}

// CommandsWithPrefix returns the recorded commands starting with prefix.
func (f *Executor) CommandsWithPrefix(prefix string) (cmds []string) {
	for _, c := range f.Commands() {
		if strings.HasPrefix(c, prefix) {
			cmds = append(cmds, c)
		}
	}
	return
}
