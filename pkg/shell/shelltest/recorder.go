// Package shelltest provides a shell.Runner that records commands instead of
// executing them.
package shelltest

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/master-of-zen/alpine-autoinstall/pkg/shell"
)

// Call is one recorded invocation. Stdin is drained and kept as a string.
type Call struct {
	Cmd   shell.Cmd
	Stdin string
}

// Line returns the command and its arguments joined by spaces, without quoting.
func (c Call) Line() string {
	return strings.Join(append([]string{c.Cmd.Name}, c.Cmd.Args...), " ")
}

// Recorder implements shell.Runner. Respond, when set, decides the result of
// each call; otherwise every call succeeds with empty output.
type Recorder struct {
	mu      sync.Mutex
	Calls   []Call
	Respond func(c shell.Cmd) (shell.Result, error)
}

func (r *Recorder) Run(_ context.Context, c shell.Cmd) (shell.Result, error) {
	call := Call{Cmd: c}
	if c.Stdin != nil {
		b, _ := io.ReadAll(c.Stdin)
		call.Stdin = string(b)
	}
	r.mu.Lock()
	r.Calls = append(r.Calls, call)
	respond := r.Respond
	r.mu.Unlock()
	if respond != nil {
		return respond(c)
	}
	return shell.Result{}, nil
}

// Lines returns every recorded call rendered with Call.Line.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Calls))
	for _, c := range r.Calls {
		out = append(out, c.Line())
	}
	return out
}

// Find returns the first recorded call whose line starts with prefix.
func (r *Recorder) Find(prefix string) (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.Calls {
		if strings.HasPrefix(c.Line(), prefix) {
			return c, true
		}
	}
	return Call{}, false
}

// Fail returns an ExitError result for c, convenient inside Respond hooks.
func Fail(c shell.Cmd, code int, stderr string) (shell.Result, error) {
	return shell.Result{Code: code, Stderr: []byte(stderr)}, &shell.ExitError{Cmd: c.String(), Code: code, Stderr: stderr}
}

// Stdout returns a successful result carrying out.
func Stdout(out string) (shell.Result, error) {
	return shell.Result{Stdout: []byte(out)}, nil
}
