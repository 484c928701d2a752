package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Result struct {
	Stdout []byte
	Stderr []byte
	Code   int
}

var ErrTimeout = errors.New("command timed out")

// Cmd describes one external tool invocation.
type Cmd struct {
	Name string
	Args []string
	// Env entries are appended to the inherited environment.
	Env   []string
	Stdin io.Reader
	// Interactive attaches the process to the controlling terminal instead of
	// capturing its output. Used for commands that prompt the operator.
	Interactive bool
	Timeout     time.Duration
}

// New builds a Cmd for name and args.
func New(name string, args ...string) Cmd {
	return Cmd{Name: name, Args: args}
}

// Chroot wraps name and args so they run inside root.
func Chroot(root, name string, args ...string) Cmd {
	return Cmd{Name: "chroot", Args: append([]string{root, name}, args...)}
}

func (c Cmd) WithEnv(env ...string) Cmd {
	c.Env = append(append([]string(nil), c.Env...), env...)
	return c
}

func (c Cmd) WithStdin(r io.Reader) Cmd {
	c.Stdin = r
	return c
}

func (c Cmd) WithTimeout(d time.Duration) Cmd {
	c.Timeout = d
	return c
}

func (c Cmd) Attached() Cmd {
	c.Interactive = true
	return c
}

// String renders the command line with shell quoting, for logs and plans.
func (c Cmd) String() string {
	parts := make([]string, 0, len(c.Env)+len(c.Args)+1)
	parts = append(parts, c.Env...)
	parts = append(parts, Quote(c.Name))
	for _, a := range c.Args {
		parts = append(parts, Quote(a))
	}
	return strings.Join(parts, " ")
}

// Runner executes commands. Exec is the real implementation; tests use
// shelltest.Recorder.
type Runner interface {
	Run(ctx context.Context, c Cmd) (Result, error)
}

// ExitError is returned when a command ran but did not exit zero.
type ExitError struct {
	Cmd    string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: exit status %d", e.Cmd, e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Exec runs commands on the host.
type Exec struct {
	Log zerolog.Logger
}

func (x Exec) Run(ctx context.Context, c Cmd) (Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var outBuf, errBuf bytes.Buffer
	cmd.Stdin = c.Stdin
	if c.Interactive {
		if cmd.Stdin == nil {
			cmd.Stdin = os.Stdin
		}
		cmd.Stdout = os.Stdout
		cmd.Stderr = io.MultiWriter(os.Stderr, &errBuf)
	} else {
		cmd.Stdout = &outBuf
		cmd.Stderr = &errBuf
	}

	x.Log.Debug().Str("cmd", c.String()).Msg("exec")
	start := time.Now()
	err := cmd.Run()
	res := Result{Stdout: outBuf.Bytes(), Stderr: errBuf.Bytes(), Code: exitCode(err)}
	if c.Timeout > 0 && ctx.Err() == context.DeadlineExceeded {
		return res, fmt.Errorf("%s: %w", c.String(), ErrTimeout)
	}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			xe := &ExitError{Cmd: c.String(), Code: res.Code, Stderr: trim(string(res.Stderr), 2048)}
			x.Log.Error().Str("cmd", c.String()).Int("code", res.Code).Str("stderr", xe.Stderr).Msg("command failed")
			return res, xe
		}
		return res, fmt.Errorf("%s: %w", c.String(), err)
	}
	x.Log.Debug().Str("cmd", c.Name).Dur("took", time.Since(start)).Msg("exec done")
	return res, nil
}

// Run executes name with a timeout on the host and captures its output.
func Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	return Exec{Log: zerolog.Nop()}.Run(ctx, New(name, args...).WithTimeout(timeout))
}

// Output runs c and returns its trimmed stdout.
func Output(ctx context.Context, r Runner, c Cmd) (string, error) {
	res, err := r.Run(ctx, c)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

func trim(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Quote single-quotes s when it contains anything outside a safe set.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:,+@%", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}
