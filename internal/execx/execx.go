// Package execx wraps external command execution behind a small interface so
// the deployment and operations flows can be exercised in tests against fakes.
package execx

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Cmd describes a single external command invocation.
type Cmd struct {
	Path   string
	Args   []string
	Env    map[string]string // additional env vars
	Dir    string            // working directory
	Stream bool              // if true, stream stdout/err line by line to Out
}

// Line renders the invocation for logs and fake matching.
func (c Cmd) Line() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// Runner executes external commands.
type Runner interface {
	// Run executes the command, wiring its output to the runner's sink.
	Run(ctx context.Context, c Cmd) error
	// Output executes the command and returns its stdout. Stderr is folded
	// into the returned error on failure.
	Output(ctx context.Context, c Cmd) (string, error)
	// LookPath reports where a binary resolves to, if anywhere.
	LookPath(name string) (string, error)
}

// ExecRunner runs commands on the host. Out receives command output; it
// defaults to os.Stdout.
type ExecRunner struct {
	Out io.Writer
}

func (r *ExecRunner) out() io.Writer {
	if r.Out != nil {
		return r.Out
	}
	return os.Stdout
}

func (r *ExecRunner) Run(ctx context.Context, c Cmd) error {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	cmd.Env = os.Environ()
	for k, v := range c.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if c.Stream {
		stdout, _ := cmd.StdoutPipe()
		stderr, _ := cmd.StderrPipe()
		if err := cmd.Start(); err != nil {
			return err
		}
		go r.stream(stdout)
		go r.stream(stderr)
		return cmd.Wait()
	}
	cmd.Stdout = r.out()
	cmd.Stderr = r.out()
	return cmd.Run()
}

func (r *ExecRunner) Output(ctx context.Context, c Cmd) (string, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	cmd.Env = os.Environ()
	for k, v := range c.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return string(out), fmt.Errorf("%s: %w: %s", c.Path, err, msg)
		}
		return string(out), fmt.Errorf("%s: %w", c.Path, err)
	}
	return string(out), nil
}

func (r *ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func (r *ExecRunner) stream(rd io.Reader) {
	s := bufio.NewScanner(rd)
	s.Buffer(make([]byte, 64*1024), 1024*1024)
	for s.Scan() {
		fmt.Fprintln(r.out(), s.Text())
	}
}

// Sudo prefixes c with sudo when the process is not root and sudo is
// available; otherwise it returns c unchanged.
func Sudo(r Runner, c Cmd) Cmd {
	if os.Geteuid() == 0 {
		return c
	}
	if _, err := r.LookPath("sudo"); err != nil {
		return c
	}
	return Cmd{
		Path:   "sudo",
		Args:   append([]string{c.Path}, c.Args...),
		Env:    c.Env,
		Dir:    c.Dir,
		Stream: c.Stream,
	}
}

// Command is shorthand for building a Cmd from a path and arguments.
func Command(path string, args ...string) Cmd {
	return Cmd{Path: path, Args: args}
}
