// Package prompt asks the operator questions. Every question carries a
// documented default so a non-interactive run can answer all of them.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrNeedsTerminal is returned when a password is requested but no operator
// is there to type one.
var ErrNeedsTerminal = errors.New("password entry requires an interactive terminal")

// Prompter is the question-asking surface the deployment steps use.
type Prompter interface {
	// Confirm asks a yes/no question; def is the answer for a bare Enter.
	Confirm(msg string, def bool) (bool, error)
	// Choose asks a single-letter question, e.g. options "usd" for
	// update/skip/delete. def must be one of options.
	Choose(msg, options string, def byte) (byte, error)
	// Password reads a secret without echo.
	Password(msg string) (string, error)
}

// Terminal prompts on stdin/stdout.
type Terminal struct {
	in     *bufio.Reader
	out    io.Writer
	fd     int
	isTerm bool
}

// NewTerminal builds a Prompter on the process stdin/stdout.
func NewTerminal() *Terminal {
	fd := int(os.Stdin.Fd())
	return &Terminal{
		in:     bufio.NewReader(os.Stdin),
		out:    os.Stdout,
		fd:     fd,
		isTerm: term.IsTerminal(fd),
	}
}

// NewWithIO builds a Prompter over arbitrary streams. Passwords are read as
// plain lines; meant for tests.
func NewWithIO(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out, fd: -1}
}

func (t *Terminal) Confirm(msg string, def bool) (bool, error) {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	for {
		fmt.Fprintf(t.out, "%s (%s): ", msg, hint)
		line, err := t.in.ReadString('\n')
		if err != nil && line == "" {
			return false, fmt.Errorf("read confirmation: %w", err)
		}
		switch strings.TrimSpace(strings.ToLower(line)) {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(t.out, "please answer y or n")
	}
}

func (t *Terminal) Choose(msg, options string, def byte) (byte, error) {
	hints := make([]string, 0, len(options))
	for i := 0; i < len(options); i++ {
		c := options[i]
		if c == def {
			hints = append(hints, strings.ToUpper(string(c)))
		} else {
			hints = append(hints, string(c))
		}
	}
	for {
		fmt.Fprintf(t.out, "%s [%s]: ", msg, strings.Join(hints, "/"))
		line, err := t.in.ReadString('\n')
		if err != nil && line == "" {
			return 0, fmt.Errorf("read choice: %w", err)
		}
		ans := strings.TrimSpace(strings.ToLower(line))
		if ans == "" {
			return def, nil
		}
		if len(ans) == 1 && strings.IndexByte(options, ans[0]) >= 0 {
			return ans[0], nil
		}
		fmt.Fprintf(t.out, "please answer one of %s\n", strings.Join(strings.Split(options, ""), ", "))
	}
}

func (t *Terminal) Password(msg string) (string, error) {
	fmt.Fprintf(t.out, "%s: ", msg)
	if t.isTerm {
		raw, err := term.ReadPassword(t.fd)
		fmt.Fprintln(t.out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}
	line, err := t.in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// NonInteractive answers every question with its default; passwords cannot
// be defaulted and come back as ErrNeedsTerminal.
type NonInteractive struct{}

func (NonInteractive) Confirm(_ string, def bool) (bool, error)   { return def, nil }
func (NonInteractive) Choose(_, _ string, def byte) (byte, error) { return def, nil }
func (NonInteractive) Password(_ string) (string, error)          { return "", ErrNeedsTerminal }
