package execx

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// FakeResult scripts the outcome of a fake invocation.
type FakeResult struct {
	Out string
	Err error
}

// Fake is a Runner that records invocations and serves scripted results.
// Results are matched by the longest registered prefix of the command line;
// unmatched commands succeed with empty output.
type Fake struct {
	mu      sync.Mutex
	calls   []string
	results map[string]FakeResult
	missing map[string]bool
}

func NewFake() *Fake {
	return &Fake{
		results: make(map[string]FakeResult),
		missing: make(map[string]bool),
	}
}

// Script registers the result for command lines starting with prefix.
func (f *Fake) Script(prefix string, res FakeResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[prefix] = res
}

// MarkMissing makes LookPath fail for the named binary.
func (f *Fake) MarkMissing(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missing[name] = true
}

// Calls returns the recorded command lines in invocation order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CalledWith reports whether any recorded command line starts with prefix.
func (f *Fake) CalledWith(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func (f *Fake) record(c Cmd) FakeResult {
	line := c.Line()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, line)
	best := ""
	var res FakeResult
	for prefix, r := range f.results {
		if strings.HasPrefix(line, prefix) && len(prefix) > len(best) {
			best = prefix
			res = r
		}
	}
	return res
}

func (f *Fake) Run(ctx context.Context, c Cmd) error {
	return f.record(c).Err
}

func (f *Fake) Output(ctx context.Context, c Cmd) (string, error) {
	res := f.record(c)
	return res.Out, res.Err
}

func (f *Fake) LookPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[name] {
		return "", fmt.Errorf("%s: executable file not found in $PATH", name)
	}
	return "/usr/bin/" + name, nil
}
