package execx

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestCmdLine(t *testing.T) {
	c := Command("systemctl", "is-active", "llama-server")
	if got := c.Line(); got != "systemctl is-active llama-server" {
		t.Fatalf("unexpected line: %q", got)
	}
}

func TestExecRunnerOutput(t *testing.T) {
	r := &ExecRunner{}
	out, err := r.Output(context.Background(), Command("sh", "-c", "echo hello"))
	if err != nil {
		t.Fatalf("output: %v", err)
	}
	if strings.TrimSpace(out) != "hello" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestExecRunnerOutputFailureIncludesStderr(t *testing.T) {
	r := &ExecRunner{}
	_, err := r.Output(context.Background(), Command("sh", "-c", "echo boom >&2; exit 3"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("stderr not folded into error: %v", err)
	}
}

func TestExecRunnerRunWritesToSink(t *testing.T) {
	var sb strings.Builder
	r := &ExecRunner{Out: &sb}
	if err := r.Run(context.Background(), Command("sh", "-c", "echo streamed")); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(sb.String(), "streamed") {
		t.Fatalf("sink missing output: %q", sb.String())
	}
}

func TestSudoNoopWhenRoot(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("only meaningful as root")
	}
	f := NewFake()
	c := Sudo(f, Command("systemctl", "restart", "nginx"))
	if c.Path != "systemctl" {
		t.Fatalf("expected direct invocation as root, got %q", c.Path)
	}
}

func TestSudoPrefixesWhenUnprivileged(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root")
	}
	f := NewFake() // fake resolves every binary, including sudo
	c := Sudo(f, Command("systemctl", "restart", "nginx"))
	if c.Path != "sudo" || len(c.Args) != 3 || c.Args[0] != "systemctl" {
		t.Fatalf("unexpected sudo wrapping: %+v", c)
	}
}

func TestSudoFallsBackWithoutSudoBinary(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root")
	}
	f := NewFake()
	f.MarkMissing("sudo")
	c := Sudo(f, Command("systemctl", "stop", "nginx"))
	if c.Path != "systemctl" {
		t.Fatalf("expected direct invocation without sudo, got %q", c.Path)
	}
}

func TestFakeScriptedResults(t *testing.T) {
	f := NewFake()
	wantErr := errors.New("unit not found")
	f.Script("systemctl is-active", FakeResult{Out: "inactive\n", Err: wantErr})
	f.Script("systemctl is-active llama-server", FakeResult{Out: "active\n"})

	out, err := f.Output(context.Background(), Command("systemctl", "is-active", "llama-server"))
	if err != nil || strings.TrimSpace(out) != "active" {
		t.Fatalf("longest-prefix match failed: out=%q err=%v", out, err)
	}
	out, err = f.Output(context.Background(), Command("systemctl", "is-active", "nginx"))
	if !errors.Is(err, wantErr) || strings.TrimSpace(out) != "inactive" {
		t.Fatalf("fallback match failed: out=%q err=%v", out, err)
	}
	if !f.CalledWith("systemctl is-active nginx") {
		t.Fatal("call not recorded")
	}
	if n := len(f.Calls()); n != 2 {
		t.Fatalf("expected 2 calls, got %d", n)
	}
}

func TestFakeLookPath(t *testing.T) {
	f := NewFake()
	f.MarkMissing("rocm-smi")
	if _, err := f.LookPath("rocm-smi"); err == nil {
		t.Fatal("expected missing binary error")
	}
	p, err := f.LookPath("git")
	if err != nil || p != "/usr/bin/git" {
		t.Fatalf("unexpected lookpath result: %q %v", p, err)
	}
}
