package ops

import (
	"context"
	"strings"
	"testing"

	"github.com/khegiw/llamactl/internal/llamatest"
	"github.com/khegiw/llamactl/internal/prompt"
)

func TestTestAllProbesPass(t *testing.T) {
	srv := llamatest.New(llamatest.ChatReply("ready"))
	defer srv.Close()
	s := opsSettings(t)
	s.DisableProxy = true
	pointAt(t, s, srv)
	o, _, _, buf := newOps(t, s, prompt.NonInteractive{})

	if err := o.Test(context.Background()); err != nil {
		t.Fatalf("Test: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"backend /health", "chat completion", "all 2 probes passed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "FAIL") {
		t.Errorf("unexpected failure in output:\n%s", out)
	}
}

func TestTestLoadingServerFails(t *testing.T) {
	srv := llamatest.New(llamatest.Loading())
	defer srv.Close()
	s := opsSettings(t)
	s.DisableProxy = true
	pointAt(t, s, srv)
	o, _, _, buf := newOps(t, s, prompt.NonInteractive{})

	err := o.Test(context.Background())
	if err == nil {
		t.Fatal("loading server must fail the probe run")
	}
	if !strings.Contains(buf.String(), "loading") {
		t.Errorf("output should name the loading state:\n%s", buf.String())
	}
}

func TestTestServerDown(t *testing.T) {
	srv := llamatest.New()
	srv.Close()
	s := opsSettings(t)
	s.DisableProxy = true
	pointAt(t, s, srv)
	o, _, _, buf := newOps(t, s, prompt.NonInteractive{})

	err := o.Test(context.Background())
	if err == nil || !strings.Contains(err.Error(), "2 of 2 probes failed") {
		t.Fatalf("err = %v, want both probes failed", err)
	}
	if !strings.Contains(buf.String(), "FAIL") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestTestProxyProbeSkippedWithoutTerminal(t *testing.T) {
	srv := llamatest.New(llamatest.ChatReply("ready"))
	defer srv.Close()
	s := opsSettings(t)
	pointAt(t, s, srv)
	o, _, _, buf := newOps(t, s, prompt.NonInteractive{})

	if err := o.Test(context.Background()); err != nil {
		t.Fatalf("Test: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "skipping proxy probe") {
		t.Errorf("output missing the skip notice:\n%s", out)
	}
	if strings.Contains(out, "proxy /health") {
		t.Errorf("proxy probe ran without credentials:\n%s", out)
	}
}

func TestProxyCredentials(t *testing.T) {
	s := opsSettings(t)
	p := &prompt.Script{Passwords: []string{"hunter2"}}
	o, _, _, _ := newOps(t, s, p)

	user, pass, err := o.proxyCredentials()
	if err != nil {
		t.Fatalf("proxyCredentials: %v", err)
	}
	if user != "alice" || pass != "hunter2" {
		t.Errorf("got %q/%q", user, pass)
	}
	if len(p.Asked) != 1 || !strings.Contains(p.Asked[0], "alice") {
		t.Errorf("prompt should name the user: %v", p.Asked)
	}
}

func TestProxyCredentialsNoUsers(t *testing.T) {
	s := opsSettings(t)
	s.Users = nil
	o, _, _, _ := newOps(t, s, prompt.NonInteractive{})

	if _, _, err := o.proxyCredentials(); err == nil {
		t.Fatal("expected error with no configured users")
	}
}
