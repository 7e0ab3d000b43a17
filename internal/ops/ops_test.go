package ops

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/khegiw/llamactl/internal/config"
	"github.com/khegiw/llamactl/internal/execx"
	"github.com/khegiw/llamactl/internal/install"
	"github.com/khegiw/llamactl/internal/llamatest"
	"github.com/khegiw/llamactl/internal/prompt"
)

// fakeCtl records controller calls and answers from canned state.
type fakeCtl struct {
	calls   []string
	active  map[string]string
	enabled map[string]bool
	logs    string
	failOn  map[string]error
}

func newFakeCtl() *fakeCtl {
	return &fakeCtl{
		active:  make(map[string]string),
		enabled: make(map[string]bool),
		failOn:  make(map[string]error),
	}
}

func (f *fakeCtl) call(name string) error {
	f.calls = append(f.calls, name)
	return f.failOn[name]
}

func (f *fakeCtl) DaemonReload(ctx context.Context) error { return f.call("daemon-reload") }
func (f *fakeCtl) Enable(ctx context.Context, u string) error {
	return f.call("enable " + u)
}
func (f *fakeCtl) Disable(ctx context.Context, u string) error {
	return f.call("disable " + u)
}
func (f *fakeCtl) Start(ctx context.Context, u string) error { return f.call("start " + u) }
func (f *fakeCtl) Stop(ctx context.Context, u string) error  { return f.call("stop " + u) }
func (f *fakeCtl) Restart(ctx context.Context, u string) error {
	return f.call("restart " + u)
}
func (f *fakeCtl) Reload(ctx context.Context, u string) error {
	return f.call("reload " + u)
}
func (f *fakeCtl) IsActive(ctx context.Context, u string) (string, error) {
	f.calls = append(f.calls, "is-active "+u)
	if s, ok := f.active[u]; ok {
		return s, nil
	}
	return "inactive", nil
}
func (f *fakeCtl) IsEnabled(ctx context.Context, u string) (bool, error) {
	f.calls = append(f.calls, "is-enabled "+u)
	return f.enabled[u], nil
}
func (f *fakeCtl) Status(ctx context.Context, u string) (string, error) {
	return "status of " + u, f.call("status " + u)
}
func (f *fakeCtl) Logs(ctx context.Context, u string, n int) (string, error) {
	return f.logs, f.call(fmt.Sprintf("logs %s %d", u, n))
}
func (f *fakeCtl) FollowLogs(ctx context.Context, u string) error {
	return f.call("follow " + u)
}

func (f *fakeCtl) called(name string) bool {
	for _, c := range f.calls {
		if c == name {
			return true
		}
	}
	return false
}

func opsSettings(t *testing.T) *config.Settings {
	t.Helper()
	s := &config.Settings{Backend: config.BackendVulkan, Users: []string{"alice"}}
	s.ApplyDefaults()
	base := t.TempDir()
	s.ModelsDir = filepath.Join(base, "models")
	s.InstallDir = filepath.Join(base, "llama.cpp")
	s.SystemdDir = filepath.Join(base, "systemd")
	s.NginxDir = filepath.Join(base, "nginx")
	s.NginxLogDir = filepath.Join(base, "nginx-log")
	s.HtpasswdPath = filepath.Join(base, "htpasswd")
	s.LogFile = filepath.Join(base, "deploy.log")
	s.BackupDir = filepath.Join(base, "backups")
	return s
}

// pointAt aims the backend address at a stand-in server.
func pointAt(t *testing.T, s *config.Settings, srv *llamatest.Server) {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	s.Host, s.Port = host, port
}

func newOps(t *testing.T, s *config.Settings, p prompt.Prompter) (*Ops, *fakeCtl, *execx.Fake, *bytes.Buffer) {
	t.Helper()
	ctl := newFakeCtl()
	fake := execx.NewFake()
	var buf bytes.Buffer
	dl := &install.Downloader{HTTP: &http.Client{}, Log: zerolog.New(io.Discard)}
	o := New(s, fake, ctl, p, dl, zerolog.New(io.Discard))
	o.Out = &buf
	o.RestartDelay = 0
	o.ProbeTimeout = 2 * time.Second
	return o, ctl, fake, &buf
}

func TestStartOrder(t *testing.T) {
	s := opsSettings(t)
	o, ctl, _, _ := newOps(t, s, prompt.NonInteractive{})

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := []string{"start llama-server", "start nginx"}
	if len(ctl.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", ctl.calls, want)
	}
	for i := range want {
		if ctl.calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", ctl.calls, want)
		}
	}
}

func TestStopReversesOrder(t *testing.T) {
	s := opsSettings(t)
	o, ctl, _, _ := newOps(t, s, prompt.NonInteractive{})

	if err := o.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(ctl.calls) != 2 || ctl.calls[0] != "stop nginx" || ctl.calls[1] != "stop llama-server" {
		t.Fatalf("calls = %v", ctl.calls)
	}
}

func TestStartProxyDisabled(t *testing.T) {
	s := opsSettings(t)
	s.DisableProxy = true
	o, ctl, _, _ := newOps(t, s, prompt.NonInteractive{})

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(ctl.calls) != 1 || ctl.calls[0] != "start llama-server" {
		t.Fatalf("calls = %v", ctl.calls)
	}
}

func TestRestartBouncesAndReportsStatus(t *testing.T) {
	srv := llamatest.New()
	defer srv.Close()
	s := opsSettings(t)
	pointAt(t, s, srv)
	o, ctl, _, buf := newOps(t, s, prompt.NonInteractive{})
	ctl.active["llama-server"] = "active"
	ctl.active["nginx"] = "active"

	if err := o.Restart(context.Background()); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if !ctl.called("restart llama-server") || !ctl.called("restart nginx") {
		t.Fatalf("calls = %v", ctl.calls)
	}
	out := buf.String()
	for _, want := range []string{"restarted llama-server", "SERVICE", "active"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestStartFailureNamesUnit(t *testing.T) {
	s := opsSettings(t)
	o, ctl, _, _ := newOps(t, s, prompt.NonInteractive{})
	ctl.failOn["start nginx"] = fmt.Errorf("unit not found")

	err := o.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "start nginx") {
		t.Fatalf("err = %v, want start nginx failure", err)
	}
}
