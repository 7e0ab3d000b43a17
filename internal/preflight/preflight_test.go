package preflight

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/khegiw/llamactl/internal/config"
	"github.com/khegiw/llamactl/internal/execx"
	"github.com/khegiw/llamactl/internal/sysinfo"
)

func testSettings() *config.Settings {
	s := &config.Settings{Backend: config.BackendVulkan, Users: []string{"alice"}}
	s.ApplyDefaults()
	// proxy and all phases are on by default
	return s
}

func goodHost() (*sysinfo.Host, error) {
	return &sysinfo.Host{
		Hostname:      "box",
		OS:            "ubuntu 24.04",
		Kernel:        "6.8.0-45-generic",
		CPUModel:      "AMD Ryzen 7 8845HS",
		PhysicalCores: 8,
		LogicalCores:  16,
		TotalRAM:      32 << 30,
		AvailableRAM:  20 << 30,
	}, nil
}

func writeFixture(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", rel, err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

// fullFixture is a healthy AMD box with a Vulkan driver registered.
func fullFixture(t *testing.T) string {
	root := t.TempDir()
	writeFixture(t, root, "etc/os-release", "PRETTY_NAME=\"Ubuntu 24.04.1 LTS\"\n")
	writeFixture(t, root, "proc/modules", "amdgpu 1234 0 - Live 0x0\n")
	writeFixture(t, root, "sys/module/amdgpu/version", "6.8.5\n")
	writeFixture(t, root, "sys/class/kfd/kfd/topology/nodes/1/properties",
		"gfx_target_version 110003\nvendor_id 4098\ndevice_id 5567\nunique_id 0\n")
	writeFixture(t, root, "sys/class/drm/card1/device/vendor", "0x1002\n")
	writeFixture(t, root, "sys/class/drm/card1/device/device", "0x15bf\n")
	writeFixture(t, root, "sys/class/drm/card1/device/mem_info_vram_total", "17179869184\n")
	writeFixture(t, root, "sys/class/drm/card1/device/mem_info_vram_used", "1073741824\n")
	writeFixture(t, root, "usr/share/vulkan/icd.d/radeon_icd.x86_64.json", "{}")
	return root
}

// dialScript answers port probes and network probes differently.
func dialScript(portBusy, netReachable bool) func(string, string, time.Duration) (net.Conn, error) {
	return func(_, addr string, _ time.Duration) (net.Conn, error) {
		isNet := strings.HasSuffix(addr, ":443")
		if (isNet && netReachable) || (!isNet && portBusy) {
			c1, c2 := net.Pipe()
			_ = c2.Close()
			return c1, nil
		}
		return nil, errors.New("connection refused")
	}
}

func newChecker(t *testing.T, cfg *config.Settings, fake *execx.Fake, root string) *Checker {
	t.Helper()
	fake.Script("ufw status", execx.FakeResult{Out: "Status: inactive\n"})
	c := New(cfg, fake, root, zerolog.New(io.Discard))
	c.collectHost = goodHost
	c.diskFree = func(string) (uint64, uint64, error) { return 200 * gib, 500 * gib, nil }
	c.dial = dialScript(false, true)
	c.userGroups = func() (string, []string, error) {
		return "alice", []string{"alice", "sudo", "render", "video"}, nil
	}
	c.euid = func() int { return 1000 }
	return c
}

const gib = 1 << 30

func row(rep *Report, name string) *Result {
	for i := range rep.Results {
		if rep.Results[i].Name == name {
			return &rep.Results[i]
		}
	}
	return nil
}

func TestCheckAllGreenVulkan(t *testing.T) {
	fake := execx.NewFake()
	fake.Script("systemctl is-system-running", execx.FakeResult{Out: "running\n"})
	rep := newChecker(t, testSettings(), fake, fullFixture(t)).Check(context.Background())

	if rep.Failed() {
		t.Fatalf("expected no failures:\n%+v", rep.Results)
	}
	for _, name := range []string{
		"operating system", "cpu", "memory", "gpu", "gpu access", "vulkan",
		"build toolchain", "systemd", "existing service", "nginx",
		"privileges", "firewall", "port", "external port", "network",
	} {
		r := row(rep, name)
		if r == nil {
			t.Fatalf("missing check %q in %+v", name, rep.Results)
		}
		if r.Level != Pass {
			t.Fatalf("check %q = %s (%s), want PASS", name, r.Level, r.Detail)
		}
	}
	if r := row(rep, "gpu"); !strings.Contains(r.Detail, "gfx1103") || !strings.Contains(r.Detail, "16.0 GiB") {
		t.Fatalf("gpu detail = %q", r.Detail)
	}
	if r := row(rep, "network"); !strings.Contains(r.Detail, "github.com") {
		t.Fatalf("network probe should cover the git host: %q", r.Detail)
	}
}

func TestCheckROCmMissingStackFails(t *testing.T) {
	cfg := testSettings()
	cfg.Backend = config.BackendROCm
	cfg.SkipRuntime = true
	fake := execx.NewFake()
	fake.Script("systemctl is-system-running", execx.FakeResult{Out: "running\n"})

	rep := newChecker(t, cfg, fake, fullFixture(t)).Check(context.Background())
	r := row(rep, "rocm")
	if r == nil || r.Level != Fail {
		t.Fatalf("rocm row = %+v, want FAIL", r)
	}
}

func TestCheckROCmInstallableDowngradesToWarn(t *testing.T) {
	cfg := testSettings()
	cfg.Backend = config.BackendROCm
	cfg.SkipRuntime = false
	fake := execx.NewFake()
	fake.Script("systemctl is-system-running", execx.FakeResult{Out: "running\n"})

	rep := newChecker(t, cfg, fake, fullFixture(t)).Check(context.Background())
	r := row(rep, "rocm")
	if r == nil || r.Level != Warn {
		t.Fatalf("rocm row = %+v, want WARN when the installer will run", r)
	}
	if !strings.Contains(r.Detail, "deploy will install") {
		t.Fatalf("detail should mention the installer: %q", r.Detail)
	}
}

func TestCheckROCmPresent(t *testing.T) {
	cfg := testSettings()
	cfg.Backend = config.BackendROCm
	cfg.GfxOverride = "11.0.2"
	root := fullFixture(t)
	writeFixture(t, root, "opt/rocm/bin/rocminfo", "#!/bin/sh\n")
	writeFixture(t, root, "opt/rocm/bin/rocm-smi", "#!/bin/sh\n")
	writeFixture(t, root, "opt/rocm/bin/hipcc", "#!/bin/sh\n")
	fake := execx.NewFake()
	fake.MarkMissing("rocminfo")
	fake.MarkMissing("rocm-smi")
	fake.MarkMissing("hipcc")
	fake.Script("systemctl is-system-running", execx.FakeResult{Out: "running\n"})

	rep := newChecker(t, cfg, fake, root).Check(context.Background())
	r := row(rep, "rocm")
	if r == nil || r.Level != Pass {
		t.Fatalf("rocm row = %+v, want PASS via /opt/rocm fallback paths", r)
	}
	if row(rep, "hip compiler") != nil {
		t.Fatalf("hipcc exists under /opt/rocm, no hip compiler row expected")
	}
}

func TestCheckAPUSuggestsOverride(t *testing.T) {
	cfg := testSettings()
	cfg.Backend = config.BackendROCm
	cfg.SkipRuntime = false
	fake := execx.NewFake()
	fake.Script("systemctl is-system-running", execx.FakeResult{Out: "running\n"})

	rep := newChecker(t, cfg, fake, fullFixture(t)).Check(context.Background())
	r := row(rep, "gfx override")
	if r == nil || r.Level != Warn {
		t.Fatalf("expected gfx override warning for gfx1103, got %+v", r)
	}
}

func TestCheckLowRAMFails(t *testing.T) {
	fake := execx.NewFake()
	fake.Script("systemctl is-system-running", execx.FakeResult{Out: "running\n"})
	c := newChecker(t, testSettings(), fake, fullFixture(t))
	c.collectHost = func() (*sysinfo.Host, error) {
		h, _ := goodHost()
		h.TotalRAM = 4 << 30
		return h, nil
	}
	rep := c.Check(context.Background())
	if r := row(rep, "memory"); r == nil || r.Level != Fail {
		t.Fatalf("memory row = %+v, want FAIL at 4 GiB", r)
	}
	if !rep.Failed() {
		t.Fatalf("report must fail overall")
	}
}

func TestCheckMissingBuildTools(t *testing.T) {
	fake := execx.NewFake()
	fake.MarkMissing("cmake")
	fake.MarkMissing("g++")
	fake.Script("systemctl is-system-running", execx.FakeResult{Out: "running\n"})

	rep := newChecker(t, testSettings(), fake, fullFixture(t)).Check(context.Background())
	r := row(rep, "build toolchain")
	if r == nil || r.Level != Fail {
		t.Fatalf("toolchain row = %+v", r)
	}
	if !strings.Contains(r.Detail, "cmake") || !strings.Contains(r.Detail, "g++") {
		t.Fatalf("detail should list missing tools: %q", r.Detail)
	}
}

func TestCheckBuildDisabledSkipsTools(t *testing.T) {
	cfg := testSettings()
	cfg.SkipBuild = true
	fake := execx.NewFake()
	fake.MarkMissing("cmake")
	fake.Script("systemctl is-system-running", execx.FakeResult{Out: "running\n"})

	rep := newChecker(t, cfg, fake, fullFixture(t)).Check(context.Background())
	if r := row(rep, "build toolchain"); r == nil || r.Level != Pass {
		t.Fatalf("toolchain row = %+v, want PASS when build disabled", r)
	}
}

func TestCheckPortHeldByService(t *testing.T) {
	fake := execx.NewFake()
	fake.Script("systemctl is-system-running", execx.FakeResult{Out: "running\n"})
	fake.Script("systemctl is-active", execx.FakeResult{Out: "active\n"})
	c := newChecker(t, testSettings(), fake, fullFixture(t))
	c.dial = dialScript(true, true)

	rep := c.Check(context.Background())
	r := row(rep, "port")
	if r == nil || r.Level != Pass || !strings.Contains(r.Detail, "llama-server.service") {
		t.Fatalf("port row = %+v", r)
	}
	if r := row(rep, "external port"); r == nil || r.Level != Pass || !strings.Contains(r.Detail, "nginx.service") {
		t.Fatalf("external port row = %+v", r)
	}
}

func TestCheckPortBusyForeign(t *testing.T) {
	fake := execx.NewFake()
	fake.Script("systemctl is-system-running", execx.FakeResult{Out: "running\n"})
	fake.Script("systemctl is-active", execx.FakeResult{Out: "inactive\n", Err: errors.New("exit status 3")})
	c := newChecker(t, testSettings(), fake, fullFixture(t))
	c.dial = dialScript(true, true)

	rep := c.Check(context.Background())
	if r := row(rep, "port"); r == nil || r.Level != Warn {
		t.Fatalf("port row = %+v, want WARN", r)
	}
	if r := row(rep, "external port"); r == nil || r.Level != Warn {
		t.Fatalf("external port row = %+v, want WARN", r)
	}
}

func TestCheckExternalPortSkippedWithoutProxy(t *testing.T) {
	cfg := testSettings()
	cfg.DisableProxy = true
	fake := execx.NewFake()
	fake.Script("systemctl is-system-running", execx.FakeResult{Out: "running\n"})

	rep := newChecker(t, cfg, fake, fullFixture(t)).Check(context.Background())
	if row(rep, "external port") != nil {
		t.Fatal("external port must not be probed when the proxy is disabled")
	}
}

func TestCheckNetworkUnreachableWarns(t *testing.T) {
	fake := execx.NewFake()
	fake.Script("systemctl is-system-running", execx.FakeResult{Out: "running\n"})
	c := newChecker(t, testSettings(), fake, fullFixture(t))
	c.dial = dialScript(false, false)

	rep := c.Check(context.Background())
	if r := row(rep, "network"); r == nil || r.Level != Warn {
		t.Fatalf("network row = %+v, want WARN", r)
	}
}

func TestCheckDownloadsDisabledSkipNetwork(t *testing.T) {
	cfg := testSettings()
	cfg.SkipModel = true
	cfg.SkipBuild = true
	fake := execx.NewFake()
	fake.Script("systemctl is-system-running", execx.FakeResult{Out: "running\n"})
	c := newChecker(t, cfg, fake, fullFixture(t))
	c.dial = dialScript(false, false)

	rep := c.Check(context.Background())
	if r := row(rep, "network"); r == nil || r.Level != Pass {
		t.Fatalf("network row = %+v, want PASS when all downloads disabled", r)
	}
}

func TestCheckNetworkStillProbesGitHost(t *testing.T) {
	cfg := testSettings()
	cfg.SkipModel = true
	fake := execx.NewFake()
	fake.Script("systemctl is-system-running", execx.FakeResult{Out: "running\n"})

	rep := newChecker(t, cfg, fake, fullFixture(t)).Check(context.Background())
	r := row(rep, "network")
	if r == nil || r.Level != Pass {
		t.Fatalf("network row = %+v", r)
	}
	if strings.Contains(r.Detail, "huggingface") || !strings.Contains(r.Detail, "github.com") {
		t.Fatalf("only the git host should be probed: %q", r.Detail)
	}
}

func TestCheckGroupsMissingWarns(t *testing.T) {
	fake := execx.NewFake()
	fake.Script("systemctl is-system-running", execx.FakeResult{Out: "running\n"})
	c := newChecker(t, testSettings(), fake, fullFixture(t))
	c.userGroups = func() (string, []string, error) {
		return "alice", []string{"alice", "sudo"}, nil
	}

	rep := c.Check(context.Background())
	r := row(rep, "gpu access")
	if r == nil || r.Level != Warn {
		t.Fatalf("gpu access row = %+v, want WARN", r)
	}
	if !strings.Contains(r.Detail, "render") || !strings.Contains(r.Detail, "log out") {
		t.Fatalf("detail should name the groups and the re-login: %q", r.Detail)
	}
}

func TestCheckGroupsRootBypasses(t *testing.T) {
	fake := execx.NewFake()
	fake.Script("systemctl is-system-running", execx.FakeResult{Out: "running\n"})
	c := newChecker(t, testSettings(), fake, fullFixture(t))
	c.userGroups = func() (string, []string, error) {
		return "root", []string{"root"}, nil
	}

	rep := c.Check(context.Background())
	if r := row(rep, "gpu access"); r == nil || r.Level != Pass {
		t.Fatalf("gpu access row = %+v, want PASS for root", r)
	}
}

func TestCheckPrivilegesNoSudoFails(t *testing.T) {
	fake := execx.NewFake()
	fake.MarkMissing("sudo")
	fake.Script("systemctl is-system-running", execx.FakeResult{Out: "running\n"})

	rep := newChecker(t, testSettings(), fake, fullFixture(t)).Check(context.Background())
	if r := row(rep, "privileges"); r == nil || r.Level != Fail {
		t.Fatalf("privileges row = %+v, want FAIL without root or sudo", r)
	}
}

func TestCheckPrivilegesRoot(t *testing.T) {
	fake := execx.NewFake()
	fake.MarkMissing("sudo")
	fake.Script("systemctl is-system-running", execx.FakeResult{Out: "running\n"})
	c := newChecker(t, testSettings(), fake, fullFixture(t))
	c.euid = func() int { return 0 }

	rep := c.Check(context.Background())
	r := row(rep, "privileges")
	if r == nil || r.Level != Pass || !strings.Contains(r.Detail, "root") {
		t.Fatalf("privileges row = %+v", r)
	}
}

func TestCheckFirewallActiveWithoutRuleWarns(t *testing.T) {
	fake := execx.NewFake()
	fake.Script("systemctl is-system-running", execx.FakeResult{Out: "running\n"})
	c := newChecker(t, testSettings(), fake, fullFixture(t))
	fake.Script("ufw status", execx.FakeResult{
		Out: "Status: active\n\nTo     Action  From\n--     ------  ----\n22/tcp ALLOW   Anywhere\n",
	})

	rep := c.Check(context.Background())
	r := row(rep, "firewall")
	if r == nil || r.Level != Warn {
		t.Fatalf("firewall row = %+v, want WARN", r)
	}
	if !strings.Contains(r.Detail, "8443") {
		t.Fatalf("detail should name the external port: %q", r.Detail)
	}
}

func TestCheckFirewallActiveWithRule(t *testing.T) {
	fake := execx.NewFake()
	fake.Script("systemctl is-system-running", execx.FakeResult{Out: "running\n"})
	c := newChecker(t, testSettings(), fake, fullFixture(t))
	fake.Script("ufw status", execx.FakeResult{
		Out: "Status: active\n\n8443/tcp ALLOW Anywhere\n",
	})

	rep := c.Check(context.Background())
	if r := row(rep, "firewall"); r == nil || r.Level != Pass {
		t.Fatalf("firewall row = %+v, want PASS with the rule present", r)
	}
}

func TestCheckFirewallFirewalldRunningWarns(t *testing.T) {
	fake := execx.NewFake()
	fake.MarkMissing("ufw")
	fake.Script("systemctl is-system-running", execx.FakeResult{Out: "running\n"})
	fake.Script("firewall-cmd --state", execx.FakeResult{Out: "running\n"})

	rep := newChecker(t, testSettings(), fake, fullFixture(t)).Check(context.Background())
	if r := row(rep, "firewall"); r == nil || r.Level != Warn {
		t.Fatalf("firewall row = %+v, want WARN while firewalld runs", r)
	}
}

func TestCheckFirewallNoneDetected(t *testing.T) {
	fake := execx.NewFake()
	fake.MarkMissing("ufw")
	fake.MarkMissing("firewall-cmd")
	fake.Script("systemctl is-system-running", execx.FakeResult{Out: "running\n"})

	rep := newChecker(t, testSettings(), fake, fullFixture(t)).Check(context.Background())
	r := row(rep, "firewall")
	if r == nil || r.Level != Pass || !strings.Contains(r.Detail, "no firewall") {
		t.Fatalf("firewall row = %+v", r)
	}
}

func TestCheckExistingServiceReported(t *testing.T) {
	root := fullFixture(t)
	writeFixture(t, root, "etc/systemd/system/llama-server.service", "[Unit]\n")
	fake := execx.NewFake()
	fake.Script("systemctl is-system-running", execx.FakeResult{Out: "running\n"})
	fake.Script("systemctl is-active", execx.FakeResult{Out: "active\n"})

	rep := newChecker(t, testSettings(), fake, root).Check(context.Background())
	r := row(rep, "existing service")
	if r == nil || r.Level != Pass {
		t.Fatalf("existing service row = %+v", r)
	}
	if !strings.Contains(r.Detail, "active") {
		t.Fatalf("detail should carry the unit state: %q", r.Detail)
	}
}

func TestCheckBackendUnset(t *testing.T) {
	cfg := testSettings()
	cfg.Backend = ""
	fake := execx.NewFake()
	fake.Script("systemctl is-system-running", execx.FakeResult{Out: "running\n"})

	rep := newChecker(t, cfg, fake, fullFixture(t)).Check(context.Background())
	if r := row(rep, "backend"); r == nil || r.Level != Warn {
		t.Fatalf("backend row = %+v", r)
	}
	if row(rep, "rocm") != nil || row(rep, "vulkan") != nil {
		t.Fatalf("backend-specific checks must not run when unset")
	}
}

func TestCheckNoGPU(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "etc/os-release", "PRETTY_NAME=\"Ubuntu 24.04.1 LTS\"\n")
	fake := execx.NewFake()
	fake.Script("systemctl is-system-running", execx.FakeResult{Out: "running\n"})

	rep := newChecker(t, testSettings(), fake, root).Check(context.Background())
	if r := row(rep, "gpu"); r == nil || r.Level != Fail {
		t.Fatalf("gpu row = %+v, want FAIL without amdgpu", r)
	}
}

func TestRender(t *testing.T) {
	fake := execx.NewFake()
	fake.Script("systemctl is-system-running", execx.FakeResult{Out: "running\n"})
	rep := newChecker(t, testSettings(), fake, fullFixture(t)).Check(context.Background())

	var buf bytes.Buffer
	rep.Render(&buf)
	out := buf.String()
	if !strings.Contains(out, "STATUS") || !strings.Contains(out, "CHECK") {
		t.Fatalf("missing header:\n%s", out)
	}
	if !strings.Contains(out, "passed") || !strings.Contains(out, "failed") {
		t.Fatalf("missing summary:\n%s", out)
	}
}
