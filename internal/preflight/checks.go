package preflight

import (
	"context"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/khegiw/llamactl/internal/config"
	"github.com/khegiw/llamactl/internal/execx"
	"github.com/khegiw/llamactl/internal/format"
	"github.com/khegiw/llamactl/internal/fsutil"
	"github.com/khegiw/llamactl/internal/sysinfo"
)

const (
	minRAM         = 8 << 30
	recommendedRAM = 16 << 30

	minDiskFree         = 20 * format.GigaByte
	recommendedDiskFree = 60 * format.GigaByte

	portDialTimeout    = 300 * time.Millisecond
	networkDialTimeout = 3 * time.Second
)

// apuGfxVersions are iGPU architectures ROCm only accepts with an
// HSA_OVERRIDE_GFX_VERSION nudge.
var apuGfxVersions = []string{"gfx1103", "gfx1102", "gfx1036", "gfx1035", "gfx1033", "gfx90c"}

// buildTools must be present for the cmake build of llama.cpp.
var buildTools = []string{"git", "cmake", "make", "gcc", "g++"}

// gpuGroups gate unprivileged access to /dev/kfd and the DRM render nodes.
var gpuGroups = []string{"render", "video"}

// Checker walks every environment probe. Root prefixes sysfs/procfs reads
// so tests can run against a fixture tree; the func fields are stub points.
type Checker struct {
	Cfg  *config.Settings
	Run  execx.Runner
	Root string
	Log  zerolog.Logger

	collectHost func() (*sysinfo.Host, error)
	diskFree    func(string) (free, total uint64, err error)
	dial        func(network, addr string, timeout time.Duration) (net.Conn, error)
	userGroups  func() (user string, groups []string, err error)
	euid        func() int
}

// New builds a Checker against the live system.
func New(cfg *config.Settings, r execx.Runner, root string, log zerolog.Logger) *Checker {
	return &Checker{
		Cfg:         cfg,
		Run:         r,
		Root:        root,
		Log:         log,
		collectHost: sysinfo.CollectHost,
		diskFree:    sysinfo.DiskFree,
		dial:        net.DialTimeout,
		userGroups:  sysinfo.UserGroups,
		euid:        os.Geteuid,
	}
}

// Check runs every probe and returns the report. It never returns an error;
// trouble shows up as WARN or FAIL rows.
func (c *Checker) Check(ctx context.Context) *Report {
	rep := &Report{}

	host, err := c.collectHost()
	if err != nil {
		rep.add("host facts", Warn, "could not collect host info: %v", err)
		host = &sysinfo.Host{}
	}

	c.checkOS(rep, host)
	c.checkCPU(rep, host)
	c.checkRAM(rep, host)
	c.checkDisk(rep, "disk space (models)", c.Cfg.ModelsDir)
	c.checkDisk(rep, "disk space (build)", c.Cfg.InstallDir)
	c.checkGPU(rep)
	c.checkGroups(rep)
	switch c.Cfg.Backend {
	case config.BackendROCm:
		c.checkROCm(rep)
	case config.BackendVulkan:
		c.checkVulkan(rep)
	default:
		rep.add("backend", Warn, "backend not set; set it to rocm or vulkan before deploying")
	}
	c.checkBuildTools(rep)
	c.checkSystemd(ctx, rep)
	c.checkService(ctx, rep)
	if !c.Cfg.DisableProxy {
		c.checkNginx(rep)
	}
	c.checkPrivileges(ctx, rep)
	c.checkFirewall(ctx, rep)
	c.checkPort(ctx, rep, "port", c.Cfg.Port, c.Cfg.ServiceName)
	if !c.Cfg.DisableProxy {
		c.checkPort(ctx, rep, "external port", c.Cfg.ExternalPort, "nginx")
	}
	c.checkNetwork(rep)

	c.Log.Info().
		Int("passed", rep.count(Pass)).
		Int("warnings", rep.count(Warn)).
		Int("failed", rep.count(Fail)).
		Msg("preflight finished")
	return rep
}

func (c *Checker) checkOS(rep *Report, host *sysinfo.Host) {
	pretty := sysinfo.OSPrettyName(c.Root)
	if pretty == "" {
		rep.add("operating system", Warn, "no /etc/os-release; kernel %s", host.Kernel)
		return
	}
	rep.add("operating system", Pass, "%s, kernel %s", pretty, host.Kernel)
}

func (c *Checker) checkCPU(rep *Report, host *sysinfo.Host) {
	switch {
	case host.LogicalCores == 0:
		rep.add("cpu", Warn, "could not determine core count")
	case c.Cfg.Threads > host.LogicalCores:
		rep.add("cpu", Warn, "threads=%d exceeds %d logical cores (%s)",
			c.Cfg.Threads, host.LogicalCores, host.CPUModel)
	case host.PhysicalCores > 0 && host.PhysicalCores < 4:
		rep.add("cpu", Warn, "only %d physical cores (%s); generation will be slow",
			host.PhysicalCores, host.CPUModel)
	default:
		rep.add("cpu", Pass, "%s, %d cores / %d threads",
			host.CPUModel, host.PhysicalCores, host.LogicalCores)
	}
}

func (c *Checker) checkRAM(rep *Report, host *sysinfo.Host) {
	switch {
	case host.TotalRAM == 0:
		rep.add("memory", Warn, "could not determine total RAM")
	case host.TotalRAM < minRAM:
		rep.add("memory", Fail, "%s total; %s is the floor for a quantized 7B model",
			format.HumanBytes2(host.TotalRAM), format.HumanBytes2(minRAM))
	case host.TotalRAM < recommendedRAM:
		rep.add("memory", Warn, "%s total; %s recommended",
			format.HumanBytes2(host.TotalRAM), format.HumanBytes2(recommendedRAM))
	default:
		rep.add("memory", Pass, "%s total, %s available",
			format.HumanBytes2(host.TotalRAM), format.HumanBytes2(host.AvailableRAM))
	}
}

func (c *Checker) checkDisk(rep *Report, name, dir string) {
	expanded, err := fsutil.ExpandHome(dir)
	if err != nil {
		rep.add(name, Warn, "cannot resolve %s: %v", dir, err)
		return
	}
	probe := nearestExisting(expanded)
	free, _, err := c.diskFree(probe)
	if err != nil {
		rep.add(name, Warn, "statfs %s: %v", probe, err)
		return
	}
	switch {
	case free < minDiskFree:
		rep.add(name, Fail, "%s free at %s; builds and models need at least %s",
			format.HumanBytes(int64(free)), probe, format.HumanBytes(minDiskFree))
	case free < recommendedDiskFree:
		rep.add(name, Warn, "%s free at %s; %s recommended",
			format.HumanBytes(int64(free)), probe, format.HumanBytes(recommendedDiskFree))
	default:
		rep.add(name, Pass, "%s free at %s", format.HumanBytes(int64(free)), probe)
	}
}

func (c *Checker) checkGPU(rep *Report) {
	if !sysinfo.AMDDetected(c.Root) {
		rep.add("gpu", Fail, "amdgpu driver not present under /sys/module")
		return
	}
	driver, err := sysinfo.AMDDriverVersion(c.Root)
	if err != nil {
		driver = "unknown"
	}

	gpus, err := sysinfo.AMDGPUs(c.Root)
	if err != nil {
		rep.add("gpu", Warn, "amdgpu loaded (driver %s) but kfd topology unreadable: %v", driver, err)
		return
	}
	if len(gpus) == 0 {
		rep.add("gpu", Fail, "amdgpu loaded (driver %s) but no GPU nodes in kfd topology", driver)
		return
	}

	var names []string
	for _, g := range gpus {
		if g.VRAMTotal > 0 {
			names = append(names, g.GfxVersion+" ("+format.HumanBytes2(g.VRAMTotal)+" VRAM)")
		} else {
			names = append(names, g.GfxVersion)
		}
	}
	rep.add("gpu", Pass, "driver %s: %s", driver, strings.Join(names, ", "))

	if loaded, err := sysinfo.ModuleLoaded(c.Root, "amdgpu"); err == nil && !loaded {
		rep.add("kernel module", Pass, "amdgpu built into the kernel")
	} else {
		rep.add("kernel module", Pass, "amdgpu loaded")
	}

	if c.Cfg.Backend == config.BackendROCm && c.Cfg.GfxOverride == "" {
		for _, g := range gpus {
			for _, apu := range apuGfxVersions {
				if g.GfxVersion == apu {
					rep.add("gfx override", Warn,
						"%s is an APU; ROCm usually needs gfx_override (HSA_OVERRIDE_GFX_VERSION) set", g.GfxVersion)
					return
				}
			}
		}
	}
}

func (c *Checker) checkGroups(rep *Report) {
	name, groups, err := c.userGroups()
	if err != nil {
		rep.add("gpu access", Warn, "could not resolve group membership: %v", err)
		return
	}
	if name == "root" {
		rep.add("gpu access", Pass, "running as root")
		return
	}
	var missing []string
	for _, want := range gpuGroups {
		found := false
		for _, g := range groups {
			if g == want {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, want)
		}
	}
	if len(missing) == 0 {
		rep.add("gpu access", Pass, "%s in %s", name, strings.Join(gpuGroups, ", "))
		return
	}
	if !c.Cfg.SkipRuntime {
		rep.add("gpu access", Warn, "%s not in %s (deploy adds the groups; log out and back in after)",
			name, strings.Join(missing, ", "))
		return
	}
	rep.add("gpu access", Warn, "%s not in %s; fix with: sudo usermod -aG render,video %s",
		name, strings.Join(missing, ", "), name)
}

// tool looks in PATH first, then under an absolute fallback below Root.
func (c *Checker) tool(name, fallback string) bool {
	if _, err := c.Run.LookPath(name); err == nil {
		return true
	}
	if fallback != "" {
		return fsutil.PathExists(filepath.Join(c.Root, fallback))
	}
	return false
}

// missingLevel grades a missing component that the install phase could
// provide: soft when the installer will run, hard otherwise.
func (c *Checker) missingLevel(installable bool) Level {
	if installable {
		return Warn
	}
	return Fail
}

func (c *Checker) checkROCm(rep *Report) {
	lvl := c.missingLevel(!c.Cfg.SkipRuntime)
	suffix := ""
	if !c.Cfg.SkipRuntime {
		suffix = " (deploy will install the ROCm stack)"
	}

	if !fsutil.PathExists(filepath.Join(c.Root, "opt", "rocm")) {
		rep.add("rocm", lvl, "/opt/rocm not found%s", suffix)
		return
	}
	if !c.tool("rocminfo", "opt/rocm/bin/rocminfo") {
		rep.add("rocm", lvl, "rocminfo not found%s", suffix)
		return
	}
	detail := "/opt/rocm present, rocminfo available"
	if !c.tool("rocm-smi", "opt/rocm/bin/rocm-smi") {
		rep.add("rocm", Warn, "%s; rocm-smi missing (gpu telemetry reduced)", detail)
	} else {
		rep.add("rocm", Pass, "%s", detail)
	}
	if !c.Cfg.SkipBuild && !c.tool("hipcc", "opt/rocm/bin/hipcc") {
		rep.add("hip compiler", lvl, "hipcc not found; the ROCm build needs it%s", suffix)
	}
}

func (c *Checker) checkVulkan(rep *Report) {
	lvl := c.missingLevel(!c.Cfg.SkipRuntime)
	suffix := ""
	if !c.Cfg.SkipRuntime {
		suffix = " (deploy will install the Vulkan stack)"
	}

	icds := sysinfo.VulkanICDs(c.Root)
	if len(icds) == 0 {
		rep.add("vulkan", lvl, "no ICD manifests under /usr/share/vulkan/icd.d%s", suffix)
	} else {
		base := make([]string, len(icds))
		for i, p := range icds {
			base[i] = filepath.Base(p)
		}
		rep.add("vulkan", Pass, "ICDs: %s", strings.Join(base, ", "))
	}
	if !c.tool("vulkaninfo", "") {
		rep.add("vulkaninfo", Warn, "vulkaninfo not found; gpu diagnostics reduced%s", suffix)
	}
	if !c.Cfg.SkipBuild && !c.tool("glslc", "") {
		rep.add("shader compiler", lvl, "glslc not found; the Vulkan build needs it%s", suffix)
	}
}

func (c *Checker) checkBuildTools(rep *Report) {
	if c.Cfg.SkipBuild {
		rep.add("build toolchain", Pass, "build disabled, not required")
		return
	}
	var missing []string
	for _, t := range buildTools {
		if _, err := c.Run.LookPath(t); err != nil {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		rep.add("build toolchain", Fail, "missing: %s", strings.Join(missing, ", "))
		return
	}
	rep.add("build toolchain", Pass, "%s", strings.Join(buildTools, " "))
}

func (c *Checker) checkSystemd(ctx context.Context, rep *Report) {
	if _, err := c.Run.LookPath("systemctl"); err != nil {
		rep.add("systemd", Fail, "systemctl not found; the service layer needs systemd")
		return
	}
	out, err := c.Run.Output(ctx, execx.Command("systemctl", "is-system-running"))
	state := strings.TrimSpace(out)
	if err != nil && state == "" {
		rep.add("systemd", Warn, "systemctl present but not responding: %v", err)
		return
	}
	// "degraded" still schedules units; only offline/unknown is trouble.
	if state == "offline" || state == "unknown" {
		rep.add("systemd", Warn, "system state %q; units may not start here", state)
		return
	}
	rep.add("systemd", Pass, "system state %s", state)
}

// checkService reports whether an earlier deploy already left a unit behind.
// Informational either way; the reconciler handles both states.
func (c *Checker) checkService(ctx context.Context, rep *Report) {
	if !fsutil.PathExists(filepath.Join(c.Root, c.Cfg.UnitPath())) {
		rep.add("existing service", Pass, "%s not installed yet", c.Cfg.ServiceName)
		return
	}
	out, _ := c.Run.Output(ctx, execx.Command("systemctl", "is-active", c.Cfg.ServiceName))
	state := strings.TrimSpace(out)
	if state == "" {
		state = "unknown"
	}
	rep.add("existing service", Pass, "%s installed, currently %s; deploy reconciles it",
		c.Cfg.ServiceName, state)
}

func (c *Checker) checkNginx(rep *Report) {
	if _, err := c.Run.LookPath("nginx"); err != nil {
		rep.add("nginx", Warn, "nginx not found (deploy will install it)")
		return
	}
	rep.add("nginx", Pass, "nginx available")
}

func (c *Checker) checkPrivileges(ctx context.Context, rep *Report) {
	if c.euid() == 0 {
		rep.add("privileges", Pass, "running as root")
		return
	}
	if _, err := c.Run.LookPath("sudo"); err != nil {
		rep.add("privileges", Fail, "not root and sudo is not installed; deploy cannot write system files")
		return
	}
	if _, err := c.Run.Output(ctx, execx.Command("sudo", "-n", "true")); err == nil {
		rep.add("privileges", Pass, "passwordless sudo")
		return
	}
	rep.add("privileges", Pass, "sudo available (will prompt for a password)")
}

func (c *Checker) checkFirewall(ctx context.Context, rep *Report) {
	port := c.Cfg.ExternalPort
	if c.Cfg.DisableProxy {
		port = c.Cfg.Port
	}
	if _, err := c.Run.LookPath("ufw"); err == nil {
		out, err := c.Run.Output(ctx, execx.Command("ufw", "status"))
		switch {
		case strings.Contains(out, "Status: active") && strings.Contains(out, strconv.Itoa(port)):
			rep.add("firewall", Pass, "ufw active, %d in the rule list", port)
		case strings.Contains(out, "Status: active"):
			rep.add("firewall", Warn, "ufw active and %d not in the rule list; allow it: sudo ufw allow %d/tcp", port, port)
		case strings.Contains(out, "Status: inactive"):
			rep.add("firewall", Pass, "ufw installed, inactive")
		case err != nil:
			rep.add("firewall", Pass, "ufw installed (status needs root)")
		default:
			rep.add("firewall", Pass, "ufw installed, state unknown")
		}
		return
	}
	if _, err := c.Run.LookPath("firewall-cmd"); err == nil {
		out, _ := c.Run.Output(ctx, execx.Command("firewall-cmd", "--state"))
		if strings.TrimSpace(out) == "running" {
			rep.add("firewall", Warn, "firewalld running; open %d with: firewall-cmd --add-port=%d/tcp --permanent", port, port)
			return
		}
		rep.add("firewall", Pass, "firewalld installed, not running")
		return
	}
	rep.add("firewall", Pass, "no firewall manager detected")
}

// checkPort dials the loopback port and, when something answers, asks systemd
// whether the expected unit is the one holding it.
func (c *Checker) checkPort(ctx context.Context, rep *Report, name string, port int, unit string) {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	conn, err := c.dial("tcp", addr, portDialTimeout)
	if err != nil {
		rep.add(name, Pass, "%d free", port)
		return
	}
	_ = conn.Close()

	out, err := c.Run.Output(ctx, execx.Command("systemctl", "is-active", unit))
	if err == nil && strings.TrimSpace(out) == "active" {
		rep.add(name, Pass, "%d held by %s.service", port, unit)
		return
	}
	rep.add(name, Warn, "%d already in use by another process", port)
}

// checkNetwork probes the hosts the enabled download phases will hit: the
// model artifact host and the llama.cpp git host.
func (c *Checker) checkNetwork(rep *Report) {
	type endpoint struct{ key, raw string }
	var endpoints []endpoint
	if !c.Cfg.SkipModel {
		endpoints = append(endpoints, endpoint{"model_url", c.Cfg.ModelURL})
	}
	if !c.Cfg.SkipBuild {
		endpoints = append(endpoints, endpoint{"llama_repo", c.Cfg.LlamaRepo})
	}
	if len(endpoints) == 0 {
		rep.add("network", Pass, "downloads disabled, not required")
		return
	}

	var hosts []string
	seen := make(map[string]bool)
	for _, ep := range endpoints {
		u, err := url.Parse(ep.raw)
		if err != nil || u.Host == "" {
			rep.add("network", Fail, "%s %q is not a valid URL", ep.key, ep.raw)
			return
		}
		if seen[u.Host] {
			continue
		}
		seen[u.Host] = true
		addr := u.Host
		if u.Port() == "" {
			addr = net.JoinHostPort(u.Hostname(), "443")
		}
		conn, err := c.dial("tcp", addr, networkDialTimeout)
		if err != nil {
			rep.add("network", Warn, "cannot reach %s: %v", addr, err)
			return
		}
		_ = conn.Close()
		hosts = append(hosts, u.Hostname())
	}
	rep.add("network", Pass, "%s reachable", strings.Join(hosts, ", "))
}

func nearestExisting(path string) string {
	for !fsutil.PathExists(path) {
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
	return path
}
