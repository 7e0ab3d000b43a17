package ops

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/khegiw/llamactl/internal/execx"
	"github.com/khegiw/llamactl/internal/format"
	"github.com/khegiw/llamactl/internal/sysinfo"
	"github.com/khegiw/llamactl/pkg/llamaserver"
)

// Diagnostics dumps everything a support thread would ask for: versions,
// hardware, the installed unit, ports, load and the server's own metrics.
func (o *Ops) Diagnostics(ctx context.Context) error {
	o.section("versions")
	o.toolVersion(ctx, "git", "--version")
	o.toolVersion(ctx, "cmake", "--version")
	o.toolVersion(ctx, "nginx", "-v")
	o.toolVersion(ctx, "systemctl", "--version")
	o.toolVersion(ctx, o.Cfg.ServerBinary(), "--version")

	o.section("os")
	if name := sysinfo.OSPrettyName(o.root()); name != "" {
		fmt.Fprintln(o.Out, name)
	}
	if ver, err := sysinfo.AMDDriverVersion(o.root()); err == nil {
		fmt.Fprintf(o.Out, "amdgpu driver %s\n", ver)
	}

	o.section("gpu devices")
	o.lspci(ctx)
	o.printSysfsGPUs()

	o.section("environment")
	for _, key := range []string{
		"HSA_OVERRIDE_GFX_VERSION", "HIP_VISIBLE_DEVICES",
		"ROCR_VISIBLE_DEVICES", "VK_ICD_FILENAMES",
	} {
		if v, ok := os.LookupEnv(key); ok {
			fmt.Fprintf(o.Out, "%s=%s\n", key, v)
		}
	}

	o.section("unit file")
	if raw, err := os.ReadFile(o.Cfg.UnitPath()); err == nil {
		fmt.Fprintln(o.Out, strings.TrimRight(string(raw), "\n"))
	} else {
		fmt.Fprintf(o.Out, "not installed (%s)\n", o.Cfg.UnitPath())
	}

	o.section("listening ports")
	if out, err := o.Run.Output(ctx, execx.Command("ss", "-tlnp")); err == nil {
		fmt.Fprintln(o.Out, strings.TrimRight(out, "\n"))
	}

	o.section("host")
	if host, err := sysinfo.CollectHost(); err == nil {
		fmt.Fprintf(o.Out, "ram %s free of %s, load %.2f %.2f %.2f\n",
			format.HumanBytes2(host.AvailableRAM), format.HumanBytes2(host.TotalRAM),
			host.Load1, host.Load5, host.Load15)
	}

	o.section("recent service log")
	if out, err := o.Ctl.Logs(ctx, o.Cfg.ServiceName, 20); err == nil {
		fmt.Fprintln(o.Out, strings.TrimRight(out, "\n"))
	}

	if !o.Cfg.DisableMetrics {
		o.section("metrics")
		o.metricsDump(ctx)
	}
	return nil
}

func (o *Ops) section(name string) {
	fmt.Fprintf(o.Out, "\n--- %s ---\n", name)
}

// toolVersion prints the first line a tool reports for itself, or a
// not-found notice. nginx writes its version to stderr, which Output folds
// into the combined text.
func (o *Ops) toolVersion(ctx context.Context, tool string, arg string) {
	if _, err := o.Run.LookPath(tool); err != nil {
		fmt.Fprintf(o.Out, "%s: not found\n", tool)
		return
	}
	out, err := o.Run.Output(ctx, execx.Command(tool, arg))
	if err != nil {
		fmt.Fprintf(o.Out, "%s: %v\n", tool, err)
		return
	}
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	fmt.Fprintln(o.Out, line)
}

func (o *Ops) lspci(ctx context.Context) {
	if _, err := o.Run.LookPath("lspci"); err != nil {
		return
	}
	out, err := o.Run.Output(ctx, execx.Command("lspci"))
	if err != nil {
		return
	}
	for _, line := range strings.Split(out, "\n") {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "vga") || strings.Contains(lower, "display") ||
			strings.Contains(lower, "3d controller") {
			fmt.Fprintln(o.Out, line)
		}
	}
}

func (o *Ops) metricsDump(ctx context.Context) {
	client := llamaserver.New(o.Cfg.BaseURL(), llamaserver.WithTimeout(o.ProbeTimeout))
	families, err := client.Metrics(ctx)
	if err != nil {
		fmt.Fprintf(o.Out, "unavailable: %v\n", err)
		return
	}
	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	// map order is random; the dump should diff cleanly between runs
	sort.Strings(names)
	for _, name := range names {
		if v, ok := llamaserver.GaugeValue(families, name); ok {
			fmt.Fprintf(o.Out, "%s %g\n", name, v)
		}
	}
}
