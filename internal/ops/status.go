package ops

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/khegiw/llamactl/internal/execx"
	"github.com/khegiw/llamactl/internal/format"
	"github.com/khegiw/llamactl/internal/sysinfo"
	"github.com/khegiw/llamactl/pkg/llamaserver"
)

// Status prints one screen of host and service state. Every section is best
// effort; a dead server or a missing tool degrades to a notice.
func (o *Ops) Status(ctx context.Context) error {
	o.statusServices(ctx)
	o.statusGPU()
	o.statusHost()
	o.statusConnections(ctx)
	o.statusServer(ctx)
	o.statusLogs(ctx)
	return nil
}

func (o *Ops) statusServices(ctx context.Context) {
	units := []string{o.Cfg.ServiceName}
	if !o.Cfg.DisableProxy {
		units = append(units, "nginx")
	}
	t := o.table("SERVICE", "STATE", "ENABLED")
	for _, u := range units {
		state, err := o.Ctl.IsActive(ctx, u)
		if err != nil {
			state = "unknown"
		}
		enabled := "no"
		if on, err := o.Ctl.IsEnabled(ctx, u); err == nil && on {
			enabled = "yes"
		}
		t.Append([]string{u, state, enabled})
	}
	t.Render()
	fmt.Fprintln(o.Out)
}

func (o *Ops) statusGPU() {
	gpus, err := sysinfo.AMDGPUs(o.root())
	if err != nil || len(gpus) == 0 {
		fmt.Fprintln(o.Out, "gpu: no amdgpu device visible")
		fmt.Fprintln(o.Out)
		return
	}
	for _, g := range gpus {
		line := fmt.Sprintf("gpu: node %d", g.Node)
		if g.GfxVersion != "" {
			line += " " + g.GfxVersion
		}
		if g.VRAMTotal > 0 {
			line += fmt.Sprintf("  vram %s / %s",
				format.HumanBytes2(g.VRAMUsed), format.HumanBytes2(g.VRAMTotal))
		}
		fmt.Fprintln(o.Out, line)
	}
	fmt.Fprintln(o.Out)
}

func (o *Ops) statusHost() {
	host, err := sysinfo.CollectHost()
	if err != nil {
		fmt.Fprintf(o.Out, "host: %v\n\n", err)
		return
	}
	fmt.Fprintf(o.Out, "ram: %s free of %s\n",
		format.HumanBytes2(host.AvailableRAM), format.HumanBytes2(host.TotalRAM))
	fmt.Fprintf(o.Out, "load: %.2f %.2f %.2f\n", host.Load1, host.Load5, host.Load15)
	if free, total, err := sysinfo.DiskFree(o.Cfg.ModelsDir); err == nil {
		fmt.Fprintf(o.Out, "disk (models): %s free of %s\n",
			format.HumanBytes2(free), format.HumanBytes2(total))
	}
	fmt.Fprintln(o.Out)
}

// statusConnections counts established TCP connections per configured port
// from `ss -tn` output.
func (o *Ops) statusConnections(ctx context.Context) {
	if _, err := o.Run.LookPath("ss"); err != nil {
		return
	}
	out, err := o.Run.Output(ctx, execx.Command("ss", "-tn"))
	if err != nil {
		return
	}
	ports := []int{o.Cfg.Port}
	if !o.Cfg.DisableProxy {
		ports = append(ports, o.Cfg.ExternalPort)
	}
	counts := connectionCounts(out, ports)
	for _, p := range ports {
		fmt.Fprintf(o.Out, "port %d: %d established\n", p, counts[p])
	}
	fmt.Fprintln(o.Out)
}

func connectionCounts(ssOutput string, ports []int) map[int]int {
	counts := make(map[int]int, len(ports))
	for _, line := range strings.Split(ssOutput, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || fields[0] != "ESTAB" {
			continue
		}
		local := fields[3]
		i := strings.LastIndexByte(local, ':')
		if i < 0 {
			continue
		}
		port, err := strconv.Atoi(local[i+1:])
		if err != nil {
			continue
		}
		for _, p := range ports {
			if p == port {
				counts[p]++
			}
		}
	}
	return counts
}

func (o *Ops) statusServer(ctx context.Context) {
	client := llamaserver.New(o.Cfg.BaseURL(), llamaserver.WithTimeout(o.ProbeTimeout))
	h, err := client.Health(ctx)
	if err != nil {
		fmt.Fprintf(o.Out, "server: unreachable (%v)\n\n", err)
		return
	}
	fmt.Fprintf(o.Out, "server: %s\n", h.Status)
	if o.Cfg.DisableMetrics {
		fmt.Fprintln(o.Out)
		return
	}
	families, err := client.Metrics(ctx)
	if err != nil {
		fmt.Fprintln(o.Out)
		return
	}
	for _, m := range []struct{ label, name string }{
		{"prompt tokens", "llamacpp:prompt_tokens_total"},
		{"predicted tokens", "llamacpp:tokens_predicted_total"},
		{"requests in flight", "llamacpp:requests_processing"},
	} {
		if v, ok := llamaserver.GaugeValue(families, m.name); ok {
			fmt.Fprintf(o.Out, "%s: %.0f\n", m.label, v)
		}
	}
	if v, ok := llamaserver.GaugeValue(families, "llamacpp:kv_cache_usage_ratio"); ok {
		fmt.Fprintf(o.Out, "kv cache used: %.0f%%\n", v*100)
	}
	fmt.Fprintln(o.Out)
}

func (o *Ops) statusLogs(ctx context.Context) {
	out, err := o.Ctl.Logs(ctx, o.Cfg.ServiceName, 5)
	if err != nil || strings.TrimSpace(out) == "" {
		return
	}
	fmt.Fprintln(o.Out, "recent log lines:")
	fmt.Fprintln(o.Out, strings.TrimRight(out, "\n"))
}
