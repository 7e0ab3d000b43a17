package ops

import (
	"context"
	"fmt"

	"github.com/khegiw/llamactl/internal/config"
	"github.com/khegiw/llamactl/internal/execx"
	"github.com/khegiw/llamactl/internal/format"
	"github.com/khegiw/llamactl/internal/sysinfo"
)

// GPU passes the backend's own report through: rocm-smi for ROCm,
// vulkaninfo for Vulkan. An absent tool prints an install hint plus the
// sysfs view, which works without either stack.
func (o *Ops) GPU(ctx context.Context) error {
	var tool string
	var args []string
	var hint string
	switch o.Cfg.Backend {
	case config.BackendROCm:
		tool = "rocm-smi"
		hint = "rocm-smi is not installed; run `llamactl deploy` or `sudo apt-get install rocm-smi-lib`"
	case config.BackendVulkan:
		tool = "vulkaninfo"
		args = []string{"--summary"}
		hint = "vulkaninfo is not installed; run `llamactl deploy` or `sudo apt-get install vulkan-tools`"
	default:
		return fmt.Errorf("backend must be set to %q or %q", config.BackendROCm, config.BackendVulkan)
	}

	if _, err := o.Run.LookPath(tool); err != nil {
		fmt.Fprintln(o.Out, hint)
		o.printSysfsGPUs()
		return nil
	}
	cmd := execx.Command(tool, args...)
	cmd.Stream = true
	return o.Run.Run(ctx, cmd)
}

func (o *Ops) printSysfsGPUs() {
	gpus, err := sysinfo.AMDGPUs(o.root())
	if err != nil || len(gpus) == 0 {
		return
	}
	fmt.Fprintln(o.Out, "sysfs view:")
	for _, g := range gpus {
		fmt.Fprintf(o.Out, "  node %d  %s  device %04x  vram %s\n",
			g.Node, g.GfxVersion, g.DeviceID, format.HumanBytes2(g.VRAMTotal))
	}
}
