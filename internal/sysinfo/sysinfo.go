// Package sysinfo gathers host facts for the environment checks and the
// status view. Probes that read sysfs or procfs take a root prefix so tests
// can point them at a fixture tree.
package sysinfo

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"golang.org/x/sys/unix"
)

// Host is a point-in-time snapshot of the machine.
type Host struct {
	Hostname      string
	OS            string
	Kernel        string
	CPUModel      string
	PhysicalCores int
	LogicalCores  int
	TotalRAM      uint64
	AvailableRAM  uint64
	Uptime        time.Duration
	Load1         float64
	Load5         float64
	Load15        float64
}

// CollectHost fills a Host snapshot. CPU model and load average are best
// effort; memory and platform info are not.
func CollectHost() (*Host, error) {
	h := &Host{}

	info, err := host.Info()
	if err != nil {
		return nil, fmt.Errorf("host info: %w", err)
	}
	h.Hostname = info.Hostname
	h.OS = strings.TrimSpace(info.Platform + " " + info.PlatformVersion)
	h.Kernel = info.KernelVersion
	h.Uptime = time.Duration(info.Uptime) * time.Second

	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("memory info: %w", err)
	}
	h.TotalRAM = vm.Total
	h.AvailableRAM = vm.Available

	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		h.CPUModel = infos[0].ModelName
	}
	if n, err := cpu.Counts(false); err == nil {
		h.PhysicalCores = n
	}
	if n, err := cpu.Counts(true); err == nil {
		h.LogicalCores = n
	}
	if avg, err := load.Avg(); err == nil {
		h.Load1, h.Load5, h.Load15 = avg.Load1, avg.Load5, avg.Load15
	}
	return h, nil
}

// DiskFree reports available and total bytes for the filesystem holding path.
func DiskFree(path string) (free, total uint64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := uint64(st.Bsize)
	return st.Bavail * bsize, st.Blocks * bsize, nil
}

// OSPrettyName returns PRETTY_NAME from /etc/os-release, or "" when absent.
func OSPrettyName(root string) string {
	raw, err := os.ReadFile(filepath.Join(root, "etc", "os-release"))
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(raw), "\n") {
		if val, ok := strings.CutPrefix(line, "PRETTY_NAME="); ok {
			return strings.Trim(strings.TrimSpace(val), `"`)
		}
	}
	return ""
}

// OSCodename returns VERSION_CODENAME from /etc/os-release, e.g. "noble".
func OSCodename(root string) string {
	raw, err := os.ReadFile(filepath.Join(root, "etc", "os-release"))
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(raw), "\n") {
		if val, ok := strings.CutPrefix(line, "VERSION_CODENAME="); ok {
			return strings.Trim(strings.TrimSpace(val), `"`)
		}
	}
	return ""
}

// UserGroups resolves the login user and the group names it belongs to.
// Under sudo the invoking user (SUDO_USER) is resolved, not root, since that
// is the account that needs the device-access groups.
func UserGroups() (string, []string, error) {
	var u *user.User
	var err error
	if name := os.Getenv("SUDO_USER"); name != "" {
		u, err = user.Lookup(name)
	} else {
		u, err = user.Current()
	}
	if err != nil {
		return "", nil, fmt.Errorf("resolve user: %w", err)
	}
	ids, err := u.GroupIds()
	if err != nil {
		return u.Username, nil, fmt.Errorf("groups of %s: %w", u.Username, err)
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		g, err := user.LookupGroupId(id)
		if err != nil {
			names = append(names, id)
			continue
		}
		names = append(names, g.Name)
	}
	return u.Username, names, nil
}

// ModuleLoaded reports whether a kernel module appears in /proc/modules.
func ModuleLoaded(root, name string) (bool, error) {
	data, err := os.ReadFile(filepath.Join(root, "proc", "modules"))
	if err != nil {
		return false, fmt.Errorf("read /proc/modules: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, name+" ") || strings.HasPrefix(line, name+"\t") {
			return true, nil
		}
	}
	return false, nil
}

// VulkanICDs lists installed Vulkan driver manifests. An empty result means
// no Vulkan driver is registered with the loader.
func VulkanICDs(root string) []string {
	var out []string
	for _, dir := range []string{"usr/share/vulkan/icd.d", "etc/vulkan/icd.d"} {
		matches, _ := filepath.Glob(filepath.Join(root, dir, "*.json"))
		out = append(out, matches...)
	}
	return out
}
