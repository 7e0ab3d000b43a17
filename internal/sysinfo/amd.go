package sysinfo

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// amdgpu discovery via sysfs. The kfd topology nodes list every compute
// agent including CPUs; the DRM nodes hold the reliable VRAM counters, so
// each GPU node is matched over to its card directory by vendor, device and
// unique id.
const (
	amdDriverVersionFile = "sys/module/amdgpu/version"
	kfdNodesDir          = "sys/class/kfd/kfd/topology/nodes"
	drmDeviceDirGlob     = "sys/class/drm/card*/device"

	drmVRAMTotalFile = "mem_info_vram_total"
	drmVRAMUsedFile  = "mem_info_vram_used"
	drmVendorFile    = "vendor"
	drmDeviceFile    = "device"
	drmUniqueIDFile  = "unique_id"
)

// AMDGPU describes one GPU the amdgpu driver exposes.
type AMDGPU struct {
	Node       int
	GfxVersion string
	VendorID   uint64
	DeviceID   uint64
	UniqueID   uint64
	VRAMTotal  uint64
	VRAMUsed   uint64
}

// AMDDetected reports whether the amdgpu kernel driver is present at all.
// Older drivers lack the version file, so only the module dir is checked.
func AMDDetected(root string) bool {
	_, err := os.Stat(filepath.Join(root, filepath.Dir(amdDriverVersionFile)))
	return err == nil
}

// AMDDriverVersion returns the amdgpu driver version string, e.g. "6.8.5".
func AMDDriverVersion(root string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(root, amdDriverVersionFile))
	if err != nil {
		return "", fmt.Errorf("amdgpu version file: %w", err)
	}
	v := strings.TrimSpace(string(raw))
	if v == "" {
		return "", fmt.Errorf("amdgpu version file is empty")
	}
	return v, nil
}

// AMDGPUs enumerates GPUs from the kfd topology, skipping CPU agents, and
// attaches VRAM counters from the matching DRM card.
func AMDGPUs(root string) ([]AMDGPU, error) {
	matches, err := filepath.Glob(filepath.Join(root, kfdNodesDir, "*", "properties"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no kfd topology nodes under %s", filepath.Join(root, kfdNodesDir))
	}
	sort.Slice(matches, func(i, j int) bool {
		a, _ := strconv.Atoi(filepath.Base(filepath.Dir(matches[i])))
		b, _ := strconv.Atoi(filepath.Base(filepath.Dir(matches[j])))
		return a < b
	})

	var gpus []AMDGPU
	for _, match := range matches {
		gpu, ok, err := parseNode(match)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		attachVRAM(root, &gpu)
		gpus = append(gpus, gpu)
	}
	return gpus, nil
}

// parseNode reads one kfd properties file. ok is false for CPU agents and
// masked GPUs.
func parseNode(path string) (AMDGPU, bool, error) {
	var gpu AMDGPU
	gpu.Node, _ = strconv.Atoi(filepath.Base(filepath.Dir(path)))

	fp, err := os.Open(path)
	if err != nil {
		return gpu, false, fmt.Errorf("open %s: %w", path, err)
	}
	defer fp.Close()

	var major, minor, patch uint64
	scanner := bufio.NewScanner(fp)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		key, val := fields[0], fields[1]
		switch key {
		case "gfx_target_version":
			// CPU agents report 0.
			if val == "0" {
				return gpu, false, nil
			}
			if len(val) < 5 {
				continue
			}
			l := len(val)
			patch, _ = strconv.ParseUint(val[l-2:], 10, 32)
			minor, _ = strconv.ParseUint(val[l-4:l-2], 10, 32)
			major, _ = strconv.ParseUint(val[:l-4], 10, 32)
		case "vendor_id":
			gpu.VendorID, _ = strconv.ParseUint(val, 10, 64)
		case "device_id":
			gpu.DeviceID, _ = strconv.ParseUint(val, 10, 64)
		case "unique_id":
			gpu.UniqueID, _ = strconv.ParseUint(val, 10, 64)
		}
	}
	if err := scanner.Err(); err != nil {
		return gpu, false, fmt.Errorf("scan %s: %w", path, err)
	}
	if major == 0 && minor == 0 && patch == 0 {
		return gpu, false, nil
	}
	gpu.GfxVersion = fmt.Sprintf("gfx%d%x%x", major, minor, patch)
	return gpu, true, nil
}

// attachVRAM finds the DRM card whose ids match and copies its counters.
// Missing counters leave the totals at zero rather than failing discovery.
func attachVRAM(root string, gpu *AMDGPU) {
	drmDirs, _ := filepath.Glob(filepath.Join(root, drmDeviceDirGlob))
	for _, dir := range drmDirs {
		if !drmMatches(dir, gpu) {
			continue
		}
		gpu.VRAMTotal = readDRMCounter(filepath.Join(dir, drmVRAMTotalFile))
		gpu.VRAMUsed = readDRMCounter(filepath.Join(dir, drmVRAMUsedFile))
		return
	}
}

func drmMatches(dir string, gpu *AMDGPU) bool {
	checks := []struct {
		id   uint64
		file string
	}{
		{gpu.VendorID, drmVendorFile},
		{gpu.DeviceID, drmDeviceFile},
		{gpu.UniqueID, drmUniqueIDFile}, // not every device populates this
	}
	for _, c := range checks {
		if c.id == 0 {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, c.file))
		if err != nil {
			return false
		}
		// DRM ids are hex with a 0x prefix; kfd properties are decimal.
		val, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(string(raw)), "0x"), 16, 64)
		if err != nil || val != c.id {
			return false
		}
	}
	return true
}

func readDRMCounter(path string) uint64 {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
