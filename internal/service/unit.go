package service

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/coreos/go-systemd/v22/unit"

	"github.com/khegiw/llamactl/internal/config"
)

// UnitContent renders the llama-server systemd unit for s. The output is a
// pure function of the settings, so re-renders are byte-identical and an
// unchanged configuration never dirties the installed unit.
func UnitContent(s *config.Settings) (string, error) {
	opts := []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", fmt.Sprintf("llama.cpp server (%s)", s.ModelName)),
		unit.NewUnitOption("Unit", "After", "network-online.target"),
		unit.NewUnitOption("Unit", "Wants", "network-online.target"),
		unit.NewUnitOption("Service", "Type", "simple"),
	}
	if s.ServiceUser != "" {
		opts = append(opts, unit.NewUnitOption("Service", "User", s.ServiceUser))
	}
	for _, env := range unitEnvironment(s) {
		opts = append(opts, unit.NewUnitOption("Service", "Environment", env))
	}
	opts = append(opts,
		unit.NewUnitOption("Service", "ExecStart", ExecStart(s)),
		unit.NewUnitOption("Service", "Restart", "on-failure"),
		unit.NewUnitOption("Service", "RestartSec", "5"),
		unit.NewUnitOption("Service", "StandardOutput", "journal"),
		unit.NewUnitOption("Service", "StandardError", "journal"),
	)
	if s.MemoryMax != "" {
		opts = append(opts, unit.NewUnitOption("Service", "MemoryMax", s.MemoryMax))
	}
	if s.CPUQuota != "" {
		opts = append(opts, unit.NewUnitOption("Service", "CPUQuota", s.CPUQuota))
	}
	opts = append(opts,
		unit.NewUnitOption("Service", "NoNewPrivileges", "true"),
		unit.NewUnitOption("Service", "PrivateTmp", "true"),
		unit.NewUnitOption("Install", "WantedBy", "multi-user.target"),
	)

	b, err := io.ReadAll(unit.Serialize(opts))
	if err != nil {
		return "", fmt.Errorf("serialize unit: %w", err)
	}
	return string(b), nil
}

// ExecStart builds the llama-server command line for the unit.
func ExecStart(s *config.Settings) string {
	args := []string{
		s.ServerBinary(),
		"--model", s.ModelPath(),
		"--host", s.Host,
		"--port", strconv.Itoa(s.Port),
		"--threads", strconv.Itoa(s.Threads),
		"--n-gpu-layers", strconv.Itoa(s.GPULayers),
		"--ctx-size", strconv.Itoa(s.CtxSize),
		"--parallel", strconv.Itoa(s.Parallel),
	}
	if !s.DisableMetrics {
		args = append(args, "--metrics")
	}
	for i, a := range args {
		args[i] = unitQuote(a)
	}
	return strings.Join(args, " ")
}

func unitEnvironment(s *config.Settings) []string {
	var env []string
	if s.Backend == config.BackendROCm && s.GfxOverride != "" {
		env = append(env, "HSA_OVERRIDE_GFX_VERSION="+s.GfxOverride)
	}
	return env
}

// unitQuote wraps an argument in double quotes when systemd's whitespace
// splitting would otherwise break it apart.
func unitQuote(arg string) string {
	if arg == "" || strings.ContainsAny(arg, " \t\"'") {
		return `"` + strings.ReplaceAll(arg, `"`, `\"`) + `"`
	}
	return arg
}
