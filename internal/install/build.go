package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/khegiw/llamactl/internal/config"
	"github.com/khegiw/llamactl/internal/execx"
	"github.com/khegiw/llamactl/internal/fsutil"
)

// Build clones llama.cpp if needed, configures cmake for the selected
// backend and builds llama-server. A missing binary after a successful build
// run is a hard failure.
func (i *Installer) Build(ctx context.Context) error {
	dir := i.Cfg.InstallDir
	fresh := true
	if fsutil.PathExists(filepath.Join(dir, ".git")) {
		reclone, err := i.Prompt.Confirm(fmt.Sprintf("%s already holds a checkout. Re-clone from scratch?", dir), false)
		if err != nil {
			return err
		}
		if reclone {
			if err := os.RemoveAll(dir); err != nil {
				return fmt.Errorf("remove old checkout: %w", err)
			}
		} else {
			fresh = false
			i.Log.Info().Str("dir", dir).Msg("keeping existing checkout")
		}
	}
	if fresh {
		if err := i.stream(ctx, "", "git", "clone", i.Cfg.LlamaRepo, dir); err != nil {
			return err
		}
	}
	if ref := i.Cfg.LlamaRef; ref != "" {
		if err := i.stream(ctx, dir, "git", "fetch", "--tags", "origin"); err != nil {
			return err
		}
		if err := i.stream(ctx, dir, "git", "checkout", ref); err != nil {
			return err
		}
	}

	if err := i.configure(ctx, dir); err != nil {
		return err
	}
	jobs := i.Cfg.BuildJobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	if err := i.stream(ctx, "", "cmake", "--build", filepath.Join(dir, "build"),
		"--config", "Release", "-j", strconv.Itoa(jobs)); err != nil {
		return err
	}

	bin := i.Cfg.ServerBinary()
	if !fsutil.PathExists(bin) {
		return fmt.Errorf("build finished but %s is missing", bin)
	}
	i.Log.Info().Str("binary", bin).Msg("llama.cpp build complete")
	return nil
}

func (i *Installer) configure(ctx context.Context, dir string) error {
	args := []string{"-S", dir, "-B", filepath.Join(dir, "build"),
		"-DCMAKE_BUILD_TYPE=Release", "-DLLAMA_CURL=OFF"}
	var env map[string]string
	switch i.Cfg.Backend {
	case config.BackendROCm:
		args = append(args, "-DGGML_HIP=ON")
		if t := i.Cfg.GPUTarget; t != "" {
			args = append(args, "-DAMDGPU_TARGETS="+t)
		}
		env = map[string]string{
			"HIPCXX":   "/opt/rocm/llvm/bin/clang",
			"HIP_PATH": "/opt/rocm",
		}
	case config.BackendVulkan:
		args = append(args, "-DGGML_VULKAN=ON")
	default:
		return fmt.Errorf("backend %q cannot be built", i.Cfg.Backend)
	}
	cmd := execx.Command("cmake", args...)
	cmd.Env = env
	cmd.Stream = true
	if err := i.Run.Run(ctx, cmd); err != nil {
		return fmt.Errorf("cmake configure: %w", err)
	}
	return nil
}
