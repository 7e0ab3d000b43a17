package install

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/khegiw/llamactl/internal/config"
	"github.com/khegiw/llamactl/internal/execx"
	"github.com/khegiw/llamactl/internal/sysinfo"
)

const (
	rocmKeyURL    = "https://repo.radeon.com/rocm/rocm.gpg.key"
	rocmAptBase   = "https://repo.radeon.com/rocm/apt/6.2.4"
	rocmKeyring   = "etc/apt/keyrings/rocm.asc"
	rocmSources   = "etc/apt/sources.list.d/rocm.list"
	rocmMarker    = "opt/rocm/.info/version"
	profileMarker = "# llamactl rocm environment"
)

var (
	rocmPackages   = []string{"rocm-hip-sdk", "rocm-smi-lib", "rocminfo"}
	vulkanPackages = []string{"mesa-vulkan-drivers", "vulkan-tools", "libvulkan-dev", "glslang-tools", "glslc"}
)

// InstallRuntime installs the GPU compute stack for the configured backend.
func (i *Installer) InstallRuntime(ctx context.Context) error {
	switch i.Cfg.Backend {
	case config.BackendROCm:
		return i.installROCm(ctx)
	case config.BackendVulkan:
		return i.installVulkan(ctx)
	}
	return fmt.Errorf("backend %q has no runtime install", i.Cfg.Backend)
}

func (i *Installer) installROCm(ctx context.Context) error {
	if raw, err := os.ReadFile(i.path(rocmMarker)); err == nil {
		ver := strings.TrimSpace(string(raw))
		redo, perr := i.Prompt.Confirm(fmt.Sprintf("ROCm %s is already installed. Reinstall?", ver), false)
		if perr != nil {
			return perr
		}
		if !redo {
			i.Log.Info().Str("version", ver).Msg("keeping installed ROCm")
			return nil
		}
	}
	i.Log.Info().Msg("installing the ROCm stack")

	key, err := i.DL.FetchBytes(ctx, rocmKeyURL)
	if err != nil {
		return fmt.Errorf("repo signing key: %w", err)
	}
	if err := execx.WriteFileRoot(ctx, i.Run, i.path(rocmKeyring), key, 0o644); err != nil {
		return err
	}
	codename := sysinfo.OSCodename(i.path("."))
	if codename == "" {
		codename = "noble"
	}
	// the sources line references the live path even when writes are rooted
	// elsewhere for tests
	line := fmt.Sprintf("deb [arch=amd64 signed-by=/%s] %s %s main\n", rocmKeyring, rocmAptBase, codename)
	if err := execx.WriteFileRoot(ctx, i.Run, i.path(rocmSources), []byte(line), 0o644); err != nil {
		return err
	}
	if err := i.aptGet(ctx, "update"); err != nil {
		return err
	}
	if err := i.aptGet(ctx, append([]string{"install", "-y"}, rocmPackages...)...); err != nil {
		return err
	}
	if err := i.grantGPUGroups(ctx); err != nil {
		return err
	}
	if err := i.appendProfileEnv(); err != nil {
		return err
	}
	i.Log.Info().Msg("ROCm stack installed; a re-login picks up the new groups")
	return nil
}

func (i *Installer) installVulkan(ctx context.Context) error {
	if len(sysinfo.VulkanICDs(i.path("."))) > 0 {
		if _, err := i.Run.LookPath("vulkaninfo"); err == nil {
			redo, perr := i.Prompt.Confirm("Vulkan drivers and tools are already installed. Reinstall?", false)
			if perr != nil {
				return perr
			}
			if !redo {
				i.Log.Info().Msg("keeping installed Vulkan stack")
				return nil
			}
		}
	}
	i.Log.Info().Msg("installing the Vulkan stack")
	if err := i.aptGet(ctx, "update"); err != nil {
		return err
	}
	return i.aptGet(ctx, append([]string{"install", "-y"}, vulkanPackages...)...)
}

func (i *Installer) aptGet(ctx context.Context, args ...string) error {
	c := execx.Command("apt-get", args...)
	c.Stream = true
	if err := i.Run.Run(ctx, execx.Sudo(i.Run, c)); err != nil {
		return fmt.Errorf("apt-get %s: %w", strings.Join(args, " "), err)
	}
	return nil
}

// grantGPUGroups puts the invoking user (and the service user, if distinct)
// into the groups the kernel driver gates GPU access on.
func (i *Installer) grantGPUGroups(ctx context.Context) error {
	name := os.Getenv("SUDO_USER")
	if name == "" {
		u, err := user.Current()
		if err != nil {
			return fmt.Errorf("current user: %w", err)
		}
		name = u.Username
	}
	names := []string{name}
	if s := i.Cfg.ServiceUser; s != "" && s != name {
		names = append(names, s)
	}
	for _, n := range names {
		c := execx.Sudo(i.Run, execx.Command("usermod", "-aG", "render,video", n))
		if err := i.Run.Run(ctx, c); err != nil {
			return fmt.Errorf("usermod %s: %w", n, err)
		}
	}
	return nil
}

// appendProfileEnv adds the ROCm PATH entries to ~/.profile once; the marker
// line keeps repeated deploys from stacking duplicates.
func (i *Installer) appendProfileEnv() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	profile := filepath.Join(home, ".profile")
	if raw, err := os.ReadFile(profile); err == nil && strings.Contains(string(raw), profileMarker) {
		return nil
	}
	f, err := os.OpenFile(profile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	block := "\n" + profileMarker + "\n" + `export PATH="/opt/rocm/bin:$PATH"` + "\n"
	if i.Cfg.GfxOverride != "" {
		block += fmt.Sprintf("export HSA_OVERRIDE_GFX_VERSION=%s\n", i.Cfg.GfxOverride)
	}
	_, err = f.WriteString(block)
	return err
}
