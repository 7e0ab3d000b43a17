// Package install carries the three deployment phases: GPU runtime packages,
// the llama.cpp build, and the model artifact. Each phase checks what is
// already in place and asks before redoing work; the default answer always
// keeps what exists.
package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/khegiw/llamactl/internal/config"
	"github.com/khegiw/llamactl/internal/execx"
	"github.com/khegiw/llamactl/internal/format"
	"github.com/khegiw/llamactl/internal/prompt"
)

type Installer struct {
	Cfg    *config.Settings
	Run    execx.Runner
	Prompt prompt.Prompter
	DL     *Downloader
	Log    zerolog.Logger

	// Root prefixes absolute system paths, for tests.
	Root string
}

func New(cfg *config.Settings, run execx.Runner, p prompt.Prompter, dl *Downloader, log zerolog.Logger) *Installer {
	return &Installer{Cfg: cfg, Run: run, Prompt: p, DL: dl, Log: log}
}

func (i *Installer) path(rel string) string {
	root := i.Root
	if root == "" {
		root = "/"
	}
	return filepath.Join(root, rel)
}

// EnsureAll runs the enabled phases in order. The first failure aborts the
// deployment.
func (i *Installer) EnsureAll(ctx context.Context) error {
	if i.Cfg.SkipRuntime {
		i.Log.Info().Msg("runtime phase disabled by config")
	} else if err := i.InstallRuntime(ctx); err != nil {
		return fmt.Errorf("runtime phase: %w", err)
	}
	if i.Cfg.SkipBuild {
		i.Log.Info().Msg("build phase disabled by config")
	} else if err := i.Build(ctx); err != nil {
		return fmt.Errorf("build phase: %w", err)
	}
	if i.Cfg.SkipModel {
		i.Log.Info().Msg("model phase disabled by config")
	} else if err := i.FetchModel(ctx); err != nil {
		return fmt.Errorf("model phase: %w", err)
	}
	return nil
}

// FetchModel downloads the configured model unless it is already present.
// Re-downloading an existing artifact needs explicit consent and starts from
// scratch.
func (i *Installer) FetchModel(ctx context.Context) error {
	dest := i.Cfg.ModelPath()
	if fi, err := os.Stat(dest); err == nil && fi.Size() > 0 {
		redo, perr := i.Prompt.Confirm(
			fmt.Sprintf("model %s exists (%s). Download it again?", i.Cfg.ModelName, format.HumanBytes(fi.Size())), false)
		if perr != nil {
			return perr
		}
		if !redo {
			i.Log.Info().Str("path", dest).Msg("keeping existing model")
			return nil
		}
		if err := os.Remove(dest); err != nil {
			return err
		}
		os.Remove(dest + ".partial")
	}
	i.Log.Info().Str("url", i.Cfg.ModelURL).Str("path", dest).Msg("downloading model")
	if err := i.DL.Fetch(ctx, i.Cfg.ModelURL, dest); err != nil {
		return err
	}
	fi, err := os.Stat(dest)
	if err != nil {
		return err
	}
	if fi.Size() == 0 {
		return fmt.Errorf("downloaded model %s is empty", dest)
	}
	i.Log.Info().Str("size", format.HumanBytes(fi.Size())).Msg("model ready")
	return nil
}

// stream runs a command in dir with output passed through.
func (i *Installer) stream(ctx context.Context, dir, name string, args ...string) error {
	cmd := execx.Command(name, args...)
	cmd.Dir = dir
	cmd.Stream = true
	if err := i.Run.Run(ctx, cmd); err != nil {
		return fmt.Errorf("%s: %w", cmd.Line(), err)
	}
	return nil
}
