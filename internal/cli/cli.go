// Package cli assembles the llamactl command tree. Commands stay thin: each
// one loads the settings, wires the internal packages together and delegates.
// The shared plumbing lives on App so tests can swap the runner, the service
// controller and the prompter for fakes.
package cli

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/khegiw/llamactl/internal/config"
	"github.com/khegiw/llamactl/internal/execx"
	"github.com/khegiw/llamactl/internal/install"
	"github.com/khegiw/llamactl/internal/logging"
	"github.com/khegiw/llamactl/internal/ops"
	"github.com/khegiw/llamactl/internal/prompt"
	"github.com/khegiw/llamactl/internal/service"
)

// Version is stamped at release time via -ldflags "-X".
var Version = "dev"

// App carries what every command shares: the global flag values, the writers
// output goes to, and the host-facing dependencies.
type App struct {
	ConfigFlag string
	AssumeYes  bool
	LogLevel   string

	Out io.Writer // command output
	Err io.Writer // logs

	Run    execx.Runner
	Ctl    service.Controller
	Prompt prompt.Prompter // nil means pick by --yes and tty

	log        zerolog.Logger
	cfg        *config.Settings
	configPath string
}

// New builds an app wired to the host.
func New() *App {
	run := &execx.ExecRunner{}
	return &App{
		LogLevel:  envDefault("LOG_LEVEL", "info"),
		AssumeYes: envBool("ASSUME_YES"),
		Out:       os.Stdout,
		Err:       os.Stderr,
		Run:       run,
		Ctl:       service.NewSystemd(run),
		log:       logging.New(os.Stderr, "info"),
	}
}

// Execute parses args and runs one command. Cancelling ctx stops whatever
// the command is doing; cobra prints errors and exits non-zero via main.
func (a *App) Execute(ctx context.Context, args []string) error {
	root := a.Root()
	root.SetArgs(args)
	root.SetOut(a.Out)
	root.SetErr(a.Err)
	return root.ExecuteContext(ctx)
}

// Root constructs the command tree.
func (a *App) Root() *cobra.Command {
	root := &cobra.Command{
		Use:   "llamactl",
		Short: "Deploy and operate a llama.cpp server on AMD hardware",
		Long: "llamactl deploys llama.cpp on a single Linux machine (ROCm or Vulkan\n" +
			"backend), manages it as a systemd service behind an nginx proxy with\n" +
			"TLS and basic auth, and carries the day-2 commands to operate it.",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.ConfigFlag, "config", "c", a.ConfigFlag,
		"settings file (default: search llamactl.conf, ~/.config/llamactl, /etc/llamactl)")
	pf.BoolVarP(&a.AssumeYes, "yes", "y", a.AssumeYes,
		"answer every prompt with its default")
	pf.StringVar(&a.LogLevel, "log-level", a.LogLevel, "debug|info|warn|error")
	root.PersistentPreRun = func(*cobra.Command, []string) {
		a.log = logging.New(a.Err, a.LogLevel)
	}

	root.AddCommand(
		a.checkCmd(),
		a.deployCmd(),
		a.statusCmd(),
		a.logsCmd(),
		a.followCmd(),
		a.startCmd(),
		a.stopCmd(),
		a.restartCmd(),
		a.testCmd(),
		a.gpuCmd(),
		a.usersCmd(),
		a.modelCmd(),
		a.benchmarkCmd(),
		a.diagnosticsCmd(),
		a.backupCmd(),
		a.restoreCmd(),
		a.tunnelCmd(),
		a.versionCmd(),
	)
	return root
}

// settings loads the configuration once per invocation.
func (a *App) settings() (*config.Settings, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, path, err := config.Load(a.ConfigFlag)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a.cfg, a.configPath = cfg, path
	if path != "" {
		a.log.Debug().Str("config", path).Msg("settings loaded")
	} else {
		a.log.Debug().Msg("no settings file found, using defaults")
	}
	return a.cfg, nil
}

func (a *App) prompter() prompt.Prompter {
	if a.Prompt != nil {
		return a.Prompt
	}
	if a.AssumeYes {
		return prompt.NonInteractive{}
	}
	return prompt.NewTerminal()
}

// ops builds the operations backend shared by the day-2 commands.
func (a *App) ops() (*ops.Ops, error) {
	cfg, err := a.settings()
	if err != nil {
		return nil, err
	}
	o := ops.New(cfg, a.Run, a.Ctl, a.prompter(), install.NewDownloader(a.log), a.log)
	o.Out = a.Out
	o.ConfigPath = a.configPath
	return o, nil
}

func envDefault(key, def string) string {
	if v := os.Getenv(config.EnvPrefix + key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(config.EnvPrefix + key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
