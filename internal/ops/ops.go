// Package ops backs the day-2 commands: status, logs, lifecycle, probes,
// credentials, models, diagnostics and backups. Everything here works
// against an already deployed host and degrades to a notice when a piece
// is missing instead of aborting.
package ops

import (
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"

	"github.com/khegiw/llamactl/internal/config"
	"github.com/khegiw/llamactl/internal/execx"
	"github.com/khegiw/llamactl/internal/install"
	"github.com/khegiw/llamactl/internal/prompt"
	"github.com/khegiw/llamactl/internal/service"
)

// Ops bundles the dependencies the operation commands share.
type Ops struct {
	Cfg    *config.Settings
	Run    execx.Runner
	Ctl    service.Controller
	Prompt prompt.Prompter
	DL     *install.Downloader
	Log    zerolog.Logger
	Out    io.Writer

	// ConfigPath is the settings file the backup includes, when one was
	// loaded from disk.
	ConfigPath string

	// Root prefixes absolute system paths, for tests.
	Root string

	// RestartDelay sits between a restart and the follow-up status.
	RestartDelay time.Duration
	// ProbeTimeout bounds each HTTP probe in `test`.
	ProbeTimeout time.Duration
}

// New builds the operations backend with stdout output and default timing.
func New(cfg *config.Settings, run execx.Runner, ctl service.Controller, p prompt.Prompter, dl *install.Downloader, log zerolog.Logger) *Ops {
	return &Ops{
		Cfg:          cfg,
		Run:          run,
		Ctl:          ctl,
		Prompt:       p,
		DL:           dl,
		Log:          log,
		Out:          os.Stdout,
		RestartDelay: 3 * time.Second,
		ProbeTimeout: 15 * time.Second,
	}
}

func (o *Ops) root() string {
	if o.Root == "" {
		return "/"
	}
	return o.Root
}

// table builds the borderless list style every tabular command uses.
func (o *Ops) table(header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(o.Out)
	t.SetHeader(header)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetBorder(false)
	t.SetHeaderLine(false)
	t.SetColumnSeparator("")
	t.SetNoWhiteSpace(true)
	t.SetTablePadding("  ")
	return t
}
