package ops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/khegiw/llamactl/internal/execx"
	"github.com/khegiw/llamactl/internal/fsutil"
)

const defaultLogLines = 50

func (o *Ops) nginxErrorLog() string {
	return filepath.Join(o.Cfg.NginxLogDir, o.Cfg.ServiceName+".error.log")
}

// resolveService maps a user-supplied service argument to the systemd unit
// or the nginx log leg.
func (o *Ops) resolveService(svc string) (unit string, nginx bool, err error) {
	switch strings.ToLower(svc) {
	case "", "llama", "llama-server", o.Cfg.ServiceName:
		return o.Cfg.ServiceName, false, nil
	case "nginx":
		return "", true, nil
	default:
		return "", false, fmt.Errorf("unknown service %q (want %s or nginx)", svc, o.Cfg.ServiceName)
	}
}

// Logs prints the last n lines for one service. The nginx leg reads the
// site's error log file; a missing file is a notice, not a failure.
func (o *Ops) Logs(ctx context.Context, svc string, n int) error {
	if n <= 0 {
		n = defaultLogLines
	}
	unit, nginx, err := o.resolveService(svc)
	if err != nil {
		return err
	}
	if !nginx {
		out, err := o.Ctl.Logs(ctx, unit, n)
		if err != nil {
			return fmt.Errorf("journal for %s: %w", unit, err)
		}
		fmt.Fprint(o.Out, out)
		if !strings.HasSuffix(out, "\n") {
			fmt.Fprintln(o.Out)
		}
		return nil
	}

	path := o.nginxErrorLog()
	lines, err := fsutil.TailLines(path, n)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(o.Out, "log file not found: %s\n", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	for _, line := range lines {
		fmt.Fprintln(o.Out, line)
	}
	return nil
}

// Follow streams logs until the context is cancelled.
func (o *Ops) Follow(ctx context.Context, svc string) error {
	unit, nginx, err := o.resolveService(svc)
	if err != nil {
		return err
	}
	if !nginx {
		return o.Ctl.FollowLogs(ctx, unit)
	}
	path := o.nginxErrorLog()
	if !fsutil.PathExists(path) {
		fmt.Fprintf(o.Out, "log file not found: %s\n", path)
		return nil
	}
	cmd := execx.Command("tail", "-n", "20", "-F", path)
	cmd.Stream = true
	return o.Run.Run(ctx, cmd)
}
