package ops

import (
	"context"
	"fmt"
	"time"
)

// Start brings the stack up: the inference service first, then the proxy
// that fronts it.
func (o *Ops) Start(ctx context.Context) error {
	for _, unit := range o.startOrder() {
		if err := o.Ctl.Start(ctx, unit); err != nil {
			return fmt.Errorf("start %s: %w", unit, err)
		}
		fmt.Fprintf(o.Out, "started %s\n", unit)
	}
	return nil
}

// Stop tears the stack down in reverse order so the proxy never fronts a
// dead backend.
func (o *Ops) Stop(ctx context.Context) error {
	units := o.startOrder()
	for i := len(units) - 1; i >= 0; i-- {
		if err := o.Ctl.Stop(ctx, units[i]); err != nil {
			return fmt.Errorf("stop %s: %w", units[i], err)
		}
		fmt.Fprintf(o.Out, "stopped %s\n", units[i])
	}
	return nil
}

// Restart bounces the stack and follows up with a status screen once the
// server had a moment to settle.
func (o *Ops) Restart(ctx context.Context) error {
	for _, unit := range o.startOrder() {
		if err := o.Ctl.Restart(ctx, unit); err != nil {
			return fmt.Errorf("restart %s: %w", unit, err)
		}
		fmt.Fprintf(o.Out, "restarted %s\n", unit)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(o.RestartDelay):
	}
	return o.Status(ctx)
}

func (o *Ops) startOrder() []string {
	units := []string{o.Cfg.ServiceName}
	if !o.Cfg.DisableProxy {
		units = append(units, "nginx")
	}
	return units
}
