package ops

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/khegiw/llamactl/internal/execx"
	"github.com/khegiw/llamactl/internal/fsutil"
)

// Benchmark runs llama-bench against the configured model. When the build
// phase has not produced the binary yet, the exact invocation is printed
// instead so the operator can run it after a deploy.
func (o *Ops) Benchmark(ctx context.Context) error {
	bin := o.Cfg.BenchBinary()
	args := []string{
		"-m", o.Cfg.ModelPath(),
		"-t", strconv.Itoa(o.Cfg.Threads),
		"-ngl", strconv.Itoa(o.Cfg.GPULayers),
	}
	if !fsutil.PathExists(bin) {
		fmt.Fprintf(o.Out, "llama-bench is not built; after `llamactl deploy` run:\n  %s %s\n",
			bin, strings.Join(args, " "))
		return nil
	}
	cmd := execx.Command(bin, args...)
	cmd.Stream = true
	if err := o.Run.Run(ctx, cmd); err != nil {
		return fmt.Errorf("llama-bench: %w", err)
	}
	return nil
}
