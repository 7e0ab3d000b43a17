package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/khegiw/llamactl/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cli.New().Execute(ctx, os.Args[1:]); err != nil {
		os.Exit(1)
	}
}
