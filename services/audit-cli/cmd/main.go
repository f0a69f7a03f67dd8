package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nimeshabuddhika/parcel-recovery/pkg"
	"github.com/nimeshabuddhika/parcel-recovery/services/audit-cli/internal/cli"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	logger := pkg.InitLogger("audit-cli")
	defer pkg.SyncLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return cli.NewRootCmd(logger, version).ExecuteContext(ctx)
}
