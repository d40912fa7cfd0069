package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "replayer",
		Short:         "Record browser interactions and replay them as scripts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "replayer.yaml", "config file (YAML, or JSON by extension)")

	load := func() (*app, error) { return loadApp(cfgPath) }
	root.AddCommand(
		newRecordCmd(load),
		newRunCmd(load),
		newListCmd(load),
		newShowCmd(load),
		newImportCmd(load),
		newExportCmd(load),
		newDeleteCmd(load),
		newScheduleCmd(load),
		newHelperCmd(load),
		newDaemonCmd(load),
	)
	return root
}
