package internal

import (
	"context"

	"github.com/goplus/pkgbuild/internal/task"
	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove temporary build products",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCleanTask("clean")
	},
}

var clobberCmd = &cobra.Command{
	Use:   "clobber",
	Short: "Remove temporary build products and generated packages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCleanTask("clobber")
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(clobberCmd)
}

func runCleanTask(name string) error {
	cfg, _, reg, err := load()
	if err != nil {
		return err
	}
	return task.NewExecutor(reg, task.Options{Dir: cfg.WorkDir}).Run(context.Background(), name)
}
