package internal

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the pkgbuild version and the configured package",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, _, err := load()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pkgbuild %s\n%s %s (%s/%s)\n",
			buildVersion(), cfg.Package, cfg.Version, cfg.OS, cfg.Arch)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "(devel)"
	}
	return info.Main.Version
}
