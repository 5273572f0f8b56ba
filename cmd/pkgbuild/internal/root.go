package internal

import (
	"log"

	"github.com/goplus/pkgbuild/internal/config"
	"github.com/goplus/pkgbuild/internal/recipe"
	"github.com/goplus/pkgbuild/internal/task"
	xlog "github.com/qiniu/x/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	cfgFile string
	verbose bool
	quiet   bool

	// settings layers flags over the config file and environment.
	settings = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "pkgbuild",
	Short: "pkgbuild builds td-agent packages",
	Long: `pkgbuild downloads, compiles and stages td-agent with its bundled runtime
and gems, and produces deb, rpm, msi and dmg packages from the result.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setLogLevel()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "Config file (default "+config.DefaultFile+")")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Show debug logs and the output of external commands")
	flags.BoolVarP(&quiet, "quiet", "q", false, "Only show warnings and errors")
	flags.String("os", "", "Target operating system: linux, darwin or windows")
	flags.String("arch", "", "Target architecture: amd64, arm64, 386 or ppc64le")
	flags.String("staging-dir", "", "Directory the package is staged in")

	bindFlags(flags, map[string]string{
		"os":          "os",
		"arch":        "arch",
		"staging_dir": "staging-dir",
	})
}

// bindFlags makes the named flags override config keys.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := settings.BindPFlag(key, flags.Lookup(name)); err != nil {
			log.Fatalf("bind flag %s: %v", name, err)
		}
	}
}

func setLogLevel() {
	switch {
	case verbose:
		xlog.SetOutputLevel(xlog.Ldebug)
	case quiet:
		xlog.SetOutputLevel(xlog.Lwarn)
	default:
		xlog.SetOutputLevel(xlog.Linfo)
	}
}

// load reads the configuration and registers every task.
func load() (*config.Config, *recipe.Recipe, *task.Registry, error) {
	cfg, err := config.Load(settings, cfgFile)
	if err != nil {
		return nil, nil, nil, err
	}
	r := recipe.New(cfg)
	reg := task.NewRegistry()
	r.Define(reg)
	return cfg, r, reg, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		log.Fatal(err)
	}
}
