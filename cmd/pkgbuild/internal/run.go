package internal

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/goplus/pkgbuild/internal/task"
	"github.com/spf13/cobra"
)

// LockFile is created in the staging directory while a run holds it.
const LockFile = ".pkgbuild.lock"

var (
	runDryRun    bool
	runTrace     bool
	runFreshness string
)

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Run a task and its prerequisites",
	Long: `Run resolves a task, such as build:all or msi:selfbuild, with everything it
depends on and runs what is out of date in dependency order.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVarP(&runDryRun, "dry-run", "n", false, "Log the tasks that would run without running them")
	runCmd.Flags().BoolVarP(&runTrace, "trace", "t", false, "Log every execution and skip decision")
	runCmd.Flags().StringVar(&runFreshness, "freshness", "mtime", "How file tasks are checked: mtime or digest")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	freshness, err := parseFreshness(runFreshness)
	if err != nil {
		return err
	}
	cfg, _, reg, err := load()
	if err != nil {
		return err
	}

	lock, err := acquireLock(cfg.StagingDir)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := task.Options{
		Freshness: freshness,
		Dir:       cfg.WorkDir,
		DryRun:    runDryRun,
		Trace:     runTrace,
	}
	// Silence compilers, packagers and docker unless asked for
	if !verbose {
		opts.Stdout = io.Discard
		opts.Stderr = io.Discard
	}
	return task.NewExecutor(reg, opts).Run(ctx, args[0])
}

func parseFreshness(name string) (task.Freshness, error) {
	switch name {
	case "", "mtime":
		return task.ModTime{}, nil
	case "digest":
		return task.NewContentDigest(), nil
	}
	return nil, fmt.Errorf("unknown freshness %q: want mtime or digest", name)
}

// acquireLock takes the run lock of the staging directory dir. It fails
// at once when another run holds it.
func acquireLock(dir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, LockFile)
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock %s: another run is in progress", path)
	}
	return lock, nil
}
