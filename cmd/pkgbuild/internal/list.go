package internal

import (
	"fmt"
	"io"

	"github.com/goplus/pkgbuild/internal/task"
	"github.com/spf13/cobra"
)

var listAll bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks with their descriptions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, reg, err := load()
		if err != nil {
			return err
		}
		printTasks(cmd.OutOrStdout(), reg.Tasks(), listAll)
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVarP(&listAll, "all", "a", false, "Include tasks without a description")
	rootCmd.AddCommand(listCmd)
}

// printTasks writes one "name  # description" line per task, names padded
// to a common width.
func printTasks(w io.Writer, tasks []*task.Task, all bool) {
	var shown []*task.Task
	width := 0
	for _, t := range tasks {
		if t.Description() == "" && !all {
			continue
		}
		shown = append(shown, t)
		width = max(width, len(t.Name()))
	}
	for _, t := range shown {
		if t.Description() == "" {
			fmt.Fprintln(w, t.Name())
			continue
		}
		fmt.Fprintf(w, "%-*s  # %s\n", width, t.Name(), t.Description())
	}
}
