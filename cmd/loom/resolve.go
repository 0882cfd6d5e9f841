package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loom-dev/loom/internal/merge"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <path> --base <file> --ours <file> --theirs <file>",
	Short: "Merge two divergent versions of a file",
	Long: `Merge two divergent versions of a file against their common base.

The path argument selects the merge strategy by extension (text files get a
line-by-line merge, binary extensions never auto-merge); --base, --ours and
--theirs name files holding the three versions. The merged content is
written to stdout, or to --output when given.

When the versions collide on the same lines, the configured resolution
strategy picks a winner: prefer-latest and prefer-oldest compare the
modification times of the --ours and --theirs files. Under the manual
strategy nothing is picked; the conflict is printed with conflict markers
and the command exits 1.

Example usage:
  loom resolve src/main.go --base base.go --ours a.go --theirs b.go
  loom resolve src/main.go --base base.go --ours a.go --theirs b.go -o merged.go
  loom resolve notes.txt --base base.txt --ours a.txt --theirs b.txt --strategy manual`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		strategyName, _ := cmd.Flags().GetString("strategy")
		strategy, err := merge.ParseStrategy(strategyName)
		if err != nil {
			return err
		}

		readVersion := func(name string) (string, time.Time, error) {
			file, _ := cmd.Flags().GetString(name)
			if file == "" {
				return "", time.Time{}, fmt.Errorf("--%s is required", name)
			}
			info, err := os.Stat(file)
			if err != nil {
				return "", time.Time{}, fmt.Errorf("failed to stat %s: %w", name, err)
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return "", time.Time{}, fmt.Errorf("failed to read %s: %w", name, err)
			}
			return string(data), info.ModTime(), nil
		}

		base, _, err := readVersion("base")
		if err != nil {
			return err
		}
		ours, oursAt, err := readVersion("ours")
		if err != nil {
			return err
		}
		theirs, theirsAt, err := readVersion("theirs")
		if err != nil {
			return err
		}

		engine := merge.NewEngine(strategy)

		merged, resolved, err := mergeOrResolve(engine, path, base, ours, theirs, oursAt, theirsAt)
		if err != nil {
			if errors.Is(err, merge.ErrManualResolution) {
				markers := merge.ConflictMarkers(base, ours, theirs, "ours", "theirs")
				fmt.Fprintln(cmd.ErrOrStderr(), "Conflict: versions collide and the manual strategy refuses to pick")
				fmt.Print(markers)
				os.Exit(1)
			}
			return err
		}
		if resolved {
			fmt.Fprintf(cmd.ErrOrStderr(), "Conflict on %s resolved by %s\n", path, strategy)
		}

		if validate, _ := cmd.Flags().GetBool("validate"); validate {
			if !merge.Validate(path, merged) {
				return fmt.Errorf("merged content failed validation for %s", path)
			}
		}

		if output, _ := cmd.Flags().GetString("output"); output != "" {
			if err := os.WriteFile(output, []byte(merged), 0644); err != nil {
				return fmt.Errorf("failed to write merged output: %w", err)
			}
			fmt.Printf("Merged %s -> %s\n", path, output)
			return nil
		}

		fmt.Print(merged)
		return nil
	},
}

// mergeOrResolve merges ours and theirs against base. When the merge
// conflicts it falls back to the engine's resolution strategy, using the
// versions' modification times to pick a winner; the returned bool reports
// whether that fallback decided the outcome. Under the manual strategy the
// fallback refuses and the error wraps merge.ErrManualResolution.
func mergeOrResolve(engine *merge.Engine, path, base, ours, theirs string, oursAt, theirsAt time.Time) (string, bool, error) {
	merged, err := engine.Merge(path, base, ours, theirs)
	if err == nil {
		return merged, false, nil
	}
	if _, ok := err.(*merge.ConflictInfo); !ok {
		return "", false, err
	}

	winner, err := engine.Resolve(path, base, ours, theirs, oursAt, theirsAt)
	if err != nil {
		return "", false, err
	}
	return winner, true, nil
}

func init() {
	resolveCmd.Flags().String("base", "", "file holding the common base version")
	resolveCmd.Flags().String("ours", "", "file holding the first divergent version")
	resolveCmd.Flags().String("theirs", "", "file holding the second divergent version")
	resolveCmd.Flags().StringP("output", "o", "", "write merged content to a file instead of stdout")
	resolveCmd.Flags().String("strategy", "prefer-latest", "resolution strategy: prefer-latest, prefer-oldest, prefer-priority, manual")
	resolveCmd.Flags().Bool("validate", false, "check the merged content for structural validity")
	rootCmd.AddCommand(resolveCmd)
}
