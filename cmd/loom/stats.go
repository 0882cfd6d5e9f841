package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/loom-dev/loom/internal/config"
	"github.com/loom-dev/loom/internal/journal"
)

var (
	statsHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	statsLabelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(16)
	statsDimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// statsReport is the YAML shape of the stats output.
type statsReport struct {
	Changes   int              `yaml:"changes"`
	Conflicts int              `yaml:"conflicts"`
	Recent    []statsEntry     `yaml:"recent,omitempty"`
	Busiest   []statsPathCount `yaml:"busiest,omitempty"`
}

type statsEntry struct {
	Path      string    `yaml:"path"`
	Kind      string    `yaml:"kind"`
	Origin    string    `yaml:"origin"`
	AppliedAt time.Time `yaml:"applied_at"`
}

type statsPathCount struct {
	Path  string `yaml:"path"`
	Count int    `yaml:"count"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show sync activity from the journal",
	Long: `Show sync activity recorded by the daemon: overall change and conflict
counts, the most recent applies, and the most contended paths.

Example usage:
  loom stats                 # Human-readable summary
  loom stats --format yaml   # Machine-readable output
  loom stats --limit 50      # More recent entries`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		format, _ := cmd.Flags().GetString("format")

		journalPath := cfg.Journal.Path
		if override, _ := cmd.Flags().GetString("journal"); override != "" {
			journalPath = override
		}

		db, err := journal.Open(journalPath)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer db.Close()

		report, err := collectStats(db, limit)
		if err != nil {
			return err
		}

		switch format {
		case "yaml":
			return yaml.NewEncoder(os.Stdout).Encode(report)
		case "table", "":
			printStats(report)
			return nil
		default:
			return fmt.Errorf("unknown format %q (want table or yaml)", format)
		}
	},
}

func init() {
	statsCmd.Flags().String("journal", "", "journal database path (overrides config)")
	statsCmd.Flags().Int("limit", 10, "number of recent changes and paths to show")
	statsCmd.Flags().String("format", "table", "output format: table or yaml")
	rootCmd.AddCommand(statsCmd)
}

func collectStats(db *journal.DB, limit int) (*statsReport, error) {
	totals, err := db.GetTotals()
	if err != nil {
		return nil, err
	}

	recent, err := db.RecentChanges(limit)
	if err != nil {
		return nil, err
	}

	busiest, err := db.BusiestPaths(limit)
	if err != nil {
		return nil, err
	}

	report := &statsReport{
		Changes:   totals.Changes,
		Conflicts: totals.Conflicts,
	}
	for _, e := range recent {
		report.Recent = append(report.Recent, statsEntry{
			Path:      e.Path,
			Kind:      e.Kind,
			Origin:    e.Origin,
			AppliedAt: e.AppliedAt,
		})
	}
	for _, pc := range busiest {
		report.Busiest = append(report.Busiest, statsPathCount{Path: pc.Path, Count: pc.Count})
	}

	return report, nil
}

func printStats(report *statsReport) {
	fmt.Println(statsHeaderStyle.Render("Sync activity"))
	fmt.Printf("%s %d\n", statsLabelStyle.Render("Changes:"), report.Changes)
	fmt.Printf("%s %d\n", statsLabelStyle.Render("Conflicts:"), report.Conflicts)

	if len(report.Recent) > 0 {
		fmt.Println()
		fmt.Println(statsHeaderStyle.Render("Recent changes"))
		for _, e := range report.Recent {
			fmt.Printf("  %-9s %-40s %s %s\n",
				e.Kind, e.Path, e.Origin,
				statsDimStyle.Render(e.AppliedAt.Format(time.RFC3339)))
		}
	}

	if len(report.Busiest) > 0 {
		fmt.Println()
		fmt.Println(statsHeaderStyle.Render("Busiest paths"))
		for _, pc := range report.Busiest {
			fmt.Printf("  %4d  %s\n", pc.Count, pc.Path)
		}
	}
}
