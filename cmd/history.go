package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/josephgoksu/FlowWing/internal/journal"
	"github.com/josephgoksu/FlowWing/models"
)

var (
	historyWorkflow string
	historyLimit    int
	historyJournal  string
)

// historyCmd lists recorded workflow runs, newest first.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded workflow runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := historyJournal
		if path == "" {
			path = GetConfig().Project.JournalPath
		}

		store, err := journal.NewStore(path)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer func() { _ = store.Close() }()

		runs, err := store.List(historyWorkflow, historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No recorded runs.")
			return nil
		}

		dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
		okStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
		failStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		warnStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

		for _, run := range runs {
			var state string
			switch run.State {
			case models.InstanceCompleted:
				state = okStyle.Render(fmt.Sprintf("%-9s", run.State))
			case models.InstanceFailed:
				state = failStyle.Render(fmt.Sprintf("%-9s", run.State))
			default:
				state = warnStyle.Render(fmt.Sprintf("%-9s", run.State))
			}

			duration := ""
			if !run.StartTime.IsZero() && !run.EndTime.IsZero() {
				duration = run.EndTime.Sub(run.StartTime).Round(time.Millisecond).String()
			}

			fmt.Printf("%s  %s  %-20s %8s  %s\n",
				dimStyle.Render(run.RecordedAt.Local().Format("2006-01-02 15:04:05")),
				state, run.WorkflowID, duration, dimStyle.Render(run.ID))
			if run.Error != "" {
				fmt.Printf("%s %s\n", dimStyle.Render("    error:"), run.Error)
			}
		}
		fmt.Printf("\n%s\n", dimStyle.Render(fmt.Sprintf("Total: %d run(s)", len(runs))))
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyWorkflow, "workflow", "", "only show runs of this workflow id")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs to show")
	historyCmd.Flags().StringVar(&historyJournal, "journal", "", "journal database path (default from config)")
	rootCmd.AddCommand(historyCmd)
}
