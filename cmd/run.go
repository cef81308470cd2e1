/*
Copyright © 2025 Joseph Goksu josephgoksu@gmail.com
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/josephgoksu/FlowWing/internal/defs"
	"github.com/josephgoksu/FlowWing/internal/journal"
	"github.com/josephgoksu/FlowWing/internal/logger"
	"github.com/josephgoksu/FlowWing/models"
	"github.com/josephgoksu/FlowWing/taskgraph"
)

var (
	runVars      []string
	runTimeout   time.Duration
	runDelay     time.Duration
	runJournal   string
	runNoJournal bool
)

// runCmd executes a single workflow definition end to end.
var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Execute a workflow definition",
	Long: `Registers the workflow, creates an instance, and drives it to a terminal
state. Tasks referenced by the workflow are played by a built-in worker that
completes them as their dependencies are satisfied; --simulate-delay adds
latency per task. The finished run is appended to the journal.`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflow,
}

func init() {
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "instance variable as key=value (repeatable)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "override the configured execution timeout")
	runCmd.Flags().DurationVar(&runDelay, "simulate-delay", 0, "artificial latency before each task completes")
	runCmd.Flags().StringVar(&runJournal, "journal", "", "journal database path (default from config)")
	runCmd.Flags().BoolVar(&runNoJournal, "no-journal", false, "do not record the run")
	rootCmd.AddCommand(runCmd)
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	vars, err := parseVars(runVars)
	if err != nil {
		return err
	}

	eng, graph, err := buildEngine(runTimeout)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	file, err := defs.NewOsLoader(filepath.Dir(args[0])).LoadFile(args[0])
	if err != nil {
		return err
	}
	if err := eng.RegisterWorkflow(file.Definition); err != nil {
		return err
	}
	logger.SetWorkflow(file.Definition.ID)
	logger.SetVariables(vars)

	inst, err := eng.CreateWorkflowInstance(file.Definition.ID, vars)
	if err != nil {
		return err
	}

	stop := make(chan struct{})
	defer close(stop)
	go simulateTasks(graph, runDelay, stop)

	if err := eng.StartWorkflowInstance(inst.ID); err != nil {
		return err
	}

	ctx, stopSignal := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stopSignal()

	final, err := eng.WaitForInstance(ctx, inst.ID)
	if err != nil {
		if ctx.Err() == nil {
			return err
		}
		// Interrupted from the terminal: cancel and report what we have.
		_ = eng.CancelWorkflowInstance(inst.ID)
		final, _ = eng.Instance(inst.ID)
	}

	renderInstance(file.Definition, final)

	if !runNoJournal {
		path := runJournal
		if path == "" {
			path = GetConfig().Project.JournalPath
		}
		if err := appendToJournal(path, final); err != nil {
			return fmt.Errorf("record run: %w", err)
		}
		fmt.Println(lipgloss.NewStyle().Foreground(lipgloss.Color("241")).
			Render(fmt.Sprintf("Recorded run %s in %s", final.ID, path)))
	}

	if final.State != models.InstanceCompleted {
		return fmt.Errorf("workflow %s %s", final.WorkflowID, final.State)
	}
	return nil
}

func appendToJournal(path string, inst models.WorkflowInstance) error {
	store, err := journal.NewStore(path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return store.Record(inst)
}

// simulateTasks plays the worker side of a run: any task whose declared
// dependencies are satisfied is completed after the configured delay.
func simulateTasks(g *taskgraph.Graph, delay time.Duration, stop <-chan struct{}) {
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			for _, task := range g.Tasks() {
				if task.Status.Terminal() || !g.CanTaskStart(task) {
					continue
				}
				if delay > 0 {
					select {
					case <-stop:
						return
					case <-time.After(delay):
					}
				}
				status := models.StatusCompleted
				result := any("simulated: " + task.Title)
				_, _, _ = g.UpdateTask(task.ID, taskgraph.TaskUpdate{Status: &status, Result: &result})
			}
		}
	}
}

func parseVars(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --var %q, expected key=value", pair)
		}
		vars[key] = parseVarValue(value)
	}
	return vars, nil
}

// parseVarValue keeps condition expressions usable from the command line:
// integers, floats and booleans arrive typed, everything else stays a string.
func parseVarValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func renderInstance(def models.WorkflowDefinition, inst models.WorkflowInstance) {
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	var badge string
	switch inst.State {
	case models.InstanceCompleted:
		badge = okStyle.Render("✔ completed")
	case models.InstanceFailed:
		badge = failStyle.Render("✖ failed")
	case models.InstanceCanceled:
		badge = warnStyle.Render("■ canceled")
	default:
		badge = warnStyle.Render(string(inst.State))
	}

	fmt.Printf("\n%s %s %s\n", def.Name, dimStyle.Render("("+inst.ID+")"), badge)
	if inst.Error != "" {
		fmt.Printf("%s %s\n", dimStyle.Render("Error:"), failStyle.Render(inst.Error))
	}
	if !inst.StartTime.IsZero() && !inst.EndTime.IsZero() {
		fmt.Printf("%s %s\n", dimStyle.Render("Duration:"), inst.EndTime.Sub(inst.StartTime).Round(time.Millisecond))
	}

	if len(inst.CompletedNodes) > 0 {
		fmt.Printf("%s %s\n", dimStyle.Render("Path:"), strings.Join(inst.CompletedNodes, " → "))
	}
	for _, nodeID := range inst.CompletedNodes {
		result := inst.NodeResults[nodeID]
		if len(result) == 0 {
			continue
		}
		encoded, err := json.Marshal(result)
		if err != nil {
			continue
		}
		fmt.Printf("  %s %s\n", dimStyle.Render(nodeID+":"), string(encoded))
	}
}
