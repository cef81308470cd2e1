/*
Copyright © 2025 Joseph Goksu josephgoksu@gmail.com
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/josephgoksu/FlowWing/engine"
	"github.com/josephgoksu/FlowWing/internal/defs"
	"github.com/josephgoksu/FlowWing/internal/logger"
)

// watchCmd revalidates workflow definitions as they change on disk.
var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Watch workflow definitions and revalidate on change",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config := GetConfig()
		log := logger.Setup(config.Verbose)

		dir := config.Project.DefinitionsDir
		if len(args) == 1 {
			dir = args[0]
		}
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("definitions directory: %w", err)
		}

		registry := engine.NewRegistry()
		report := func(file *defs.File) {
			stamp := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).
				Render(time.Now().Format("15:04:05"))
			if err := registry.Register(file.Definition); err != nil {
				fmt.Printf("%s ❌ %s: %v\n", stamp, file.Path, err)
				return
			}
			fmt.Printf("%s ✅ %s (%s)\n", stamp, file.Path, file.Definition.ID)
		}

		// Validate everything once before settling into the watch loop.
		files, err := defs.NewOsLoader(dir).LoadAll()
		if err != nil {
			return err
		}
		for _, file := range files {
			report(file)
		}

		watcher, err := defs.NewWatcher(dir, func(changed []*defs.File) {
			for _, file := range changed {
				report(file)
			}
		}, log)
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return err
		}
		defer watcher.Stop()

		fmt.Printf("Watching %s for changes. Press Ctrl+C to stop.\n", dir)

		ctx, stopSignal := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stopSignal()
		<-ctx.Done()
		fmt.Println("\nStopped watching.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
