package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/josephgoksu/FlowWing/engine"
	"github.com/josephgoksu/FlowWing/internal/defs"
)

// validateCmd checks workflow definition files for schema and structure errors.
var validateCmd = &cobra.Command{
	Use:   "validate [file|dir]...",
	Short: "Validate workflow definition files",
	Long: `Checks workflow definitions for schema violations and structural errors:
duplicate node ids, missing or multiple start nodes, missing end nodes, edges
pointing at undeclared nodes, and cycles in the edge graph. With no arguments
the configured definitions directory is checked. Returns non-zero on issues.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := collectDefinitions(args)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Println("No workflow definitions to validate.")
			return nil
		}

		registry := engine.NewRegistry()
		issues := []string{}
		for _, f := range files {
			if err := registry.Register(f.Definition); err != nil {
				issues = append(issues, fmt.Sprintf("%s: %v", f.Path, err))
			}
		}

		if len(issues) == 0 {
			fmt.Printf("✅ %d workflow definition(s) are valid.\n", len(files))
			return nil
		}

		fmt.Printf("❌ Validation failed with %d issue(s):\n", len(issues))
		for i, msg := range issues {
			fmt.Printf("  %d) %s\n", i+1, msg)
		}
		return fmt.Errorf("workflow validation failed")
	},
}

// collectDefinitions loads definitions from the given files and directories,
// falling back to the configured definitions directory when none are named.
// Parse and schema errors surface as load errors here; structural problems
// are left to registration.
func collectDefinitions(args []string) ([]*defs.File, error) {
	if len(args) == 0 {
		args = []string{GetConfig().Project.DefinitionsDir}
	}

	var files []*defs.File
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", arg, err)
		}
		if info.IsDir() {
			loaded, err := defs.NewOsLoader(arg).LoadAll()
			if err != nil {
				return nil, err
			}
			files = append(files, loaded...)
			continue
		}
		file, err := defs.NewOsLoader(filepath.Dir(arg)).LoadFile(arg)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, nil
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
