package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/josephgoksu/FlowWing/engine"
	"github.com/josephgoksu/FlowWing/internal/defs"
	"github.com/josephgoksu/FlowWing/models"
)

// graphCmd prints the topology of a workflow definition.
var graphCmd = &cobra.Command{
	Use:   "graph <file>",
	Short: "Show the node and edge structure of a workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := defs.NewOsLoader(filepath.Dir(args[0])).LoadFile(args[0])
		if err != nil {
			return err
		}
		def := file.Definition

		headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
		idStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
		dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

		fmt.Printf("%s %s\n", headerStyle.Render(def.Name), dimStyle.Render("("+def.ID+")"))
		if def.Description != "" {
			fmt.Println(dimStyle.Render(def.Description))
		}
		fmt.Println()

		fmt.Println(headerStyle.Render("Nodes"))
		for _, node := range def.Nodes {
			detail := ""
			switch node.Type {
			case models.NodeTask:
				if node.TaskID != "" {
					detail = dimStyle.Render("task=" + node.TaskID)
				}
			case models.NodeCondition:
				if node.Condition != "" {
					detail = dimStyle.Render("when=" + node.Condition)
				}
			}
			fmt.Printf("  %s %-10s %s\n", idStyle.Render(fmt.Sprintf("%-12s", node.ID)), node.Type, detail)
		}

		fmt.Println()
		fmt.Println(headerStyle.Render("Edges"))
		for _, edge := range def.Edges {
			label := ""
			if edge.Condition != "" {
				label = dimStyle.Render(" [" + edge.Condition + "]")
			}
			fmt.Printf("  %s → %s%s\n", idStyle.Render(edge.Source), idStyle.Render(edge.Target), label)
		}

		fmt.Println()
		status := "✅ structurally valid"
		if err := engine.NewRegistry().Register(def); err != nil {
			status = fmt.Sprintf("❌ %v", err)
		}
		fmt.Printf("%s %d node(s), %d edge(s) • %s\n",
			dimStyle.Render("Summary:"), len(def.Nodes), len(def.Edges), status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
