/*
Copyright © 2025 Joseph Goksu josephgoksu@gmail.com
*/
package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/josephgoksu/FlowWing/engine"
	"github.com/josephgoksu/FlowWing/internal/logger"
	"github.com/josephgoksu/FlowWing/taskgraph"
	"github.com/josephgoksu/FlowWing/workers"
)

var (
	// cfgFile is the path to the configuration file.
	cfgFile string
	// verbose enables verbose output.
	verbose bool
	// version is the application version.
	version = "0.1.0"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "flowwing",
	Short: "FlowWing runs task graphs and workflows from the command line.",
	Long: `FlowWing is a workflow execution engine for the command line.
It validates workflow definitions, runs them against an in-memory task graph,
and keeps a journal of finished runs.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.SetCommand(cmd.CommandPath())
	},
	Run: func(cmd *cobra.Command, args []string) {
		// return help if no args are provided
		if len(args) == 0 {
			_ = cmd.Help()
			os.Exit(0)
		}

		// otherwise, run the subcommand
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	logger.SetVersion(version)
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(InitConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.flowwing.yaml or ./.flowwing.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	// Bind persistent flags to Viper
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// buildEngine constructs the task graph and workflow engine from the loaded
// configuration. A positive timeout overrides engine.executionTimeoutSeconds.
func buildEngine(timeout time.Duration) (*engine.Engine, *taskgraph.Graph, error) {
	config := GetConfig()
	log := logger.Setup(config.Verbose)

	gcfg := taskgraph.DefaultConfig()
	if v := config.Engine.MaxConcurrentTasksPerRole; v > 0 {
		gcfg.MaxConcurrentTasksPerRole = v
	}
	if v := config.Engine.MaxParallelTasks; v > 0 {
		gcfg.MaxParallelTasks = v
	}
	gcfg.AutoAssignTasks = config.Engine.AutoAssignTasks
	gcfg.EnableAutoRecovery = config.Engine.EnableAutoRecovery
	gcfg.Logger = log

	graph := taskgraph.New(gcfg, workers.Pool(config.Workers.Names...)...)

	ecfg := engine.DefaultConfig()
	ecfg.ExecutionTimeout = time.Duration(config.Engine.ExecutionTimeoutSeconds) * time.Second
	if timeout > 0 {
		ecfg.ExecutionTimeout = timeout
	}
	ecfg.Logger = log

	eng, err := engine.New(graph, ecfg)
	if err != nil {
		return nil, nil, err
	}
	return eng, graph, nil
}
