package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/josephgoksu/FlowWing/internal/defs"
	"github.com/josephgoksu/FlowWing/internal/journal"
	"github.com/josephgoksu/FlowWing/internal/logger"
	"github.com/josephgoksu/FlowWing/types"
)

const (
	configName = ".flowwing"
	envPrefix  = "FLOWWING"
)

// GlobalAppConfig holds the global application configuration instance.
var GlobalAppConfig types.AppConfig

// validate is a single instance of Validate, it caches struct info
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// validateAppConfig performs validation on the AppConfig struct.
func validateAppConfig(config *types.AppConfig) error {
	return validate.Struct(config)
}

// InitConfig reads in config file and ENV variables if set.
func InitConfig() {
	// Load .env file first if present; a missing file is fine.
	_ = godotenv.Load()

	// Environment variable handling must be set up BEFORE reading the config
	// file so env vars can influence config loading (e.g. FLOWWING_PROJECT_ROOTDIR).
	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfgFileFlag := viper.GetString("config") // Value from --config flag

	// The project root is needed before the full unmarshal to locate the
	// config file itself.
	potentialProjectConfigDir := viper.GetString("project.rootDir")
	if potentialProjectConfigDir == "" {
		potentialProjectConfigDir = ".flowwing"
	}

	if cfgFileFlag != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFileFlag)
	} else {
		if _, err := os.Stat(potentialProjectConfigDir); !os.IsNotExist(err) {
			// Project-specific config directory exists. Prioritize it.
			viper.AddConfigPath(potentialProjectConfigDir) // ./.flowwing/.flowwing.yaml
			viper.SetConfigName(configName)
		} else {
			home, err := os.UserHomeDir()
			cobra.CheckErr(err)
			viper.AddConfigPath(home) // $HOME/.flowwing.yaml
			viper.AddConfigPath(".")  // ./.flowwing.yaml
			viper.SetConfigName(configName)
		}
	}

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	} else {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if cfgFileFlag != "" {
				fmt.Fprintln(os.Stderr, "Error: Specified config file not found:", cfgFileFlag)
			} else if viper.GetBool("verbose") {
				fmt.Fprintln(os.Stderr, "No config file found. Using defaults and environment variables.")
			}
		} else {
			fmt.Fprintln(os.Stderr, "Error reading config file:", viper.ConfigFileUsed(), "-", err)
		}
	}

	// Set default values
	viper.SetDefault("project.rootDir", ".flowwing")
	viper.SetDefault("project.definitionsDir", defs.DefaultDefinitionsDir)
	viper.SetDefault("project.journalPath", journal.DefaultFile)

	viper.SetDefault("engine.maxConcurrentTasksPerRole", 1)
	viper.SetDefault("engine.autoAssignTasks", true)
	viper.SetDefault("engine.maxParallelTasks", 10)
	viper.SetDefault("engine.executionTimeoutSeconds", 3600)
	viper.SetDefault("engine.enableAutoRecovery", false)

	viper.SetDefault("workers.names", []string{})

	// After all sources are configured, unmarshal into GlobalAppConfig
	if err := viper.Unmarshal(&GlobalAppConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Error unmarshaling config: %s\n", err)
		os.Exit(1)
	}

	// Relative paths are anchored at the project root, so a config file with
	// just rootDir set keeps everything under one directory.
	if GlobalAppConfig.Project.RootDir == "" {
		GlobalAppConfig.Project.RootDir = viper.GetString("project.rootDir")
	}
	if !filepath.IsAbs(GlobalAppConfig.Project.DefinitionsDir) {
		GlobalAppConfig.Project.DefinitionsDir = filepath.Join(GlobalAppConfig.Project.RootDir, GlobalAppConfig.Project.DefinitionsDir)
	}
	if !filepath.IsAbs(GlobalAppConfig.Project.JournalPath) {
		GlobalAppConfig.Project.JournalPath = filepath.Join(GlobalAppConfig.Project.RootDir, GlobalAppConfig.Project.JournalPath)
	}

	// Validate the populated configuration
	if err := validateAppConfig(&GlobalAppConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration validation error: %s\n", err)
		os.Exit(1)
	}

	// Crash logs land next to the journal under the project root.
	logger.SetBasePath(GlobalAppConfig.Project.RootDir)
}

// GetConfig returns a pointer to the global types.AppConfig instance.
func GetConfig() *types.AppConfig {
	return &GlobalAppConfig
}
