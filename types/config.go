/*
Copyright © 2025 Joseph Goksu josephgoksu@gmail.com
*/
package types

// AppConfig represents the complete application configuration
type AppConfig struct {
	Verbose bool          `mapstructure:"verbose"`
	Config  string        `mapstructure:"config"`
	Project ProjectConfig `mapstructure:"project" validate:"required"`
	Engine  EngineConfig  `mapstructure:"engine" validate:"required"`
	Workers WorkersConfig `mapstructure:"workers" validate:"omitempty"`
}

// ProjectConfig holds project-related settings
type ProjectConfig struct {
	RootDir        string `mapstructure:"rootDir" validate:"required"`
	DefinitionsDir string `mapstructure:"definitionsDir" validate:"required"`
	JournalPath    string `mapstructure:"journalPath" validate:"required"`
}

// EngineConfig holds task scheduling and workflow execution settings
type EngineConfig struct {
	MaxConcurrentTasksPerRole int  `mapstructure:"maxConcurrentTasksPerRole" validate:"omitempty,min=1"`
	AutoAssignTasks           bool `mapstructure:"autoAssignTasks"`
	MaxParallelTasks          int  `mapstructure:"maxParallelTasks" validate:"omitempty,min=1"`
	// ExecutionTimeoutSeconds bounds a single workflow run; zero disables the timer
	ExecutionTimeoutSeconds int `mapstructure:"executionTimeoutSeconds" validate:"min=0,max=86400"`
	// EnableAutoRecovery is reserved for resuming interrupted runs from the journal
	EnableAutoRecovery bool `mapstructure:"enableAutoRecovery"`
}

// WorkersConfig holds the worker roles registered at startup
type WorkersConfig struct {
	Names []string `mapstructure:"names" validate:"omitempty,dive,min=1"`
}
