package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// TaskStatus represents the possible statuses of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusAssigned   TaskStatus = "assigned"
	StatusInProgress TaskStatus = "in-progress"
	StatusBlocked    TaskStatus = "blocked"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Terminal reports whether the status is final. Terminal tasks cannot be
// updated again; completion watchers fire exactly once on entry.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

const (
	// PriorityMin and PriorityMax bound task priority; PriorityDefault is
	// applied when a task is created without one.
	PriorityMin     = 1
	PriorityMax     = 5
	PriorityDefault = 3
)

// Task represents a unit of work in the dependency graph.
//
// IDs are free-form: generated tasks get a UUID, but callers may supply their
// own (workflow definitions reference tasks by these IDs).
type Task struct {
	ID           string         `json:"id" yaml:"id" validate:"required"`
	Title        string         `json:"title" yaml:"title" validate:"required,min=3,max=255"`
	Description  string         `json:"description" yaml:"description" validate:"required"`
	Status       TaskStatus     `json:"status" yaml:"status" validate:"required,oneof=pending assigned in-progress blocked completed failed"`
	Assignee     string         `json:"assignee,omitempty" yaml:"assignee,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty" yaml:"dependencies,omitempty" validate:"dive,required"` // Task IDs this task waits on
	Priority     int            `json:"priority" yaml:"priority" validate:"min=1,max=5"`
	Result       any            `json:"result,omitempty" yaml:"result,omitempty"` // set when the task completes
	Error        string         `json:"error,omitempty" yaml:"error,omitempty"`   // set when the task fails
	Metadata     map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"createdAt" yaml:"createdAt" validate:"required"`
	UpdatedAt    time.Time      `json:"updatedAt" yaml:"updatedAt" validate:"required"`
}

// global validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ValidateStruct performs validation on any struct that has validation tags.
func ValidateStruct(s interface{}) error {
	if validate == nil {
		// Safeguard for tests running in isolation.
		validate = validator.New()
	}
	err := validate.Struct(s)
	if err != nil {
		validationErrors := err.(validator.ValidationErrors)
		var errorMessages []string
		for _, e := range validationErrors {
			errorMessages = append(errorMessages, fmt.Sprintf("Validation failed on field '%s': rule '%s' (value: '%v')", e.StructNamespace(), e.Tag(), e.Value()))
		}
		return fmt.Errorf("%s", strings.Join(errorMessages, "; "))
	}
	return nil
}

// NewTask builds a task with generated timestamps and default status/priority.
// The caller still owns ID assignment.
func NewTask(id, title, description string) *Task {
	now := time.Now()
	return &Task{
		ID:           id,
		Title:        title,
		Description:  description,
		Status:       StatusPending,
		Priority:     PriorityDefault,
		Dependencies: []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
