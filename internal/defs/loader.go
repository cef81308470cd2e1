// Package defs loads workflow definition files from disk.
package defs

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/josephgoksu/FlowWing/models"
)

// DefaultDefinitionsDir is the default directory for workflow definition
// files relative to .flowwing.
const DefaultDefinitionsDir = "workflows"

// File is a workflow definition loaded from disk.
type File struct {
	// Path is the path the definition was read from.
	Path string `json:"path"`
	// Name is the base name of the file without extension.
	Name string `json:"name"`
	// Definition is the parsed and schema-validated workflow.
	Definition models.WorkflowDefinition `json:"definition"`
}

// Loader scans and parses workflow definition files from the configured
// directory. It uses an afero.Fs interface for filesystem operations,
// enabling easy testing with in-memory filesystems.
type Loader struct {
	fs      afero.Fs
	baseDir string
}

// NewLoader creates a definition loader using the provided filesystem.
// Use afero.NewOsFs() for real filesystem operations, or
// afero.NewMemMapFs() for testing.
func NewLoader(fs afero.Fs, baseDir string) *Loader {
	return &Loader{
		fs:      fs,
		baseDir: baseDir,
	}
}

// NewOsLoader creates a Loader using the real operating system filesystem.
func NewOsLoader(baseDir string) *Loader {
	return NewLoader(afero.NewOsFs(), baseDir)
}

// LoadAll loads every definition file in the configured directory.
// Subdirectories are scanned recursively. A missing directory is not an
// error; it simply yields no definitions.
func (l *Loader) LoadAll() ([]*File, error) {
	exists, err := afero.DirExists(l.fs, l.baseDir)
	if err != nil {
		return nil, fmt.Errorf("check definitions directory: %w", err)
	}
	if !exists {
		return []*File{}, nil
	}

	var files []*File

	err = afero.Walk(l.fs, l.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !IsDefinitionFile(info.Name()) {
			return nil
		}

		file, err := l.loadFile(path)
		if err != nil {
			return fmt.Errorf("load definition %s: %w", path, err)
		}

		files = append(files, file)
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("walk definitions directory: %w", err)
	}

	return files, nil
}

// LoadFile loads a single workflow definition file by path.
func (l *Loader) LoadFile(path string) (*File, error) {
	return l.loadFile(path)
}

func (l *Loader) loadFile(path string) (*File, error) {
	file, err := l.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	base := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(base))
	name := strings.TrimSuffix(base, filepath.Ext(base))

	var def models.WorkflowDefinition
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &def); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(content, &def); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported definition format %q", ext)
	}

	// Files may omit the id; the filename stem is the natural default.
	if def.ID == "" {
		def.ID = name
	}
	if err := models.ValidateStruct(def); err != nil {
		return nil, err
	}

	return &File{
		Path:       path,
		Name:       name,
		Definition: def,
	}, nil
}

// Exists checks if the definitions directory exists.
func (l *Loader) Exists() (bool, error) {
	return afero.DirExists(l.fs, l.baseDir)
}

// IsDefinitionFile reports whether the file name has a recognized workflow
// definition extension.
func IsDefinitionFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// DefinitionsPath constructs the full path to the definitions directory
// given a project root path.
func DefinitionsPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".flowwing", DefaultDefinitionsDir)
}
