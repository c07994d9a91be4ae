package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the novella home directory.
	DefaultDirName = ".novella"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	progressDirName = "progress"
	reportsDirName  = "reports"
	logsDirName     = "logs"
	uploadsDirName  = "uploads"
	promptsDirName  = "prompts"
	callsDBName     = "llmcalls.db"
	logFileName     = "novella.log"
)

// Dir represents the novella home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.novella).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// ProgressPath returns the badger directory holding resumable snapshots.
func (d *Dir) ProgressPath() string {
	return filepath.Join(d.path, progressDirName)
}

// CallsDBPath returns the sqlite file for the LLM call log.
func (d *Dir) CallsDBPath() string {
	return filepath.Join(d.path, callsDBName)
}

// LogPath returns the JSON log file path.
func (d *Dir) LogPath() string {
	return filepath.Join(d.path, logsDirName, logFileName)
}

// ReportsDir returns the directory holding finished reports for a job.
func (d *Dir) ReportsDir(jobID string) string {
	return filepath.Join(d.path, reportsDirName, jobID)
}

// ReportPath returns the markdown file for one report of a job.
func (d *Dir) ReportPath(jobID, reportType string) string {
	return filepath.Join(d.ReportsDir(jobID), reportType+".md")
}

// UploadsDir returns the directory holding documents uploaded to the server.
func (d *Dir) UploadsDir() string {
	return filepath.Join(d.path, uploadsDirName)
}

// PromptsDir returns the directory searched for <key>.tmpl prompt overrides.
func (d *Dir) PromptsDir() string {
	return filepath.Join(d.path, promptsDirName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{
		d.ProgressPath(),
		filepath.Join(d.path, reportsDirName),
		filepath.Join(d.path, logsDirName),
		d.UploadsDir(),
		d.PromptsDir(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// WriteReport stores a finished report as markdown and returns its path.
func (d *Dir) WriteReport(jobID, reportType, text string) (string, error) {
	if err := os.MkdirAll(d.ReportsDir(jobID), 0o755); err != nil {
		return "", fmt.Errorf("failed to create reports directory: %w", err)
	}
	path := d.ReportPath(jobID, reportType)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}
