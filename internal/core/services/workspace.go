package services

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// WorkspaceManager owns the per-job scratch directories where downloaded
// images, narration and intermediate encodes live.
type WorkspaceManager struct {
	baseDir string
}

func NewWorkspaceManager(baseDir string) *WorkspaceManager {
	if baseDir == "" {
		baseDir = "workspace"
	}
	return &WorkspaceManager{
		baseDir: baseDir,
	}
}

// PrepareWorkspace creates the directory structure for a job (ephemeral)
// Path: baseDir/jobs/{id}
func (s *WorkspaceManager) PrepareWorkspace(id string) (string, error) {
	path := s.GetPath(id)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}

// CleanupWorkspace removes the job workspace directory
func (s *WorkspaceManager) CleanupWorkspace(id string) error {
	return os.RemoveAll(s.GetPath(id))
}

// GetPath returns the path of a job's workspace
func (s *WorkspaceManager) GetPath(id string) string {
	return filepath.Join(s.baseDir, "jobs", id)
}

// PruneAll removes every job workspace left behind by an earlier process and
// returns how many were removed. Jobs do not survive a restart, so nothing in
// baseDir/jobs is still in use at startup.
func (s *WorkspaceManager) PruneAll() (int, error) {
	root := filepath.Join(s.baseDir, "jobs")
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read workspaces: %w", err)
	}

	removed := 0
	var errs []error
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
