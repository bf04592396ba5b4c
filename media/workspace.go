package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Workspace is the scratch directory for one analysis request. It is created
// before extraction begins and removed unconditionally afterwards; callers
// must defer Close on every path, success or failure.
type Workspace struct {
	root string
}

func NewWorkspace(parent string) (*Workspace, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace parent: %w", err)
		}
	}
	root, err := os.MkdirTemp(parent, "analyze-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{root: root}, nil
}

// Root returns the workspace directory.
func (w *Workspace) Root() string {
	return w.root
}

// Path joins elem onto the workspace root.
func (w *Workspace) Path(elem ...string) string {
	return filepath.Join(append([]string{w.root}, elem...)...)
}

// Mkdir creates a subdirectory inside the workspace.
func (w *Workspace) Mkdir(name string) (string, error) {
	dir := w.Path(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	return dir, nil
}

// WriteInput copies an uploaded payload into the workspace and returns its
// path.
func (w *Workspace) WriteInput(name string, r io.Reader) (string, error) {
	path := w.Path(name)
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create input file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return "", fmt.Errorf("write input file: %w", err)
	}
	return path, nil
}

// Close removes the workspace and everything in it.
func (w *Workspace) Close() error {
	return os.RemoveAll(w.root)
}
