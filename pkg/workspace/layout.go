package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Well-known run subdirectories.
const (
	ProcessedData = "processed_data"
	FeatureData   = "feature_data"
	Models        = "models"
	Submission    = "submission"
	Scripts       = "scripts"
	Reports       = "reports"
)

var runDirs = []string{ProcessedData, FeatureData, Models, Submission, Scripts, Reports}

const runPrefix = "run_"

// Layout is one run's directory tree under an output root.
type Layout struct {
	Root string
	Name string
}

// Create makes <outDir>/run_<YYYYMMDD_HHMMSS> and its standard
// subdirectories. If that name is taken, a numeric suffix is added so
// concurrent runs never share a directory. The layout root is absolute;
// scripts run with the root as their working directory.
func Create(outDir string, now time.Time) (*Layout, error) {
	if outDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	outDir, err := filepath.Abs(outDir)
	if err != nil {
		return nil, fmt.Errorf("resolve output dir: %w", err)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	base := runPrefix + now.Format("20060102_150405")
	name := base
	for i := 1; ; i++ {
		err := os.Mkdir(filepath.Join(outDir, name), 0755)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create run dir: %w", err)
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}

	l := &Layout{Root: filepath.Join(outDir, name), Name: name}
	for _, dir := range runDirs {
		if err := os.MkdirAll(filepath.Join(l.Root, dir), 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return l, nil
}

// Open returns the layout of an existing run directory.
func Open(root string) (*Layout, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("run path is not a directory: %s", root)
	}
	return &Layout{Root: root, Name: filepath.Base(root)}, nil
}

// Dir returns the absolute path of a run subdirectory.
func (l *Layout) Dir(name string) string {
	return filepath.Join(l.Root, name)
}

// Resolve joins rel onto the run root, refusing paths that escape it.
func (l *Layout) Resolve(rel string) (string, error) {
	return safeJoin(l.Root, rel)
}

// ScriptPath returns scripts/<name>.py for a stage script.
func (l *Layout) ScriptPath(name string) (string, error) {
	if filepath.Ext(name) == "" {
		name += ".py"
	}
	return safeJoin(l.Dir(Scripts), name)
}

// IsRunDir reports whether a directory name looks like a run directory.
func IsRunDir(name string) bool {
	return strings.HasPrefix(name, runPrefix)
}

func safeJoin(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", rel)
	}
	cleaned := filepath.Clean(rel)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path: %s", rel)
	}

	joined := filepath.Join(root, cleaned)
	relCheck, err := filepath.Rel(root, joined)
	if err != nil || relCheck == ".." || strings.HasPrefix(relCheck, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes run directory: %s", rel)
	}
	return joined, nil
}
