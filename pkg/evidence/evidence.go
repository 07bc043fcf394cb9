package evidence

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"

	"github.com/Pond-International/pond-agent/pkg/adapter"
)

// DiagnosticLimit caps the diagnostic text embedded in attempt records.
// The full text is kept under diagnostics/.
const DiagnosticLimit = 4096

// RunRecord captures run-level metadata.
type RunRecord struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	ManifestFile string            `json:"manifest_file,omitempty"`
	ManifestHash string            `json:"manifest_hash,omitempty"`
	InputDir     string            `json:"input_dir"`
	RunDir       string            `json:"run_dir"`
	Adapter      string            `json:"adapter"`
	Model        string            `json:"model"`
	RepairBudget int               `json:"repair_budget"`
	Status       string            `json:"status"`
	FailedStage  string            `json:"failed_stage,omitempty"`
	FailureKind  string            `json:"failure_kind,omitempty"`
	Error        string            `json:"error,omitempty"`
	ToolVersions map[string]string `json:"tool_versions,omitempty"`
}

// StageRecord captures evidence for a single stage.
type StageRecord struct {
	Name           string          `json:"name"`
	Adapter        string          `json:"adapter,omitempty"`
	Model          string          `json:"model,omitempty"`
	Skipped        bool            `json:"skipped,omitempty"`
	Status         string          `json:"status"`
	FailureKind    string          `json:"failure_kind,omitempty"`
	InputDir       string          `json:"input_dir,omitempty"`
	OutputDir      string          `json:"output_dir,omitempty"`
	ScriptPath     string          `json:"script_path,omitempty"`
	ScriptHash     string          `json:"script_hash,omitempty"`
	PromptHash     string          `json:"prompt_hash,omitempty"`
	RepairsUsed    int             `json:"repairs_used"`
	DurationMillis int64           `json:"duration_ms"`
	Attempts       []AttemptRecord `json:"attempts,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// AttemptRecord captures one execution of a stage script.
type AttemptRecord struct {
	Attempt        int    `json:"attempt"`
	ScriptVersion  int    `json:"script_version"`
	ScriptHash     string `json:"script_hash"`
	Succeeded      bool   `json:"succeeded"`
	ExitCode       int    `json:"exit_code"`
	TimedOut       bool   `json:"timed_out,omitempty"`
	Diagnostic     string `json:"diagnostic,omitempty"`
	DiagnosticHash string `json:"diagnostic_hash,omitempty"`
	Repaired       bool   `json:"repaired"`
	DurationMillis int64  `json:"duration_ms"`
}

// BudgetStatus reports spend against an optional USD cap.
type BudgetStatus struct {
	MaxAmount float64 `json:"max_amount"`
	Exceeded  bool    `json:"exceeded"`
	Reason    string  `json:"reason,omitempty"`
}

// RunCostReport totals oracle usage for a run.
type RunCostReport struct {
	Currency    string               `json:"currency"`
	TotalAmount float64              `json:"total_amount"`
	TotalUsage  adapter.Usage        `json:"total_usage"`
	ByStage     map[string]float64   `json:"by_stage,omitempty"`
	Calls       []adapter.CallReport `json:"calls,omitempty"`
	Budget      *BudgetStatus        `json:"budget,omitempty"`
}

// Writer writes evidence bundles to disk.
type Writer struct {
	baseDir string
	runDir  string
}

// NewWriter creates a new evidence writer rooted at baseDir/runID.
func NewWriter(baseDir, runID string) (*Writer, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if runID == "" {
		return nil, fmt.Errorf("run ID is required")
	}

	runDir := filepath.Join(baseDir, runID)
	for _, dir := range []string{runDir, filepath.Join(runDir, "stages"), filepath.Join(runDir, "diagnostics")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	return &Writer{baseDir: baseDir, runDir: runDir}, nil
}

// RunDir returns the evidence directory path.
func (w *Writer) RunDir() string {
	return w.runDir
}

// WriteRun writes run metadata to run.json.
func (w *Writer) WriteRun(record RunRecord) error {
	return writeJSON(filepath.Join(w.runDir, "run.json"), record)
}

// WriteStage writes a stage record to stages/<stage>.json.
func (w *Writer) WriteStage(record StageRecord) error {
	if record.Name == "" {
		return fmt.Errorf("stage name is required")
	}
	path := filepath.Join(w.runDir, "stages", fmt.Sprintf("%s.json", record.Name))
	return writeJSON(path, record)
}

// WriteDiagnostic keeps the full diagnostic of one attempt in
// diagnostics/<stage>-<attempt>.log.
func (w *Writer) WriteDiagnostic(stageName string, attempt int, content string) error {
	if stageName == "" {
		return fmt.Errorf("stage name is required")
	}
	path := filepath.Join(w.runDir, "diagnostics", fmt.Sprintf("%s-%d.log", stageName, attempt))
	return os.WriteFile(path, []byte(content), 0644)
}

// WriteCost writes the run cost report to cost.json.
func (w *Writer) WriteCost(report *RunCostReport) error {
	if report == nil {
		return nil
	}
	return writeJSON(filepath.Join(w.runDir, "cost.json"), report)
}

// Truncate shortens value to limit bytes for embedding in a record.
func Truncate(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	return value[:limit]
}

// Hash returns the hex blake3 digest of value.
func Hash(value string) string {
	sum := blake3.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
