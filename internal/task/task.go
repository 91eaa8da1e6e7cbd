package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/phrazzld/plip-api/internal/domain"
)

// Common errors returned by the Runner
var (
	ErrRunnerStopped = errors.New("task runner is stopped")
	ErrNilEngine     = errors.New("engine cannot be nil")
	ErrNilRegistry   = errors.New("registry cannot be nil")
	ErrNilWorkspace  = errors.New("workspace cannot be nil")
	ErrNilFetcher    = errors.New("structure fetcher cannot be nil")
)

// InputFileName is the name under which the structure to analyze is
// materialized inside the task's output directory.
const InputFileName = "input.pdb"

// ErrorLogFileName is the artifact written into the output directory when
// a task fails after its directory was created.
const ErrorLogFileName = "error.log"

// Job is everything the analysis engine needs to process one task.
type Job struct {
	// TaskID identifies the task the job belongs to
	TaskID string
	// InputPath is the materialized structure file
	InputPath string
	// OutputDir is where the engine writes its artifacts
	OutputDir string
	// Options are the engine-tuning parameters requested by the client
	Options domain.Options
}

// BindingSite is one analyzed entity reported by the engine.
type BindingSite struct {
	// ResidueID is the ligand's residue (HET) identifier
	ResidueID string
	Chain     string
	Position  int
	// Artifacts maps output formats to artifact file names in the output directory
	Artifacts domain.Artifacts
}

// Key returns the binding-site key used in task results.
func (b BindingSite) Key() string {
	return domain.BindingSiteKey(b.ResidueID, b.Chain, b.Position)
}

// ResultSet is the structured outcome of a successful analysis.
type ResultSet struct {
	BindingSites []BindingSite
}

// Results converts the result set into the mapping stored on a completed task.
func (s *ResultSet) Results() map[string]domain.Artifacts {
	results := make(map[string]domain.Artifacts)
	if s == nil {
		return results
	}
	for _, site := range s.BindingSites {
		artifacts := make(domain.Artifacts, len(site.Artifacts))
		for format, name := range site.Artifacts {
			artifacts[format] = name
		}
		results[site.Key()] = artifacts
	}
	return results
}

// Engine performs the analysis. It writes its artifacts into job.OutputDir
// and returns the per-entity result set, or an error describing why the
// structure could not be analyzed. Its console output is its own concern.
type Engine interface {
	Analyze(ctx context.Context, job Job) (*ResultSet, error)
}

// StructureFetcher resolves an external structure reference into file content.
type StructureFetcher interface {
	FetchStructure(ctx context.Context, reference string) ([]byte, error)
}

// Execution stages reported in ExecutionError.
const (
	StagePrepare = "prepare output directory"
	StageResolve = "resolve input"
	StageAnalyze = "analysis"
)

// ExecutionError describes a failure inside background execution. It is
// recorded on the task as its terminal error and never returned to the submitter.
type ExecutionError struct {
	TaskID string
	Stage  string
	Err    error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}
