package domain

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of an analysis task
type TaskStatus string

// Possible task status values
const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"

	// TaskStatusNotFound is never stored. It is the answer given for
	// identifiers the registry does not know.
	TaskStatusNotFound TaskStatus = "not_found"
)

// IsValid reports whether s is a storable lifecycle state.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions can leave s.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// The only edges are queued -> running and running -> completed|failed.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusQueued:
		return next == TaskStatusRunning
	case TaskStatusRunning:
		return next == TaskStatusCompleted || next == TaskStatusFailed
	default:
		return false
	}
}

// InputMode identifies how the structure to analyze was supplied.
type InputMode string

// Supported input modes
const (
	InputModeNone      InputMode = ""
	InputModeContent   InputMode = "content"
	InputModeReference InputMode = "reference"
)

// Input holds the structure to analyze. Exactly one of Content and Reference
// is set on a stored record.
type Input struct {
	// Content is inline structure text (PDB format)
	Content string
	// Reference is an external structure identifier, e.g. a PDB ID
	Reference string
}

// Mode returns the effective input mode. Inline content takes precedence
// over a reference when both are present.
func (i Input) Mode() InputMode {
	switch {
	case strings.TrimSpace(i.Content) != "":
		return InputModeContent
	case strings.TrimSpace(i.Reference) != "":
		return InputModeReference
	default:
		return InputModeNone
	}
}

// Validate reports ErrMissingInput when neither input mode is usable.
func (i Input) Validate() error {
	if i.Mode() == InputModeNone {
		return NewValidationError("", ErrMissingInput.Error(), ErrMissingInput)
	}
	return nil
}

// normalize drops whichever field the effective mode ignores.
func (i Input) normalize() Input {
	switch i.Mode() {
	case InputModeContent:
		return Input{Content: i.Content}
	case InputModeReference:
		return Input{Reference: strings.TrimSpace(i.Reference)}
	default:
		return Input{}
	}
}

// Artifacts maps an output format to the artifact file name inside the
// task's output directory.
type Artifacts map[OutputFormat]string

// BindingSiteKey builds the results key for one analyzed entity,
// formatted as <residue-id>:<chain>:<position>.
func BindingSiteKey(residueID, chain string, position int) string {
	return strings.Join([]string{residueID, chain, strconv.Itoa(position)}, ":")
}

// TaskRecord is the single canonical view of an analysis task.
type TaskRecord struct {
	ID         string               `json:"task_id"`
	Status     TaskStatus           `json:"status"`
	Input      Input                `json:"-"`
	Options    Options              `json:"options"`
	OutputDir  string               `json:"-"`
	Results    map[string]Artifacts `json:"results,omitempty"`
	Error      string               `json:"error,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
	StartedAt  *time.Time           `json:"started_at,omitempty"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
}

// NewTaskRecord creates a queued TaskRecord with a freshly generated ID.
// Options are completed with defaults and the input is normalized so that
// exactly one input mode remains.
// Returns a *ValidationError if the submission is incomplete or malformed.
func NewTaskRecord(input Input, opts Options) (*TaskRecord, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &TaskRecord{
		ID:        uuid.NewString(),
		Status:    TaskStatusQueued,
		Input:     input.normalize(),
		Options:   opts,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}

	return rec, nil
}

// Validate checks the record's structural invariants.
func (r *TaskRecord) Validate() error {
	if r.ID == "" {
		return ErrEmptyTaskID
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidTaskStatus, r.Status)
	}
	if err := r.Input.Validate(); err != nil {
		return err
	}
	if r.Input.Content != "" && r.Input.Reference != "" {
		return NewValidationError("input", "must set exactly one of content and reference", nil)
	}
	if r.Results != nil && r.Status != TaskStatusCompleted {
		return fmt.Errorf("%w: results present on %s task", ErrInvalidTransition, r.Status)
	}
	if r.Error != "" && r.Status != TaskStatusFailed {
		return fmt.Errorf("%w: error present on %s task", ErrInvalidTransition, r.Status)
	}
	return nil
}

func (r *TaskRecord) transition(next TaskStatus, now time.Time) error {
	if !r.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, next)
	}
	r.Status = next
	r.UpdatedAt = now
	return nil
}

// Start moves a queued task to running.
func (r *TaskRecord) Start(now time.Time) error {
	if err := r.transition(TaskStatusRunning, now); err != nil {
		return err
	}
	r.StartedAt = &now
	return nil
}

// Complete moves a running task to completed with the given results.
// A nil map is stored as an empty one so a completed record always carries
// a results field.
func (r *TaskRecord) Complete(results map[string]Artifacts, now time.Time) error {
	if err := r.transition(TaskStatusCompleted, now); err != nil {
		return err
	}
	if results == nil {
		results = map[string]Artifacts{}
	}
	r.Results = results
	r.FinishedAt = &now
	return nil
}

// Fail moves a running task to failed with a human-readable cause.
func (r *TaskRecord) Fail(cause string, now time.Time) error {
	if err := r.transition(TaskStatusFailed, now); err != nil {
		return err
	}
	if cause == "" {
		cause = "analysis failed"
	}
	r.Error = cause
	r.FinishedAt = &now
	return nil
}

// Clone returns a deep copy safe to hand to concurrent readers.
func (r *TaskRecord) Clone() *TaskRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Options = r.Options.clone()
	if r.Results != nil {
		out.Results = make(map[string]Artifacts, len(r.Results))
		for key, artifacts := range r.Results {
			out.Results[key] = maps.Clone(artifacts)
		}
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}
