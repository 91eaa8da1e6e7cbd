package api

import (
	"time"

	"github.com/phrazzld/plip-api/internal/domain"
	"github.com/phrazzld/plip-api/internal/service"
)

// InferenceRequest defines the payload for the analysis submission endpoint.
// Exactly one of PDBID and FileContent is used; FileContent wins when both
// are present.
type InferenceRequest struct {
	// PDBID references a structure in the public structure repository
	PDBID string `json:"pdb_id"`
	// FileContent is the inline structure in PDB format
	FileContent string `json:"file_content"`

	OutputFormat []string `json:"output_format" validate:"omitempty,dive,oneof=xml txt pymol"`
	Model        *int     `json:"model"         validate:"omitempty,gte=1"`
	Verbose      bool     `json:"verbose"`
	Peptides     []string `json:"peptides"      validate:"omitempty,dive,required"`
	NoHydro      bool     `json:"nohydro"`
}

// input returns the structure source carried by the payload.
func (r InferenceRequest) input() domain.Input {
	return domain.Input{Content: r.FileContent, Reference: r.PDBID}
}

// toSubmitRequest converts the payload into a service request.
func (r InferenceRequest) toSubmitRequest() service.SubmitRequest {
	opts := domain.Options{
		Verbose:  r.Verbose,
		NoHydro:  r.NoHydro,
		Peptides: r.Peptides,
	}
	if r.Model != nil {
		opts.Model = *r.Model
	}
	for _, f := range r.OutputFormat {
		opts.OutputFormats = append(opts.OutputFormats, domain.OutputFormat(f))
	}

	return service.SubmitRequest{
		Content:   r.FileContent,
		Reference: r.PDBID,
		Options:   opts,
	}
}

// InferenceResponse is returned once a task has been accepted.
type InferenceResponse struct {
	TaskID string `json:"task_id"`
}

// TaskStatusResponse is the client view of a task record.
type TaskStatusResponse struct {
	TaskID  string         `json:"task_id"`
	Status  string         `json:"status"`
	Options domain.Options `json:"options"`
	// Results is a pointer so a completed task reports an empty object
	// rather than omitting the field when no binding sites were found.
	Results    *map[string]domain.Artifacts `json:"results,omitempty"`
	Error      string                       `json:"error,omitempty"`
	CreatedAt  time.Time                    `json:"created_at"`
	UpdatedAt  time.Time                    `json:"updated_at"`
	StartedAt  *time.Time                   `json:"started_at,omitempty"`
	FinishedAt *time.Time                   `json:"finished_at,omitempty"`
}

// taskToResponse converts a domain.TaskRecord to a TaskStatusResponse
func taskToResponse(rec *domain.TaskRecord) TaskStatusResponse {
	resp := TaskStatusResponse{
		TaskID:     rec.ID,
		Status:     string(rec.Status),
		Options:    rec.Options,
		Error:      rec.Error,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	}
	if rec.Status == domain.TaskStatusCompleted {
		results := rec.Results
		if results == nil {
			results = map[string]domain.Artifacts{}
		}
		resp.Results = &results
	}
	return resp
}

// PingResponse is the liveness probe payload.
type PingResponse struct {
	Message string `json:"message"`
}
