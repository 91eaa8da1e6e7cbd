// Package service contains the application use cases of the analysis API.
// It sits between the HTTP layer and the task registry, runner and
// workspace.
//
// Key components:
//
// 1. AnalysisService:
//   - Submit validates a request, registers a queued task and hands it to
//     the background runner without waiting for the analysis
//   - Status and List expose the registry's view of tasks
//
// 2. ResultPackager:
//   - Bundles the output directory of a completed task into a zip archive
//     staged in a temporary file that is removed once the archive is closed
//
// 3. Error Handling:
//   - Store errors are translated into service sentinels (ErrTaskNotFound,
//     ErrInvalidState, ErrResultsNotFound) which the API maps to status codes
//   - Validation errors from the domain are passed through unchanged
package service
