package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/phrazzld/plip-api/internal/config"
	"github.com/phrazzld/plip-api/internal/domain"
	"github.com/phrazzld/plip-api/internal/task"
	"github.com/spf13/afero"
)

// Artifact names produced inside a task's output directory.
const (
	ReportXMLName = "report.xml"
	ReportTXTName = "report.txt"
	LogFileName   = "engine.log"

	// sessionExt is the extension of the per-binding-site PyMOL sessions,
	// named <PDBID>_<HETID>_<CHAIN>_<POSITION>.pse.
	sessionExt = ".pse"
)

// maxLogTail bounds how much engine output is quoted in a failure message.
const maxLogTail = 512

var (
	// ErrEngineFailed is returned when the engine process exits unsuccessfully.
	ErrEngineFailed = errors.New("analysis engine failed")

	// ErrReportMissing is returned when the engine exits cleanly without a report.
	ErrReportMissing = errors.New("analysis report missing")
)

// ExecFunc runs name with args, sending combined console output to output.
type ExecFunc func(ctx context.Context, name string, args []string, output io.Writer) error

// CommandEngine runs the PLIP CLI as an external process.
type CommandEngine struct {
	command string
	fs      afero.Fs
	exec    ExecFunc
	logger  *slog.Logger
}

var _ task.Engine = (*CommandEngine)(nil)

// Option configures a CommandEngine.
type Option func(*CommandEngine)

// WithFs sets the filesystem used to read reports and write the engine log.
// It must be the filesystem the engine process writes to.
func WithFs(fsys afero.Fs) Option {
	return func(e *CommandEngine) {
		e.fs = fsys
	}
}

// WithExec replaces process execution.
func WithExec(fn ExecFunc) Option {
	return func(e *CommandEngine) {
		e.exec = fn
	}
}

// NewCommandEngine creates an engine invoking cfg.Command.
func NewCommandEngine(cfg config.EngineConfig, logger *slog.Logger, opts ...Option) *CommandEngine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &CommandEngine{
		command: cfg.Command,
		fs:      afero.NewOsFs(),
		exec:    runCommand,
		logger:  logger.With("component", "plip_engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func runCommand(ctx context.Context, name string, args []string, output io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = output
	cmd.Stderr = output
	return cmd.Run()
}

// BuildArgs derives the CLI arguments for a job. The XML report is always
// requested since binding sites are read from it.
func BuildArgs(job task.Job) []string {
	opts := job.Options

	args := []string{"-f", job.InputPath, "-o", job.OutputDir, "-x"}
	if opts.Wants(domain.OutputFormatTXT) {
		args = append(args, "-t")
	}
	if opts.Wants(domain.OutputFormatPyMOL) {
		args = append(args, "-y")
	}
	if opts.Verbose {
		args = append(args, "-v")
	}
	if opts.NoHydro {
		args = append(args, "--nohydro")
	}
	model := opts.Model
	if model < 1 {
		model = domain.DefaultModel
	}
	args = append(args, "--model", strconv.Itoa(model))

	// --peptides consumes every following argument
	if len(opts.Peptides) > 0 {
		args = append(args, "--peptides")
		args = append(args, opts.Peptides...)
	}
	return args
}

// Analyze runs the engine for job and returns one binding site per ligand
// listed in its report.
func (e *CommandEngine) Analyze(ctx context.Context, job task.Job) (*task.ResultSet, error) {
	logger := e.logger.With("task_id", job.TaskID)

	logPath := filepath.Join(job.OutputDir, LogFileName)
	logFile, err := e.fs.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("create engine log: %w", err)
	}

	args := BuildArgs(job)
	logger.Debug("running analysis engine", "command", e.command, "args", args)

	runErr := e.exec(ctx, e.command, args, logFile)
	if closeErr := logFile.Close(); closeErr != nil {
		logger.Warn("failed to close engine log", "error", closeErr)
	}
	if runErr != nil {
		if tail := e.logTail(logPath); tail != "" {
			return nil, fmt.Errorf("%w: %v: %s", ErrEngineFailed, runErr, tail)
		}
		return nil, fmt.Errorf("%w: %v", ErrEngineFailed, runErr)
	}

	sites, err := e.readReport(filepath.Join(job.OutputDir, ReportXMLName))
	if err != nil {
		return nil, err
	}

	artifacts := e.collectArtifacts(job, logger)

	set := &task.ResultSet{BindingSites: make([]task.BindingSite, 0, len(sites))}
	for _, site := range sites {
		siteArtifacts := cloneArtifacts(artifacts)
		if job.Options.Wants(domain.OutputFormatPyMOL) {
			if name := e.findSession(job.OutputDir, site, logger); name != "" {
				siteArtifacts[domain.OutputFormatPyMOL] = name
			}
		}
		set.BindingSites = append(set.BindingSites, task.BindingSite{
			ResidueID: site.ResidueID,
			Chain:     site.Chain,
			Position:  site.Position,
			Artifacts: siteArtifacts,
		})
	}

	logger.Info("analysis engine finished", "binding_sites", len(set.BindingSites))
	return set, nil
}

func (e *CommandEngine) readReport(path string) ([]SiteID, error) {
	f, err := e.fs.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrReportMissing
		}
		return nil, fmt.Errorf("open analysis report: %w", err)
	}
	defer f.Close()

	return ParseReport(f)
}

// collectArtifacts returns the requested report files that exist and removes
// the XML report when it was only produced for parsing.
func (e *CommandEngine) collectArtifacts(job task.Job, logger *slog.Logger) domain.Artifacts {
	artifacts := domain.Artifacts{}

	xmlPath := filepath.Join(job.OutputDir, ReportXMLName)
	if job.Options.Wants(domain.OutputFormatXML) {
		artifacts[domain.OutputFormatXML] = ReportXMLName
	} else if err := e.fs.Remove(xmlPath); err != nil {
		logger.Warn("failed to remove unrequested xml report", "error", err)
	}

	if job.Options.Wants(domain.OutputFormatTXT) {
		if ok, _ := afero.Exists(e.fs, filepath.Join(job.OutputDir, ReportTXTName)); ok {
			artifacts[domain.OutputFormatTXT] = ReportTXTName
		} else {
			logger.Warn("requested text report was not produced")
		}
	}

	return artifacts
}

// findSession returns the file name of the PyMOL session written for site,
// or "" when the engine produced none.
func (e *CommandEngine) findSession(dir string, site SiteID, logger *slog.Logger) string {
	pattern := filepath.Join(dir, fmt.Sprintf("*_%s_%s_%d%s", site.ResidueID, site.Chain, site.Position, sessionExt))
	matches, err := afero.Glob(e.fs, pattern)
	if err != nil || len(matches) == 0 {
		logger.Warn("requested pymol session was not produced",
			"binding_site", domain.BindingSiteKey(site.ResidueID, site.Chain, site.Position))
		return ""
	}
	return filepath.Base(matches[0])
}

// logTail returns the last non-empty output of the engine, if any.
func (e *CommandEngine) logTail(path string) string {
	data, err := afero.ReadFile(e.fs, path)
	if err != nil {
		return ""
	}
	data = bytes.TrimSpace(data)
	if len(data) > maxLogTail {
		data = data[len(data)-maxLogTail:]
	}
	return strings.Join(strings.Fields(string(data)), " ")
}

func cloneArtifacts(a domain.Artifacts) domain.Artifacts {
	out := make(domain.Artifacts, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}
