package deployment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"hookbox/internal/config"
	"hookbox/internal/metrics"
	"hookbox/pkg/cmdutil"
)

// Built-in step names as they appear in results.
const (
	StepSourceSync      = "source_sync"
	StepComposerInstall = "composer_install"
	StepNPMInstall      = "npm_install"
	StepAssetBuild      = "asset_build"
	StepMigrate         = "migrate"
	StepStorageLink     = "storage_link"
	StepQueueRestart    = "queue_restart"
)

// Timeouts of the built-in steps.
const (
	ComposerTimeout = 300 * time.Second
	NPMTimeout      = 300 * time.Second
	ArtisanTimeout  = 120 * time.Second
)

var (
	cacheClearCommands = []string{"cache:clear", "config:clear", "route:clear", "view:clear"}
	optimizeCommands   = []string{"config:cache", "route:cache", "view:cache"}
)

// Target identifies what to deploy.
type Target struct {
	Repository  string
	Branch      string
	Environment string
	Payload     map[string]any
}

// Pipeline runs the deployment sequence against one working directory.
// Only source sync, migrations and required custom steps abort a run;
// every other step degrades to a recorded failure.
type Pipeline struct {
	Dir         string
	Branch      string
	Environment string
	Options     config.Deployment
	Steps       []Step
	Rollback    []Step
	Syncer      SourceSyncer
	Executor    StepRunner
	Logger      *slog.Logger
	Metrics     metrics.Recorder
}

// NewPipeline builds a pipeline from configuration.
func NewPipeline(cfg *config.Config, syncer SourceSyncer, executor StepRunner, logger *slog.Logger) (*Pipeline, error) {
	steps, err := StepsFromConfig(cfg.Steps, cfg.Deployment.PHPBinary)
	if err != nil {
		return nil, fmt.Errorf("steps: %w", err)
	}
	rollback, err := StepsFromConfig(cfg.RollbackSteps, cfg.Deployment.PHPBinary)
	if err != nil {
		return nil, fmt.Errorf("rollback_steps: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		Dir:         cfg.RepositoryPath,
		Branch:      cfg.Branch,
		Environment: cfg.Environment,
		Options:     cfg.Deployment,
		Steps:       steps,
		Rollback:    rollback,
		Syncer:      syncer,
		Executor:    executor,
		Logger:      logger,
		Metrics:     metrics.NoopRecorder{},
	}, nil
}

// Deploy runs the pipeline. The returned Result is never nil and has its
// Duration set, whether or not err is nil. A fatal failure is an *Error;
// when rollback steps also fail it is an *Error of KindRollbackFailed
// wrapping the original.
func (p *Pipeline) Deploy(ctx context.Context, target Target) (*Result, error) {
	if target.Branch == "" {
		target.Branch = p.Branch
	}
	if target.Environment == "" {
		target.Environment = p.Environment
	}

	r := &run{
		pipeline: p,
		target:   target,
		metrics:  metrics.OrNoop(p.Metrics),
		result: &Result{
			DeploymentID: uuid.NewString(),
			Repository:   target.Repository,
			Branch:       target.Branch,
			Environment:  target.Environment,
			Status:       StatusSuccess,
			StartedAt:    time.Now(),
			Steps:        []StepResult{},
		},
	}
	r.logger = p.Logger.With(
		"deployment_id", r.result.DeploymentID,
		"repository", target.Repository,
		"branch", target.Branch,
		"environment", target.Environment)

	r.logger.Info("deployment started")

	err := r.execute(ctx)
	if err != nil {
		r.result.Status = StatusFailure
		err = r.rollback(ctx, err)
	}
	r.result.Duration = time.Since(r.result.StartedAt)

	if err != nil {
		r.metrics.ObserveDeployment(r.result.Duration, metrics.ResultFailed)
		r.logger.Error("deployment failed",
			"duration_s", r.result.DurationSeconds(),
			"error", err)
		return r.result, err
	}

	r.metrics.ObserveDeployment(r.result.Duration, metrics.ResultSuccess)
	r.logger.Info("deployment completed",
		"duration_s", r.result.DurationSeconds(),
		"steps", len(r.result.Steps))
	return r.result, nil
}

// run holds the state of one Deploy call.
type run struct {
	pipeline *Pipeline
	target   Target
	result   *Result
	logger   *slog.Logger
	metrics  metrics.Recorder
}

func (r *run) execute(ctx context.Context) error {
	opts := r.pipeline.Options

	if err := r.sourceSync(ctx); err != nil {
		return err
	}

	if opts.RunComposer {
		r.command(ctx, StepComposerInstall, []string{
			"composer", "install",
			"--no-interaction", "--prefer-dist", "--optimize-autoloader", "--no-dev",
		}, ComposerTimeout)
	}

	if opts.RunNPM {
		if r.command(ctx, StepNPMInstall, []string{"npm", "ci"}, NPMTimeout).Success {
			script := opts.NPMBuildScript
			if script == "" {
				script = config.DefaultNPMBuildScript
			}
			r.command(ctx, StepAssetBuild, []string{"npm", "run", script}, NPMTimeout)
		} else {
			r.record(StepResult{Name: StepAssetBuild, Status: StepSkipped, Note: "npm install failed"})
		}
	}

	if opts.RunMigrations {
		out := r.command(ctx, StepMigrate, r.artisan("migrate", map[string]string{"--force": "true"}), ArtisanTimeout)
		if !out.Success {
			return r.fail(KindBuildFailed, StepMigrate, out.Combined(), stepFailure(out))
		}
	}

	if opts.CacheClear {
		for _, cmd := range cacheClearCommands {
			r.command(ctx, cmd, r.artisan(cmd, nil), ArtisanTimeout)
		}
	}

	if opts.Optimize {
		for _, cmd := range optimizeCommands {
			r.command(ctx, cmd, r.artisan(cmd, nil), ArtisanTimeout)
		}
	}

	if opts.CreateStorageLink {
		r.storageLink(ctx)
	}

	if opts.RestartQueue {
		r.command(ctx, StepQueueRestart, r.artisan("queue:restart", nil), ArtisanTimeout)
	}

	for _, step := range r.pipeline.Steps {
		out := r.custom(ctx, step.Name, step)
		if !out.Success && step.Required {
			return r.fail(step.Category, step.Name, out.Combined(), stepFailure(out))
		}
	}

	return nil
}

func (r *run) sourceSync(ctx context.Context) error {
	start := time.Now()
	commit, err := r.pipeline.Syncer.Sync(ctx, r.pipeline.Dir, r.target.Branch)
	elapsed := time.Since(start)

	if err != nil {
		r.record(StepResult{Name: StepSourceSync, Status: StepFailed, Stderr: err.Error(), Duration: elapsed})
		return r.fail(KindDeployFailed, StepSourceSync, err.Error(), err)
	}

	r.result.Commit = commit
	r.record(StepResult{Name: StepSourceSync, Status: StepSuccess, Note: "at " + shortHash(commit), Duration: elapsed})
	return nil
}

// command runs an external command and records it as success or failed.
func (r *run) command(ctx context.Context, name string, args []string, timeout time.Duration) StepOutput {
	r.logger.Debug("running step", "step", name, "command", cmdutil.FormatCommand(args), "timeout", timeout)
	out := r.pipeline.Executor.Run(ctx, args, r.pipeline.Dir, timeout)
	r.recordOutput(name, out)
	return out
}

// custom runs a configured step under name.
func (r *run) custom(ctx context.Context, name string, step Step) StepOutput {
	if step.Kind == StepCommand {
		return r.command(ctx, name, step.Args, step.Timeout)
	}

	start := time.Now()
	task := r.pipeline.Executor.RunTask(ctx, step.Task, TaskRequest{
		Dir:     r.pipeline.Dir,
		Params:  step.Params,
		Timeout: step.Timeout,
	})
	out := StepOutput{Success: task.Success, Duration: time.Since(start)}
	if task.Success {
		out.Stdout = task.Output
	} else {
		out.ExitCode = 1
		out.Stderr = task.Output
	}
	r.recordOutput(name, out)
	return out
}

// storageLink never fails the run: an existing link is the common case on
// every deploy after the first.
func (r *run) storageLink(ctx context.Context) {
	start := time.Now()
	task := r.pipeline.Executor.RunTask(ctx, TaskStorageLink, TaskRequest{
		Dir:     r.pipeline.Dir,
		Timeout: ArtisanTimeout,
	})
	if task.Success {
		r.record(StepResult{Name: StepStorageLink, Status: StepSuccess, Stdout: task.Output, Duration: time.Since(start)})
		return
	}
	r.logger.Info("storage link skipped", "reason", task.Output)
	r.record(StepResult{Name: StepStorageLink, Status: StepBestEffort, Note: task.Output, Duration: time.Since(start)})
}

func (r *run) rollback(ctx context.Context, cause error) error {
	if len(r.pipeline.Rollback) == 0 {
		return cause
	}

	r.logger.Warn("running rollback steps", "count", len(r.pipeline.Rollback))
	var failed []string
	var output []string
	for _, step := range r.pipeline.Rollback {
		out := r.custom(ctx, "rollback:"+step.Name, step)
		if !out.Success {
			failed = append(failed, step.Name)
			if combined := out.Combined(); combined != "" {
				output = append(output, step.Name+": "+combined)
			}
		}
	}
	if len(failed) == 0 {
		return cause
	}

	return &Error{
		Kind:         KindRollbackFailed,
		Repository:   r.target.Repository,
		Branch:       r.target.Branch,
		Environment:  r.target.Environment,
		DeploymentID: r.result.DeploymentID,
		Step:         "rollback:" + strings.Join(failed, ","),
		StepOutput:   strings.Join(output, "\n"),
		Cause:        cause,
	}
}

func (r *run) recordOutput(name string, out StepOutput) {
	status := StepSuccess
	if !out.Success {
		status = StepFailed
		r.logger.Warn("deployment step failed",
			"step", name,
			"exit_code", out.ExitCode,
			"timed_out", out.TimedOut,
			"stderr", out.Stderr)
	} else {
		r.logger.Debug("deployment step completed", "step", name, "duration_ms", out.Duration.Milliseconds())
	}
	r.record(StepResult{
		Name:     name,
		Status:   status,
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		Duration: out.Duration,
	})
}

func (r *run) record(step StepResult) {
	r.result.Steps = append(r.result.Steps, step)
	r.metrics.ObserveStep(step.Name, step.Duration, metrics.ResultLabel(step.Status))
}

func (r *run) fail(kind Kind, step, output string, cause error) error {
	return &Error{
		Kind:         kind,
		Repository:   r.target.Repository,
		Branch:       r.target.Branch,
		Environment:  r.target.Environment,
		DeploymentID: r.result.DeploymentID,
		Step:         step,
		StepOutput:   output,
		Cause:        cause,
	}
}

func (r *run) artisan(command string, params map[string]string) []string {
	return ArtisanArgs(r.pipeline.Options.PHPBinary, command, params)
}

func stepFailure(out StepOutput) error {
	if out.TimedOut {
		return fmt.Errorf("timed out after %s", out.Duration.Round(time.Millisecond))
	}
	return fmt.Errorf("exit code %d", out.ExitCode)
}
