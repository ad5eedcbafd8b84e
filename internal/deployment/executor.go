package deployment

import (
	"context"
	"strings"
	"time"

	"hookbox/pkg/cmdutil"
)

// StepOutput is the structured result of running an external command.
// A non-zero exit, a timeout or a binary that fails to start are all
// reported here rather than as errors.
type StepOutput struct {
	Success  bool
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
}

// Combined returns stdout and stderr joined for error reports.
func (o StepOutput) Combined() string {
	switch {
	case o.Stdout == "":
		return o.Stderr
	case o.Stderr == "":
		return o.Stdout
	default:
		return o.Stdout + "\n" + o.Stderr
	}
}

// TaskOutput is the result of an in-process task.
type TaskOutput struct {
	Success bool
	Output  string
}

// StepRunner executes the commands and tasks of a pipeline.
type StepRunner interface {
	Run(ctx context.Context, args []string, dir string, timeout time.Duration) StepOutput
	RunTask(ctx context.Context, name string, req TaskRequest) TaskOutput
}

// Executor runs step commands and tasks.
type Executor struct {
	Tasks *TaskRegistry

	// Secrets are redacted from captured output.
	Secrets []string
}

// NewExecutor creates an executor with the built-in tasks registered.
func NewExecutor(secrets []string) *Executor {
	return &Executor{
		Tasks:   NewTaskRegistry(),
		Secrets: secrets,
	}
}

// Run executes args in dir. The process is killed once timeout elapses and
// whatever it wrote until then is kept.
func (e *Executor) Run(ctx context.Context, args []string, dir string, timeout time.Duration) StepOutput {
	result, err := cmdutil.Run(ctx, cmdutil.ExecOptions{Dir: dir, Timeout: timeout}, args)

	out := StepOutput{
		Success:  err == nil && result.Success(),
		ExitCode: result.ExitCode,
		Stdout:   e.clean(result.Stdout),
		Stderr:   e.clean(result.Stderr),
		TimedOut: result.TimedOut,
		Duration: result.Duration,
	}
	if err != nil && (out.TimedOut || out.ExitCode == -1) {
		// Nothing on stderr explains a kill or a missing binary.
		out.Stderr = strings.TrimSpace(out.Stderr + "\n" + err.Error())
	}
	return out
}

// RunTask runs the named task. Unknown tasks fail.
func (e *Executor) RunTask(ctx context.Context, name string, req TaskRequest) TaskOutput {
	task, ok := e.Tasks.Lookup(name)
	if !ok {
		return TaskOutput{Output: "unknown task: " + name}
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	output, err := task(ctx, req)
	if err != nil {
		if output != "" {
			output += "\n"
		}
		return TaskOutput{Output: output + err.Error()}
	}
	return TaskOutput{Success: true, Output: output}
}

func (e *Executor) clean(b []byte) string {
	return strings.TrimSpace(string(cmdutil.SanitizeOutput(b, e.Secrets)))
}
