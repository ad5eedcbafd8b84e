package deployment

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"hookbox/internal/config"
	"hookbox/pkg/cmdutil"
)

// StepKind says how a step is executed.
type StepKind int

const (
	StepCommand StepKind = iota // external process
	StepTask                    // in-process task from the TaskRegistry
)

// Step is a custom or rollback step resolved from configuration.
type Step struct {
	Name     string
	Kind     StepKind
	Args     []string
	Task     string
	Params   map[string]string
	Timeout  time.Duration
	Required bool
	Category Kind
}

// StepsFromConfig resolves configured steps. Artisan steps become commands
// run through phpBinary.
func StepsFromConfig(specs config.Steps, phpBinary string) ([]Step, error) {
	steps := make([]Step, 0, len(specs))
	for _, spec := range specs {
		step := Step{
			Name:     spec.Name,
			Timeout:  time.Duration(spec.TimeoutSeconds()) * time.Second,
			Required: spec.Required,
			Category: KindForCategory(spec.Category),
			Params:   spec.Parameters,
		}

		switch {
		case spec.Command != nil:
			args, err := cmdutil.ParseCommandList(spec.Command)
			if err != nil {
				return nil, fmt.Errorf("step %s: %w", spec.Name, err)
			}
			step.Kind = StepCommand
			step.Args = args
		case spec.Artisan != "":
			step.Kind = StepCommand
			step.Args = ArtisanArgs(phpBinary, spec.Artisan, spec.Parameters)
		case spec.Task != "":
			step.Kind = StepTask
			step.Task = spec.Task
		default:
			return nil, fmt.Errorf("step %s: no command, artisan or task", spec.Name)
		}

		steps = append(steps, step)
	}
	return steps, nil
}

// ArtisanArgs builds "php artisan <command>" with parameters appended in
// key order. Keys starting with "-" are options ("--force" or "--seed=x"),
// other keys are positional and contribute only their value.
func ArtisanArgs(phpBinary, command string, params map[string]string) []string {
	if phpBinary == "" {
		phpBinary = "php"
	}
	args := []string{phpBinary, "artisan", command}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := params[k]
		switch {
		case !strings.HasPrefix(k, "-"):
			args = append(args, v)
		case v == "" || v == "true":
			args = append(args, k)
		case v == "false":
		default:
			args = append(args, k+"="+v)
		}
	}
	return args
}
