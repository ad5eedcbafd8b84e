package config

import (
	"fmt"
	"regexp"
	"strings"

	"hookbox/internal/security"
	"hookbox/pkg/cmdutil"
)

var routePrefixPattern = regexp.MustCompile(`^[a-zA-Z0-9/_-]*$`)

var validCategories = map[string]bool{
	"":                  true,
	CategoryBuild:       true,
	CategoryTests:       true,
	CategoryDeploy:      true,
	CategoryHealthCheck: true,
}

// Validate returns every problem found in cfg. An empty result means the
// configuration can be used.
func Validate(cfg *Config) []string {
	var problems []string

	if !routePrefixPattern.MatchString(cfg.RoutePrefix) {
		problems = append(problems, fmt.Sprintf("route_prefix contains invalid characters: %q", cfg.RoutePrefix))
	}

	if err := security.ValidateBranchName(cfg.Branch); err != nil {
		problems = append(problems, fmt.Sprintf("branch: %v", err))
	}
	for _, branch := range cfg.AutoUpdateBranches {
		if err := security.ValidateBranchName(branch); err != nil {
			problems = append(problems, fmt.Sprintf("auto_update_branches %q: %v", branch, err))
		}
	}

	if strings.TrimSpace(cfg.RepositoryPath) == "" {
		problems = append(problems, "repository_path cannot be empty")
	}

	for event, ids := range cfg.Handlers {
		if strings.TrimSpace(event) == "" {
			problems = append(problems, "handlers: event name cannot be empty")
		}
		for i, id := range ids {
			if strings.TrimSpace(id) == "" {
				problems = append(problems, fmt.Sprintf("handlers[%s][%d]: handler id cannot be empty", event, i))
			}
		}
	}

	if _, err := cfg.Throttles(); err != nil {
		problems = append(problems, fmt.Sprintf("middleware: %v", err))
	}

	problems = append(problems, validateSteps("steps", cfg.Steps)...)
	problems = append(problems, validateSteps("rollback_steps", cfg.RollbackSteps)...)

	switch cfg.Deployment.Retry.Mode {
	case "", "fixed", "linear", "exponential":
	default:
		problems = append(problems, fmt.Sprintf("deployment.retry.mode must be fixed, linear or exponential, got %q", cfg.Deployment.Retry.Mode))
	}
	if cfg.Deployment.Retry.MaxRetries < 0 {
		problems = append(problems, "deployment.retry.max_retries cannot be negative")
	}

	switch cfg.Lock.Backend {
	case "", "memory":
	case "redis":
		if cfg.Lock.RedisAddr == "" {
			problems = append(problems, "lock.redis_addr is required when lock.backend is redis")
		}
	default:
		problems = append(problems, fmt.Sprintf("lock.backend must be memory or redis, got %q", cfg.Lock.Backend))
	}

	if cfg.Audit.RetentionDays < 0 {
		problems = append(problems, "audit.retention_days cannot be negative")
	}

	switch strings.ToLower(cfg.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log_level must be debug, info, warn or error, got %q", cfg.LogLevel))
	}

	return problems
}

// Warnings returns non-fatal findings, such as a weak or missing secret.
func Warnings(cfg *Config) []string {
	warnings := security.AssessSecret(cfg.Secret)
	if len(cfg.Handlers) == 0 {
		warnings = append(warnings, "no handlers configured, deliveries will be acknowledged and ignored")
	}
	return warnings
}

func validateSteps(field string, steps Steps) []string {
	var problems []string
	for _, step := range steps {
		prefix := fmt.Sprintf("%s.%s", field, step.Name)

		kinds := 0
		if step.Command != nil {
			kinds++
			if _, err := cmdutil.ParseCommandList(step.Command); err != nil {
				problems = append(problems, fmt.Sprintf("%s: command: %v", prefix, err))
			}
		}
		if step.Artisan != "" {
			kinds++
		}
		if step.Task != "" {
			kinds++
		}
		if kinds != 1 {
			problems = append(problems, fmt.Sprintf("%s: exactly one of command, artisan or task is required", prefix))
		}

		if step.Timeout < 0 {
			problems = append(problems, fmt.Sprintf("%s: timeout must be a positive integer, got %d", prefix, step.Timeout))
		}
		if !validCategories[step.Category] {
			problems = append(problems, fmt.Sprintf("%s: unknown category %q", prefix, step.Category))
		}
	}
	return problems
}
