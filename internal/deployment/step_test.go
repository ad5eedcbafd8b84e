package deployment

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"hookbox/internal/config"
)

func TestStepsFromConfig(t *testing.T) {
	var cfg struct {
		Steps config.Steps `yaml:"steps"`
	}
	err := yaml.Unmarshal([]byte(`
steps:
  seed:
    artisan: db:seed
    parameters:
      --class: ProductionSeeder
      --force: "true"
    required: true
    category: build
  tests:
    command: "./vendor/bin/phpunit --testsuite unit"
    timeout: 600
    category: tests
  smoke:
    task: health_check
    parameters:
      url: https://example.com/up
`), &cfg)
	require.NoError(t, err)

	steps, err := StepsFromConfig(cfg.Steps, "/usr/bin/php8.3")
	require.NoError(t, err)
	require.Len(t, steps, 3)

	assert.Equal(t, "seed", steps[0].Name)
	assert.Equal(t, StepCommand, steps[0].Kind)
	assert.Equal(t, []string{"/usr/bin/php8.3", "artisan", "db:seed", "--class=ProductionSeeder", "--force"}, steps[0].Args)
	assert.True(t, steps[0].Required)
	assert.Equal(t, KindBuildFailed, steps[0].Category)
	assert.Equal(t, 120*time.Second, steps[0].Timeout)

	assert.Equal(t, []string{"./vendor/bin/phpunit", "--testsuite", "unit"}, steps[1].Args)
	assert.Equal(t, 600*time.Second, steps[1].Timeout)
	assert.False(t, steps[1].Required)
	assert.Equal(t, KindTestsFailed, steps[1].Category)

	assert.Equal(t, StepTask, steps[2].Kind)
	assert.Equal(t, TaskHealthCheck, steps[2].Task)
	assert.Equal(t, "https://example.com/up", steps[2].Params["url"])
	assert.Equal(t, KindDeployFailed, steps[2].Category)
}

func TestStepsFromConfig_Errors(t *testing.T) {
	_, err := StepsFromConfig(config.Steps{{Name: "empty"}}, "php")
	assert.Error(t, err)

	_, err = StepsFromConfig(config.Steps{{Name: "bad", Command: "echo 'unterminated"}}, "php")
	assert.Error(t, err)
}

func TestArtisanArgs(t *testing.T) {
	tests := []struct {
		name   string
		php    string
		cmd    string
		params map[string]string
		want   []string
	}{
		{"no params", "php", "cache:clear", nil, []string{"php", "artisan", "cache:clear"}},
		{"default binary", "", "migrate", map[string]string{"--force": "true"}, []string{"php", "artisan", "migrate", "--force"}},
		{"false flag dropped", "php", "migrate", map[string]string{"--force": "false"}, []string{"php", "artisan", "migrate"}},
		{"positional and option", "php", "make:job", map[string]string{"name": "SendMail", "--sync": ""}, []string{"php", "artisan", "make:job", "--sync", "SendMail"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ArtisanArgs(tt.php, tt.cmd, tt.params))
		})
	}
}

func TestKindForCategory(t *testing.T) {
	assert.Equal(t, KindBuildFailed, KindForCategory(config.CategoryBuild))
	assert.Equal(t, KindTestsFailed, KindForCategory(config.CategoryTests))
	assert.Equal(t, KindDeployFailed, KindForCategory(config.CategoryDeploy))
	assert.Equal(t, KindHealthCheckFailed, KindForCategory(config.CategoryHealthCheck))
	assert.Equal(t, KindDeployFailed, KindForCategory(""))
}

func TestErrorMessages(t *testing.T) {
	err := &Error{
		Kind:        KindTestsFailed,
		Repository:  "acme/shop",
		Branch:      "main",
		Environment: "production",
		Step:        "phpunit",
		Cause:       errors.New("exit code 1"),
	}
	assert.Equal(t, "tests failed for acme/shop (main) in production at step phpunit: exit code 1", err.Error())

	repoErr := &RepositoryError{Kind: RepoBranchNotFound, Branch: "release", Path: "/srv/app"}
	assert.Equal(t, `branch "release" not found in repository /srv/app`, repoErr.Error())
	assert.True(t, repoErr.Permanent())
	assert.False(t, (&RepositoryError{Kind: RepoUpdateFailed}).Permanent())
}

func TestRetryPolicy_Delay(t *testing.T) {
	tests := []struct {
		mode string
		n    int
		want time.Duration
	}{
		{BackoffFixed, 1, time.Second},
		{BackoffFixed, 3, time.Second},
		{BackoffLinear, 2, 2 * time.Second},
		{BackoffLinear, 100, 10 * time.Second},
		{BackoffExponential, 1, time.Second},
		{BackoffExponential, 3, 4 * time.Second},
		{BackoffExponential, 40, 10 * time.Second},
		{BackoffLinear, 0, 0},
	}
	for _, tt := range tests {
		p := NewRetryPolicy(config.Retry{Mode: tt.mode, Initial: time.Second, Max: 10 * time.Second, MaxRetries: 3})
		assert.Equal(t, tt.want, p.Delay(tt.n), "%s #%d", tt.mode, tt.n)
	}
}

func TestNewRetryPolicy_Defaults(t *testing.T) {
	p := NewRetryPolicy(config.Retry{Mode: "bogus", MaxRetries: -1})
	assert.Equal(t, DefaultRetryPolicy(), p)

	p = NewRetryPolicy(config.Retry{Initial: time.Minute, Max: time.Second})
	assert.Equal(t, time.Second, p.Initial, "initial is capped by max")
}

func TestRetryPolicy_DelayNeverOverflows(t *testing.T) {
	huge := RetryPolicy{Initial: time.Duration(1 << 62), Max: time.Duration(math.MaxInt64)}
	for _, mode := range []string{BackoffLinear, BackoffExponential} {
		huge.Mode = mode
		for _, n := range []int{2, 3, 10, 64} {
			d := huge.Delay(n)
			assert.Greater(t, d, time.Duration(0), "%s #%d", mode, n)
			assert.LessOrEqual(t, d, huge.Max, "%s #%d", mode, n)
		}
	}
}

func TestNewRetryPolicy_ZeroRetries(t *testing.T) {
	p := NewRetryPolicy(config.Retry{MaxRetries: 0})
	assert.Equal(t, 0, p.MaxRetries)
	assert.Equal(t, DefaultRetryPolicy().Initial, p.Initial)
}

func TestRetryPolicy_Do(t *testing.T) {
	p := RetryPolicy{Mode: BackoffFixed, Initial: time.Millisecond, Max: time.Millisecond, MaxRetries: 3}
	ctx := context.Background()

	t.Run("transient failures are retried", func(t *testing.T) {
		attempts := 0
		var retries []int
		err := p.Do(ctx, func() error {
			attempts++
			if attempts < 3 {
				return &RepositoryError{Kind: RepoUpdateFailed}
			}
			return nil
		}, func(n int, _ error) { retries = append(retries, n) })
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
		assert.Equal(t, []int{1, 2}, retries)
	})

	t.Run("permanent failures are not", func(t *testing.T) {
		attempts := 0
		err := p.Do(ctx, func() error {
			attempts++
			return &RepositoryError{Kind: RepoPermissionDenied}
		}, nil)
		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		attempts := 0
		err := p.Do(ctx, func() error {
			attempts++
			return errors.New("network down")
		}, nil)
		require.Error(t, err)
		assert.Equal(t, 4, attempts)
	})

	t.Run("stops when context is done", func(t *testing.T) {
		slow := RetryPolicy{Mode: BackoffFixed, Initial: time.Hour, Max: time.Hour, MaxRetries: 5}
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		attempts := 0
		err := slow.Do(cctx, func() error {
			attempts++
			return errors.New("network down")
		}, nil)
		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	})
}
