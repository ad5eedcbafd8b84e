package deployment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"hookbox/pkg/fileutil"
)

// Built-in task names.
const (
	TaskStorageLink = "storage_link"
	TaskHealthCheck = "health_check"
	TaskNoop        = "noop"
)

// Storage link defaults, relative to the working directory.
const (
	DefaultStorageLink   = "public/storage"
	DefaultStorageTarget = "storage/app/public"
)

// TaskRequest is the input handed to a task.
type TaskRequest struct {
	Dir     string
	Params  map[string]string
	Timeout time.Duration
}

// Param returns the named parameter or def when unset.
func (r TaskRequest) Param(name, def string) string {
	if v, ok := r.Params[name]; ok && v != "" {
		return v
	}
	return def
}

// Task is an in-process step. The returned string is recorded as output.
type Task func(ctx context.Context, req TaskRequest) (string, error)

// TaskRegistry maps task names to implementations.
type TaskRegistry struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

// NewTaskRegistry returns a registry holding the built-in tasks.
func NewTaskRegistry() *TaskRegistry {
	r := &TaskRegistry{tasks: make(map[string]Task)}
	r.Register(TaskStorageLink, StorageLink)
	r.Register(TaskHealthCheck, HealthCheck(nil))
	r.Register(TaskNoop, func(context.Context, TaskRequest) (string, error) { return "", nil })
	return r
}

// Register adds or replaces a task.
func (r *TaskRegistry) Register(name string, task Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[name] = task
}

// Lookup returns the task registered under name.
func (r *TaskRegistry) Lookup(name string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[name]
	return task, ok
}

// StorageLink links public/storage to storage/app/public. Parameters "link"
// and "target" override the paths.
func StorageLink(_ context.Context, req TaskRequest) (string, error) {
	link := resolve(req.Dir, req.Param("link", DefaultStorageLink))
	target := resolve(req.Dir, req.Param("target", DefaultStorageTarget))

	if err := fileutil.LinkDir(link, target); err != nil {
		if errors.Is(err, fileutil.ErrLinkExists) {
			if verr := fileutil.ValidateSymlink(link); verr != nil {
				return "", fmt.Errorf("link %s already exists and is unusable: %w", link, verr)
			}
			return "", fmt.Errorf("link %s already exists", link)
		}
		return "", err
	}
	return fmt.Sprintf("linked %s -> %s", link, target), nil
}

// HealthCheck returns a task that GETs the "url" parameter and expects the
// "status" parameter (200 when unset). A nil client uses a default one; the
// request is bounded by the step timeout through the context.
func HealthCheck(client *http.Client) Task {
	if client == nil {
		client = &http.Client{}
	}
	return func(ctx context.Context, req TaskRequest) (string, error) {
		url := req.Param("url", "")
		if url == "" {
			return "", errors.New("health_check requires a url parameter")
		}
		want, err := strconv.Atoi(req.Param("status", "200"))
		if err != nil {
			return "", fmt.Errorf("invalid status parameter: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", fmt.Errorf("build request: %w", err)
		}
		resp, err := client.Do(httpReq)
		if err != nil {
			return "", fmt.Errorf("GET %s: %w", url, err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

		if resp.StatusCode != want {
			return "", fmt.Errorf("GET %s returned %d, expected %d", url, resp.StatusCode, want)
		}
		return fmt.Sprintf("GET %s returned %d", url, resp.StatusCode), nil
	}
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) || dir == "" {
		return path
	}
	return filepath.Join(dir, path)
}
