package jobconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
)

var jobExtensions = map[string]bool{
	".yaml": true,
	".yml":  true,
	".json": true,
}

// Registry holds the jobs loaded from a directory, addressed by name.
type Registry struct {
	jobs map[string]*domain.Job
}

func NewRegistry(jobs ...*domain.Job) (*Registry, error) {
	registry := &Registry{jobs: make(map[string]*domain.Job, len(jobs))}
	for _, job := range jobs {
		if err := registry.add(job); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// LoadDir loads every job file directly inside dir. A missing directory yields
// an empty registry.
func LoadDir(dir string, defaults Defaults) (*Registry, error) {
	registry := &Registry{jobs: make(map[string]*domain.Job)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return registry, nil
		}
		return nil, fmt.Errorf("failed to read jobs dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !jobExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}

		job, err := LoadJob(filepath.Join(dir, entry.Name()), defaults)
		if err != nil {
			return nil, err
		}
		if err := registry.add(job); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

func (r *Registry) add(job *domain.Job) error {
	if job == nil {
		return fmt.Errorf("%w: job is required", domain.ErrConfiguration)
	}
	name := strings.TrimSpace(job.Name)
	if name == "" {
		return fmt.Errorf("%w: job name is required", domain.ErrConfiguration)
	}
	if _, exists := r.jobs[name]; exists {
		return fmt.Errorf("%w: duplicate job name %q", domain.ErrConfiguration, name)
	}
	r.jobs[name] = job
	return nil
}

func (r *Registry) Get(name string) (*domain.Job, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: job %q", domain.ErrNotFound, name)
	}
	job, ok := r.jobs[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("%w: job %q", domain.ErrNotFound, name)
	}
	return job, nil
}

// Names returns the registered job names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
