package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/hive/pkg/models"
)

// ErrProjectNotFound is returned when a registry lookup misses.
var ErrProjectNotFound = errors.New("project not found")

// Registry tracks the projects hive manages, persisted as a YAML list in
// ~/.hive/projects.yaml.
type Registry struct {
	mu   sync.Mutex
	path string
}

// NewRegistry opens the registry at its default location.
func NewRegistry() *Registry {
	return NewRegistryAtPath(filepath.Join(HomeDir(), "projects.yaml"))
}

// NewRegistryAtPath opens a registry backed by an arbitrary file.
func NewRegistryAtPath(path string) *Registry {
	return &Registry{path: path}
}

type registryFile struct {
	Projects []*models.Project `yaml:"projects"`
}

// List returns all registered projects sorted by id.
func (r *Registry) List() ([]*models.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readLocked()
}

// Get returns the project with the given id.
func (r *Registry) Get(id string) (*models.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	projects, err := r.readLocked()
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
}

// GetByPath returns the project rooted at the given directory.
func (r *Registry) GetByPath(path string) (*models.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	projects, err := r.readLocked()
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		if p.Path == abs {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, abs)
}

// Register adds a project or updates its name and max_agents if the id is
// already present. Re-registering an id from a different directory is an
// error; remove the old entry first.
func (r *Registry) Register(project *models.Project) error {
	if project == nil {
		return errors.New("register: nil project")
	}
	if project.ID == "" {
		return errors.New("register: project id is empty")
	}

	abs, err := filepath.Abs(project.Path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	project.Path = abs

	r.mu.Lock()
	defer r.mu.Unlock()

	projects, err := r.readLocked()
	if err != nil {
		return err
	}

	replaced := false
	for i, p := range projects {
		if p.ID != project.ID {
			continue
		}
		if p.Path != project.Path {
			return fmt.Errorf("project %s is already registered at %s", project.ID, p.Path)
		}
		projects[i] = project
		replaced = true
		break
	}
	if !replaced {
		projects = append(projects, project)
	}

	return r.writeLocked(projects)
}

// Remove deletes a project from the registry. The project's files are
// untouched.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	projects, err := r.readLocked()
	if err != nil {
		return err
	}

	kept := projects[:0]
	for _, p := range projects {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(projects) {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}

	return r.writeLocked(kept)
}

func (r *Registry) readLocked() ([]*models.Project, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read project registry: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse project registry: %w", err)
	}

	sort.Slice(file.Projects, func(i, j int) bool {
		return file.Projects[i].ID < file.Projects[j].ID
	})
	return file.Projects, nil
}

func (r *Registry) writeLocked(projects []*models.Project) error {
	data, err := yaml.Marshal(registryFile{Projects: projects})
	if err != nil {
		return fmt.Errorf("encode project registry: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create registry directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".projects-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp registry file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write project registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close project registry: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod project registry: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace project registry: %w", err)
	}
	return nil
}

// DeriveProjectID turns a directory path into a stable project id based on
// its base name.
func DeriveProjectID(path string) string {
	base := filepath.Base(filepath.Clean(path))
	id := strings.ToLower(models.SanitizeField(base))
	return strings.ReplaceAll(id, " ", "-")
}
