// Package taskstore persists the per-project task list as a human-editable
// markdown file and keeps it sorted and atomic on every write.
package taskstore

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/hive/pkg/models"
)

// ErrTaskNotFound indicates the requested task id is not in the store.
var ErrTaskNotFound = errors.New("task not found")

// HiveDir is the per-project dot-directory holding hive state.
const HiveDir = ".hive"

// tasksFileName is the task list file inside HiveDir.
const tasksFileName = "tasks.md"

// fileHeader is the first line of every task file.
const fileHeader = "# tasks.md"

// Store reads and writes one project's task file. All operations re-read the
// file so concurrent external edits are picked up, and all writes re-sort by
// (priority asc, task_id asc) and replace the file atomically.
type Store struct {
	mu   sync.Mutex
	path string
}

// New creates a Store for the project rooted at projectRoot.
func New(projectRoot string) *Store {
	return &Store{path: filepath.Join(projectRoot, HiveDir, tasksFileName)}
}

// Path returns the absolute path of the task file.
func (s *Store) Path() string {
	return s.path
}

// Init creates the hive directory and an empty task file if absent.
func (s *Store) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create task directory: %w", err)
	}
	if _, err := os.Stat(s.path); err == nil {
		return nil
	}
	return s.writeLocked(nil)
}

// List returns all tasks sorted by (priority asc, task_id asc).
// A missing file is an empty list, not an error.
func (s *Store) List() ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

// Get returns the task with the given string id.
func (s *Store) Get(id string) (*models.Task, error) {
	tasks, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
}

// AddOptions carries the optional fields of a new task.
type AddOptions struct {
	Description        string
	Prompt             string
	Dependencies       []string
	Priority           int
	MergeOrder         int
	ExclusiveFiles     []string
	SharedFiles        []string
	InitializationDeps []string
	SetupCommands      []string
}

// Add appends a new unclaimed task, assigning the next task_id and deriving
// its branch, then persists the list.
func (s *Store) Add(title string, opts AddOptions) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.readLocked()
	if err != nil {
		return nil, err
	}

	nextID := 1
	for _, t := range tasks {
		if t.TaskID >= nextID {
			nextID = t.TaskID + 1
		}
	}

	// Separator characters would leak into ids and break the line format,
	// so they are replaced once at creation.
	title = flatten(models.SanitizeField(title))

	now := time.Now()
	task := &models.Task{
		ID:                 taskSlug(title, nextID),
		TaskID:             nextID,
		Title:              title,
		Description:        flatten(opts.Description),
		Prompt:             opts.Prompt,
		Branch:             models.BranchName(nextID),
		Status:             models.TaskStatusUnclaimed,
		Dependencies:       opts.Dependencies,
		Priority:           opts.Priority,
		MergeOrder:         opts.MergeOrder,
		ExclusiveFiles:     opts.ExclusiveFiles,
		SharedFiles:        opts.SharedFiles,
		InitializationDeps: opts.InitializationDeps,
		SetupCommands:      opts.SetupCommands,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	tasks = append(tasks, task)
	if err := s.writeLocked(tasks); err != nil {
		return nil, err
	}
	return task, nil
}

// Update applies mutate to the task with the given id, refreshes updated_at,
// and persists. The returned task is the mutated copy.
func (s *Store) Update(id string, mutate func(*models.Task)) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.ID == id {
			mutate(t)
			t.UpdatedAt = time.Now()
			if err := s.writeLocked(tasks); err != nil {
				return nil, err
			}
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
}

// Delete removes the task with the given id and persists.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.readLocked()
	if err != nil {
		return err
	}
	kept := tasks[:0]
	found := false
	for _, t := range tasks {
		if t.ID == id {
			found = true
			continue
		}
		kept = append(kept, t)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return s.writeLocked(kept)
}

// Replace overwrites the whole task list. Used by the planner when a
// generated plan supersedes the backlog.
func (s *Store) Replace(tasks []*models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(tasks)
}

// flatten collapses a value onto one line so it survives the line-oriented
// file format.
func flatten(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

// taskSlug derives the stable string id for a task from its title and number.
func taskSlug(title string, taskID int) string {
	slug := strings.ToLower(models.SanitizeField(title))
	var b strings.Builder
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('-')
		}
	}
	parts := strings.FieldsFunc(b.String(), func(r rune) bool { return r == '-' })
	slug = strings.Join(parts, "-")
	if slug == "" {
		slug = "task"
	}
	return fmt.Sprintf("%s-%d", slug, taskID)
}

func (s *Store) readLocked() ([]*models.Task, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open task file: %w", err)
	}
	defer f.Close()

	var (
		tasks   []*models.Task
		current *models.Task
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if title, ok := strings.CutPrefix(line, "## Task:"); ok {
			if current != nil {
				tasks = append(tasks, current)
			}
			current = &models.Task{
				Title:  strings.TrimSpace(title),
				Status: models.TaskStatusUnclaimed,
			}
			continue
		}
		if current == nil || !strings.HasPrefix(line, "- ") {
			continue
		}
		key, value, ok := strings.Cut(line[2:], ":")
		if !ok {
			continue
		}
		applyField(current, strings.TrimSpace(key), strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	if current != nil {
		tasks = append(tasks, current)
	}

	for _, t := range tasks {
		fillDefaults(t)
	}
	sortTasks(tasks)
	return tasks, nil
}

// applyField sets one parsed key on the task. Unknown keys are ignored so
// hand edits and newer writers stay compatible.
func applyField(t *models.Task, key, value string) {
	switch key {
	case "id":
		t.ID = value
	case "task_id":
		if n, err := strconv.Atoi(value); err == nil {
			t.TaskID = n
		}
	case "status":
		if st := models.TaskStatus(value); st.Valid() {
			t.Status = st
		}
	case "branch":
		if value != "null" {
			t.Branch = value
		}
	case "session":
		if value != "null" {
			t.Session = value
		}
	case "description":
		t.Description = value
	case "prompt":
		t.Prompt = value
	case "dependencies":
		t.Dependencies = parseList(value)
	case "priority":
		if n, err := strconv.Atoi(value); err == nil {
			t.Priority = n
		}
	case "merge_order":
		if n, err := strconv.Atoi(value); err == nil {
			t.MergeOrder = n
		}
	case "exclusive_files":
		t.ExclusiveFiles = parseList(value)
	case "shared_files":
		t.SharedFiles = parseList(value)
	case "initialization_deps":
		t.InitializationDeps = parseList(value)
	case "setup_commands":
		t.SetupCommands = parseList(value)
	case "created_at":
		if ts, err := time.Parse(time.RFC3339, value); err == nil {
			t.CreatedAt = ts
		}
	case "updated_at":
		if ts, err := time.Parse(time.RFC3339, value); err == nil {
			t.UpdatedAt = ts
		}
	case "completed_at":
		if ts, err := time.Parse(time.RFC3339, value); err == nil {
			t.CompletedAt = &ts
		}
	case "merged_at":
		if ts, err := time.Parse(time.RFC3339, value); err == nil {
			t.MergedAt = &ts
		}
	}
}

// fillDefaults resolves fields the file may omit.
func fillDefaults(t *models.Task) {
	if t.Branch == "" && t.TaskID > 0 {
		t.Branch = models.BranchName(t.TaskID)
	}
	if t.ID == "" {
		t.ID = taskSlug(t.Title, t.TaskID)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
}

func parseList(value string) []string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "[")
	value = strings.TrimSuffix(value, "]")
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func sortTasks(tasks []*models.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		pi, pj := tasks[i].EffectivePriority(), tasks[j].EffectivePriority()
		if pi != pj {
			return pi < pj
		}
		return tasks[i].TaskID < tasks[j].TaskID
	})
}

// writeLocked re-sorts and atomically replaces the task file.
func (s *Store) writeLocked(tasks []*models.Task) error {
	sortTasks(tasks)

	var b strings.Builder
	b.WriteString(fileHeader)
	b.WriteString("\n")
	for _, t := range tasks {
		b.WriteString("\n")
		writeTask(&b, t)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create task directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tasks-*.md")
	if err != nil {
		return fmt.Errorf("create temp task file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write task file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close task file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod task file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace task file: %w", err)
	}
	return nil
}

func writeTask(b *strings.Builder, t *models.Task) {
	fmt.Fprintf(b, "## Task: %s\n", t.Title)
	fmt.Fprintf(b, "- id: %s\n", t.ID)
	fmt.Fprintf(b, "- task_id: %d\n", t.TaskID)
	fmt.Fprintf(b, "- status: %s\n", t.Status)
	fmt.Fprintf(b, "- branch: %s\n", t.Branch)
	if t.Session != "" {
		fmt.Fprintf(b, "- session: %s\n", t.Session)
	} else {
		b.WriteString("- session: null\n")
	}
	if t.Description != "" {
		fmt.Fprintf(b, "- description: %s\n", flatten(t.Description))
	}
	if t.Prompt != "" {
		fmt.Fprintf(b, "- prompt: %s\n", flatten(t.Prompt))
	}
	if len(t.Dependencies) > 0 {
		fmt.Fprintf(b, "- dependencies: %s\n", formatList(t.Dependencies))
	}
	if t.Priority > 0 {
		fmt.Fprintf(b, "- priority: %d\n", t.Priority)
	}
	if t.MergeOrder > 0 {
		fmt.Fprintf(b, "- merge_order: %d\n", t.MergeOrder)
	}
	if len(t.ExclusiveFiles) > 0 {
		fmt.Fprintf(b, "- exclusive_files: %s\n", formatList(t.ExclusiveFiles))
	}
	if len(t.SharedFiles) > 0 {
		fmt.Fprintf(b, "- shared_files: %s\n", formatList(t.SharedFiles))
	}
	if len(t.InitializationDeps) > 0 {
		fmt.Fprintf(b, "- initialization_deps: %s\n", formatList(t.InitializationDeps))
	}
	if len(t.SetupCommands) > 0 {
		fmt.Fprintf(b, "- setup_commands: %s\n", formatList(t.SetupCommands))
	}
	fmt.Fprintf(b, "- created_at: %s\n", t.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(b, "- updated_at: %s\n", t.UpdatedAt.Format(time.RFC3339))
	if t.CompletedAt != nil {
		fmt.Fprintf(b, "- completed_at: %s\n", t.CompletedAt.Format(time.RFC3339))
	}
	if t.MergedAt != nil {
		fmt.Fprintf(b, "- merged_at: %s\n", t.MergedAt.Format(time.RFC3339))
	}
}

func formatList(items []string) string {
	return "[" + strings.Join(items, ", ") + "]"
}
