package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/ShayCichocki/hive/internal/eventbus"
	"github.com/ShayCichocki/hive/internal/taskstore"
	"github.com/ShayCichocki/hive/pkg/models"
)

// DefaultTimeout bounds one plan generation end to end.
const DefaultTimeout = 120 * time.Second

// ErrPlanTimeout indicates plan generation exceeded its deadline.
var ErrPlanTimeout = errors.New("plan generation timed out")

const planSystemPrompt = `You are a project planning expert who breaks software projects into small, parallelizable tasks for AI coding agents. Each agent works alone on its own git branch, so tasks need clear file boundaries and explicit dependencies.`

const planPromptTemplate = `Project: %s
%sBreak the following request into 10-15 tasks, each sized for a single coding agent to complete.

Request:
%s

Return ONLY a JSON array of tasks with this exact structure (no other text):
[
  {
    "title": "Short task title",
    "description": "Detailed task description",
    "dependencies": ["title of a task that must merge first"],
    "priority": 1,
    "merge_order": 1,
    "exclusive_files": ["src/auth/login.ts", "src/auth/"],
    "shared_files": ["package.json"],
    "initialization_deps": ["title of a task whose finished branch this one builds on"],
    "setup_commands": ["npm install"]
  }
]

Guidelines:
- Tasks should be as independent as possible to allow parallel execution
- priority ranges 1 (highest) to 10 (lowest); omit it to accept the default
- merge_order breaks priority ties; lower merges first
- exclusive_files lists files, directories (trailing /), or glob patterns (src/**) only this task may touch; two tasks whose exclusive claims overlap never run at the same time
- shared_files lists files several tasks may touch concurrently
- dependencies name tasks that must be merged into main before this one starts
- initialization_deps name tasks whose merged branch this task forks from instead of main
- setup_commands run in the task worktree before the agent starts
- Use empty arrays for fields that do not apply`

// planTask is the JSON structure returned by the model for a single task.
// Dependency fields reference other tasks in the same plan by title.
type planTask struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	Dependencies       []string `json:"dependencies"`
	Priority           int      `json:"priority"`
	MergeOrder         int      `json:"merge_order"`
	ExclusiveFiles     []string `json:"exclusive_files"`
	SharedFiles        []string `json:"shared_files"`
	InitializationDeps []string `json:"initialization_deps"`
	SetupCommands      []string `json:"setup_commands"`
}

// Generator produces one text completion. *Client satisfies it; tests swap in
// a canned implementation.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

var _ Generator = (*Client)(nil)

// Options carries the optional collaborators of a Planner.
type Options struct {
	// Bus receives a plan_generated event per successful plan. May be nil.
	Bus *eventbus.Bus
	// Timeout bounds one GeneratePlan call. Zero means DefaultTimeout.
	Timeout time.Duration
	// Logger receives parse warnings. Nil discards them.
	Logger *log.Logger
}

// Planner generates task plans and writes them through the task store.
type Planner struct {
	gen     Generator
	store   *taskstore.Store
	bus     *eventbus.Bus
	timeout time.Duration
	logger  *log.Logger
}

// NewPlanner creates a Planner that writes generated tasks through store.
func NewPlanner(gen Generator, store *taskstore.Store, opts Options) *Planner {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Planner{
		gen:     gen,
		store:   store,
		bus:     opts.Bus,
		timeout: timeout,
		logger:  logger,
	}
}

// GeneratePlan asks the model to plan the given request, appends the parsed
// tasks to the project's task list, and returns them in insertion order.
// Dependency titles are resolved to task ids after insertion; titles that
// match no planned task are dropped with a warning.
func (p *Planner) GeneratePlan(ctx context.Context, project *models.Project, request string) ([]*models.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	response, err := p.gen.Generate(ctx, planSystemPrompt, buildPlanPrompt(project, request))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrPlanTimeout, p.timeout)
		}
		return nil, fmt.Errorf("generate plan: %w", err)
	}

	drafts, err := p.parsePlan(response)
	if err != nil {
		return nil, err
	}

	created := make([]*models.Task, 0, len(drafts))
	titleToID := make(map[string]string, len(drafts))
	for _, d := range drafts {
		task, err := p.store.Add(d.Title, taskstore.AddOptions{
			Description:    d.Description,
			Priority:       clampPriority(d.Priority),
			MergeOrder:     max(d.MergeOrder, 0),
			ExclusiveFiles: d.ExclusiveFiles,
			SharedFiles:    d.SharedFiles,
			SetupCommands:  d.SetupCommands,
		})
		if err != nil {
			return nil, fmt.Errorf("store task %q: %w", d.Title, err)
		}
		if _, dup := titleToID[d.Title]; dup {
			p.logger.Printf("plan: duplicate task title %q; dependencies resolve to the later task", d.Title)
		}
		titleToID[d.Title] = task.ID
		created = append(created, task)
	}

	// Ids only exist after insertion, so dependency titles resolve in a
	// second pass.
	for i, d := range drafts {
		deps := p.resolveTitles(d.Title, d.Dependencies, titleToID)
		initDeps := p.resolveTitles(d.Title, d.InitializationDeps, titleToID)
		if len(deps) == 0 && len(initDeps) == 0 {
			continue
		}
		updated, err := p.store.Update(created[i].ID, func(t *models.Task) {
			t.Dependencies = deps
			t.InitializationDeps = initDeps
		})
		if err != nil {
			return nil, fmt.Errorf("set dependencies for %q: %w", d.Title, err)
		}
		created[i] = updated
	}

	if p.bus != nil {
		p.bus.Emit(eventbus.TypePlanGenerated, project.ID, map[string]any{
			"tasks":   len(created),
			"request": truncate(request, 200),
		})
	}
	return created, nil
}

// buildPlanPrompt assembles the user prompt for one plan request. When the
// project path is readable, a layout survey is included so the model claims
// files that actually exist.
func buildPlanPrompt(project *models.Project, request string) string {
	context := ""
	if project.Description != "" {
		context = fmt.Sprintf("Description: %s\n", project.Description)
	}
	if layout := surveyRepo(project.Path); layout != "" {
		context += fmt.Sprintf("Repository layout:\n%s\n", layout)
	}
	return fmt.Sprintf(planPromptTemplate, project.Name, context, request)
}

// parsePlan extracts the JSON array from the response and decodes it block by
// block. Blocks that fail to decode or lack a title are skipped with a
// warning; only a response without a usable array is an error.
func (p *Planner) parsePlan(response string) ([]planTask, error) {
	jsonStart := strings.Index(response, "[")
	jsonEnd := strings.LastIndex(response, "]")
	if jsonStart == -1 || jsonEnd == -1 || jsonEnd <= jsonStart {
		return nil, fmt.Errorf("no valid JSON array found in response (got %d chars): %q", len(response), truncate(response, 500))
	}

	var blocks []json.RawMessage
	if err := json.Unmarshal([]byte(response[jsonStart:jsonEnd+1]), &blocks); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}

	drafts := make([]planTask, 0, len(blocks))
	for i, raw := range blocks {
		var d planTask
		if err := json.Unmarshal(raw, &d); err != nil {
			p.logger.Printf("plan: skipping malformed task block %d: %v", i, err)
			continue
		}
		if strings.TrimSpace(d.Title) == "" {
			p.logger.Printf("plan: skipping task block %d without a title", i)
			continue
		}
		drafts = append(drafts, d)
	}
	if len(drafts) == 0 {
		return nil, fmt.Errorf("no usable tasks in plan response (%d blocks)", len(blocks))
	}
	return drafts, nil
}

// resolveTitles maps dependency titles to task ids, dropping self-references
// and titles outside the plan.
func (p *Planner) resolveTitles(self string, titles []string, byTitle map[string]string) []string {
	var ids []string
	for _, title := range titles {
		if title == self {
			p.logger.Printf("plan: task %q depends on itself; dropped", self)
			continue
		}
		id, ok := byTitle[title]
		if !ok {
			p.logger.Printf("plan: task %q names unknown dependency %q; dropped", self, title)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// clampPriority folds out-of-range model output into the 0-10 task scale,
// where 0 means unset.
func clampPriority(n int) int {
	if n < 0 {
		return 0
	}
	if n > models.DefaultPriority {
		return models.DefaultPriority
	}
	return n
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
