package orchestrator

import (
	"sort"
	"strings"

	"github.com/ShayCichocki/hive/pkg/models"
)

// tasksByID indexes tasks by their string id.
func tasksByID(tasks []*models.Task) map[string]*models.Task {
	index := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		index[t.ID] = t
	}
	return index
}

// findCycles returns each dependency cycle among tasks once, as the ids in
// walk order. Unknown dependency ids are not edges; the scheduler reports
// those separately.
func findCycles(tasks []*models.Task) [][]string {
	index := tasksByID(tasks)
	state := make(map[string]int) // 0=unvisited, 1=visiting, 2=visited
	seen := make(map[string]bool)
	var cycles [][]string

	var visit func(id string, path []string)
	visit = func(id string, path []string) {
		if state[id] == 2 {
			return
		}
		if state[id] == 1 {
			start := 0
			for i, p := range path {
				if p == id {
					start = i
					break
				}
			}
			cycle := append([]string(nil), path[start:]...)
			sig := cycleSignature(cycle)
			if !seen[sig] {
				seen[sig] = true
				cycles = append(cycles, cycle)
			}
			return
		}
		state[id] = 1
		if task := index[id]; task != nil {
			for _, dep := range task.Dependencies {
				if _, ok := index[dep]; !ok {
					continue
				}
				visit(dep, append(path, id))
			}
		}
		state[id] = 2
	}

	for _, t := range tasks {
		visit(t.ID, nil)
	}
	return cycles
}

// cycleSignature produces a stable identity for a cycle regardless of the
// node the walk entered it from.
func cycleSignature(cycle []string) string {
	ids := append([]string(nil), cycle...)
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

// cycleMembers flattens cycles into the set of task ids involved in any cycle.
func cycleMembers(cycles [][]string) map[string]bool {
	members := make(map[string]bool)
	for _, cycle := range cycles {
		for _, id := range cycle {
			members[id] = true
		}
	}
	return members
}

// depsSatisfied reports whether every dependency is completed or merged, and
// returns any dependency ids missing from the task list.
func depsSatisfied(task *models.Task, index map[string]*models.Task) (bool, []string) {
	ok := true
	var unknown []string
	for _, dep := range task.Dependencies {
		d, found := index[dep]
		if !found {
			unknown = append(unknown, dep)
			ok = false
			continue
		}
		if d.Status != models.TaskStatusCompleted && d.Status != models.TaskStatusMerged {
			ok = false
		}
	}
	return ok, unknown
}

// depsMerged reports whether every dependency has reached merged. Unknown
// dependency ids count as unmerged.
func depsMerged(task *models.Task, index map[string]*models.Task) bool {
	for _, dep := range task.Dependencies {
		d, found := index[dep]
		if !found || d.Status != models.TaskStatusMerged {
			return false
		}
	}
	return true
}
