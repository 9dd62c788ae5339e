package orchestrator

import (
	"testing"

	"github.com/ShayCichocki/hive/pkg/models"
)

func depTask(id string, status models.TaskStatus, deps ...string) *models.Task {
	return &models.Task{ID: id, Status: status, Dependencies: deps}
}

func TestFindCyclesNone(t *testing.T) {
	tasks := []*models.Task{
		depTask("a", models.TaskStatusUnclaimed),
		depTask("b", models.TaskStatusUnclaimed, "a"),
		depTask("c", models.TaskStatusUnclaimed, "a", "b"),
	}
	if cycles := findCycles(tasks); len(cycles) != 0 {
		t.Errorf("findCycles() = %v, want none", cycles)
	}
}

func TestFindCyclesSelfDependency(t *testing.T) {
	tasks := []*models.Task{depTask("a", models.TaskStatusUnclaimed, "a")}
	cycles := findCycles(tasks)
	if len(cycles) != 1 {
		t.Fatalf("findCycles() found %d cycles, want 1", len(cycles))
	}
	if len(cycles[0]) != 1 || cycles[0][0] != "a" {
		t.Errorf("cycle = %v, want [a]", cycles[0])
	}
}

func TestFindCyclesPair(t *testing.T) {
	tasks := []*models.Task{
		depTask("a", models.TaskStatusUnclaimed, "b"),
		depTask("b", models.TaskStatusUnclaimed, "a"),
		depTask("c", models.TaskStatusUnclaimed),
	}
	cycles := findCycles(tasks)
	if len(cycles) != 1 {
		t.Fatalf("findCycles() found %d cycles, want 1", len(cycles))
	}
	members := cycleMembers(cycles)
	if !members["a"] || !members["b"] {
		t.Errorf("cycle members = %v, want a and b", members)
	}
	if members["c"] {
		t.Error("c is not in a cycle but was flagged")
	}
}

func TestFindCyclesReportedOnce(t *testing.T) {
	// Two separate paths lead into the same b<->c loop; the loop should be
	// reported a single time.
	tasks := []*models.Task{
		depTask("a1", models.TaskStatusUnclaimed, "b"),
		depTask("a2", models.TaskStatusUnclaimed, "c"),
		depTask("b", models.TaskStatusUnclaimed, "c"),
		depTask("c", models.TaskStatusUnclaimed, "b"),
	}
	cycles := findCycles(tasks)
	if len(cycles) != 1 {
		t.Fatalf("findCycles() found %d cycles, want 1: %v", len(cycles), cycles)
	}
	members := cycleMembers(cycles)
	if members["a1"] || members["a2"] {
		t.Errorf("tasks pointing at a cycle are not members, got %v", members)
	}
}

func TestFindCyclesIgnoresUnknownDeps(t *testing.T) {
	tasks := []*models.Task{depTask("a", models.TaskStatusUnclaimed, "ghost")}
	if cycles := findCycles(tasks); len(cycles) != 0 {
		t.Errorf("unknown dependency treated as cycle: %v", cycles)
	}
}

func TestCycleSignatureOrderInsensitive(t *testing.T) {
	if cycleSignature([]string{"b", "a"}) != cycleSignature([]string{"a", "b"}) {
		t.Error("signatures for the same member set should match")
	}
}

func TestDepsSatisfied(t *testing.T) {
	index := tasksByID([]*models.Task{
		depTask("done", models.TaskStatusCompleted),
		depTask("landed", models.TaskStatusMerged),
		depTask("busy", models.TaskStatusInProgress),
	})

	tests := []struct {
		name        string
		deps        []string
		want        bool
		wantUnknown int
	}{
		{"no deps", nil, true, 0},
		{"completed dep", []string{"done"}, true, 0},
		{"merged dep", []string{"landed"}, true, 0},
		{"mixed settled deps", []string{"done", "landed"}, true, 0},
		{"in-progress dep", []string{"busy"}, false, 0},
		{"unknown dep", []string{"ghost"}, false, 1},
		{"unknown alongside settled", []string{"done", "ghost"}, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := depTask("t", models.TaskStatusUnclaimed, tt.deps...)
			got, unknown := depsSatisfied(task, index)
			if got != tt.want {
				t.Errorf("depsSatisfied() = %t, want %t", got, tt.want)
			}
			if len(unknown) != tt.wantUnknown {
				t.Errorf("unknown = %v, want %d entries", unknown, tt.wantUnknown)
			}
		})
	}
}

func TestDepsMerged(t *testing.T) {
	index := tasksByID([]*models.Task{
		depTask("landed", models.TaskStatusMerged),
		depTask("done", models.TaskStatusCompleted),
	})

	if !depsMerged(depTask("t", models.TaskStatusCompleted, "landed"), index) {
		t.Error("merged dependency should satisfy the merge gate")
	}
	if depsMerged(depTask("t", models.TaskStatusCompleted, "done"), index) {
		t.Error("completed-but-unmerged dependency must block the merge gate")
	}
	if depsMerged(depTask("t", models.TaskStatusCompleted, "ghost"), index) {
		t.Error("unknown dependency must block the merge gate")
	}
}
