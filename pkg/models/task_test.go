package models

import "testing"

func TestTaskStatusValid(t *testing.T) {
	valid := []TaskStatus{
		TaskStatusUnclaimed, TaskStatusUpNext, TaskStatusInProgress,
		TaskStatusCompleted, TaskStatusMerged,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if TaskStatus("claimed").Valid() {
		t.Error("expected unknown status to be invalid")
	}
	if TaskStatus("").Valid() {
		t.Error("expected empty status to be invalid")
	}
}

func TestTaskStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		want     bool
	}{
		{TaskStatusUnclaimed, TaskStatusUpNext, true},
		{TaskStatusUpNext, TaskStatusInProgress, true},
		{TaskStatusUpNext, TaskStatusUnclaimed, true},
		{TaskStatusInProgress, TaskStatusCompleted, true},
		{TaskStatusInProgress, TaskStatusUpNext, true},
		{TaskStatusCompleted, TaskStatusMerged, true},
		{TaskStatusUnclaimed, TaskStatusInProgress, false},
		{TaskStatusUnclaimed, TaskStatusMerged, false},
		{TaskStatusInProgress, TaskStatusUnclaimed, false},
		{TaskStatusCompleted, TaskStatusUpNext, false},
		{TaskStatusMerged, TaskStatusCompleted, false},
		{TaskStatusMerged, TaskStatusUnclaimed, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("CanTransitionTo(%s → %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestEffectivePriority(t *testing.T) {
	task := &Task{Priority: 3}
	if got := task.EffectivePriority(); got != 3 {
		t.Errorf("expected priority 3, got %d", got)
	}

	unset := &Task{}
	if got := unset.EffectivePriority(); got != DefaultPriority {
		t.Errorf("expected default priority %d, got %d", DefaultPriority, got)
	}

	negative := &Task{Priority: -1}
	if got := negative.EffectivePriority(); got != DefaultPriority {
		t.Errorf("expected default priority for negative value, got %d", got)
	}
}

func TestBranchName(t *testing.T) {
	if got := BranchName(7); got != "task-7" {
		t.Errorf("expected task-7, got %q", got)
	}
}

func TestConflictsWith(t *testing.T) {
	tests := []struct {
		name string
		a, b *Task
		want bool
	}{
		{
			name: "same exclusive file",
			a:    &Task{ExclusiveFiles: []string{"src/shared.ts"}},
			b:    &Task{ExclusiveFiles: []string{"src/shared.ts"}},
			want: true,
		},
		{
			name: "disjoint exclusive files",
			a:    &Task{ExclusiveFiles: []string{"src/a.ts"}},
			b:    &Task{ExclusiveFiles: []string{"src/b.ts"}},
			want: false,
		},
		{
			name: "exclusive intersects shared",
			a:    &Task{ExclusiveFiles: []string{"src/api.ts"}},
			b:    &Task{SharedFiles: []string{"src/api.ts"}},
			want: true,
		},
		{
			name: "shared intersects exclusive",
			a:    &Task{SharedFiles: []string{"src/api.ts"}},
			b:    &Task{ExclusiveFiles: []string{"src/api.ts"}},
			want: true,
		},
		{
			name: "shared with shared does not conflict",
			a:    &Task{SharedFiles: []string{"src/types.ts"}},
			b:    &Task{SharedFiles: []string{"src/types.ts"}},
			want: false,
		},
		{
			name: "directory pattern covers file beneath it",
			a:    &Task{ExclusiveFiles: []string{"src/auth/"}},
			b:    &Task{ExclusiveFiles: []string{"src/auth/login.ts"}},
			want: true,
		},
		{
			name: "no patterns at all",
			a:    &Task{},
			b:    &Task{},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.ConflictsWith(tt.b); got != tt.want {
				t.Errorf("ConflictsWith = %v, want %v", got, tt.want)
			}
			// Conflict is symmetric.
			if got := tt.b.ConflictsWith(tt.a); got != tt.want {
				t.Errorf("reverse ConflictsWith = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSanitizeField(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain-title", "plain-title"},
		{"feat/auth", "feat-auth"},
		{`win\path`, "win-path"},
		{"this & that", "this - that"},
		{"a/b\\c&d", "a-b-c-d"},
	}
	for _, tt := range tests {
		if got := SanitizeField(tt.in); got != tt.want {
			t.Errorf("SanitizeField(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
