package orchestrator

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestMergeGitignore(t *testing.T) {
	tests := []struct {
		name   string
		ours   string
		theirs string
		want   string
	}{
		{
			name:   "headerless union sorted",
			ours:   "b.log\na.log\n",
			theirs: "c.log\n",
			want:   "a.log\nb.log\nc.log\n",
		},
		{
			name:   "duplicates collapse",
			ours:   "node_modules/\ndist/\n",
			theirs: "dist/\nnode_modules/\n",
			want:   "dist/\nnode_modules/\n",
		},
		{
			name:   "patterns keep their headers",
			ours:   "# Logs\n*.log\n",
			theirs: "# Logs\nnpm-debug.log\n\n# Editors\n.vscode/\n",
			want:   "# Logs\n*.log\nnpm-debug.log\n\n# Editors\n.vscode/\n",
		},
		{
			name:   "headerless lines render before any group",
			ours:   "# Dependencies\nnode_modules/\n",
			theirs: "dist\n",
			want:   "dist\n\n# Dependencies\nnode_modules/\n",
		},
		{
			name:   "blank lines and whitespace ignored",
			ours:   "\n\n  a.out  \n",
			theirs: "",
			want:   "a.out\n",
		},
		{
			name:   "empty sides produce empty output",
			ours:   "",
			theirs: "\n\n",
			want:   "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mergeGitignore(tt.ours, tt.theirs); got != tt.want {
				t.Errorf("mergeGitignore() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMergePackageJSONTheirsWinsDependencyTies(t *testing.T) {
	base := `{"name":"app","dependencies":{"react":"^17.0.0"}}`
	ours := `{"name":"app","dependencies":{"react":"^18.0.0"},"private":true}`
	theirs := `{"name":"app","dependencies":{"react":"^18.2.0"}}`

	out, err := mergePackageJSON(base, ours, theirs)
	if err != nil {
		t.Fatalf("mergePackageJSON() error = %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	deps := doc["dependencies"].(map[string]any)
	if deps["react"] != "^18.2.0" {
		t.Errorf("react = %v, want their ^18.2.0", deps["react"])
	}
	if doc["private"] != true {
		t.Errorf("private = %v, want our field preserved", doc["private"])
	}
}

func TestMergePackageJSONBaseOnlyDependencySurvives(t *testing.T) {
	base := `{"dependencies":{"left-pad":"^1.0.0"}}`
	ours := `{"dependencies":{"express":"^4.0.0"}}`
	theirs := `{"dependencies":{"fastify":"^4.0.0"}}`

	out, err := mergePackageJSON(base, ours, theirs)
	if err != nil {
		t.Fatalf("mergePackageJSON() error = %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	deps := doc["dependencies"].(map[string]any)
	for _, name := range []string{"left-pad", "express", "fastify"} {
		if _, ok := deps[name]; !ok {
			t.Errorf("dependency %s missing from union: %v", name, deps)
		}
	}
}

func TestMergePackageJSONDeterministic(t *testing.T) {
	base := `{"dependencies":{"a":"1"}}`
	ours := `{"dependencies":{"b":"2"},"scripts":{"x":"true"}}`
	theirs := `{"dependencies":{"c":"3"},"scripts":{"y":"false"}}`

	first, err := mergePackageJSON(base, ours, theirs)
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}
	second, err := mergePackageJSON(base, ours, theirs)
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("merging the same inputs twice produced different bytes")
	}
	if !bytes.HasSuffix(first, []byte("\n")) {
		t.Error("merged package.json must end with a newline")
	}
	if !strings.Contains(string(first), "  \"dependencies\"") {
		t.Error("merged package.json is not two-space indented")
	}
}

func TestMergePackageJSONRejectsBrokenSide(t *testing.T) {
	if _, err := mergePackageJSON(`{}`, `{"name":`, `{}`); err == nil {
		t.Error("broken our-side JSON must fail the resolver")
	}
	if _, err := mergePackageJSON(`not json`, `{}`, `{}`); err == nil {
		t.Error("broken base JSON must fail the resolver")
	}
}

func TestMergePackageJSONEmptyBase(t *testing.T) {
	// Add/add conflicts substitute an empty object for the missing base.
	out, err := mergePackageJSON(`{}`, `{"name":"app"}`, `{"name":"app","dependencies":{"zod":"^3.0.0"}}`)
	if err != nil {
		t.Fatalf("mergePackageJSON() error = %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if doc["name"] != "app" {
		t.Errorf("name = %v, want app", doc["name"])
	}
	deps, _ := doc["dependencies"].(map[string]any)
	if deps["zod"] != "^3.0.0" {
		t.Errorf("zod = %v, want their section adopted", deps["zod"])
	}
}

func TestOverlayMaps(t *testing.T) {
	if got := overlayMaps(nil, nil); got != nil {
		t.Errorf("overlayMaps(nil, nil) = %v, want nil", got)
	}
	got := overlayMaps(
		map[string]any{"a": "1", "b": "1"},
		nil,
		map[string]any{"b": "2", "c": "2"},
	)
	if got["a"] != "1" || got["b"] != "2" || got["c"] != "2" {
		t.Errorf("overlayMaps() = %v, want later layers to win", got)
	}
}
