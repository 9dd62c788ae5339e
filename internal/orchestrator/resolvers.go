package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// resolveConflicts settles every conflicted path after a failed merge. Any
// single failure is fatal to the whole merge so trunk never ends up with a
// half-resolved tree.
func (q *MergeQueue) resolveConflicts(paths []string) error {
	for _, path := range paths {
		if err := q.resolveFile(path); err != nil {
			return fmt.Errorf("resolve %s: %w", path, err)
		}
	}
	return nil
}

// resolveFile picks a resolver by basename. Files without a structured
// resolver take the incoming branch's version; the branch's agent saw the
// base branch when it forked, so its copy is the more recent intent.
func (q *MergeQueue) resolveFile(path string) error {
	switch filepath.Base(path) {
	case "package.json":
		return q.resolvePackageJSON(path)
	case ".gitignore":
		return q.resolveGitignore(path)
	default:
		return q.takeTheirs(path)
	}
}

// takeTheirs resolves a conflict by keeping the incoming branch's version.
func (q *MergeQueue) takeTheirs(path string) error {
	if err := q.git.CheckoutTheirs(path); err != nil {
		return fmt.Errorf("checkout theirs: %w", err)
	}
	return q.git.Add(path)
}

// resolvePackageJSON three-way merges a conflicted package.json from the
// index. Dependency maps take the union with the incoming branch winning
// version ties, scripts keep ours plus the incoming branch's, and every
// other field keeps our side.
func (q *MergeQueue) resolvePackageJSON(path string) error {
	base, err := q.git.ShowStage(1, path)
	if err != nil {
		// Add/add conflicts have no common ancestor in the index.
		base = "{}"
	}
	ours, err := q.git.ShowStage(2, path)
	if err != nil {
		return fmt.Errorf("read our side: %w", err)
	}
	theirs, err := q.git.ShowStage(3, path)
	if err != nil {
		return fmt.Errorf("read their side: %w", err)
	}

	merged, err := mergePackageJSON(base, ours, theirs)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(q.projectRoot, path), merged, 0o644); err != nil {
		return fmt.Errorf("write merged file: %w", err)
	}
	return q.git.Add(path)
}

// mergePackageJSON merges the three index versions of a package.json.
// Keys in the output are sorted, so resolving the same conflict twice
// produces identical bytes.
func mergePackageJSON(base, ours, theirs string) ([]byte, error) {
	baseDoc, err := parseJSONObject(base)
	if err != nil {
		return nil, fmt.Errorf("parse base version: %w", err)
	}
	oursDoc, err := parseJSONObject(ours)
	if err != nil {
		return nil, fmt.Errorf("parse our version: %w", err)
	}
	theirsDoc, err := parseJSONObject(theirs)
	if err != nil {
		return nil, fmt.Errorf("parse their version: %w", err)
	}

	merged := make(map[string]any, len(oursDoc))
	for k, v := range oursDoc {
		merged[k] = v
	}
	for _, key := range []string{"dependencies", "devDependencies"} {
		if section := overlayMaps(objectField(baseDoc, key), objectField(oursDoc, key), objectField(theirsDoc, key)); section != nil {
			merged[key] = section
		}
	}
	if scripts := overlayMaps(objectField(oursDoc, "scripts"), objectField(theirsDoc, "scripts")); scripts != nil {
		merged["scripts"] = scripts
	}

	out, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode merged package.json: %w", err)
	}
	return append(out, '\n'), nil
}

func parseJSONObject(s string) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// objectField returns doc[key] when it is a JSON object, else nil.
func objectField(doc map[string]any, key string) map[string]any {
	if doc == nil {
		return nil
	}
	section, _ := doc[key].(map[string]any)
	return section
}

// overlayMaps merges maps left to right with later layers winning. Returns
// nil when every layer is nil so absent sections stay absent.
func overlayMaps(layers ...map[string]any) map[string]any {
	var out map[string]any
	for _, layer := range layers {
		if layer == nil {
			continue
		}
		if out == nil {
			out = make(map[string]any, len(layer))
		}
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

// resolveGitignore settles a conflicted .gitignore by unioning both sides.
func (q *MergeQueue) resolveGitignore(path string) error {
	ours, err := q.git.ShowStage(2, path)
	if err != nil {
		return fmt.Errorf("read our side: %w", err)
	}
	theirs, err := q.git.ShowStage(3, path)
	if err != nil {
		return fmt.Errorf("read their side: %w", err)
	}
	merged := mergeGitignore(ours, theirs)
	if err := os.WriteFile(filepath.Join(q.projectRoot, path), []byte(merged), 0o644); err != nil {
		return fmt.Errorf("write merged file: %w", err)
	}
	return q.git.Add(path)
}

// ignoreGroup is a run of .gitignore patterns under one comment header.
type ignoreGroup struct {
	header   string
	patterns []string
	seen     map[string]bool
}

// mergeGitignore unions two .gitignore files. Each pattern keeps the closest
// comment header above it, headerless patterns come first, and every group
// is deduplicated and sorted.
func mergeGitignore(ours, theirs string) string {
	var order []*ignoreGroup
	byHeader := make(map[string]*ignoreGroup)

	group := func(header string) *ignoreGroup {
		if g, ok := byHeader[header]; ok {
			return g
		}
		g := &ignoreGroup{header: header, seen: make(map[string]bool)}
		byHeader[header] = g
		order = append(order, g)
		return g
	}
	// Headerless patterns render first regardless of which side they came
	// from, so claim the front slot before reading either side.
	group("")

	collect := func(content string) {
		header := ""
		for _, line := range strings.Split(content, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "#") {
				header = line
				continue
			}
			g := group(header)
			if g.seen[line] {
				continue
			}
			g.seen[line] = true
			g.patterns = append(g.patterns, line)
		}
	}
	collect(ours)
	collect(theirs)

	var b strings.Builder
	first := true
	for _, g := range order {
		if len(g.patterns) == 0 {
			continue
		}
		if !first {
			b.WriteString("\n")
		}
		first = false
		if g.header != "" {
			b.WriteString(g.header)
			b.WriteString("\n")
		}
		sort.Strings(g.patterns)
		for _, p := range g.patterns {
			b.WriteString(p)
			b.WriteString("\n")
		}
	}
	return b.String()
}
