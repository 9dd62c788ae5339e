package planner

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// surveyMaxDirs caps the layout summary included in a plan prompt.
const surveyMaxDirs = 40

// surveyExamples is how many file names each directory line shows.
const surveyExamples = 3

var codeExtensions = map[string]bool{
	".go": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".py": true, ".rb": true, ".java": true, ".c": true, ".cpp": true,
	".h": true, ".hpp": true, ".rs": true, ".php": true, ".swift": true,
	".kt": true,
}

func isCodeFile(path string) bool {
	return codeExtensions[strings.ToLower(filepath.Ext(path))]
}

// surveyRepo summarizes the project's code layout, one line per directory
// holding code files, so the model grounds file claims in paths that exist.
// Returns "" when the tree is empty or unreadable.
func surveyRepo(root string) string {
	if root == "" {
		return ""
	}

	dirFiles := map[string][]string{}
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			switch d.Name() {
			case ".git", ".hive", "node_modules", "vendor", "worktrees":
				return filepath.SkipDir
			}
			return nil
		}
		if !isCodeFile(path) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		dir := filepath.ToSlash(filepath.Dir(rel))
		dirFiles[dir] = append(dirFiles[dir], filepath.Base(rel))
		return nil
	})
	if len(dirFiles) == 0 {
		return ""
	}

	dirs := make([]string, 0, len(dirFiles))
	for dir := range dirFiles {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	var b strings.Builder
	for i, dir := range dirs {
		if i == surveyMaxDirs {
			fmt.Fprintf(&b, "... and %d more directories\n", len(dirs)-surveyMaxDirs)
			break
		}
		files := dirFiles[dir]
		sort.Strings(files)

		label := dir + "/"
		if dir == "." {
			label = "./"
		}
		noun := "files"
		if len(files) == 1 {
			noun = "file"
		}
		examples := files
		if len(examples) > surveyExamples {
			examples = examples[:surveyExamples]
		}
		fmt.Fprintf(&b, "%s (%d %s): %s", label, len(files), noun, strings.Join(examples, ", "))
		if len(files) > surveyExamples {
			b.WriteString(", ...")
		}
		b.WriteByte('\n')
	}
	return strings.TrimSuffix(b.String(), "\n")
}
