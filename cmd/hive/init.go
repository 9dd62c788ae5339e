package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/config"
	"github.com/ShayCichocki/hive/internal/session"
	"github.com/ShayCichocki/hive/internal/taskstore"
	"github.com/ShayCichocki/hive/pkg/models"
)

var (
	initProjectName    string
	initMaxAgents      int
	initNoGit          bool
	initSkipAgentCheck bool
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a hive project",
	Long: `Initialize a directory for use with hive.

This command sets up everything needed to run agents against a repository:
  - Verifies prerequisites (git, tmux, agent CLI)
  - Initializes a git repository with a main branch if needed
  - Creates the .hive directory structure and an empty task file
  - Seeds .mcp.json so agents find the coordination server
  - Registers the project in ~/.hive/projects.yaml

The directory argument is optional and defaults to the current directory.

Examples:
  hive init                  # Initialize current directory
  hive init ./myproject      # Initialize specific directory
  hive init --max-agents 3   # Cap this project at 3 concurrent agents
  hive init --no-git         # Skip git initialization`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initProjectName, "name", "", "Override auto-detected project name")
	initCmd.Flags().IntVar(&initMaxAgents, "max-agents", 0, "Per-project agent cap (0 uses the global setting)")
	initCmd.Flags().BoolVar(&initNoGit, "no-git", false, "Skip git initialization")
	initCmd.Flags().BoolVar(&initSkipAgentCheck, "skip-agent-check", false, "Skip agent CLI availability check")
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}

	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	fmt.Printf("Initializing hive in %s...\n\n", absPath)

	// Prerequisites
	if err := checkGitInstalled(); err != nil {
		printStatus("✗", "Git not found", color.FgRed)
		return err
	}
	printStatus("✓", "Git found", color.FgGreen)

	if err := session.NewSupervisor().Preflight(cfg.AgentCommand); err != nil {
		if initSkipAgentCheck {
			printStatus("⚠", fmt.Sprintf("Agent prerequisites missing (%v)", err), color.FgYellow)
		} else {
			printStatus("✗", "Agent prerequisites missing", color.FgRed)
			return err
		}
	} else {
		printStatus("✓", "tmux and agent CLI found", color.FgGreen)
	}

	if _, err := config.GetAPIKey(cfg); err != nil {
		printStatus("⚠", "Anthropic API key not set ('hive plan' needs one)", color.FgYellow)
	} else {
		printStatus("✓", "Anthropic API key is set", color.FgGreen)
	}

	// Git repository with a main branch
	if !initNoGit {
		if err := initGitRepo(absPath); err != nil {
			return err
		}
	} else {
		fmt.Println("Skipping git initialization (--no-git flag)")
	}

	// .hive structure and the task file
	hiveDir := filepath.Join(absPath, ".hive")
	for _, dir := range []string{hiveDir, filepath.Join(hiveDir, "logs"), session.StatusDir(absPath)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := taskstore.New(absPath).Init(); err != nil {
		return fmt.Errorf("creating task file: %w", err)
	}
	printStatus("✓", "Created .hive directory and task file", color.FgGreen)

	if !initNoGit {
		if err := updateGitignore(absPath); err != nil {
			return fmt.Errorf("updating .gitignore: %w", err)
		}
		printStatus("✓", "Updated .gitignore with hive entries", color.FgGreen)
	}

	// MCP wiring so an agent started at the root reaches coordination too.
	if err := seedMCPConfig(absPath, cfg.CoordinationEndpoint); err != nil {
		return fmt.Errorf("seeding .mcp.json: %w", err)
	}
	printStatus("✓", "Seeded .mcp.json with the coordination endpoint", color.FgGreen)

	// Register the project
	projectName := initProjectName
	if projectName == "" {
		projectName = filepath.Base(absPath)
	}
	project := &models.Project{
		ID:        config.DeriveProjectID(absPath),
		Name:      projectName,
		Path:      absPath,
		MaxAgents: initMaxAgents,
	}
	if err := config.NewRegistry().Register(project); err != nil {
		return fmt.Errorf("registering project: %w", err)
	}
	printStatus("✓", fmt.Sprintf("Registered project %q", project.ID), color.FgGreen)

	fmt.Printf("\n%s Hive initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	fmt.Println("  1. Add tasks:")
	fmt.Println("     hive plan \"describe what to build\"")
	fmt.Println("     # or: hive task add \"task title\"")
	fmt.Println()
	fmt.Println("  2. Dispatch agents:")
	fmt.Println("     hive run")
	fmt.Println()
	fmt.Println("Project details:")
	fmt.Printf("  Project id:   %s\n", project.ID)
	fmt.Printf("  Project name: %s\n", project.Name)
	fmt.Printf("  Repository:   %s\n", absPath)

	return nil
}

// checkGitInstalled checks if git is installed
func checkGitInstalled() error {
	_, err := exec.LookPath("git")
	if err != nil {
		return fmt.Errorf("git not found in PATH\n\n" +
			"Hive requires git to manage task branches and worktrees.\n\n" +
			"Install git with:\n" +
			"  - macOS: brew install git\n" +
			"  - Ubuntu/Debian: sudo apt-get install git\n" +
			"  - Other: https://git-scm.com/downloads")
	}
	return nil
}

// initGitRepo initializes git repository and ensures basic requirements
func initGitRepo(repoPath string) error {
	gitDir := filepath.Join(repoPath, ".git")
	if _, err := os.Stat(gitDir); os.IsNotExist(err) {
		cmd := exec.Command("git", "init")
		cmd.Dir = repoPath
		if output, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("git init failed: %s\n%s", err, string(output))
		}
		printStatus("✓", "Initialized git repository", color.FgGreen)
	} else {
		printStatus("✓", "Git repository exists", color.FgGreen)
	}

	hasCommits, err := hasAnyCommits(repoPath)
	if err != nil {
		return fmt.Errorf("checking for commits: %w", err)
	}
	if !hasCommits {
		if err := ensureInitialCommit(repoPath); err != nil {
			return fmt.Errorf("creating initial commit: %w", err)
		}
		printStatus("✓", "Created initial commit", color.FgGreen)
	} else {
		printStatus("✓", "Git repository has commits", color.FgGreen)
	}

	if err := ensureMainBranch(repoPath); err != nil {
		return fmt.Errorf("ensuring main branch: %w", err)
	}
	printStatus("✓", "Main branch exists", color.FgGreen)

	return nil
}

// hasAnyCommits checks if the repository has any commits
func hasAnyCommits(repoPath string) (bool, error) {
	cmd := exec.Command("git", "rev-list", "-n", "1", "--all")
	cmd.Dir = repoPath
	output, err := cmd.CombinedOutput()
	if err != nil {
		// Exit code 128 typically means no commits
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 128 {
			return false, nil
		}
		return false, fmt.Errorf("git rev-list failed: %s", string(output))
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// ensureInitialCommit creates an initial commit if needed
func ensureInitialCommit(repoPath string) error {
	gitignorePath := filepath.Join(repoPath, ".gitignore")
	if _, err := os.Stat(gitignorePath); os.IsNotExist(err) {
		if err := os.WriteFile(gitignorePath, []byte(gitignoreEntries), 0644); err != nil {
			return fmt.Errorf("creating .gitignore: %w", err)
		}
	}

	addCmd := exec.Command("git", "add", ".")
	addCmd.Dir = repoPath
	if output, err := addCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git add failed: %s\n%s", err, string(output))
	}

	commitCmd := exec.Command("git", "commit", "--allow-empty", "-m", "Initial commit")
	commitCmd.Dir = repoPath
	if output, err := commitCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git commit failed: %s\n%s", err, string(output))
	}

	return nil
}

// ensureMainBranch ensures the primary branch is named "main".
// If "master" exists but "main" doesn't, renames master to main.
// The merge queue always lands branches on "main".
func ensureMainBranch(repoPath string) error {
	mainCmd := exec.Command("git", "rev-parse", "--verify", "main")
	mainCmd.Dir = repoPath
	if err := mainCmd.Run(); err == nil {
		return nil
	}

	masterCmd := exec.Command("git", "rev-parse", "--verify", "master")
	masterCmd.Dir = repoPath
	if err := masterCmd.Run(); err == nil {
		renameCmd := exec.Command("git", "branch", "-m", "master", "main")
		renameCmd.Dir = repoPath
		if output, err := renameCmd.CombinedOutput(); err != nil {
			return fmt.Errorf("renaming master to main: %s\n%s", err, string(output))
		}
		return nil
	}

	// No main, no master: create main at the current HEAD.
	createCmd := exec.Command("git", "branch", "main")
	createCmd.Dir = repoPath
	if output, err := createCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("creating main branch: %s\n%s", err, string(output))
	}
	return nil
}

const gitignoreEntries = `# Hive
.hive/logs/
.hive/status/
worktrees/
`

// updateGitignore appends hive's runtime directories to .gitignore if they
// are not already listed.
func updateGitignore(repoPath string) error {
	gitignorePath := filepath.Join(repoPath, ".gitignore")

	existing, err := os.ReadFile(gitignorePath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if strings.Contains(string(existing), ".hive/logs/") {
		return nil
	}

	f, err := os.OpenFile(gitignorePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	content := gitignoreEntries
	if len(existing) > 0 {
		content = "\n" + content
	}
	_, err = f.WriteString(content)
	return err
}

// seedMCPConfig writes .mcp.json at the project root unless one already
// exists. Worktrees get their own copy at provision time.
func seedMCPConfig(repoPath, endpoint string) error {
	path := filepath.Join(repoPath, ".mcp.json")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	cfg := map[string]map[string]map[string]string{
		"mcpServers": {
			"hive": {"type": "http", "url": endpoint},
		},
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
