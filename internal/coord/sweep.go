package coord

import (
	"context"
	"fmt"
	"time"

	"github.com/ShayCichocki/hive/pkg/models"
)

// DefaultSweepInterval is how often the liveness sweep runs.
const DefaultSweepInterval = 30 * time.Second

// SweepResult describes one liveness sweep pass.
type SweepResult struct {
	// Stale maps project id to sessions newly marked stale this pass.
	Stale map[string][]string
	// ReleasedLocks is the total number of locks released from stale sessions.
	ReleasedLocks int
}

// SweepOnce marks every active agent whose heartbeat expired as stale and
// releases its file locks. Todos, messages, and the agent record are kept
// until unregister_agent.
func (s *Store) SweepOnce() (SweepResult, error) {
	result := SweepResult{Stale: make(map[string][]string)}

	rows, err := s.db.Query(`SELECT project_id, session_name FROM agents WHERE status = ?`,
		string(models.AgentStatusActive))
	if err != nil {
		return result, fmt.Errorf("list active agents: %w", err)
	}

	type candidate struct {
		projectID string
		session   string
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.projectID, &c.session); err != nil {
			rows.Close()
			return result, fmt.Errorf("scan agent: %w", err)
		}
		if !s.Alive(c.projectID, c.session) {
			candidates = append(candidates, c)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return result, err
	}
	rows.Close()

	for _, c := range candidates {
		_, err := s.db.Exec(`
			UPDATE agents SET status = ? WHERE project_id = ? AND session_name = ? AND status = ?
		`, string(models.AgentStatusStale), c.projectID, c.session, string(models.AgentStatusActive))
		if err != nil {
			return result, fmt.Errorf("mark %s stale: %w", c.session, err)
		}
		result.ReleasedLocks += s.ReleaseAllLocks(c.projectID, c.session)
		result.Stale[c.projectID] = append(result.Stale[c.projectID], c.session)
	}

	return result, nil
}

// RunSweeper runs the liveness sweep on an interval until ctx is cancelled.
// onStale, if non-nil, is invoked per project with the sessions newly marked
// stale in a pass.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration, onStale func(projectID string, sessions []string)) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := s.SweepOnce()
			if err != nil {
				s.logger.Printf("liveness sweep: %v", err)
				continue
			}
			for projectID, sessions := range result.Stale {
				s.logger.Printf("liveness sweep: %d stale session(s) in %s", len(sessions), projectID)
				if onStale != nil {
					onStale(projectID, sessions)
				}
			}
		}
	}
}
