package models

// DefaultMaxAgents caps concurrent agents per project when unset.
const DefaultMaxAgents = 5

// Project identifies one orchestrated repository.
type Project struct {
	// ID is the stable string identifier used to namespace coordination state.
	ID string `json:"id" yaml:"id"`
	// Name is the human-readable project name.
	Name string `json:"name" yaml:"name"`
	// Path is the absolute path to the git repository root.
	Path string `json:"path" yaml:"path"`
	// Description provides optional human-readable context.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// MaxAgents caps the number of concurrent agents for this project.
	MaxAgents int `json:"max_agents" yaml:"max_agents"`
}

// EffectiveMaxAgents returns the project cap, or DefaultMaxAgents when unset.
func (p *Project) EffectiveMaxAgents() int {
	if p.MaxAgents <= 0 {
		return DefaultMaxAgents
	}
	return p.MaxAgents
}
