package agent

// Config describes one agent of the team. How configs are authored and stored
// is outside this package; the registry only looks them up.
type Config struct {
	ID           string            `yaml:"id" json:"id"`
	Name         string            `yaml:"name,omitempty" json:"name,omitempty"`
	Role         string            `yaml:"role,omitempty" json:"role,omitempty"`
	Type         string            `yaml:"type" json:"type"`
	Model        string            `yaml:"model,omitempty" json:"model,omitempty"`
	SystemPrompt string            `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	Command      string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args         []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env          map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Capabilities []string          `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
}

// DisplayName returns Name, falling back to ID
func (c Config) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}
