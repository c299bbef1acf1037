package service

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/teemow/inboxpilot/internal/backends"
	"github.com/teemow/inboxpilot/internal/workflow"
)

// Defaults for Config.
const (
	DefaultRefreshSchedule  = "@every 10m"
	DefaultRefreshQueueSize = 128
	DefaultActiveUserWindow = 24 * time.Hour
)

// Config configures an Engine.
type Config struct {
	// Servers lists the deployment's tool providers in priority order.
	Servers []backends.ServerConfig `yaml:"providers" validate:"required,min=1,dive"`

	// CacheTTL is how long a user's tool clients stay cached.
	CacheTTL time.Duration `yaml:"cacheTTL" validate:"gte=0"`

	// RefreshSchedule is the cron spec of the background refresh sweep.
	// "off" disables the sweep.
	RefreshSchedule string `yaml:"refreshSchedule"`

	RefreshQueueSize int `yaml:"refreshQueueSize" validate:"gte=0"`

	// ActiveUserWindow is how long after their last request users stay in
	// the refresh sweep.
	ActiveUserWindow time.Duration `yaml:"activeUserWindow" validate:"gte=0"`

	// PolicyFile, when set, is a tool policy file that is watched for
	// changes.
	PolicyFile string `yaml:"policyFile"`

	Workflow WorkflowConfig `yaml:"workflow"`
}

// WorkflowConfig holds the tunable limits of workflow runs.
type WorkflowConfig struct {
	MaxIterations  int           `yaml:"maxIterations" validate:"gte=0"`
	MaxToolCalls   int           `yaml:"maxToolCalls" validate:"gte=0"`
	MaxConcurrency int           `yaml:"maxConcurrency" validate:"gte=0"`
	ToolTimeout    time.Duration `yaml:"toolTimeout" validate:"gte=0"`
	CheckpointTTL  time.Duration `yaml:"checkpointTTL" validate:"gte=0"`

	// Sequential disables parallel execution of read-only tools.
	Sequential bool `yaml:"sequential"`
}

// DefaultConfig returns a configuration with the built-in Google and memory
// providers.
func DefaultConfig() Config {
	return Config{
		Servers: []backends.ServerConfig{
			{Name: "google", Kind: backends.KindGoogle, Auth: backends.AuthOAuth},
			{Name: "memory", Kind: backends.KindMemory, Auth: backends.AuthNone},
		},
		RefreshSchedule:  DefaultRefreshSchedule,
		RefreshQueueSize: DefaultRefreshQueueSize,
		ActiveUserWindow: DefaultActiveUserWindow,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	seen := make(map[string]bool, len(c.Servers))
	for _, s := range c.Servers {
		if seen[s.Name] {
			return fmt.Errorf("invalid configuration: provider %q configured twice", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// ParseConfig decodes a YAML configuration on top of the defaults and
// validates it. A document without providers keeps the default ones.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	defaults := cfg.Servers
	cfg.Servers = nil
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if len(cfg.Servers) == 0 {
		cfg.Servers = defaults
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read configuration %s: %w", filename, err)
	}
	return ParseConfig(data)
}

// controllerConfig maps the workflow limits onto the controller defaults.
func (c WorkflowConfig) controllerConfig() workflow.Config {
	cfg := workflow.DefaultConfig()
	if c.MaxIterations > 0 {
		cfg.MaxIterations = c.MaxIterations
	}
	if c.MaxToolCalls > 0 {
		cfg.MaxToolCalls = c.MaxToolCalls
	}
	if c.MaxConcurrency > 0 {
		cfg.Executor.MaxConcurrency = c.MaxConcurrency
	}
	if c.ToolTimeout > 0 {
		cfg.Executor.PerCallTimeout = c.ToolTimeout
	}
	if c.CheckpointTTL > 0 {
		cfg.CheckpointTTL = c.CheckpointTTL
	}
	cfg.Executor.Enabled = !c.Sequential
	return cfg
}
