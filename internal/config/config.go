package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Environment string `json:"environment"`
	Gateway     struct {
		Host    string `json:"host"`
		WSPort  int    `json:"wsPort"`
		TCPPort int    `json:"tcpPort"`
		APIPort int    `json:"apiPort"`
	} `json:"gateway"`
	MongoDB struct {
		URI      string `json:"uri"`
		Database string `json:"database"`
	} `json:"mongodb"`
	Redis struct {
		URL string `json:"url"`
	} `json:"redis"`
	Frontend struct {
		URL string `json:"url"`
	} `json:"frontend"`
	JWT struct {
		Secret string `json:"secret"`
		TTL    int    `json:"ttl"` // in minutes
	} `json:"jwt"`
	Arena struct {
		AgentTimeoutSeconds  int    `json:"agentTimeoutSeconds"`
		HeartbeatInterval    int    `json:"heartbeatInterval"`   // executor heartbeat, seconds
		StaleThreshold       int    `json:"staleThreshold"`      // executor staleness, seconds
		MatchesPerExecutor   int    `json:"matchesPerExecutor"`  // capacity contributed per worker
		FallbackCapacity     int    `json:"fallbackCapacity"`    // used when the registry is empty or unreachable
		PerLocalCap          int    `json:"perLocalCap"`         // concurrent matches per local agent
		MaxConnectionsTotal  int    `json:"maxConnectionsTotal"` // gateway session ceiling
		GameTimeBudget       int    `json:"gameTimeBudget"`      // match wall clock, seconds
		TournamentStart      string `json:"tournamentStart"`     // RFC 3339; empty disables tournament mode
		ExecutorConcurrency  int    `json:"executorConcurrency"` // match-runner goroutines per worker
	} `json:"arena"`
}

func Load(env string) (*Config, error) {
	configDir := os.Getenv("CONFIG_DIR")
	if configDir == "" {
		configDir = "configs"
	}

	filename := fmt.Sprintf("config.%s.json", env)
	configPath := filepath.Join(configDir, filename)

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	// Replace environment variables in the config
	configStr := expandEnvVars(string(data))

	var cfg Config
	if err := json.Unmarshal([]byte(configStr), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Environment = env
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	a := &c.Arena
	if a.AgentTimeoutSeconds == 0 {
		a.AgentTimeoutSeconds = 5
	}
	if a.HeartbeatInterval == 0 {
		a.HeartbeatInterval = 10
	}
	if a.StaleThreshold == 0 {
		a.StaleThreshold = 30
	}
	if a.MatchesPerExecutor == 0 {
		a.MatchesPerExecutor = 2
	}
	if a.FallbackCapacity == 0 {
		a.FallbackCapacity = 8
	}
	if a.PerLocalCap == 0 {
		a.PerLocalCap = 4
	}
	if a.MaxConnectionsTotal == 0 {
		a.MaxConnectionsTotal = 1000
	}
	if a.GameTimeBudget == 0 {
		a.GameTimeBudget = 300
	}
	if a.ExecutorConcurrency == 0 {
		a.ExecutorConcurrency = 2
	}
}

// AgentTimeout is the per-move budget granted to an agent.
func (c *Config) AgentTimeout() time.Duration {
	return time.Duration(c.Arena.AgentTimeoutSeconds) * time.Second
}

// AuthTimeout bounds how long an unauthenticated session may hold a socket.
func (c *Config) AuthTimeout() time.Duration {
	return 3 * c.AgentTimeout()
}

// HeartbeatTimeout is the session staleness cutoff for connected agents.
func (c *Config) HeartbeatTimeout() time.Duration {
	return 5 * c.AgentTimeout()
}

// MoveTimeout is the server-side wait for a remote move: the agent's budget
// plus dispatch slack for bus and network hops.
func (c *Config) MoveTimeout() time.Duration {
	return c.AgentTimeout() + 5*time.Second
}

func (c *Config) GameBudget() time.Duration {
	return time.Duration(c.Arena.GameTimeBudget) * time.Second
}

func (c *Config) StaleThreshold() time.Duration {
	return time.Duration(c.Arena.StaleThreshold) * time.Second
}

// TournamentStart parses the configured tournament activation time. The zero
// time (and a parse failure) means tournament mode never activates.
func (c *Config) TournamentStart() time.Time {
	if c.Arena.TournamentStart == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, c.Arena.TournamentStart)
	if err != nil {
		return time.Time{}
	}
	return t
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}

func GetEnv() string {
	env := os.Getenv("ARENA_ENV")
	if env == "" {
		return "dev"
	}
	return env
}
