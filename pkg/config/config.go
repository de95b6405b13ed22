// Package config loads tool configuration from the environment and the
// optional team config file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the runtime settings of the tool.
type Config struct {
	CacheDir       string
	Workers        int
	TimeoutMinutes int
	TeamConfigFile string
}

// Load reads configuration from an optional .env file and environment
// variables.
func Load() (*Config, error) {
	// Load .env if present; plain environment variables otherwise.
	_ = godotenv.Load()

	return &Config{
		CacheDir:       getEnv("PRCACHE_DIR", ".github_cache"),
		Workers:        getEnvAsInt("PRCACHE_WORKERS", 4),
		TimeoutMinutes: getEnvAsInt("PRCACHE_TIMEOUT_MINUTES", 30),
		TeamConfigFile: getEnv("PRCACHE_TEAM_CONFIG", "team_config.json"),
	}, nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as integer or returns a
// default value.
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// TeamConfig is the parsed team config file: the team member handles
// used for filtering and the repositories to sync.
type TeamConfig struct {
	Team               []string `json:"team"`
	GithubRepositories []string `json:"github_repositories"`
}

// LoadTeamConfig parses a team config file.
func LoadTeamConfig(path string) (*TeamConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read team config %s: %w", path, err)
	}

	var tc TeamConfig
	if err := json.Unmarshal(data, &tc); err != nil {
		return nil, fmt.Errorf("failed to parse team config %s: %w", path, err)
	}
	if len(tc.Team) == 0 {
		return nil, fmt.Errorf("invalid team config %s: no team members", path)
	}
	return &tc, nil
}
