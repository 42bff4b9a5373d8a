package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	appDirName = ".flowops"
	homeEnvVar = "FLOWOPS_HOME"
)

// DataDir returns the base data directory. FLOWOPS_HOME overrides ~/.flowops.
func DataDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv(homeEnvVar)); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, appDirName), nil
}

// CoreConfigPath returns the path to config.toml.
func CoreConfigPath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "config.toml"), nil
}

// DefaultStorePath returns where the run database lives unless configured.
func DefaultStorePath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "flowops.db"), nil
}
