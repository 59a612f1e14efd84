package config

import "time"

// Config represents the complete partforge configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	API     APIConfig     `yaml:"api,omitempty"`
	Engine  EngineConfig  `yaml:"engine,omitempty"`
	History HistoryConfig `yaml:"history,omitempty"`
	Library LibraryConfig `yaml:"library,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// APIConfig defines HTTP server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// EngineConfig defines how workspace runtimes are provisioned and how script
// runner subprocesses are bounded.
type EngineConfig struct {
	// Installer is the environment/package tool invoked for venv creation and
	// dependency syncs (uv-compatible CLI surface).
	Installer     string        `yaml:"installer"`
	PythonVersion string        `yaml:"python_version"`
	// BasePackage is installed into every fresh environment so the build
	// gateway is always importable.
	BasePackage string        `yaml:"base_package"`
	ExecTimeout time.Duration `yaml:"exec_timeout"`
	SyncTimeout time.Duration `yaml:"sync_timeout"`
}

// HistoryConfig defines the execution history database location.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// LibraryConfig defines part library settings.
type LibraryConfig struct {
	// DirName is the library directory name under a workspace root.
	DirName       string `yaml:"dir_name"`
	PreviewWidth  int    `yaml:"preview_width"`
	PreviewHeight int    `yaml:"preview_height"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "partforge",
			LogLevel: "info",
		},
		API: APIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8080",
		},
		Engine: EngineConfig{
			Installer:     "uv",
			PythonVersion: "3.11",
			BasePackage:   "cadquery",
			ExecTimeout:   120 * time.Second,
			SyncTimeout:   300 * time.Second,
		},
		History: HistoryConfig{
			Path: "./data/history.db",
		},
		Library: LibraryConfig{
			DirName:       "part_library",
			PreviewWidth:  150,
			PreviewHeight: 100,
		},
	}
}
