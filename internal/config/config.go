package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the tool configuration loaded from YAML. Components receive the
// parts they need through their constructors; nothing reads flags or the
// process environment after startup.
type Config struct {
	// ClusterFile is the default cluster description consumed when
	// --cluster is not given.
	ClusterFile string `yaml:"cluster_file"`
	// SuiteDir is the root directory scanned for test suites.
	SuiteDir string `yaml:"suite_dir"`
	// LogRoot is where per-run log directories are created.
	LogRoot string `yaml:"log_root"`

	Backend struct {
		Default string `yaml:"default"`
		RESTAPI struct {
			Endpoint string `yaml:"endpoint"`
			Token    string `yaml:"token"`
		} `yaml:"restapi"`
		Virtcmd struct {
			Binary string `yaml:"binary"`
			URI    string `yaml:"uri"`
		} `yaml:"virtcmd"`
	} `yaml:"backend"`

	SSH struct {
		KeyPath    string `yaml:"key_path"`
		KnownHosts string `yaml:"known_hosts"`
	} `yaml:"ssh"`

	Deploy struct {
		Binary   string `yaml:"binary"`
		Playbook string `yaml:"playbook"`
	} `yaml:"deploy"`

	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`

	Defaults struct {
		User                 string `yaml:"user"`
		SSHPort              int    `yaml:"ssh_port"`
		Concurrency          int    `yaml:"concurrency"`
		ProbeAttempts        int    `yaml:"probe_attempts"`
		ProbeTimeoutSeconds  int    `yaml:"probe_timeout_seconds"`
		PowerTimeoutSeconds  int    `yaml:"power_timeout_seconds"`
		DeployTimeoutMinutes int    `yaml:"deploy_timeout_minutes"`
		TestTimeoutMinutes   int    `yaml:"test_timeout_minutes"`
	} `yaml:"defaults"`
}

// Load reads YAML configuration from a path. If path is empty, it resolves
// $XDG_CONFIG_HOME/clustertest/config.yaml or ~/.config/clustertest/config.yaml.
// A missing default file yields the built-in defaults rather than an error.
func Load(path string) (Config, error) {
	cfg := withDefaults(Config{})
	explicit := path != ""
	if path == "" {
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, _ := os.UserHomeDir()
			base = filepath.Join(home, ".config")
		}
		path = filepath.Join(base, "clustertest", "config.yaml")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg = withDefaults(cfg)

	// Merge credentials from secrets.env so tokens stay out of the YAML.
	secrets, _ := LoadSecretsEnv("")
	if v := os.Getenv("PROVISION_TOKEN"); v != "" {
		secrets["PROVISION_TOKEN"] = v
	}
	if t, ok := secrets["PROVISION_TOKEN"]; ok && t != "" {
		cfg.Backend.RESTAPI.Token = t
	}
	return cfg, nil
}

func withDefaults(cfg Config) Config {
	if cfg.ClusterFile == "" {
		cfg.ClusterFile = "cluster.yaml"
	}
	if cfg.SuiteDir == "" {
		cfg.SuiteDir = filepath.Join("tests", "suites")
	}
	if cfg.LogRoot == "" {
		home, _ := os.UserHomeDir()
		cfg.LogRoot = filepath.Join(home, ".local", "state", "clustertest", "runs")
	}
	if cfg.Backend.Default == "" {
		cfg.Backend.Default = "static"
	}
	if cfg.Backend.Virtcmd.Binary == "" {
		cfg.Backend.Virtcmd.Binary = "virsh"
	}
	if cfg.Backend.Virtcmd.URI == "" {
		cfg.Backend.Virtcmd.URI = "qemu:///system"
	}
	if cfg.SSH.KeyPath == "" {
		home, _ := os.UserHomeDir()
		cfg.SSH.KeyPath = filepath.Join(home, ".config", "clustertest", "ssh", "id_ed25519")
	}
	if cfg.SSH.KnownHosts == "" {
		home, _ := os.UserHomeDir()
		cfg.SSH.KnownHosts = filepath.Join(home, ".config", "clustertest", "ssh", "known_hosts")
	}
	if cfg.Deploy.Binary == "" {
		cfg.Deploy.Binary = "ansible-playbook"
	}
	if cfg.Deploy.Playbook == "" {
		cfg.Deploy.Playbook = "site.yml"
	}
	if cfg.Store.Path == "" {
		home, _ := os.UserHomeDir()
		cfg.Store.Path = filepath.Join(home, ".local", "state", "clustertest", "runs.db")
	}
	if cfg.Defaults.User == "" {
		cfg.Defaults.User = "admin"
	}
	if cfg.Defaults.SSHPort == 0 {
		cfg.Defaults.SSHPort = 22
	}
	if cfg.Defaults.Concurrency == 0 {
		cfg.Defaults.Concurrency = 16
	}
	if cfg.Defaults.ProbeAttempts == 0 {
		cfg.Defaults.ProbeAttempts = 20
	}
	if cfg.Defaults.ProbeTimeoutSeconds == 0 {
		cfg.Defaults.ProbeTimeoutSeconds = 300
	}
	if cfg.Defaults.PowerTimeoutSeconds == 0 {
		cfg.Defaults.PowerTimeoutSeconds = 600
	}
	if cfg.Defaults.DeployTimeoutMinutes == 0 {
		cfg.Defaults.DeployTimeoutMinutes = 30
	}
	if cfg.Defaults.TestTimeoutMinutes == 0 {
		cfg.Defaults.TestTimeoutMinutes = 60
	}
	return cfg
}

// ProbeTimeout returns the overall per-node connectivity timeout.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Defaults.ProbeTimeoutSeconds) * time.Second
}

// PowerTimeout returns how long to wait for the backend to report all VMs
// powered on.
func (c Config) PowerTimeout() time.Duration {
	return time.Duration(c.Defaults.PowerTimeoutSeconds) * time.Second
}

// DeployTimeout returns the overall configuration deployment timeout.
func (c Config) DeployTimeout() time.Duration {
	return time.Duration(c.Defaults.DeployTimeoutMinutes) * time.Minute
}

// TestTimeout returns the per-check execution timeout.
func (c Config) TestTimeout() time.Duration {
	return time.Duration(c.Defaults.TestTimeoutMinutes) * time.Minute
}
