package config

import (
	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/mirra-dev/mirra/pkg/logger"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logger    logger.Config   `yaml:"logger"`
	Store     StoreConfig     `yaml:"store"`
	Uploader  UploaderConfig  `yaml:"uploader"`
	Hosts     HostsConfig     `yaml:"hosts"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type StoreConfig struct {
	// CatalogPath is the JSON catalog file external readers consume.
	CatalogPath    string `yaml:"catalog_path"`
	QuarantinePath string `yaml:"quarantine_path"`
}

type UploaderConfig struct {
	// MaxWorkers caps the concurrent provider fan-out width.
	MaxWorkers int `yaml:"max_workers"`
	// PerHostTimeout bounds a single provider call, e.g. "10m".
	PerHostTimeout string `yaml:"per_host_timeout"`
	MaxAttempts    int    `yaml:"max_attempts"`
}

type HostsConfig struct {
	Streamtape StreamtapeConfig `yaml:"streamtape"`
	Doodstream DoodstreamConfig `yaml:"doodstream"`
	Filemoon   FilemoonConfig   `yaml:"filemoon"`
}

type StreamtapeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Login   string `yaml:"login"`
	Key     string `yaml:"key"`
	Folder  string `yaml:"folder"`
	APIBase string `yaml:"api_base"`
}

type DoodstreamConfig struct {
	Enabled bool   `yaml:"enabled"`
	Key     string `yaml:"key"`
	Folder  string `yaml:"folder"`
	APIBase string `yaml:"api_base"`
}

type FilemoonConfig struct {
	Enabled bool   `yaml:"enabled"`
	Key     string `yaml:"key"`
	Folder  string `yaml:"folder"`
	APIBase string `yaml:"api_base"`
}

type SchedulerConfig struct {
	ReconcileInterval string `yaml:"reconcile_interval"`
	Enabled           bool   `yaml:"enabled"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	// Set default values
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5661
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Store.CatalogPath == "" {
		cfg.Store.CatalogPath = "data/catalog.json"
	}
	if cfg.Store.QuarantinePath == "" {
		cfg.Store.QuarantinePath = "data/quarantine.json"
	}
	if cfg.Uploader.MaxWorkers == 0 {
		cfg.Uploader.MaxWorkers = 8
	}
	if cfg.Uploader.PerHostTimeout == "" {
		cfg.Uploader.PerHostTimeout = "10m"
	}
	if cfg.Uploader.MaxAttempts == 0 {
		cfg.Uploader.MaxAttempts = 3
	}
	if cfg.Scheduler.ReconcileInterval == "" {
		cfg.Scheduler.ReconcileInterval = "30m"
	}

	return cfg, nil
}
