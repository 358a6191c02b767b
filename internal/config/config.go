package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/urbanclear/bringup/internal/env"
	"github.com/urbanclear/bringup/internal/gate"
	"github.com/urbanclear/bringup/internal/health"
	"github.com/urbanclear/bringup/internal/logger"
	"github.com/urbanclear/bringup/internal/process"
	"github.com/urbanclear/bringup/internal/report"
)

// EnvPrefix is prepended to every environment override, e.g.
// BRINGUP_PROBE_BASE_URL overrides probe.base_url.
const EnvPrefix = "BRINGUP"

// Config is the top-level TOML structure.
type Config struct {
	Runtime       RuntimeConfig `mapstructure:"runtime"`
	Prerequisites []string      `mapstructure:"prerequisites"`
	Service       ServiceConfig `mapstructure:"service"`
	Probe         ProbeConfig   `mapstructure:"probe"`
	Links         []report.Link `mapstructure:"links"`
	Log           logger.Config `mapstructure:"log"`
	Status        StatusConfig  `mapstructure:"status"`
	History       HistoryConfig `mapstructure:"history"`
}

type RuntimeConfig struct {
	Kind         string        `mapstructure:"kind"` // docker or cli
	DockerBin    string        `mapstructure:"docker_bin"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	Hint         string        `mapstructure:"hint"`
}

type ServiceConfig struct {
	Name          string            `mapstructure:"name"`
	Command       string            `mapstructure:"command"`
	Args          []string          `mapstructure:"args"`
	WorkDir       string            `mapstructure:"work_dir"`
	Env           []string          `mapstructure:"env"`
	EnvFiles      []string          `mapstructure:"env_files"`
	PIDFile       string            `mapstructure:"pid_file"`
	GracePeriod   time.Duration     `mapstructure:"grace_period"`
	StopTimeout   time.Duration     `mapstructure:"stop_timeout"`
	KillOnTimeout bool              `mapstructure:"kill_on_timeout"`
	Log           logger.FileConfig `mapstructure:"log"`
}

type ProbeConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Paths   []string      `mapstructure:"paths"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type StatusConfig struct {
	Listen string `mapstructure:"listen"` // empty disables the status server
}

type HistoryConfig struct {
	DSNs []string `mapstructure:"dsns"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("runtime.kind", gate.KindDocker)
	v.SetDefault("runtime.docker_bin", "docker")
	v.SetDefault("runtime.query_timeout", gate.DefaultQueryTimeout)
	v.SetDefault("runtime.hint", "Run 'make start' to bring up the infrastructure containers first")

	v.SetDefault("prerequisites", []string{
		"urbanclear_postgres",
		"urbanclear_redis",
		"urbanclear_prometheus",
		"urbanclear_grafana",
	})

	v.SetDefault("service.name", "urbanclear-api")
	v.SetDefault("service.command", "")
	v.SetDefault("service.args", []string{
		"python", "-m", "uvicorn", "api.main:app",
		"--host", "0.0.0.0", "--port", "8000", "--reload",
	})
	v.SetDefault("service.work_dir", "src")
	v.SetDefault("service.env", []string{})
	v.SetDefault("service.env_files", []string{})
	v.SetDefault("service.pid_file", "")
	v.SetDefault("service.grace_period", process.DefaultGracePeriod)
	v.SetDefault("service.stop_timeout", process.DefaultStopTimeout)
	v.SetDefault("service.kill_on_timeout", true)
	v.SetDefault("service.log.dir", "")

	v.SetDefault("probe.base_url", "http://localhost:8000")
	v.SetDefault("probe.paths", []string{
		"/health",
		"/api/v1/traffic/current",
		"/api/v1/analytics/summary",
		"/api/v1/demo/rush-hour-simulation",
	})
	v.SetDefault("probe.timeout", health.DefaultTimeout)

	v.SetDefault("links", []map[string]any{
		{"name": "Dashboard", "url": "http://localhost:8501"},
		{"name": "API docs", "url": "http://localhost:8000/docs"},
		{"name": "Prometheus", "url": "http://localhost:9090"},
		{"name": "Grafana", "url": "http://localhost:3000"},
		{"name": "Metrics", "url": "http://localhost:8001/metrics"},
		{"name": "Kafka UI", "url": "http://localhost:8080"},
	})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", true)
	v.SetDefault("log.file.path", "")

	v.SetDefault("status.listen", "")
	v.SetDefault("history.dsns", []string{})
}

// Load reads path (optional, TOML) on top of the built-in defaults and
// applies BRINGUP_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without reading any file or
// environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Runtime.Kind) {
	case gate.KindDocker, gate.KindCLI:
	default:
		errs = append(errs, fmt.Errorf("runtime.kind must be %q or %q, got %q", gate.KindDocker, gate.KindCLI, c.Runtime.Kind))
	}
	if c.Runtime.QueryTimeout < 0 {
		errs = append(errs, errors.New("runtime.query_timeout cannot be negative"))
	}
	for i, p := range c.Prerequisites {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("prerequisites[%d] is empty", i))
		}
	}
	if err := c.ServiceSpec().Validate(); err != nil {
		errs = append(errs, err)
	}
	if u, err := url.Parse(c.Probe.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("probe.base_url %q is not an absolute URL", c.Probe.BaseURL))
	}
	if c.Probe.Timeout < 0 {
		errs = append(errs, errors.New("probe.timeout cannot be negative"))
	}
	for i, l := range c.Links {
		if l.Name == "" || l.URL == "" {
			errs = append(errs, fmt.Errorf("links[%d] requires name and url", i))
		}
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ServiceSpec converts the [service] section into a process.Spec.
func (c *Config) ServiceSpec() process.Spec {
	s := c.Service
	return process.Spec{
		Name:          s.Name,
		Command:       s.Command,
		Args:          s.Args,
		WorkDir:       s.WorkDir,
		Env:           s.Env,
		PIDFile:       s.PIDFile,
		GracePeriod:   s.GracePeriod,
		StopTimeout:   s.StopTimeout,
		KillOnTimeout: s.KillOnTimeout,
		Log:           s.Log,
	}
}

// ServiceEnv returns the base environment for the child: the OS environment
// overlaid with service.env_files in order. service.env is applied per launch.
func (c *Config) ServiceEnv() (*env.Env, error) {
	return env.New().WithFiles(c.Service.EnvFiles...)
}
