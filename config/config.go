package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kballard/go-shellquote"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "UNPACKBENCH"

const (
	StatsSourceCLI = "cli"
	StatsSourceAPI = "api"
)

type Config struct {
	LogLevel         string        `mapstructure:"log_level"`
	SampleInterval   time.Duration `mapstructure:"sample_interval"`
	SampleTimeout    time.Duration `mapstructure:"sample_timeout"`
	StartupDelay     time.Duration `mapstructure:"startup_delay"`
	StopTimeout      time.Duration `mapstructure:"stop_timeout"`
	UnpackTimeout    time.Duration `mapstructure:"unpack_timeout"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`
	PauseBetweenRuns time.Duration `mapstructure:"pause_between_runs"`
	StatsSource      string        `mapstructure:"stats_source"`
	LiveProgress     bool          `mapstructure:"live_progress"`
	MetricsAddr      string        `mapstructure:"metrics_addr"`
	CPULimit         string        `mapstructure:"cpu_limit"`
	MemoryLimit      string        `mapstructure:"memory_limit"`

	Ctr    CtrConfig    `mapstructure:"ctr"`
	SSH    SSHConfig    `mapstructure:"ssh"`
	Export ExportConfig `mapstructure:"export"`
}

type CtrConfig struct {
	Address     string `mapstructure:"address"`
	Namespace   string `mapstructure:"namespace"`
	Snapshotter string `mapstructure:"snapshotter"`
	PullArgs    string `mapstructure:"pull_args"` // shell-quoted extra `ctr image pull` arguments
}

// SSHConfig selects a remote target. Commands run locally when Host is empty.
type SSHConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	KeyFile    string `mapstructure:"key_file"`
	KnownHosts string `mapstructure:"known_hosts"`
}

type ExportConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	ResultsDir  string `mapstructure:"results_dir"`
	// read results_dir on the ssh host instead of locally
	Remote bool `mapstructure:"remote"`
}

// New returns a viper instance with every key defaulted and environment lookup enabled.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("log_level", "info")
	v.SetDefault("sample_interval", 100*time.Millisecond)
	v.SetDefault("sample_timeout", 5*time.Second)
	v.SetDefault("startup_delay", 500*time.Millisecond)
	v.SetDefault("stop_timeout", 2*time.Second)
	v.SetDefault("unpack_timeout", 300*time.Second)
	v.SetDefault("fetch_timeout", 600*time.Second)
	v.SetDefault("pause_between_runs", 2*time.Second)
	v.SetDefault("stats_source", StatsSourceCLI)
	v.SetDefault("live_progress", true)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("cpu_limit", "")
	v.SetDefault("memory_limit", "")
	v.SetDefault("ctr.address", "")
	v.SetDefault("ctr.namespace", "default")
	v.SetDefault("ctr.snapshotter", "")
	v.SetDefault("ctr.pull_args", "")
	v.SetDefault("ssh.host", "")
	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.user", "root")
	v.SetDefault("ssh.key_file", "")
	v.SetDefault("ssh.known_hosts", "")
	v.SetDefault("export.concurrency", 4)
	v.SetDefault("export.results_dir", "tmp/results")
	v.SetDefault("export.remote", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags lets command line flags override config keys. Flag names use dashes, e.g. --log-level for log_level.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var errs []error
	flags.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if key == "config" {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

// Load reads .env, then the config file if one is given, then decodes and validates the merged settings.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	if configFile != "" {
		v.SetConfigFile(configFile)
		err := v.ReadInConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
		slog.Debug("using config file", slog.String("path", v.ConfigFileUsed()))
	}

	cfg := &Config{}
	err := v.Unmarshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	err = cfg.Validate()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	for name, d := range map[string]time.Duration{
		"sample_interval": c.SampleInterval,
		"sample_timeout":  c.SampleTimeout,
		"stop_timeout":    c.StopTimeout,
		"unpack_timeout":  c.UnpackTimeout,
		"fetch_timeout":   c.FetchTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.StartupDelay < 0 {
		errs = append(errs, fmt.Errorf("startup_delay must not be negative, got %s", c.StartupDelay))
	}
	if c.PauseBetweenRuns < 0 {
		errs = append(errs, fmt.Errorf("pause_between_runs must not be negative, got %s", c.PauseBetweenRuns))
	}
	if c.StatsSource != StatsSourceCLI && c.StatsSource != StatsSourceAPI {
		errs = append(errs, fmt.Errorf("stats_source must be %q or %q, got %q", StatsSourceCLI, StatsSourceAPI, c.StatsSource))
	}
	if c.SSH.Port < 1 || c.SSH.Port > 65535 {
		errs = append(errs, fmt.Errorf("ssh.port out of range: %d", c.SSH.Port))
	}
	if c.Export.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("export.concurrency must be at least 1, got %d", c.Export.Concurrency))
	}
	if _, err := c.Ctr.ExtraPullArgs(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.LogLevel))
	if err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return level, nil
}

func (c CtrConfig) ExtraPullArgs() ([]string, error) {
	args, err := shellquote.Split(c.PullArgs)
	if err != nil {
		return nil, fmt.Errorf("can't parse ctr.pull_args: %w", err)
	}
	return args, nil
}
