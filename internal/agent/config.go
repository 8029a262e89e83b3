package agent

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/kubev2v/doctrack/internal/agent/fileio"
	"github.com/kubev2v/doctrack/internal/client"
	"github.com/kubev2v/doctrack/internal/poller"
	"github.com/kubev2v/doctrack/internal/progress"
	"github.com/kubev2v/doctrack/internal/util"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"sigs.k8s.io/yaml"
)

const (
	// DefaultConfigDir is the default directory where the agent's configuration is stored
	DefaultConfigDir = "/etc/doctrack"
	// DefaultConfigFile is the default path to the agent's configuration file
	DefaultConfigFile = DefaultConfigDir + "/config.yaml"
	// DefaultDataDir is the default directory where the agent's data is stored
	DefaultDataDir = "/var/lib/doctrack"
	// DefaultAddress is the default listen address of the local REST surface
	DefaultAddress = "127.0.0.1:3333"

	// name of the sqlite file holding the recovery record and the cached credential
	DatabaseFile = "doctrack.db"
)

type Config struct {
	// ConfigDir is the directory where the agent's configuration is stored
	ConfigDir string `json:"config-dir"`
	// DataDir is the directory where the agent's data is stored
	DataDir string `json:"data-dir"`
	// WwwDir is an optional directory served as a static renderer
	WwwDir string `json:"www-dir,omitempty"`
	// Address is the listen address of the local REST surface
	Address string `json:"address,omitempty"`
	// AllowedOrigins are the CORS origins allowed to call the REST surface
	AllowedOrigins []string `json:"allowed-origins,omitempty"`
	// SelfSignedTLS serves the REST surface over TLS with a generated certificate
	// when no certificate is found in ConfigDir.
	SelfSignedTLS bool `json:"self-signed-tls,omitempty"`

	// JobService is the client configuration for connecting to the document processing service
	JobService JobService `json:"job-service,omitempty"`

	// Poll holds the scheduler cadence
	Poll PollConfig `json:"poll,omitempty"`

	// Language selects the language of the humanized stage text
	Language string `json:"language,omitempty"`
	// LogLevel is the level of logging. can be: "debug", "info", "warn", "error"
	LogLevel string `json:"log-level,omitempty"`

	reader *fileio.Reader
}

type JobService struct {
	client.Config
}

func (s *JobService) Equal(s2 *JobService) bool {
	if s == s2 {
		return true
	}
	return s.Config.Equal(&s2.Config)
}

// PollConfig mirrors poller.Config in a file friendly form. Zero values keep the defaults.
type PollConfig struct {
	Interval       util.Duration `json:"interval,omitempty"`
	HiddenInterval util.Duration `json:"hidden-interval,omitempty"`
	RetryBackoff   util.Duration `json:"retry-backoff,omitempty"`
	ResumeDelay    util.Duration `json:"resume-delay,omitempty"`
	RequestTimeout util.Duration `json:"request-timeout,omitempty"`
	Jitter         util.Duration `json:"jitter,omitempty"`
	Dwell          util.Duration `json:"dwell,omitempty"`
	DwellThreshold int           `json:"dwell-threshold,omitempty"`
}

func NewDefaultPollConfig() PollConfig {
	d := poller.DefaultConfig()
	return PollConfig{
		Interval:       util.Duration{Duration: d.Interval},
		HiddenInterval: util.Duration{Duration: d.HiddenInterval},
		RetryBackoff:   util.Duration{Duration: d.RetryBackoff},
		ResumeDelay:    util.Duration{Duration: d.ResumeDelay},
		RequestTimeout: util.Duration{Duration: d.RequestTimeout},
		Jitter:         util.Duration{Duration: d.Jitter},
		Dwell:          util.Duration{Duration: d.Dwell},
		DwellThreshold: d.DwellThreshold,
	}
}

// SchedulerConfig converts the file configuration into the scheduler's.
func (p PollConfig) SchedulerConfig() poller.Config {
	return poller.Config{
		Interval:       p.Interval.Duration,
		HiddenInterval: p.HiddenInterval.Duration,
		RetryBackoff:   p.RetryBackoff.Duration,
		ResumeDelay:    p.ResumeDelay.Duration,
		RequestTimeout: p.RequestTimeout.Duration,
		Jitter:         p.Jitter.Duration,
		Dwell:          p.Dwell.Duration,
		DwellThreshold: p.DwellThreshold,
	}
}

func (p PollConfig) validate() []error {
	errs := []error{}
	for name, d := range map[string]time.Duration{
		"interval":        p.Interval.Duration,
		"hidden-interval": p.HiddenInterval.Duration,
		"retry-backoff":   p.RetryBackoff.Duration,
		"resume-delay":    p.ResumeDelay.Duration,
		"request-timeout": p.RequestTimeout.Duration,
		"jitter":          p.Jitter.Duration,
		"dwell":           p.Dwell.Duration,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("poll.%s must not be negative", name))
		}
	}
	if p.DwellThreshold < 0 || p.DwellThreshold > 100 {
		errs = append(errs, fmt.Errorf("poll.dwell-threshold must be between 0 and 100"))
	}
	return errs
}

func NewDefault() *Config {
	c := &Config{
		ConfigDir:  DefaultConfigDir,
		DataDir:    DefaultDataDir,
		Address:    DefaultAddress,
		JobService: JobService{Config: *client.NewDefault()},
		Poll:       NewDefaultPollConfig(),
		Language:   progress.DefaultLanguage.String(),
		LogLevel:   "info",
		reader:     fileio.NewReader(),
	}

	return c
}

// Validate checks that the required fields are set and that the paths exist.
func (cfg *Config) Validate() error {
	if err := cfg.JobService.Validate(); err != nil {
		return err
	}

	validationErrors := cfg.Poll.validate()

	requiredFields := []struct {
		value     string
		name      string
		checkPath bool
	}{
		{cfg.ConfigDir, "config-dir", true},
		{cfg.DataDir, "data-dir", true},
		{cfg.Address, "address", false},
	}

	for _, field := range requiredFields {
		if field.value == "" {
			validationErrors = append(validationErrors, fmt.Errorf("%s is required", field.name))
			continue
		}
		if field.checkPath {
			if err := cfg.reader.CheckPathExists(field.value); err != nil {
				validationErrors = append(validationErrors, fmt.Errorf("%s: %w", field.name, err))
			}
		}
	}

	return utilerrors.NewAggregate(validationErrors)
}

// ParseConfigFile reads the config file and unmarshals it into the Config struct
func (cfg *Config) ParseConfigFile(cfgFile string) error {
	contents, err := cfg.reader.ReadFile(cfgFile)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return fmt.Errorf("unmarshalling config file: %w", err)
	}
	cfg.JobService.Config.SetBaseDir(filepath.Dir(cfgFile))
	return nil
}

// DatabasePath is the sqlite file used when no database name is configured.
func (cfg *Config) DatabasePath() string {
	return filepath.Join(cfg.DataDir, DatabaseFile)
}

func (cfg *Config) String() string {
	contents, err := json.Marshal(cfg)
	if err != nil {
		return "<error>"
	}
	return string(contents)
}
