package client

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kubev2v/doctrack/internal/util"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/client-go/util/homedir"
	"sigs.k8s.io/yaml"
)

const (
	// TestRootDirEnvKey is the environment variable key used to set the file system root when testing.
	TestRootDirEnvKey = "DOCTRACK_TEST_ROOT_DIR"

	defaultTimeout = 30 * time.Second
)

// Config holds the information needed to connect to the document processing service.
type Config struct {
	Service   Service   `json:"service"`
	Endpoints Endpoints `json:"endpoints,omitempty"`
	// Timeout bounds every request made by the client.
	Timeout util.Duration `json:"timeout,omitempty"`

	// baseDir is used to resolve relative paths
	// If baseDir is empty, the current working directory is used.
	baseDir string `json:"-"`
	// TestRootDir is the root directory for test files.
	testRootDir string `json:"-"`
}

// Service contains information how to connect to the document processing service.
type Service struct {
	// Server is the base URL of the service API.
	Server string `json:"server"`
	UI     string `json:"ui,omitempty"`
}

// Endpoints are the path templates of the job service. {id} is replaced by the escaped job id.
type Endpoints struct {
	Upload       string `json:"upload,omitempty"`
	Status       string `json:"status,omitempty"`
	Cancel       string `json:"cancel,omitempty"`
	Retry        string `json:"retry,omitempty"`
	List         string `json:"list,omitempty"`
	Capabilities string `json:"capabilities,omitempty"`
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		Upload:       "/upload",
		Status:       "/status/{id}",
		Cancel:       "/jobs/{id}/cancel",
		Retry:        "/jobs/{id}/retry",
		List:         "/jobs",
		Capabilities: "/contract/job-status",
	}
}

func (e Endpoints) withDefaults() Endpoints {
	d := DefaultEndpoints()
	pick := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}
	return Endpoints{
		Upload:       pick(e.Upload, d.Upload),
		Status:       pick(e.Status, d.Status),
		Cancel:       pick(e.Cancel, d.Cancel),
		Retry:        pick(e.Retry, d.Retry),
		List:         pick(e.List, d.List),
		Capabilities: pick(e.Capabilities, d.Capabilities),
	}
}

func (c *Config) Equal(c2 *Config) bool {
	if c == c2 {
		return true
	}
	if c == nil || c2 == nil {
		return false
	}
	return c.Service.Equal(&c2.Service) && c.Endpoints == c2.Endpoints
}

func (s *Service) Equal(s2 *Service) bool {
	if s == s2 {
		return true
	}
	if s == nil || s2 == nil {
		return false
	}
	return s.Server == s2.Server
}

func (c *Config) DeepCopy() *Config {
	if c == nil {
		return nil
	}
	c2 := *c
	return &c2
}

func (c *Config) SetBaseDir(baseDir string) {
	c.baseDir = baseDir
}

func NewDefault() *Config {
	c := &Config{
		Endpoints: DefaultEndpoints(),
		Timeout:   util.Duration{Duration: defaultTimeout},
	}

	if value := os.Getenv(TestRootDirEnvKey); value != "" {
		c.testRootDir = filepath.Clean(value)
	}

	return c
}

// DefaultClientConfigPath returns the default path to the client config file.
func DefaultClientConfigPath() string {
	return filepath.Join(homedir.HomeDir(), ".doctrack", "client.yaml")
}

// DataDir returns the directory holding the client config, used for local state.
func (c *Config) DataDir() string {
	dir := c.baseDir
	if dir == "" {
		dir = filepath.Dir(DefaultClientConfigPath())
	}
	if c.testRootDir != "" {
		return filepath.Join(c.testRootDir, dir)
	}
	return dir
}

func ParseConfigFile(filename string) (*Config, error) {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	config := NewDefault()
	if err := yaml.Unmarshal(contents, config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	config.SetBaseDir(filepath.Dir(filename))
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// WriteConfig writes a client config file using the given parameters.
func WriteConfig(filename string, server string) error {
	config := NewDefault()
	config.Service = Service{
		Server: server,
	}

	return config.Persist(filename)
}

func (c *Config) Persist(filename string) error {
	contents, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0700); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.WriteFile(filename, contents, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	validationErrors := make([]error, 0)
	validationErrors = append(validationErrors, validateService(c.Service)...)
	validationErrors = append(validationErrors, validateEndpoints(c.Endpoints.withDefaults())...)
	if c.Timeout.Duration < 0 {
		validationErrors = append(validationErrors, fmt.Errorf("timeout must not be negative"))
	}
	if len(validationErrors) > 0 {
		return fmt.Errorf("invalid configuration: %v", utilerrors.NewAggregate(validationErrors).Error())
	}
	return nil
}

func validateService(service Service) []error {
	validationErrors := make([]error, 0)
	// Make sure the server is specified and well-formed
	if len(service.Server) == 0 {
		validationErrors = append(validationErrors, fmt.Errorf("no server found"))
	} else {
		u, err := url.Parse(service.Server)
		if err != nil {
			validationErrors = append(validationErrors, fmt.Errorf("invalid server format %q: %w", service.Server, err))
		}
		if err == nil && len(u.Hostname()) == 0 {
			validationErrors = append(validationErrors, fmt.Errorf("invalid server format %q: no hostname", service.Server))
		}
	}
	return validationErrors
}

func validateEndpoints(e Endpoints) []error {
	validationErrors := make([]error, 0)
	for name, path := range map[string]string{"status": e.Status, "cancel": e.Cancel, "retry": e.Retry} {
		if !strings.Contains(path, "{id}") {
			validationErrors = append(validationErrors, fmt.Errorf("%s endpoint %q has no {id} placeholder", name, path))
		}
	}
	return validationErrors
}
