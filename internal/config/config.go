package config

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MuchTitan/go-log-shipper/internal/credentials"
	"github.com/MuchTitan/go-log-shipper/internal/engine"
	"github.com/MuchTitan/go-log-shipper/internal/filter"
	"github.com/MuchTitan/go-log-shipper/internal/offset"
	"github.com/MuchTitan/go-log-shipper/internal/output"
	outputcounter "github.com/MuchTitan/go-log-shipper/internal/output/counter"
	outputgelf "github.com/MuchTitan/go-log-shipper/internal/output/gelf"
	outputsplunk "github.com/MuchTitan/go-log-shipper/internal/output/splunk"
	outputstdout "github.com/MuchTitan/go-log-shipper/internal/output/stdout"
	"github.com/MuchTitan/go-log-shipper/internal/tail"
	"github.com/sirupsen/logrus"

	"gopkg.in/yaml.v3"
)

// ErrConfig marks a configuration the shipper cannot start with.
var ErrConfig = errors.New("invalid configuration")

const (
	DefaultUploadTimeoutMs = 30000
	DefaultRetentionDays   = 30
)

// Config represents the complete configuration
type Config struct {
	InvokeUrl        string       `yaml:"InvokeUrl"`
	Region           string       `yaml:"Region"`
	ServiceName      string       `yaml:"ServiceName"`
	Description      string       `yaml:"Description"`
	LogsPath         string       `yaml:"LogsPath"`
	LogTimerInterval Milliseconds `yaml:"LogTimerInterval"`
	Profile          string       `yaml:"Profile"`
	Prefix           string       `yaml:"Prefix"`

	Suffixes         []string       `yaml:"Suffixes"`
	Include          []string       `yaml:"Include"`
	TokenFile        string         `yaml:"TokenFile"`
	OffsetStore      string         `yaml:"OffsetStore"`
	UploadTimeout    Milliseconds   `yaml:"UploadTimeout"`
	MaxChunkBytes    int64          `yaml:"MaxChunkBytes"`
	Compress         string         `yaml:"Compress"`
	PermanentFailure string         `yaml:"PermanentFailure"`
	RetentionDays    *int           `yaml:"RetentionDays"`
	CredentialsFile  string         `yaml:"CredentialsFile"`
	Output           map[string]any `yaml:"Output"`
	Filter           map[string]any `yaml:"Filter"`
	System           SystemConfig   `yaml:"System"`

	// PortingAssistantMetrics is the desktop app layout, where the upload keys sit in a nested
	// block next to the app's own settings. It is read only when InvokeUrl is not set at the top.
	PortingAssistantMetrics yaml.Node `yaml:"PortingAssistantMetrics"`
}

// Milliseconds is a duration setting given in milliseconds, as a number or a quoted number.
type Milliseconds int

func (m *Milliseconds) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number of milliseconds", value.Line)
	}
	ms, err := strconv.ParseFloat(strings.TrimSpace(value.Value), 64)
	if err != nil {
		return fmt.Errorf("line %d: cannot parse %q as milliseconds", value.Line, value.Value)
	}
	*m = Milliseconds(ms)
	return nil
}

func (m Milliseconds) Duration() time.Duration {
	return time.Duration(m) * time.Millisecond
}

// SystemConfig holds system-wide configuration
type SystemConfig struct {
	LogLevel string `yaml:"logLevel"`
	LogFile  string `yaml:"logFile"`
}

// Overrides are command line values that win over the config file.
type Overrides struct {
	Profile string
	// UserData points LogsPath at <UserData>/logs.
	UserData string
}

func (c *SystemConfig) GetLogLevel() logrus.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "TRACE":
		return logrus.TraceLevel
	case "DEBUG":
		return logrus.DebugLevel
	case "WARNING", "WARN":
		return logrus.WarnLevel
	case "ERROR":
		return logrus.ErrorLevel
	default:
		// Default LogLevel Info
		return logrus.InfoLevel
	}
}

// Load reads the config file, expands environment variables, applies overrides and defaults
// and validates the result.
func Load(path string, ov Overrides) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrConfig, err)
	}

	// Replace environment variables
	expandedData := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfig, err)
	}
	if cfg.InvokeUrl == "" && cfg.PortingAssistantMetrics.Kind == yaml.MappingNode {
		if err := cfg.PortingAssistantMetrics.Decode(cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to parse PortingAssistantMetrics: %v", ErrConfig, err)
		}
	}

	if ov.Profile != "" {
		cfg.Profile = ov.Profile
	}
	if ov.UserData != "" {
		cfg.LogsPath = filepath.Join(ov.UserData, "logs")
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Suffixes) == 0 {
		c.Suffixes = tail.DefaultSuffixes
	}
	if c.TokenFile == "" && c.LogsPath != "" {
		c.TokenFile = filepath.Join(c.LogsPath, offset.DefaultTokenFile)
	}
	if c.UploadTimeout == 0 {
		c.UploadTimeout = DefaultUploadTimeoutMs
	}
	if c.MaxChunkBytes == 0 {
		c.MaxChunkBytes = tail.DefaultMaxChunkBytes
	}
	if c.PermanentFailure == "" {
		c.PermanentFailure = string(engine.PolicySkip)
	}
	if c.RetentionDays == nil {
		days := DefaultRetentionDays
		c.RetentionDays = &days
	}
	if c.CredentialsFile == "" {
		c.CredentialsFile = credentials.DefaultPath()
	}
}

// Validate reports every missing required key and every out of range value.
func (c *Config) Validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"InvokeUrl", c.InvokeUrl},
		{"Region", c.Region},
		{"ServiceName", c.ServiceName},
		{"Description", c.Description},
		{"LogsPath", c.LogsPath},
		{"Profile", c.Profile},
		{"Prefix", c.Prefix},
	}

	var problems []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			problems = append(problems, "missing "+r.key)
		}
	}
	if c.LogTimerInterval <= 0 {
		problems = append(problems, "LogTimerInterval must be a positive number of milliseconds")
	}
	if c.UploadTimeout < 0 {
		problems = append(problems, "UploadTimeout must be a positive number of milliseconds")
	}
	if c.MaxChunkBytes < 0 {
		problems = append(problems, "MaxChunkBytes must be positive")
	}
	if c.RetentionDays != nil && *c.RetentionDays < 0 {
		problems = append(problems, "RetentionDays must not be negative")
	}
	switch engine.FailurePolicy(strings.ToLower(c.PermanentFailure)) {
	case engine.PolicySkip, engine.PolicyRetry:
	default:
		problems = append(problems, fmt.Sprintf("unknown PermanentFailure policy: %s", c.PermanentFailure))
	}
	switch strings.ToLower(c.OffsetStore) {
	case "", offset.TypeJSON, offset.TypeSQLite, offset.TypeBolt:
	default:
		problems = append(problems, fmt.Sprintf("unknown OffsetStore: %s", c.OffsetStore))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) SetupLogging() error {
	writers := []io.Writer{os.Stderr}

	if c.System.LogFile != "" {
		file, err := os.OpenFile(c.System.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)
	}

	logrus.SetLevel(c.System.GetLogLevel())
	logrus.SetOutput(io.MultiWriter(writers...))
	logrus.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	return nil
}

// OutputConfig returns the sink settings with the top level service keys filled in where the
// Output block leaves them unset.
func (c *Config) OutputConfig() map[string]any {
	out := make(map[string]any, len(c.Output)+8)
	maps.Copy(out, c.Output)

	shared := map[string]any{
		"InvokeUrl":     c.InvokeUrl,
		"Region":        c.Region,
		"ServiceName":   c.ServiceName,
		"Description":   c.Description,
		"Prefix":        c.Prefix,
		"Compress":      c.Compress,
		"UploadTimeout": int(c.UploadTimeout),
	}
	for k, v := range shared {
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}
	if _, exists := out["Type"]; !exists {
		out["Type"] = "http"
	}
	return out
}

type uploaderPlugin interface {
	output.Uploader
	Init(config map[string]any) error
}

// NewUploader builds the sink named by Output.Type, wrapped in the line filter when Filter is
// set. The http sink signs with the configured credentials profile.
func NewUploader(c *Config) (output.Uploader, error) {
	config := c.OutputConfig()
	kind, _ := config["Type"].(string)

	var outputObject uploaderPlugin
	switch strings.ToLower(kind) {
	case "http":
		profile, err := credentials.Load(c.CredentialsFile, c.Profile)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		outputObject = &output.HTTP{Credentials: profile}
	case "gelf":
		outputObject = &outputgelf.GELF{}
	case "splunk":
		outputObject = &outputsplunk.Splunk{}
	case "stdout":
		outputObject = &outputstdout.Stdout{}
	case "counter":
		outputObject = &outputcounter.Counter{}
	default:
		return nil, fmt.Errorf("%w: unknown output type: %v", ErrConfig, config["Type"])
	}

	if err := outputObject.Init(config); err != nil {
		return nil, fmt.Errorf("%w: %s output: %v", ErrConfig, kind, err)
	}

	if len(c.Filter) == 0 {
		return outputObject, nil
	}
	grep := &filter.Grep{}
	if err := grep.Init(c.Filter); err != nil {
		outputObject.Close()
		return nil, fmt.Errorf("%w: filter: %v", ErrConfig, err)
	}
	return filter.NewUploader(outputObject, grep), nil
}

// OpenStore opens the configured offset backend on TokenFile.
func (c *Config) OpenStore() (offset.Store, error) {
	return offset.Open(c.OffsetStore, c.TokenFile)
}

// Lister discovers the tracked files in LogsPath on every call.
func (c *Config) Lister() engine.FileLister {
	return func() ([]string, error) {
		return tail.Discover(c.LogsPath, c.Suffixes, c.Include)
	}
}

func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		Interval:         c.LogTimerInterval.Duration(),
		PermanentFailure: engine.FailurePolicy(strings.ToLower(c.PermanentFailure)),
		ShutdownGrace:    c.UploadTimeout.Duration() + 5*time.Second,
		Retention:        time.Duration(*c.RetentionDays) * 24 * time.Hour,
	}
}

// ShipperEngine is the engine wired from a config file
type ShipperEngine struct {
	*engine.Engine
	Config *Config
}

// NewShipperEngine loads the config, sets up logging and wires store, tailer and sink into an
// engine. Nothing is shipped until Start or RunOnce.
func NewShipperEngine(configPath string, ov Overrides) (*ShipperEngine, error) {
	cfg, err := Load(configPath, ov)
	if err != nil {
		return nil, err
	}

	if err := cfg.SetupLogging(); err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}

	uploader, err := NewUploader(cfg)
	if err != nil {
		return nil, err
	}

	store, err := cfg.OpenStore()
	if err != nil {
		uploader.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"logsPath":    cfg.LogsPath,
		"tokenFile":   cfg.TokenFile,
		"offsetStore": cfg.OffsetStore,
		"output":      uploader.Name(),
		"profile":     cfg.Profile,
	}).Info("Shipper configured")

	return &ShipperEngine{
		Engine: engine.NewEngine(store, tail.NewTailer(cfg.MaxChunkBytes), uploader, cfg.Lister(), cfg.EngineOptions()),
		Config: cfg,
	}, nil
}
