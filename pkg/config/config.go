// Package config loads the station configuration from JSON or YAML.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/next-exp/sipm_daq/pkg/caen"
	"gopkg.in/yaml.v3"
)

type Configuration struct {
	Digitizer DigitizerConfig `json:"digitizer" yaml:"digitizer"`
	Run       RunConfig       `json:"run" yaml:"run"`
	Sink      SinkConfig      `json:"sink" yaml:"sink"`
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	HTTP      HTTPConfig      `json:"http" yaml:"http"`
	Queues    QueueConfig     `json:"queues" yaml:"queues"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Simulate  bool            `json:"simulate" yaml:"simulate"`
}

type DigitizerConfig struct {
	Model    caen.Model           `json:"model" yaml:"model"`
	Port     int                  `json:"port" yaml:"port" validate:"gte=0"`
	Global   caen.GlobalConfig    `json:"global" yaml:"global"`
	Channels []caen.ChannelConfig `json:"channels" yaml:"channels" validate:"min=1,dive"`
}

type RunConfig struct {
	Dir            string `json:"dir" yaml:"dir" validate:"required"`
	Name           string `json:"name" yaml:"name" validate:"required"`
	SiPMParameters string `json:"sipm_parameters" yaml:"sipm_parameters" validate:"required"`
}

type SinkConfig struct {
	Format      string `json:"format" yaml:"format" validate:"oneof=sbc hdf5"`
	Compression uint   `json:"compression" yaml:"compression" validate:"lte=9"`
}

type DatabaseConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Host    string `json:"host" yaml:"host" validate:"required_if=Enabled true"`
	User    string `json:"user" yaml:"user" validate:"required_if=Enabled true"`
	Passwd  string `json:"pass" yaml:"pass"`
	DBName  string `json:"dbname" yaml:"dbname" validate:"required_if=Enabled true"`
}

type HTTPConfig struct {
	Addr string `json:"addr" yaml:"addr" validate:"required"`
}

type QueueConfig struct {
	Commands   int `json:"commands" yaml:"commands" validate:"gt=0"`
	Indicators int `json:"indicators" yaml:"indicators" validate:"gt=0"`
	Registry   int `json:"registry" yaml:"registry" validate:"gt=0"`
}

type LoggingConfig struct {
	Level string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
}

func DefaultConfiguration() Configuration {
	return Configuration{
		Digitizer: DigitizerConfig{
			Model:    caen.DT5730B,
			Port:     0,
			Global:   caen.DefaultGlobalConfig(),
			Channels: []caen.ChannelConfig{caen.DefaultChannelConfig()},
		},
		Run: RunConfig{
			Dir:            "/data/sipm",
			Name:           "run",
			SiPMParameters: "default",
		},
		Sink: SinkConfig{Format: "sbc", Compression: 4},
		Database: DatabaseConfig{
			Enabled: false,
			Host:    "localhost",
			User:    "sipmdaq",
			DBName:  "SIPMDB",
		},
		HTTP:    HTTPConfig{Addr: ":8080"},
		Queues:  QueueConfig{Commands: 16, Indicators: 256, Registry: 16},
		Logging: LoggingConfig{Level: "info"},
	}
}

var validate = validator.New()

// LoadConfiguration seeds the defaults and decodes filename over them. Files
// ending in .yaml or .yml are read as YAML, anything else as JSON.
func LoadConfiguration(filename string) (Configuration, error) {
	config := DefaultConfiguration()

	data, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		err = json.Unmarshal(data, &config)
	}
	if err != nil {
		return config, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	applyEnvOverrides(&config)
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

func (c *Configuration) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// applyEnvOverrides lets secrets and deployment specifics come from the
// environment.
func applyEnvOverrides(config *Configuration) {
	if v := os.Getenv("SIPM_DAQ_DB_HOST"); v != "" {
		config.Database.Host = v
	}
	if v := os.Getenv("SIPM_DAQ_DB_PASS"); v != "" {
		config.Database.Passwd = v
	}
	if v := os.Getenv("SIPM_DAQ_HTTP_ADDR"); v != "" {
		config.HTTP.Addr = v
	}
	if v := os.Getenv("SIPM_DAQ_RUN_DIR"); v != "" {
		config.Run.Dir = v
	}
}

type Logger interface {
	Info(message string, module string)
}

func PrintConfiguration(config Configuration, logger Logger) {
	d := config.Digitizer
	logger.Info(fmt.Sprintf("Model: %v", d.Model), "config")
	logger.Info(fmt.Sprintf("Port: %d", d.Port), "config")
	logger.Info(fmt.Sprintf("Record length: %d", d.Global.RecordLength), "config")
	logger.Info(fmt.Sprintf("Post trigger: %d%%", d.Global.PostTrigger), "config")
	logger.Info(fmt.Sprintf("Max events per read: %d", d.Global.MaxEventsPerRead), "config")
	logger.Info(fmt.Sprintf("Trigger mode: %s", d.Global.TriggerMode), "config")
	logger.Info(fmt.Sprintf("IO level: %s", d.Global.IOLevel), "config")
	for _, ch := range d.Channels {
		logger.Info(fmt.Sprintf("Channel %d: offset 0x%04x, threshold %d, %s",
			ch.Channel, ch.DCOffset, ch.TriggerThreshold, ch.Polarity), "config")
	}
	logger.Info(fmt.Sprintf("Run dir: %s", config.Run.Dir), "config")
	logger.Info(fmt.Sprintf("Run name: %s", config.Run.Name), "config")
	logger.Info(fmt.Sprintf("SiPM parameters: %s", config.Run.SiPMParameters), "config")
	logger.Info(fmt.Sprintf("Sink format: %s", config.Sink.Format), "config")
	logger.Info(fmt.Sprintf("Compression: %d", config.Sink.Compression), "config")
	logger.Info(fmt.Sprintf("Database enabled: %t", config.Database.Enabled), "config")
	logger.Info(fmt.Sprintf("Host: %s", config.Database.Host), "config")
	logger.Info(fmt.Sprintf("DB name: %s", config.Database.DBName), "config")
	logger.Info(fmt.Sprintf("HTTP address: %s", config.HTTP.Addr), "config")
	logger.Info(fmt.Sprintf("Queue sizes: commands %d, indicators %d, registry %d",
		config.Queues.Commands, config.Queues.Indicators, config.Queues.Registry), "config")
	logger.Info(fmt.Sprintf("Log level: %s", config.Logging.Level), "config")
	logger.Info(fmt.Sprintf("Simulate: %t", config.Simulate), "config")
}

// ValidateDigitizer checks a digitizer section received outside a file.
func ValidateDigitizer(d DigitizerConfig) error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("digitizer validation failed: %w", err)
	}
	return nil
}
