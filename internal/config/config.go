package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"sleepywoodpecker/sensor-stream/internal/processing"
	rserial "sleepywoodpecker/sensor-stream/internal/rSerial"
	"sleepywoodpecker/sensor-stream/internal/sensor"
	"sleepywoodpecker/sensor-stream/internal/stream"
)

const (
	TransportWebSocket = "websocket"
	TransportSerial    = "serial"
)

type Config struct {
	Address       string        `yaml:"address"`
	Path          string        `yaml:"path"`
	Transport     string        `yaml:"transport"`
	Serial        SerialConfig  `yaml:"serial"`
	BufferSize    int           `yaml:"buffer_size"`
	WindowLength  int           `yaml:"window_length"`
	WindowRetain  int           `yaml:"window_retain"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	DataDir       string        `yaml:"data_dir"`
	LogFile       string        `yaml:"log_file"`
	LogLevel      string        `yaml:"log_level"`
	InitialSensor string        `yaml:"initial_sensor"`
	TelegrafAddr  string        `yaml:"telegraf_addr"`
	MetricsAddr   string        `yaml:"metrics_addr"`
}

type SerialConfig struct {
	Port         string `yaml:"port"`
	BaudRate     int    `yaml:"baud_rate"`
	MaxFrameSize int    `yaml:"max_frame_size"`
}

func Default() Config {
	return Config{
		Address:   "localhost:8080",
		Path:      stream.DefaultPath,
		Transport: TransportWebSocket,
		Serial: SerialConfig{
			BaudRate:     rserial.DefaultBaudRate,
			MaxFrameSize: rserial.DefaultMaxFrameSize,
		},
		BufferSize:    processing.DefaultBufferSize,
		WindowLength:  processing.DefaultDisplayLength,
		WindowRetain:  processing.DefaultWindowRetain,
		PollInterval:  processing.DefaultSamplingFrequency,
		DataDir:       ".",
		LogFile:       "sensorstream.logs",
		LogLevel:      "info",
		InitialSensor: sensor.Accelerometer.String(),
	}
}

// Load reads a YAML file on top of the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error

	switch c.Transport {
	case TransportWebSocket:
		if c.Address == "" {
			errs = append(errs, errors.New("address is required for the websocket transport"))
		}
	case TransportSerial:
		if c.Serial.Port == "" {
			errs = append(errs, errors.New("serial.port is required for the serial transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}

	if c.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("buffer_size must be positive, got %d", c.BufferSize))
	}
	if c.WindowLength <= 0 {
		errs = append(errs, fmt.Errorf("window_length must be positive, got %d", c.WindowLength))
	}
	if c.WindowRetain < c.WindowLength {
		errs = append(errs, fmt.Errorf("window_retain (%d) must be at least window_length (%d)", c.WindowRetain, c.WindowLength))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if _, err := sensor.Parse(c.InitialSensor); err != nil {
		errs = append(errs, fmt.Errorf("initial_sensor: %w", err))
	}

	return errors.Join(errs...)
}

func (c Config) Sensor() sensor.Type {
	t, _ := sensor.Parse(c.InitialSensor)
	return t
}
