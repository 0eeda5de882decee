package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"

	"imager/video"
	"imager/video/container"
	"imager/video/levels"
)

const (
	SourcePattern = "pattern"
	SourceCV      = "cv"
)

// Config holds the settings of one acquisition run.
type Config struct {
	Source string
	Device string
	Width  int
	Height int

	// DeviceExposure is passed to the capture driver as-is when non-zero.
	DeviceExposure float64

	// Out names the container file. When empty a name is generated in Dir.
	Out    string
	Dir    string
	Name   string
	Format string

	Exposure    float64
	Framerate   float64
	Duration    time.Duration
	Compression int

	LevelMin   int
	LevelMax   int
	LiveLevels bool

	// Stims describes the stimulus protocol. JSON values are recorded as
	// structured data, anything else as a plain string.
	Stims string

	QueueSize              int
	MaxConsecutiveFailures int
	MinFree                string
	Thumbnail              bool

	Port   int
	Window bool

	DBDSN           string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string

	LogLevel string
	LogJSON  bool

	// MinFreeBytes is derived from MinFree by Validate.
	MinFreeBytes uint64
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Source:                 SourcePattern,
		Width:                  640,
		Height:                 480,
		Dir:                    ".",
		Name:                   "session",
		Format:                 container.ExtTIF,
		LevelMin:               0,
		LevelMax:               int(levels.Full.High),
		Stims:                  "none",
		QueueSize:              video.DefaultQueueSize,
		MaxConsecutiveFailures: 100,
		MinFree:                "1 GB",
		Thumbnail:              true,
		Port:                   8080,
		VAPIDSubscriber:        "imager@localhost",
		LogLevel:               "info",
	}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", video.ErrConfiguration, fmt.Sprintf(format, args...))
}

// Validate checks the configuration for errors and sets derived values.
func (c *Config) Validate() error {
	switch c.Source {
	case SourcePattern, SourceCV:
	default:
		return invalid("unknown source %q", c.Source)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return invalid("frame size %dx%d", c.Width, c.Height)
	}
	if c.Exposure <= 0 && c.Framerate <= 0 {
		return invalid("exposure or framerate must be specified")
	}
	if c.Exposure < 0 || c.Framerate < 0 {
		return invalid("exposure and framerate must not be negative")
	}
	if c.Duration < 0 {
		return invalid("negative duration %v", c.Duration)
	}
	if c.Compression < 0 || c.Compression > 9 {
		return invalid("compression %d not in [0, 9]", c.Compression)
	}
	if _, err := levels.NewWindow(c.LevelMin, c.LevelMax); err != nil {
		return invalid("%v", err)
	}
	if c.Stims == "" {
		return invalid("stimulus descriptor is required")
	}
	if c.QueueSize <= 0 {
		return invalid("queue size must be positive")
	}
	if c.MaxConsecutiveFailures < 0 {
		return invalid("max consecutive failures must not be negative")
	}
	if c.Out == "" && c.Dir == "" {
		return invalid("either an output file or a directory is required")
	}
	if c.Out != "" && filepath.Ext(c.Out) == "" {
		return invalid("output %q has no extension", c.Out)
	}
	if c.Format != "" && !strings.HasPrefix(c.Format, ".") {
		c.Format = "." + c.Format
	}
	if c.Port < 0 || c.Port > 65535 {
		return invalid("port %d", c.Port)
	}

	c.MinFreeBytes = 0
	if c.MinFree != "" {
		n, err := humanize.ParseBytes(c.MinFree)
		if err != nil {
			return invalid("min free %q: %v", c.MinFree, err)
		}
		c.MinFreeBytes = n
	}
	return nil
}

// LevelWindow returns the configured conversion window.
func (c *Config) LevelWindow() levels.Window {
	w, err := levels.NewWindow(c.LevelMin, c.LevelMax)
	if err != nil {
		return levels.Full
	}
	return w
}

// Stimulus returns the stimulus descriptor to record in the metadata.
func (c *Config) Stimulus() interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(c.Stims), &v); err == nil && v != nil {
		return v
	}
	return c.Stims
}

// configSetter applies file values unless the corresponding flag was set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt applies value when it is set in the file, zero included.
func (s *configSetter) setInt(flag string, value *int, dst *int) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

func (s *configSetter) setFloat(flag string, value float64, dst *float64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setFloatPtr(flag string, value *float64, dst *float64) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return invalid("parse %s: %v", flag, err)
	}
	*dst = d
	return nil
}

func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}
