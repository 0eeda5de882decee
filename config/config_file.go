package config

import (
	"os"

	"github.com/davecgh/go-spew/spew"
	toml "github.com/pelletier/go-toml/v2"
	log "github.com/sirupsen/logrus"
)

// FileConfig mirrors Config with TOML friendly types. Pointers tell an
// explicit zero apart from a missing key.
type FileConfig struct {
	Source string `toml:"source"`
	Device string `toml:"device"`
	Width  *int   `toml:"width"`
	Height *int   `toml:"height"`

	DeviceExposure *float64 `toml:"device_exposure"`

	Out    string `toml:"out"`
	Dir    string `toml:"dir"`
	Name   string `toml:"name"`
	Format string `toml:"format"`

	Exposure    float64 `toml:"exposure"`
	Framerate   float64 `toml:"framerate"`
	Duration    string  `toml:"duration"`
	Compression *int    `toml:"compression"`

	LevelMin   *int  `toml:"level_min"`
	LevelMax   *int  `toml:"level_max"`
	LiveLevels *bool `toml:"live_levels"`

	Stims string `toml:"stims"`

	QueueSize              *int   `toml:"queue_size"`
	MaxConsecutiveFailures *int   `toml:"max_consecutive_failures"`
	MinFree                string `toml:"min_free"`
	Thumbnail              *bool  `toml:"thumbnail"`

	Port   *int  `toml:"port"`
	Window *bool `toml:"window"`

	DBDSN           string `toml:"db_dsn"`
	VAPIDPublicKey  string `toml:"vapid_public_key"`
	VAPIDPrivateKey string `toml:"vapid_private_key"`
	VAPIDSubscriber string `toml:"vapid_subscriber"`

	LogLevel string `toml:"log_level"`
	LogJSON  *bool  `toml:"log_json"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, invalid("parse %v: %v", path, err)
	}
	log.Debugf("Loaded configuration: %v", spew.Sdump(fc))
	return fc, nil
}

// ApplyFileConfig applies configuration from a file to cfg. Flags that have
// been explicitly set (changed map) take precedence.
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("source", fc.Source, &cfg.Source)
	s.setString("device", fc.Device, &cfg.Device)
	s.setInt("width", fc.Width, &cfg.Width)
	s.setInt("height", fc.Height, &cfg.Height)
	s.setFloatPtr("device-exposure", fc.DeviceExposure, &cfg.DeviceExposure)

	s.setString("out", fc.Out, &cfg.Out)
	s.setString("dir", fc.Dir, &cfg.Dir)
	s.setString("name", fc.Name, &cfg.Name)
	s.setString("format", fc.Format, &cfg.Format)

	s.setFloat("exposure", fc.Exposure, &cfg.Exposure)
	s.setFloat("framerate", fc.Framerate, &cfg.Framerate)
	if err := s.setDuration("duration", fc.Duration, &cfg.Duration); err != nil {
		return err
	}
	s.setInt("compression", fc.Compression, &cfg.Compression)

	s.setInt("level-min", fc.LevelMin, &cfg.LevelMin)
	s.setInt("level-max", fc.LevelMax, &cfg.LevelMax)
	s.setBool("live-levels", fc.LiveLevels, &cfg.LiveLevels)

	s.setString("stims", fc.Stims, &cfg.Stims)

	s.setInt("queue-size", fc.QueueSize, &cfg.QueueSize)
	s.setInt("max-failures", fc.MaxConsecutiveFailures, &cfg.MaxConsecutiveFailures)
	s.setString("min-free", fc.MinFree, &cfg.MinFree)
	s.setBool("thumbnail", fc.Thumbnail, &cfg.Thumbnail)

	s.setInt("port", fc.Port, &cfg.Port)
	s.setBool("window", fc.Window, &cfg.Window)

	s.setString("db-dsn", fc.DBDSN, &cfg.DBDSN)
	s.setString("vapid-public-key", fc.VAPIDPublicKey, &cfg.VAPIDPublicKey)
	s.setString("vapid-private-key", fc.VAPIDPrivateKey, &cfg.VAPIDPrivateKey)
	s.setString("vapid-subscriber", fc.VAPIDSubscriber, &cfg.VAPIDSubscriber)

	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setBool("log-json", fc.LogJSON, &cfg.LogJSON)
	return nil
}

// Load builds the effective configuration: defaults, then the file at path
// if any, then the flags recorded in changed, already applied to flagged.
func Load(path string, flagged Config, changed map[string]bool) (Config, error) {
	cfg := flagged
	if path != "" {
		fc, err := LoadFileConfig(path)
		if err != nil {
			return cfg, err
		}
		if err := ApplyFileConfig(&cfg, fc, changed); err != nil {
			return cfg, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	log.Infof("Loaded configuration: %v", spew.Sdump(cfg))
	return cfg, nil
}
