package config

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/xeptore/qqgrab/unit"
)

type Config struct {
	Log        Log        `yaml:"log"`
	Creds      Creds      `yaml:"creds"`
	Catalog    Catalog    `yaml:"catalog"`
	Downloader Downloader `yaml:"downloader"`
}

func (c *Config) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Dict("log", c.Log.ToDict()).
		Dict("creds", c.Creds.ToDict()).
		Dict("catalog", c.Catalog.ToDict()).
		Dict("downloader", c.Downloader.ToDict())
}

func (c *Config) setDefaults() {
	c.Log.setDefaults()
	c.Creds.setDefaults()
	c.Catalog.setDefaults()
	c.Downloader.setDefaults()
}

func (c *Config) validate() error {
	if err := c.Log.validate(); nil != err {
		return fmt.Errorf("log config validation failed: %v", err)
	}

	if err := c.Creds.validate(); nil != err {
		return fmt.Errorf("creds config validation failed: %v", err)
	}

	if err := c.Catalog.validate(); nil != err {
		return fmt.Errorf("catalog config validation failed: %v", err)
	}

	if err := c.Downloader.validate(); nil != err {
		return fmt.Errorf("downloader config validation failed: %v", err)
	}

	return nil
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Log) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("level", c.Level).
		Str("format", c.Format)
}

func (c *Log) setDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}

	if c.Format == "" {
		c.Format = "pretty"
	}
}

func (c *Log) validate() error {
	if !slices.Contains([]string{"trace", "debug", "info", "warn", "error", "fatal", "panic"}, c.Level) {
		return fmt.Errorf(
			"level must be one of: trace, debug, info, warn, error, fatal, panic, got: %s",
			c.Level,
		)
	}

	if !slices.Contains([]string{"json", "pretty"}, c.Format) {
		return fmt.Errorf("format must be 'json' or 'pretty', got: %s", c.Format)
	}

	return nil
}

type Creds struct {
	Path string `yaml:"path"`
}

func (c *Creds) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("path", c.Path)
}

func (c *Creds) setDefaults() {
	if c.Path == "" {
		c.Path = "creds.db"
	}
}

func (c *Creds) validate() error {
	return nil
}

type Catalog struct {
	DeviceGUID        string          `yaml:"device_guid"`
	RequestsPerSecond float64         `yaml:"requests_per_second"`
	Timeouts          CatalogTimeouts `yaml:"timeouts"`
}

func (c *Catalog) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("device_guid", c.DeviceGUID).
		Float64("requests_per_second", c.RequestsPerSecond).
		Dict("timeouts", c.Timeouts.ToDict())
}

func (c *Catalog) setDefaults() {
	if c.DeviceGUID == "" {
		c.DeviceGUID = "qqgrab"
	}

	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 5
	}

	c.Timeouts.setDefaults()
}

func (c *Catalog) validate() error {
	if c.RequestsPerSecond < 0 {
		return errors.New("requests_per_second must be greater than 0")
	}

	if err := c.Timeouts.validate(); nil != err {
		return fmt.Errorf("timeouts config validation failed: %v", err)
	}

	return nil
}

type CatalogTimeouts struct {
	Search        int `yaml:"search"`
	GetPlaylist   int `yaml:"get_playlist"`
	GetMediaURL   int `yaml:"get_media_url"`
	DownloadCover int `yaml:"download_cover"`
}

func (c *CatalogTimeouts) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Int("search", c.Search).
		Int("get_playlist", c.GetPlaylist).
		Int("get_media_url", c.GetMediaURL).
		Int("download_cover", c.DownloadCover)
}

func (c *CatalogTimeouts) setDefaults() {
	if c.Search == 0 {
		c.Search = 5
	}

	if c.GetPlaylist == 0 {
		c.GetPlaylist = 5
	}

	if c.GetMediaURL == 0 {
		c.GetMediaURL = 5
	}

	if c.DownloadCover == 0 {
		c.DownloadCover = 10
	}
}

func (c *CatalogTimeouts) validate() error {
	if c.Search < 0 {
		return errors.New("search must be greater than 0")
	}

	if c.GetPlaylist < 0 {
		return errors.New("get_playlist must be greater than 0")
	}

	if c.GetMediaURL < 0 {
		return errors.New("get_media_url must be greater than 0")
	}

	if c.DownloadCover < 0 {
		return errors.New("download_cover must be greater than 0")
	}

	return nil
}

type Downloader struct {
	Dir             string `yaml:"dir"`
	Concurrency     int    `yaml:"concurrency"`
	MinTrackSize    int64  `yaml:"min_track_size"`
	PreferLossless  bool   `yaml:"prefer_lossless"`
	DownloadTimeout int    `yaml:"download_timeout"`
	FetchRetries    uint64 `yaml:"fetch_retries"`
}

func (c *Downloader) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("dir", c.Dir).
		Int("concurrency", c.Concurrency).
		Int64("min_track_size", c.MinTrackSize).
		Bool("prefer_lossless", c.PreferLossless).
		Int("download_timeout", c.DownloadTimeout).
		Uint64("fetch_retries", c.FetchRetries)
}

func (c *Downloader) setDefaults() {
	if c.Dir == "" {
		c.Dir = "./music"
	}

	if c.Concurrency == 0 {
		c.Concurrency = 3
	}

	if c.MinTrackSize == 0 {
		c.MinTrackSize = unit.Kibibyte
	}

	if c.DownloadTimeout == 0 {
		c.DownloadTimeout = 120
	}

	if c.FetchRetries == 0 {
		c.FetchRetries = 2
	}
}

func (c *Downloader) validate() error {
	if c.Concurrency < 0 {
		return errors.New("concurrency must be greater than 0")
	}

	if c.MinTrackSize < 0 {
		return errors.New("min_track_size must be greater than 0")
	}

	if c.DownloadTimeout < 0 {
		return errors.New("download_timeout must be greater than 0")
	}

	return nil
}

func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(lo.Ternary(len(filename) > 0, filename, "config.yaml"))
	if nil != err {
		if errors.Is(err, os.ErrNotExist) && filename == "" {
			// No config file is fine; defaults cover everything.
			data = nil
		} else {
			return nil, fmt.Errorf("failed to read config file %s: %v", filename, err)
		}
	}

	var conf Config
	if err := yaml.Unmarshal(data, &conf); nil != err {
		return nil, fmt.Errorf("failed to parse config file %s: %v", filename, err)
	}

	conf.setDefaults()

	if err := conf.validate(); nil != err {
		return nil, fmt.Errorf("configuration validation failed: %v", err)
	}

	return &conf, nil
}
