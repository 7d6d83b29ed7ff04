package config

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	defaultQuotaBytes     = 10 << 30 // 10 GiB
	defaultSessionLimit   = 5
	defaultSessionTimeout = 1800 // seconds
	defaultRetentionDays  = 30
)

var (
	instance   *Config
	once       sync.Once
	configPath string
)

// S3 holds the object store connection settings. Backend "memory" selects the
// in-process blob store, everything else goes through the S3 client.
type S3 struct {
	Backend   string `json:"backend,omitempty"` // "s3" (default) or "memory"
	Endpoint  string `json:"endpoint,omitempty"`
	Region    string `json:"region,omitempty"`
	Bucket    string `json:"bucket,omitempty"`
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
}

// Database holds the metadata store settings.
type Database struct {
	Path string `json:"path,omitempty"`
}

// Maintenance holds the background job intervals. Intervals accept a duration
// ("24h"), a clock time ("04:05") or a cron expression.
type Maintenance struct {
	PurgeInterval     string `json:"purge_interval,omitempty"`
	PurgeBatchSize    int    `json:"purge_batch_size,omitempty"`
	ReaperInterval    string `json:"reaper_interval,omitempty"`
	ReaperGracePeriod string `json:"reaper_grace_period,omitempty"`
}

type Config struct {
	// server
	BindAddress string `json:"bind_address,omitempty"`
	WebdavPort  string `json:"webdav_port,omitempty"`
	URLBase     string `json:"url_base,omitempty"`

	LogLevel  string `json:"log_level,omitempty"`
	AuthRealm string `json:"auth_realm,omitempty"`

	WebdavSessionLimit   int `json:"webdav_session_limit,omitempty"`
	WebdavSessionTimeout int `json:"webdav_session_timeout,omitempty"` // seconds

	DefaultQuotaBytes  int64 `json:"default_quota_bytes,omitempty"`
	TrashRetentionDays int   `json:"trash_retention_days,omitempty"`

	S3          S3          `json:"s3,omitempty"`
	Database    Database    `json:"database,omitempty"`
	Maintenance Maintenance `json:"maintenance,omitempty"`

	Path string `json:"-"` // directory holding the config file
}

func (c *Config) JsonFile() string {
	return filepath.Join(c.Path, "config.json")
}

func (c *Config) loadConfig() error {
	if configPath == "" {
		return fmt.Errorf("config path not set")
	}
	c.Path = configPath
	file, err := os.ReadFile(c.JsonFile())
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("Config file not found, creating a new one at %s\n", c.JsonFile())
			if err := c.createConfig(c.Path); err != nil {
				return fmt.Errorf("failed to create config file: %w", err)
			}
			return c.Save()
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	if err := json.Unmarshal(file, &c); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	c.setDefaults()
	return nil
}

func (c *Config) setDefaults() {
	c.BindAddress = cmp.Or(c.BindAddress, "0.0.0.0")
	c.WebdavPort = cmp.Or(c.WebdavPort, "8484")
	c.LogLevel = cmp.Or(c.LogLevel, "info")
	c.AuthRealm = cmp.Or(c.AuthRealm, "Photo Album")

	if c.URLBase == "" {
		c.URLBase = "/"
	}
	if !strings.HasPrefix(c.URLBase, "/") {
		c.URLBase = "/" + c.URLBase
	}

	if c.WebdavSessionLimit == 0 {
		c.WebdavSessionLimit = defaultSessionLimit
	}
	if c.WebdavSessionTimeout == 0 {
		c.WebdavSessionTimeout = defaultSessionTimeout
	}
	if c.DefaultQuotaBytes == 0 {
		c.DefaultQuotaBytes = defaultQuotaBytes
	}
	if c.TrashRetentionDays == 0 {
		c.TrashRetentionDays = defaultRetentionDays
	}

	c.S3.Backend = cmp.Or(c.S3.Backend, "s3")
	c.S3.Region = cmp.Or(c.S3.Region, "us-east-1")

	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.Path, "stashdav.db")
	}

	c.Maintenance.PurgeInterval = cmp.Or(c.Maintenance.PurgeInterval, "24h")
	if c.Maintenance.PurgeBatchSize == 0 {
		c.Maintenance.PurgeBatchSize = 1000
	}
	c.Maintenance.ReaperInterval = cmp.Or(c.Maintenance.ReaperInterval, "6h")
	c.Maintenance.ReaperGracePeriod = cmp.Or(c.Maintenance.ReaperGracePeriod, "1h")
}

func (c *Config) createConfig(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	c.Path = path
	c.setDefaults()
	return nil
}

func (c *Config) Save() error {
	c.setDefaults()

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.JsonFile(), data, 0644)
}

func ValidateConfig(c *Config) error {
	if c.S3.Backend == "s3" {
		if c.S3.Endpoint == "" {
			return fmt.Errorf("s3 endpoint is required")
		}
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3 bucket is required")
		}
	}
	return nil
}

func SetConfigPath(path string) {
	configPath = path
}

func Get() *Config {
	once.Do(func() {
		instance = &Config{}
		if err := instance.loadConfig(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			os.Exit(1)
		}
	})
	return instance
}

// Reload forces a reload of the configuration from disk
func Reload() {
	instance = nil
	once = sync.Once{}
}
