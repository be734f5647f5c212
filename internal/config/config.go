// Package config loads the save sync configuration from defaults, an
// optional YAML file, a .env file and ARGOSY_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	apperrors "github.com/rommapp/argosy-launcher-sub002/internal/errors"
	"github.com/rommapp/argosy-launcher-sub002/internal/pathresolve"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/format"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/remote"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ARGOSY_"

// Config is the complete sync configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Device DeviceConfig `yaml:"device"`

	// DataDir holds the sqlite database.
	DataDir string `yaml:"data_dir" validate:"required"`
	// SnapshotDir holds snapshot payloads. Defaults to <data_dir>/snapshots.
	SnapshotDir string `yaml:"snapshot_dir"`
	// SaveRoot expands {root} in save path templates. Defaults to data_dir.
	SaveRoot string `yaml:"save_root"`

	Snapshots SnapshotConfig `yaml:"snapshots"`
	Sync      SyncConfig     `yaml:"sync"`
	Log       LogConfig      `yaml:"log"`
	Metrics   MetricsConfig  `yaml:"metrics"`

	// Emulators overrides format profiles and save path templates by
	// emulator id.
	Emulators map[string]EmulatorConfig `yaml:"emulators" validate:"dive"`
	// PlatformDefaults maps a platform slug to its default emulator id.
	PlatformDefaults map[string]string `yaml:"platform_defaults"`
}

// ServerConfig locates the save server. An empty URL disables sync.
type ServerConfig struct {
	URL      string        `yaml:"url" validate:"omitempty,url"`
	Token    string        `yaml:"token"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout" validate:"min=0"`
}

type DeviceConfig struct {
	ID string `yaml:"id"`
}

type SnapshotConfig struct {
	Limit int `yaml:"limit" validate:"min=1"`
}

// SyncConfig drives the background scheduler and the upload queue.
type SyncConfig struct {
	UploadInterval   time.Duration `yaml:"upload_interval" validate:"min=0"`
	DownloadInterval time.Duration `yaml:"download_interval" validate:"min=0"`
	MaxRetries       int           `yaml:"max_retries" validate:"min=1,max=20"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen" validate:"omitempty,hostname_port"`
}

// EmulatorConfig overrides the handling of one emulator.
type EmulatorConfig struct {
	Profile *format.Profile       `yaml:"profile,omitempty"`
	Paths   *pathresolve.Template `yaml:"paths,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Server:    ServerConfig{Timeout: 30 * time.Second},
		DataDir:   dataDir,
		Snapshots: SnapshotConfig{Limit: 10},
		Sync: SyncConfig{
			UploadInterval:   5 * time.Minute,
			DownloadInterval: 15 * time.Minute,
			MaxRetries:       3,
		},
		Log:     LogConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Listen: "127.0.0.1:9464"},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "argosy-sync")
	}
	return ".argosy-sync"
}

// Load builds the configuration. path may be empty; a missing .env file is
// ignored.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - path is provided by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInvalid, "read config file", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInvalid, "parse config file", err)
		}
	}

	// Load .env file if it exists, but don't fail if it doesn't (could be real env vars)
	_ = godotenv.Load()

	if err := cfg.applyEnvironment(); err != nil {
		return nil, err
	}
	cfg.fillDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvironment applies environment variable overrides.
// Environment variables follow the pattern ARGOSY_<SECTION>_<KEY>.
func (c *Config) applyEnvironment() error {
	strs := map[string]*string{
		"SERVER_URL":      &c.Server.URL,
		"SERVER_TOKEN":    &c.Server.Token,
		"SERVER_USERNAME": &c.Server.Username,
		"SERVER_PASSWORD": &c.Server.Password,
		"DEVICE_ID":       &c.Device.ID,
		"DATA_DIR":        &c.DataDir,
		"SNAPSHOT_DIR":    &c.SnapshotDir,
		"SAVE_ROOT":       &c.SaveRoot,
		"LOG_LEVEL":       &c.Log.Level,
		"LOG_FORMAT":      &c.Log.Format,
		"METRICS_LISTEN":  &c.Metrics.Listen,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"SERVER_TIMEOUT":         &c.Server.Timeout,
		"SYNC_UPLOAD_INTERVAL":   &c.Sync.UploadInterval,
		"SYNC_DOWNLOAD_INTERVAL": &c.Sync.DownloadInterval,
	}
	for key, dst := range durations {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, fmt.Sprintf("invalid %s%s value", EnvPrefix, key), err)
		}
		*dst = d
	}

	ints := map[string]*int{
		"SNAPSHOTS_LIMIT":  &c.Snapshots.Limit,
		"SYNC_MAX_RETRIES": &c.Sync.MaxRetries,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, fmt.Sprintf("invalid %s%s value", EnvPrefix, key), err)
		}
		*dst = n
	}

	// ARGOSY_PLATFORM_DEFAULTS=snes=retroarch,ngc=dolphin
	if v := os.Getenv(EnvPrefix + "PLATFORM_DEFAULTS"); v != "" {
		if c.PlatformDefaults == nil {
			c.PlatformDefaults = make(map[string]string)
		}
		for _, pair := range strings.Split(v, ",") {
			slug, emu, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok || slug == "" || emu == "" {
				return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("invalid platform default %q", pair))
			}
			c.PlatformDefaults[strings.ToLower(slug)] = emu
		}
	}
	return nil
}

func (c *Config) fillDerived() {
	if c.SnapshotDir == "" && c.DataDir != "" {
		c.SnapshotDir = filepath.Join(c.DataDir, "snapshots")
	}
	if c.SaveRoot == "" {
		c.SaveRoot = c.DataDir
	}
	c.Server.URL = strings.TrimRight(strings.TrimSpace(c.Server.URL), "/")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "invalid configuration", err)
	}
	for id, emu := range c.Emulators {
		if emu.Profile != nil && !emu.Profile.Family.Valid() {
			return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("emulator %s: unknown save family %q", id, emu.Profile.Family))
		}
	}
	if c.Server.Username != "" && c.Server.Password == "" {
		return apperrors.New(apperrors.ErrInvalid, "server.password is required with server.username")
	}
	return nil
}

// ServerConfigured reports whether a save server is set.
func (c *Config) ServerConfigured() bool {
	return c.Server.URL != ""
}

// RemoteConfig returns the client configuration of the save server.
func (c *Config) RemoteConfig() *remote.Config {
	return &remote.Config{
		BaseURL:  c.Server.URL,
		Token:    c.Server.Token,
		Username: c.Server.Username,
		Password: c.Server.Password,
		DeviceID: c.Device.ID,
		Timeout:  c.Server.Timeout,
	}
}

// PathTemplates returns the configured save path templates by emulator id.
func (c *Config) PathTemplates() map[string]pathresolve.Template {
	out := make(map[string]pathresolve.Template)
	for id, emu := range c.Emulators {
		if emu.Paths != nil {
			out[id] = *emu.Paths
		}
	}
	return out
}

// RegisterProfiles applies configured format profiles to r.
func (c *Config) RegisterProfiles(r *format.Registry) {
	for id, emu := range c.Emulators {
		if emu.Profile != nil {
			r.RegisterEmulator(id, *emu.Profile)
		}
	}
}
