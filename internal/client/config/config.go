package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/invoicekeeper/internal/buildinfo"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/remote/drive"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/remote/s3store"
	"github.com/dmitrijs2005/invoicekeeper/internal/common"
	"github.com/dmitrijs2005/invoicekeeper/internal/logging"
	"github.com/spf13/pflag"
)

// Remote backends.
const (
	BackendNone  = "none"
	BackendDrive = "drive"
	BackendS3    = "s3"
)

// Google endpoints used by the device authorization flow.
const (
	GoogleAuthURL       = "https://accounts.google.com/o/oauth2/auth"
	GoogleTokenURL      = "https://oauth2.googleapis.com/token"
	GoogleDeviceAuthURL = "https://oauth2.googleapis.com/device/code"
)

// Config holds runtime settings for the invoicekeeper CLI.
type Config struct {
	DatabasePath string
	Backend      string
	Environment  string

	OAuth OAuthConfig
	Drive DriveConfig
	S3    s3store.Config
	Sync  SyncConfig
	Log   logging.Options
}

// OAuthConfig configures sign-in for the Drive backend. ClientID, when set,
// takes precedence over the id entered by the user, like a build-time id.
type OAuthConfig struct {
	ClientID      string
	ClientSecret  string
	AuthURL       string
	TokenURL      string
	DeviceAuthURL string
}

type DriveConfig struct {
	BaseURL    string
	UploadURL  string
	MaxRetries uint64
	RetryBase  time.Duration
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	// Debounce is the quiet period after the last local write before a push.
	Debounce time.Duration
	// RetentionCount is used when the user has not set maxBackups; 0 keeps
	// every snapshot.
	RetentionCount int
	// RenewalLookahead is how early a credential is renewed before expiry.
	RenewalLookahead time.Duration
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		DatabasePath: defaultDatabasePath(),
		Backend:      BackendDrive,
		Environment:  buildinfo.Environment,
		OAuth: OAuthConfig{
			AuthURL:       GoogleAuthURL,
			TokenURL:      GoogleTokenURL,
			DeviceAuthURL: GoogleDeviceAuthURL,
		},
		Drive: DriveConfig{
			BaseURL:    drive.DefaultBaseURL,
			UploadURL:  drive.DefaultUploadURL,
			MaxRetries: 3,
			RetryBase:  500 * time.Millisecond,
		},
		S3: s3store.Config{
			Region: "us-east-1",
			Prefix: "invoicekeeper",
		},
		Sync: SyncConfig{
			Debounce:         2 * time.Second,
			RetentionCount:   common.DefaultMaxBackups,
			RenewalLookahead: 5 * time.Minute,
		},
		Log: logging.Options{
			Backend: "slog",
			Format:  "text",
			Level:   "info",
		},
	}
}

func defaultDatabasePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "invoicekeeper.db"
	}
	return filepath.Join(dir, "invoicekeeper", "invoicekeeper.db")
}

// BuildClientID returns the client id that overrides the user's setting:
// the configured one, else the one stamped at build time.
func (c *Config) BuildClientID() string {
	if c.OAuth.ClientID != "" {
		return c.OAuth.ClientID
	}
	return buildinfo.BuildClientID()
}

// Load builds a Config by applying defaults, the JSON file, the environment
// and finally the flags set on fs. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	return load(fs, os.LookupEnv)
}

func load(fs *pflag.FlagSet, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Defaults()

	path := ""
	if v, ok := lookup(envPrefix + "CONFIG"); ok {
		path = v
	}
	if fs != nil {
		if f := fs.Lookup(flagConfig); f != nil && f.Changed {
			path = f.Value.String()
		}
	}
	if err := parseJson(&cfg, path); err != nil {
		return nil, err
	}
	if err := parseEnv(&cfg, lookup); err != nil {
		return nil, err
	}
	if err := parseFlags(&cfg, fs); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	switch c.Backend {
	case BackendNone, BackendDrive, BackendS3:
	default:
		return fmt.Errorf("unknown backend %q (want drive, s3 or none)", c.Backend)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path must not be empty")
	}
	if c.Sync.Debounce <= 0 {
		return fmt.Errorf("sync debounce must be positive, got %s", c.Sync.Debounce)
	}
	if c.Sync.RetentionCount < 0 {
		return fmt.Errorf("retention count must be >= 0, got %d", c.Sync.RetentionCount)
	}
	if c.Sync.RenewalLookahead < 0 {
		return fmt.Errorf("renewal lookahead must be >= 0, got %s", c.Sync.RenewalLookahead)
	}
	return nil
}
