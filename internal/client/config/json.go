package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/invoicekeeper/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It is seeded
// from the current Config, so keys absent from the file keep their values.
type JsonConfig struct {
	DatabasePath string      `json:"database_path"`
	Backend      string      `json:"backend"`
	Environment  string      `json:"environment"`
	OAuth        jsonOAuth   `json:"oauth"`
	Drive        jsonDrive   `json:"drive"`
	S3           jsonS3      `json:"s3"`
	Sync         jsonSync    `json:"sync"`
	Log          jsonLogging `json:"log"`
}

type jsonOAuth struct {
	ClientID      string `json:"client_id"`
	ClientSecret  string `json:"client_secret"`
	AuthURL       string `json:"auth_url"`
	TokenURL      string `json:"token_url"`
	DeviceAuthURL string `json:"device_auth_url"`
}

type jsonDrive struct {
	BaseURL    string         `json:"base_url"`
	UploadURL  string         `json:"upload_url"`
	MaxRetries uint64         `json:"max_retries"`
	RetryBase  timex.Duration `json:"retry_base"`
}

type jsonS3 struct {
	Region    string `json:"region"`
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Prefix    string `json:"prefix"`
	PathStyle bool   `json:"path_style"`
}

type jsonSync struct {
	Debounce         timex.Duration `json:"debounce"`
	RetentionCount   int            `json:"retention_count"`
	RenewalLookahead timex.Duration `json:"renewal_lookahead"`
}

type jsonLogging struct {
	Backend string `json:"backend"`
	Format  string `json:"format"`
	Level   string `json:"level"`
	File    string `json:"file"`
}

func toJson(c *Config) JsonConfig {
	return JsonConfig{
		DatabasePath: c.DatabasePath,
		Backend:      c.Backend,
		Environment:  c.Environment,
		OAuth: jsonOAuth{
			ClientID:      c.OAuth.ClientID,
			ClientSecret:  c.OAuth.ClientSecret,
			AuthURL:       c.OAuth.AuthURL,
			TokenURL:      c.OAuth.TokenURL,
			DeviceAuthURL: c.OAuth.DeviceAuthURL,
		},
		Drive: jsonDrive{
			BaseURL:    c.Drive.BaseURL,
			UploadURL:  c.Drive.UploadURL,
			MaxRetries: c.Drive.MaxRetries,
			RetryBase:  timex.Duration{Duration: c.Drive.RetryBase},
		},
		S3: jsonS3{
			Region:    c.S3.Region,
			Endpoint:  c.S3.Endpoint,
			AccessKey: c.S3.AccessKey,
			SecretKey: c.S3.SecretKey,
			Bucket:    c.S3.Bucket,
			Prefix:    c.S3.Prefix,
			PathStyle: c.S3.PathStyle,
		},
		Sync: jsonSync{
			Debounce:         timex.Duration{Duration: c.Sync.Debounce},
			RetentionCount:   c.Sync.RetentionCount,
			RenewalLookahead: timex.Duration{Duration: c.Sync.RenewalLookahead},
		},
		Log: jsonLogging{
			Backend: c.Log.Backend,
			Format:  c.Log.Format,
			Level:   c.Log.Level,
			File:    c.Log.File,
		},
	}
}

func (jc JsonConfig) apply(c *Config) {
	c.DatabasePath = jc.DatabasePath
	c.Backend = jc.Backend
	c.Environment = jc.Environment

	c.OAuth.ClientID = jc.OAuth.ClientID
	c.OAuth.ClientSecret = jc.OAuth.ClientSecret
	c.OAuth.AuthURL = jc.OAuth.AuthURL
	c.OAuth.TokenURL = jc.OAuth.TokenURL
	c.OAuth.DeviceAuthURL = jc.OAuth.DeviceAuthURL

	c.Drive.BaseURL = jc.Drive.BaseURL
	c.Drive.UploadURL = jc.Drive.UploadURL
	c.Drive.MaxRetries = jc.Drive.MaxRetries
	c.Drive.RetryBase = time.Duration(jc.Drive.RetryBase.Duration)

	c.S3.Region = jc.S3.Region
	c.S3.Endpoint = jc.S3.Endpoint
	c.S3.AccessKey = jc.S3.AccessKey
	c.S3.SecretKey = jc.S3.SecretKey
	c.S3.Bucket = jc.S3.Bucket
	c.S3.Prefix = jc.S3.Prefix
	c.S3.PathStyle = jc.S3.PathStyle

	c.Sync.Debounce = time.Duration(jc.Sync.Debounce.Duration)
	c.Sync.RetentionCount = jc.Sync.RetentionCount
	c.Sync.RenewalLookahead = time.Duration(jc.Sync.RenewalLookahead.Duration)

	c.Log.Backend = jc.Log.Backend
	c.Log.Format = jc.Log.Format
	c.Log.Level = jc.Log.Level
	c.Log.File = jc.Log.File
}

// parseJson overlays cfg with values loaded from the JSON file at path.
// An empty path loads nothing.
func parseJson(cfg *Config, path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	jc := toJson(cfg)
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	jc.apply(cfg)
	return nil
}
