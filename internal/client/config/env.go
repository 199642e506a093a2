package config

import (
	"fmt"
	"strconv"
	"time"
)

const envPrefix = "INVOICEKEEPER_"

// parseEnv overlays cfg with INVOICEKEEPER_* variables that are set.
func parseEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(envPrefix + name)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = d
		return nil
	}

	str("DB", &cfg.DatabasePath)
	str("BACKEND", &cfg.Backend)
	str("ENVIRONMENT", &cfg.Environment)

	str("OAUTH_CLIENT_ID", &cfg.OAuth.ClientID)
	str("OAUTH_CLIENT_SECRET", &cfg.OAuth.ClientSecret)

	str("DRIVE_BASE_URL", &cfg.Drive.BaseURL)
	str("DRIVE_UPLOAD_URL", &cfg.Drive.UploadURL)
	if v, ok := lookup(envPrefix + "DRIVE_MAX_RETRIES"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sDRIVE_MAX_RETRIES: %w", envPrefix, err)
		}
		cfg.Drive.MaxRetries = n
	}

	str("S3_REGION", &cfg.S3.Region)
	str("S3_ENDPOINT", &cfg.S3.Endpoint)
	str("S3_ACCESS_KEY", &cfg.S3.AccessKey)
	str("S3_SECRET_KEY", &cfg.S3.SecretKey)
	str("S3_BUCKET", &cfg.S3.Bucket)
	str("S3_PREFIX", &cfg.S3.Prefix)
	if v, ok := lookup(envPrefix + "S3_PATH_STYLE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sS3_PATH_STYLE: %w", envPrefix, err)
		}
		cfg.S3.PathStyle = b
	}

	if err := dur("SYNC_DEBOUNCE", &cfg.Sync.Debounce); err != nil {
		return err
	}
	if v, ok := lookup(envPrefix + "SYNC_RETENTION"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sSYNC_RETENTION: %w", envPrefix, err)
		}
		cfg.Sync.RetentionCount = n
	}
	if err := dur("SYNC_RENEWAL_LOOKAHEAD", &cfg.Sync.RenewalLookahead); err != nil {
		return err
	}

	str("LOG_BACKEND", &cfg.Log.Backend)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FILE", &cfg.Log.File)
	return nil
}
