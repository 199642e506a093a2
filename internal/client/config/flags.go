package config

import (
	"github.com/spf13/pflag"
)

const flagConfig = "config"

// RegisterFlags adds the configuration flags to fs, typically the persistent
// flags of the root command. Only flags the user sets override other sources.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()

	fs.StringP(flagConfig, "c", "", "path to a JSON config file")
	fs.String("db", d.DatabasePath, "path to the local database")
	fs.String("backend", d.Backend, "remote backend: drive, s3 or none")
	fs.String("env", d.Environment, "environment; non-prod uses a separate remote folder")

	fs.String("s3-bucket", d.S3.Bucket, "S3 bucket for backups")
	fs.String("s3-prefix", d.S3.Prefix, "key prefix inside the S3 bucket")
	fs.String("s3-endpoint", d.S3.Endpoint, "custom S3 endpoint (MinIO, localstack)")
	fs.String("s3-region", d.S3.Region, "S3 region")

	fs.Duration("debounce", d.Sync.Debounce, "quiet period after the last write before autosave")
	fs.Int("retention", d.Sync.RetentionCount, "default number of backups kept (0 = unlimited)")

	fs.String("log-backend", d.Log.Backend, "logger backend: slog or zap")
	fs.String("log-format", d.Log.Format, "log format: text or json")
	fs.String("log-level", d.Log.Level, "log level: debug, info, warn, error")
	fs.String("log-file", d.Log.File, "write logs to this rotating file instead of stderr")
}

// parseFlags copies explicitly set flags from fs into cfg.
func parseFlags(cfg *Config, fs *pflag.FlagSet) error {
	if fs == nil {
		return nil
	}

	strs := map[string]*string{
		"db":          &cfg.DatabasePath,
		"backend":     &cfg.Backend,
		"env":         &cfg.Environment,
		"s3-bucket":   &cfg.S3.Bucket,
		"s3-prefix":   &cfg.S3.Prefix,
		"s3-endpoint": &cfg.S3.Endpoint,
		"s3-region":   &cfg.S3.Region,
		"log-backend": &cfg.Log.Backend,
		"log-format":  &cfg.Log.Format,
		"log-level":   &cfg.Log.Level,
		"log-file":    &cfg.Log.File,
	}

	var err error
	// VisitAll+Changed: cobra parses persistent flags through the executing
	// command's merged set, so fs itself may not record them as visited.
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil || !f.Changed {
			return
		}
		if dst, ok := strs[f.Name]; ok {
			*dst, err = fs.GetString(f.Name)
			return
		}
		switch f.Name {
		case "debounce":
			cfg.Sync.Debounce, err = fs.GetDuration(f.Name)
		case "retention":
			cfg.Sync.RetentionCount, err = fs.GetInt(f.Name)
		}
	})
	return err
}
