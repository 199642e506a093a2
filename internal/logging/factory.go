package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the backend and output of the process logger.
type Options struct {
	Backend string // "slog" (default) or "zap"
	Format  string // "text" (default) or "json"
	Level   string // debug, info, warn, error
	File    string // when set, logs rotate in this file instead of stderr
}

// New builds a Logger from opts. The returned closer flushes and releases the
// output and must be called on shutdown.
func New(opts Options) (Logger, func() error, error) {
	out := io.Writer(os.Stderr)
	closeOut := func() error { return nil }
	if opts.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		out = rotating
		closeOut = rotating.Close
	}

	switch strings.ToLower(opts.Backend) {
	case "", "slog":
		level, err := slogLevel(opts.Level)
		if err != nil {
			return nil, nil, err
		}
		ho := &slog.HandlerOptions{Level: level}
		var h slog.Handler
		if strings.EqualFold(opts.Format, "json") {
			h = slog.NewJSONHandler(out, ho)
		} else {
			h = slog.NewTextHandler(out, ho)
		}
		return NewSlogLogger(slog.New(h)), closeOut, nil

	case "zap":
		level, err := zapcore.ParseLevel(levelOrDefault(opts.Level))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		var enc zapcore.Encoder
		if strings.EqualFold(opts.Format, "json") {
			enc = zapcore.NewJSONEncoder(encCfg)
		} else {
			enc = zapcore.NewConsoleEncoder(encCfg)
		}
		zl := zap.New(zapcore.NewCore(enc, zapcore.AddSync(out), level))
		return NewZapLogger(zl), func() error {
			_ = zl.Sync()
			return closeOut()
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown log backend %q", opts.Backend)
	}
}

func levelOrDefault(s string) string {
	if s == "" {
		return "info"
	}
	return s
}

func slogLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(levelOrDefault(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return l, nil
}
