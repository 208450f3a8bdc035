// Package logger builds the zerolog logger shared by the worker components.
package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"go-agent-worker/internal/config"
)

// New returns a logger writing to every enabled output of cfg, and a
// closer for the file outputs.
func New(cfg config.LogConfig) (zerolog.Logger, io.Closer, error) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	writers, closers, err := createWriters(cfg)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("failed to create log writers: %w", err)
	}
	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	l := zerolog.New(out).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
	return l, closers, nil
}

func createWriters(cfg config.LogConfig) ([]io.Writer, multiCloser, error) {
	var (
		writers []io.Writer
		closers multiCloser
	)
	for _, o := range cfg.Output {
		if !o.Enabled {
			continue
		}
		switch o.Type {
		case "console":
			if strings.EqualFold(cfg.Format, "json") {
				writers = append(writers, os.Stderr)
			} else {
				writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
			}
		case "file":
			if o.Path == "" {
				return nil, nil, errors.New("file output needs a path")
			}
			if err := os.MkdirAll(filepath.Dir(o.Path), 0o755); err != nil {
				return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
			}
			lj := &lumberjack.Logger{
				Filename:   o.Path,
				MaxSize:    o.Rotate.MaxSizeMB,
				MaxBackups: o.Rotate.MaxBackups,
				MaxAge:     o.Rotate.MaxAgeDays,
				Compress:   o.Rotate.Compress,
			}
			writers = append(writers, lj)
			closers = append(closers, lj)
		default:
			return nil, nil, fmt.Errorf("unknown log output type %q", o.Type)
		}
	}
	return writers, closers, nil
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func parseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return l
}
