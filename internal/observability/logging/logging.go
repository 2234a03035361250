// Package logging builds the structured logger shared across the
// pipeline components, rolling to disk when configured to.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/brainvol/segforge/internal/config"
)

// componentFormatter renders "[timestamp] [level] [component] message k=v"
// lines, matching the density of the reference corpus's request logger.
type componentFormatter struct{}

func (componentFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(entry.Time.Format("2006-01-02 15:04:05"))
	sb.WriteString("] [")
	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}
	sb.WriteString(fmt.Sprintf("%-5s", level))
	sb.WriteString("]")

	if component, ok := entry.Data["component"]; ok {
		sb.WriteString(fmt.Sprintf(" [%v]", component))
	}
	sb.WriteString(" ")
	sb.WriteString(strings.TrimRight(entry.Message, "\r\n"))

	for k, v := range entry.Data {
		if k == "component" {
			continue
		}
		sb.WriteString(fmt.Sprintf(" %s=%v", k, v))
	}
	sb.WriteString("\n")
	return []byte(sb.String()), nil
}

// New builds a *logrus.Logger that writes to stdout, or to a
// size/age-rotated file under cfg.LogsDir when cfg.LoggingToFile is set.
func New(cfg config.Config) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetFormatter(componentFormatter{})
	if cfg.Debug {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	if !cfg.LoggingToFile {
		logger.SetOutput(os.Stdout)
		return logger, nil
	}

	if err := os.MkdirAll(cfg.LogsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}
	logger.SetOutput(&lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogsDir, "segforge.log"),
		MaxSize:    cfg.LogsMaxSizeMB,
		MaxBackups: cfg.LogsMaxBackups,
		MaxAge:     cfg.LogsMaxAgeDays,
		Compress:   true,
	})
	return logger, nil
}

// For returns an entry tagged with the given component name, the shape
// every package in this service uses instead of touching a package-level
// global directly.
func For(logger *logrus.Logger, component string) *logrus.Entry {
	return logger.WithField("component", component)
}
