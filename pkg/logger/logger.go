// Package logger wraps logrus for the TDS processes. Every daemon and the
// REST surface take a *Logger. A Logger from NewDefault stamps the
// component name on each line so interleaved logs from the server, the
// ingest daemon, and the installer daemon stay attributable; a Logger from
// New carries no component field.
package logger

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Logger.
type Logger struct {
	*logrus.Logger
}

// LoggingConfig selects level, format, and output destination.
type LoggingConfig struct {
	Level      string
	Format     string
	Output     string
	FilePrefix string
}

// componentHook stamps a component field onto every entry.
type componentHook struct {
	name string
}

func (h componentHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h componentHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["component"]; !ok {
		e.Data["component"] = h.name
	}
	return nil
}

// New builds a Logger from config. Unknown levels fall back to info;
// output "file" appends to logs/<prefix>.log instead of stdout, staying on
// stdout when the file cannot be opened.
func New(cfg LoggingConfig) *Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	log.SetOutput(os.Stdout)
	if strings.EqualFold(cfg.Output, "file") {
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "tds"
		}
		if file, err := openLogFile(prefix); err != nil {
			log.WithError(err).Error("log file unavailable; continuing on stdout")
		} else {
			log.SetOutput(file)
		}
	}

	return &Logger{Logger: log}
}

// NewDefault builds an info-level stdout Logger stamping name as the
// component on every line.
func NewDefault(name string) *Logger {
	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stdout)
	if name != "" {
		log.AddHook(componentHook{name: name})
	}
	return &Logger{Logger: log}
}

func openLogFile(prefix string) (*os.File, error) {
	dir := "logs"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, prefix+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// WithField returns a log entry carrying one extra field.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithFields returns a log entry carrying several extra fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}
