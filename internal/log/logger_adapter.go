package log

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type LoggerConfig struct {
	Pattern string `mapstructure:"pattern"`
	Time    string `mapstructure:"time"`
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`

	File *FileAppenderOpt `mapstructure:"file"`
}

// DefaultConfig logs info and above to the console.
func DefaultConfig() *LoggerConfig {
	return &LoggerConfig{
		Pattern: "%time [%level] %msg %field\n",
		Time:    "2006-01-02 15:04:05.000",
		Level:   "info",
		Console: true,
	}
}

type logrusAdapter struct {
	entry *logrus.Entry
}

func initByConfig(cfg *LoggerConfig) error {
	l := logrus.New()
	l.SetFormatter(&formatter{
		pattern: cfg.Pattern,
		time:    cfg.Time,
	})
	l.SetLevel(parseLevel(cfg.Level))

	mw := NewMultiWriter()
	if cfg.Console {
		mw.Add(os.Stdout)
	}
	if cfg.File != nil && cfg.File.Filename != "" {
		mw.AddFileAppender(*cfg.File)
	}
	l.SetOutput(mw)

	logger = &logrusAdapter{
		entry: logrus.NewEntry(l),
	}
	return nil
}

// parseLevel maps config names onto logrus levels; critical is an
// alias for fatal.
func parseLevel(name string) logrus.Level {
	if strings.EqualFold(name, "critical") {
		return logrus.FatalLevel
	}
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

func (l *logrusAdapter) Print(args ...interface{})                 { l.entry.Print(args...) }
func (l *logrusAdapter) Printf(format string, args ...interface{}) { l.entry.Printf(format, args...) }

func (l *logrusAdapter) Trace(args ...interface{})                 { l.entry.Trace(args...) }
func (l *logrusAdapter) Tracef(format string, args ...interface{}) { l.entry.Tracef(format, args...) }

func (l *logrusAdapter) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *logrusAdapter) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

func (l *logrusAdapter) Info(args ...interface{})                 { l.entry.Info(args...) }
func (l *logrusAdapter) Infof(format string, args ...interface{}) { l.entry.Infof(format, args...) }

func (l *logrusAdapter) Warn(args ...interface{})                 { l.entry.Warn(args...) }
func (l *logrusAdapter) Warnf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }

func (l *logrusAdapter) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *logrusAdapter) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusAdapter) Fatal(args ...interface{})                 { l.entry.Fatal(args...) }
func (l *logrusAdapter) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

func (l *logrusAdapter) Panic(args ...interface{})                 { l.entry.Panic(args...) }
func (l *logrusAdapter) Panicf(format string, args ...interface{}) { l.entry.Panicf(format, args...) }

func (l *logrusAdapter) WithField(field string, value interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithField(field, value)}
}
func (l *logrusAdapter) WithFields(fields map[string]interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithFields(fields)}
}
func (l *logrusAdapter) WithError(err error) Logger {
	return &logrusAdapter{entry: l.entry.WithError(err)}
}

func (l *logrusAdapter) IsTraceEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.TraceLevel)
}
func (l *logrusAdapter) IsDebugEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel)
}
func (l *logrusAdapter) IsInfoEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.InfoLevel)
}
