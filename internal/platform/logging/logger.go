package logging

import (
	"context"
	"errors"
	"time"

	"github.com/SlpAus/aviator-backend/internal/platform/config"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// New builds the process logger from config.
func New(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()
	if cfg.Format == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// GormLogger routes gorm's SQL logging through logrus.
// Only slow queries and real errors are reported; record-not-found is expected traffic.
type GormLogger struct {
	log           *logrus.Entry
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger returns a warn-level gorm logger.
func NewGormLogger(log *logrus.Logger) *GormLogger {
	return &GormLogger{
		log:           log.WithField("component", "gorm"),
		level:         gormlogger.Warn,
		slowThreshold: 500 * time.Millisecond,
	}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *GormLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		l.log.Infof(msg, args...)
	}
}

func (l *GormLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.log.Warnf(msg, args...)
	}
}

func (l *GormLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		l.log.Errorf(msg, args...)
	}
}

func (l *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= gormlogger.Error &&
		!errors.Is(err, gorm.ErrRecordNotFound) && !errors.Is(err, gorm.ErrDuplicatedKey):
		sql, rows := fc()
		l.log.WithError(err).WithFields(logrus.Fields{"elapsed": elapsed, "rows": rows, "sql": sql}).Error("query failed")
	case elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.log.WithFields(logrus.Fields{"elapsed": elapsed, "rows": rows, "sql": sql}).Warn("slow query")
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.log.WithFields(logrus.Fields{"elapsed": elapsed, "rows": rows, "sql": sql}).Debug("query")
	}
}
