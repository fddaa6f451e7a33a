package logger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormLogger routes gorm's SQL logging through zap.
type GormLogger struct {
	log           *zap.SugaredLogger
	SlowThreshold time.Duration
	LogLevel      gormlogger.LogLevel
}

// NewGormLogger logs slow queries and errors; record-not-found is not an error.
func NewGormLogger(log *zap.SugaredLogger, slow time.Duration) *GormLogger {
	if slow <= 0 {
		slow = 200 * time.Millisecond
	}
	return &GormLogger{log: log, SlowThreshold: slow, LogLevel: gormlogger.Warn}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	n := *l
	n.LogLevel = level
	return &n
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Info {
		l.log.Infof(msg, data...)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Warn {
		l.log.Warnf(msg, data...)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Error {
		l.log.Errorf(msg, data...)
	}
}

// Trace logs one executed statement.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	kv := []interface{}{"sql", sql, "elapsed_ms", float64(elapsed.Nanoseconds()) / 1e6, "rows", rows}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		if l.LogLevel >= gormlogger.Error {
			l.log.Errorw("gorm query failed", append(kv, "err", err)...)
		}
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold:
		if l.LogLevel >= gormlogger.Warn {
			l.log.Warnw("gorm slow query", append(kv, "threshold", l.SlowThreshold)...)
		}
	default:
		if l.LogLevel >= gormlogger.Info {
			l.log.Infow("gorm query", kv...)
		}
	}
}
