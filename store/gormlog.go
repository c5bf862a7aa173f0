package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pithecene-io/unlockbench/log"
)

// slowQuery is the threshold above which a statement is logged as slow.
const slowQuery = time.Second

// GormLogger forwards gorm traces to the structured logger.
type GormLogger struct {
	logger   *log.Logger
	LogLevel gormlogger.LogLevel
}

// NewGormLogger creates a gorm logger at warn level.
func NewGormLogger(l *log.Logger) *GormLogger {
	return &GormLogger{logger: l, LogLevel: gormlogger.Warn}
}

// LogMode returns a copy at the given level.
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *l
	c.LogLevel = level
	return &c
}

// Info implements gormlogger.Interface.
func (l *GormLogger) Info(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Info {
		l.logger.Info(fmt.Sprintf(msg, data...), nil)
	}
}

// Warn implements gormlogger.Interface.
func (l *GormLogger) Warn(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Warn {
		l.logger.Warn(fmt.Sprintf(msg, data...), nil)
	}
}

// Error implements gormlogger.Interface.
func (l *GormLogger) Error(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Error {
		l.logger.Error(fmt.Sprintf(msg, data...), nil)
	}
}

// Trace logs one executed statement.
func (l *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := map[string]any{
		"sql":     sql,
		"rows":    rows,
		"time_ms": float64(elapsed.Nanoseconds()) / 1e6,
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.LogLevel >= gormlogger.Error:
		fields["error"] = err.Error()
		l.logger.Error("sql error", fields)
	case elapsed > slowQuery && l.LogLevel >= gormlogger.Warn:
		fields["threshold"] = slowQuery.String()
		l.logger.Warn("slow sql", fields)
	case l.LogLevel == gormlogger.Info:
		l.logger.Debug("sql", fields)
	}
}

var _ gormlogger.Interface = (*GormLogger)(nil)
