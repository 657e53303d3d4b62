package gorm

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	gormlib "gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// zlogger routes gorm's logging into zerolog.
type zlogger struct {
	lg            zerolog.Logger
	slowThreshold time.Duration
}

func newLogger(lg zerolog.Logger, slow time.Duration) logger.Interface {
	return &zlogger{lg: lg, slowThreshold: slow}
}

func (l *zlogger) LogMode(level logger.LogLevel) logger.Interface {
	c := *l
	switch level {
	case logger.Silent:
		c.lg = l.lg.Level(zerolog.Disabled)
	case logger.Error:
		c.lg = l.lg.Level(zerolog.ErrorLevel)
	case logger.Warn:
		c.lg = l.lg.Level(zerolog.WarnLevel)
	case logger.Info:
		c.lg = l.lg.Level(zerolog.InfoLevel)
	}
	return &c
}

func (l *zlogger) Info(_ context.Context, msg string, args ...any) {
	l.lg.Info().Msgf(msg, args...)
}

func (l *zlogger) Warn(_ context.Context, msg string, args ...any) {
	l.lg.Warn().Msgf(msg, args...)
}

func (l *zlogger) Error(_ context.Context, msg string, args ...any) {
	l.lg.Error().Msgf(msg, args...)
}

func (l *zlogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gormlib.ErrRecordNotFound):
		sql, rows := fc()
		l.lg.Error().Err(err).Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("query failed")
	case l.slowThreshold > 0 && elapsed > l.slowThreshold:
		sql, rows := fc()
		l.lg.Warn().Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("slow query")
	default:
		if e := l.lg.Debug(); e.Enabled() {
			sql, rows := fc()
			e.Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("query")
		}
	}
}
