package common

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// dCacheLogger implements the ILogger interface on top of a zap logger.
// zap itself logs everything, the level of each named logger is applied here.
// The level is atomic: servers set it while workers of other servers log.
type dCacheLogger struct {
	level  zap.AtomicLevel
	logger *zap.SugaredLogger
}

func (l *dCacheLogger) SetLevel(level logger.LogLevel) {
	l.level.SetLevel(zapLevel(level))
}

func (l *dCacheLogger) Debugf(format string, args ...interface{}) {
	if l.level.Enabled(zapcore.DebugLevel) {
		l.logger.Debugf(format, args...)
	}
}

func (l *dCacheLogger) Infof(format string, args ...interface{}) {
	if l.level.Enabled(zapcore.InfoLevel) {
		l.logger.Infof(format, args...)
	}
}

func (l *dCacheLogger) Warningf(format string, args ...interface{}) {
	if l.level.Enabled(zapcore.WarnLevel) {
		l.logger.Warnf(format, args...)
	}
}

func (l *dCacheLogger) Errorf(format string, args ...interface{}) {
	if l.level.Enabled(zapcore.ErrorLevel) {
		l.logger.Errorf(format, args...)
	}
}

func (l *dCacheLogger) Panicf(format string, args ...interface{}) {
	l.logger.Panicf(format, args...)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// base is the zap core shared by all named loggers
var base = newBaseLogger()

func newBaseLogger() *zap.Logger {
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05")
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderCfg.ConsoleSeparator = " | "

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.Lock(os.Stdout),
		zap.DebugLevel,
	)
	return zap.New(core)
}

// CreateLogger implements the logger.Factory function type
func CreateLogger(pkgName string) logger.ILogger {
	return newLogger(base, pkgName)
}

func newLogger(z *zap.Logger, pkgName string) *dCacheLogger {
	return &dCacheLogger{
		level:  zap.NewAtomicLevelAt(zapcore.InfoLevel),
		logger: z.Named(fmt.Sprintf("%-15s", pkgName)).Sugar(),
	}
}

// zapLevel maps a dragonboat level to the zap level of the same severity
func zapLevel(level logger.LogLevel) zapcore.Level {
	switch level {
	case logger.DEBUG:
		return zapcore.DebugLevel
	case logger.INFO:
		return zapcore.InfoLevel
	case logger.WARNING:
		return zapcore.WarnLevel
	case logger.ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.DPanicLevel
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// LoggerNames lists every named logger of the application
var LoggerNames = []string{
	"worker",
	"identifier",
	"store",
	"cache",
	"deferred",
	"transport/rpc",
	"rpc",
}

var installFactory sync.Once

// InitLoggers installs the zap backed logger factory and sets the level of
// all loggers. It must run before the first log line is written.
func InitLoggers(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	// Set as the global logger factory, once per process
	installFactory.Do(func() { logger.SetLoggerFactory(CreateLogger) })

	for _, name := range LoggerNames {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}

// SyncLoggers flushes buffered log entries
func SyncLoggers() {
	_ = base.Sync()
}
