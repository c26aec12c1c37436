// Package logging provides categorized logging for astronoma.
// Each category maps to a named zap logger so output can be filtered per
// subsystem. Until Initialize is called every logger is a no-op, which keeps
// library packages silent in tests.
package logging

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot     Category = "boot"     // CLI startup, config loading
	CategoryAssets   Category = "assets"   // Resource cache, placeholder synthesis
	CategoryBatch    Category = "batch"    // Batched texture generation calls
	CategoryChannel  Category = "channel"  // Duplex event channel, correlated calls
	CategoryGate     Category = "gate"     // Readiness gate transitions
	CategoryUniverse Category = "universe" // Universe regeneration and view state
	CategoryAPI      Category = "api"      // REST calls to the universe service
)

// Config mirrors config.LoggingConfig to avoid an import cycle.
type Config struct {
	Level      string          // debug, info, warn, error
	Format     string          // json, console
	Categories map[string]bool // missing categories are enabled
}

// Logger is a printf-style logger bound to one category.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu      sync.RWMutex
	base    = zap.NewNop()
	cfg     Config
	loggers = make(map[Category]*Logger)
)

// Initialize builds the process logger from cfg. Safe to call more than once;
// the latest call wins.
func Initialize(c Config) error {
	level, err := parseLevel(c.Level)
	if err != nil {
		return err
	}

	zc := zap.NewProductionConfig()
	if strings.EqualFold(c.Format, "console") || c.Format == "text" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	l, err := zc.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	mu.Lock()
	cfg = c
	mu.Unlock()
	Use(l)
	return nil
}

// Use installs an already built zap logger, e.g. zaptest/observer in tests.
func Use(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	defer mu.Unlock()
	base = l
	loggers = make(map[Category]*Logger)
}

// Base returns the underlying zap logger.
func Base() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Sync flushes buffered log entries.
func Sync() error {
	return Base().Sync()
}

// IsCategoryEnabled reports whether a category is allowed by the config.
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if cfg.Categories == nil {
		return true
	}
	enabled, ok := cfg.Categories[string(category)]
	if !ok {
		return true
	}
	return enabled
}

// Get returns (or creates) the logger for the given category.
// Disabled categories get a no-op logger.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category, sugar: zap.NewNop().Sugar()}
	}

	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := &Logger{
		category: category,
		sugar:    base.Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

// With returns a child logger carrying structured key/value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// Category returns the logger's category.
func (l *Logger) Category() Category {
	return l.category
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// =============================================================================
// Convenience functions
// =============================================================================

func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

func Assets(format string, args ...interface{}) {
	Get(CategoryAssets).Info(format, args...)
}

func AssetsDebug(format string, args ...interface{}) {
	Get(CategoryAssets).Debug(format, args...)
}

func AssetsWarn(format string, args ...interface{}) {
	Get(CategoryAssets).Warn(format, args...)
}

func Batch(format string, args ...interface{}) {
	Get(CategoryBatch).Info(format, args...)
}

func BatchWarn(format string, args ...interface{}) {
	Get(CategoryBatch).Warn(format, args...)
}

func Channel(format string, args ...interface{}) {
	Get(CategoryChannel).Info(format, args...)
}

func ChannelDebug(format string, args ...interface{}) {
	Get(CategoryChannel).Debug(format, args...)
}

func ChannelWarn(format string, args ...interface{}) {
	Get(CategoryChannel).Warn(format, args...)
}

func Gate(format string, args ...interface{}) {
	Get(CategoryGate).Info(format, args...)
}

func GateDebug(format string, args ...interface{}) {
	Get(CategoryGate).Debug(format, args...)
}

func Universe(format string, args ...interface{}) {
	Get(CategoryUniverse).Info(format, args...)
}

func UniverseWarn(format string, args ...interface{}) {
	Get(CategoryUniverse).Warn(format, args...)
}

func API(format string, args ...interface{}) {
	Get(CategoryAPI).Info(format, args...)
}

func APIDebug(format string, args ...interface{}) {
	Get(CategoryAPI).Debug(format, args...)
}
