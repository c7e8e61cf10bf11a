// internal/logging/logger.go
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogLevel represents logging levels
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// ParseLevel maps a config string to a LogLevel, defaulting to info
func ParseLevel(s string) LogLevel {
	switch LogLevel(s) {
	case LevelDebug, "debug":
		return LevelDebug
	case LevelWarn, "warn", "warning":
		return LevelWarn
	case LevelError, "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Config holds logging configuration
type Config struct {
	Level           LogLevel `json:"level"`
	Directory       string   `json:"directory"`
	AppLogFile      string   `json:"app_log_file"`
	EventLogFile    string   `json:"event_log_file"`
	ErrorLogFile    string   `json:"error_log_file"`
	EnableConsole   bool     `json:"enable_console"`
	ProbeSampleRate float64  `json:"probe_sample_rate"`
}

// DefaultConfig returns default logging configuration
func DefaultConfig() *Config {
	return &Config{
		Level:           LevelInfo,
		Directory:       "logs",
		AppLogFile:      "app.log",
		EventLogFile:    "events.log",
		ErrorLogFile:    "errors.log",
		EnableConsole:   true,
		ProbeSampleRate: 0.05, // 5% of probe results outside debug
	}
}

// Logger represents the global logger instance
type Logger struct {
	config      *Config
	appLogger   *slog.Logger
	eventLogger *slog.Logger
	errorLogger *slog.Logger

	// Probe-result sampling
	sampleRNG   *rand.Rand
	sampleMutex sync.Mutex

	// Counters
	probesLogged int64
	eventsLogged int64
	errorsLogged int64

	// File handles for cleanup
	appFile   *os.File
	eventFile *os.File
	errorFile *os.File
}

var (
	globalLogger *Logger
	once         sync.Once
)

// Initialize sets up the global logger
func Initialize(config *Config) error {
	var err error
	once.Do(func() {
		globalLogger, err = newLogger(config)
	})
	return err
}

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	if globalLogger == nil {
		// Fallback to default config if not initialized
		_ = Initialize(DefaultConfig())
	}
	return globalLogger
}

// newLogger creates a new logger instance
func newLogger(config *Config) (*Logger, error) {
	if err := os.MkdirAll(config.Directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logger := &Logger{
		config:    config,
		sampleRNG: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := logger.setupAppLogger(); err != nil {
		return nil, fmt.Errorf("failed to setup app logger: %w", err)
	}

	if err := logger.setupEventLogger(); err != nil {
		return nil, fmt.Errorf("failed to setup event logger: %w", err)
	}

	if err := logger.setupErrorLogger(); err != nil {
		return nil, fmt.Errorf("failed to setup error logger: %w", err)
	}

	return logger, nil
}

// setupAppLogger configures the application logger
func (l *Logger) setupAppLogger() error {
	writers := []io.Writer{}

	appPath := filepath.Join(l.config.Directory, l.config.AppLogFile)
	appFile, err := os.OpenFile(appPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open app log file: %w", err)
	}
	l.appFile = appFile
	writers = append(writers, appFile)

	if l.config.EnableConsole {
		writers = append(writers, os.Stdout)
	}

	multiWriter := io.MultiWriter(writers...)

	opts := &slog.HandlerOptions{
		Level: l.getSlogLevel(),
	}

	handler := slog.NewJSONHandler(multiWriter, opts)
	l.appLogger = slog.New(handler)

	return nil
}

// setupEventLogger configures the probe/transition event logger
func (l *Logger) setupEventLogger() error {
	eventPath := filepath.Join(l.config.Directory, l.config.EventLogFile)
	eventFile, err := os.OpenFile(eventPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open event log file: %w", err)
	}
	l.eventFile = eventFile

	opts := &slog.HandlerOptions{
		Level: slog.LevelDebug, // Event logger accepts all levels
	}

	handler := slog.NewJSONHandler(eventFile, opts)
	l.eventLogger = slog.New(handler)

	return nil
}

// setupErrorLogger configures the error logger
func (l *Logger) setupErrorLogger() error {
	errorPath := filepath.Join(l.config.Directory, l.config.ErrorLogFile)
	errorFile, err := os.OpenFile(errorPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open error log file: %w", err)
	}
	l.errorFile = errorFile

	opts := &slog.HandlerOptions{
		Level: slog.LevelWarn, // Errors and warnings only
	}

	handler := slog.NewJSONHandler(errorFile, opts)
	l.errorLogger = slog.New(handler)

	return nil
}

// getSlogLevel converts our LogLevel to slog.Level
func (l *Logger) getSlogLevel() slog.Level {
	switch l.config.Level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// shouldSampleProbe determines if a probe result should be logged
func (l *Logger) shouldSampleProbe() bool {
	if l.config.Level == LevelDebug {
		return true // Always log in debug mode
	}

	l.sampleMutex.Lock()
	defer l.sampleMutex.Unlock()

	return l.sampleRNG.Float64() < l.config.ProbeSampleRate
}

// Application Logging Methods

// Info logs an informational message
func (l *Logger) Info(component, message string, fields ...interface{}) {
	l.appLogger.Info(message, append([]interface{}{"component", component}, fields...)...)
}

// Warn logs a warning message
func (l *Logger) Warn(component, message string, fields ...interface{}) {
	l.appLogger.Warn(message, append([]interface{}{"component", component}, fields...)...)
}

// Error logs an error message
func (l *Logger) Error(component, message string, err error, fields ...interface{}) {
	allFields := append([]interface{}{"component", component}, fields...)
	if err != nil {
		allFields = append(allFields, "error", err.Error())
	}
	l.appLogger.Error(message, allFields...)
}

// Debug logs a debug message
func (l *Logger) Debug(component, message string, fields ...interface{}) {
	l.appLogger.Debug(message, append([]interface{}{"component", component}, fields...)...)
}

// Event Logging Methods

// LogProbe logs one reachability sample with sampling
func (l *Logger) LogProbe(hostname, address string, up bool, rtt time.Duration) {
	if !l.shouldSampleProbe() {
		return
	}

	l.eventLogger.Info("probe",
		"hostname", hostname,
		"address", address,
		"up", up,
		"rtt_ms", rtt.Milliseconds(),
		"timestamp", time.Now().Unix(),
	)

	l.probesLogged++
}

// LogTransition logs a confirmed stable-status change
func (l *Logger) LogTransition(hostname, address, prev, new string) {
	l.eventLogger.Info("stable_transition",
		"hostname", hostname,
		"address", address,
		"prev", prev,
		"new", new,
		"timestamp", time.Now().Unix(),
	)
	l.eventsLogged++
}

// LogPlan logs a non-empty reconciliation plan
func (l *Logger) LogPlan(hostname string, creates, deletes, updates int) {
	l.eventLogger.Info("reconcile_plan",
		"hostname", hostname,
		"creates", creates,
		"deletes", deletes,
		"updates", updates,
		"timestamp", time.Now().Unix(),
	)
	l.eventsLogged++
}

// Error Event Logging Methods

// LogZoneAccessDenied logs provider 403s for a zone
func (l *Logger) LogZoneAccessDenied(zoneID, hostname string) {
	l.errorLogger.Warn("zone_access_denied",
		"event_type", "zone_access_denied",
		"zone_id", zoneID,
		"hostname", hostname,
		"timestamp", time.Now().Unix(),
	)
	l.errorsLogged++
}

// LogProviderError logs transient provider failures
func (l *Logger) LogProviderError(zoneID, hostname string, err error) {
	l.errorLogger.Error("provider_error",
		"event_type", "provider_error",
		"zone_id", zoneID,
		"hostname", hostname,
		"error", err.Error(),
		"timestamp", time.Now().Unix(),
	)
	l.errorsLogged++
}

// LogNotifyFailure logs swallowed notification failures
func (l *Logger) LogNotifyFailure(hostname, address string, err error) {
	l.errorLogger.Warn("notify_failure",
		"event_type", "notify_failure",
		"hostname", hostname,
		"address", address,
		"error", err.Error(),
		"timestamp", time.Now().Unix(),
	)
	l.errorsLogged++
}

// GetStats returns logging statistics
func (l *Logger) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"probes_logged": l.probesLogged,
		"events_logged": l.eventsLogged,
		"errors_logged": l.errorsLogged,
		"sample_rate":   l.config.ProbeSampleRate,
		"log_level":     string(l.config.Level),
	}
}

// Close closes all log files
func (l *Logger) Close() error {
	var lastErr error

	if l.appFile != nil {
		if err := l.appFile.Close(); err != nil {
			lastErr = err
		}
	}

	if l.eventFile != nil {
		if err := l.eventFile.Close(); err != nil {
			lastErr = err
		}
	}

	if l.errorFile != nil {
		if err := l.errorFile.Close(); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// Global convenience functions

// Info logs an informational message using the global logger
func Info(component, message string, fields ...interface{}) {
	GetLogger().Info(component, message, fields...)
}

// Warn logs a warning message using the global logger
func Warn(component, message string, fields ...interface{}) {
	GetLogger().Warn(component, message, fields...)
}

// Error logs an error message using the global logger
func Error(component, message string, err error, fields ...interface{}) {
	GetLogger().Error(component, message, err, fields...)
}

// Debug logs a debug message using the global logger
func Debug(component, message string, fields ...interface{}) {
	GetLogger().Debug(component, message, fields...)
}

// LogProbe logs a probe result using the global logger
func LogProbe(hostname, address string, up bool, rtt time.Duration) {
	GetLogger().LogProbe(hostname, address, up, rtt)
}

// LogTransition logs a stable-status change using the global logger
func LogTransition(hostname, address, prev, new string) {
	GetLogger().LogTransition(hostname, address, prev, new)
}

// LogPlan logs a reconciliation plan using the global logger
func LogPlan(hostname string, creates, deletes, updates int) {
	GetLogger().LogPlan(hostname, creates, deletes, updates)
}

// LogZoneAccessDenied logs a provider 403 using the global logger
func LogZoneAccessDenied(zoneID, hostname string) {
	GetLogger().LogZoneAccessDenied(zoneID, hostname)
}

// LogProviderError logs a transient provider failure using the global logger
func LogProviderError(zoneID, hostname string, err error) {
	GetLogger().LogProviderError(zoneID, hostname, err)
}

// LogNotifyFailure logs a swallowed notification failure using the global logger
func LogNotifyFailure(hostname, address string, err error) {
	GetLogger().LogNotifyFailure(hostname, address, err)
}
