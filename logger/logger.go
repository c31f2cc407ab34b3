package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	// Logger is the global log instance.
	Logger *logrus.Logger
	// ErrorLogger carries error and fatal records, usually to stderr.
	ErrorLogger *logrus.Logger
)

// LogConfig configures log destinations and the minimum level.
type LogConfig struct {
	ErrorLogPath string
	InfoLogPath  string
	LogLevel     string
}

// CustomFormatter renders entries as "[time] [LVL] (caller) message".
type CustomFormatter struct {
	TimestampFormat string
}

// Format implements the logrus.Formatter interface.
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	timestamp := entry.Time.Format("15:04:05 MST 2006/01/02")

	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}

	logMsg := fmt.Sprintf("[%s] [%s] (%s) %s\n",
		timestamp,
		level,
		getCaller(),
		entry.Message)

	return []byte(logMsg), nil
}

// getCaller walks past the logging frames to the real call site.
func getCaller() string {
	for i := 2; i < 20; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		if strings.Contains(file, "/logrus/") ||
			strings.Contains(file, "/logger.go") ||
			strings.Contains(file, "sirupsen") ||
			strings.Contains(file, "/entry.go") {
			continue
		}

		funcName := runtime.FuncForPC(pc).Name()
		fileName := filepath.Base(file)

		return fmt.Sprintf("%s:%s:%d", fileName, funcName, line)
	}

	return "unknown:unknown:0"
}

func parseLogLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// InitLogger initializes the global loggers from config.
func InitLogger(config LogConfig) error {
	customFormatter := &CustomFormatter{
		TimestampFormat: "15:04:05 MST 2006/01/02",
	}

	Logger = logrus.New()
	Logger.SetFormatter(customFormatter)
	Logger.SetLevel(parseLogLevel(config.LogLevel))

	ErrorLogger = logrus.New()
	ErrorLogger.SetLevel(parseLogLevel(config.LogLevel))
	ErrorLogger.SetFormatter(customFormatter)

	if config.InfoLogPath != "" {
		infoLogFile, err := openLogFile(config.InfoLogPath)
		if err != nil {
			Logger.SetOutput(os.Stdout)
			Logger.Warnf("Failed to open info log file %s, fallback to stdout: %v", config.InfoLogPath, err)
		} else {
			Logger.SetOutput(io.MultiWriter(os.Stdout, infoLogFile))
		}
	} else {
		Logger.SetOutput(os.Stdout)
	}

	if config.ErrorLogPath != "" {
		errorLogFile, err := openLogFile(config.ErrorLogPath)
		if err != nil {
			ErrorLogger.SetOutput(os.Stderr)
			ErrorLogger.Warnf("Failed to open error log file %s, fallback to stderr: %v", config.ErrorLogPath, err)
		} else {
			ErrorLogger.SetOutput(io.MultiWriter(os.Stderr, errorLogFile))
		}
	} else {
		ErrorLogger.SetOutput(os.Stderr)
	}

	return nil
}

func openLogFile(logPath string) (*os.File, error) {
	logDir := filepath.Dir(logPath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}

	return os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
}

// Info logs at info level.
func Info(args ...interface{}) {
	if Logger != nil {
		Logger.Info(args...)
	}
}

// Infof logs a formatted message at info level.
func Infof(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Infof(format, args...)
	}
}

// Debug logs at debug level.
func Debug(args ...interface{}) {
	if Logger != nil {
		Logger.Debug(args...)
	}
}

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Debugf(format, args...)
	}
}

// Warn logs at warning level.
func Warn(args ...interface{}) {
	if Logger != nil {
		Logger.Warn(args...)
	}
}

// Warnf logs a formatted message at warning level.
func Warnf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Warnf(format, args...)
	}
}

// Error logs at error level.
func Error(args ...interface{}) {
	if ErrorLogger != nil {
		ErrorLogger.Error(args...)
	}
}

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...interface{}) {
	if ErrorLogger != nil {
		ErrorLogger.Errorf(format, args...)
	}
}

// Fatal logs at fatal level and terminates the process.
func Fatal(args ...interface{}) {
	if ErrorLogger != nil {
		ErrorLogger.Fatal(args...)
	} else {
		logrus.Fatal(args...)
	}
}

// Fatalf logs a formatted message at fatal level and terminates the process.
func Fatalf(format string, args ...interface{}) {
	if ErrorLogger != nil {
		ErrorLogger.Fatalf(format, args...)
	} else {
		logrus.Fatalf(format, args...)
	}
}
