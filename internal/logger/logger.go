package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// DefaultLogFile is where the library logs unless configured otherwise.
const DefaultLogFile = "/var/log/drm-cursor.log"

var Logger *log.Logger

var (
	mu      sync.Mutex
	logFile *os.File
	// destination chosen by Setup
	dest io.Writer = os.Stderr
)

func init() {
	Logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "drm-cursor"})
	// skip the package-level wrappers when reporting callers
	Logger.SetCallerOffset(1)

	switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
	case "DEBUG":
		Logger.SetLevel(log.DebugLevel)
	case "WARN", "WARNING":
		Logger.SetLevel(log.WarnLevel)
	case "ERROR":
		Logger.SetLevel(log.ErrorLevel)
	default:
		Logger.SetLevel(log.InfoLevel)
	}
}

// Setup sends log output to path, or stderr when path is empty or cannot be
// opened, and enables debug level when debug is set.
func Setup(debug bool, path string) error {
	mu.Lock()
	defer mu.Unlock()

	var (
		w   io.Writer = os.Stderr
		err error
	)
	if path != "" && path != "-" {
		var f *os.File
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			closeFileLocked()
			logFile = f
			w = f
		}
	}

	dest = w
	Logger.SetOutput(w)
	Logger.SetReportTimestamp(true)
	setDebugLocked(debug)
	return err
}

// SetOutput redirects log output, for example into a terminal UI. A nil
// writer restores the destination chosen by Setup.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = dest
	}
	Logger.SetOutput(w)
}

// SetDebug toggles debug level at runtime.
func SetDebug(on bool) {
	mu.Lock()
	defer mu.Unlock()
	setDebugLocked(on)
}

func setDebugLocked(on bool) {
	if on {
		Logger.SetLevel(log.DebugLevel)
		Logger.SetReportCaller(true)
		return
	}
	Logger.SetLevel(log.InfoLevel)
	Logger.SetReportCaller(false)
}

// IsDebug reports whether debug messages are emitted.
func IsDebug() bool {
	return Logger.GetLevel() <= log.DebugLevel
}

// Close releases the log file, if any, and falls back to stderr.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	dest = os.Stderr
	Logger.SetOutput(os.Stderr)
	closeFileLocked()
}

func closeFileLocked() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

func Info(msg interface{}, keyvals ...interface{}) {
	Logger.Info(msg, keyvals...)
}

func Debug(msg interface{}, keyvals ...interface{}) {
	Logger.Debug(msg, keyvals...)
}

func Warn(msg interface{}, keyvals ...interface{}) {
	Logger.Warn(msg, keyvals...)
}

func Error(msg interface{}, keyvals ...interface{}) {
	Logger.Error(msg, keyvals...)
}

func Fatal(msg interface{}, keyvals ...interface{}) {
	Logger.Fatal(msg, keyvals...)
}

func Infof(format string, args ...interface{}) {
	Logger.Infof(format, args...)
}

func Debugf(format string, args ...interface{}) {
	Logger.Debugf(format, args...)
}

func Warnf(format string, args ...interface{}) {
	Logger.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	Logger.Errorf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	Logger.Fatalf(format, args...)
}
