package log

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// LogWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type LogWriter struct{}

func (LogWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if LogRotator != nil {
		LogRotator.Write(p)
	}
	return len(p), nil
}

// Loggers per subsystem.  A single backend logger is created and all
// subsystem loggers created from it write to the backend.  When adding a
// new subsystem, add its variable here and to SubsystemLoggers.
//
// Until InitLogRotator has been called, loggers write to standard output
// only; once it has, they also write to the rotated log file.
var (
	// backendLog is the logging backend used to create all subsystem
	// loggers.  It writes through LogWriter, which skips the file output
	// while LogRotator is nil.
	backendLog = btclog.NewBackend(LogWriter{})

	// LogRotator is one of the logging outputs.  It should be closed on
	// application shutdown.
	LogRotator *rotator.Rotator

	// MgrLog is the manager event loop's logger.
	MgrLog = backendLog.Logger("MGR")

	// SrchLog is the search engine's logger.
	SrchLog = backendLog.Logger("SRCH")

	// MntrLog is the tip monitor's logger.
	MntrLog = backendLog.Logger("MNTR")

	// DmonLog is the daemon client's logger.
	DmonLog = backendLog.Logger("DMON")

	// CfgLog is the configuration loader's logger.
	CfgLog = backendLog.Logger("CFG")
)

// SubsystemLoggers maps each subsystem identifier to its associated logger.
var SubsystemLoggers = map[string]btclog.Logger{
	"MGR":  MgrLog,
	"SRCH": SrchLog,
	"MNTR": MntrLog,
	"DMON": DmonLog,
	"CFG":  CfgLog,
}

// InitLogRotator initializes the logging rotator to write logs to logFile
// and create roll files in the same directory.  It must be called before
// any subsystem logger writes its first message, if file logging is
// desired at all; callers that only want stdout output may skip it.
func InitLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0700); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}

	LogRotator = r
	return nil
}

// SetLogLevel sets the logging level for the provided subsystem.  Invalid
// subsystems are ignored.
func SetLogLevel(subsystemID string, logLevel string) {
	logger, ok := SubsystemLoggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels sets the log level for all subsystem loggers to the passed
// level.
func SetLogLevels(logLevel string) {
	for subsystemID := range SubsystemLoggers {
		SetLogLevel(subsystemID, logLevel)
	}
}
