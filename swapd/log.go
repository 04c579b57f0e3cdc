package swapd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
	"github.com/swapbridge/swapbridge/chain"
	"github.com/swapbridge/swapbridge/chain/simchain"
	"github.com/swapbridge/swapbridge/enforcer"
	"github.com/swapbridge/swapbridge/fsm"
	"github.com/swapbridge/swapbridge/swap"
	"github.com/swapbridge/swapbridge/swapdb"
	"github.com/swapbridge/swapbridge/watcher"
)

// Subsystem defines the logging code for this subsystem.
const Subsystem = "SWPD"

var log = btclog.Disabled

// SetupLoggers initializes all package-global logger variables.
func SetupLoggers(root *RotatingLogWriter) {
	log = root.GenSubLogger(Subsystem)
	root.RegisterSubLogger(Subsystem, log)

	AddSubLogger(root, swap.Subsystem, swap.UseLogger)
	AddSubLogger(root, swapdb.Subsystem, swapdb.UseLogger)
	AddSubLogger(root, watcher.Subsystem, watcher.UseLogger)
	AddSubLogger(root, enforcer.Subsystem, enforcer.UseLogger)
	AddSubLogger(root, chain.Subsystem, chain.UseLogger)
	AddSubLogger(root, simchain.Subsystem, simchain.UseLogger)
	AddSubLogger(root, fsm.Subsystem, fsm.UseLogger)
}

// AddSubLogger creates a sub logger for the subsystem and hands it to the
// package's UseLogger function.
func AddSubLogger(root *RotatingLogWriter, subsystem string,
	useLogger func(btclog.Logger)) {

	logger := root.GenSubLogger(subsystem)
	root.RegisterSubLogger(subsystem, logger)
	useLogger(logger)
}

// RotatingLogWriter writes to stdout and, once initialized, to a rotating
// log file. It keeps track of all sub loggers so their levels can be set.
type RotatingLogWriter struct {
	backend *btclog.Backend

	mu         sync.Mutex
	rotator    *rotator.Rotator
	subLoggers map[string]btclog.Logger
}

// NewRotatingLogWriter creates a log writer that only writes to stdout until
// InitLogRotator is called.
func NewRotatingLogWriter() *RotatingLogWriter {
	w := &RotatingLogWriter{
		subLoggers: make(map[string]btclog.Logger),
	}
	w.backend = btclog.NewBackend(w)

	return w
}

// Write writes to stdout and to the log rotator if one is set.
func (w *RotatingLogWriter) Write(b []byte) (int, error) {
	_, _ = os.Stdout.Write(b)

	w.mu.Lock()
	r := w.rotator
	w.mu.Unlock()

	if r != nil {
		_, _ = r.Write(b)
	}

	return len(b), nil
}

// InitLogRotator initializes the log file rotator to write logs to logFile
// and create roll files in the same directory. maxLogFileSize is in MB.
func (w *RotatingLogWriter) InitLogRotator(logFile string, maxLogFileSize,
	maxLogFiles int) error {

	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	r, err := rotator.New(
		logFile, int64(maxLogFileSize*1024), false, maxLogFiles,
	)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}

	w.mu.Lock()
	w.rotator = r
	w.mu.Unlock()

	return nil
}

// Close closes the log rotator.
func (w *RotatingLogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.rotator == nil {
		return nil
	}

	err := w.rotator.Close()
	w.rotator = nil

	return err
}

// GenSubLogger creates a new sub logger for the subsystem tag.
func (w *RotatingLogWriter) GenSubLogger(tag string) btclog.Logger {
	return w.backend.Logger(tag)
}

// RegisterSubLogger remembers the logger so its level can be changed.
func (w *RotatingLogWriter) RegisterSubLogger(subsystem string,
	logger btclog.Logger) {

	w.mu.Lock()
	defer w.mu.Unlock()

	w.subLoggers[subsystem] = logger
}

// SupportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func (w *RotatingLogWriter) SupportedSubsystems() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	subsystems := make([]string, 0, len(w.subLoggers))
	for subsysID := range w.subLoggers {
		subsystems = append(subsystems, subsysID)
	}

	sort.Strings(subsystems)

	return subsystems
}

// SetLogLevel sets the logging level for the provided subsystem. Invalid
// subsystems are ignored.
func (w *RotatingLogWriter) SetLogLevel(subsystemID, logLevel string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	logger, ok := w.subLoggers[subsystemID]
	if !ok {
		return
	}

	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels sets the log level for all subsystem loggers to the passed
// level.
func (w *RotatingLogWriter) SetLogLevels(logLevel string) {
	for _, subsystemID := range w.SupportedSubsystems() {
		w.SetLogLevel(subsystemID, logLevel)
	}
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	_, ok := btclog.LevelFromString(logLevel)
	return ok
}

// ParseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly. An appropriate error is returned if anything is
// invalid. The level is either a single level for all subsystems or a comma
// separated list of <subsystem>=<level> pairs.
func ParseAndSetDebugLevels(level string, w *RotatingLogWriter) error {
	// When the specified string doesn't have any delimiters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(level, ",") && !strings.Contains(level, "=") {
		if !validLogLevel(level) {
			return fmt.Errorf("the specified debug level [%v] is "+
				"invalid", level)
		}

		w.SetLogLevels(level)

		return nil
	}

	supported := make(map[string]struct{})
	for _, subsystem := range w.SupportedSubsystems() {
		supported[subsystem] = struct{}{}
	}

	// Split the specified string into subsystem/level pairs while
	// detecting issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(level, ",") {
		if !strings.Contains(logLevelPair, "=") {
			return fmt.Errorf("the specified debug level contains "+
				"an invalid subsystem/level pair [%v]",
				logLevelPair)
		}

		fields := strings.Split(logLevelPair, "=")
		if len(fields) != 2 {
			return fmt.Errorf("the specified debug level has an "+
				"invalid format [%v] -- use format "+
				"subsystem1=level1,subsystem2=level2",
				logLevelPair)
		}

		subsysID, logLevel := fields[0], fields[1]
		if _, ok := supported[subsysID]; !ok {
			return fmt.Errorf("the specified subsystem [%v] is "+
				"invalid -- supported subsystems are %v",
				subsysID, w.SupportedSubsystems())
		}

		if !validLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%v] is "+
				"invalid", logLevel)
		}

		w.SetLogLevel(subsysID, logLevel)
	}

	return nil
}

// A compile time check to ensure RotatingLogWriter is a writer.
var _ io.Writer = (*RotatingLogWriter)(nil)
