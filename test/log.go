package test

import (
	"os"

	"github.com/btcsuite/btclog"
)

// log is a logger that is initialized with no output filters.  This
// means the package will not perform any logging by default until the caller
// requests it.
var (
	backendLog = btclog.NewBackend(logWriter{})
	logger     = backendLog.Logger("TEST")
)

// logWriter implements an io.Writer that outputs to standard output.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	return len(p), nil
}

// EnableLogging routes the given package loggers to standard output at the
// given level. Tests call it while debugging, e.g.
// test.EnableLogging("debug", map[string]func(btclog.Logger){
// "SWAP": swap.UseLogger}).
func EnableLogging(level string, subsystems map[string]func(btclog.Logger)) {
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		lvl = btclog.LevelInfo
	}

	logger.SetLevel(lvl)
	for tag, useLogger := range subsystems {
		l := backendLog.Logger(tag)
		l.SetLevel(lvl)
		useLogger(l)
	}
}
