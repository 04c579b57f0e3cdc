package swap

import (
	"fmt"

	"github.com/btcsuite/btclog"
	"github.com/google/uuid"
)

// Subsystem defines the sub system name of this package.
const Subsystem = "SWAP"

// log is a logger that is initialized with no output filters.  This means the
// package will not perform any logging by default until the caller requests
// it.
var log btclog.Logger

// The default amount of logging is none.
func init() {
	UseLogger(btclog.Disabled)
}

// UseLogger uses a specified Logger to output package logging info.  This
// should be used in preference to SetLogWriter if the caller is also using
// btclog.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// OrderLog logs with a short order id prefix.
type OrderLog struct {
	// ID is the id that identifies the target order.
	ID uuid.UUID
}

// Debugf formats message according to format specifier and writes to
// log with LevelDebug.
func (s *OrderLog) Debugf(format string, params ...interface{}) {
	log.Debugf(
		fmt.Sprintf("%v %s", ShortID(s.ID), format),
		params...,
	)
}

// Infof formats message according to format specifier and writes to
// log with LevelInfo.
func (s *OrderLog) Infof(format string, params ...interface{}) {
	log.Infof(
		fmt.Sprintf("%v %s", ShortID(s.ID), format),
		params...,
	)
}

// Warnf formats message according to format specifier and writes to
// to log with LevelWarn.
func (s *OrderLog) Warnf(format string, params ...interface{}) {
	log.Warnf(
		fmt.Sprintf("%v %s", ShortID(s.ID), format),
		params...,
	)
}

// Errorf formats message according to format specifier and writes to
// to log with LevelError.
func (s *OrderLog) Errorf(format string, params ...interface{}) {
	log.Errorf(
		fmt.Sprintf("%v %s", ShortID(s.ID), format),
		params...,
	)
}
