package configs

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

func init() {
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
}

// Logger exposes the shared logrus instance so main can redirect it.
func Logger() *logrus.Logger {
	return logger
}

// EnableDebug raises the log level and turns on the gated printers.
func EnableDebug() {
	ShowDebugInfo = true
	ShowWarnings = true
	ShowTestInfo = true
	logger.SetLevel(logrus.DebugLevel)
}

// TxnPrint logs a line tagged with the transaction it belongs to.
func TxnPrint(tid string, format string, a ...interface{}) {
	if ShowDebugInfo {
		logger.WithField("txn", tid).Debugf(format, a...)
	}
}

// DPrintf logs debug info when enabled.
func DPrintf(format string, a ...interface{}) {
	if ShowDebugInfo {
		logger.Debugf(format, a...)
	}
}

// TPrintf logs test-run info when enabled.
func TPrintf(format string, a ...interface{}) {
	if ShowTestInfo {
		logger.Infof(format, a...)
	}
}

// LPrintf always logs, for lifecycle events every operator wants to see.
func LPrintf(format string, a ...interface{}) {
	logger.Infof(format, a...)
}

func TimeTrack(start time.Time, name string, tid string) {
	TxnPrint(tid, "time cost for %s: %v", name, time.Since(start))
}

func JToString(v interface{}) string {
	byt, _ := json.Marshal(v)
	return string(byt)
}

func JPrint(v interface{}) {
	byt, _ := json.Marshal(v)
	fmt.Println(string(byt))
}

func Assert(cond bool, msg string) bool {
	if !cond {
		panic("[ERROR] Assert error at " + msg + "\n")
	}
	return cond
}

func Warn(cond bool, msg string) bool {
	if ShowWarnings && !cond {
		logger.Warn(msg)
	}
	return cond
}

func CheckError(err error) {
	if err != nil {
		panic(err.Error())
	}
}
