package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// newCLILogger logs to the terminal for one-shot commands. Below debug it
// only shows warnings so command output stays readable.
func newCLILogger(w io.Writer, level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	if level < logrus.DebugLevel {
		level = logrus.WarnLevel
	}
	l.SetLevel(level)
	return l
}

// newFileLogger writes JSON lines to path while the console owns the
// terminal.
func newFileLogger(path string, level logrus.Level) (*logrus.Logger, func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	l := logrus.New()
	l.SetOutput(f)
	l.SetLevel(level)
	l.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "severity",
			logrus.FieldKeyMsg:   "message",
		},
		TimestampFormat: time.RFC3339Nano,
	})
	return l, f.Close, nil
}
