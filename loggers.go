package main

import (
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mbhd/hwclient-go/internal/logs"
)

func initLoggers(logfile string, verbose bool) (
	stderrWriter io.Writer, // where we write short messages to stderr (or the log file)
	stderrLogger *log.Logger, // logger for stderrWriter
	shortMemoryWriter *logs.MemoryWriter, // what we write to status page
	longMemoryWriter *logs.MemoryWriter, // what we write to detailed status file
	err error,
) {
	if logfile != "" {
		stderrWriter = &lumberjack.Logger{
			Filename:   logfile,
			MaxSize:    20, // megabytes
			MaxBackups: 3,
		}
	} else {
		stderrWriter = os.Stderr
	}

	shortMemoryWriter, err = logs.NewMemoryWriter(2000, 200, false, nil)
	if err != nil {
		return nil, nil, nil, nil, errors.Wrap(err, "writer")
	}

	stderrLogger = log.New()
	stderrLogger.SetOutput(io.MultiWriter(stderrWriter, shortMemoryWriter))
	stderrLogger.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
	if verbose {
		stderrLogger.SetLevel(log.DebugLevel)
	}

	verboseWriter := stderrWriter
	if !verbose {
		verboseWriter = nil
	}

	longMemoryWriter, err = logs.NewMemoryWriter(90000, 200, true, verboseWriter)
	if err != nil {
		return nil, nil, nil, nil, errors.Wrap(err, "writer")
	}
	return stderrWriter, stderrLogger, shortMemoryWriter, longMemoryWriter, nil
}
