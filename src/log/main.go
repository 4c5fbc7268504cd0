package log

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/op/go-logging"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// The logging library being used everywhere.
var Log = Logging{
	Logger: "logrus",
}

// Stdout is reserved for the usage text and the progress line, every log
// line goes to Output.
var Output io.Writer = os.Stderr

// -----------------
// This a gologging
// -> github.com/op/go-logging

var gologging = logging.MustGetLogger("timecodes")

func ConfigureGoLogging(level string, logDirectory string, timezone *time.Location) {
	var format = logging.MustStringFormatter(
		`%{color}%{time:15:04:05.000} %{shortfunc} ▶ %{level:.4s} %{id:03x}%{color:reset} %{message}`,
	)
	var format2 = logging.MustStringFormatter(
		`%{time:15:04:05.000} %{shortfunc} ▶ %{level:.4s}  %{id:03x}%{color:reset} %{message}`,
	)
	stdBackend := logging.NewLogBackend(Output, "", 0)
	stdBackendLeveled := logging.NewBackendFormatter(stdBackend, format)
	fileBackend := logging.NewLogBackend(&lumberjack.Logger{
		Filename: filepath.Join(logDirectory, "timecodes.log"),
		MaxSize:  2,    // megabytes
		Compress: true, // disabled by default
	}, "", 0)
	fileBackendLeveled := logging.NewBackendFormatter(fileBackend, format2)
	logging.SetBackend(stdBackendLeveled, fileBackendLeveled)

	logLevel := logging.INFO
	switch level {
	case "error":
		logLevel = logging.ERROR
	case "debug":
		logLevel = logging.DEBUG
	case "fatal":
		logLevel = logging.CRITICAL
	case "warning":
		logLevel = logging.WARNING
	}
	logging.SetLevel(logLevel, "")
}

// -----------------
// This a logrus
// -> github.com/sirupsen/logrus

func ConfigureLogrus(level string, timezone *time.Location) {
	// Log as JSON instead of the default ASCII formatter.
	logrus.SetFormatter(LocalTimeZoneFormatter{
		Timezone:  timezone,
		Formatter: &logrus.JSONFormatter{},
	}) // Use local timezone for providing datetime in logs!

	logrus.SetOutput(Output)

	logLevel := logrus.InfoLevel
	if level == "error" {
		logLevel = logrus.ErrorLevel
	} else if level == "debug" {
		logLevel = logrus.DebugLevel
	} else if level == "fatal" {
		logLevel = logrus.FatalLevel
	} else if level == "warning" {
		logLevel = logrus.WarnLevel
	}
	logrus.SetLevel(logLevel)
}

type LocalTimeZoneFormatter struct {
	Timezone  *time.Location
	Formatter logrus.Formatter
}

func (u LocalTimeZoneFormatter) Format(e *logrus.Entry) ([]byte, error) {
	if u.Timezone != nil {
		e.Time = e.Time.In(u.Timezone)
	}
	return u.Formatter.Format(e)
}

type Logging struct {
	Logger string
}

func (self *Logging) Init(level string, logDirectory string, timezone *time.Location) {
	switch self.Logger {
	case "go-logging":
		ConfigureGoLogging(level, logDirectory, timezone)
	case "logrus":
		ConfigureLogrus(level, timezone)
	default:
		unknown := self.Logger
		self.Logger = "logrus"
		ConfigureLogrus(level, timezone)
		self.Warning("log.Init(): unknown log output " + unknown + ", using logrus")
	}
}

func (self *Logging) Info(sentence string) {
	switch self.Logger {
	case "go-logging":
		gologging.Info(sentence)
	case "logrus":
		logrus.Info(sentence)
	default:
	}
}

func (self *Logging) Warning(sentence string) {
	switch self.Logger {
	case "go-logging":
		gologging.Warning(sentence)
	case "logrus":
		logrus.Warn(sentence)
	default:
	}
}

func (self *Logging) Debug(sentence string) {
	switch self.Logger {
	case "go-logging":
		gologging.Debug(sentence)
	case "logrus":
		logrus.Debug(sentence)
	default:
	}
}

func (self *Logging) Error(sentence string) {
	switch self.Logger {
	case "go-logging":
		gologging.Error(sentence)
	case "logrus":
		logrus.Error(sentence)
	default:
	}
}
