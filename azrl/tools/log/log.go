package log

import "github.com/sirupsen/logrus"

type (
	Fields        = logrus.Fields
	Level         = logrus.Level
	Entry         = logrus.Entry
	Logger        = logrus.Logger
	TextFormatter = logrus.TextFormatter
	JSONFormatter = logrus.JSONFormatter
)

const (
	PanicLevel = logrus.PanicLevel
	FatalLevel = logrus.FatalLevel
	ErrorLevel = logrus.ErrorLevel
	WarnLevel  = logrus.WarnLevel
	InfoLevel  = logrus.InfoLevel
	DebugLevel = logrus.DebugLevel
	TraceLevel = logrus.TraceLevel
)

var (
	SetFormatter = logrus.SetFormatter
	SetLevel     = logrus.SetLevel
	SetOutput    = logrus.SetOutput
	GetLevel     = logrus.GetLevel
	ParseLevel   = logrus.ParseLevel
	WithField    = logrus.WithField
	WithFields   = logrus.WithFields
	WithError    = logrus.WithError

	Debug  = logrus.Debug
	Debugf = logrus.Debugf
	Info   = logrus.Info
	Infof  = logrus.Infof
	Warn   = logrus.Warn
	Warnf  = logrus.Warnf
	Error  = logrus.Error
	Errorf = logrus.Errorf
	Fatal  = logrus.Fatal
	Fatalf = logrus.Fatalf
)
