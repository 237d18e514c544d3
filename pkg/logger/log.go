package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

type LogStatus int

const (
	VERBOSE LogStatus = iota
	DEBUG
	INFO
	SUCCESS
	NEW
	REMOVE
	STOP
	WARNING
	ERROR
	FATAL
)

var minLoggingLevel = INFO

func (e LogStatus) String() string {
	return []string{
		"V",
		"D",
		"I",
		"✓",
		"+",
		"-",
		"X",
		"!",
		"!!",
		"PANIC",
	}[e]
}

func (e LogStatus) Color() *color.Color {
	return []*color.Color{
		color.New(color.FgWhite, color.Italic),                //Verbose
		color.New(color.FgWhite, color.Italic),                //Debug
		color.New(color.FgWhite),                              //Info
		color.New(color.FgHiGreen),                            //Success
		color.New(color.FgGreen, color.Italic),                //New
		color.New(color.FgYellow, color.Italic),               //Remove
		color.New(color.FgHiYellow),                           //Stop
		color.New(color.FgYellow, color.Underline),            //Warning
		color.New(color.FgHiRed, color.Bold),                  //Error
		color.New(color.FgHiRed, color.Bold, color.Underline), //PANIC
	}[e]
}

func (e LogStatus) Level() int { return int(e) }

// ParseLevel converts a level name (e.g. "debug", "warning") in to
// the matching LogStatus. Unknown names resolve to INFO.
func ParseLevel(name string) LogStatus {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "verbose", "trace":
		return VERBOSE
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARNING
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// SetMinLoggingLevel sets the lowest level which will be emitted by
// any logger. Messages below this level are discarded.
func SetMinLoggingLevel(level int) {
	Log.SetMinLevel(LogStatus(level))
}

type Logger interface {
	Emit(LogStatus, string, ...interface{})
	Verbosef(string, ...interface{})
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Successf(string, ...interface{})
	Warnf(string, ...interface{})
	Errorf(string, ...interface{})
	Fatalf(string, ...interface{})

	Printf(string, ...interface{})
	Print(...interface{})
	Println(...interface{})
	Fatal(...interface{})
}

type loggerImpl struct {
	name string
}

func (l *loggerImpl) Emit(status LogStatus, message string, interpolations ...interface{}) {
	Log.Emit(status, l.name, message, interpolations...)
}

func (l *loggerImpl) Verbosef(m string, i ...interface{}) { l.Emit(VERBOSE, m, i...) }
func (l *loggerImpl) Debugf(m string, i ...interface{})   { l.Emit(DEBUG, m, i...) }
func (l *loggerImpl) Infof(m string, i ...interface{})    { l.Emit(INFO, m, i...) }
func (l *loggerImpl) Successf(m string, i ...interface{}) { l.Emit(SUCCESS, m, i...) }
func (l *loggerImpl) Warnf(m string, i ...interface{})    { l.Emit(WARNING, m, i...) }
func (l *loggerImpl) Errorf(m string, i ...interface{})   { l.Emit(ERROR, m, i...) }

// Fatalf emits the message at FATAL level and exits the process.
func (l *loggerImpl) Fatalf(m string, i ...interface{}) {
	l.Emit(FATAL, m, i...)
	os.Exit(1)
}

// The methods below allow a Logger to be handed to libraries which
// expect a standard-library style logger (e.g. goose).

func (l *loggerImpl) Printf(m string, i ...interface{}) { l.Emit(INFO, m, i...) }
func (l *loggerImpl) Print(i ...interface{})            { l.Emit(INFO, "%s", fmt.Sprint(i...)) }
func (l *loggerImpl) Println(i ...interface{})          { l.Emit(INFO, "%s", fmt.Sprintln(i...)) }
func (l *loggerImpl) Fatal(i ...interface{})            { l.Fatalf("%s", fmt.Sprint(i...)) }

type LoggerManager interface {
	GetLogger(string) Logger
	Emit(LogStatus, string, string, ...interface{})
	SetMinLevel(LogStatus)
}

var Log LoggerManager = &loggerMgr{
	offset: 0,
}

type loggerMgr struct {
	sync.Mutex
	offset int
}

func (l *loggerMgr) GetLogger(name string) Logger {
	return &loggerImpl{name: name}
}

func (l *loggerMgr) SetMinLevel(level LogStatus) {
	l.Lock()
	defer l.Unlock()

	minLoggingLevel = level
}

func (l *loggerMgr) Emit(status LogStatus, name string, message string, interpolations ...interface{}) {
	l.Lock()
	defer l.Unlock()

	if status < minLoggingLevel {
		return
	}

	l.setNameOffset(len(name))
	padding := strings.Repeat(" ", l.offset-len(name))
	msg := fmt.Sprintf("[%s] %s(%s) %s", name, padding, status, fmt.Sprintf(message, interpolations...))
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}

	status.Color().Print(msg)
}

func (l *loggerMgr) setNameOffset(offset int) {
	if offset > l.offset {
		l.offset = offset
	}
}

func Get(name string) Logger {
	return Log.GetLogger(name)
}
